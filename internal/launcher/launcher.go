package launcher

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"os/signal"

	"github.com/rs/zerolog"
)

// ExecFunc replaces the current process. It returns only on failure.
type ExecFunc func(path string, argv []string, env []string) error

// Launcher starts the selected binary with the caller's arguments.
//
// Where the platform supports it the launcher replaces itself with the
// binary, so signals, exit status and terminal ownership belong to the
// binary directly. Otherwise, or with NoExec, it spawns the binary, forwards
// interrupt and termination signals and reports the child's exit code.
type Launcher struct {
	// NoExec forces spawn-and-wait.
	NoExec bool
	// Env is the child environment; nil means os.Environ().
	Env    []string
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	exec   ExecFunc
	logger zerolog.Logger
}

// New creates a Launcher wired to the process standard streams.
func New(noExec bool, logger zerolog.Logger) *Launcher {
	return &Launcher{
		NoExec: noExec,
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		exec:   defaultExec,
		logger: logger,
	}
}

// Launch runs path with args. With process replacement a successful call
// does not return. Otherwise the returned code is the child's exit status,
// or 128+signal when a signal ended it.
func (l *Launcher) Launch(ctx context.Context, path string, args []string) (int, error) {
	env := l.Env
	if env == nil {
		env = os.Environ()
	}

	if !l.NoExec && canExec && l.exec != nil {
		argv := append([]string{path}, args...)
		l.logger.Debug().Str("path", path).Strs("args", args).Msg("exec")
		err := l.exec(path, argv, env)
		return 0, &LaunchError{Kind: KindExec, Path: path, Err: err}
	}

	return l.spawn(ctx, path, args, env)
}

func (l *Launcher) spawn(ctx context.Context, path string, args, env []string) (int, error) {
	cmd := exec.Command(path, args...)
	cmd.Env = env
	cmd.Stdin = l.Stdin
	cmd.Stdout = l.Stdout
	cmd.Stderr = l.Stderr

	signals := make(chan os.Signal, 4)
	signal.Notify(signals, forwardedSignals...)
	defer signal.Stop(signals)

	l.logger.Debug().Str("path", path).Strs("args", args).Msg("spawn")
	if err := cmd.Start(); err != nil {
		return 0, &LaunchError{Kind: KindExec, Path: path, Err: err}
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case sig := <-signals:
				l.logger.Debug().Str("signal", sig.String()).Msg("forwarding signal")
				_ = cmd.Process.Signal(sig)
			case <-ctx.Done():
				_ = cmd.Process.Kill()
				return
			case <-done:
				return
			}
		}
	}()

	err := cmd.Wait()
	close(done)

	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return 0, &LaunchError{Kind: KindExec, Path: path, Err: err}
	}
	return exitCode(cmd.ProcessState), nil
}
