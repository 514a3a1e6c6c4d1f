//go:build unix

package launcher

import (
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

const canExec = true

var forwardedSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}

func defaultExec(path string, argv []string, env []string) error {
	return unix.Exec(path, argv, env)
}

func exitCode(ps *os.ProcessState) int {
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return ps.ExitCode()
}
