package main

import (
	"context"
	"fmt"
	"os"

	"github.com/ZebulonRouseFrantzich/buckle/internal/config"
	"github.com/ZebulonRouseFrantzich/buckle/internal/logging"
	"github.com/ZebulonRouseFrantzich/buckle/internal/pipeline"
)

// Version will be set at build time via -ldflags
var Version = "v0.0.1-dev"

func main() {
	os.Exit(run(context.Background(), os.Args))
}

func run(ctx context.Context, args []string) int {
	env := config.ReadEnv(os.LookupEnv)
	logger := logging.Setup(env.LogLevel, os.Stderr)

	wd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "buckle: cannot determine working directory: %v\n", err)
		return pipeline.ExitUnexpected
	}

	argv0 := ""
	if len(args) > 0 {
		argv0 = args[0]
	}
	var forwarded []string
	if len(args) > 1 {
		forwarded = args[1:]
	}

	p := pipeline.New(pipeline.Options{
		WorkDir:   wd,
		Env:       env,
		Argv0:     argv0,
		UserAgent: "buckle/" + Version,
		Logger:    logger,
	})

	if flag, ok := adminFlag(forwarded, env.Script); ok {
		ctx, stop := pipeline.Interruptible(ctx)
		defer stop()
		return runAdmin(ctx, p, flag, os.Stdout)
	}

	code, err := p.Run(ctx, forwarded)
	if err != nil {
		return fail(err)
	}
	return code
}
