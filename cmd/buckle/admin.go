package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/ZebulonRouseFrantzich/buckle/internal/config"
	"github.com/ZebulonRouseFrantzich/buckle/internal/pipeline"
)

// Admin flags are recognised only as the sole argument and never in
// script mode; everything else goes to the tool untouched.
const (
	flagVersion = "--buckle-version"
	flagWhich   = "--buckle-which"
	flagConfig  = "--buckle-config"
	flagHelp    = "--buckle-help"
)

func adminFlag(args []string, script bool) (string, bool) {
	if script || len(args) != 1 {
		return "", false
	}
	switch args[0] {
	case flagVersion, flagWhich, flagConfig, flagHelp:
		return args[0], true
	}
	return "", false
}

func runAdmin(ctx context.Context, p *pipeline.Pipeline, flag string, out io.Writer) int {
	switch flag {
	case flagVersion:
		fmt.Fprintf(out, "buckle %s\n", Version)
		return 0

	case flagWhich:
		prepared, err := p.Prepare(ctx)
		if err != nil {
			return fail(err)
		}
		fmt.Fprintln(out, prepared.Executable)
		return 0

	case flagConfig:
		loaded, triple, err := p.Load(ctx)
		if err != nil {
			return fail(err)
		}
		return printConfig(out, loaded, triple.Target)

	default:
		printHelp(out)
		return 0
	}
}

func printConfig(out io.Writer, loaded *config.Loaded, target string) int {
	data, err := loaded.Config.MarshalTOML()
	if err != nil {
		return fail(err)
	}
	for _, layer := range loaded.Layers {
		fmt.Fprintf(out, "# source: %s\n", layer)
	}
	if loaded.VersionOverride != "" {
		fmt.Fprintf(out, "# version overridden by %s: %s\n", config.EnvVersion, loaded.VersionOverride)
	}
	fmt.Fprintf(out, "# target: %s\n", target)
	out.Write(data)
	return 0
}

func fail(err error) int {
	code, msg := pipeline.Describe(err)
	fmt.Fprintln(os.Stderr, msg)
	return code
}

func printHelp(out io.Writer) {
	fmt.Fprintf(out, "buckle %s: runs the pinned version of buck2 (or another configured tool)\n", Version)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Usage:")
	fmt.Fprintln(out, "  buckle [tool arguments...]   Run the tool with the given arguments")
	fmt.Fprintln(out, "  buckle --buckle-version      Show the launcher version")
	fmt.Fprintln(out, "  buckle --buckle-which        Print the path of the executable that would run")
	fmt.Fprintln(out, "  buckle --buckle-config       Print the effective configuration")
	fmt.Fprintln(out, "  buckle --buckle-help         Show this help")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Environment:")
	fmt.Fprintln(out, "  BUCKLE_VERSION         version to run (overrides every file)")
	fmt.Fprintln(out, "  BUCKLE_DOWNLOAD_URL    download root")
	fmt.Fprintln(out, "  BUCKLE_CACHE           cache directory")
	fmt.Fprintln(out, "  BUCKLE_CONFIG          inline TOML configuration")
	fmt.Fprintln(out, "  BUCKLE_CONFIG_FILE     explicit configuration file")
	fmt.Fprintln(out, "  BUCKLE_BINARY          binary to run when several are declared")
	fmt.Fprintln(out, "  BUCKLE_PRELUDE_CHECK   NO disables the prelude check")
	fmt.Fprintln(out, "  BUCKLE_PRELUDE_STRICT  fail instead of warning on a prelude mismatch")
	fmt.Fprintln(out, "  BUCKLE_TARGET          target triple override")
	fmt.Fprintln(out, "  BUCKLE_SCRIPT          run as a #! interpreter")
	fmt.Fprintln(out, "  BUCKLE_NO_EXEC         spawn the tool instead of replacing the process")
	fmt.Fprintln(out, "  BUCKLE_LOG             trace, debug, info, warn or error")
}
