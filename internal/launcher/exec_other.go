//go:build !unix

package launcher

import (
	"errors"
	"os"
)

const canExec = false

var forwardedSignals = []os.Signal{os.Interrupt}

func defaultExec(string, []string, []string) error {
	return errors.New("process replacement is not supported on this platform")
}

func exitCode(ps *os.ProcessState) int {
	return ps.ExitCode()
}
