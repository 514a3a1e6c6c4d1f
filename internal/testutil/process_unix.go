//go:build unix

package testutil

import (
	"os/exec"
	"testing"

	"github.com/stretchr/testify/require"
)

// ExitedPID returns the pid of a child that has already exited and been
// reaped.
func ExitedPID(t *testing.T) int {
	t.Helper()
	cmd := exec.Command("true")
	require.NoError(t, cmd.Run())
	return cmd.Process.Pid
}
