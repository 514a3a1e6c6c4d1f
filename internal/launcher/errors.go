package launcher

import (
	"fmt"
	"strings"
)

// ErrorKind classifies a LaunchError.
type ErrorKind int

const (
	KindAmbiguousBinary ErrorKind = iota + 1
	KindUnknownBinary
	KindMissingExecutable
	KindExec
)

func (k ErrorKind) String() string {
	switch k {
	case KindAmbiguousBinary:
		return "ambiguous binary"
	case KindUnknownBinary:
		return "unknown binary"
	case KindMissingExecutable:
		return "missing executable"
	case KindExec:
		return "exec"
	default:
		return "unknown"
	}
}

// LaunchError reports a failure to pick or start the binary.
type LaunchError struct {
	Kind ErrorKind
	// Binary is the selected or requested name.
	Binary string
	// Path is the executable path, when known.
	Path string
	// Candidates lists the declared binaries for selection failures.
	Candidates []string
	Err        error
}

func (e *LaunchError) Error() string {
	switch e.Kind {
	case KindAmbiguousBinary:
		return fmt.Sprintf("cannot choose between binaries %s", strings.Join(e.Candidates, ", "))
	case KindUnknownBinary:
		return fmt.Sprintf("binary %q is not declared (declared: %s)", e.Binary, strings.Join(e.Candidates, ", "))
	case KindMissingExecutable:
		if e.Err != nil {
			return fmt.Sprintf("binary %q is not executable at %s: %v", e.Binary, e.Path, e.Err)
		}
		return fmt.Sprintf("binary %q is not executable at %s", e.Binary, e.Path)
	default:
		return fmt.Sprintf("launch %s: %v", e.Path, e.Err)
	}
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}
