// Package logging builds the zerolog logger shared by buckle's components.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

// Component tags every line so buckle's output stands apart from the
// launched tool's.
const Component = "buckle"

// DefaultLevel applies when BUCKLE_LOG is unset.
const DefaultLevel = zerolog.InfoLevel

// ParseLevel maps a BUCKLE_LOG value to a level. Empty means DefaultLevel.
func ParseLevel(s string) (zerolog.Level, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return DefaultLevel, nil
	}
	if s == "warning" {
		s = "warn"
	}
	level, err := zerolog.ParseLevel(s)
	if err != nil || level == zerolog.NoLevel {
		return DefaultLevel, fmt.Errorf("unknown log level %q", s)
	}
	return level, nil
}

// Setup returns a console logger writing to w at level. Colour is enabled
// only when w is a terminal. An unknown level falls back to DefaultLevel
// and is reported on the returned logger.
func Setup(level string, w io.Writer) zerolog.Logger {
	lvl, err := ParseLevel(level)

	console := zerolog.ConsoleWriter{
		Out:           w,
		NoColor:       !isTerminal(w),
		PartsOrder:    []string{"component", zerolog.LevelFieldName, zerolog.MessageFieldName},
		FieldsExclude: []string{"component"},
	}
	if lvl <= zerolog.DebugLevel {
		console.PartsOrder = append([]string{zerolog.TimestampFieldName}, console.PartsOrder...)
		console.TimeFormat = "15:04:05.000"
	}

	logger := zerolog.New(console).Level(lvl).With().Timestamp().Str("component", Component).Logger()
	if err != nil {
		logger.Warn().Err(err).Msg("ignoring BUCKLE_LOG")
	}
	return logger
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
