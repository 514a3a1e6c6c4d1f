package logging

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zerolog.Level
		wantErr bool
	}{
		{in: "", want: zerolog.InfoLevel},
		{in: "trace", want: zerolog.TraceLevel},
		{in: "DEBUG", want: zerolog.DebugLevel},
		{in: " warn ", want: zerolog.WarnLevel},
		{in: "warning", want: zerolog.WarnLevel},
		{in: "error", want: zerolog.ErrorLevel},
		{in: "loud", want: zerolog.InfoLevel, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSetup(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("warn", &buf)

	logger.Info().Msg("hidden")
	logger.Warn().Str("version", "2024-09-02").Msg("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "buckle")
	assert.Contains(t, out, "shown")
	assert.Contains(t, out, "version=2024-09-02")
	assert.NotContains(t, out, "\x1b[", "no colour when not writing to a terminal")
}

func TestSetup_UnknownLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("loud", &buf)

	assert.Equal(t, zerolog.InfoLevel, logger.GetLevel())
	assert.Contains(t, buf.String(), "ignoring BUCKLE_LOG")
}
