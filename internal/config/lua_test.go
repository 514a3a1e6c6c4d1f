package config

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZebulonRouseFrantzich/buckle/internal/platform"
)

var testHost = &HostInfo{
	Info:   &platform.Info{OS: "darwin", Arch: "arm64", ArchRaw: "arm64"},
	Triple: platform.Triple{Arch: "aarch64", OS: "darwin", Target: "aarch64-apple-darwin"},
}

func TestParseLua(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want map[string]any
	}{
		{
			name: "scalars",
			src:  `buckle = { version = "2024-09-02", check_compat = false, retries = 3, ratio = 0.5 }`,
			want: map[string]any{"version": "2024-09-02", "check_compat": false, "retries": int64(3), "ratio": 0.5},
		},
		{
			name: "platform_values",
			src:  `buckle = { target = platform.target, version = platform.is_macos and "mac" or "other" }`,
			want: map[string]any{"target": "aarch64-apple-darwin", "version": "mac"},
		},
		{
			name: "when_drops_nil_entries",
			src: `buckle = { binaries = {
				platform.when(platform.is_linux, { name = "linux-only" }),
				{ name = "buck2" },
				platform.when(platform.is_arm64, { name = "arm-only" }),
			} }`,
			want: map[string]any{"binaries": []any{
				map[string]any{"name": "buck2"},
				map[string]any{"name": "arm-only"},
			}},
		},
		{
			name: "nested_tables",
			src:  `buckle = { github = { owner = "facebook", repo = "buck2" } }`,
			want: map[string]any{"github": map[string]any{"owner": "facebook", "repo": "buck2"}},
		},
		{
			name: "empty",
			src:  `buckle = {}`,
			want: map[string]any{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseLua(context.Background(), []byte(tt.src), testHost)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseLua_Errors(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		message string
	}{
		{name: "syntax", src: `buckle = {`, message: "Lua error"},
		{name: "no_table", src: `x = 1`, message: "missing or invalid 'buckle' table"},
		{name: "array_top_level", src: `buckle = { "a", "b" }`, message: "'buckle' must be a table of keys"},
		{name: "function_value", src: `buckle = { version = function() end }`, message: "unsupported value"},
		{name: "mixed_keys", src: `buckle = { binaries = { "a", name = "b" } }`, message: "unsupported value"},
		{name: "blocked_global", src: `buckle = { version = require("os") }`, message: "Lua error"},
		{name: "platform_read_only", src: `platform.os = "plan9"; buckle = {}`, message: "Lua error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseLua(context.Background(), []byte(tt.src), testHost)
			var perr *ParseError
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, tt.message, perr.Message)
			assert.NotContains(t, perr.Detail, "stack traceback")
		})
	}
}

func TestParseLua_Timeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := parseLua(ctx, []byte(`while true do end`), testHost)
	require.Error(t, err)
}

func TestParseLua_WithoutHost(t *testing.T) {
	got, err := parseLua(context.Background(), []byte(`buckle = { version = "1.0" }`), nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"version": "1.0"}, got)
}
