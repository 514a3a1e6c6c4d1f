package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ZebulonRouseFrantzich/buckle/internal/binary"
	"github.com/ZebulonRouseFrantzich/buckle/internal/cache"
	"github.com/ZebulonRouseFrantzich/buckle/internal/compat"
	"github.com/ZebulonRouseFrantzich/buckle/internal/config"
	"github.com/ZebulonRouseFrantzich/buckle/internal/launcher"
	"github.com/ZebulonRouseFrantzich/buckle/internal/version"
)

func TestDescribe(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantHint string
	}{
		{
			name:     "config",
			err:      &config.ConfigError{Source: ".buckleconfig.toml", Message: "cannot parse toml"},
			wantCode: ExitConfig,
			wantHint: "--buckle-config",
		},
		{
			name:     "resolution",
			err:      &version.ResolutionError{Spec: "latest", Reason: "release index unreachable"},
			wantCode: ExitResolution,
			wantHint: "BUCKLE_VERSION",
		},
		{
			name:     "network",
			err:      &binary.FetchError{Kind: binary.KindNetwork, URL: "https://example.com/a", Err: errors.New("timeout")},
			wantCode: ExitFetch,
			wantHint: "check network access",
		},
		{
			name:     "not_found",
			err:      &binary.FetchError{Kind: binary.KindHTTP, URL: "https://example.com/a", StatusCode: 404},
			wantCode: ExitFetch,
			wantHint: "archive_pattern",
		},
		{
			name:     "rate_limited",
			err:      &binary.FetchError{Kind: binary.KindHTTP, URL: "https://example.com/a", StatusCode: 403},
			wantCode: ExitFetch,
			wantHint: "GITHUB_TOKEN",
		},
		{
			name:     "verify",
			err:      &binary.FetchError{Kind: binary.KindVerify, URL: "https://example.com/a", Err: binary.ErrChecksumMismatch},
			wantCode: ExitFetch,
			wantHint: "verification",
		},
		{
			name:     "cache",
			err:      &cache.CacheError{Op: "publish", Path: "/cache", Err: errors.New("no space left on device")},
			wantCode: ExitCache,
			wantHint: "BUCKLE_CACHE",
		},
		{
			name:     "compat_strict",
			err:      &compat.MismatchError{Tool: "buck2", Version: "2024-09-02", Path: "/p", Expected: "aaa", Actual: "bbb"},
			wantCode: ExitCompat,
			wantHint: "cd /p && git fetch && git checkout aaa",
		},
		{
			name:     "launch",
			err:      &launcher.LaunchError{Kind: launcher.KindAmbiguousBinary, Candidates: []string{"a", "b"}},
			wantCode: ExitLaunch,
			wantHint: "one of: a, b",
		},
		{
			name:     "wrapped",
			err:      fmt.Errorf("prepare: %w", &config.ConfigError{Message: "bad"}),
			wantCode: ExitConfig,
		},
		{
			name:     "cancelled",
			err:      &binary.FetchError{Kind: binary.KindNetwork, URL: "https://example.com/a", Err: context.Canceled},
			wantCode: ExitInterrupted,
		},
		{
			name:     "unexpected",
			err:      errors.New("boom"),
			wantCode: ExitUnexpected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, msg := Describe(tt.err)
			assert.Equal(t, tt.wantCode, code)
			assert.Contains(t, msg, "buckle: ")
			if tt.wantHint != "" {
				assert.Contains(t, msg, "hint: ")
				assert.Contains(t, msg, tt.wantHint)
			}
		})
	}
}

func TestReleaseURL(t *testing.T) {
	assert.Equal(t, "https://h/d/2024-09-02/buck2.zst", releaseURL("https://h/d/", "2024-09-02", "buck2.zst"))
	assert.Equal(t, "https://other/sums.txt", releaseURL("https://h/d", "1.0", "https://other/sums.txt"))
}

func TestIndexToken(t *testing.T) {
	assert.Equal(t, "tok", indexToken("https://api.github.com/repos/facebook/buck2/releases", "tok"))
	assert.Empty(t, indexToken("https://mirror.example.com/releases", "tok"))
	assert.Empty(t, indexToken("https://api.github.com/repos/x/y/releases", ""))
}
