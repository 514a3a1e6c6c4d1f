// Package testutil provides utilities for testing buckle in isolation.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// EnvVars lists every environment variable buckle reads. SetupTestEnv
// clears them so a developer's shell never leaks into a test.
var EnvVars = []string{
	"BUCKLE_VERSION",
	"USE_BUCK2_VERSION",
	"BUCKLE_DOWNLOAD_URL",
	"BUCKLE_PRELUDE_CHECK",
	"BUCKLE_PRELUDE_STRICT",
	"BUCKLE_CACHE",
	"BUCKLE_HOME",
	"BUCKLE_TARGET",
	"BUCKLE_CONFIG",
	"BUCKLE_CONFIG_FILE",
	"BUCKLE_SCRIPT",
	"BUCKLE_BINARY",
	"BUCKLE_NO_EXEC",
	"BUCKLE_LOG",
	"GITHUB_TOKEN",
}

// Env is the isolated directory set created by SetupTestEnv.
type Env struct {
	Root    string
	Cache   string
	Project string
}

// SetupTestEnv creates isolated test directories for each test.
// This ensures buckle tests never interfere with:
// - the user's real tool cache
// - BUCKLE_* variables exported in the developer's shell
//
// The cleanup function is automatically handled by t.TempDir() and
// t.Setenv(), so callers don't need to manually clean up.
func SetupTestEnv(t *testing.T) *Env {
	t.Helper()

	tmpDir := t.TempDir()
	env := &Env{
		Root:    tmpDir,
		Cache:   filepath.Join(tmpDir, "cache"),
		Project: filepath.Join(tmpDir, "project"),
	}

	for _, name := range EnvVars {
		t.Setenv(name, "")
		os.Unsetenv(name)
	}

	t.Setenv("XDG_CACHE_HOME", env.Cache)
	t.Setenv("HOME", filepath.Join(tmpDir, "home"))

	for _, dir := range []string{env.Cache, env.Project, filepath.Join(tmpDir, "home")} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			t.Fatalf("failed to create test directory %s: %v", dir, err)
		}
	}

	return env
}

// WriteFile writes content under dir, creating parents.
func WriteFile(t *testing.T, dir, rel, content string) string {
	t.Helper()

	path := filepath.Join(dir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("failed to create parent of %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
	return path
}
