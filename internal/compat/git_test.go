package compat

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckout_Commit(t *testing.T) {
	dir := t.TempDir()
	repo, err := gogit.PlainInit(dir, false)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "prelude.bzl"), []byte("# prelude\n"), 0o644))
	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add("prelude.bzl")
	require.NoError(t, err)
	hash, err := wt.Commit("initial", &gogit.CommitOptions{
		Author: &object.Signature{Name: "Test", Email: "test@example.com", When: time.Now()},
	})
	require.NoError(t, err)

	got, err := NewCheckout(dir).Commit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, hash.String(), got)
}

func TestCheckout_NotACheckout(t *testing.T) {
	// An uninitialised submodule is an empty directory.
	_, err := NewCheckout(t.TempDir()).Commit(context.Background())
	assert.ErrorIs(t, err, ErrNotACheckout)

	_, err = NewCheckout(filepath.Join(t.TempDir(), "missing")).Commit(context.Background())
	assert.ErrorIs(t, err, ErrNotACheckout)
}

func TestCheckout_NoCommits(t *testing.T) {
	dir := t.TempDir()
	_, err := gogit.PlainInit(dir, false)
	require.NoError(t, err)

	_, err = NewCheckout(dir).Commit(context.Background())
	assert.ErrorIs(t, err, ErrNoHead)
}

func TestCheckout_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewCheckout(t.TempDir()).Commit(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
