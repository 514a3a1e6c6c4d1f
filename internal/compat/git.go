package compat

import (
	"context"
	"errors"
	"fmt"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// Common checkout errors
var (
	ErrNotACheckout = errors.New("not a git checkout")
	ErrNoHead       = errors.New("checkout has no commit")
)

// LocalState reports the commit a project has checked out for the
// compatibility artifact to be compared against.
type LocalState interface {
	Commit(ctx context.Context) (string, error)
	Path() string
}

// Checkout is the git working tree at a fixed path, typically the prelude
// submodule. An uninitialised submodule is an empty directory and reports
// ErrNotACheckout.
type Checkout struct {
	path string
}

// NewCheckout returns the checkout rooted at path.
func NewCheckout(path string) *Checkout {
	return &Checkout{path: path}
}

// Path returns the checkout directory.
func (c *Checkout) Path() string {
	return c.path
}

// Commit returns the hash of HEAD in the checkout. Submodules whose .git is
// a gitdir file are supported.
func (c *Checkout) Commit(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("context cancelled: %w", err)
	}

	repo, err := gogit.PlainOpen(c.path)
	if errors.Is(err, gogit.ErrRepositoryNotExists) {
		return "", fmt.Errorf("%s: %w", c.path, ErrNotACheckout)
	}
	if err != nil {
		return "", fmt.Errorf("open repository: %w", err)
	}

	ref, err := repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return "", fmt.Errorf("%s: %w", c.path, ErrNoHead)
	}
	if err != nil {
		return "", fmt.Errorf("get HEAD: %w", err)
	}

	return ref.Hash().String(), nil
}
