package compat

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// DefaultTimeout bounds the artifact fetch.
const DefaultTimeout = 10 * time.Second

// Outcome of one compatibility check.
type Outcome int

const (
	Unknown Outcome = iota
	Match
	Mismatch
)

func (o Outcome) String() string {
	switch o {
	case Match:
		return "match"
	case Mismatch:
		return "mismatch"
	default:
		return "unknown"
	}
}

// Result describes a completed check.
type Result struct {
	Outcome Outcome
	// Expected is the commit published with the release.
	Expected string
	// Actual is the commit checked out locally.
	Actual string
	Path   string
	// Reason explains an Unknown outcome.
	Reason string
}

// MismatchError is returned for a Mismatch in strict mode.
type MismatchError struct {
	Tool     string
	Version  string
	Path     string
	Expected string
	Actual   string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("prelude at %s is %s, %s %s expects %s", e.Path, short(e.Actual), e.Tool, e.Version, short(e.Expected))
}

// Hint is the command that brings the checkout in line.
func (e *MismatchError) Hint() string {
	return Remediation(e.Path, e.Expected)
}

// Remediation returns the shell command that checks out expected at path.
func Remediation(path, expected string) string {
	return fmt.Sprintf("cd %s && git fetch && git checkout %s", path, expected)
}

// TextFetcher fetches a small text body. *binary.Fetcher implements it.
type TextFetcher interface {
	FetchText(ctx context.Context, url string) (string, error)
}

// Check is one validation request.
type Check struct {
	Tool        string
	Version     string
	ArtifactURL string
	Local       LocalState
}

// Validator compares a per-release artifact against local state. It is
// advisory: only a Mismatch in strict mode is an error.
type Validator struct {
	fetcher TextFetcher
	logger  zerolog.Logger
	timeout time.Duration
	strict  bool
}

// NewValidator creates a Validator.
func NewValidator(fetcher TextFetcher, strict bool, logger zerolog.Logger) *Validator {
	return &Validator{
		fetcher: fetcher,
		logger:  logger,
		timeout: DefaultTimeout,
		strict:  strict,
	}
}

// ArtifactURL returns {base}/{version}/{artifact}.
func ArtifactURL(base, version, artifact string) string {
	return strings.TrimRight(base, "/") + "/" + url.PathEscape(version) + "/" + artifact
}

// Run performs the check. Local state is inspected first so that projects
// without a checkout never touch the network.
func (v *Validator) Run(ctx context.Context, c Check) (Result, error) {
	res := Result{Path: c.Local.Path()}

	actual, err := c.Local.Commit(ctx)
	if err != nil {
		res.Reason = err.Error()
		v.logger.Debug().Err(err).Str("path", res.Path).Msg("no local checkout to compare, skipping compatibility check")
		return res, nil
	}
	res.Actual = actual

	fetchCtx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	expected, err := v.fetcher.FetchText(fetchCtx, c.ArtifactURL)
	if err != nil {
		res.Reason = err.Error()
		v.logger.Warn().Err(err).Str("url", c.ArtifactURL).Msg("prelude compatibility unknown")
		return res, nil
	}
	expected = strings.ToLower(strings.TrimSpace(expected))
	res.Expected = expected

	if expected == "" {
		res.Reason = "empty artifact"
		v.logger.Warn().Str("url", c.ArtifactURL).Msg("prelude compatibility unknown: empty artifact")
		return res, nil
	}

	if strings.EqualFold(actual, expected) {
		res.Outcome = Match
		v.logger.Debug().Str("commit", actual).Msg("prelude matches")
		return res, nil
	}

	res.Outcome = Mismatch
	mismatch := &MismatchError{
		Tool:     c.Tool,
		Version:  c.Version,
		Path:     res.Path,
		Expected: expected,
		Actual:   actual,
	}
	if v.strict {
		return res, mismatch
	}

	v.logger.Warn().Msgf("Git submodule for prelude (%s) is not the expected %s.", actual, expected)
	v.logger.Warn().Msg(mismatch.Hint())
	return res, nil
}

func short(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
