package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ZebulonRouseFrantzich/buckle/internal/binary"
	"github.com/ZebulonRouseFrantzich/buckle/internal/cache"
	"github.com/ZebulonRouseFrantzich/buckle/internal/compat"
	"github.com/ZebulonRouseFrantzich/buckle/internal/config"
	"github.com/ZebulonRouseFrantzich/buckle/internal/launcher"
	"github.com/ZebulonRouseFrantzich/buckle/internal/version"
)

// Exit codes reserved for buckle's own failures. Any other code is the
// launched binary's.
const (
	ExitConfig      = 110
	ExitResolution  = 111
	ExitFetch       = 112
	ExitCache       = 113
	ExitCompat      = 114
	ExitLaunch      = 115
	ExitUnexpected  = 119
	ExitInterrupted = 130
)

// Describe maps a pipeline error to its exit code and a single actionable
// message: what failed, and what to try.
func Describe(err error) (int, string) {
	var (
		configErr     *config.ConfigError
		resolutionErr *version.ResolutionError
		fetchErr      *binary.FetchError
		cacheErr      *cache.CacheError
		mismatchErr   *compat.MismatchError
		launchErr     *launcher.LaunchError
	)

	switch {
	case errors.Is(err, context.Canceled):
		return ExitInterrupted, "buckle: interrupted"

	case errors.As(err, &configErr):
		return ExitConfig, message("invalid configuration", err,
			"fix the file or environment variable named above; run with --buckle-config to see the merged result")

	case errors.As(err, &resolutionErr):
		return ExitResolution, message("cannot determine which version to run", err,
			"check network access to the release index, or pin a version in .buckversion or BUCKLE_VERSION")

	case errors.As(err, &fetchErr):
		return ExitFetch, message("cannot download the tool", err, fetchHint(fetchErr))

	case errors.As(err, &cacheErr):
		return ExitCache, message("cache failure", err,
			"check permissions and free space in the cache directory, or point BUCKLE_CACHE elsewhere")

	case errors.As(err, &mismatchErr):
		return ExitCompat, message("prelude does not match the tool version", err,
			mismatchErr.Hint()+" (or unset BUCKLE_PRELUDE_STRICT to only warn)")

	case errors.As(err, &launchErr):
		return ExitLaunch, message("cannot launch the tool", err, launchHint(launchErr))

	default:
		return ExitUnexpected, message("unexpected failure", err, "")
	}
}

func message(what string, err error, hint string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "buckle: %s: %v", what, err)
	if hint != "" {
		fmt.Fprintf(&b, "\nbuckle: hint: %s", hint)
	}
	return b.String()
}

func fetchHint(err *binary.FetchError) string {
	switch err.Kind {
	case binary.KindNetwork:
		return "check network access and proxy settings, or set BUCKLE_DOWNLOAD_URL to a reachable mirror"
	case binary.KindHTTP:
		if err.StatusCode == http.StatusNotFound {
			return "no such release asset; check the version, the target triple and archive_pattern"
		}
		if err.StatusCode == http.StatusForbidden || err.StatusCode == http.StatusTooManyRequests {
			return "the server refused the request; set GITHUB_TOKEN if you are rate limited"
		}
		return "the download server rejected the request"
	case binary.KindCorrupt:
		return "the archive could not be unpacked; check package_type and the binaries paths"
	case binary.KindVerify:
		return "the archive failed verification and was discarded; do not bypass this without checking the source"
	}
	return ""
}

func launchHint(err *launcher.LaunchError) string {
	switch err.Kind {
	case launcher.KindAmbiguousBinary:
		return "set BUCKLE_BINARY to one of: " + strings.Join(err.Candidates, ", ")
	case launcher.KindUnknownBinary:
		return "set BUCKLE_BINARY to a declared binary: " + strings.Join(err.Candidates, ", ")
	case launcher.KindMissingExecutable:
		return "check the binaries paths in the configuration against the archive contents"
	}
	return ""
}
