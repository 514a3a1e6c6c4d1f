// Package version turns a version spec ("latest" or a literal tag) into a
// concrete, ordered version.
package version

import (
	"regexp"
	"strings"
	"time"

	"golang.org/x/mod/semver"
)

// Latest is the sentinel spec resolved against the release index.
const Latest = "latest"

// Kind ranks the shape of a version tag. Higher kinds sort after lower ones.
type Kind int

const (
	KindOther Kind = iota
	KindSemver
	KindDate
)

var datePrefix = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}`)

// Version is a resolved version token. Raw is the string used for
// templating and cache keys; the remaining fields only drive ordering.
type Version struct {
	Raw string

	kind   Kind
	date   time.Time
	semver string
	// position in the release index, 0 is the newest entry; -1 when the
	// version did not come from an index
	position int
}

// Parse classifies raw. Every string parses; unrecognised shapes are KindOther.
func Parse(raw string) Version {
	v := Version{Raw: raw, position: -1}

	if m := datePrefix.FindString(raw); m != "" {
		if d, err := time.Parse("2006-01-02", m); err == nil {
			v.kind = KindDate
			v.date = d
			return v
		}
	}

	candidate := raw
	if !strings.HasPrefix(candidate, "v") {
		candidate = "v" + candidate
	}
	if semver.IsValid(candidate) {
		v.kind = KindSemver
		v.semver = candidate
	}

	return v
}

// Kind returns the tag shape.
func (v Version) Kind() Kind {
	return v.kind
}

// String returns the raw token.
func (v Version) String() string {
	return v.Raw
}

// Compare orders versions: dates after semver tags after anything else;
// within a kind by value; remaining ties by index position, where an
// earlier entry is newer.
func Compare(a, b Version) int {
	if a.kind != b.kind {
		if a.kind < b.kind {
			return -1
		}
		return 1
	}

	switch a.kind {
	case KindDate:
		if c := a.date.Compare(b.date); c != 0 {
			return c
		}
	case KindSemver:
		if c := semver.Compare(a.semver, b.semver); c != 0 {
			return c
		}
	}

	switch {
	case a.position == b.position:
		return strings.Compare(a.Raw, b.Raw)
	case a.position < 0:
		return -1
	case b.position < 0:
		return 1
	case a.position < b.position:
		return 1
	default:
		return -1
	}
}

// Max returns the greatest version, or false for an empty slice.
func Max(versions []Version) (Version, bool) {
	if len(versions) == 0 {
		return Version{}, false
	}
	best := versions[0]
	for _, v := range versions[1:] {
		if Compare(v, best) > 0 {
			best = v
		}
	}
	return best, true
}
