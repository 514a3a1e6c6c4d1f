// Package template expands archive and binary name patterns such as
// "buck2-%target%.zst" into concrete strings.
package template

import (
	"fmt"
	"regexp"
	"strings"
)

// Placeholder names understood by Expand.
const (
	Version = "version"
	Target  = "target"
	Arch    = "arch"
	OS      = "os"
)

var placeholderName = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

var placeholderRef = regexp.MustCompile(`%[A-Za-z0-9_]+%`)

// Vars holds the substitution values. Extra entries add placeholders
// beyond the standard four (e.g. "archive" for verification patterns).
type Vars struct {
	Version string
	Target  string
	Arch    string
	OS      string
	Extra   map[string]string
}

func (v Vars) lookup(name string) (string, bool) {
	switch name {
	case Version:
		return v.Version, true
	case Target:
		return v.Target, true
	case Arch:
		return v.Arch, true
	case OS:
		return v.OS, true
	}
	val, ok := v.Extra[name]
	return val, ok
}

// PatternError reports malformed pattern syntax.
type PatternError struct {
	Pattern string
	Offset  int
	Reason  string
}

func (e *PatternError) Error() string {
	return fmt.Sprintf("malformed pattern %q at offset %d: %s", e.Pattern, e.Offset, e.Reason)
}

// Validate checks that every '%' is part of a %name% pair.
func Validate(pattern string) error {
	i := 0
	for {
		open := strings.IndexByte(pattern[i:], '%')
		if open < 0 {
			return nil
		}
		open += i
		closing := strings.IndexByte(pattern[open+1:], '%')
		if closing < 0 {
			return &PatternError{Pattern: pattern, Offset: open, Reason: "unterminated placeholder"}
		}
		closing += open + 1
		if !placeholderName.MatchString(pattern[open+1 : closing]) {
			return &PatternError{Pattern: pattern, Offset: open, Reason: "invalid placeholder name"}
		}
		i = closing + 1
	}
}

// Expand substitutes known placeholders. Unknown placeholders, and any
// text that does not form a valid placeholder, are copied through
// unchanged.
func Expand(pattern string, vars Vars) string {
	var b strings.Builder
	b.Grow(len(pattern))

	i := 0
	for i < len(pattern) {
		open := strings.IndexByte(pattern[i:], '%')
		if open < 0 {
			b.WriteString(pattern[i:])
			break
		}
		open += i
		b.WriteString(pattern[i:open])

		closing := strings.IndexByte(pattern[open+1:], '%')
		if closing < 0 {
			b.WriteString(pattern[open:])
			break
		}
		closing += open + 1

		name := pattern[open+1 : closing]
		if val, ok := vars.lookup(name); ok && placeholderName.MatchString(name) {
			b.WriteString(val)
			i = closing + 1
			continue
		}
		// Keep the opening '%' and rescan from the closing one so that
		// "%foo%version%" still expands %version%.
		b.WriteString(pattern[open:closing])
		i = closing
	}

	return b.String()
}

// Unresolved lists the placeholders still present in an expanded string.
func Unresolved(expanded string) []string {
	return placeholderRef.FindAllString(expanded, -1)
}
