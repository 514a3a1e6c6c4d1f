// Package compat cross-checks a resolved tool version against project
// state.
//
// buck2 publishes, next to every release, the commit of the prelude it was
// built against. Projects that vendor the prelude as a git submodule can
// drift from it. The Validator fetches that artifact and compares it with
// the commit checked out locally.
//
// The check never blocks a launch on its own: a failed fetch or a missing
// checkout gives Unknown, and a Mismatch is a warning. Only strict mode
// turns a Mismatch into a *MismatchError.
package compat
