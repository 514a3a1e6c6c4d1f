// Package launcher selects the binary to run from a cache entry and hands
// control to it.
//
// Selection honours an explicit selector, then the name buckle was invoked
// under, then declaration order. Launch prefers replacing the process; the
// spawn-and-wait fallback forwards signals and maps a signal death to
// 128+signal like a shell does.
package launcher
