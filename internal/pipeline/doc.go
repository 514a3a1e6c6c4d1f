// Package pipeline wires buckle's components into one invocation:
//
//	config.Load → version.Resolver → template.Expand → binary.Materializer
//	  → compat.Validator → launcher.Select/Launch
//
// Every failure leaves the cache consistent; Describe turns the first
// fatal error into an exit code and a one-line remedy.
package pipeline
