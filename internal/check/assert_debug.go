//go:build debug

// Package check provides assertions that are compiled in only for debug
// builds (go build -tags debug).
package check

import "fmt"

// Assert panics if cond is false.
func Assert(cond bool, msg string) {
	if !cond {
		panic("poolnet: assertion failed: " + msg)
	}
}

// Assertf panics with a formatted message if cond is false.
func Assertf(cond bool, format string, args ...any) {
	if !cond {
		panic("poolnet: assertion failed: " + fmt.Sprintf(format, args...))
	}
}

// Enabled reports whether assertions are compiled in.
func Enabled() bool { return true }
