// Package monitoring holds the diagnostic logger shared by the tuner, the
// simulator oracle and the run store.
package monitoring

import (
	"fmt"
	"log"
	"strings"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Tagged returns a logger that prefixes every line with "[tag] " and writes
// through whatever Logf is at call time.
func Tagged(tag string) func(format string, v ...interface{}) {
	prefix := "[" + strings.TrimSpace(tag) + "] "
	return func(format string, v ...interface{}) {
		Logf(prefix+format, v...)
	}
}

// Capture redirects Logf into a slice until the returned restore func is
// called. It is meant for tests that assert on diagnostics.
func Capture() (lines *[]string, restore func()) {
	original := Logf
	var out []string
	Logf = func(format string, v ...interface{}) {
		out = append(out, fmt.Sprintf(format, v...))
	}
	return &out, func() { Logf = original }
}
