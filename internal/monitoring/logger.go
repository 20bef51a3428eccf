// Package monitoring holds the process-wide diagnostic logger.
package monitoring

import (
	"io"
	"log"
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

// SetOutput points Logf at w with the standard log flags. A nil writer
// mutes logging.
func SetOutput(w io.Writer) {
	if w == nil {
		SetLogger(nil)
		return
	}
	SetLogger(log.New(w, "", log.LstdFlags).Printf)
}

// Prefixed returns a logger that prepends "[prefix] " and forwards to
// whatever Logf is at call time, so later SetLogger calls take effect.
func Prefixed(prefix string) func(format string, v ...interface{}) {
	tag := "[" + prefix + "] "
	return func(format string, v ...interface{}) {
		Logf(tag+format, v...)
	}
}
