package monitoring

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
)

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	called := false
	SetLogger(func(format string, v ...interface{}) {
		called = true
	})
	Logf("test message")
	if !called {
		t.Error("Custom logger was not called")
	}

	// Now set to nil and verify it doesn't call our logger
	called = false
	SetLogger(nil)
	Logf("test")
	if called {
		t.Error("No-op logger should not have triggered callback")
	}
}

func TestLogf_Default(t *testing.T) {
	if Logf == nil {
		t.Error("Logf should not be nil by default")
	}
}

func TestSetOutput(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	var buf bytes.Buffer
	SetOutput(&buf)
	Logf("round %d", 3)
	if !strings.HasSuffix(buf.String(), "round 3\n") {
		t.Errorf("unexpected output %q", buf.String())
	}

	SetOutput(nil)
	Logf("muted")
	if strings.Contains(buf.String(), "muted") {
		t.Error("nil writer should mute logging")
	}
}

func TestPrefixed(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	logf := Prefixed("fit")

	var got []string
	SetLogger(func(format string, v ...interface{}) {
		got = append(got, fmt.Sprintf(format, v...))
	})
	logf("best nll=%.2f", 1.5)

	if len(got) != 1 || got[0] != "[fit] best nll=1.50" {
		t.Errorf("got %q", got)
	}
}
