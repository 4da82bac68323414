package logging

import (
	"bytes"
	"strings"
	"testing"

	clog "github.com/charmbracelet/log"
)

// TestLoggingHelpers_WriteToBuffer swaps L with a buffer-backed logger and
// checks both the helper and structured calls reach it.
func TestLoggingHelpers_WriteToBuffer(t *testing.T) {
	var buf bytes.Buffer
	prev := L
	L = clog.New(&buf)
	L.SetLevel(clog.DebugLevel)
	defer func() { L = prev }()

	Debugf("hello %s", "dbg")
	L.Info("info", "n", 1)
	L.Warn("warn")
	L.Error("err", "cause", "E")

	out := buf.String()
	for _, want := range []string{"hello dbg", "n=1", "warn", "cause=E"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in output; got: %s", want, out)
		}
	}
}

func TestConfigure_LevelAndOutput(t *testing.T) {
	var buf bytes.Buffer
	prev := L
	L = clog.New(&bytes.Buffer{})
	defer func() { L = prev }()

	Configure("warn", &buf)
	L.Info("should not appear")
	L.Warn("visible")

	out := buf.String()
	if strings.Contains(out, "should not appear") {
		t.Fatalf("info written at warn level: %s", out)
	}
	if !strings.Contains(out, "visible") {
		t.Fatalf("missing warn output; got: %s", out)
	}

	buf.Reset()
	Configure("bogus", nil)
	if L.GetLevel() != clog.InfoLevel {
		t.Fatalf("expected fallback to info, got %v", L.GetLevel())
	}
}
