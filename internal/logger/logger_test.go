package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestLevelsFilterOutput(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "warn", "text")
	l.Info("hidden")
	l.Warn("shown", "domain", "issues")
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "domain=issues") {
		t.Fatalf("unexpected output %q", out)
	}

	buf.Reset()
	child := l.With("run_id", "r1")
	l.SetLevel("debug")
	child.Debug("now visible")
	if !strings.Contains(buf.String(), "run_id=r1") {
		t.Fatalf("child must share the level var: %q", buf.String())
	}
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, "info", "json").Error("boom", "attempt", 2)
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected json line: %v (%q)", err, buf.String())
	}
	if entry["msg"] != "boom" || entry["attempt"] != float64(2) {
		t.Fatalf("unexpected entry %v", entry)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("%q: expected %v, got %v", in, want, got)
		}
	}
	if Discard().Slog() == nil || NewLogger("info") == nil {
		t.Fatalf("constructors must not return nil")
	}
}
