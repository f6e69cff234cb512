package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestComponentAndSessionAttrs(t *testing.T) {
	var buf bytes.Buffer
	base := newLogger(&buf, slog.LevelInfo, "json")
	log := WithSession(NewComponentLogger(base, "capture"), "sess-1")
	log.Info("capture_opened")

	out := buf.String()
	if !strings.Contains(out, `"component":"capture"`) {
		t.Fatalf("expected component attr, got %s", out)
	}
	if !strings.Contains(out, `"session_id":"sess-1"`) {
		t.Fatalf("expected session attr, got %s", out)
	}
}
