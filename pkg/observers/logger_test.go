package observers

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/harunnryd/viva/pkg/metrics"
	"github.com/harunnryd/viva/pkg/redact"
)

func TestLoggerObserverLevels(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	obs := NewLoggerObserver(log)

	obs.RecordEvent(metrics.MetricsEvent{Name: "bargein_sample", Time: time.Now()})
	if buf.Len() != 0 {
		t.Fatalf("expected samples to stay at debug, got %s", buf.String())
	}
	obs.RecordEvent(metrics.MetricsEvent{Name: "submit", Time: time.Now(), Tags: map[string]string{"outcome": "ok"}})
	if !strings.Contains(buf.String(), "name=submit") || !strings.Contains(buf.String(), "outcome=ok") {
		t.Fatalf("expected submit at info, got %s", buf.String())
	}
}

func TestLoggerObserverRedacts(t *testing.T) {
	redact.SetEnabled(true)
	defer redact.SetEnabled(false)
	var buf bytes.Buffer
	obs := NewLoggerObserver(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	obs.RecordEvent(metrics.MetricsEvent{
		Name:   "transcript_delta",
		Time:   time.Now(),
		Tags:   map[string]string{"transcript": "call +62 812 3456 7890"},
		Fields: map[string]any{"text": "jane@example.com"},
	})
	out := buf.String()
	if strings.Contains(out, "3456") || strings.Contains(out, "jane@example.com") {
		t.Fatalf("expected redacted output, got %s", out)
	}
}

func TestMultiObserverAdd(t *testing.T) {
	a, b := metrics.NewMemoryObserver(), metrics.NewMemoryObserver()
	m := NewMultiObserver(a, nil)
	m.RecordEvent(metrics.Event("turn_state", 1, nil))
	m.Add(b)
	m.RecordEvent(metrics.Event("turn_state", 1, nil))
	if a.Count("turn_state") != 2 || b.Count("turn_state") != 1 {
		t.Fatalf("unexpected fan-out: a=%d b=%d", a.Count("turn_state"), b.Count("turn_state"))
	}
}
