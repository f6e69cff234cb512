package observers

import (
	"log/slog"
	"sync"
	"time"

	"github.com/harunnryd/viva/pkg/metrics"
)

// LatencyObserver measures each question's milestones: asked, listening
// opened, first transcript, answer accepted. When a turn completes it logs the
// gaps and re-emits them as "latency" events into sink.
type LatencyObserver struct {
	mu    sync.Mutex
	turns map[string]*turnTrace
	log   *slog.Logger
	sink  metrics.Observer
}

type turnTrace struct {
	asked      time.Time
	listening  time.Time
	firstWords time.Time
	question   string
}

func NewLatencyObserver(log *slog.Logger, sink metrics.Observer) *LatencyObserver {
	if log == nil {
		log = slog.Default()
	}
	if sink == nil {
		sink = metrics.NoopObserver{}
	}
	return &LatencyObserver{
		turns: make(map[string]*turnTrace),
		log:   log,
		sink:  sink,
	}
}

func (o *LatencyObserver) RecordEvent(ev metrics.MetricsEvent) {
	sessionID := ev.SessionID()
	if sessionID == "" {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	switch ev.Name {
	case "question_asked":
		o.turns[sessionID] = &turnTrace{asked: ev.Time, question: ev.Tag("question_id")}
		return
	case "session_completed":
		delete(o.turns, sessionID)
		return
	}
	t := o.turns[sessionID]
	if t == nil {
		return
	}
	switch ev.Name {
	case "capture_opened":
		if t.listening.IsZero() {
			t.listening = ev.Time
		}
	case "transcript_delta":
		if t.firstWords.IsZero() {
			t.firstWords = ev.Time
		}
	case "submit":
		if ev.Tag("outcome") != "ok" {
			return
		}
		o.finishLocked(sessionID, t, ev.Time)
		delete(o.turns, sessionID)
	}
}

func (o *LatencyObserver) finishLocked(sessionID string, t *turnTrace, done time.Time) {
	stages := []struct {
		name     string
		from, to time.Time
	}{
		{"listening_open", t.asked, t.listening},
		{"first_words", t.listening, t.firstWords},
		{"answer", t.asked, done},
	}
	attrs := []any{"session_id", sessionID, "question_id", t.question}
	for _, s := range stages {
		ms := durationMs(s.from, s.to)
		attrs = append(attrs, s.name+"_ms", ms)
		if ms < 0 {
			continue
		}
		o.sink.RecordEvent(metrics.MetricsEvent{
			Name:  "latency",
			Time:  done,
			Value: float64(ms) / 1000,
			Tags:  map[string]string{"stage": s.name, "session_id": sessionID},
		})
	}
	o.log.Info("turn_latency", attrs...)
}

func durationMs(a, b time.Time) int64 {
	if a.IsZero() || b.IsZero() {
		return -1
	}
	return b.Sub(a).Milliseconds()
}
