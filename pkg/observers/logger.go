package observers

import (
	"context"
	"log/slog"
	"sync"

	"github.com/harunnryd/viva/pkg/metrics"
	"github.com/harunnryd/viva/pkg/redact"
)

// milestones are logged at info; every other event only at debug.
var milestones = map[string]bool{
	"session_started":   true,
	"session_completed": true,
	"question_asked":    true,
	"submit":            true,
	"barge_in":          true,
}

// LoggerObserver writes events as structured log lines. Free text in tags
// goes through redact first.
type LoggerObserver struct {
	log *slog.Logger
}

func NewLoggerObserver(log *slog.Logger) *LoggerObserver {
	if log == nil {
		log = slog.Default()
	}
	return &LoggerObserver{log: log}
}

func (o *LoggerObserver) RecordEvent(ev metrics.MetricsEvent) {
	level := slog.LevelDebug
	if milestones[ev.Name] {
		level = slog.LevelInfo
	}
	ctx := context.Background()
	if !o.log.Enabled(ctx, level) {
		return
	}
	attrs := make([]slog.Attr, 0, 3+len(ev.Tags)+len(ev.Fields))
	attrs = append(attrs,
		slog.String("name", ev.Name),
		slog.Time("event_time", ev.Time),
		slog.Float64("value", ev.Value),
	)
	for k, v := range redact.Tags(ev.Tags) {
		attrs = append(attrs, slog.String(k, v))
	}
	for k, v := range ev.Fields {
		if s, ok := v.(string); ok {
			v = redact.Text(s)
		}
		attrs = append(attrs, slog.Any(k, v))
	}
	o.log.LogAttrs(ctx, level, "metrics", attrs...)
}

// MultiObserver fans an event out to every registered observer. Add may be
// called while events are flowing.
type MultiObserver struct {
	mu   sync.RWMutex
	list []metrics.Observer
}

func NewMultiObserver(list ...metrics.Observer) *MultiObserver {
	return &MultiObserver{list: list}
}

func (m *MultiObserver) RecordEvent(ev metrics.MetricsEvent) {
	m.mu.RLock()
	list := m.list
	m.mu.RUnlock()
	for _, obs := range list {
		if obs != nil {
			obs.RecordEvent(ev)
		}
	}
}

func (m *MultiObserver) Add(obs metrics.Observer) {
	m.mu.Lock()
	m.list = append(m.list[:len(m.list):len(m.list)], obs)
	m.mu.Unlock()
}
