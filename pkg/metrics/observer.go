package metrics

import "time"

// MetricsEvent is one observation from the turn controller or its components.
// Tags are low-cardinality labels; Fields carry free-form detail.
type MetricsEvent struct {
	Name   string
	Time   time.Time
	Value  float64
	Tags   map[string]string
	Fields map[string]any
}

type Observer interface {
	RecordEvent(ev MetricsEvent)
}

type Flusher interface {
	Flush() error
}

type NoopObserver struct{}

func (NoopObserver) RecordEvent(MetricsEvent) {}

// Event builds a MetricsEvent stamped with the current time.
func Event(name string, value float64, tags map[string]string) MetricsEvent {
	return MetricsEvent{Name: name, Time: time.Now(), Value: value, Tags: tags}
}

// Tag returns a tag value, or "" when absent.
func (ev MetricsEvent) Tag(key string) string {
	if ev.Tags == nil {
		return ""
	}
	return ev.Tags[key]
}

// SessionID is the session the event belongs to, if tagged.
func (ev MetricsEvent) SessionID() string {
	return ev.Tag("session_id")
}
