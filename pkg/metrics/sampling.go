package metrics

import (
	"math"
	"sync/atomic"
)

// SamplingObserver forwards one in every 1/rate events. Used for the
// barge-in energy samples, which arrive several times a second.
type SamplingObserver struct {
	inner       Observer
	sampleEvery uint64
	counter     atomic.Uint64
}

func NewSamplingObserver(inner Observer, rate float64) *SamplingObserver {
	var every uint64
	switch {
	case rate <= 0:
		every = 0
	case rate >= 1:
		every = 1
	default:
		every = uint64(math.Round(1.0 / rate))
		if every == 0 {
			every = 1
		}
	}
	return &SamplingObserver{inner: inner, sampleEvery: every}
}

func (s *SamplingObserver) RecordEvent(ev MetricsEvent) {
	switch s.sampleEvery {
	case 0:
		return
	case 1:
		s.inner.RecordEvent(ev)
		return
	}
	if s.counter.Add(1)%s.sampleEvery == 0 {
		s.inner.RecordEvent(ev)
	}
}

// ByName routes events whose name is in names through sampled and
// everything else through rest.
type ByName struct {
	names   map[string]struct{}
	sampled Observer
	rest    Observer
}

func NewByName(sampled, rest Observer, names ...string) *ByName {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return &ByName{names: set, sampled: sampled, rest: rest}
}

func (b *ByName) RecordEvent(ev MetricsEvent) {
	if _, ok := b.names[ev.Name]; ok {
		b.sampled.RecordEvent(ev)
		return
	}
	b.rest.RecordEvent(ev)
}
