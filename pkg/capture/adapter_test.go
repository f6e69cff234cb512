package capture

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/harunnryd/viva/pkg/adapters/stt"
	"github.com/harunnryd/viva/pkg/audio"
	"github.com/harunnryd/viva/pkg/frames"
	"github.com/harunnryd/viva/pkg/metrics"
	"github.com/harunnryd/viva/pkg/providers/mock"
)

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
	ch     chan Event
}

func newRecorder() *eventRecorder {
	return &eventRecorder{ch: make(chan Event, 64)}
}

func (r *eventRecorder) sink(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	r.ch <- ev
}

func (r *eventRecorder) waitFor(t *testing.T, kind EventKind) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-r.ch:
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", kind)
		}
	}
}

type fakeGate struct {
	speaking bool
	busy     bool
}

func (g *fakeGate) SystemSpeaking() bool { return g.speaking }
func (g *fakeGate) Busy() bool           { return g.busy }

func micFrame() frames.AudioFrame {
	return frames.NewAudioFrame("s", 0, make([]byte, 320), 16000, 1, nil)
}

func TestOpenGuards(t *testing.T) {
	gate := &fakeGate{}
	factory := mock.NewSTTFactory()
	rec := newRecorder()
	a := NewAdapter(Config{SessionID: "s"}, factory.Factory(), audio.NewHub(nil), gate, rec.sink, nil, nil)

	gate.speaking = true
	if err := a.Open(context.Background(), 1, false); !errors.Is(err, ErrSystemSpeaking) {
		t.Fatalf("expected ErrSystemSpeaking, got %v", err)
	}
	gate.speaking = false
	gate.busy = true
	if err := a.Open(context.Background(), 1, false); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	if factory.Opened() != 0 {
		t.Fatalf("refused opens must not create recognizers")
	}
	gate.busy = false

	if err := a.Open(context.Background(), 1, false); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := a.Open(context.Background(), 2, true); !errors.Is(err, ErrAlreadyOpen) {
		t.Fatalf("expected ErrAlreadyOpen, got %v", err)
	}
	if factory.Opened() != 1 {
		t.Fatalf("expected one recognizer, got %d", factory.Opened())
	}
	a.Stop(IntentDiscard)
	if a.IsOpen() {
		t.Fatalf("expected closed after stop")
	}
}

func TestInterruptingOpenIgnoresSpeaking(t *testing.T) {
	gate := &fakeGate{speaking: true}
	a := NewAdapter(Config{}, mock.NewSTTFactory().Factory(), audio.NewHub(nil), gate, nil, nil, nil)
	if err := a.Open(context.Background(), 1, true); err != nil {
		t.Fatalf("interrupting open should succeed while speaking: %v", err)
	}
	a.Close()
}

func TestDeltasAndForcedStop(t *testing.T) {
	hub := audio.NewHub(nil)
	factory := mock.NewSTTFactory(mock.Transcript("I shipped a caching layer"))
	rec := newRecorder()
	mem := metrics.NewMemoryObserver()
	a := NewAdapter(Config{SessionID: "s"}, factory.Factory(), hub, &fakeGate{}, rec.sink, nil, mem)

	if err := a.Open(context.Background(), 7, false); err != nil {
		t.Fatalf("open: %v", err)
	}
	if ev := rec.waitFor(t, EventStarted); ev.Window != 7 {
		t.Fatalf("expected window 7, got %d", ev.Window)
	}
	hub.Publish(micFrame())

	var draft Draft
	for draft.Committed == "" {
		ev := rec.waitFor(t, EventDelta)
		draft = draft.Apply(ev.Final, ev.Interim)
	}
	if draft.Merged() != "I shipped a caching layer" {
		t.Fatalf("unexpected draft %q", draft.Merged())
	}

	a.Stop(IntentSubmit)
	ended := rec.waitFor(t, EventEnded)
	if !ended.Forced || ended.Intent != IntentSubmit || ended.Window != 7 {
		t.Fatalf("unexpected ended event %+v", ended)
	}
	if hub.Subscribers() != 0 {
		t.Fatalf("expected stt subscription released, got %d", hub.Subscribers())
	}
	if mem.Count("capture_opened") != 1 {
		t.Fatalf("expected capture_opened metric")
	}
	a.Stop(IntentSubmit)
	select {
	case ev := <-rec.ch:
		t.Fatalf("unexpected event after second stop: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestFatalErrorSetsStickyFallback(t *testing.T) {
	hub := audio.NewHub(nil)
	factory := mock.NewSTTFactory([]mock.STTStep{{ErrorKind: stt.ErrorKindNotAllowed}})
	rec := newRecorder()
	a := NewAdapter(Config{}, factory.Factory(), hub, &fakeGate{}, rec.sink, nil, nil)

	if err := a.Open(context.Background(), 1, false); err != nil {
		t.Fatalf("open: %v", err)
	}
	hub.Publish(micFrame())
	ev := rec.waitFor(t, EventError)
	if !ev.Fatal || ev.ErrorKind != stt.ErrorKindNotAllowed {
		t.Fatalf("unexpected error event %+v", ev)
	}
	if ended := rec.waitFor(t, EventEnded); ended.Forced {
		t.Fatalf("expected natural end after error")
	}
	if !a.FallbackMode() {
		t.Fatalf("expected sticky fallback")
	}
	if err := a.Open(context.Background(), 2, false); !errors.Is(err, ErrFallback) {
		t.Fatalf("expected ErrFallback, got %v", err)
	}
	a.ResetFallback()
	if err := a.Open(context.Background(), 3, false); err != nil {
		t.Fatalf("expected open after reset: %v", err)
	}
	a.Close()
}

func TestUnavailableCapability(t *testing.T) {
	factory := mock.NewSTTFactory()
	factory.Fail(stt.ErrUnavailable)
	rec := newRecorder()
	a := NewAdapter(Config{}, factory.Factory(), audio.NewHub(nil), &fakeGate{}, rec.sink, nil, nil)
	if err := a.Open(context.Background(), 1, false); !errors.Is(err, stt.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if ev := rec.waitFor(t, EventError); !ev.Fatal {
		t.Fatalf("expected fatal error event")
	}
	if !a.FallbackMode() || a.IsOpen() {
		t.Fatalf("expected fallback and no open handle")
	}
}

func TestNonFatalErrorEndsWindow(t *testing.T) {
	hub := audio.NewHub(nil)
	factory := mock.NewSTTFactory([]mock.STTStep{{ErrorKind: stt.ErrorKindNoSpeech}})
	rec := newRecorder()
	a := NewAdapter(Config{}, factory.Factory(), hub, &fakeGate{}, rec.sink, nil, nil)
	_ = a.Open(context.Background(), 1, false)
	hub.Publish(micFrame())
	if ev := rec.waitFor(t, EventError); ev.Fatal {
		t.Fatalf("no-speech must not be fatal")
	}
	rec.waitFor(t, EventEnded)
	if a.FallbackMode() {
		t.Fatalf("no-speech must not enable fallback")
	}
}

func TestStopWindowLeavesNewerWindowOpen(t *testing.T) {
	rec := newRecorder()
	a := NewAdapter(Config{}, mock.NewSTTFactory().Factory(), audio.NewHub(nil), &fakeGate{}, rec.sink, nil, nil)
	if err := a.Open(context.Background(), 3, false); err != nil {
		t.Fatalf("open: %v", err)
	}
	a.StopWindow(2, IntentDiscard)
	if !a.IsOpen() {
		t.Fatalf("stale stop closed the current window")
	}
	a.StopWindow(3, IntentDiscard)
	if ended := rec.waitFor(t, EventEnded); ended.Window != 3 || ended.Intent != IntentDiscard {
		t.Fatalf("unexpected ended event %+v", ended)
	}
	if a.IsOpen() {
		t.Fatalf("expected window 3 closed")
	}
}
