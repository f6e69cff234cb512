package evaluate

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/harunnryd/viva/pkg/api"
	"github.com/harunnryd/viva/pkg/errorsx"
	"github.com/harunnryd/viva/pkg/metrics"
)

const question = "Tell me about a challenging project"

func TestHeuristic(t *testing.T) {
	cases := []struct {
		name       string
		transcript string
		listening  time.Duration
		silence    time.Duration
		final      bool
		action     Action
		confidence float64
	}{
		{"empty", "  ", 0, 0, true, ActionKeepListening, 0},
		{"echo", "tell me about a challenging project", time.Second, 2 * time.Second, true, ActionIgnoreEcho, 0.1},
		{"short after silence", "yes okay", 3 * time.Second, 1500 * time.Millisecond, false, ActionKeepListening, 0.45},
		{"complete after silence", "I shipped a caching layer for search", 5 * time.Second, 1200 * time.Millisecond, false, ActionSubmit, 0.68},
		{"complete final", "I shipped a caching layer for search", time.Second, 0, true, ActionSubmit, 0.68},
		{"still talking", "I shipped a caching layer for search", time.Second, 300 * time.Millisecond, false, ActionKeepListening, 0.45},
		{"medium", "we rebuilt the ingestion path so that every shard could be replayed from the log", time.Second, 0, true, ActionSubmit, 0.82},
		{"long window", "so the thing was hard", 31 * time.Second, 0, false, ActionSubmit, 0.72},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := Heuristic(tc.transcript, question, tc.listening, tc.silence, tc.final, 6)
			if d.Action != tc.action || d.ConfidenceHint != tc.confidence {
				t.Fatalf("got %s/%.2f, want %s/%.2f", d.Action, d.ConfidenceHint, tc.action, tc.confidence)
			}
			if d.Source != SourceHeuristic {
				t.Fatalf("expected heuristic source")
			}
		})
	}
}

func TestHeuristicLongAnswer(t *testing.T) {
	long := "one two three four five six seven eight nine ten eleven twelve thirteen fourteen fifteen sixteen seventeen eighteen nineteen twenty twentyone twentytwo twentythree twentyfour"
	if d := Heuristic(long, question, 0, 0, true, 6); d.ConfidenceHint != 0.9 || d.WordCount != 24 {
		t.Fatalf("unexpected %+v", d)
	}
}

type fakeEvaluator struct {
	resp    api.EvaluateResponse
	err     error
	calls   atomic.Int32
	block   chan struct{}
	entered chan struct{}
}

func (f *fakeEvaluator) TurnEvaluate(ctx context.Context, sessionID string, req api.EvaluateRequest) (api.EvaluateResponse, error) {
	f.calls.Add(1)
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	return f.resp, f.err
}

func TestEvaluateRemote(t *testing.T) {
	remote := &fakeEvaluator{resp: api.EvaluateResponse{Action: "submit", ConfidenceHint: 0.8, WordCount: 7}}
	mem := metrics.NewMemoryObserver()
	c := NewClient(Config{}, remote, nil, nil, mem)
	d := c.Evaluate(context.Background(), Request{SessionID: "s", Transcript: "I shipped a caching layer for search"})
	if d == nil || d.Action != ActionSubmit || d.Source != SourceRemote {
		t.Fatalf("unexpected decision %+v", d)
	}
	if mem.Count("evaluation") != 1 {
		t.Fatalf("expected evaluation metric")
	}
}

func TestEvaluateEmptyTranscriptSkipsNetwork(t *testing.T) {
	remote := &fakeEvaluator{}
	c := NewClient(Config{}, remote, nil, nil, nil)
	d := c.Evaluate(context.Background(), Request{SessionID: "s", Transcript: ""})
	if d == nil || d.Action != ActionKeepListening || remote.calls.Load() != 0 {
		t.Fatalf("expected local keep_listening without network, got %+v calls=%d", d, remote.calls.Load())
	}
}

func TestEvaluateFailureReturnsNil(t *testing.T) {
	c := NewClient(Config{}, &fakeEvaluator{err: errors.New("boom")}, nil, nil, nil)
	if d := c.Evaluate(context.Background(), Request{SessionID: "s", Transcript: "hello there"}); d != nil {
		t.Fatalf("expected nil on failure, got %+v", d)
	}
	c = NewClient(Config{}, &fakeEvaluator{resp: api.EvaluateResponse{Action: "maybe"}}, nil, nil, nil)
	if d := c.Evaluate(context.Background(), Request{SessionID: "s", Transcript: "hello there"}); d != nil {
		t.Fatalf("expected nil on unknown action, got %+v", d)
	}
}

func TestEvaluateAuthExpiredCallback(t *testing.T) {
	authErr := errorsx.Classify(errors.New("401"), errorsx.ClassAuthExpired)
	var got error
	c := NewClient(Config{}, &fakeEvaluator{err: authErr}, func(err error) { got = err }, nil, nil)
	if d := c.Evaluate(context.Background(), Request{SessionID: "s", Transcript: "hello there"}); d != nil {
		t.Fatalf("expected nil decision")
	}
	if !errorsx.IsAuthExpired(got) {
		t.Fatalf("expected auth-expired callback, got %v", got)
	}
}

func TestEvaluateOverlappingCallReturnsNil(t *testing.T) {
	remote := &fakeEvaluator{
		resp:    api.EvaluateResponse{Action: "keep_listening"},
		block:   make(chan struct{}),
		entered: make(chan struct{}, 1),
	}
	c := NewClient(Config{}, remote, nil, nil, nil)
	done := make(chan *Decision, 1)
	go func() {
		done <- c.Evaluate(context.Background(), Request{SessionID: "s", Transcript: "first answer"})
	}()
	<-remote.entered
	if d := c.Evaluate(context.Background(), Request{SessionID: "s", Transcript: "second"}); d != nil {
		t.Fatalf("expected nil for overlapping call")
	}
	close(remote.block)
	if d := <-done; d == nil || d.Action != ActionKeepListening {
		t.Fatalf("expected first call to complete, got %+v", d)
	}
	if c.Busy() {
		t.Fatalf("expected idle after completion")
	}
}
