package runner

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestRunDrainsOnceWhenContextEnds(t *testing.T) {
	var drains, started, stopped atomic.Int32
	l := NewLifecycle(DrainFunc(func() error {
		drains.Add(1)
		return nil
	}), Hooks{
		OnStart: func() { started.Add(1) },
		OnStop:  func() { stopped.Add(1) },
	}, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	deadline := time.Now().Add(time.Second)
	for l.State() != StateRunning && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := l.Stop(); err != nil {
		t.Fatalf("stop after run: %v", err)
	}
	if drains.Load() != 1 || started.Load() != 1 || stopped.Load() != 1 {
		t.Fatalf("expected one drain/start/stop, got %d/%d/%d", drains.Load(), started.Load(), stopped.Load())
	}
	if l.State() != StateStopped {
		t.Fatalf("expected stopped, got %s", l.State())
	}
}

func TestStopUnblocksRun(t *testing.T) {
	l := NewLifecycle(nil, Hooks{}, time.Second)
	done := make(chan error, 1)
	go func() { done <- l.Run(context.Background()) }()
	time.Sleep(10 * time.Millisecond)
	if err := l.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("run did not return after stop")
	}
	if err := l.Run(context.Background()); !errors.Is(err, ErrStarted) {
		t.Fatalf("expected ErrStarted on second run, got %v", err)
	}
}

func TestDrainTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	var timedOut atomic.Bool
	l := NewLifecycle(DrainFunc(func() error {
		<-release
		return nil
	}), Hooks{OnDrainTimeout: func() { timedOut.Store(true) }}, 20*time.Millisecond)

	if err := l.Stop(); !errors.Is(err, ErrDrainTimeout) {
		t.Fatalf("expected drain timeout, got %v", err)
	}
	if !timedOut.Load() {
		t.Fatalf("expected timeout hook")
	}
}

func TestDrainErrorReturned(t *testing.T) {
	boom := errors.New("boom")
	l := NewLifecycle(DrainFunc(func() error { return boom }), Hooks{}, time.Second)
	if err := l.Stop(); !errors.Is(err, boom) {
		t.Fatalf("expected drain error, got %v", err)
	}
}

func TestBannerIncludesSession(t *testing.T) {
	var buf bytes.Buffer
	l := NewLifecycle(nil, Hooks{}, time.Second, WithBanner(&buf, "sess-9"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := l.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(buf.String(), "Session: sess-9") {
		t.Fatalf("expected session in banner, got %q", buf.String())
	}
}
