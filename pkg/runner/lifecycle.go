package runner

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// Lifecycle blocks until its context ends or Stop is called, then drains
// exactly once.
type Lifecycle struct {
	state   atomic.Int32
	hooks   Hooks
	drainer Drainer
	timeout time.Duration

	banner    io.Writer
	sessionID string

	stopCh   chan struct{}
	stopOnce sync.Once
	once     sync.Once
	err      error
}

type Option func(*Lifecycle)

// WithBanner prints the banner to w when Run starts.
func WithBanner(w io.Writer, sessionID string) Option {
	return func(l *Lifecycle) {
		l.banner = w
		l.sessionID = sessionID
	}
}

func NewLifecycle(drainer Drainer, hooks Hooks, timeout time.Duration, opts ...Option) *Lifecycle {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	l := &Lifecycle{
		hooks:   hooks,
		drainer: drainer,
		timeout: timeout,
		stopCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Lifecycle) Run(ctx context.Context) error {
	if !l.state.CompareAndSwap(int32(StateNew), int32(StateStarting)) {
		return ErrStarted
	}
	if l.banner != nil {
		PrintBanner(l.banner, l.sessionID)
	}
	if l.hooks.OnStart != nil {
		l.hooks.OnStart()
	}
	l.state.Store(int32(StateRunning))
	select {
	case <-ctx.Done():
	case <-l.stopCh:
	}
	return l.drain()
}

// Stop drains now. It is safe to call before, during or after Run.
func (l *Lifecycle) Stop() error {
	l.stopOnce.Do(func() { close(l.stopCh) })
	return l.drain()
}

func (l *Lifecycle) State() State {
	return State(l.state.Load())
}

func (l *Lifecycle) drain() error {
	l.once.Do(func() {
		l.state.Store(int32(StateDraining))
		if l.drainer != nil {
			l.err = l.drainWithin()
		}
		if l.hooks.OnStop != nil {
			l.hooks.OnStop()
		}
		l.state.Store(int32(StateStopped))
	})
	return l.err
}

func (l *Lifecycle) drainWithin() error {
	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- l.drainer.Drain() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if l.hooks.OnDrainTimeout != nil {
			l.hooks.OnDrainTimeout()
		}
		return ErrDrainTimeout
	}
}

var _ Runner = (*Lifecycle)(nil)
