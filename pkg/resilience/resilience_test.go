package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestRetryStopsAfterAttempts(t *testing.T) {
	calls := 0
	retried := 0
	p := RetryPolicy{Attempts: 3, Interval: time.Millisecond, OnRetry: func(int, error, time.Duration) { retried++ }}
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return errors.New("down")
	})
	if err == nil {
		t.Fatalf("expected error after exhausting attempts")
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
	if retried != 2 {
		t.Fatalf("expected 2 retry callbacks, got %d", retried)
	}
}

func TestRetrySucceedsEarly(t *testing.T) {
	calls := 0
	p := NewRetryPolicy(5, time.Millisecond)
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 2 {
			return errors.New("down")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestRetryHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := RetryPolicy{Attempts: 10, Interval: time.Hour}
	err := p.Do(ctx, func(context.Context) error {
		cancel()
		return errors.New("down")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
}

func TestCircuitBreakerOpensOnRateLimits(t *testing.T) {
	now := time.Unix(100, 0)
	cb := NewCircuitBreaker(2, time.Minute)
	cb.now = func() time.Time { return now }

	cb.OnError(errors.New("plain"))
	cb.OnError(fmt.Errorf("speak: %w", RateLimitError{Provider: "avatar"}))
	if !cb.Allow() {
		t.Fatalf("expected breaker closed after one rate limit")
	}
	cb.OnError(RateLimitError{Provider: "avatar"})
	if cb.Allow() {
		t.Fatalf("expected breaker open")
	}
	now = now.Add(2 * time.Minute)
	if !cb.Allow() {
		t.Fatalf("expected breaker closed after cooldown")
	}
}
