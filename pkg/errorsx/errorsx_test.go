package errorsx

import (
	"context"
	"fmt"
	"testing"
)

func TestWrapAndReason(t *testing.T) {
	err := Wrap(assertErr{}, ReasonEvaluate)
	if Reason(err) != ReasonEvaluate {
		t.Fatalf("expected reason %s, got %s", ReasonEvaluate, Reason(err))
	}
	if !HasReason(err, ReasonEvaluate) {
		t.Fatalf("expected HasReason true")
	}
}

func TestWrapPreservesExistingReason(t *testing.T) {
	first := Wrap(assertErr{}, ReasonSTTSend)
	second := Wrap(first, ReasonSubmit)
	if Reason(second) != ReasonSTTSend {
		t.Fatalf("expected reason preserved, got %s", Reason(second))
	}
}

func TestClassOf(t *testing.T) {
	if got := ClassOf(nil); got != "" {
		t.Fatalf("expected empty class for nil, got %s", got)
	}
	if got := ClassOf(assertErr{}); got != ClassTransient {
		t.Fatalf("expected transient, got %s", got)
	}
	wrapped := fmt.Errorf("submit: %w", Classify(assertErr{}, ClassAuthExpired))
	if !IsAuthExpired(wrapped) {
		t.Fatalf("expected auth expired through wrapping")
	}
	if got := ClassOf(Wrap(assertErr{}, ReasonAuthExpired)); got != ClassAuthExpired {
		t.Fatalf("expected auth expired from reason, got %s", got)
	}
	if got := ClassOf(context.DeadlineExceeded); got != ClassProviderUnavailable {
		t.Fatalf("expected provider unavailable for deadline, got %s", got)
	}
}

func TestClassifyKeepsFirstClass(t *testing.T) {
	err := Classify(Classify(assertErr{}, ClassCapabilityUnavailable), ClassTransient)
	if ClassOf(err) != ClassCapabilityUnavailable {
		t.Fatalf("expected first class kept, got %s", ClassOf(err))
	}
}

func TestReasonImpliesClass(t *testing.T) {
	if got := ClassOf(Wrap(assertErr{}, ReasonSTTPermission)); got != ClassCapabilityUnavailable {
		t.Fatalf("expected capability unavailable, got %s", got)
	}
	if got := ClassOf(Wrap(assertErr{}, ReasonSubmit)); got != ClassTransient {
		t.Fatalf("expected transient for submit, got %s", got)
	}
	if HasReason(nil, ReasonUnknown) {
		t.Fatalf("nil error carries no reason")
	}
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
