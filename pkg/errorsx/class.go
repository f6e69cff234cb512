package errorsx

import (
	"context"
	"errors"
)

// Class buckets a failure by how the turn controller reacts to it.
type Class string

const (
	// ClassCapabilityUnavailable: a local capability (mic, recognizer) is
	// missing or denied. Sticky for the session.
	ClassCapabilityUnavailable Class = "capability_unavailable"
	// ClassTransient: network or 5xx. Degrade and continue.
	ClassTransient Class = "transient"
	// ClassProviderUnavailable: a remote speech provider refused or timed out.
	ClassProviderUnavailable Class = "provider_unavailable"
	// ClassAuthExpired is the only terminal class.
	ClassAuthExpired Class = "auth_expired"
)

// ClassifiedError carries a failure class alongside the underlying error.
type ClassifiedError struct {
	Err   error
	Class Class
}

func (e ClassifiedError) Error() string {
	if e.Err == nil {
		return string(e.Class)
	}
	return e.Err.Error()
}

func (e ClassifiedError) Unwrap() error {
	return e.Err
}

// Classify tags err with a class (no-op if err is nil or already classified).
func Classify(err error, class Class) error {
	if err == nil {
		return nil
	}
	var ce ClassifiedError
	if errors.As(err, &ce) {
		return err
	}
	return ClassifiedError{Err: err, Class: class}
}

// ClassOf returns the failure class of err. Unclassified errors and context
// deadlines are treated as transient.
func ClassOf(err error) Class {
	if err == nil {
		return ""
	}
	var ce ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class
	}
	if c := Reason(err).Class(); c != "" {
		return c
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassProviderUnavailable
	}
	return ClassTransient
}

// IsAuthExpired reports whether err should end the session.
func IsAuthExpired(err error) bool {
	return ClassOf(err) == ClassAuthExpired
}
