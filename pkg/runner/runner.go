// Package runner runs the process until a stop signal and then drains it
// within a deadline.
package runner

import (
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/dimiro1/banner"
)

type State int32

const (
	StateNew State = iota
	StateStarting
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

type Runner interface {
	Run(ctx context.Context) error
	Stop() error
	State() State
}

type Hooks struct {
	OnStart func()
	OnStop  func()
	// OnDrainTimeout runs when the drainer outlives the deadline.
	OnDrainTimeout func()
}

type Drainer interface {
	Drain() error
}

// DrainFunc adapts a function to Drainer.
type DrainFunc func() error

func (f DrainFunc) Drain() error { return f() }

var (
	ErrDrainTimeout = errors.New("drain timeout")
	ErrStarted      = errors.New("runner already started")
)

const Version = "dev"

// PrintBanner writes the startup banner with the session it serves.
func PrintBanner(w io.Writer, sessionID string) {
	tpl := "{{ .Title \"VIVA\" \"\" 0 }}\nVersion: " + Version + "\n"
	if sessionID != "" {
		tpl += "Session: " + sessionID + "\n"
	}
	banner.Init(w, true, false, bytes.NewBufferString(tpl))
}
