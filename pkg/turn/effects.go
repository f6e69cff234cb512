package turn

import (
	"time"

	"github.com/harunnryd/viva/pkg/api"
	"github.com/harunnryd/viva/pkg/capture"
	"github.com/harunnryd/viva/pkg/evaluate"
	"github.com/harunnryd/viva/pkg/session"
)

// Effect is work the reducer asks the controller to perform. Results come
// back as events tagged with the window, token or timer sequence current
// when the effect was issued.
type Effect interface {
	effectName() string
}

type Speak struct{ Text string }

type CancelSpeech struct{}

type OpenCapture struct {
	Window       uint64
	Interrupting bool
}

// StopCapture ends Window, or whatever window is open when Window is 0.
type StopCapture struct {
	Window uint64
	Intent capture.Intent
}

type ResetFallback struct{}

type Schedule struct {
	Kind  TimerKind
	Seq   uint64
	After time.Duration
}

type Evaluate struct {
	Window  uint64
	Request evaluate.Request
}

type SubmitAnswer struct{ Request api.AnswerRequest }

type SkipQuestion struct{ Request api.SkipRequest }

type Persist struct{ Snapshot session.Snapshot }

type ClearSnapshot struct{}

// Finalize closes the recording. Notify also reports the end to the
// interview service.
type Finalize struct{ Notify bool }

type ResetBargeIn struct{}

// Record emits a metrics event tagged with the session.
type Record struct {
	Name  string
	Value float64
	Tags  map[string]string
}

// Refused reports a phase change the transition table does not allow.
type Refused struct{ Err *InvalidTransitionError }

func (Speak) effectName() string         { return "speak" }
func (CancelSpeech) effectName() string  { return "cancel_speech" }
func (OpenCapture) effectName() string   { return "open_capture" }
func (StopCapture) effectName() string   { return "stop_capture" }
func (ResetFallback) effectName() string { return "reset_fallback" }
func (Schedule) effectName() string      { return "schedule" }
func (Evaluate) effectName() string      { return "evaluate" }
func (SubmitAnswer) effectName() string  { return "submit" }
func (SkipQuestion) effectName() string  { return "skip" }
func (Persist) effectName() string       { return "persist" }
func (ClearSnapshot) effectName() string { return "clear_snapshot" }
func (Finalize) effectName() string      { return "finalize" }
func (ResetBargeIn) effectName() string  { return "reset_barge_in" }
func (Record) effectName() string        { return "record" }
func (Refused) effectName() string       { return "refused" }
