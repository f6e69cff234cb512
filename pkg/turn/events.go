package turn

import (
	"github.com/harunnryd/viva/pkg/api"
	"github.com/harunnryd/viva/pkg/avatar"
	"github.com/harunnryd/viva/pkg/capture"
	"github.com/harunnryd/viva/pkg/evaluate"
	"github.com/harunnryd/viva/pkg/room"
)

// Event is anything the controller loop reduces: component reports, timer
// expiries, I/O results and user commands.
type Event interface {
	eventName() string
}

// Begin asks the first question of a fresh session.
type Begin struct{}

// SpeechUpdate is an avatar delivery report.
type SpeechUpdate struct{ avatar.SpeakingEvent }

// SpeechIssued carries the token the coordinator assigned to a Speak or
// Cancel effect.
type SpeechIssued struct{ Token uint64 }

// CaptureUpdate is a speech capture report.
type CaptureUpdate struct{ capture.Event }

// CaptureOpenFailed reports that an OpenCapture effect was refused.
type CaptureOpenFailed struct {
	Window uint64
	Err    error
}

type TimerKind int

const (
	TimerSpeechStart TimerKind = iota + 1
	TimerListen
	TimerSilence
)

func (k TimerKind) String() string {
	switch k {
	case TimerSpeechStart:
		return "speech_start"
	case TimerListen:
		return "listen"
	case TimerSilence:
		return "silence"
	default:
		return "unknown"
	}
}

type TimerFired struct {
	Kind TimerKind
	Seq  uint64
}

type EvaluationResult struct {
	Window     uint64
	Final      bool
	Transcript string
	Decision   *evaluate.Decision
}

type SubmitResult struct {
	Answer  string
	Skipped bool
	Resp    api.AdvanceResponse
	Err     error
}

// EndResult reports that finalization finished.
type EndResult struct {
	RecordingPath string
	Err           error
}

// Interrupt is a barge-in from the energy monitor.
type Interrupt struct{}

type RoomStatus struct {
	Status  room.Status
	Message string
}

type AuthExpired struct{ Err error }

// Shutdown stops the interview for a process exit. The snapshot is kept so
// the session can be recovered.
type Shutdown struct{}

// User commands.
type (
	Pause        struct{}
	Resume       struct{}
	End          struct{}
	Skip         struct{}
	Repeat       struct{}
	RetrySubmit  struct{}
	Listen       struct{}
	ManualSubmit struct{ Text string }
)

func (Begin) eventName() string             { return "begin" }
func (SpeechUpdate) eventName() string      { return "speech_update" }
func (SpeechIssued) eventName() string      { return "speech_issued" }
func (e CaptureUpdate) eventName() string   { return "capture_" + e.Kind.String() }
func (CaptureOpenFailed) eventName() string { return "capture_open_failed" }
func (e TimerFired) eventName() string      { return "timer_" + e.Kind.String() }
func (EvaluationResult) eventName() string  { return "evaluation_result" }
func (SubmitResult) eventName() string      { return "submit_result" }
func (EndResult) eventName() string         { return "end_result" }
func (Interrupt) eventName() string         { return "interrupt" }
func (RoomStatus) eventName() string        { return "room_status" }
func (AuthExpired) eventName() string       { return "auth_expired" }
func (Shutdown) eventName() string          { return "shutdown" }
func (Pause) eventName() string             { return "pause" }
func (Resume) eventName() string            { return "resume" }
func (End) eventName() string               { return "end" }
func (Skip) eventName() string              { return "skip" }
func (Repeat) eventName() string            { return "repeat" }
func (RetrySubmit) eventName() string       { return "retry_submit" }
func (Listen) eventName() string            { return "listen" }
func (ManualSubmit) eventName() string      { return "manual_submit" }
