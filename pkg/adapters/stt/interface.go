package stt

import (
	"context"
	"errors"

	"github.com/harunnryd/viva/pkg/frames"
)

// Recognizer is the speech-to-text capability the capture adapter drives.
//
// Results carries:
//   - frames.TextFrame with MetaIsFinal "true"/"false"
//   - frames.ControlFrame ControlSpeechStarted / ControlUtteranceEnd
//   - frames.ControlFrame ControlError with MetaErrorKind
//   - frames.ControlFrame ControlClosed when the recognizer ends on its own
type Recognizer interface {
	// Name returns adapter name for logging/metrics.
	Name() string
	// Start opens the recognition stream.
	Start(ctx context.Context) error
	// Close shuts the stream down. Safe to call more than once.
	Close() error
	// SendAudio forwards one microphone chunk.
	SendAudio(frame frames.AudioFrame) error
	// Results returns transcription and control frames.
	Results() <-chan frames.Frame
}

// Factory opens a fresh recognizer for one listening window.
type Factory func(cfg Config) (Recognizer, error)

// Config contains vendor-agnostic STT configuration.
type Config struct {
	SessionID  string
	SampleRate int
	Language   string
}

// ErrUnavailable means no recognizer can be created in this environment.
var ErrUnavailable = errors.New("speech recognition unavailable")

// ErrorKind classifies recognizer errors the way browsers report them.
type ErrorKind string

const (
	ErrorKindNotAllowed        ErrorKind = "not-allowed"
	ErrorKindServiceNotAllowed ErrorKind = "service-not-allowed"
	ErrorKindAudioCapture      ErrorKind = "audio-capture"
	ErrorKindNetwork           ErrorKind = "network"
	ErrorKindNoSpeech          ErrorKind = "no-speech"
	ErrorKindAborted           ErrorKind = "aborted"
)

// Fatal reports whether the error kind means the capability is gone for
// the rest of the session.
func (k ErrorKind) Fatal() bool {
	switch k {
	case ErrorKindNotAllowed, ErrorKindServiceNotAllowed, ErrorKindAudioCapture:
		return true
	default:
		return false
	}
}
