package tts

import (
	"context"

	"github.com/harunnryd/viva/pkg/frames"
)

// Synthesizer is the local text-to-speech capability used when no avatar
// provider delivers the question.
//
// Results carries audio frames bracketed by ControlSynthesisStarted and
// ControlSynthesisDone, or ControlError.
type Synthesizer interface {
	// Name returns adapter name for logging/metrics.
	Name() string
	// Start opens the synthesis connection.
	Start(ctx context.Context) error
	// Close shuts down the connection.
	Close() error
	// SendText synthesizes one complete utterance.
	SendText(text string) error
	// Flush stops current synthesis and drops buffered audio.
	Flush()
	// Results returns a channel of audio/control frames.
	Results() <-chan frames.Frame
}

// Config contains vendor-agnostic TTS configuration.
type Config struct {
	SessionID  string
	SampleRate int
	Channels   int
}
