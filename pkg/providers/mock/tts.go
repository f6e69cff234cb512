package mock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/harunnryd/viva/pkg/adapters/tts"
	"github.com/harunnryd/viva/pkg/frames"
)

type TTSConfig struct {
	SessionID  string
	SampleRate int
	Channels   int
	// SendErr makes SendText fail.
	SendErr error
	// Hold keeps synthesis open until Finish is called.
	Hold bool
}

// TTS emits one silent frame per utterance, bracketed by synthesis
// start and done.
type TTS struct {
	cfg     TTSConfig
	out     chan frames.Frame
	mu      sync.Mutex
	started bool
	closed  bool
	texts   []string
	flushes int
}

func NewTTS(cfg TTSConfig) *TTS {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels == 0 {
		cfg.Channels = 1
	}
	return &TTS{cfg: cfg, out: make(chan frames.Frame, 32)}
}

func (s *TTS) Name() string { return "mock_tts" }

func (s *TTS) Start(ctx context.Context) error {
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
	return nil
}

func (s *TTS) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.started = false
	close(s.out)
	return nil
}

func (s *TTS) SendText(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return errors.New("not started")
	}
	if s.cfg.SendErr != nil {
		return s.cfg.SendErr
	}
	s.texts = append(s.texts, text)
	meta := map[string]string{frames.MetaSource: "tts", frames.MetaEncoding: "pcm_s16le"}
	now := time.Now().UnixNano()
	s.push(frames.NewControlFrame(s.cfg.SessionID, now, frames.ControlSynthesisStarted, meta))
	s.push(frames.NewAudioFrame(s.cfg.SessionID, now, make([]byte, 320), s.cfg.SampleRate, s.cfg.Channels, meta))
	if !s.cfg.Hold {
		s.push(frames.NewControlFrame(s.cfg.SessionID, now, frames.ControlSynthesisDone, meta))
	}
	return nil
}

// Finish completes a held utterance.
func (s *TTS) Finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.push(frames.NewControlFrame(s.cfg.SessionID, time.Now().UnixNano(), frames.ControlSynthesisDone, map[string]string{frames.MetaSource: "tts"}))
}

func (s *TTS) Flush() {
	s.mu.Lock()
	s.flushes++
	s.mu.Unlock()
}

func (s *TTS) Results() <-chan frames.Frame { return s.out }

func (s *TTS) Texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.texts...)
}

func (s *TTS) Flushes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushes
}

func (s *TTS) push(f frames.Frame) {
	select {
	case s.out <- f:
	default:
	}
}

var _ tts.Synthesizer = (*TTS)(nil)
