package mock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harunnryd/viva/pkg/adapters/stt"
	"github.com/harunnryd/viva/pkg/frames"
)

// STTStep is one scripted recognizer result. Exactly one of Text, Control
// or ErrorKind is expected to be set.
type STTStep struct {
	Text      string
	Final     bool
	Control   frames.ControlCode
	ErrorKind stt.ErrorKind
}

type STTConfig struct {
	SessionID string
	// Script is replayed once, on the first audio chunk after Start.
	Script []STTStep
	// StartErr makes Start fail.
	StartErr error
}

// Transcript scripts a plain answer: speech start, an interim, the final
// text and an utterance end.
func Transcript(text string) []STTStep {
	return []STTStep{
		{Control: frames.ControlSpeechStarted},
		{Text: text},
		{Text: text, Final: true},
		{Control: frames.ControlUtteranceEnd},
	}
}

type STT struct {
	cfg     STTConfig
	out     chan frames.Frame
	mu      sync.Mutex
	started bool
	closed  bool
	played  bool
	chunks  int
}

func NewSTT(cfg STTConfig) *STT {
	return &STT{cfg: cfg, out: make(chan frames.Frame, 32)}
}

func (s *STT) Name() string { return "mock_stt" }

func (s *STT) Start(ctx context.Context) error {
	if s.cfg.StartErr != nil {
		return s.cfg.StartErr
	}
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
	return nil
}

func (s *STT) Close() error {
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

func (s *STT) SendAudio(frame frames.AudioFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return errors.New("not started")
	}
	s.chunks++
	if s.played {
		return nil
	}
	s.played = true
	for _, step := range s.cfg.Script {
		s.emitLocked(step)
	}
	return nil
}

// Emit pushes one extra step, as if the recognizer produced it now.
func (s *STT) Emit(step STTStep) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.emitLocked(step)
}

// Chunks reports how many audio chunks were forwarded.
func (s *STT) Chunks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chunks
}

func (s *STT) Results() <-chan frames.Frame { return s.out }

func (s *STT) emitLocked(step STTStep) {
	now := time.Now().UnixNano()
	meta := map[string]string{frames.MetaSource: "stt"}
	switch {
	case step.ErrorKind != "":
		meta[frames.MetaErrorKind] = string(step.ErrorKind)
		s.push(frames.NewControlFrame(s.cfg.SessionID, now, frames.ControlError, meta))
	case step.Control != "":
		s.push(frames.NewControlFrame(s.cfg.SessionID, now, step.Control, meta))
	default:
		if step.Final {
			meta[frames.MetaIsFinal] = "true"
		} else {
			meta[frames.MetaIsFinal] = "false"
		}
		s.push(frames.NewTextFrame(s.cfg.SessionID, now, step.Text, meta))
	}
}

func (s *STT) push(f frames.Frame) {
	select {
	case s.out <- f:
	default:
	}
}

// STTFactory hands out one scripted recognizer per listening window. Each
// window takes the next script; once they run out, recognizers stay silent.
type STTFactory struct {
	mu      sync.Mutex
	scripts [][]STTStep
	opened  atomic.Int32
	last    *STT
	err     error
}

func NewSTTFactory(scripts ...[]STTStep) *STTFactory {
	return &STTFactory{scripts: scripts}
}

// Fail makes every later Open return err.
func (f *STTFactory) Fail(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *STTFactory) Open(cfg stt.Config) (stt.Recognizer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var script []STTStep
	if len(f.scripts) > 0 {
		script = f.scripts[0]
		f.scripts = f.scripts[1:]
	}
	f.opened.Add(1)
	f.last = NewSTT(STTConfig{SessionID: cfg.SessionID, Script: script})
	return f.last, nil
}

// Factory adapts Open to stt.Factory.
func (f *STTFactory) Factory() stt.Factory { return f.Open }

func (f *STTFactory) Opened() int { return int(f.opened.Load()) }

// Last returns the most recently opened recognizer.
func (f *STTFactory) Last() *STT {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

var _ stt.Recognizer = (*STT)(nil)
