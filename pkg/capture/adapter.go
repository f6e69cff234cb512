// Package capture drives a speech-to-text recognizer for one listening
// window at a time and reports what the user said.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/harunnryd/viva/pkg/adapters/stt"
	"github.com/harunnryd/viva/pkg/audio"
	"github.com/harunnryd/viva/pkg/errorsx"
	"github.com/harunnryd/viva/pkg/frames"
	"github.com/harunnryd/viva/pkg/logging"
	"github.com/harunnryd/viva/pkg/metrics"
	"github.com/harunnryd/viva/pkg/redact"
)

var (
	ErrAlreadyOpen    = errors.New("capture already open")
	ErrSystemSpeaking = errors.New("system is speaking")
	ErrBusy           = errors.New("submission, ending or pause in progress")
	ErrFallback       = errors.New("speech capture unavailable; manual submission only")
)

type EventKind int

const (
	EventStarted EventKind = iota
	EventDelta
	EventError
	EventEnded
)

func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventDelta:
		return "delta"
	case EventError:
		return "error"
	case EventEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Intent says what a forced stop wants done with the draft.
type Intent string

const (
	IntentNone    Intent = ""
	IntentSubmit  Intent = "submit"
	IntentDiscard Intent = "discard"
)

// Event is reported for the window it belongs to. Delta carries either
// Final or Interim text. Ended is reported exactly once per window.
type Event struct {
	Kind      EventKind
	Window    uint64
	Final     string
	Interim   string
	ErrorKind stt.ErrorKind
	Fatal     bool
	Forced    bool
	Intent    Intent
	At        time.Time
}

type Sink func(Event)

// Gate is consulted before a window opens.
type Gate interface {
	SystemSpeaking() bool
	Busy() bool
}

type Config struct {
	SessionID  string
	SampleRate int
	Language   string
	// AudioBuffer is the hub subscription depth for the recognizer feed.
	AudioBuffer int
}

type Adapter struct {
	cfg      Config
	factory  stt.Factory
	hub      *audio.Hub
	gate     Gate
	sink     Sink
	logger   *slog.Logger
	observer metrics.Observer

	mu       sync.Mutex
	starting bool
	handle   *handle
	fallback bool
}

type handle struct {
	window uint64
	rec    stt.Recognizer
	sub    *audio.Subscription
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
	wg     sync.WaitGroup
}

func NewAdapter(cfg Config, factory stt.Factory, hub *audio.Hub, gate Gate, sink Sink, logger *slog.Logger, observer metrics.Observer) *Adapter {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	if cfg.AudioBuffer <= 0 {
		cfg.AudioBuffer = 64
	}
	if observer == nil {
		observer = metrics.NoopObserver{}
	}
	if sink == nil {
		sink = func(Event) {}
	}
	return &Adapter{
		cfg:      cfg,
		factory:  factory,
		hub:      hub,
		gate:     gate,
		sink:     sink,
		logger:   logging.WithSession(logging.NewComponentLogger(logger, "capture"), cfg.SessionID),
		observer: observer,
	}
}

// FallbackMode reports that recognition is gone for this session and
// answers must be submitted manually.
func (a *Adapter) FallbackMode() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fallback
}

// ResetFallback clears the sticky fallback flag for a new session.
func (a *Adapter) ResetFallback() {
	a.mu.Lock()
	a.fallback = false
	a.mu.Unlock()
}

// IsOpen reports whether a window is open or starting.
func (a *Adapter) IsOpen() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.starting || a.handle != nil
}

// Open starts recognition for window. A refused open changes nothing.
func (a *Adapter) Open(ctx context.Context, window uint64, interrupting bool) error {
	a.mu.Lock()
	switch {
	case a.fallback:
		a.mu.Unlock()
		return ErrFallback
	case a.starting || a.handle != nil:
		a.mu.Unlock()
		return ErrAlreadyOpen
	case a.gate != nil && a.gate.Busy():
		a.mu.Unlock()
		return ErrBusy
	case a.gate != nil && !interrupting && a.gate.SystemSpeaking():
		a.mu.Unlock()
		return ErrSystemSpeaking
	}
	a.starting = true
	a.mu.Unlock()

	h, err := a.start(ctx, window)
	if err == nil {
		h.wg.Add(2)
	}

	a.mu.Lock()
	a.starting = false
	if err == nil {
		a.handle = h
	}
	a.mu.Unlock()
	if err != nil {
		return err
	}

	a.logger.Info("capture_opened",
		slog.Uint64("window", window),
		slog.Bool("interrupting", interrupting),
		slog.String("recognizer", h.rec.Name()))
	a.observer.RecordEvent(metrics.Event("capture_opened", 1, a.tags("window", strconv.FormatUint(window, 10))))
	a.sink(Event{Kind: EventStarted, Window: window, At: time.Now()})

	go a.pump(h)
	go a.read(h)
	return nil
}

func (a *Adapter) start(ctx context.Context, window uint64) (*handle, error) {
	if a.factory == nil {
		a.markFallback(window, stt.ErrorKindServiceNotAllowed)
		return nil, errorsx.Wrap(stt.ErrUnavailable, errorsx.ReasonSTTUnavailable)
	}
	rec, err := a.factory(stt.Config{SessionID: a.cfg.SessionID, SampleRate: a.cfg.SampleRate, Language: a.cfg.Language})
	if err != nil {
		if errors.Is(err, stt.ErrUnavailable) {
			a.markFallback(window, stt.ErrorKindServiceNotAllowed)
			return nil, errorsx.Wrap(err, errorsx.ReasonSTTUnavailable)
		}
		return nil, errorsx.Wrap(fmt.Errorf("open recognizer: %w", err), errorsx.ReasonSTTConnect)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	hctx, cancel := context.WithCancel(ctx)
	if err := rec.Start(hctx); err != nil {
		cancel()
		_ = rec.Close()
		a.logger.Warn("capture_start_failed", slog.Uint64("window", window), slog.String("error", err.Error()))
		a.observer.RecordEvent(metrics.Event("capture_error", 1, a.tags("kind", string(stt.ErrorKindNetwork))))
		return nil, errorsx.Wrap(fmt.Errorf("start recognizer: %w", err), errorsx.ReasonSTTConnect)
	}
	h := &handle{window: window, rec: rec, ctx: hctx, cancel: cancel}
	if a.hub != nil {
		h.sub = a.hub.Subscribe("stt", a.cfg.AudioBuffer)
	}
	return h, nil
}

// Stop ends the open window on the caller's behalf. The Ended event
// carries Forced and intent. Stop with no open window is a no-op.
func (a *Adapter) Stop(intent Intent) {
	a.mu.Lock()
	h := a.handle
	a.mu.Unlock()
	if h == nil {
		return
	}
	a.finish(h, true, intent)
	h.wg.Wait()
}

// StopWindow is Stop limited to window; a newer window is left open.
func (a *Adapter) StopWindow(window uint64, intent Intent) {
	a.mu.Lock()
	h := a.handle
	a.mu.Unlock()
	if h == nil || h.window != window {
		return
	}
	a.finish(h, true, intent)
	h.wg.Wait()
}

// Close stops any open window without reporting an intent.
func (a *Adapter) Close() {
	a.Stop(IntentDiscard)
}

func (a *Adapter) finish(h *handle, forced bool, intent Intent) {
	h.once.Do(func() {
		a.mu.Lock()
		if a.handle == h {
			a.handle = nil
		}
		a.mu.Unlock()

		h.cancel()
		if h.sub != nil {
			h.sub.Close()
		}
		if err := h.rec.Close(); err != nil {
			a.logger.Debug("capture_close_error", slog.String("error", err.Error()))
		}
		a.logger.Info("capture_ended",
			slog.Uint64("window", h.window),
			slog.Bool("forced", forced),
			slog.String("intent", string(intent)))
		a.sink(Event{Kind: EventEnded, Window: h.window, Forced: forced, Intent: intent, At: time.Now()})
	})
}

func (a *Adapter) pump(h *handle) {
	defer h.wg.Done()
	if h.sub == nil {
		return
	}
	var sentBytes, rate, channels int
	warned := false
	for f := range h.sub.C() {
		if err := h.rec.SendAudio(f); err != nil {
			if !warned {
				a.logger.Warn("capture_send_failed", slog.String("error", err.Error()))
				warned = true
			}
			continue
		}
		sentBytes += len(f.RawPayload())
		rate, channels = f.Rate(), f.Channels()
	}
	if sentBytes > 0 && rate > 0 {
		if channels <= 0 {
			channels = 1
		}
		secs := float64(sentBytes) / float64(2*rate*channels)
		a.observer.RecordEvent(metrics.Event("stt_audio", secs, a.tags()))
	}
}

func (a *Adapter) read(h *handle) {
	defer h.wg.Done()
	results := h.rec.Results()
	for {
		select {
		case <-h.ctx.Done():
			return
		case f, ok := <-results:
			if !ok {
				a.finish(h, false, IntentNone)
				return
			}
			if done := a.handleFrame(h, f); done {
				return
			}
		}
	}
}

// handleFrame translates one recognizer frame. It returns true once the
// window has ended.
func (a *Adapter) handleFrame(h *handle, f frames.Frame) bool {
	switch v := f.(type) {
	case frames.TextFrame:
		ev := Event{Kind: EventDelta, Window: h.window, At: time.Now()}
		if v.IsFinal() {
			ev.Final = v.Text()
		} else {
			ev.Interim = v.Text()
		}
		a.logger.Debug("transcript_delta",
			slog.Bool("final", v.IsFinal()),
			slog.String("text", redact.Text(v.Text())))
		a.observer.RecordEvent(metrics.Event("transcript_delta", 1, a.tags("final", strconv.FormatBool(v.IsFinal()))))
		a.sink(ev)
	case frames.ControlFrame:
		switch v.Code() {
		case frames.ControlError:
			kind := stt.ErrorKind(v.Meta()[frames.MetaErrorKind])
			if kind == "" {
				kind = stt.ErrorKindNetwork
			}
			fatal := kind.Fatal()
			a.logger.Warn("capture_error",
				slog.Uint64("window", h.window),
				slog.String("kind", string(kind)),
				slog.Bool("fatal", fatal))
			a.observer.RecordEvent(metrics.Event("capture_error", 1, a.tags("kind", string(kind))))
			if fatal {
				a.mu.Lock()
				a.fallback = true
				a.mu.Unlock()
			}
			a.sink(Event{Kind: EventError, Window: h.window, ErrorKind: kind, Fatal: fatal, At: time.Now()})
			a.finish(h, false, IntentNone)
			return true
		case frames.ControlClosed:
			a.finish(h, false, IntentNone)
			return true
		case frames.ControlSpeechStarted, frames.ControlUtteranceEnd:
			a.logger.Debug("capture_vad", slog.String("code", string(v.Code())))
		}
	}
	return false
}

func (a *Adapter) markFallback(window uint64, kind stt.ErrorKind) {
	a.mu.Lock()
	a.fallback = true
	a.mu.Unlock()
	a.logger.Warn("capture_unavailable", slog.String("kind", string(kind)))
	a.observer.RecordEvent(metrics.Event("capture_error", 1, a.tags("kind", string(kind))))
	a.sink(Event{Kind: EventError, Window: window, ErrorKind: kind, Fatal: true, At: time.Now()})
}

func (a *Adapter) tags(kv ...string) map[string]string {
	out := map[string]string{"session_id": a.cfg.SessionID}
	for i := 0; i+1 < len(kv); i += 2 {
		out[kv[i]] = kv[i+1]
	}
	return out
}
