package turn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/viva/pkg/api"
	"github.com/harunnryd/viva/pkg/avatar"
	"github.com/harunnryd/viva/pkg/capture"
	"github.com/harunnryd/viva/pkg/errorsx"
	"github.com/harunnryd/viva/pkg/evaluate"
	"github.com/harunnryd/viva/pkg/logging"
	"github.com/harunnryd/viva/pkg/metrics"
	"github.com/harunnryd/viva/pkg/room"
	"github.com/harunnryd/viva/pkg/session"
)

// Speech is the avatar side of the controller. Both calls return the token
// of the utterance that is now current.
type Speech interface {
	Speak(text string) uint64
	Cancel() uint64
}

type Capture interface {
	Open(ctx context.Context, window uint64, interrupting bool) error
	Stop(intent capture.Intent)
	StopWindow(window uint64, intent capture.Intent)
	ResetFallback()
}

type Evaluator interface {
	Evaluate(ctx context.Context, req evaluate.Request) *evaluate.Decision
}

// Interview is the remote interview service.
type Interview interface {
	Answer(ctx context.Context, sessionID string, req api.AnswerRequest) (api.AdvanceResponse, error)
	Skip(ctx context.Context, sessionID string, req api.SkipRequest) (api.AdvanceResponse, error)
	End(ctx context.Context, sessionID, recordingPath string) (api.EndResponse, error)
}

type Recorder interface {
	Finalize() (string, error)
}

type BargeIn interface {
	Reset()
}

// Deps are the components the controller drives. Evaluator, Recorder,
// BargeIn and Store may be nil.
type Deps struct {
	Speech    Speech
	Capture   Capture
	Evaluator Evaluator
	Interview Interview
	Recorder  Recorder
	BargeIn   BargeIn
	Store     session.Store
	// Slot is the key the snapshot is stored under.
	Slot string
}

const (
	eventBuffer  = 256
	ioTimeout    = 30 * time.Second
	drainTimeout = 10 * time.Second
)

// Controller owns the interview State. One goroutine (Run) reduces every
// event; effects that block run in their own goroutines and report back as
// events.
type Controller struct {
	reducer  Reducer
	deps     Deps
	signals  *Signals
	logger   *slog.Logger
	observer metrics.Observer
	now      func() time.Time

	events  chan Event
	stopped chan struct{}
	done    chan struct{}

	// Owned by the loop goroutine.
	ctx     context.Context
	state   State
	timers  map[TimerKind]*time.Timer
	persist chan Effect
	wg      sync.WaitGroup

	mu            sync.RWMutex
	view          View
	listeners     []StateListener
	viewListeners []ViewListener
	doneOnce      sync.Once
	stopOnce      sync.Once
}

func NewController(cfg Config, deps Deps, initial State, signals *Signals, logger *slog.Logger, observer metrics.Observer) *Controller {
	if signals == nil {
		signals = NewSignals()
	}
	if observer == nil {
		observer = metrics.NoopObserver{}
	}
	if deps.Store == nil {
		deps.Store = session.NopStore{}
	}
	if deps.Slot == "" {
		deps.Slot = initial.Session.SessionID
	}
	c := &Controller{
		reducer:  NewReducer(cfg),
		deps:     deps,
		signals:  signals,
		logger:   logging.WithSession(logging.NewComponentLogger(logger, "turn"), initial.Session.SessionID),
		observer: observer,
		now:      time.Now,
		events:   make(chan Event, eventBuffer),
		stopped:  make(chan struct{}),
		done:     make(chan struct{}),
		state:    initial,
		timers:   make(map[TimerKind]*time.Timer),
		persist:  make(chan Effect, 16),
	}
	signals.update(initial)
	c.view = NewView(initial, c.reducer.Config(), c.now())
	return c
}

func (c *Controller) AddListener(l StateListener) {
	c.mu.Lock()
	c.listeners = append(c.listeners, l)
	c.mu.Unlock()
}

func (c *Controller) AddViewListener(l ViewListener) {
	c.mu.Lock()
	c.viewListeners = append(c.viewListeners, l)
	c.mu.Unlock()
}

// Post queues ev for the loop. It never blocks once Run has returned and
// flushed.
func (c *Controller) Post(ev Event) {
	select {
	case c.events <- ev:
	case <-c.stopped:
	}
}

// Run reduces events until ctx ends or the interview is completed and
// finalized. A fresh session asks its first question; a recovered one waits
// for Resume.
func (c *Controller) Run(ctx context.Context) error {
	c.ctx = ctx
	c.wg.Add(1)
	go c.persistLoop()
	defer func() {
		c.stopTimers()
		close(c.persist)
		c.wg.Wait()
		c.stopOnce.Do(func() { close(c.stopped) })
	}()

	c.logger.Info("controller_started", slog.String("phase", c.state.Phase.String()))
	c.apply(Begin{})
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("controller_stopped", slog.String("phase", c.state.Phase.String()))
			return nil
		case <-c.done:
			c.logger.Info("controller_finished")
			return nil
		case ev := <-c.events:
			c.apply(ev)
		}
	}
}

// Done is closed once the interview is completed and the recording is
// finalized.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Drain stops a running interview for process exit and waits until the
// recording is finalized and pending snapshot writes are flushed.
func (c *Controller) Drain() error {
	c.Post(Shutdown{})
	select {
	case <-c.stopped:
		return nil
	case <-time.After(drainTimeout):
		return errors.New("turn controller drain timeout")
	}
}

func (c *Controller) View() View {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.view
}

func (c *Controller) CanEnd() bool { return c.View().CanEnd }

// Commands.
func (c *Controller) Pause()             { c.Post(Pause{}) }
func (c *Controller) Resume()            { c.Post(Resume{}) }
func (c *Controller) End()               { c.Post(End{}) }
func (c *Controller) Skip()              { c.Post(Skip{}) }
func (c *Controller) Repeat()            { c.Post(Repeat{}) }
func (c *Controller) Listen()            { c.Post(Listen{}) }
func (c *Controller) RetrySubmit()       { c.Post(RetrySubmit{}) }
func (c *Controller) Submit(text string) { c.Post(ManualSubmit{Text: text}) }

// Sinks for the components that report into the loop.
func (c *Controller) OnCapture(ev capture.Event)       { c.Post(CaptureUpdate{ev}) }
func (c *Controller) OnSpeech(ev avatar.SpeakingEvent) { c.Post(SpeechUpdate{ev}) }
func (c *Controller) OnInterrupt()                     { c.Post(Interrupt{}) }
func (c *Controller) OnAuthExpired(err error)          { c.Post(AuthExpired{Err: err}) }
func (c *Controller) OnRoomStatus(status room.Status, message string) {
	c.Post(RoomStatus{Status: status, Message: message})
}

// ParseCommand maps a UI command name to its event.
func ParseCommand(name, text string) (Event, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "pause":
		return Pause{}, nil
	case "resume":
		return Resume{}, nil
	case "end":
		return End{}, nil
	case "skip":
		return Skip{}, nil
	case "repeat":
		return Repeat{}, nil
	case "listen":
		return Listen{}, nil
	case "retry":
		return RetrySubmit{}, nil
	case "submit":
		return ManualSubmit{Text: text}, nil
	}
	return nil, fmt.Errorf("unknown command %q", name)
}

// apply reduces ev and every follow-up event its effects produce before
// the next queued event is read.
func (c *Controller) apply(ev Event) {
	queue := []Event{ev}
	for len(queue) > 0 {
		ev, queue = queue[0], queue[1:]
		prev := c.state
		next, effects := c.reducer.Reduce(prev, ev, c.now())
		c.state = next
		c.signals.update(next)
		if prev.Phase != next.Phase {
			c.changed(prev.Phase, next.Phase, ev.eventName())
		}
		for _, eff := range effects {
			if follow := c.execute(eff); follow != nil {
				queue = append(queue, follow)
			}
		}
	}
	c.publish()
	if c.state.Phase == PhaseCompleted && c.state.Finalized {
		c.doneOnce.Do(func() { close(c.done) })
	}
}

func (c *Controller) changed(from, to Phase, reason string) {
	change := StateChange{FromPhase: from, ToPhase: to, Timestamp: c.now(), Reason: reason}
	c.logger.Info("turn_state",
		slog.String("from", from.String()),
		slog.String("to", to.String()),
		slog.String("event", reason))
	c.record("turn_state", 1, map[string]string{"from": from.String(), "to": to.String(), "event": reason})
	c.mu.RLock()
	listeners := append([]StateListener(nil), c.listeners...)
	c.mu.RUnlock()
	for _, l := range listeners {
		l.OnStateChange(change)
	}
}

func (c *Controller) publish() {
	v := NewView(c.state, c.reducer.Config(), c.now())
	c.mu.Lock()
	c.view = v
	listeners := append([]ViewListener(nil), c.viewListeners...)
	c.mu.Unlock()
	for _, l := range listeners {
		l.OnView(v)
	}
}

// execute runs one effect. Speech calls return at once and yield the
// token event inline; everything that blocks reports back through Post.
func (c *Controller) execute(eff Effect) Event {
	sessionID := c.state.Session.SessionID
	switch e := eff.(type) {
	case Speak:
		if c.deps.Speech == nil {
			return nil
		}
		return SpeechIssued{Token: c.deps.Speech.Speak(e.Text)}
	case CancelSpeech:
		if c.deps.Speech == nil {
			return nil
		}
		return SpeechIssued{Token: c.deps.Speech.Cancel()}
	case OpenCapture:
		if c.deps.Capture == nil {
			return CaptureOpenFailed{Window: e.Window, Err: capture.ErrFallback}
		}
		c.spawn(func(ctx context.Context) {
			if err := c.deps.Capture.Open(ctx, e.Window, e.Interrupting); err != nil {
				c.logger.Debug("capture_open_refused",
					slog.Uint64("window", e.Window),
					slog.String("error", err.Error()))
				c.Post(CaptureOpenFailed{Window: e.Window, Err: err})
			}
		})
	case StopCapture:
		if c.deps.Capture == nil {
			return nil
		}
		c.spawn(func(context.Context) {
			if e.Window == 0 {
				c.deps.Capture.Stop(e.Intent)
				return
			}
			c.deps.Capture.StopWindow(e.Window, e.Intent)
		})
	case ResetFallback:
		if c.deps.Capture != nil {
			c.deps.Capture.ResetFallback()
		}
	case Schedule:
		c.schedule(e)
	case Evaluate:
		c.spawn(func(ctx context.Context) {
			var d *evaluate.Decision
			if c.deps.Evaluator != nil {
				ctx, cancel := context.WithTimeout(ctx, ioTimeout)
				d = c.deps.Evaluator.Evaluate(ctx, e.Request)
				cancel()
			}
			c.Post(EvaluationResult{Window: e.Window, Final: e.Request.IsFinal, Transcript: e.Request.Transcript, Decision: d})
		})
	case SubmitAnswer:
		c.spawn(func(ctx context.Context) {
			ctx, cancel := context.WithTimeout(ctx, ioTimeout)
			defer cancel()
			resp, err := c.deps.Interview.Answer(ctx, sessionID, e.Request)
			if err != nil {
				c.logger.Warn("submit_failed",
					slog.String("reason", string(errorsx.Reason(err))),
					slog.String("error", err.Error()))
			}
			c.Post(SubmitResult{Answer: e.Request.AnswerText, Resp: resp, Err: err})
		})
	case SkipQuestion:
		c.spawn(func(ctx context.Context) {
			ctx, cancel := context.WithTimeout(ctx, ioTimeout)
			defer cancel()
			resp, err := c.deps.Interview.Skip(ctx, sessionID, e.Request)
			if err != nil {
				c.logger.Warn("skip_failed",
					slog.String("reason", string(errorsx.Reason(err))),
					slog.String("error", err.Error()))
			}
			c.Post(SubmitResult{Skipped: true, Resp: resp, Err: err})
		})
	case Persist, ClearSnapshot:
		c.persist <- eff
	case Finalize:
		c.spawn(func(ctx context.Context) {
			c.Post(c.finalize(context.WithoutCancel(ctx), sessionID, e.Notify))
		})
	case ResetBargeIn:
		if c.deps.BargeIn != nil {
			c.deps.BargeIn.Reset()
		}
	case Record:
		c.record(e.Name, e.Value, e.Tags)
	case Refused:
		c.logger.Warn("turn_transition_refused", slog.String("error", e.Err.Error()))
		c.record("transition_refused", 1, map[string]string{"from": e.Err.From.String(), "to": e.Err.To.String()})
	}
	return nil
}

func (c *Controller) spawn(fn func(ctx context.Context)) {
	ctx := c.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	go fn(ctx)
}

func (c *Controller) schedule(e Schedule) {
	if t := c.timers[e.Kind]; t != nil {
		t.Stop()
	}
	c.timers[e.Kind] = time.AfterFunc(e.After, func() {
		c.Post(TimerFired{Kind: e.Kind, Seq: e.Seq})
	})
}

func (c *Controller) stopTimers() {
	for kind, t := range c.timers {
		t.Stop()
		delete(c.timers, kind)
	}
}

func (c *Controller) finalize(ctx context.Context, sessionID string, notify bool) EndResult {
	var res EndResult
	if c.deps.Recorder != nil {
		path, err := c.deps.Recorder.Finalize()
		if err != nil {
			c.logger.Warn("recording_finalize_failed", slog.String("error", err.Error()))
			res.Err = errorsx.Wrap(err, errorsx.ReasonRecording)
		}
		res.RecordingPath = path
	}
	if notify && c.deps.Interview != nil {
		ctx, cancel := context.WithTimeout(ctx, ioTimeout)
		defer cancel()
		if _, err := c.deps.Interview.End(ctx, sessionID, res.RecordingPath); err != nil {
			c.logger.Warn("session_end_failed", slog.String("error", err.Error()))
			res.Err = errors.Join(res.Err, err)
		}
	}
	c.logger.Info("session_finalized",
		slog.String("recording", res.RecordingPath),
		slog.Bool("notified", notify))
	return res
}

// persistLoop writes snapshots in order, off the loop goroutine.
func (c *Controller) persistLoop() {
	defer c.wg.Done()
	for eff := range c.persist {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(c.ctx), 5*time.Second)
		var err error
		switch e := eff.(type) {
		case Persist:
			err = c.deps.Store.Save(ctx, c.deps.Slot, e.Snapshot)
		case ClearSnapshot:
			err = c.deps.Store.Clear(ctx, c.deps.Slot)
		}
		cancel()
		if err != nil {
			c.logger.Warn("snapshot_write_failed",
				slog.String("op", eff.effectName()),
				slog.String("reason", string(errorsx.Reason(err))),
				slog.String("error", err.Error()))
		}
	}
}

func (c *Controller) record(name string, value float64, tags map[string]string) {
	out := make(map[string]string, len(tags)+1)
	for k, v := range tags {
		out[k] = v
	}
	out["session_id"] = c.state.Session.SessionID
	c.observer.RecordEvent(metrics.Event(name, value, out))
}
