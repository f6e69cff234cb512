package turn

import (
	"errors"
	"strings"
	"time"

	"github.com/harunnryd/viva/pkg/adapters/stt"
	"github.com/harunnryd/viva/pkg/api"
	"github.com/harunnryd/viva/pkg/avatar"
	"github.com/harunnryd/viva/pkg/capture"
	"github.com/harunnryd/viva/pkg/echofilter"
	"github.com/harunnryd/viva/pkg/errorsx"
	"github.com/harunnryd/viva/pkg/evaluate"
	"github.com/harunnryd/viva/pkg/session"
)

// User-facing status strings.
const (
	statusFallback     = "Microphone unavailable. Type your answer and submit."
	statusRetryCapture = "Speech recognition unavailable, retrying"
	statusEcho         = "Ignoring the question audio"
	statusEmpty        = "Nothing to submit yet"
	statusInFlight     = "Still submitting your answer"
	statusDuplicate    = "Answer already submitted"
	statusSubmitFailed = "Could not submit your answer. Retry or keep talking."
	statusSkipFailed   = "Could not skip the question. Try again."
	statusPaused       = "Paused"
	statusEndTooEarly  = "Answer at least one question before ending the interview."
	statusExpired      = "Session expired"
	statusComplete     = "Interview complete"
	statusEnded        = "Interview ended"
	statusInterrupted  = "Interview interrupted. It can be resumed later."
)

// Reducer holds the timing and echo rules Reduce applies.
type Reducer struct {
	cfg  Config
	echo *echofilter.Filter
}

func NewReducer(cfg Config) Reducer {
	cfg = cfg.withDefaults()
	return Reducer{cfg: cfg, echo: echofilter.New(cfg.Echo)}
}

func (r Reducer) Config() Config { return r.cfg }

// Reduce is the single transition function: it returns the next state and
// the effects to run. It performs no I/O and never mutates s.
func (r Reducer) Reduce(s State, ev Event, now time.Time) (State, []Effect) {
	switch e := ev.(type) {
	case Begin:
		return r.begin(s, now)
	case SpeechIssued:
		s.SpeechToken = e.Token
		return s, nil
	case SpeechUpdate:
		return r.speech(s, e, now)
	case TimerFired:
		return r.timer(s, e, now)
	case CaptureUpdate:
		return r.capture(s, e.Event, now)
	case CaptureOpenFailed:
		return r.openFailed(s, e)
	case EvaluationResult:
		return r.evaluated(s, e, now)
	case SubmitResult:
		return r.submitted(s, e, now)
	case EndResult:
		return r.ended(s, e)
	case Interrupt:
		return r.interrupt(s, now)
	case RoomStatus:
		s.RoomMessage = e.Message
		return s, nil
	case AuthExpired:
		return r.expire(s, now)
	case Shutdown:
		return r.shutdown(s, now)
	case Pause:
		return r.pause(s, now)
	case Resume:
		return r.resume(s, now)
	case End:
		if s.Phase.Terminal() {
			return s, nil
		}
		if !s.CanEnd(r.cfg) {
			s.Status = statusEndTooEarly
			return s, nil
		}
		next, fx := r.finish(s, now, true)
		next.Status = statusEnded
		return next, fx
	case Skip:
		return r.skip(s, now)
	case Repeat:
		if !answering(s) {
			return s, nil
		}
		return r.ask(s, now)
	case RetrySubmit:
		if s.PendingAnswer == "" || !answering(s) {
			return s, nil
		}
		return r.submit(s, s.PendingAnswer, now)
	case ManualSubmit:
		if !answering(s) {
			return s, nil
		}
		text := strings.TrimSpace(e.Text)
		if text == "" {
			text = r.echo.StripLeadingEcho(s.Draft.Merged(), s.Session.CurrentQuestion)
		}
		return r.submit(s, text, now)
	case Listen:
		return r.listen(s, now)
	}
	return s, nil
}

// answering is true in the phases where the candidate can act on the
// current question.
func answering(s State) bool {
	if s.Submitting {
		return false
	}
	switch s.Phase {
	case PhaseQuestionAsked, PhaseListeningArmed, PhaseListening, PhaseEvaluating:
		return true
	}
	return false
}

func moveTo(s State, p Phase) (State, *InvalidTransitionError) {
	if !transitionValid(s.Phase, p) {
		return s, &InvalidTransitionError{From: s.Phase, To: p}
	}
	s.Phase = p
	return s, nil
}

func refused(err *InvalidTransitionError) []Effect {
	return []Effect{Refused{Err: err}}
}

func (s *State) nextTimer() uint64 {
	s.TimerSeq++
	return s.TimerSeq
}

func (s *State) disarm() {
	s.SpeechTimer = 0
	s.ListenTimer = 0
	s.SilenceTimer = 0
}

// closeCapture abandons the open window, if any. The adapter's Ended
// report for it is ignored because CaptureOpen is already false.
func (s *State) closeCapture() []Effect {
	if !s.CaptureOpen {
		return nil
	}
	s.CaptureOpen = false
	s.EvalPending = false
	return []Effect{StopCapture{Window: s.Window, Intent: capture.IntentDiscard}}
}

func (s *State) silence() []Effect {
	if !s.Speaking {
		return nil
	}
	s.Speaking = false
	return []Effect{CancelSpeech{}, ResetBargeIn{}}
}

func (s State) snapshot(now time.Time) Effect {
	return Persist{Snapshot: s.Session.Snapshot(now)}
}

func timestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func (r Reducer) begin(s State, now time.Time) (State, []Effect) {
	if s.Phase != PhaseIdle {
		return s, nil
	}
	next, fx := r.ask(s, now)
	fx = append([]Effect{Record{Name: "session_started", Value: 1}}, fx...)
	return next, fx
}

// ask (re)starts the current question from a clean window.
func (r Reducer) ask(s State, now time.Time) (State, []Effect) {
	next, err := moveTo(s, PhaseQuestionAsked)
	if err != nil {
		return s, refused(err)
	}
	fx := next.closeCapture()
	next.disarm()
	next.QuestionAskedAt = now
	next.Draft = capture.Draft{}
	next.AnswerStartedAt = time.Time{}
	next.ListenStart = time.Time{}
	next.LastDeltaAt = time.Time{}
	next.Speaking = false
	next.SpeechDone = false
	next.AvatarStatus = ""
	next.Status = ""
	next.SpeechTimer = next.nextTimer()
	return next, append(fx,
		Speak{Text: next.Session.CurrentQuestion},
		Schedule{Kind: TimerSpeechStart, Seq: next.SpeechTimer, After: r.cfg.SpeechStartTimeout},
		Record{Name: "question_asked", Value: float64(next.Session.QuestionIndex), Tags: map[string]string{"question_id": next.Session.QuestionID}},
		next.snapshot(now),
	)
}

// openListening arms a new capture window unless one is open or capture
// has fallen back to manual submission.
func (r Reducer) openListening(s State, interrupting bool) (State, []Effect) {
	if s.CaptureOpen {
		return s, nil
	}
	next, err := moveTo(s, PhaseListeningArmed)
	if err != nil {
		return s, refused(err)
	}
	next.SpeechTimer = 0
	next.ListenTimer = 0
	if next.Fallback {
		next.Status = statusFallback
		return next, nil
	}
	next.Window++
	next.CaptureOpen = true
	next.Interrupting = interrupting
	return next, []Effect{OpenCapture{Window: next.Window, Interrupting: interrupting}}
}

// rearm keeps the committed draft and listens again.
func (r Reducer) rearm(s State) (State, []Effect) {
	return r.openListening(s, false)
}

func (r Reducer) speech(s State, e SpeechUpdate, now time.Time) (State, []Effect) {
	if e.Token != s.SpeechToken || e.Text != s.Session.CurrentQuestion {
		return s, nil
	}
	s.AvatarStatus = string(e.Status)
	if s.Phase == PhasePaused || s.Phase.Terminal() {
		return s, nil
	}
	if e.Speaking && !e.Done {
		var fx []Effect
		if lateQuestionAudio(s) {
			// Question audio began after listening opened; reopen after it.
			fx = s.closeCapture()
			s.SilenceTimer = 0
			s.ListenStart = time.Time{}
			s, _ = moveTo(s, PhaseQuestionAsked)
		}
		s.Speaking = true
		return s, fx
	}
	if !e.Done {
		return s, nil
	}
	s.Speaking = false
	s.SpeechDone = true
	fx := []Effect{ResetBargeIn{}}
	if s.Phase == PhaseQuestionAsked && !s.CaptureOpen {
		s.SpeechTimer = 0
		s.ListenTimer = s.nextTimer()
		fx = append(fx, Schedule{Kind: TimerListen, Seq: s.ListenTimer, After: r.cfg.PostSpeechDelay})
	}
	return s, fx
}

func lateQuestionAudio(s State) bool {
	if !s.CaptureOpen || s.Interrupting || !s.Draft.Empty() {
		return false
	}
	return s.Phase == PhaseListeningArmed || s.Phase == PhaseListening
}

// avatarPreparing is true while the question is requested, rendered or
// waiting on the room, before any audio plays.
func avatarPreparing(status string) bool {
	switch avatar.Status(status) {
	case avatar.StatusRequesting, avatar.StatusRendering, avatar.StatusConnecting:
		return true
	}
	return false
}

func (r Reducer) timer(s State, e TimerFired, now time.Time) (State, []Effect) {
	switch e.Kind {
	case TimerSpeechStart:
		if e.Seq != s.SpeechTimer || s.Phase != PhaseQuestionAsked {
			return s, nil
		}
		s.SpeechTimer = 0
		waiting := avatarPreparing(s.AvatarStatus) && now.Sub(s.QuestionAskedAt) < r.cfg.MaxSpeechWait
		if s.Speaking || waiting {
			s.SpeechTimer = s.nextTimer()
			return s, []Effect{Schedule{Kind: TimerSpeechStart, Seq: s.SpeechTimer, After: r.cfg.StillSpeakingRetry}}
		}
		return r.openListening(s, false)
	case TimerListen:
		if e.Seq != s.ListenTimer || (s.Phase != PhaseQuestionAsked && s.Phase != PhaseListeningArmed) {
			return s, nil
		}
		s.ListenTimer = 0
		if s.Speaking {
			s.ListenTimer = s.nextTimer()
			return s, []Effect{Schedule{Kind: TimerListen, Seq: s.ListenTimer, After: r.cfg.StillSpeakingRetry}}
		}
		return r.openListening(s, false)
	case TimerSilence:
		if e.Seq != s.SilenceTimer || s.Phase != PhaseListening || !s.CaptureOpen {
			return s, nil
		}
		s.SilenceTimer = 0
		return r.silenceElapsed(s, now)
	}
	return s, nil
}

func (r Reducer) silenceElapsed(s State, now time.Time) (State, []Effect) {
	text := s.Draft.Merged()
	if strings.TrimSpace(text) == "" || s.EvalPending {
		return s, nil
	}
	question := s.Session.CurrentQuestion
	if r.echo.IsLikelyEcho(text, question, now.Sub(s.ListenStart)) {
		s.Draft = capture.Draft{}
		s.Status = statusEcho
		return s, nil
	}
	s.EvalPending = true
	return s, []Effect{Evaluate{Window: s.Window, Request: evaluate.Request{
		SessionID:  s.Session.SessionID,
		Transcript: r.echo.StripLeadingEcho(text, question),
		Question:   question,
		Listening:  now.Sub(s.ListenStart),
		Silence:    now.Sub(s.LastDeltaAt),
	}}}
}

func (r Reducer) capture(s State, e capture.Event, now time.Time) (State, []Effect) {
	if e.Window != s.Window || !s.CaptureOpen {
		switch {
		case e.Kind == capture.EventStarted:
			return s, []Effect{StopCapture{Window: e.Window, Intent: capture.IntentDiscard}}
		case e.Kind == capture.EventError && e.Fatal:
			s.Fallback = true
		}
		return s, nil
	}
	switch e.Kind {
	case capture.EventStarted:
		next, err := moveTo(s, PhaseListening)
		if err != nil {
			fx := s.closeCapture()
			return s, append(fx, refused(err)...)
		}
		next.OpenFailures = 0
		next.ListenStart = now
		if next.Status == statusRetryCapture {
			next.Status = ""
		}
		return next, nil
	case capture.EventDelta:
		s.Draft = s.Draft.Apply(e.Final, e.Interim)
		s.LastDeltaAt = now
		if s.AnswerStartedAt.IsZero() && !s.Draft.Empty() {
			s.AnswerStartedAt = now
		}
		if s.Phase == PhaseListeningArmed {
			s, _ = moveTo(s, PhaseListening)
		}
		s.SilenceTimer = s.nextTimer()
		return s, []Effect{Schedule{Kind: TimerSilence, Seq: s.SilenceTimer, After: r.cfg.SilenceSubmit}}
	case capture.EventError:
		if e.Fatal {
			s.Fallback = true
			s.Status = statusFallback
		} else {
			s.Status = "Speech recognition interrupted (" + string(e.ErrorKind) + ")"
		}
		return s, nil
	case capture.EventEnded:
		return r.captureEnded(s, e, now)
	}
	return s, nil
}

// captureEnded resolves the window. A silence-timer evaluation still in
// flight is dropped because its window is no longer open.
func (r Reducer) captureEnded(s State, e capture.Event, now time.Time) (State, []Effect) {
	s.CaptureOpen = false
	s.SilenceTimer = 0
	s.EvalPending = false
	if s.Phase != PhaseListening && s.Phase != PhaseListeningArmed {
		return s, nil
	}
	if e.Forced && e.Intent == capture.IntentDiscard {
		return s, nil
	}
	question := s.Session.CurrentQuestion
	transcript := r.echo.StripLeadingEcho(s.Draft.Merged(), question)
	if e.Forced && e.Intent == capture.IntentSubmit {
		return r.submit(s, transcript, now)
	}
	if strings.TrimSpace(transcript) == "" {
		return r.rearm(s)
	}
	next, err := moveTo(s, PhaseEvaluating)
	if err != nil {
		next, fx := r.rearm(s)
		return next, append(refused(err), fx...)
	}
	silence := time.Duration(0)
	if !s.LastDeltaAt.IsZero() {
		silence = now.Sub(s.LastDeltaAt)
	}
	return next, []Effect{Evaluate{Window: s.Window, Request: evaluate.Request{
		SessionID:  s.Session.SessionID,
		Transcript: transcript,
		Question:   question,
		Listening:  now.Sub(s.ListenStart),
		Silence:    silence,
		IsFinal:    true,
	}}}
}

func (r Reducer) openFailed(s State, e CaptureOpenFailed) (State, []Effect) {
	if e.Window != s.Window || !s.CaptureOpen {
		return s, nil
	}
	s.CaptureOpen = false
	retry := func(s State) (State, []Effect) {
		s.ListenTimer = s.nextTimer()
		return s, []Effect{Schedule{Kind: TimerListen, Seq: s.ListenTimer, After: r.cfg.StillSpeakingRetry}}
	}
	switch {
	case errors.Is(e.Err, capture.ErrBusy):
		return s, nil
	case errors.Is(e.Err, capture.ErrSystemSpeaking):
		return retry(s)
	case errors.Is(e.Err, capture.ErrAlreadyOpen):
		next, fx := retry(s)
		return next, append([]Effect{StopCapture{Intent: capture.IntentDiscard}}, fx...)
	case errors.Is(e.Err, capture.ErrFallback), errors.Is(e.Err, stt.ErrUnavailable):
		s.Fallback = true
		s.Status = statusFallback
		return s, nil
	}
	s.OpenFailures++
	if s.OpenFailures >= r.cfg.MaxOpenFailures {
		s.Fallback = true
		s.Status = statusFallback
		return s, nil
	}
	s.Status = statusRetryCapture
	return retry(s)
}

func (r Reducer) evaluated(s State, e EvaluationResult, now time.Time) (State, []Effect) {
	d := e.Decision
	if e.Final {
		if e.Window != s.Window || s.Phase != PhaseEvaluating {
			return s, nil
		}
		switch {
		case d != nil && d.Action == evaluate.ActionSubmit:
			return r.submit(s, e.Transcript, now)
		case d != nil && d.Action == evaluate.ActionIgnoreEcho:
			s.Draft = capture.Draft{}
			s.Status = statusEcho
			return r.rearm(s)
		case echofilter.WordCount(e.Transcript) >= r.cfg.MinWords:
			return r.submit(s, e.Transcript, now)
		}
		return r.rearm(s)
	}

	if e.Window != s.Window || !s.CaptureOpen || s.Phase != PhaseListening {
		return s, nil
	}
	s.EvalPending = false
	if d == nil {
		return s, nil
	}
	switch d.Action {
	case evaluate.ActionSubmit:
		return s, []Effect{StopCapture{Window: s.Window, Intent: capture.IntentSubmit}}
	case evaluate.ActionIgnoreEcho:
		s.Draft = capture.Draft{}
		s.Status = statusEcho
	}
	return s, nil
}

// submit applies the submission guards: non-empty text, nothing in flight
// and not a repeat of the last answer within the cooldown.
func (r Reducer) submit(s State, text string, now time.Time) (State, []Effect) {
	text = strings.TrimSpace(text)
	norm := echofilter.Normalize(text)
	reject := func(reason, status string) (State, []Effect) {
		s.Status = status
		fx := []Effect{Record{Name: "submit", Tags: map[string]string{"outcome": "rejected", "reason": reason}}}
		if s.Phase == PhaseEvaluating || (s.Phase == PhaseListening && !s.CaptureOpen) {
			next, more := r.rearm(s)
			return next, append(fx, more...)
		}
		return s, fx
	}
	switch {
	case norm == "":
		return reject("empty", statusEmpty)
	case s.Submitting:
		return reject("in_flight", statusInFlight)
	case norm == s.LastSubmitted && now.Sub(s.LastSubmitAt) < r.cfg.SubmitCooldown:
		return reject("duplicate", statusDuplicate)
	}

	next, err := moveTo(s, PhaseSubmitting)
	if err != nil {
		return s, refused(err)
	}
	fx := next.closeCapture()
	fx = append(fx, next.silence()...)
	next.disarm()
	next.EvalPending = false
	next.Submitting = true
	next.LastSubmitted = norm
	next.LastSubmitAt = now
	next.PendingAnswer = text
	next.Status = ""
	started := next.AnswerStartedAt
	if started.IsZero() {
		started = next.QuestionAskedAt
	}
	return next, append(fx, SubmitAnswer{Request: api.AnswerRequest{
		AnswerText:      text,
		QuestionAskedAt: timestamp(next.QuestionAskedAt),
		AnswerStartedAt: timestamp(started),
		AnswerEndedAt:   timestamp(now),
	}})
}

func (r Reducer) skip(s State, now time.Time) (State, []Effect) {
	if !answering(s) {
		return s, nil
	}
	next, err := moveTo(s, PhaseSubmitting)
	if err != nil {
		return s, refused(err)
	}
	fx := next.closeCapture()
	next.Speaking = false
	fx = append(fx, CancelSpeech{}, ResetBargeIn{})
	next.disarm()
	next.Submitting = true
	next.PendingAnswer = ""
	next.Status = ""
	return next, append(fx, SkipQuestion{Request: api.SkipRequest{
		QuestionAskedAt: timestamp(next.QuestionAskedAt),
		SkippedAt:       timestamp(now),
	}})
}

func (r Reducer) submitted(s State, e SubmitResult, now time.Time) (State, []Effect) {
	if !s.Submitting || s.Phase.Terminal() {
		return s, nil
	}
	s.Submitting = false
	kind := "answer"
	if e.Skipped {
		kind = "skip"
	}
	if e.Err != nil {
		if errorsx.IsAuthExpired(e.Err) {
			return r.expire(s, now)
		}
		s.LastSubmitted = ""
		s.Status = statusSubmitFailed
		if e.Skipped {
			s.Status = statusSkipFailed
		}
		fx := []Effect{Record{Name: "submit", Tags: map[string]string{"outcome": "failed", "kind": kind}}}
		if s.Phase == PhasePaused {
			s.PausedFrom = PhaseQuestionAsked
			return s, fx
		}
		next, more := r.rearm(s)
		return next, append(fx, more...)
	}

	fx := []Effect{Record{Name: "submit", Value: 1, Tags: map[string]string{"outcome": "ok", "kind": kind}}}
	answer := session.Turn{Role: session.RoleUser, Text: e.Answer, At: now}
	if e.Skipped {
		answer = session.Turn{Role: session.RoleUser, Text: session.SkipMarker, Skipped: true, At: now}
	} else {
		s.CapturedWords += echofilter.WordCount(e.Answer)
	}
	s.PendingAnswer = ""
	s.Draft = capture.Draft{}
	s.AnswerStartedAt = time.Time{}

	if e.Resp.IsInterviewComplete || e.Resp.NextQuestion == "" {
		next, err := moveTo(s, PhaseCompleted)
		if err != nil {
			return s, append(fx, refused(err)...)
		}
		next.Session = next.Session.AppendTurn(answer).Complete(now)
		next.Status = statusComplete
		return next, append(fx,
			ClearSnapshot{},
			Finalize{Notify: true},
			Record{Name: "session_completed", Value: 1},
		)
	}

	s.Session = s.Session.Advance(answer, e.Resp.NextQuestion, e.Resp.QuestionID, e.Resp.QuestionIndex, now)
	if s.Phase == PhasePaused {
		s.PausedFrom = PhaseQuestionAsked
		return s, append(fx, s.snapshot(now))
	}
	next, more := r.ask(s, now)
	return next, append(fx, more...)
}

func (r Reducer) interrupt(s State, now time.Time) (State, []Effect) {
	if s.Phase != PhaseQuestionAsked || !s.Speaking || s.CaptureOpen || s.Busy() || s.Fallback {
		return s, nil
	}
	fx := s.silence()
	next, more := r.openListening(s, true)
	return next, append(fx, more...)
}

// listen opens capture on the candidate's request, interrupting speech and
// retrying a microphone that had fallen back.
func (r Reducer) listen(s State, now time.Time) (State, []Effect) {
	if s.CaptureOpen || s.Busy() {
		return s, nil
	}
	if s.Phase != PhaseQuestionAsked && s.Phase != PhaseListeningArmed {
		return s, nil
	}
	var fx []Effect
	if s.Fallback {
		s.Fallback = false
		s.OpenFailures = 0
		s.Status = ""
		fx = append(fx, ResetFallback{})
	}
	interrupting := s.Speaking
	fx = append(fx, s.silence()...)
	next, more := r.openListening(s, interrupting)
	return next, append(fx, more...)
}

func (r Reducer) pause(s State, now time.Time) (State, []Effect) {
	if s.Phase == PhasePaused || s.Phase == PhaseIdle || s.Phase.Terminal() {
		return s, nil
	}
	from := s.Phase
	next, err := moveTo(s, PhasePaused)
	if err != nil {
		return s, refused(err)
	}
	next.PausedFrom = from
	next.Session = next.Session.Pause(now)
	fx := next.closeCapture()
	next.Speaking = false
	fx = append(fx, CancelSpeech{}, ResetBargeIn{})
	next.disarm()
	next.Draft = capture.Draft{}
	next.Status = statusPaused
	return next, append(fx, next.snapshot(now))
}

// resume re-asks the current question. A submission that was in flight
// when the pause started is still awaited.
func (r Reducer) resume(s State, now time.Time) (State, []Effect) {
	if s.Phase != PhasePaused {
		return s, nil
	}
	s.Session = s.Session.Resume(now)
	s.Status = ""
	if s.Submitting {
		next, _ := moveTo(s, PhaseSubmitting)
		return next, []Effect{next.snapshot(now)}
	}
	return r.ask(s, now)
}

// finish moves to Ending: capture and speech stop unconditionally and the
// recording is finalized.
func (r Reducer) finish(s State, now time.Time, notify bool) (State, []Effect) {
	next, err := moveTo(s, PhaseEnding)
	if err != nil {
		return s, refused(err)
	}
	fx := next.closeCapture()
	next.Speaking = false
	next.disarm()
	next.Session = next.Session.Complete(now)
	return next, append(fx,
		CancelSpeech{},
		ClearSnapshot{},
		Finalize{Notify: notify},
		Record{Name: "session_completed", Value: 1},
	)
}

func (r Reducer) expire(s State, now time.Time) (State, []Effect) {
	if s.Phase.Terminal() {
		return s, nil
	}
	next, fx := r.finish(s, now, false)
	next.Status = statusExpired
	return next, fx
}

func (r Reducer) shutdown(s State, now time.Time) (State, []Effect) {
	if s.Phase.Terminal() {
		return s, nil
	}
	kept := Persist{Snapshot: s.Session.Pause(now).Snapshot(now)}
	next, err := moveTo(s, PhaseEnding)
	if err != nil {
		return s, refused(err)
	}
	fx := next.closeCapture()
	next.Speaking = false
	next.disarm()
	next.Status = statusInterrupted
	return next, append(fx, CancelSpeech{}, kept, Finalize{Notify: false})
}

func (r Reducer) ended(s State, e EndResult) (State, []Effect) {
	s.Finalized = true
	if e.Err != nil && s.Status != statusExpired {
		s.Status = statusEnded + ". Upload failed."
	}
	if s.Phase == PhaseEnding {
		s, _ = moveTo(s, PhaseCompleted)
	}
	return s, nil
}
