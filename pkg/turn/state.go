package turn

import (
	"sync/atomic"
	"time"

	"github.com/harunnryd/viva/pkg/capture"
	"github.com/harunnryd/viva/pkg/echofilter"
	"github.com/harunnryd/viva/pkg/session"
)

type Config struct {
	MinWords           int
	SilenceSubmit      time.Duration
	SpeechStartTimeout time.Duration
	StillSpeakingRetry time.Duration
	PostSpeechDelay    time.Duration
	SubmitCooldown     time.Duration
	// Ending needs EndMinAnswers answered turns or EndMinWords captured words.
	EndMinAnswers int
	EndMinWords   int
	// MaxOpenFailures consecutive capture start failures switch to manual
	// submission.
	MaxOpenFailures int
	// MaxSpeechWait bounds how long listening is held back while the avatar
	// is still requesting, rendering or connecting.
	MaxSpeechWait time.Duration
	Echo          echofilter.Config
}

func DefaultConfig() Config {
	return Config{
		MinWords:           6,
		SilenceSubmit:      1200 * time.Millisecond,
		SpeechStartTimeout: 6 * time.Second,
		StillSpeakingRetry: 800 * time.Millisecond,
		PostSpeechDelay:    450 * time.Millisecond,
		SubmitCooldown:     4 * time.Second,
		EndMinAnswers:      1,
		EndMinWords:        25,
		MaxOpenFailures:    3,
		MaxSpeechWait:      60 * time.Second,
		Echo:               echofilter.DefaultConfig(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MinWords <= 0 {
		c.MinWords = d.MinWords
	}
	if c.SilenceSubmit <= 0 {
		c.SilenceSubmit = d.SilenceSubmit
	}
	if c.SpeechStartTimeout <= 0 {
		c.SpeechStartTimeout = d.SpeechStartTimeout
	}
	if c.StillSpeakingRetry <= 0 {
		c.StillSpeakingRetry = d.StillSpeakingRetry
	}
	if c.PostSpeechDelay < 0 {
		c.PostSpeechDelay = 0
	}
	if c.SubmitCooldown <= 0 {
		c.SubmitCooldown = d.SubmitCooldown
	}
	if c.EndMinAnswers <= 0 && c.EndMinWords <= 0 {
		c.EndMinAnswers = d.EndMinAnswers
		c.EndMinWords = d.EndMinWords
	}
	if c.MaxOpenFailures <= 0 {
		c.MaxOpenFailures = d.MaxOpenFailures
	}
	if c.MaxSpeechWait <= 0 {
		c.MaxSpeechWait = d.MaxSpeechWait
	}
	return c
}

// State is the whole controller state. It is a value: Reduce returns a new
// State and never mutates the one it was given.
type State struct {
	Phase      Phase
	PausedFrom Phase
	Session    session.InterviewSession

	QuestionAskedAt time.Time

	SpeechToken  uint64
	Speaking     bool
	SpeechDone   bool
	AvatarStatus string

	Window          uint64
	CaptureOpen     bool
	Interrupting    bool
	ListenStart     time.Time
	LastDeltaAt     time.Time
	AnswerStartedAt time.Time
	Draft           capture.Draft
	EvalPending     bool
	Fallback        bool
	OpenFailures    int

	TimerSeq     uint64
	SpeechTimer  uint64
	ListenTimer  uint64
	SilenceTimer uint64

	Submitting    bool
	PendingAnswer string
	LastSubmitted string
	LastSubmitAt  time.Time
	CapturedWords int

	Finalized   bool
	Status      string
	RoomMessage string
}

// NewState is the initial state for a session that has not started.
func NewState(sess session.InterviewSession) State {
	return State{Phase: PhaseIdle, Session: sess}
}

// Recover builds the initial state from a saved snapshot. The session
// comes back paused on the question it was on.
func Recover(snap session.Snapshot, now time.Time) State {
	sess := session.FromSnapshot(snap, now)
	return State{
		Phase:      PhasePaused,
		PausedFrom: PhaseQuestionAsked,
		Session:    sess,
		Status:     "Interview restored. Resume when you are ready.",
	}
}

// Busy reports that a submission, pause or end is under way.
func (s State) Busy() bool {
	return s.Submitting || s.Phase == PhasePaused || s.Phase.Terminal()
}

// CanEnd reports whether enough has been said to end the interview.
func (s State) CanEnd(cfg Config) bool {
	if s.Phase.Terminal() {
		return false
	}
	if cfg.EndMinAnswers > 0 && s.Session.AnsweredTurns() >= cfg.EndMinAnswers {
		return true
	}
	words := s.CapturedWords + s.Draft.WordCount()
	return cfg.EndMinWords > 0 && words >= cfg.EndMinWords
}

// Signals mirrors the parts of State that capture and barge-in need to read
// from their own goroutines.
type Signals struct {
	speaking    atomic.Bool
	captureOpen atomic.Bool
	busy        atomic.Bool
}

func NewSignals() *Signals { return &Signals{} }

func (g *Signals) update(s State) {
	g.speaking.Store(s.Speaking)
	g.captureOpen.Store(s.CaptureOpen)
	g.busy.Store(s.Busy())
}

func (g *Signals) SystemSpeaking() bool { return g.speaking.Load() }

func (g *Signals) Busy() bool { return g.busy.Load() }

// BargeInAllowed is true while the system speaks, nothing is being captured
// and no submission, pause or end is under way.
func (g *Signals) BargeInAllowed() bool {
	return g.speaking.Load() && !g.captureOpen.Load() && !g.busy.Load()
}

var _ capture.Gate = (*Signals)(nil)
