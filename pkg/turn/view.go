package turn

import (
	"time"

	"github.com/harunnryd/viva/pkg/session"
)

// Label is the one-word activity shown to the candidate.
type Label string

const (
	LabelPaused     Label = "Paused"
	LabelProcessing Label = "Processing"
	LabelSpeaking   Label = "AI Speaking"
	LabelListening  Label = "Listening"
	LabelReady      Label = "Ready"
)

// View is the read-only projection of State the candidate's UI renders.
type View struct {
	SessionID      string         `json:"sessionId"`
	Phase          string         `json:"phase"`
	Label          Label          `json:"label"`
	Question       string         `json:"question"`
	QuestionID     string         `json:"questionId,omitempty"`
	QuestionIndex  int            `json:"questionIndex"`
	TotalQuestions int            `json:"totalQuestions"`
	Committed      string         `json:"committed"`
	Interim        string         `json:"interim"`
	Turns          []session.Turn `json:"turns"`
	ElapsedSeconds int64          `json:"elapsedSeconds"`
	CanEnd         bool           `json:"canEnd"`
	CanRetry       bool           `json:"canRetry"`
	Fallback       bool           `json:"fallback"`
	Completed      bool           `json:"completed"`
	Status         string         `json:"status,omitempty"`
	AvatarStatus   string         `json:"avatarStatus,omitempty"`
	RoomMessage    string         `json:"roomMessage,omitempty"`
}

// ViewListener receives every published view. It is called from the
// controller loop and must not block.
type ViewListener interface {
	OnView(v View)
}

type ViewListenerFunc func(View)

func (f ViewListenerFunc) OnView(v View) { f(v) }

func labelOf(s State) Label {
	switch {
	case s.Phase == PhasePaused:
		return LabelPaused
	case s.Submitting, s.Phase == PhaseEvaluating, s.Phase == PhaseEnding:
		return LabelProcessing
	case s.Speaking:
		return LabelSpeaking
	case s.Phase == PhaseListening, s.CaptureOpen:
		return LabelListening
	}
	return LabelReady
}

// NewView projects s at now.
func NewView(s State, cfg Config, now time.Time) View {
	return View{
		SessionID:      s.Session.SessionID,
		Phase:          s.Phase.String(),
		Label:          labelOf(s),
		Question:       s.Session.CurrentQuestion,
		QuestionID:     s.Session.QuestionID,
		QuestionIndex:  s.Session.QuestionIndex,
		TotalQuestions: s.Session.TotalQuestions,
		Committed:      s.Draft.Committed,
		Interim:        s.Draft.Interim,
		Turns:          append([]session.Turn(nil), s.Session.Turns...),
		ElapsedSeconds: int64(s.Session.Elapsed(now) / time.Second),
		CanEnd:         s.CanEnd(cfg),
		CanRetry:       s.PendingAnswer != "" && !s.Submitting,
		Fallback:       s.Fallback,
		Completed:      s.Phase == PhaseCompleted,
		Status:         s.Status,
		AvatarStatus:   s.AvatarStatus,
		RoomMessage:    s.RoomMessage,
	}
}
