// Package session holds the interview aggregate, its timer and the
// snapshot used to recover an interrupted interview.
package session

import (
	"time"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
)

type Role string

const (
	RoleAssistant Role = "assistant"
	RoleUser      Role = "user"
)

// SkipMarker is the user turn recorded for a skipped question.
const SkipMarker = "[Question skipped by user]"

type Turn struct {
	Role    Role      `json:"role"`
	Text    string    `json:"text"`
	Skipped bool      `json:"skipped,omitempty"`
	At      time.Time `json:"at"`
}

// InterviewSession is a value; every mutator returns a new session and
// never writes through to the receiver's Turns backing array.
type InterviewSession struct {
	SessionID         string
	JobRole           string
	Domain            string
	CurrentQuestion   string
	QuestionID        string
	QuestionIndex     int
	TotalQuestions    int
	Turns             []Turn
	Status            Status
	StartedAt         time.Time
	PausedAt          *time.Time
	PausedAccumulated time.Duration
	EndedAt           *time.Time
}

// New starts a session on its first question.
func New(id, jobRole, domain, question, questionID string, index, total int, now time.Time) InterviewSession {
	s := InterviewSession{
		SessionID:       id,
		JobRole:         jobRole,
		Domain:          domain,
		CurrentQuestion: question,
		QuestionID:      questionID,
		QuestionIndex:   index,
		TotalQuestions:  total,
		Status:          StatusActive,
		StartedAt:       now,
	}
	if question != "" {
		s = s.AppendTurn(Turn{Role: RoleAssistant, Text: question, At: now})
	}
	return s
}

// Elapsed is wall time since start minus every paused interval. It is
// frozen while paused and after the session ends.
func (s InterviewSession) Elapsed(now time.Time) time.Duration {
	if s.StartedAt.IsZero() {
		return 0
	}
	if s.EndedAt != nil {
		now = *s.EndedAt
	}
	d := now.Sub(s.StartedAt) - s.PausedAccumulated
	if s.PausedAt != nil {
		d -= now.Sub(*s.PausedAt)
	}
	if d < 0 {
		return 0
	}
	return d
}

func (s InterviewSession) Paused() bool { return s.PausedAt != nil }

func (s InterviewSession) Pause(now time.Time) InterviewSession {
	if s.PausedAt != nil || s.Status == StatusCompleted {
		return s
	}
	at := now
	s.PausedAt = &at
	s.Status = StatusPaused
	return s
}

// Resume folds the frozen interval into PausedAccumulated.
func (s InterviewSession) Resume(now time.Time) InterviewSession {
	if s.PausedAt == nil {
		return s
	}
	if frozen := now.Sub(*s.PausedAt); frozen > 0 {
		s.PausedAccumulated += frozen
	}
	s.PausedAt = nil
	if s.Status == StatusPaused {
		s.Status = StatusActive
	}
	return s
}

func (s InterviewSession) Complete(now time.Time) InterviewSession {
	if s.Status == StatusCompleted {
		return s
	}
	s = s.Resume(now)
	at := now
	s.EndedAt = &at
	s.Status = StatusCompleted
	return s
}

func (s InterviewSession) AppendTurn(t Turn) InterviewSession {
	turns := make([]Turn, len(s.Turns), len(s.Turns)+1)
	copy(turns, s.Turns)
	s.Turns = append(turns, t)
	return s
}

// Advance records the answer (or skip) and moves to the next question.
// An empty next question leaves the current one in place.
func (s InterviewSession) Advance(answer Turn, nextQuestion, questionID string, index int, now time.Time) InterviewSession {
	s = s.AppendTurn(answer)
	if nextQuestion == "" {
		return s
	}
	s.CurrentQuestion = nextQuestion
	s.QuestionID = questionID
	s.QuestionIndex = index
	return s.AppendTurn(Turn{Role: RoleAssistant, Text: nextQuestion, At: now})
}

// AnsweredTurns counts user turns that were not skips.
func (s InterviewSession) AnsweredTurns() int {
	n := 0
	for _, t := range s.Turns {
		if t.Role == RoleUser && !t.Skipped {
			n++
		}
	}
	return n
}
