package session

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("snapshot not found")

// Snapshot is the persisted form of a session in progress.
type Snapshot struct {
	SessionID           string     `json:"sessionId"`
	JobRole             string     `json:"jobRole"`
	Domain              string     `json:"domain"`
	CurrentQuestion     string     `json:"currentQuestion"`
	QuestionID          string     `json:"questionId"`
	QuestionIndex       int        `json:"questionIndex"`
	TotalQuestions      int        `json:"totalQuestions,omitempty"`
	Status              Status     `json:"status"`
	StartedAt           time.Time  `json:"startedAt"`
	PausedAt            *time.Time `json:"pausedAt,omitempty"`
	PausedAccumulatedMs int64      `json:"pausedAccumulatedMs"`
	ElapsedSeconds      int64      `json:"elapsedSeconds"`
	Turns               []Turn     `json:"turns,omitempty"`
	SavedAt             time.Time  `json:"savedAt"`
}

// Store keeps the latest snapshot per slot. A slot is whatever identifies
// the candidate across restarts.
type Store interface {
	Save(ctx context.Context, slot string, snap Snapshot) error
	Load(ctx context.Context, slot string) (Snapshot, error)
	Clear(ctx context.Context, slot string) error
}

func (s InterviewSession) Snapshot(now time.Time) Snapshot {
	return Snapshot{
		SessionID:           s.SessionID,
		JobRole:             s.JobRole,
		Domain:              s.Domain,
		CurrentQuestion:     s.CurrentQuestion,
		QuestionID:          s.QuestionID,
		QuestionIndex:       s.QuestionIndex,
		TotalQuestions:      s.TotalQuestions,
		Status:              s.Status,
		StartedAt:           s.StartedAt,
		PausedAt:            s.PausedAt,
		PausedAccumulatedMs: s.PausedAccumulated.Milliseconds(),
		ElapsedSeconds:      int64(s.Elapsed(now) / time.Second),
		Turns:               append([]Turn(nil), s.Turns...),
		SavedAt:             now,
	}
}

// FromSnapshot rebuilds a session at now. Start time and paused time carry
// over unchanged; the session comes back paused from the moment it was
// saved, so the downtime is folded in as paused time on Resume.
func FromSnapshot(snap Snapshot, now time.Time) InterviewSession {
	sess := InterviewSession{
		SessionID:         snap.SessionID,
		JobRole:           snap.JobRole,
		Domain:            snap.Domain,
		CurrentQuestion:   snap.CurrentQuestion,
		QuestionID:        snap.QuestionID,
		QuestionIndex:     snap.QuestionIndex,
		TotalQuestions:    snap.TotalQuestions,
		Turns:             append([]Turn(nil), snap.Turns...),
		Status:            StatusPaused,
		StartedAt:         snap.StartedAt,
		PausedAccumulated: time.Duration(snap.PausedAccumulatedMs) * time.Millisecond,
	}
	var paused time.Time
	switch {
	case snap.PausedAt != nil:
		paused = *snap.PausedAt
	case !snap.SavedAt.IsZero():
		paused = snap.SavedAt
	default:
		paused = now
	}
	if sess.StartedAt.IsZero() {
		// Older snapshots only carry whole seconds.
		sess.StartedAt = paused.Add(-time.Duration(snap.ElapsedSeconds) * time.Second)
		sess.PausedAccumulated = 0
	}
	sess.PausedAt = &paused
	return sess
}

// Resumable reports whether a snapshot describes an interview that can
// be picked up again.
func (snap Snapshot) Resumable() bool {
	return snap.SessionID != "" && snap.Status != StatusCompleted && snap.CurrentQuestion != ""
}

// NopStore persists nothing.
type NopStore struct{}

func (NopStore) Save(context.Context, string, Snapshot) error { return nil }
func (NopStore) Load(context.Context, string) (Snapshot, error) {
	return Snapshot{}, ErrNotFound
}
func (NopStore) Clear(context.Context, string) error { return nil }
