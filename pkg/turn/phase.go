package turn

import "time"

// Phase is where the controller is in the question/answer cycle.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseQuestionAsked
	PhaseListeningArmed
	PhaseListening
	PhaseEvaluating
	PhaseSubmitting
	PhaseCompleted
	PhasePaused
	PhaseEnding
)

// String returns the string representation of a Phase
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "IDLE"
	case PhaseQuestionAsked:
		return "QUESTION_ASKED"
	case PhaseListeningArmed:
		return "LISTENING_ARMED"
	case PhaseListening:
		return "LISTENING"
	case PhaseEvaluating:
		return "EVALUATING"
	case PhaseSubmitting:
		return "SUBMITTING"
	case PhaseCompleted:
		return "COMPLETED"
	case PhasePaused:
		return "PAUSED"
	case PhaseEnding:
		return "ENDING"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports phases that accept no further commands.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseEnding
}

var validTransitions = map[Phase][]Phase{
	PhaseIdle:           {PhaseQuestionAsked, PhasePaused, PhaseEnding},
	PhaseQuestionAsked:  {PhaseListeningArmed, PhaseListening, PhaseSubmitting, PhasePaused, PhaseEnding},
	PhaseListeningArmed: {PhaseListening, PhaseEvaluating, PhaseQuestionAsked, PhaseSubmitting, PhasePaused, PhaseEnding},
	PhaseListening:      {PhaseEvaluating, PhaseListeningArmed, PhaseSubmitting, PhaseQuestionAsked, PhasePaused, PhaseEnding},
	PhaseEvaluating:     {PhaseListeningArmed, PhaseSubmitting, PhaseQuestionAsked, PhasePaused, PhaseEnding},
	PhaseSubmitting:     {PhaseQuestionAsked, PhaseCompleted, PhaseListeningArmed, PhasePaused, PhaseEnding},
	PhasePaused:         {PhaseQuestionAsked, PhaseSubmitting, PhaseCompleted, PhaseEnding},
	PhaseEnding:         {PhaseCompleted},
}

func transitionValid(from, to Phase) bool {
	if from == to {
		return true
	}
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// StateChange represents a phase transition.
type StateChange struct {
	FromPhase Phase
	ToPhase   Phase
	Timestamp time.Time
	Reason    string
}

// StateListener observes phase changes.
type StateListener interface {
	OnStateChange(event StateChange)
}

// InvalidTransitionError represents an invalid phase transition attempt
type InvalidTransitionError struct {
	From Phase
	To   Phase
}

func (e *InvalidTransitionError) Error() string {
	return "invalid phase transition from " + e.From.String() + " to " + e.To.String()
}
