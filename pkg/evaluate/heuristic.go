package evaluate

import (
	"time"

	"github.com/harunnryd/viva/pkg/echofilter"
)

type Action string

const (
	ActionSubmit        Action = "submit"
	ActionKeepListening Action = "keep_listening"
	ActionIgnoreEcho    Action = "ignore_echo"
)

func (a Action) Valid() bool {
	switch a {
	case ActionSubmit, ActionKeepListening, ActionIgnoreEcho:
		return true
	}
	return false
}

// Decision sources.
const (
	SourceRemote    = "remote"
	SourceHeuristic = "heuristic"
)

type Decision struct {
	Action         Action
	ConfidenceHint float64
	Reason         string
	WordCount      int
	Source         string
}

const (
	echoOverlap      = 0.74
	echoMaxWords     = 20
	submitSilence    = 1200 * time.Millisecond
	longWindow       = 30 * time.Second
	longWindowWords  = 5
	minSubmitFloor   = 3
	mediumAnswerSize = 14
	longAnswerSize   = 24
)

// Heuristic is the local turn decision used when the remote evaluator is
// unavailable. It mirrors the service's own rules.
func Heuristic(transcript, question string, listening, silence time.Duration, final bool, minWords int) Decision {
	tokens := echofilter.Tokens(transcript)
	words := len(tokens)
	d := Decision{WordCount: words, Source: SourceHeuristic}

	if words == 0 {
		d.Action = ActionKeepListening
		d.Reason = "No speech detected yet"
		return d
	}
	if echofilter.OverlapRatio(tokens, echofilter.Tokens(question)) >= echoOverlap && words <= echoMaxWords {
		d.Action = ActionIgnoreEcho
		d.ConfidenceHint = 0.1
		d.Reason = "Likely avatar echo; keep listening for user answer"
		return d
	}
	need := minWords
	if need < minSubmitFloor {
		need = minSubmitFloor
	}
	if words >= need && (silence >= submitSilence || final) {
		d.Action = ActionSubmit
		d.Reason = "Speech segment appears complete"
		switch {
		case words >= longAnswerSize:
			d.ConfidenceHint = 0.9
		case words >= mediumAnswerSize:
			d.ConfidenceHint = 0.82
		default:
			d.ConfidenceHint = 0.68
		}
		return d
	}
	if listening >= longWindow && words >= longWindowWords {
		d.Action = ActionSubmit
		d.ConfidenceHint = 0.72
		d.Reason = "Long response window reached"
		return d
	}
	d.Action = ActionKeepListening
	d.ConfidenceHint = 0.45
	d.Reason = "Collecting more speech for stronger answer"
	return d
}
