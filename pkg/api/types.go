package api

import "strings"

// Wire types of the interview API. Timestamps are RFC 3339 strings.

type StartRequest struct {
	JobRole string `json:"jobRole"`
	Domain  string `json:"domain"`
}

type StartResponse struct {
	SessionID       string `json:"sessionId"`
	UserID          string `json:"userId,omitempty"`
	CurrentQuestion string `json:"currentQuestion"`
	QuestionID      string `json:"questionId"`
	QuestionIndex   int    `json:"questionIndex"`
	TotalQuestions  int    `json:"totalQuestions"`
	Status          string `json:"status,omitempty"`
}

type AnswerRequest struct {
	AnswerText           string   `json:"answerText"`
	QuestionAskedAt      string   `json:"questionAskedAt,omitempty"`
	AnswerStartedAt      string   `json:"answerStartedAt,omitempty"`
	AnswerEndedAt        string   `json:"answerEndedAt,omitempty"`
	TranscriptConfidence *float64 `json:"transcriptConfidence,omitempty"`
}

type SkipRequest struct {
	QuestionAskedAt string `json:"questionAskedAt,omitempty"`
	SkippedAt       string `json:"skippedAt,omitempty"`
}

// AdvanceResponse answers both answer and skip.
type AdvanceResponse struct {
	SessionID           string `json:"sessionId"`
	NextQuestion        string `json:"nextQuestion,omitempty"`
	QuestionID          string `json:"questionId,omitempty"`
	QuestionIndex       int    `json:"questionIndex"`
	IsInterviewComplete bool   `json:"isInterviewComplete"`
	Status              string `json:"status,omitempty"`
}

type EvaluateRequest struct {
	Transcript  string `json:"transcript"`
	ListeningMs int64  `json:"listeningMs"`
	SilenceMs   int64  `json:"silenceMs"`
	IsFinal     bool   `json:"isFinal"`
	MinWords    int    `json:"minWords,omitempty"`
}

type EvaluateResponse struct {
	Action               string  `json:"action"`
	ShouldSubmit         bool    `json:"shouldSubmit"`
	ShouldKeepListening  bool    `json:"shouldKeepListening"`
	Reason               string  `json:"reason"`
	NormalizedTranscript string  `json:"normalizedTranscript,omitempty"`
	WordCount            int     `json:"wordCount"`
	ConfidenceHint       float64 `json:"confidenceHint"`
}

type EndResponse struct {
	SessionID         string `json:"sessionId"`
	Status            string `json:"status"`
	AnalysisReady     bool   `json:"analysisReady"`
	AnalysisJobID     string `json:"analysisJobId,omitempty"`
	AnalysisJobStatus string `json:"analysisJobStatus,omitempty"`
}

type SpeakRequest struct {
	Text      string `json:"text"`
	SessionID string `json:"sessionId,omitempty"`
}

// Speak modes.
const (
	ModeBrowserTTS     = "browser_tts"
	ModeProvider       = "provider"
	ModeVirtualHuman3D = "virtual_human_3d"
)

type SpeakResponse struct {
	Mode            string          `json:"mode"`
	Provider        string          `json:"provider"`
	Text            string          `json:"text"`
	RequestID       string          `json:"requestId,omitempty"`
	VideoURL        string          `json:"videoUrl,omitempty"`
	AudioURL        string          `json:"audioUrl,omitempty"`
	StatusURL       string          `json:"statusUrl,omitempty"`
	ProviderPayload *RoomDescriptor `json:"providerPayload,omitempty"`
	Warnings        []string        `json:"warnings,omitempty"`
	FallbackReason  string          `json:"fallbackReason,omitempty"`
}

// RoomDescriptor is what a client needs to join a realtime avatar room.
type RoomDescriptor struct {
	Provider            string `json:"provider,omitempty"`
	RoomName            string `json:"roomName"`
	ParticipantIdentity string `json:"participantIdentity"`
	ParticipantToken    string `json:"participantToken"`
	WSURL               string `json:"wsUrl"`
}

// Valid reports whether the descriptor has enough to connect.
func (d *RoomDescriptor) Valid() bool {
	return d != nil && d.WSURL != "" && d.ParticipantToken != ""
}

type RoomSessionRequest struct {
	SessionID string `json:"sessionId"`
}

type StatusResponse struct {
	Provider  string `json:"provider"`
	RequestID string `json:"requestId"`
	Status    string `json:"status"`
	IsReady   bool   `json:"isReady"`
	VideoURL  string `json:"videoUrl,omitempty"`
	AudioURL  string `json:"audioUrl,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Failed reports a render that will never become ready.
func (s StatusResponse) Failed() bool {
	switch strings.ToLower(s.Status) {
	case "error", "failed", "not_found", "fallback", "cancelled":
		return true
	}
	return s.Error != "" && !s.IsReady
}

// MediaURL prefers video over audio.
func (s StatusResponse) MediaURL() string {
	if s.VideoURL != "" {
		return s.VideoURL
	}
	return s.AudioURL
}
