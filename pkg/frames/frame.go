// Package frames carries recognizer and synthesizer output between the
// speech vendors and the interview components.
package frames

import "time"

type Kind string

const (
	KindAudio   Kind = "audio"
	KindText    Kind = "text"
	KindControl Kind = "control"
)

type ControlCode string

const (
	// ControlSpeechStarted: recognizer VAD heard speech.
	ControlSpeechStarted ControlCode = "speech_started"
	// ControlUtteranceEnd: recognizer decided the utterance is over.
	ControlUtteranceEnd ControlCode = "utterance_end"
	// ControlSynthesisStarted / ControlSynthesisDone bracket one TTS utterance.
	ControlSynthesisStarted ControlCode = "synthesis_started"
	ControlSynthesisDone    ControlCode = "synthesis_done"
	ControlError            ControlCode = "error"
	ControlClosed           ControlCode = "closed"
)

type Frame interface {
	Kind() Kind
	PTS() int64
	Meta() map[string]string
}

// header is the timestamp and metadata every frame carries. Meta is fixed
// at construction; readers get a copy.
type header struct {
	pts  int64
	meta map[string]string
}

func newHeader(sessionID string, pts int64, meta map[string]string) header {
	m := make(map[string]string, len(meta)+1)
	for k, v := range meta {
		m[k] = v
	}
	if sessionID != "" {
		m[MetaSessionID] = sessionID
	}
	return header{pts: pts, meta: m}
}

func (h header) PTS() int64 { return h.pts }

func (h header) Meta() map[string]string {
	out := make(map[string]string, len(h.meta))
	for k, v := range h.meta {
		out[k] = v
	}
	return out
}

// Get reads one metadata value without copying the map.
func (h header) Get(key string) string { return h.meta[key] }

func (h header) SessionID() string { return h.meta[MetaSessionID] }

// AudioFrame is little-endian PCM16.
type AudioFrame struct {
	header
	data []byte
	rate int
	ch   int
}

func NewAudioFrame(sessionID string, pts int64, data []byte, rate, ch int, meta map[string]string) AudioFrame {
	return AudioFrame{header: newHeader(sessionID, pts, meta), data: data, rate: rate, ch: ch}
}

func (a AudioFrame) Kind() Kind { return KindAudio }

// Data returns a copy of the payload.
func (a AudioFrame) Data() []byte { return append([]byte(nil), a.data...) }

// RawPayload returns the payload itself. Readers must not modify it.
func (a AudioFrame) RawPayload() []byte { return a.data }
func (a AudioFrame) Rate() int          { return a.rate }
func (a AudioFrame) Channels() int      { return a.ch }

// Duration is the playback length of the payload.
func (a AudioFrame) Duration() time.Duration {
	if a.rate <= 0 || a.ch <= 0 {
		return 0
	}
	samples := len(a.data) / (2 * a.ch)
	return time.Duration(samples) * time.Second / time.Duration(a.rate)
}

type TextFrame struct {
	header
	text string
}

func NewTextFrame(sessionID string, pts int64, text string, meta map[string]string) TextFrame {
	return TextFrame{header: newHeader(sessionID, pts, meta), text: text}
}

func (t TextFrame) Kind() Kind   { return KindText }
func (t TextFrame) Text() string { return t.text }

// IsFinal reports whether the recognizer marked this text as final.
func (t TextFrame) IsFinal() bool { return t.meta[MetaIsFinal] == "true" }

type ControlFrame struct {
	header
	code ControlCode
}

func NewControlFrame(sessionID string, pts int64, code ControlCode, meta map[string]string) ControlFrame {
	return ControlFrame{header: newHeader(sessionID, pts, meta), code: code}
}

func (c ControlFrame) Kind() Kind        { return KindControl }
func (c ControlFrame) Code() ControlCode { return c.code }
