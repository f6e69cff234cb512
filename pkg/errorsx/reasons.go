package errorsx

import "errors"

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonSTTConnect     ReasonCode = "stt_connect"
	ReasonSTTSend        ReasonCode = "stt_send"
	ReasonSTTUnavailable ReasonCode = "stt_unavailable"
	ReasonSTTPermission  ReasonCode = "stt_permission"

	ReasonTTSConnect     ReasonCode = "tts_connect"
	ReasonTTSSend        ReasonCode = "tts_send"
	ReasonTTSRateLimit   ReasonCode = "tts_rate_limit"
	ReasonTTSCircuitOpen ReasonCode = "tts_circuit_open"

	ReasonAvatarSpeak       ReasonCode = "avatar_speak"
	ReasonAvatarStatus      ReasonCode = "avatar_status"
	ReasonAvatarPlay        ReasonCode = "avatar_play"
	ReasonAvatarRateLimit   ReasonCode = "avatar_rate_limit"
	ReasonAvatarCircuitOpen ReasonCode = "avatar_circuit_open"

	ReasonRoomConnect   ReasonCode = "room_connect"
	ReasonRoomToken     ReasonCode = "room_token"
	ReasonRoomProvision ReasonCode = "room_provision"

	ReasonEvaluate     ReasonCode = "evaluate"
	ReasonSubmit       ReasonCode = "submit"
	ReasonSkip         ReasonCode = "skip"
	ReasonSessionStart ReasonCode = "session_start"
	ReasonSessionEnd   ReasonCode = "session_end"
	ReasonAuthExpired  ReasonCode = "auth_expired"

	ReasonSnapshotSave ReasonCode = "snapshot_save"
	ReasonSnapshotLoad ReasonCode = "snapshot_load"
	ReasonRecording    ReasonCode = "recording"

	ReasonTransportSend ReasonCode = "transport_send"
)

// reasonClass is the class a reason implies when nothing classified the
// error explicitly.
var reasonClass = map[ReasonCode]Class{
	ReasonAuthExpired:       ClassAuthExpired,
	ReasonSTTPermission:     ClassCapabilityUnavailable,
	ReasonSTTUnavailable:    ClassCapabilityUnavailable,
	ReasonTTSCircuitOpen:    ClassProviderUnavailable,
	ReasonAvatarCircuitOpen: ClassProviderUnavailable,
	ReasonAvatarRateLimit:   ClassProviderUnavailable,
	ReasonTTSRateLimit:      ClassProviderUnavailable,
}

// Class reports the class a reason implies, or "" when it implies none.
func (r ReasonCode) Class() Class { return reasonClass[r] }

// ReasonedError pairs an error with the first reason attached to it.
type ReasonedError struct {
	Reason ReasonCode
	Err    error
}

func (e *ReasonedError) Error() string {
	if e.Err == nil {
		return string(e.Reason)
	}
	return e.Err.Error()
}

func (e *ReasonedError) Unwrap() error { return e.Err }

// Wrap attaches reason to err. The innermost reason wins, so an error keeps
// the reason of the layer that produced it.
func Wrap(err error, reason ReasonCode) error {
	if err == nil {
		return nil
	}
	if _, ok := reasoned(err); ok {
		return err
	}
	return &ReasonedError{Reason: reason, Err: err}
}

func Reason(err error) ReasonCode {
	if re, ok := reasoned(err); ok {
		return re.Reason
	}
	return ReasonUnknown
}

func HasReason(err error, reason ReasonCode) bool {
	return err != nil && Reason(err) == reason
}

func reasoned(err error) (*ReasonedError, bool) {
	var re *ReasonedError
	if err == nil || !errors.As(err, &re) {
		return nil, false
	}
	return re, true
}
