package frames

// Metadata keys carried on frames.
const (
	MetaSessionID = "session_id"
	MetaWindowID  = "window_id"
	MetaSource    = "source"
	MetaReason    = "reason"
	MetaIsFinal   = "is_final"
	MetaEncoding  = "encoding"
	MetaCodec     = "codec"
	MetaErrorKind = "error_kind"
	MetaError     = "error"
	MetaToken     = "token"
)
