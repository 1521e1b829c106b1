package logger

// Standard field keys. Use these consistently so logs can be queried.
const (
	KeySessionID  = "session_id"
	KeyUsername   = "username"
	KeyClientAddr = "client_addr"
	KeyRequestID  = "request_id"
	KeyProcedure  = "procedure"
	KeyHandle     = "handle"
	KeyPath       = "path"
	KeyMode       = "mode"
	KeyStatus     = "status"
	KeyOffset     = "offset"
	KeyCount      = "count"
	KeyBytes      = "bytes"
	KeyEntries    = "entries"
	KeyDurationMs = "duration_ms"
	KeyError      = "error"
	KeyAddress    = "address"
)
