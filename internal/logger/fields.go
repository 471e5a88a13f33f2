package logger

// Fields is an alias for map[string]interface{} for convenience.
type Fields map[string]interface{}

// Tracing fields, carried on the context logger through a request.
const (
	FieldRequestID = "request_id"
	FieldSessionID = "session_id"
	FieldPass      = "pass"
	FieldComponent = "component"
	// FieldUpstream names the remote dependency being called.
	FieldUpstream = "upstream"
)

// Metric fields, attached per entry for aggregation.
const (
	FieldDurationMs = "duration_ms"
	FieldCount      = "count"
	FieldSize       = "size"
	FieldStatus     = "status"
	FieldStage      = "stage"
	FieldReason     = "reason"
)
