// Package contextkey holds the context keys shared by the HTTP layer and the
// logger.
package contextkey

// Key is also used as the gin context key, so its string form matters.
type Key string

const (
	TraceID   Key = "trace_id"
	RequestID Key = "request_id"
	RunID     Key = "run_id"
)
