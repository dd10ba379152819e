package logger

// Fields is an alias for map[string]interface{} for convenience.
type Fields map[string]interface{}

// Tracing fields, propagated through the call chain via context.
const (
	FieldRequestID  = "request_id"
	FieldJobID      = "job_id"
	FieldImportType = "import_type"
	FieldBatch      = "batch"
	FieldPage       = "page"
	FieldComponent  = "component"
	FieldTaskID     = "task_id"
)

// Metric fields, attached per entry for aggregation and alerting.
const (
	FieldDurationMs = "duration_ms"
	FieldCount      = "count"
	FieldStatus     = "status"
	FieldAttempt    = "attempt"
)
