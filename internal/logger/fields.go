package logger

// Fields is an alias for map[string]interface{} for convenience.
type Fields map[string]interface{}

const (
	FieldJobID     = "job_id"
	FieldComponent = "component"
	FieldTool      = "tool"
	FieldSource    = "source"
	FieldOutput    = "output"
	FieldStage     = "stage"
	FieldExitCode  = "exit_code"
	FieldKind      = "kind"

	FieldDurationMs = "duration_ms"
	FieldCount      = "count"
	FieldStatus     = "status"
)
