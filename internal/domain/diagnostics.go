package domain

import "time"

// DiagnosticStatus indicates whether a single dependency check passed.
type DiagnosticStatus string

const (
	DiagnosticStatusPass DiagnosticStatus = "pass"
	DiagnosticStatusFail DiagnosticStatus = "fail"
)

// Diagnostic item IDs, also accepted by the install/fix action.
const (
	DiagnosticEnc2Ly  = "tool_go-enc2ly"
	DiagnosticPython  = "tool_python3"
	DiagnosticLibrary = "library_python-ly"
	DiagnosticOutput  = "output_dir"
)

// DiagnosticItem is one dependency check result with an optional install hint.
type DiagnosticItem struct {
	ID      string           `json:"id"`
	Name    string           `json:"name"`
	Status  DiagnosticStatus `json:"status"`
	Message string           `json:"message"`
	Hint    string           `json:"hint,omitempty"`
}

// DiagnosticReport aggregates dependency checks for the warning banner.
type DiagnosticReport struct {
	GeneratedAt time.Time        `json:"generatedAt"`
	HasFailures bool             `json:"hasFailures"`
	Ready       bool             `json:"ready"`
	Environment ToolEnvironment  `json:"environment"`
	Items       []DiagnosticItem `json:"items"`
}
