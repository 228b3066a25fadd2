package convert

import (
	"errors"
	"fmt"
)

// Kind classifies why a single file failed to convert.
type Kind string

const (
	KindOutputDir       Kind = "output_dir"
	KindToolUnreachable Kind = "tool_unreachable"
	KindStage1Failed    Kind = "stage1_failed"
	KindStage1Empty     Kind = "stage1_empty"
	KindStage2Failed    Kind = "stage2_failed"
	KindStage2NoOutput  Kind = "stage2_no_output"
	KindCancelled       Kind = "cancelled"
)

// CancelledMessage is the status text of a job interrupted by the user.
const CancelledMessage = "cancelled by user"

// ConversionError is a classified per-file failure. Stdout and Stderr hold
// the captured tool output unmodified.
type ConversionError struct {
	Kind     Kind     `json:"kind"`
	Message  string   `json:"message"`
	Command  string   `json:"command,omitempty"`
	Args     []string `json:"args,omitempty"`
	ExitCode int      `json:"exitCode"`
	Stdout   string   `json:"stdout,omitempty"`
	Stderr   string   `json:"stderr,omitempty"`
	Err      error    `json:"-"`
}

// Error returns the human-readable message shown as the job's failure reason.
func (e *ConversionError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// Unwrap exposes the underlying error for errors.Is / errors.As.
func (e *ConversionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Cancelled builds the error recorded for a job the user interrupted.
func Cancelled(cause error) *ConversionError {
	return &ConversionError{Kind: KindCancelled, Message: CancelledMessage, Err: cause}
}

// KindOf returns the classification of err, or "" when it is not a ConversionError.
func KindOf(err error) Kind {
	var convErr *ConversionError
	if errors.As(err, &convErr) {
		return convErr.Kind
	}
	return ""
}

// diagnostic picks the first non-empty text, falling back to the exit code.
func diagnostic(exitCode int, candidates ...string) string {
	for _, c := range candidates {
		if c != "" {
			return c
		}
	}
	return fmt.Sprintf("exit code %d", exitCode)
}
