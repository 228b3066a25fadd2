package domain

import (
	"path/filepath"
	"time"
)

// JobStatus tracks one file's position in the conversion state machine.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusConverting JobStatus = "converting"
	JobStatusDone       JobStatus = "done"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether the status ends a job's attempt.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusDone || s == JobStatusFailed
}

// Settings contains user-selectable runtime configuration.
type Settings struct {
	OutputDir string `json:"outputDir"`
	InputDir  string `json:"inputDir,omitempty"`
}

// Job is one queued source file and its conversion status.
type Job struct {
	ID         string    `json:"id"`
	SourcePath string    `json:"sourcePath"`
	Status     JobStatus `json:"status"`
	Error      string    `json:"error,omitempty"`
	OutputPath string    `json:"outputPath,omitempty"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Name is the display name derived from the source path.
func (j Job) Name() string {
	return filepath.Base(j.SourcePath)
}

// JobView is the read-only snapshot handed to presentation layers.
type JobView struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	SourcePath string    `json:"sourcePath"`
	Status     JobStatus `json:"status"`
	Error      string    `json:"error,omitempty"`
	OutputPath string    `json:"outputPath,omitempty"`
}

// View converts a job into its presentation snapshot.
func (j Job) View() JobView {
	return JobView{
		ID:         j.ID,
		Name:       j.Name(),
		SourcePath: j.SourcePath,
		Status:     j.Status,
		Error:      j.Error,
		OutputPath: j.OutputPath,
	}
}

// Counters aggregates batch progress for status bars.
type Counters struct {
	Total     int  `json:"total"`
	Processed int  `json:"processed"`
	Completed int  `json:"completed"`
	HasErrors bool `json:"hasErrors"`
	Running   bool `json:"running"`
}
