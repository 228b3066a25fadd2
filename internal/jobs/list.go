package jobs

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"encore-converter/internal/convert"
	"encore-converter/internal/domain"
)

// ErrJobNotFound is returned when an operation names an unknown job ID.
var ErrJobNotFound = errors.New("job not found")

// JobList is the ordered, path-unique set of queued files. Insertion order
// is execution order.
type JobList struct {
	mu    sync.RWMutex
	jobs  []domain.Job
	newID func() string
	now   func() time.Time
}

// NewJobList creates an empty list issuing UUID job IDs.
func NewJobList() *JobList {
	return &JobList{
		newID: uuid.NewString,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Add appends every new .enc path in the given order and returns the jobs
// created. Other extensions and paths already queued are dropped silently.
func (l *JobList) Add(paths []string) []domain.Job {
	candidates := lo.Uniq(lo.FilterMap(paths, func(path string, _ int) (string, bool) {
		return normalizePath(path)
	}))

	l.mu.Lock()
	defer l.mu.Unlock()

	existing := lo.SliceToMap(l.jobs, func(job domain.Job) (string, struct{}) {
		return job.SourcePath, struct{}{}
	})

	added := make([]domain.Job, 0, len(candidates))
	for _, path := range candidates {
		if _, dup := existing[path]; dup {
			continue
		}
		job := domain.Job{
			ID:         l.newID(),
			SourcePath: path,
			Status:     domain.JobStatusPending,
			UpdatedAt:  l.now(),
		}
		l.jobs = append(l.jobs, job)
		added = append(added, job)
	}
	return added
}

// Remove drops one job by ID.
func (l *JobList) Remove(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, idx, ok := lo.FindIndexOf(l.jobs, func(job domain.Job) bool { return job.ID == id })
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	l.jobs = append(l.jobs[:idx], l.jobs[idx+1:]...)
	return nil
}

// Clear empties the list.
func (l *JobList) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.jobs = nil
}

// Len returns the number of queued jobs.
func (l *JobList) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.jobs)
}

// At returns a copy of the job at position i.
func (l *JobList) At(i int) (domain.Job, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if i < 0 || i >= len(l.jobs) {
		return domain.Job{}, false
	}
	return l.jobs[i], true
}

// Snapshot returns copies of all jobs in order.
func (l *JobList) Snapshot() []domain.Job {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]domain.Job(nil), l.jobs...)
}

// ResetAll moves every job back to pending and clears results.
func (l *JobList) ResetAll() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for i := range l.jobs {
		l.jobs[i].Status = domain.JobStatusPending
		l.jobs[i].Error = ""
		l.jobs[i].OutputPath = ""
		l.jobs[i].UpdatedAt = now
	}
}

// Transition validates and applies one state machine edge. reason is kept
// only for failed jobs and outputPath only for done jobs.
func (l *JobList) Transition(id string, status domain.JobStatus, reason, outputPath string) (domain.Job, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, idx, ok := lo.FindIndexOf(l.jobs, func(job domain.Job) bool { return job.ID == id })
	if !ok {
		return domain.Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}

	job := &l.jobs[idx]
	if !isValidTransition(job.Status, status) {
		return *job, fmt.Errorf("invalid transition: %s -> %s", job.Status, status)
	}

	job.Status = status
	job.Error = ""
	job.OutputPath = ""
	switch status {
	case domain.JobStatusFailed:
		job.Error = reason
	case domain.JobStatusDone:
		job.OutputPath = outputPath
	}
	job.UpdatedAt = l.now()
	return *job, nil
}

// Counters aggregates progress over the current list.
func (l *JobList) Counters() domain.Counters {
	l.mu.RLock()
	defer l.mu.RUnlock()

	completed := lo.CountBy(l.jobs, func(job domain.Job) bool { return job.Status == domain.JobStatusDone })
	failed := lo.CountBy(l.jobs, func(job domain.Job) bool { return job.Status == domain.JobStatusFailed })
	return domain.Counters{
		Total:     len(l.jobs),
		Processed: completed + failed,
		Completed: completed,
		HasErrors: failed > 0,
	}
}

// SharedOutputs groups queued source paths whose artifacts land on the same
// output name. Only groups with more than one source are returned; within a
// group the last file converted overwrites the others.
func (l *JobList) SharedOutputs() map[string][]string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	groups := lo.GroupBy(l.jobs, func(job domain.Job) string {
		return filepath.Base(convert.ArtifactPaths(job.SourcePath, "").Final)
	})
	shared := make(map[string][]string)
	for name, group := range groups {
		if len(group) < 2 {
			continue
		}
		shared[name] = lo.Map(group, func(job domain.Job, _ int) string { return job.SourcePath })
	}
	return shared
}

// normalizePath keeps .enc files and returns their cleaned absolute path.
func normalizePath(path string) (string, bool) {
	path = strings.TrimSpace(path)
	if path == "" || !convert.HasInputExt(path) {
		return "", false
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", false
	}
	return abs, true
}

// isValidTransition enforces the allowed job state machine edges. Returning
// to pending is done only through ResetAll.
func isValidTransition(from, to domain.JobStatus) bool {
	switch from {
	case domain.JobStatusPending:
		return to == domain.JobStatusConverting
	case domain.JobStatusConverting:
		return to == domain.JobStatusDone || to == domain.JobStatusFailed
	default:
		return false
	}
}
