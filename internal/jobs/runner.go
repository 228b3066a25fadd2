// Package jobs owns the batch job list and runs conversions sequentially
// with cooperative cancellation.
package jobs

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"encore-converter/internal/convert"
	"encore-converter/internal/domain"
	"encore-converter/internal/logger"
)

var (
	// ErrToolsNotReady blocks a run until every external tool is available.
	ErrToolsNotReady = errors.New("conversion tools are not ready")
	// ErrNoOutputDir is returned when a run starts without a destination.
	ErrNoOutputDir = errors.New("output directory is not set")
	// ErrRunInProgress is returned for a second run or for list edits during a run.
	ErrRunInProgress = errors.New("a conversion run is already in progress")
	// ErrNoJobs is returned when a run starts with an empty list.
	ErrNoJobs = errors.New("no files to convert")
	// ErrNotRunning is returned when cancel is requested while idle.
	ErrNotRunning = errors.New("no conversion run in progress")
)

// Converter turns one source file into its final artifact.
type Converter interface {
	Convert(ctx context.Context, sourcePath, outputDir string, env domain.ToolEnvironment) (string, error)
}

// Recorder receives every job that reached a terminal state.
type Recorder interface {
	Record(ctx context.Context, batchID string, job domain.Job) error
}

// BatchRunner owns the job list and the single active run.
type BatchRunner struct {
	converter Converter
	recorder  Recorder
	list      *JobList
	events    *EventBus

	mu      sync.Mutex
	running bool
	batchID string
	done    chan struct{}

	cancelRequested atomic.Bool
	processed       atomic.Int64

	subMu       sync.RWMutex
	subscribers []func(Event)
}

// Option customizes a BatchRunner.
type Option func(*BatchRunner)

// WithRecorder attaches a sink for finished jobs.
func WithRecorder(recorder Recorder) Option {
	return func(r *BatchRunner) {
		r.recorder = recorder
	}
}

// WithEventBus replaces the default event buffer.
func WithEventBus(bus *EventBus) Option {
	return func(r *BatchRunner) {
		if bus != nil {
			r.events = bus
		}
	}
}

// NewBatchRunner creates an idle runner with an empty list.
func NewBatchRunner(converter Converter, opts ...Option) *BatchRunner {
	r := &BatchRunner{
		converter: converter,
		list:      NewJobList(),
		events:    NewEventBus(0),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AddJobs enqueues .enc paths and returns how many were new.
func (r *BatchRunner) AddJobs(paths []string) (int, error) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return 0, ErrRunInProgress
	}
	added := r.list.Add(paths)
	shared := r.list.SharedOutputs()
	r.mu.Unlock()

	for name, sources := range shared {
		logger.GetDefault().WithFields(logger.Fields{
			logger.FieldComponent: "jobs",
			logger.FieldOutput:    name,
			logger.FieldCount:     len(sources),
		}).Warnf("files share an output name, the last converted overwrites the others: %s", strings.Join(sources, ", "))
	}
	if len(added) > 0 {
		r.publish(Event{Type: EventTypeBatch, Message: "files added"})
	}
	return len(added), nil
}

// Remove drops one job from the list.
func (r *BatchRunner) Remove(id string) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return ErrRunInProgress
	}
	err := r.list.Remove(id)
	r.mu.Unlock()
	if err != nil {
		return err
	}

	r.publish(Event{Type: EventTypeBatch, JobID: id, Message: "file removed"})
	return nil
}

// Clear empties the list.
func (r *BatchRunner) Clear() error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return ErrRunInProgress
	}
	r.list.Clear()
	r.mu.Unlock()

	r.publish(Event{Type: EventTypeBatch, Message: "list cleared"})
	return nil
}

// Run converts every job in order and blocks until the batch ends.
// Per-job failures are recorded on the job, never returned.
func (r *BatchRunner) Run(ctx context.Context, outputDir string, env domain.ToolEnvironment) error {
	batchID, err := r.begin(outputDir, env)
	if err != nil {
		return err
	}
	r.execute(ctx, batchID, outputDir, env)
	return nil
}

// Start checks preconditions synchronously and runs the batch in the
// background. Wait blocks until it ends.
func (r *BatchRunner) Start(ctx context.Context, outputDir string, env domain.ToolEnvironment) error {
	batchID, err := r.begin(outputDir, env)
	if err != nil {
		return err
	}
	go r.execute(ctx, batchID, outputDir, env)
	return nil
}

// Wait blocks until the active run, if any, has finished.
func (r *BatchRunner) Wait() {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Cancel asks the active run to stop at the next job boundary. The job
// being converted is not interrupted.
func (r *BatchRunner) Cancel() error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return ErrNotRunning
	}
	r.cancelRequested.Store(true)
	batchID := r.batchID
	r.mu.Unlock()

	r.publish(Event{Type: EventTypeBatch, BatchID: batchID, Message: "cancellation requested"})
	return nil
}

// IsRunning reports whether a batch is active.
func (r *BatchRunner) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Jobs returns copies of all jobs in execution order.
func (r *BatchRunner) Jobs() []domain.Job {
	return r.list.Snapshot()
}

// Views returns presentation snapshots of all jobs.
func (r *BatchRunner) Views() []domain.JobView {
	jobs := r.list.Snapshot()
	views := make([]domain.JobView, 0, len(jobs))
	for _, job := range jobs {
		views = append(views, job.View())
	}
	return views
}

// Counters aggregates progress for status bars.
func (r *BatchRunner) Counters() domain.Counters {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.countersLocked()
}

// ProcessedCount is the number of jobs attempted in the current or last run.
func (r *BatchRunner) ProcessedCount() int {
	return int(r.processed.Load())
}

// Events returns buffered events newer than sinceSeq.
func (r *BatchRunner) Events(sinceSeq int64) []Event {
	return r.events.Since(sinceSeq)
}

// Subscribe registers fn for every published event. fn runs on the
// publishing goroutine, after the event is buffered.
func (r *BatchRunner) Subscribe(fn func(Event)) {
	if fn == nil {
		return
	}
	r.subMu.Lock()
	defer r.subMu.Unlock()
	r.subscribers = append(r.subscribers, fn)
}

func (r *BatchRunner) begin(outputDir string, env domain.ToolEnvironment) (string, error) {
	if !env.AllReady() {
		return "", ErrToolsNotReady
	}
	if strings.TrimSpace(outputDir) == "" {
		return "", ErrNoOutputDir
	}

	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return "", ErrRunInProgress
	}
	if r.list.Len() == 0 {
		r.mu.Unlock()
		return "", ErrNoJobs
	}

	r.running = true
	r.batchID = uuid.NewString()
	r.done = make(chan struct{})
	r.cancelRequested.Store(false)
	r.processed.Store(0)
	r.list.ResetAll()
	batchID := r.batchID
	r.mu.Unlock()

	r.publish(Event{Type: EventTypeBatch, BatchID: batchID, Message: "batch started"})
	return batchID, nil
}

func (r *BatchRunner) execute(ctx context.Context, batchID, outputDir string, env domain.ToolEnvironment) {
	log := logger.FromContext(ctx).WithFields(logger.Fields{
		logger.FieldComponent: "jobs",
		"batch_id":            batchID,
	})
	start := time.Now()
	cancelled := false

	for i := 0; ; i++ {
		job, ok := r.list.At(i)
		if !ok {
			break
		}
		if r.stopRequested(ctx) {
			cancelled = true
			log.WithField(logger.FieldCount, i).Info("batch cancelled before next file")
			break
		}
		r.convertOne(ctx, log, batchID, job, outputDir, env)
	}

	message := "batch finished"
	if cancelled {
		message = "batch cancelled"
	}
	r.mu.Lock()
	r.running = false
	counters := r.countersLocked()
	done := r.done
	r.mu.Unlock()
	r.publish(Event{Type: EventTypeBatch, BatchID: batchID, Message: message})

	log.WithFields(logger.Fields{
		"completed":            counters.Completed,
		"processed":            counters.Processed,
		logger.FieldDurationMs: time.Since(start).Milliseconds(),
	}).Info(message)
	close(done)
}

func (r *BatchRunner) convertOne(ctx context.Context, log *logger.Logger, batchID string, job domain.Job, outputDir string, env domain.ToolEnvironment) {
	jobLog := log.WithFields(logger.Fields{
		logger.FieldJobID:  job.ID,
		logger.FieldSource: job.SourcePath,
	})

	if _, err := r.list.Transition(job.ID, domain.JobStatusConverting, "", ""); err != nil {
		jobLog.WithError(err).Error("cannot start job")
		return
	}
	r.processed.Add(1)
	r.publish(Event{Type: EventTypeStatus, BatchID: batchID, JobID: job.ID, Status: domain.JobStatusConverting})

	outputPath, err := r.converter.Convert(ctx, job.SourcePath, outputDir, env)
	status := domain.JobStatusDone
	reason := ""
	event := Event{Type: EventTypeStatus, BatchID: batchID, JobID: job.ID}
	if err != nil {
		status = domain.JobStatusFailed
		reason = err.Error()
		event.Kind = string(convert.KindOf(err))
		var convErr *convert.ConversionError
		if errors.As(err, &convErr) {
			event.Stderr = convErr.Stderr
		}
		if r.stopRequested(ctx) {
			reason = convert.CancelledMessage
			event.Kind = string(convert.KindCancelled)
		}
	}

	finished, terr := r.list.Transition(job.ID, status, reason, outputPath)
	if terr != nil {
		jobLog.WithError(terr).Error("cannot finish job")
		return
	}

	event.Status = finished.Status
	event.Message = finished.Error
	event.OutputPath = finished.OutputPath
	r.publish(event)

	if err != nil {
		jobLog.WithFields(logger.Fields{
			logger.FieldKind:   event.Kind,
			logger.FieldStatus: string(finished.Status),
		}).WithError(err).Warn("file failed")
	} else {
		jobLog.WithFields(logger.Fields{
			logger.FieldOutput: outputPath,
			logger.FieldStatus: string(finished.Status),
		}).Info("file done")
	}

	if r.recorder != nil {
		if rerr := r.recorder.Record(ctx, batchID, finished); rerr != nil {
			jobLog.WithError(rerr).Warn("cannot record job outcome")
		}
	}
}

// stopRequested is true once the user cancelled or the caller's context ended.
func (r *BatchRunner) stopRequested(ctx context.Context) bool {
	return r.cancelRequested.Load() || ctx.Err() != nil
}

func (r *BatchRunner) countersLocked() domain.Counters {
	counters := r.list.Counters()
	counters.Running = r.running
	return counters
}

func (r *BatchRunner) publish(event Event) {
	r.mu.Lock()
	event.Counters = r.countersLocked()
	published := r.events.Publish(event)
	r.mu.Unlock()
	r.notify(published)
}

func (r *BatchRunner) notify(event Event) {
	r.subMu.RLock()
	subscribers := append(([]func(Event))(nil), r.subscribers...)
	r.subMu.RUnlock()
	for _, fn := range subscribers {
		fn(event)
	}
}
