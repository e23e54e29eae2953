package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/docanalyzer/internal/document"
	"github.com/kiranshivaraju/docanalyzer/internal/store"
	"github.com/kiranshivaraju/docanalyzer/internal/tracing"
	"github.com/kiranshivaraju/docanalyzer/pkg/models"
	"go.opentelemetry.io/otel/attribute"
)

// Task identifies one job execution. Document is the storage key of the upload.
type Task struct {
	JobID    uuid.UUID
	Query    string
	Document string
}

// Executor runs jobs for both the inline and the queued path.
type Executor struct {
	store   store.Store
	docs    document.Storage
	reader  document.Reader
	engine  models.AnalysisEngine
	timeout time.Duration
	now     func() time.Time
}

// NewExecutor creates an Executor. A zero timeout leaves the engine call unbounded.
func NewExecutor(st store.Store, docs document.Storage, reader document.Reader, engine models.AnalysisEngine, timeout time.Duration) *Executor {
	return &Executor{
		store:   st,
		docs:    docs,
		reader:  reader,
		engine:  engine,
		timeout: timeout,
		now:     time.Now,
	}
}

// Execute runs one attempt and records a failure as terminal. Used by the
// synchronous path, which has no retries.
func (e *Executor) Execute(ctx context.Context, t Task) (*models.Job, error) {
	j, err := e.Attempt(ctx, t)
	if err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrAlreadyTerminal) {
		return j, err
	}

	failed, ferr := e.Fail(ctx, t, err)
	if ferr != nil && !errors.Is(ferr, ErrNotFound) {
		slog.Error("failed to record job failure", "job_id", t.JobID, "error", ferr, "cause", err)
	}
	var execErr *ExecutionError
	if !errors.As(err, &execErr) {
		err = &ExecutionError{JobID: t.JobID, Err: err}
	}
	return failed, err
}

// Attempt marks the job processing, runs the engine, and records a success.
// On failure it returns the error without touching the record and keeps the
// document so the attempt can be repeated.
func (e *Executor) Attempt(ctx context.Context, t Task) (j *models.Job, err error) {
	ctx, span := tracing.StartSpan(ctx, "job.Attempt", attribute.String("job.id", t.JobID.String()))
	defer span.End()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic during job execution", "job_id", t.JobID, "error", r, "stack", string(debug.Stack()))
			j, err = nil, &ExecutionError{JobID: t.JobID, Err: fmt.Errorf("internal error: %v", r)}
		}
		tracing.RecordError(span, err)
	}()

	j, err = e.store.GetJob(ctx, t.JobID)
	if errors.Is(err, store.ErrNotFound) {
		e.cleanup(ctx, t)
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load job: %w", err)
	}
	if j.IsTerminal() {
		e.cleanup(ctx, t)
		return j, ErrAlreadyTerminal
	}

	// start keeps its monotonic reading for the duration; stored timestamps
	// are UTC wall times no earlier than created_at.
	start := e.now()
	startedAt := notBefore(start.UTC(), j.CreatedAt)
	if err := e.store.UpdateJobStatus(ctx, t.JobID, models.JobStatusProcessing, store.WithStartedAt(startedAt)); err != nil {
		return nil, e.translateWriteError(ctx, t, "mark processing", err)
	}
	j.Status = models.JobStatusProcessing
	j.StartedAt = &startedAt

	report, err := e.run(ctx, j, t)
	if err != nil {
		return nil, &ExecutionError{JobID: t.JobID, Err: err}
	}

	finish := e.now()
	duration := roundSeconds(finish.Sub(start))
	completedAt := notBefore(finish.UTC(), startedAt)
	// The result must be recorded even if the caller has gone away.
	wctx := context.WithoutCancel(ctx)
	err = e.store.UpdateJobStatus(wctx, t.JobID, models.JobStatusCompleted,
		store.WithResult(report), store.WithCompletion(completedAt, duration))
	if errors.Is(err, store.ErrNotFound) {
		slog.Warn("job deleted while processing, result discarded", "job_id", t.JobID)
		err = nil
	}
	if err != nil {
		return nil, e.translateWriteError(ctx, t, "record completion", err)
	}

	e.cleanup(ctx, t)
	j.Status = models.JobStatusCompleted
	j.Result = &report
	j.CompletedAt = &completedAt
	j.DurationSeconds = &duration
	slog.Info("job completed", "job_id", t.JobID, "duration_seconds", duration, "engine", e.engine.Name())
	return j, nil
}

// Fail records cause as the job's terminal error and releases the document.
func (e *Executor) Fail(ctx context.Context, t Task, cause error) (*models.Job, error) {
	ctx = context.WithoutCancel(ctx)
	defer e.cleanup(ctx, t)

	j, err := e.store.GetJob(ctx, t.JobID)
	if errors.Is(err, store.ErrNotFound) {
		slog.Warn("job deleted before failure was recorded", "job_id", t.JobID, "cause", cause)
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load job: %w", err)
	}
	if j.IsTerminal() {
		return j, ErrAlreadyTerminal
	}

	now := notBefore(e.now().UTC(), j.CreatedAt)
	startedAt := now
	if j.Status == models.JobStatusQueued {
		// Never reached processing; the state machine still requires the step.
		if err := e.store.UpdateJobStatus(ctx, t.JobID, models.JobStatusProcessing, store.WithStartedAt(now)); err != nil {
			return nil, e.translateWriteError(ctx, t, "mark processing", err)
		}
	} else if j.StartedAt != nil {
		startedAt = *j.StartedAt
		now = notBefore(now, startedAt)
	}

	msg := failureMessage(cause)
	duration := roundSeconds(now.Sub(startedAt))
	err = e.store.UpdateJobStatus(ctx, t.JobID, models.JobStatusFailed,
		store.WithErrorMessage(msg), store.WithCompletion(now, duration))
	if err != nil {
		return nil, e.translateWriteError(ctx, t, "record failure", err)
	}

	j.Status = models.JobStatusFailed
	j.Error = &msg
	j.StartedAt = &startedAt
	j.CompletedAt = &now
	j.DurationSeconds = &duration
	slog.Error("job failed", "job_id", t.JobID, "error", msg)
	return j, nil
}

// run materialises the document, extracts its text and calls the engine.
func (e *Executor) run(ctx context.Context, j *models.Job, t Task) (string, error) {
	path, release, err := e.docs.Open(ctx, t.Document)
	if err != nil {
		return "", fmt.Errorf("open document: %w", err)
	}
	defer release()

	text, err := e.reader.Extract(ctx, path)
	if err != nil {
		return "", fmt.Errorf("read document: %w", err)
	}

	runCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	query := t.Query
	if query == "" {
		query = j.Query
	}
	report, err := e.engine.Analyze(runCtx, models.AnalysisRequest{
		Query:        query,
		DocumentText: text,
		Filename:     j.Filename,
	})
	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return "", fmt.Errorf("analysis timed out after %s: %w", e.timeout, err)
		}
		return "", err
	}
	return report, nil
}

func (e *Executor) translateWriteError(ctx context.Context, t Task, op string, err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		e.cleanup(ctx, t)
		return ErrNotFound
	case errors.Is(err, store.ErrInvalidTransition):
		// Another execution already settled the job.
		e.cleanup(ctx, t)
		return ErrAlreadyTerminal
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

func (e *Executor) cleanup(ctx context.Context, t Task) {
	if t.Document == "" {
		return
	}
	if err := e.docs.Remove(context.WithoutCancel(ctx), t.Document); err != nil {
		slog.Warn("failed to remove document", "job_id", t.JobID, "document", t.Document, "error", err)
	}
}

func failureMessage(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}

func notBefore(t, floor time.Time) time.Time {
	if t.Before(floor) {
		return floor
	}
	return t
}

func roundSeconds(d time.Duration) float64 {
	if d < 0 {
		d = 0
	}
	return math.Round(d.Seconds()*100) / 100
}
