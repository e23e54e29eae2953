// Package worker consumes queued jobs with a fixed pool of goroutines.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/docanalyzer/internal/cache"
	"github.com/kiranshivaraju/docanalyzer/internal/job"
	"github.com/kiranshivaraju/docanalyzer/internal/queue"
	"github.com/kiranshivaraju/docanalyzer/internal/tracing"
	"github.com/kiranshivaraju/docanalyzer/pkg/models"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Executor is the part of job.Executor the pool drives.
type Executor interface {
	Attempt(ctx context.Context, t job.Task) (*models.Job, error)
	Fail(ctx context.Context, t job.Task, cause error) (*models.Job, error)
}

// recoverer is implemented by queues that can hand back deliveries
// orphaned by a crashed consumer.
type recoverer interface {
	Recover(ctx context.Context) (int, error)
}

type Config struct {
	Concurrency  int
	Policy       RetryPolicy
	PollInterval time.Duration
	// LockTTL bounds how long one delivery holds the per-job lock.
	LockTTL time.Duration
}

// LockTTL derives the per-job lock lifetime from the engine timeout.
func LockTTL(engineTimeout time.Duration) time.Duration {
	if engineTimeout <= 0 {
		return time.Hour
	}
	return engineTimeout + time.Minute
}

type Pool struct {
	queue queue.Queue
	exec  Executor
	locks cache.Cache
	cfg   Config
}

func NewPool(q queue.Queue, exec Executor, locks cache.Cache, cfg Config) *Pool {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = time.Hour
	}
	return &Pool{queue: q, exec: exec, locks: locks, cfg: cfg}
}

// Run consumes until ctx is cancelled or the queue is closed, then waits for
// in-flight deliveries to finish.
func (p *Pool) Run(ctx context.Context) error {
	if r, ok := p.queue.(recoverer); ok {
		n, err := r.Recover(ctx)
		if err != nil {
			return fmt.Errorf("recover in-flight deliveries: %w", err)
		}
		if n > 0 {
			slog.Warn("requeued orphaned deliveries", "count", n)
		}
	}

	slog.Info("worker pool started", "concurrency", p.cfg.Concurrency,
		"max_retries", p.cfg.Policy.MaxRetries, "retry_delay", p.cfg.Policy.Delay)

	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.loop(ctx, id)
		}(i)
	}
	wg.Wait()
	slog.Info("worker pool stopped")
	return nil
}

func (p *Pool) loop(ctx context.Context, id int) {
	for {
		if ctx.Err() != nil {
			return
		}
		d, err := p.queue.Dequeue(ctx, p.cfg.PollInterval)
		switch {
		case err == nil:
			// A started delivery runs to its decision even during shutdown.
			p.handle(context.WithoutCancel(ctx), d)
		case errors.Is(err, queue.ErrEmpty):
		case errors.Is(err, queue.ErrClosed), ctx.Err() != nil:
			return
		default:
			slog.Error("dequeue failed", "worker", id, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.cfg.PollInterval):
			}
		}
	}
}

func (p *Pool) handle(ctx context.Context, d *queue.Delivery) {
	msg := d.Message
	ctx, span := tracing.StartSpan(ctx, "worker.handle",
		attribute.String("job.id", msg.JobID.String()),
		attribute.Int("job.attempt", msg.Attempt))
	defer span.End()

	task := job.Task{JobID: msg.JobID, Query: msg.Query, Document: msg.Document}
	lockKey := cache.JobLockKey(msg.JobID)
	owner := uuid.NewString()

	locked, err := p.locks.AcquireLock(ctx, lockKey, owner, p.cfg.LockTTL)
	if err != nil {
		// The lock backend is down. Count it as a failed attempt so the
		// job still settles within its retry budget.
		slog.Error("failed to acquire job lock", "job_id", msg.JobID, "error", err)
		p.settle(ctx, d, task, fmt.Errorf("acquire job lock: %w", err))
		return
	}
	if !locked {
		// Another delivery of the same job is running. Try again later
		// without spending an attempt.
		slog.Info("job locked by another delivery, deferring", "job_id", msg.JobID)
		if err := p.queue.Retry(ctx, d, p.cfg.Policy.Delay); err != nil {
			slog.Error("failed to requeue locked job, left for redelivery", "job_id", msg.JobID, "error", err)
		}
		return
	}
	defer func() {
		if err := p.locks.ReleaseLock(ctx, lockKey, owner); err != nil {
			slog.Warn("failed to release job lock", "job_id", msg.JobID, "error", err)
		}
	}()

	p.settle(ctx, d, task, p.attempt(ctx, task))
}

// settle applies the retry decision for the outcome of one attempt.
func (p *Pool) settle(ctx context.Context, d *queue.Delivery, task job.Task, err error) {
	msg := d.Message
	span := trace.SpanFromContext(ctx)
	tracing.RecordError(span, err)
	decision := Decide(msg.Attempt, err, p.cfg.Policy)
	span.SetAttributes(attribute.String("worker.decision", decision.Action.String()))

	switch decision.Action {
	case ActionAck:
		if err != nil {
			slog.Info("job settled elsewhere, dropping delivery", "job_id", msg.JobID, "reason", err)
		}
		p.ack(ctx, d)
	case ActionRetry:
		slog.Warn("job attempt failed, retrying",
			"job_id", msg.JobID, "attempt", msg.Attempt+1, "max_attempts", p.cfg.Policy.MaxRetries+1,
			"retry_in", decision.Delay, "error", err)
		d.Message.Attempt = msg.Attempt + 1
		if err := p.queue.Retry(ctx, d, decision.Delay); err != nil {
			slog.Error("failed to schedule retry, recording failure", "job_id", msg.JobID, "error", err)
			p.fail(ctx, task, err)
			p.ack(ctx, d)
		}
	case ActionFail:
		p.fail(ctx, task, err)
		p.ack(ctx, d)
	}
}

// attempt runs one execution, turning a panic into an error so the
// goroutine survives.
func (p *Pool) attempt(ctx context.Context, t job.Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in worker", "job_id", t.JobID, "error", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("internal error: %v", r)
		}
	}()
	_, err = p.exec.Attempt(ctx, t)
	return err
}

func (p *Pool) fail(ctx context.Context, t job.Task, cause error) {
	_, err := p.exec.Fail(ctx, t, cause)
	if err != nil && !errors.Is(err, job.ErrNotFound) && !errors.Is(err, job.ErrAlreadyTerminal) {
		slog.Error("failed to record job failure", "job_id", t.JobID, "error", err, "cause", cause)
	}
}

func (p *Pool) ack(ctx context.Context, d *queue.Delivery) {
	if err := p.queue.Ack(ctx, d); err != nil {
		slog.Error("failed to ack delivery", "job_id", d.Message.JobID, "error", err)
	}
}
