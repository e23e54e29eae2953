package job

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/docanalyzer/internal/document"
	"github.com/kiranshivaraju/docanalyzer/internal/queue"
	"github.com/kiranshivaraju/docanalyzer/internal/store"
	"github.com/kiranshivaraju/docanalyzer/internal/tracing"
	"github.com/kiranshivaraju/docanalyzer/pkg/models"
	"go.opentelemetry.io/otel/attribute"
)

type Mode string

const (
	ModeSync  Mode = "sync"
	ModeAsync Mode = "async"
)

type SubmitRequest struct {
	Filename string
	Query    string
	Document io.Reader
	Mode     Mode
}

// SubmissionConfig holds the validation rules for new submissions.
type SubmissionConfig struct {
	AllowedExtensions []string
	DefaultQuery      string
}

// SubmissionService accepts documents and either runs them inline or queues them.
type SubmissionService struct {
	store    store.Store
	docs     document.Storage
	queue    queue.Queue
	executor *Executor
	cfg      SubmissionConfig
}

func NewSubmissionService(st store.Store, docs document.Storage, q queue.Queue, exec *Executor, cfg SubmissionConfig) *SubmissionService {
	return &SubmissionService{store: st, docs: docs, queue: q, executor: exec, cfg: cfg}
}

// Submit validates and persists a new job. In sync mode it returns once the
// job is terminal; a failed run comes back as *ExecutionError. In async mode
// it returns the queued job immediately.
func (s *SubmissionService) Submit(ctx context.Context, req SubmitRequest) (*models.Job, error) {
	ctx, span := tracing.StartSpan(ctx, "job.Submit",
		attribute.String("job.mode", string(req.Mode)),
		attribute.String("job.filename", req.Filename))
	defer span.End()

	j, err := s.submit(ctx, req)
	tracing.RecordError(span, err)
	return j, err
}

func (s *SubmissionService) submit(ctx context.Context, req SubmitRequest) (*models.Job, error) {
	if req.Mode != ModeSync && req.Mode != ModeAsync {
		return nil, fmt.Errorf("%w: unknown mode %q", ErrInvalidInput, req.Mode)
	}
	if req.Document == nil {
		return nil, fmt.Errorf("%w: no file uploaded", ErrInvalidInput)
	}
	filename := filepath.Base(strings.TrimSpace(req.Filename))
	if !document.HasAllowedExtension(filename, s.cfg.AllowedExtensions) {
		return nil, fmt.Errorf("%w: unsupported file type %q, allowed: %s",
			ErrInvalidInput, filepath.Ext(filename), strings.Join(s.cfg.AllowedExtensions, ", "))
	}

	query := strings.TrimSpace(req.Query)
	if query == "" {
		query = s.cfg.DefaultQuery
	}

	if req.Mode == ModeAsync {
		if err := s.queue.Ping(ctx); err != nil {
			slog.Error("queue unreachable, rejecting async submission", "error", err)
			return nil, fmt.Errorf("%w: job queue unreachable", ErrServiceUnavailable)
		}
	}

	now := time.Now().UTC()
	status := models.JobStatusProcessing
	if req.Mode == ModeAsync {
		status = models.JobStatusQueued
	}
	j := &models.Job{
		ID:        uuid.New(),
		Filename:  filename,
		Query:     query,
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}
	key := document.Key(j.ID, filename)

	if err := s.docs.Put(ctx, key, req.Document); err != nil {
		return nil, fmt.Errorf("store document: %w", err)
	}
	if err := s.store.CreateJob(ctx, j); err != nil {
		s.discardDocument(ctx, j.ID, key)
		return nil, fmt.Errorf("create job: %w", err)
	}
	slog.Info("job submitted", "job_id", j.ID, "mode", req.Mode, "filename", filename)

	task := Task{JobID: j.ID, Query: query, Document: key}
	if req.Mode == ModeSync {
		return s.executor.Execute(ctx, task)
	}

	msg := queue.Message{JobID: j.ID, Query: query, Document: key}
	if err := s.queue.Enqueue(ctx, msg); err != nil {
		slog.Error("enqueue failed, rolling back submission", "job_id", j.ID, "error", err)
		rctx := context.WithoutCancel(ctx)
		if derr := s.store.DeleteJob(rctx, j.ID); derr != nil {
			slog.Error("failed to roll back job record", "job_id", j.ID, "error", derr)
		}
		s.discardDocument(rctx, j.ID, key)
		return nil, fmt.Errorf("%w: could not enqueue job", ErrServiceUnavailable)
	}
	return j, nil
}

func (s *SubmissionService) discardDocument(ctx context.Context, id uuid.UUID, key string) {
	if err := s.docs.Remove(context.WithoutCancel(ctx), key); err != nil {
		slog.Warn("failed to remove document", "job_id", id, "document", key, "error", err)
	}
}
