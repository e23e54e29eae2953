package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/docanalyzer/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")
var ErrInvalidTransition = errors.New("invalid job status transition")

const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// Store is the data access interface. All job persistence goes through here.
// Implementations must be safe for concurrent use; writes to one job id are
// serialized and writes to different ids do not interfere.
type Store interface {
	Ping(ctx context.Context) error

	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*models.Job, int, error)
	UpdateJobStatus(ctx context.Context, id uuid.UUID, status string, opts ...JobUpdateOption) error
	DeleteJob(ctx context.Context, id uuid.UUID) error
}

// JobFilter selects jobs for ListJobs. Results are ordered by created_at DESC.
type JobFilter struct {
	Status string
	Page   int
	Limit  int
}

// normalize clamps Limit to [1, MaxListLimit] and Page to >= 1.
func (f JobFilter) normalize() JobFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	if f.Limit > MaxListLimit {
		f.Limit = MaxListLimit
	}
	if f.Page <= 0 {
		f.Page = 1
	}
	return f
}

func (f JobFilter) offset() int {
	return (f.Page - 1) * f.Limit
}

// processing -> processing is a retry attempt re-entering execution.
var validTransitions = map[string][]string{
	models.JobStatusQueued:     {models.JobStatusProcessing},
	models.JobStatusProcessing: {models.JobStatusProcessing, models.JobStatusCompleted, models.JobStatusFailed},
}

// allowedFrom returns the statuses a job may currently hold to move to target.
func allowedFrom(target string) []string {
	var from []string
	for src, targets := range validTransitions {
		for _, t := range targets {
			if t == target {
				from = append(from, src)
			}
		}
	}
	return from
}

func canTransition(from, to string) bool {
	for _, t := range validTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

type jobUpdateParams struct {
	StartedAt       *time.Time
	Result          *string
	ErrorMessage    *string
	CompletedAt     *time.Time
	DurationSeconds *float64
}

type JobUpdateOption func(*jobUpdateParams)

// WithStartedAt stamps the beginning of an execution attempt.
func WithStartedAt(t time.Time) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.StartedAt = &t
	}
}

func WithResult(result string) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.Result = &result
	}
}

func WithErrorMessage(msg string) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.ErrorMessage = &msg
	}
}

// WithCompletion stamps completed_at and duration_seconds for a terminal write.
func WithCompletion(completedAt time.Time, durationSeconds float64) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.CompletedAt = &completedAt
		p.DurationSeconds = &durationSeconds
	}
}

func buildParams(status string, opts []JobUpdateOption) (*jobUpdateParams, error) {
	if !models.IsValidStatus(status) {
		return nil, fmt.Errorf("unknown job status %q", status)
	}
	params := &jobUpdateParams{}
	for _, opt := range opts {
		opt(params)
	}

	switch status {
	case models.JobStatusCompleted:
		if params.Result == nil || params.ErrorMessage != nil {
			return nil, fmt.Errorf("completed job requires a result and no error")
		}
	case models.JobStatusFailed:
		if params.ErrorMessage == nil || params.Result != nil {
			return nil, fmt.Errorf("failed job requires an error and no result")
		}
	default:
		if params.Result != nil || params.ErrorMessage != nil {
			return nil, fmt.Errorf("%s job cannot carry a result or error", status)
		}
	}
	return params, nil
}
