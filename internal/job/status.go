package job

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/docanalyzer/internal/store"
	"github.com/kiranshivaraju/docanalyzer/pkg/models"
)

// Status is the polling projection of a job. Result and Error are only
// populated once the job is terminal.
type Status struct {
	JobID           uuid.UUID
	Status          string
	Filename        string
	Query           string
	CreatedAt       time.Time
	Result          *string
	Error           *string
	CompletedAt     *time.Time
	DurationSeconds *float64
}

type HistoryFilter struct {
	Limit  int
	Page   int
	Status string
}

// StatusService serves read projections and deletion over the Store.
type StatusService struct {
	store store.Store
}

func NewStatusService(st store.Store) *StatusService {
	return &StatusService{store: st}
}

func (s *StatusService) GetStatus(ctx context.Context, id uuid.UUID) (*Status, error) {
	j, err := s.GetFull(ctx, id)
	if err != nil {
		return nil, err
	}
	st := &Status{
		JobID:     j.ID,
		Status:    j.Status,
		Filename:  j.Filename,
		Query:     j.Query,
		CreatedAt: j.CreatedAt,
	}
	if j.IsTerminal() {
		st.Result = j.Result
		st.Error = j.Error
		st.CompletedAt = j.CompletedAt
		st.DurationSeconds = j.DurationSeconds
	}
	return st, nil
}

// ListHistory returns jobs newest first with the total matching count.
// Limit defaults to 20 and is capped at 100.
func (s *StatusService) ListHistory(ctx context.Context, f HistoryFilter) ([]*models.Job, int, error) {
	if f.Status != "" && !models.IsValidStatus(f.Status) {
		return nil, 0, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, f.Status)
	}
	if f.Limit < 0 || f.Page < 0 {
		return nil, 0, fmt.Errorf("%w: limit and page must not be negative", ErrInvalidInput)
	}
	jobs, total, err := s.store.ListJobs(ctx, store.JobFilter{Status: f.Status, Limit: f.Limit, Page: f.Page})
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, total, nil
}

func (s *StatusService) GetFull(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	j, err := s.store.GetJob(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

// Delete removes the record whatever its status. A running execution
// finishes but its final write is dropped.
func (s *StatusService) Delete(ctx context.Context, id uuid.UUID) error {
	err := s.store.DeleteJob(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	return nil
}
