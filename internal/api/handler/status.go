package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/docanalyzer/internal/api/response"
	"github.com/kiranshivaraju/docanalyzer/internal/job"
	"github.com/kiranshivaraju/docanalyzer/internal/store"
	"github.com/kiranshivaraju/docanalyzer/pkg/models"
)

// StatusReader is the part of job.StatusService the read handlers use.
type StatusReader interface {
	GetStatus(ctx context.Context, id uuid.UUID) (*job.Status, error)
	ListHistory(ctx context.Context, f job.HistoryFilter) ([]*models.Job, int, error)
	GetFull(ctx context.Context, id uuid.UUID) (*models.Job, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type statusResponse struct {
	TaskID          string   `json:"task_id"`
	Status          string   `json:"status"`
	Filename        string   `json:"filename"`
	Query           string   `json:"query"`
	CreatedAt       string   `json:"created_at"`
	Analysis        *string  `json:"analysis,omitempty"`
	Error           *string  `json:"error,omitempty"`
	CompletedAt     *string  `json:"completed_at,omitempty"`
	DurationSeconds *float64 `json:"duration_seconds,omitempty"`
}

type historyEntry struct {
	TaskID          string   `json:"task_id"`
	Filename        string   `json:"filename"`
	Query           string   `json:"query"`
	Status          string   `json:"status"`
	CreatedAt       string   `json:"created_at"`
	DurationSeconds *float64 `json:"duration_seconds"`
}

type recordResponse struct {
	TaskID          string   `json:"task_id"`
	Filename        string   `json:"filename"`
	Query           string   `json:"query"`
	Status          string   `json:"status"`
	Analysis        *string  `json:"analysis"`
	Error           *string  `json:"error"`
	CreatedAt       string   `json:"created_at"`
	StartedAt       *string  `json:"started_at"`
	CompletedAt     *string  `json:"completed_at"`
	DurationSeconds *float64 `json:"duration_seconds"`
}

// NewStatusHandler returns the handler for GET /api/v1/status/{taskID}.
func NewStatusHandler(svc StatusReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := taskID(w, r)
		if !ok {
			return
		}
		st, err := svc.GetStatus(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, statusResponse{
			TaskID:          st.JobID.String(),
			Status:          st.Status,
			Filename:        st.Filename,
			Query:           st.Query,
			CreatedAt:       formatTime(st.CreatedAt),
			Analysis:        st.Result,
			Error:           st.Error,
			CompletedAt:     formatTimePtr(st.CompletedAt),
			DurationSeconds: st.DurationSeconds,
		})
	}
}

// NewHistoryHandler returns the handler for GET /api/v1/history.
func NewHistoryHandler(svc StatusReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		limit, err := intParam(q.Get("limit"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_INPUT", "limit must be an integer", nil)
			return
		}
		page, err := intParam(q.Get("page"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_INPUT", "page must be an integer", nil)
			return
		}

		jobs, total, err := svc.ListHistory(r.Context(), job.HistoryFilter{
			Limit:  limit,
			Page:   page,
			Status: q.Get("status"),
		})
		if err != nil {
			writeError(w, r, err)
			return
		}

		entries := make([]historyEntry, 0, len(jobs))
		for _, j := range jobs {
			entries = append(entries, historyEntry{
				TaskID:          j.ID.String(),
				Filename:        j.Filename,
				Query:           j.Query,
				Status:          j.Status,
				CreatedAt:       formatTime(j.CreatedAt),
				DurationSeconds: j.DurationSeconds,
			})
		}
		response.Collection(w, entries, response.NewPaginationMeta(effectivePage(page), effectiveLimit(limit), total))
	}
}

// NewHistoryDetailHandler returns the handler for GET /api/v1/history/{taskID}.
func NewHistoryDetailHandler(svc StatusReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := taskID(w, r)
		if !ok {
			return
		}
		j, err := svc.GetFull(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, recordResponse{
			TaskID:          j.ID.String(),
			Filename:        j.Filename,
			Query:           j.Query,
			Status:          j.Status,
			Analysis:        j.Result,
			Error:           j.Error,
			CreatedAt:       formatTime(j.CreatedAt),
			StartedAt:       formatTimePtr(j.StartedAt),
			CompletedAt:     formatTimePtr(j.CompletedAt),
			DurationSeconds: j.DurationSeconds,
		})
	}
}

// NewDeleteHistoryHandler returns the handler for DELETE /api/v1/history/{taskID}.
func NewDeleteHistoryHandler(svc StatusReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := taskID(w, r)
		if !ok {
			return
		}
		if err := svc.Delete(r.Context(), id); err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, map[string]string{
			"message": "Analysis '" + id.String() + "' deleted successfully.",
		})
	}
}

func taskID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "taskID"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_INPUT", "taskID must be a valid UUID", nil)
		return uuid.Nil, false
	}
	return id, true
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}

func effectiveLimit(limit int) int {
	switch {
	case limit <= 0:
		return store.DefaultListLimit
	case limit > store.MaxListLimit:
		return store.MaxListLimit
	default:
		return limit
	}
}

func effectivePage(page int) int {
	if page <= 0 {
		return 1
	}
	return page
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}
