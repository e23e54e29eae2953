package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// Job tracks one submitted document+query pair. The API returns its ID as task_id;
// async clients poll GET /api/v1/status/{task_id} until status is completed or failed.
type Job struct {
	ID              uuid.UUID  `db:"id"               json:"id"`
	Filename        string     `db:"filename"         json:"filename"`
	Query           string     `db:"query"            json:"query"`
	Status          string     `db:"status"           json:"status"`
	Result          *string    `db:"result"           json:"result,omitempty"`
	Error           *string    `db:"error"            json:"error,omitempty"`
	CreatedAt       time.Time  `db:"created_at"       json:"created_at"`
	StartedAt       *time.Time `db:"started_at"       json:"started_at,omitempty"`
	CompletedAt     *time.Time `db:"completed_at"     json:"completed_at,omitempty"`
	DurationSeconds *float64   `db:"duration_seconds" json:"duration_seconds,omitempty"`
	UpdatedAt       time.Time  `db:"updated_at"       json:"updated_at"`
}

// IsTerminal reports whether the job has settled at completed or failed.
func (j *Job) IsTerminal() bool {
	return IsTerminalStatus(j.Status)
}

// IsTerminalStatus reports whether status is completed or failed.
func IsTerminalStatus(status string) bool {
	return status == JobStatusCompleted || status == JobStatusFailed
}

// IsValidStatus reports whether status is one of the four job states.
func IsValidStatus(status string) bool {
	switch status {
	case JobStatusQueued, JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}
