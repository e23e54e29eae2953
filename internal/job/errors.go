package job

import (
	"errors"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/docanalyzer/internal/ai"
	"github.com/kiranshivaraju/docanalyzer/internal/document"
)

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrNotFound           = errors.New("job not found")
	ErrServiceUnavailable = errors.New("service unavailable")
	// ErrAlreadyTerminal is returned when asked to run a job that has
	// already completed or failed. The record is left untouched.
	ErrAlreadyTerminal = errors.New("job already in terminal state")
)

// ExecutionError is an engine or document failure during one job execution.
// On the sync path it becomes a 500; the async path only records it.
type ExecutionError struct {
	JobID uuid.UUID
	Err   error
}

func (e *ExecutionError) Error() string { return e.Err.Error() }
func (e *ExecutionError) Unwrap() error { return e.Err }

// IsPermanent reports whether err will recur on every attempt.
func IsPermanent(err error) bool {
	return errors.Is(err, document.ErrUnreadable) ||
		errors.Is(err, document.ErrNotFound) ||
		errors.Is(err, ai.ErrEmptyDocument) ||
		errors.Is(err, ai.ErrRequestRejected)
}
