package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/kiranshivaraju/docanalyzer/internal/api/response"
	"github.com/kiranshivaraju/docanalyzer/internal/job"
)

// writeError maps service errors onto the error envelope.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var execErr *job.ExecutionError
	switch {
	case errors.Is(err, job.ErrInvalidInput):
		response.Error(w, http.StatusBadRequest, "INVALID_INPUT", clientMessage(err, job.ErrInvalidInput), nil)
	case errors.Is(err, job.ErrNotFound):
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Task not found", nil)
	case errors.Is(err, job.ErrServiceUnavailable):
		response.Error(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE",
			"Queue worker unavailable, try again later or use the synchronous endpoint", nil)
	case errors.As(err, &execErr):
		response.Error(w, http.StatusInternalServerError, "ANALYSIS_FAILED",
			"Error processing document: "+execErr.Error(),
			map[string]string{"task_id": execErr.JobID.String()})
	default:
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"An unexpected error occurred", nil)
	}
}

// clientMessage strips the sentinel prefix from a wrapped validation error.
func clientMessage(err, sentinel error) string {
	msg := strings.TrimPrefix(err.Error(), sentinel.Error()+": ")
	if msg == "" {
		return sentinel.Error()
	}
	return msg
}
