package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/kiranshivaraju/docanalyzer/internal/api/response"
	"github.com/kiranshivaraju/docanalyzer/internal/job"
	"github.com/kiranshivaraju/docanalyzer/pkg/models"
)

// multipartMemory is how much of a multipart body is buffered in memory
// before spilling to temporary files.
const multipartMemory = 8 << 20

// Submitter is the part of job.SubmissionService the analyze handlers use.
type Submitter interface {
	Submit(ctx context.Context, req job.SubmitRequest) (*models.Job, error)
}

type analyzeResponse struct {
	Status          string   `json:"status"`
	TaskID          string   `json:"task_id"`
	Query           string   `json:"query"`
	Analysis        string   `json:"analysis"`
	FileProcessed   string   `json:"file_processed"`
	DurationSeconds *float64 `json:"duration_seconds"`
}

type queuedResponse struct {
	TaskID    string `json:"task_id"`
	Status    string `json:"status"`
	Message   string `json:"message"`
	StatusURL string `json:"status_url"`
}

// NewAnalyzeHandler returns the handler for POST /api/v1/analyze. It blocks
// until the analysis is finished.
func NewAnalyzeHandler(svc Submitter, maxUploadBytes int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, cleanup, ok := parseUpload(w, r, maxUploadBytes)
		if !ok {
			return
		}
		defer cleanup()
		req.Mode = job.ModeSync

		j, err := svc.Submit(r.Context(), req)
		if err != nil {
			writeError(w, r, err)
			return
		}

		var analysis string
		if j.Result != nil {
			analysis = *j.Result
		}
		response.JSON(w, analyzeResponse{
			Status:          "success",
			TaskID:          j.ID.String(),
			Query:           j.Query,
			Analysis:        analysis,
			FileProcessed:   j.Filename,
			DurationSeconds: j.DurationSeconds,
		})
	}
}

// NewAnalyzeAsyncHandler returns the handler for POST /api/v1/analyze/async.
func NewAnalyzeAsyncHandler(svc Submitter, maxUploadBytes int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, cleanup, ok := parseUpload(w, r, maxUploadBytes)
		if !ok {
			return
		}
		defer cleanup()
		req.Mode = job.ModeAsync

		j, err := svc.Submit(r.Context(), req)
		if err != nil {
			writeError(w, r, err)
			return
		}

		statusURL := "/api/v1/status/" + j.ID.String()
		response.Accepted(w, queuedResponse{
			TaskID:    j.ID.String(),
			Status:    j.Status,
			Message:   fmt.Sprintf("Document queued for analysis. Poll %s for results.", statusURL),
			StatusURL: statusURL,
		})
	}
}

// parseUpload reads the multipart "file" and "query" fields. On failure it
// has already written the error response.
func parseUpload(w http.ResponseWriter, r *http.Request, maxBytes int64) (job.SubmitRequest, func(), bool) {
	noop := func() {}
	if maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Error(w, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE",
				fmt.Sprintf("Upload exceeds %d bytes", tooLarge.Limit), nil)
			return job.SubmitRequest{}, noop, false
		}
		response.Error(w, http.StatusBadRequest, "INVALID_INPUT",
			"Request must be multipart/form-data with a file field", nil)
		return job.SubmitRequest{}, noop, false
	}
	cleanup := func() {
		if r.MultipartForm != nil {
			r.MultipartForm.RemoveAll()
		}
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		cleanup()
		response.Error(w, http.StatusBadRequest, "INVALID_INPUT", "file is required", nil)
		return job.SubmitRequest{}, noop, false
	}

	return job.SubmitRequest{
			Filename: header.Filename,
			Query:    r.FormValue("query"),
			Document: file,
		}, func() {
			closeQuietly(file)
			cleanup()
		}, true
}

func closeQuietly(c io.Closer) {
	_ = c.Close()
}
