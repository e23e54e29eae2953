package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/docanalyzer/internal/api/handler"
	"github.com/kiranshivaraju/docanalyzer/internal/job"
	"github.com/kiranshivaraju/docanalyzer/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

type mockSubmitter struct {
	SubmitFunc func(ctx context.Context, req job.SubmitRequest) (*models.Job, error)
	got        job.SubmitRequest
	body       string
}

func (m *mockSubmitter) Submit(ctx context.Context, req job.SubmitRequest) (*models.Job, error) {
	m.got = req
	if req.Document != nil {
		b, _ := io.ReadAll(req.Document)
		m.body = string(b)
	}
	return m.SubmitFunc(ctx, req)
}

type mockStatusReader struct {
	GetStatusFunc   func(ctx context.Context, id uuid.UUID) (*job.Status, error)
	ListHistoryFunc func(ctx context.Context, f job.HistoryFilter) ([]*models.Job, int, error)
	GetFullFunc     func(ctx context.Context, id uuid.UUID) (*models.Job, error)
	DeleteFunc      func(ctx context.Context, id uuid.UUID) error
}

func (m *mockStatusReader) GetStatus(ctx context.Context, id uuid.UUID) (*job.Status, error) {
	return m.GetStatusFunc(ctx, id)
}
func (m *mockStatusReader) ListHistory(ctx context.Context, f job.HistoryFilter) ([]*models.Job, int, error) {
	return m.ListHistoryFunc(ctx, f)
}
func (m *mockStatusReader) GetFull(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	return m.GetFullFunc(ctx, id)
}
func (m *mockStatusReader) Delete(ctx context.Context, id uuid.UUID) error {
	return m.DeleteFunc(ctx, id)
}

// --- helpers ---

func ptr[T any](v T) *T { return &v }

func multipartRequest(t *testing.T, path, filename, content, query string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	if query != "" {
		require.NoError(t, mw.WriteField("query", query))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest("POST", path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

// withTaskID routes req through chi so {taskID} is populated.
func withTaskID(method, pattern string, h http.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.MethodFunc(method, pattern, h)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func parseData(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	data, ok := body["data"].(map[string]any)
	require.True(t, ok, "response has no data object: %s", w.Body.String())
	return data
}

func parseErr(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	errObj, ok := body["error"].(map[string]any)
	require.True(t, ok, "response has no error object: %s", w.Body.String())
	return errObj
}

func completedJob() *models.Job {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &models.Job{
		ID:              uuid.New(),
		Filename:        "q3.pdf",
		Query:           "debt?",
		Status:          models.JobStatusCompleted,
		Result:          ptr("Net debt fell."),
		CreatedAt:       now,
		StartedAt:       ptr(now),
		CompletedAt:     ptr(now.Add(1500 * time.Millisecond)),
		DurationSeconds: ptr(1.5),
		UpdatedAt:       now,
	}
}

// ========================================
// Analyze
// ========================================

func TestAnalyzeHandler_Success(t *testing.T) {
	j := completedJob()
	svc := &mockSubmitter{SubmitFunc: func(context.Context, job.SubmitRequest) (*models.Job, error) { return j, nil }}

	w := httptest.NewRecorder()
	handler.NewAnalyzeHandler(svc, 1<<20).ServeHTTP(w, multipartRequest(t, "/api/v1/analyze", "q3.pdf", "%PDF-1.4", "debt?"))

	require.Equal(t, http.StatusOK, w.Code)
	data := parseData(t, w)
	assert.Equal(t, "success", data["status"])
	assert.Equal(t, j.ID.String(), data["task_id"])
	assert.Equal(t, "debt?", data["query"])
	assert.Equal(t, "Net debt fell.", data["analysis"])
	assert.Equal(t, "q3.pdf", data["file_processed"])
	assert.Equal(t, 1.5, data["duration_seconds"])

	assert.Equal(t, job.ModeSync, svc.got.Mode)
	assert.Equal(t, "q3.pdf", svc.got.Filename)
	assert.Equal(t, "debt?", svc.got.Query)
	assert.Equal(t, "%PDF-1.4", svc.body)
}

func TestAnalyzeHandler_MissingFile(t *testing.T) {
	svc := &mockSubmitter{SubmitFunc: func(context.Context, job.SubmitRequest) (*models.Job, error) {
		t.Fatal("must not submit")
		return nil, nil
	}}

	w := httptest.NewRecorder()
	handler.NewAnalyzeHandler(svc, 1<<20).ServeHTTP(w, multipartRequest(t, "/api/v1/analyze", "", "", "debt?"))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_INPUT", parseErr(t, w)["code"])
	assert.Equal(t, "file is required", parseErr(t, w)["message"])
}

func TestAnalyzeHandler_NotMultipart(t *testing.T) {
	svc := &mockSubmitter{}
	req := httptest.NewRequest("POST", "/api/v1/analyze", strings.NewReader(`{"file":"x"}`))
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	handler.NewAnalyzeHandler(svc, 1<<20).ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_INPUT", parseErr(t, w)["code"])
}

func TestAnalyzeHandler_TooLarge(t *testing.T) {
	svc := &mockSubmitter{}
	req := multipartRequest(t, "/api/v1/analyze", "big.pdf", strings.Repeat("x", 4096), "")

	w := httptest.NewRecorder()
	handler.NewAnalyzeHandler(svc, 512).ServeHTTP(w, req)

	assert.Contains(t, []int{http.StatusRequestEntityTooLarge, http.StatusBadRequest}, w.Code)
	assert.Nil(t, svc.got.Document, "nothing submitted")
}

func TestAnalyzeHandler_ErrorMapping(t *testing.T) {
	id := uuid.New()
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"invalid input", job.ErrInvalidInput, http.StatusBadRequest, "INVALID_INPUT"},
		{"execution failure", &job.ExecutionError{JobID: id, Err: errors.New("model overloaded")}, http.StatusInternalServerError, "ANALYSIS_FAILED"},
		{"not found", job.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
		{"unexpected", errors.New("disk full"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockSubmitter{SubmitFunc: func(context.Context, job.SubmitRequest) (*models.Job, error) { return nil, tt.err }}

			w := httptest.NewRecorder()
			handler.NewAnalyzeHandler(svc, 1<<20).ServeHTTP(w, multipartRequest(t, "/api/v1/analyze", "a.pdf", "x", ""))

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantCode, parseErr(t, w)["code"])
		})
	}
}

func TestAnalyzeHandler_InvalidInputMessage(t *testing.T) {
	svc := &mockSubmitter{SubmitFunc: func(context.Context, job.SubmitRequest) (*models.Job, error) {
		return nil, fmt.Errorf("%w: unsupported file type \".png\", allowed: .pdf", job.ErrInvalidInput)
	}}

	w := httptest.NewRecorder()
	handler.NewAnalyzeHandler(svc, 1<<20).ServeHTTP(w, multipartRequest(t, "/api/v1/analyze", "a.png", "x", ""))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "unsupported file type \".png\", allowed: .pdf", parseErr(t, w)["message"])
}

func TestAnalyzeHandler_ExecutionErrorCarriesTaskID(t *testing.T) {
	id := uuid.New()
	svc := &mockSubmitter{SubmitFunc: func(context.Context, job.SubmitRequest) (*models.Job, error) {
		return &models.Job{ID: id, Status: models.JobStatusFailed}, &job.ExecutionError{JobID: id, Err: errors.New("boom")}
	}}

	w := httptest.NewRecorder()
	handler.NewAnalyzeHandler(svc, 1<<20).ServeHTTP(w, multipartRequest(t, "/api/v1/analyze", "a.pdf", "x", ""))

	errObj := parseErr(t, w)
	assert.Contains(t, errObj["message"], "boom")
	assert.Equal(t, id.String(), errObj["details"].(map[string]any)["task_id"])
}

func TestAnalyzeAsyncHandler_Queued(t *testing.T) {
	j := &models.Job{ID: uuid.New(), Status: models.JobStatusQueued}
	svc := &mockSubmitter{SubmitFunc: func(context.Context, job.SubmitRequest) (*models.Job, error) { return j, nil }}

	w := httptest.NewRecorder()
	handler.NewAnalyzeAsyncHandler(svc, 1<<20).ServeHTTP(w, multipartRequest(t, "/api/v1/analyze/async", "a.pdf", "x", ""))

	require.Equal(t, http.StatusAccepted, w.Code)
	data := parseData(t, w)
	assert.Equal(t, j.ID.String(), data["task_id"])
	assert.Equal(t, "queued", data["status"])
	assert.Equal(t, "/api/v1/status/"+j.ID.String(), data["status_url"])
	assert.Contains(t, data["message"], "Poll")
	assert.Equal(t, job.ModeAsync, svc.got.Mode)
}

func TestAnalyzeAsyncHandler_ServiceUnavailable(t *testing.T) {
	svc := &mockSubmitter{SubmitFunc: func(context.Context, job.SubmitRequest) (*models.Job, error) {
		return nil, job.ErrServiceUnavailable
	}}

	w := httptest.NewRecorder()
	handler.NewAnalyzeAsyncHandler(svc, 1<<20).ServeHTTP(w, multipartRequest(t, "/api/v1/analyze/async", "a.pdf", "x", ""))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "SERVICE_UNAVAILABLE", parseErr(t, w)["code"])
}

// ========================================
// Status
// ========================================

func TestStatusHandler_Queued(t *testing.T) {
	id := uuid.New()
	svc := &mockStatusReader{GetStatusFunc: func(_ context.Context, got uuid.UUID) (*job.Status, error) {
		assert.Equal(t, id, got)
		return &job.Status{JobID: id, Status: models.JobStatusQueued, Filename: "a.pdf", Query: "q", CreatedAt: time.Now()}, nil
	}}

	w := withTaskID("GET", "/api/v1/status/{taskID}", handler.NewStatusHandler(svc),
		httptest.NewRequest("GET", "/api/v1/status/"+id.String(), nil))

	require.Equal(t, http.StatusOK, w.Code)
	data := parseData(t, w)
	assert.Equal(t, "queued", data["status"])
	assert.Equal(t, "a.pdf", data["filename"])
	assert.NotEmpty(t, data["created_at"])
	for _, k := range []string{"analysis", "error", "completed_at", "duration_seconds"} {
		_, present := data[k]
		assert.False(t, present, k)
	}
}

func TestStatusHandler_Failed(t *testing.T) {
	id := uuid.New()
	done := time.Now()
	svc := &mockStatusReader{GetStatusFunc: func(context.Context, uuid.UUID) (*job.Status, error) {
		return &job.Status{JobID: id, Status: models.JobStatusFailed, Error: ptr("boom"), CompletedAt: &done, DurationSeconds: ptr(0.4)}, nil
	}}

	w := withTaskID("GET", "/api/v1/status/{taskID}", handler.NewStatusHandler(svc),
		httptest.NewRequest("GET", "/api/v1/status/"+id.String(), nil))

	data := parseData(t, w)
	assert.Equal(t, "failed", data["status"])
	assert.Equal(t, "boom", data["error"])
	assert.NotEmpty(t, data["completed_at"])
	_, hasAnalysis := data["analysis"]
	assert.False(t, hasAnalysis)
}

func TestStatusHandler_NotFound(t *testing.T) {
	svc := &mockStatusReader{GetStatusFunc: func(context.Context, uuid.UUID) (*job.Status, error) {
		return nil, job.ErrNotFound
	}}

	w := withTaskID("GET", "/api/v1/status/{taskID}", handler.NewStatusHandler(svc),
		httptest.NewRequest("GET", "/api/v1/status/"+uuid.NewString(), nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", parseErr(t, w)["code"])
}

func TestStatusHandler_InvalidID(t *testing.T) {
	svc := &mockStatusReader{}
	w := withTaskID("GET", "/api/v1/status/{taskID}", handler.NewStatusHandler(svc),
		httptest.NewRequest("GET", "/api/v1/status/not-a-uuid", nil))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_INPUT", parseErr(t, w)["code"])
}

// ========================================
// History
// ========================================

func TestHistoryHandler_PassesFilterAndMeta(t *testing.T) {
	var got job.HistoryFilter
	j := completedJob()
	svc := &mockStatusReader{ListHistoryFunc: func(_ context.Context, f job.HistoryFilter) ([]*models.Job, int, error) {
		got = f
		return []*models.Job{j}, 42, nil
	}}

	w := httptest.NewRecorder()
	handler.NewHistoryHandler(svc).ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/history?limit=5&page=2&status=completed", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, job.HistoryFilter{Limit: 5, Page: 2, Status: "completed"}, got)

	var body struct {
		Data []map[string]any `json:"data"`
		Meta map[string]any   `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Data, 1)
	assert.Equal(t, j.ID.String(), body.Data[0]["task_id"])
	assert.Equal(t, 1.5, body.Data[0]["duration_seconds"])
	_, hasAnalysis := body.Data[0]["analysis"]
	assert.False(t, hasAnalysis, "history entries omit the report")
	assert.Equal(t, float64(42), body.Meta["total"])
	assert.Equal(t, float64(5), body.Meta["limit"])
	assert.Equal(t, float64(2), body.Meta["page"])
	assert.Equal(t, true, body.Meta["has_next"])
}

func TestHistoryHandler_LimitCappedInMeta(t *testing.T) {
	svc := &mockStatusReader{ListHistoryFunc: func(context.Context, job.HistoryFilter) ([]*models.Job, int, error) {
		return []*models.Job{}, 0, nil
	}}

	w := httptest.NewRecorder()
	handler.NewHistoryHandler(svc).ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/history?limit=500", nil))

	var body struct {
		Data []any         `json:"data"`
		Meta map[string]any `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.NotNil(t, body.Data)
	assert.Equal(t, float64(100), body.Meta["limit"])
	assert.Equal(t, float64(1), body.Meta["page"])
}

func TestHistoryHandler_BadParams(t *testing.T) {
	svc := &mockStatusReader{ListHistoryFunc: func(context.Context, job.HistoryFilter) ([]*models.Job, int, error) {
		return nil, 0, job.ErrInvalidInput
	}}
	for _, q := range []string{"limit=ten", "page=x", "status=cancelled"} {
		t.Run(q, func(t *testing.T) {
			w := httptest.NewRecorder()
			handler.NewHistoryHandler(svc).ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/history?"+q, nil))
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestHistoryDetailHandler(t *testing.T) {
	j := completedJob()
	svc := &mockStatusReader{GetFullFunc: func(context.Context, uuid.UUID) (*models.Job, error) { return j, nil }}

	w := withTaskID("GET", "/api/v1/history/{taskID}", handler.NewHistoryDetailHandler(svc),
		httptest.NewRequest("GET", "/api/v1/history/"+j.ID.String(), nil))

	require.Equal(t, http.StatusOK, w.Code)
	data := parseData(t, w)
	assert.Equal(t, "Net debt fell.", data["analysis"])
	assert.Nil(t, data["error"])
	assert.Equal(t, "2026-03-01T12:00:01.5Z", data["completed_at"])
	assert.Equal(t, "2026-03-01T12:00:00Z", data["started_at"])
}

func TestDeleteHistoryHandler(t *testing.T) {
	id := uuid.New()
	var deleted uuid.UUID
	svc := &mockStatusReader{DeleteFunc: func(_ context.Context, got uuid.UUID) error {
		deleted = got
		return nil
	}}

	w := withTaskID("DELETE", "/api/v1/history/{taskID}", handler.NewDeleteHistoryHandler(svc),
		httptest.NewRequest("DELETE", "/api/v1/history/"+id.String(), nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, id, deleted)
	assert.Contains(t, parseData(t, w)["message"], id.String())
}

func TestDeleteHistoryHandler_NotFound(t *testing.T) {
	svc := &mockStatusReader{DeleteFunc: func(context.Context, uuid.UUID) error { return job.ErrNotFound }}

	w := withTaskID("DELETE", "/api/v1/history/{taskID}", handler.NewDeleteHistoryHandler(svc),
		httptest.NewRequest("DELETE", "/api/v1/history/"+uuid.NewString(), nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRootHandler(t *testing.T) {
	w := httptest.NewRecorder()
	handler.NewRootHandler("2.0.0").ServeHTTP(w, httptest.NewRequest("GET", "/", nil))

	require.Equal(t, http.StatusOK, w.Code)
	data := parseData(t, w)
	assert.Equal(t, "2.0.0", data["version"])
	endpoints := data["endpoints"].(map[string]any)
	assert.Equal(t, "POST /api/v1/analyze/async", endpoints["async_analyze"])
}
