package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kiranshivaraju/docanalyzer/internal/ai/mock"
	"github.com/kiranshivaraju/docanalyzer/internal/api"
	"github.com/kiranshivaraju/docanalyzer/internal/api/handler"
	mw "github.com/kiranshivaraju/docanalyzer/internal/api/middleware"
	"github.com/kiranshivaraju/docanalyzer/internal/cache"
	"github.com/kiranshivaraju/docanalyzer/internal/document"
	"github.com/kiranshivaraju/docanalyzer/internal/job"
	"github.com/kiranshivaraju/docanalyzer/internal/queue"
	"github.com/kiranshivaraju/docanalyzer/internal/store"
	"github.com/kiranshivaraju/docanalyzer/internal/worker"
	"github.com/kiranshivaraju/docanalyzer/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const contractKey = "da_contract_key_1234567890"

// ─── test harness ────────────────────────────────────────────────────────────

type testServer struct {
	server *httptest.Server
	store  *store.MemoryStore
	queue  *queue.MemoryQueue
	exec   *job.Executor
	locks  *cache.MemoryCache
}

type serverOpts struct {
	engine    models.AnalysisEngine
	queue     queue.Queue
	rateLimit int
}

// pingFailQueue reports the queue as unreachable.
type pingFailQueue struct{ queue.Queue }

func (q pingFailQueue) Ping(context.Context) error { return errors.New("dial tcp 127.0.0.1:6379: connection refused") }

func newTestServer(t *testing.T, opts serverOpts) *testServer {
	t.Helper()
	if opts.engine == nil {
		opts.engine = mock.NewMockProvider()
	}
	if opts.rateLimit == 0 {
		opts.rateLimit = 1000
	}

	ts := &testServer{store: store.NewMemoryStore(), queue: queue.NewMemoryQueue(), locks: cache.NewMemoryCache()}
	t.Cleanup(ts.queue.Close)
	var q queue.Queue = ts.queue
	if opts.queue != nil {
		q = opts.queue
	}

	docs, err := document.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	ts.exec = job.NewExecutor(ts.store, docs, document.NewReader(), opts.engine, 5*time.Second)
	submit := job.NewSubmissionService(ts.store, docs, q, ts.exec, job.SubmissionConfig{
		AllowedExtensions: []string{".pdf", ".txt"},
		DefaultQuery:      "Analyze this financial document for investment insights",
	})
	status := job.NewStatusService(ts.store)

	hash, err := bcrypt.GenerateFromPassword([]byte(contractKey), bcrypt.MinCost)
	require.NoError(t, err)

	router := api.NewRouter(api.Dependencies{
		Auth:                 mw.NewAuth([]string{string(hash)}),
		RateLimit:            mw.NewRateLimit(ts.locks, opts.rateLimit),
		RootHandler:          handler.NewRootHandler("test"),
		AnalyzeHandler:       handler.NewAnalyzeHandler(submit, 1<<20),
		AnalyzeAsyncHandler:  handler.NewAnalyzeAsyncHandler(submit, 1<<20),
		StatusHandler:        handler.NewStatusHandler(status),
		HistoryHandler:       handler.NewHistoryHandler(status),
		HistoryDetailHandler: handler.NewHistoryDetailHandler(status),
		DeleteHistoryHandler: handler.NewDeleteHistoryHandler(status),
	})
	ts.server = httptest.NewServer(router)
	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) startWorkers(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	pool := worker.NewPool(ts.queue, ts.exec, ts.locks, worker.Config{
		Concurrency:  2,
		Policy:       worker.RetryPolicy{MaxRetries: 2, Delay: 10 * time.Millisecond},
		PollInterval: 20 * time.Millisecond,
	})
	done := make(chan struct{})
	go func() {
		defer close(done)
		pool.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func (ts *testServer) upload(t *testing.T, path, filename, content, query string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	if query != "" {
		require.NoError(t, w.WriteField("query", query))
	}
	require.NoError(t, w.Close())

	req, err := http.NewRequest("POST", ts.server.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+contractKey)
	return ts.do(t, req)
}

func (ts *testServer) call(t *testing.T, method, path string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, ts.server.URL+path, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+contractKey)
	return ts.do(t, req)
}

func (ts *testServer) do(t *testing.T, req *http.Request) *http.Response {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func dataOf(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	body := decode(t, resp)
	data, ok := body["data"].(map[string]any)
	require.True(t, ok, "no data in %v", body)
	return data
}

func codeOf(t *testing.T, resp *http.Response) string {
	t.Helper()
	body := decode(t, resp)
	errObj, ok := body["error"].(map[string]any)
	require.True(t, ok, "no error in %v", body)
	return errObj["code"].(string)
}

const report = "Revenue grew 12% year over year. Net debt fell to $1.2B."

// ─── scenarios ───────────────────────────────────────────────────────────────

func TestContract_SyncAnalyze(t *testing.T) {
	ts := newTestServer(t, serverOpts{})

	resp := ts.upload(t, "/api/v1/analyze", "q3.txt", report, "  debt levels?  ")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data := dataOf(t, resp)
	assert.Equal(t, "success", data["status"])
	assert.Equal(t, "debt levels?", data["query"])
	assert.Equal(t, "q3.txt", data["file_processed"])
	assert.NotEmpty(t, data["analysis"])
	assert.GreaterOrEqual(t, data["duration_seconds"], 0.0)

	id := data["task_id"].(string)
	resp = ts.call(t, "GET", "/api/v1/status/"+id)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	st := dataOf(t, resp)
	assert.Equal(t, "completed", st["status"])
	assert.Equal(t, data["analysis"], st["analysis"])
	assert.NotEmpty(t, st["completed_at"])
}

func TestContract_SyncAnalyzeFailure(t *testing.T) {
	ts := newTestServer(t, serverOpts{engine: mock.NewFailingProvider(errors.New("model overloaded"))})

	resp := ts.upload(t, "/api/v1/analyze", "q3.txt", report, "")
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	body := decode(t, resp)
	errObj := body["error"].(map[string]any)
	assert.Equal(t, "ANALYSIS_FAILED", errObj["code"])
	id := errObj["details"].(map[string]any)["task_id"].(string)

	resp = ts.call(t, "GET", "/api/v1/status/"+id)
	st := dataOf(t, resp)
	assert.Equal(t, "failed", st["status"])
	assert.Contains(t, st["error"], "model overloaded")
	_, hasAnalysis := st["analysis"]
	assert.False(t, hasAnalysis)
}

func TestContract_AsyncAnalyzeAndPoll(t *testing.T) {
	ts := newTestServer(t, serverOpts{})

	resp := ts.upload(t, "/api/v1/analyze/async", "q3.txt", report, "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	data := dataOf(t, resp)
	assert.Equal(t, "queued", data["status"])
	id := data["task_id"].(string)
	statusURL := data["status_url"].(string)
	assert.Equal(t, "/api/v1/status/"+id, statusURL)

	resp = ts.call(t, "GET", statusURL)
	assert.Equal(t, "queued", dataOf(t, resp)["status"])

	ts.startWorkers(t)

	var st map[string]any
	require.Eventually(t, func() bool {
		resp := ts.call(t, "GET", statusURL)
		st = dataOf(t, resp)
		return st["status"] == "completed"
	}, 5*time.Second, 20*time.Millisecond)
	assert.Contains(t, st["analysis"], "Analyze this financial document")
	assert.NotNil(t, st["duration_seconds"])
}

func TestContract_InvalidExtension(t *testing.T) {
	ts := newTestServer(t, serverOpts{})

	for _, path := range []string{"/api/v1/analyze", "/api/v1/analyze/async"} {
		resp := ts.upload(t, path, "slides.pptx", "x", "")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, path)
		assert.Equal(t, "INVALID_INPUT", codeOf(t, resp))
	}

	resp := ts.call(t, "GET", "/api/v1/history")
	body := decode(t, resp)
	assert.Empty(t, body["data"])
	assert.Equal(t, float64(0), body["meta"].(map[string]any)["total"])
}

func TestContract_AsyncQueueUnavailable(t *testing.T) {
	ts := newTestServer(t, serverOpts{queue: pingFailQueue{queue.NewMemoryQueue()}})

	resp := ts.upload(t, "/api/v1/analyze/async", "q3.txt", report, "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "SERVICE_UNAVAILABLE", codeOf(t, resp))

	resp = ts.call(t, "GET", "/api/v1/history")
	assert.Equal(t, float64(0), decode(t, resp)["meta"].(map[string]any)["total"])
}

func TestContract_DeleteThenStatus(t *testing.T) {
	ts := newTestServer(t, serverOpts{})

	resp := ts.upload(t, "/api/v1/analyze", "q3.txt", report, "")
	id := dataOf(t, resp)["task_id"].(string)

	resp = ts.call(t, "GET", "/api/v1/history/"+id)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "completed", dataOf(t, resp)["status"])

	resp = ts.call(t, "DELETE", "/api/v1/history/"+id)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, dataOf(t, resp)["message"], id)

	resp = ts.call(t, "GET", "/api/v1/status/"+id)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NOT_FOUND", codeOf(t, resp))

	resp = ts.call(t, "DELETE", "/api/v1/history/"+id)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestContract_HistoryNewestFirstWithFilter(t *testing.T) {
	ts := newTestServer(t, serverOpts{})

	var ids []string
	for i := 0; i < 3; i++ {
		resp := ts.upload(t, "/api/v1/analyze/async", "q3.txt", report, "")
		ids = append(ids, dataOf(t, resp)["task_id"].(string))
		time.Sleep(2 * time.Millisecond)
	}
	resp := ts.upload(t, "/api/v1/analyze", "q4.txt", report, "")
	syncID := dataOf(t, resp)["task_id"].(string)

	resp = ts.call(t, "GET", "/api/v1/history?limit=5")
	body := decode(t, resp)
	entries := body["data"].([]any)
	require.Len(t, entries, 4)
	assert.Equal(t, syncID, entries[0].(map[string]any)["task_id"])
	assert.Equal(t, ids[0], entries[3].(map[string]any)["task_id"])

	resp = ts.call(t, "GET", "/api/v1/history?status=queued")
	body = decode(t, resp)
	assert.Len(t, body["data"].([]any), 3)
	assert.Equal(t, float64(3), body["meta"].(map[string]any)["total"])

	resp = ts.call(t, "GET", "/api/v1/history?status=bogus")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestContract_RequiresAPIKey(t *testing.T) {
	ts := newTestServer(t, serverOpts{})

	resp, err := http.Get(ts.server.URL + "/api/v1/history")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp2, err := http.Get(ts.server.URL + "/")
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusOK, resp2.StatusCode)
}

func TestContract_RateLimited(t *testing.T) {
	ts := newTestServer(t, serverOpts{rateLimit: 3})

	var last *http.Response
	for i := 0; i < 4; i++ {
		last = ts.call(t, "GET", "/api/v1/history")
	}
	assert.Equal(t, http.StatusTooManyRequests, last.StatusCode)
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", codeOf(t, last))
}
