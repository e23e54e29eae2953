package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kiranshivaraju/docanalyzer/internal/cache"
	"github.com/kiranshivaraju/docanalyzer/internal/config"
	"github.com/kiranshivaraju/docanalyzer/internal/queue"
	"github.com/kiranshivaraju/docanalyzer/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPinger struct {
	err error
}

func (p stubPinger) Ping(_ context.Context) error { return p.err }

func memoryConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Server:   config.ServerConfig{Port: 0, Env: "test", MaxUploadBytes: 1 << 20},
		Database: config.DatabaseConfig{Backend: "memory"},
		Queue:    config.QueueConfig{Backend: "memory", Key: "test:jobs"},
		Worker: config.WorkerConfig{
			Embedded:     true,
			Concurrency:  1,
			MaxRetries:   2,
			RetryDelay:   10 * time.Millisecond,
			PollInterval: 10 * time.Millisecond,
		},
		Storage: config.StorageConfig{Backend: "local", Dir: t.TempDir()},
		Document: config.DocumentConfig{
			AllowedExtensions: []string{".pdf"},
			DefaultQuery:      config.DefaultQuery,
			MaxChars:          1000,
		},
		AI: config.AIConfig{
			Provider: "ollama",
			Ollama:   config.OllamaConfig{BaseURL: "http://127.0.0.1:1", Model: "llama3"},
		},
		RateLimit: config.RateLimitConfig{RequestsPerMinute: 60},
		Tracing:   config.TracingConfig{Exporter: "none"},
	}
}

func TestHealthHandler_AllHealthy(t *testing.T) {
	h := healthHandler(map[string]pinger{
		"database": stubPinger{},
		"queue":    stubPinger{},
		"cache":    stubPinger{},
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data struct {
			Status   string            `json:"status"`
			Services map[string]string `json:"services"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "ok", body.Data.Status)
	assert.Equal(t, map[string]string{"database": "ok", "queue": "ok", "cache": "ok"}, body.Data.Services)
}

func TestHealthHandler_Degraded(t *testing.T) {
	h := healthHandler(map[string]pinger{
		"database": stubPinger{},
		"queue":    stubPinger{err: errors.New("connection refused")},
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body struct {
		Error struct {
			Code    string            `json:"code"`
			Details map[string]string `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "DEGRADED", body.Error.Code)
	assert.Equal(t, "ok", body.Error.Details["database"])
	assert.Equal(t, "degraded", body.Error.Details["queue"])
}

func TestApp_Commands(t *testing.T) {
	app := newApp()

	var names []string
	for _, c := range app.Commands {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"serve", "worker", "migrate"}, names)

	migrate := migrateCommand()
	var sub []string
	for _, c := range migrate.Commands {
		sub = append(sub, c.Name)
	}
	assert.Equal(t, []string{"up", "down"}, sub)
}

func TestBuild_MemoryBackends(t *testing.T) {
	cfg := memoryConfig(t)

	c, err := build(context.Background(), cfg)
	require.NoError(t, err)
	defer c.Close()

	assert.IsType(t, &store.MemoryStore{}, c.store)
	assert.IsType(t, &cache.MemoryCache{}, c.cache)
	assert.IsType(t, &queue.MemoryQueue{}, c.queue)
	assert.NotNil(t, c.docs)
	assert.NotNil(t, c.executor)
}

func TestBuild_ClosesQueue(t *testing.T) {
	c, err := build(context.Background(), memoryConfig(t))
	require.NoError(t, err)

	q := c.queue
	c.Close()

	assert.ErrorIs(t, q.Ping(context.Background()), queue.ErrClosed)
}

func TestBuild_BadRedisURL(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Redis.URL = "not-a-redis-url"

	_, err := build(context.Background(), cfg)
	assert.ErrorContains(t, err, "parse redis URL")
}

func TestRunWorker_RejectsMemoryQueue(t *testing.T) {
	err := runWorker(context.Background(), memoryConfig(t))
	assert.ErrorIs(t, err, errMemoryQueue)
}

func TestNewRouter_HealthAndRoot(t *testing.T) {
	cfg := memoryConfig(t)
	c, err := build(context.Background(), cfg)
	require.NoError(t, err)
	defer c.Close()

	srv := httptest.NewServer(newRouter(c, cfg))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Data struct {
			Services map[string]string `json:"services"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Len(t, body.Data.Services, 4)
	assert.Equal(t, "ok", body.Data.Services["storage"])

	root, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	defer root.Body.Close()
	assert.Equal(t, http.StatusOK, root.StatusCode)
}

func TestServerWriteTimeout(t *testing.T) {
	assert.Equal(t, time.Duration(0), serverWriteTimeout(0))
	assert.Equal(t, 330*time.Second, serverWriteTimeout(300*time.Second))
}
