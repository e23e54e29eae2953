package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/kiranshivaraju/docanalyzer/internal/api"
	"github.com/kiranshivaraju/docanalyzer/internal/api/handler"
	mw "github.com/kiranshivaraju/docanalyzer/internal/api/middleware"
	"github.com/kiranshivaraju/docanalyzer/internal/config"
	"github.com/kiranshivaraju/docanalyzer/internal/job"
	"github.com/kiranshivaraju/docanalyzer/internal/tracing"
	"github.com/urfave/cli/v3"
)

const shutdownTimeout = 30 * time.Second

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the HTTP API",
		Flags: []cli.Flag{
			logLevelFlag(),
			&cli.IntFlag{
				Name:  "port",
				Usage: "Listen port (overrides DOCANALYZER_PORT)",
			},
			&cli.BoolFlag{
				Name:  "embedded-worker",
				Usage: "Run the worker pool inside the API process (overrides WORKER_EMBEDDED)",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			setupLogging(cmd.String("log-level"))

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if v := cmd.Int("port"); v > 0 {
				cfg.Server.Port = v
			}
			if cmd.IsSet("embedded-worker") {
				cfg.Worker.Embedded = cmd.Bool("embedded-worker")
			}
			slog.Info("config loaded", "ai_provider", cfg.AI.Provider, "env", cfg.Server.Env)
			return runServer(ctx, cfg)
		},
	}
}

func runServer(ctx context.Context, cfg *config.Config) error {
	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing, "docanalyzer-api", cfg.Server.Env)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer flushTracing(shutdownTracing)

	c, err := build(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      newRouter(c, cfg),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: serverWriteTimeout(cfg.AI.InferenceTimeout),
		IdleTimeout:  60 * time.Second,
	}

	poolDone := make(chan struct{})
	if cfg.Worker.Embedded {
		pool := newPool(c, cfg)
		go func() {
			defer close(poolDone)
			if err := pool.Run(ctx); err != nil {
				slog.Error("embedded worker pool stopped", "error", err)
			}
		}()
		slog.Info("embedded worker started", "concurrency", cfg.Worker.Concurrency)
	} else {
		close(poolDone)
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	select {
	case <-poolDone:
	case <-shutdownCtx.Done():
		slog.Warn("worker pool did not drain before shutdown timeout")
	}

	slog.Info("server stopped gracefully")
	return nil
}

func newRouter(c *components, cfg *config.Config) http.Handler {
	submissions := job.NewSubmissionService(c.store, c.docs, c.queue, c.executor, job.SubmissionConfig{
		AllowedExtensions: cfg.Document.AllowedExtensions,
		DefaultQuery:      cfg.Document.DefaultQuery,
	})
	statuses := job.NewStatusService(c.store)

	auth := mw.NewAuth(cfg.Auth.APIKeyHashes)
	if !auth.Enabled() {
		slog.Warn("API key auth disabled, set API_KEY_HASHES to enable it")
	}

	return api.NewRouter(api.Dependencies{
		Auth:      auth,
		RateLimit: mw.NewRateLimit(c.cache, cfg.RateLimit.RequestsPerMinute),

		RootHandler: handler.NewRootHandler(version),
		HealthHandler: healthHandler(map[string]pinger{
			"database": c.store,
			"queue":    c.queue,
			"cache":    c.cache,
			"storage":  c.docs,
		}),
		AnalyzeHandler:       handler.NewAnalyzeHandler(submissions, cfg.Server.MaxUploadBytes),
		AnalyzeAsyncHandler:  handler.NewAnalyzeAsyncHandler(submissions, cfg.Server.MaxUploadBytes),
		StatusHandler:        handler.NewStatusHandler(statuses),
		HistoryHandler:       handler.NewHistoryHandler(statuses),
		HistoryDetailHandler: handler.NewHistoryDetailHandler(statuses),
		DeleteHistoryHandler: handler.NewDeleteHistoryHandler(statuses),
	})
}

// serverWriteTimeout leaves room for a synchronous analysis to finish
// before the connection is cut.
func serverWriteTimeout(inference time.Duration) time.Duration {
	if inference <= 0 {
		return 0
	}
	return inference + 30*time.Second
}
