package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kiranshivaraju/docanalyzer/internal/config"
	"github.com/kiranshivaraju/docanalyzer/internal/tracing"
	"github.com/kiranshivaraju/docanalyzer/internal/worker"
	"github.com/urfave/cli/v3"
)

var errMemoryQueue = errors.New("standalone workers need QUEUE_BACKEND=redis; use serve with WORKER_EMBEDDED=true for the memory queue")

func workerCommand() *cli.Command {
	return &cli.Command{
		Name:  "worker",
		Usage: "Consume queued analysis jobs",
		Flags: []cli.Flag{
			logLevelFlag(),
			&cli.IntFlag{
				Name:  "concurrency",
				Usage: "Number of concurrent jobs (overrides WORKER_CONCURRENCY)",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			setupLogging(cmd.String("log-level"))

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if v := cmd.Int("concurrency"); v > 0 {
				cfg.Worker.Concurrency = v
			}
			return runWorker(ctx, cfg)
		},
	}
}

func runWorker(ctx context.Context, cfg *config.Config) error {
	if cfg.Queue.Backend != "redis" {
		return errMemoryQueue
	}

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing, "docanalyzer-worker", cfg.Server.Env)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer flushTracing(shutdownTracing)

	c, err := build(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	pool := newPool(c, cfg)
	slog.Info("worker started", "concurrency", cfg.Worker.Concurrency, "queue", cfg.Queue.Key)
	if err := pool.Run(ctx); err != nil {
		return fmt.Errorf("worker pool: %w", err)
	}
	slog.Info("worker stopped gracefully")
	return nil
}

func newPool(c *components, cfg *config.Config) *worker.Pool {
	return worker.NewPool(c.queue, c.executor, c.cache, worker.Config{
		Concurrency: cfg.Worker.Concurrency,
		Policy: worker.RetryPolicy{
			MaxRetries: cfg.Worker.MaxRetries,
			Delay:      cfg.Worker.RetryDelay,
		},
		PollInterval: cfg.Worker.PollInterval,
		LockTTL:      worker.LockTTL(cfg.AI.InferenceTimeout),
	})
}

func flushTracing(shutdown func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		slog.Warn("tracing shutdown failed", "error", err)
	}
}
