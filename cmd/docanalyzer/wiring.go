package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/kiranshivaraju/docanalyzer/internal/ai"
	"github.com/kiranshivaraju/docanalyzer/internal/cache"
	"github.com/kiranshivaraju/docanalyzer/internal/config"
	"github.com/kiranshivaraju/docanalyzer/internal/document"
	"github.com/kiranshivaraju/docanalyzer/internal/job"
	"github.com/kiranshivaraju/docanalyzer/internal/queue"
	"github.com/kiranshivaraju/docanalyzer/internal/store"
	"github.com/kiranshivaraju/docanalyzer/internal/worker"
	"github.com/redis/go-redis/v9"
)

// components are the long-lived collaborators shared by serve and worker.
type components struct {
	store    store.Store
	cache    cache.Cache
	queue    queue.Queue
	docs     document.Storage
	executor *job.Executor

	closers []func()
}

// Close releases resources in reverse construction order.
func (c *components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}

// build connects every backend selected by cfg. On error, whatever was
// already opened is closed before returning.
func build(ctx context.Context, cfg *config.Config) (_ *components, err error) {
	c := &components{}
	defer func() {
		if err != nil {
			c.Close()
		}
	}()

	switch cfg.Database.Backend {
	case "postgres":
		pool, err := store.Connect(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		c.closers = append(c.closers, pool.Close)
		slog.Info("database connected")

		if err := store.RunMigrations(cfg.Database.URL); err != nil {
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		slog.Info("database migrations applied")
		c.store = store.NewPostgresStore(pool)
	default:
		c.store = store.NewMemoryStore()
		slog.Warn("using in-memory job store, records do not survive a restart")
	}

	var rdb *redis.Client
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis URL: %w", err)
		}
		rdb = redis.NewClient(opts)
		c.closers = append(c.closers, func() { _ = rdb.Close() })
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		slog.Info("redis connected")
	}

	if rdb != nil {
		c.cache = cache.NewRedisCacheFromClient(rdb)
	} else {
		c.cache = cache.NewMemoryCache()
	}

	switch cfg.Queue.Backend {
	case "redis":
		// Claim leases last as long as the per-job lock.
		c.queue = queue.NewRedisQueue(rdb, cfg.Queue.Key,
			queue.WithVisibilityTimeout(worker.LockTTL(cfg.AI.InferenceTimeout)))
	default:
		mq := queue.NewMemoryQueue()
		c.closers = append(c.closers, mq.Close)
		c.queue = mq
	}

	switch cfg.Storage.Backend {
	case "s3":
		tmp := filepath.Join(os.TempDir(), "docanalyzer")
		if err := os.MkdirAll(tmp, 0o750); err != nil {
			return nil, fmt.Errorf("create scratch dir: %w", err)
		}
		s3, err := document.NewS3Storage(ctx, cfg.Storage.S3, tmp)
		if err != nil {
			return nil, fmt.Errorf("create s3 storage: %w", err)
		}
		c.docs = s3
	default:
		local, err := document.NewLocalStorage(cfg.Storage.Dir)
		if err != nil {
			return nil, fmt.Errorf("create local storage: %w", err)
		}
		c.docs = local
	}

	engine, err := ai.New(cfg.AI, cfg.Document.MaxChars)
	if err != nil {
		return nil, fmt.Errorf("create AI engine: %w", err)
	}
	slog.Info("AI provider initialized", "provider", cfg.AI.Provider)

	c.executor = job.NewExecutor(c.store, c.docs, document.NewReader(), engine, cfg.AI.InferenceTimeout)
	return c, nil
}
