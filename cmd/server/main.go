package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/podushkina/linkarchive/internal/api"
	"github.com/podushkina/linkarchive/internal/config"
	"github.com/podushkina/linkarchive/internal/download"
	"github.com/podushkina/linkarchive/internal/embeddings"
	"github.com/podushkina/linkarchive/internal/failurelog"
	"github.com/podushkina/linkarchive/internal/jobs"
	"github.com/podushkina/linkarchive/internal/observability"
	"github.com/podushkina/linkarchive/internal/pipeline"
	"github.com/podushkina/linkarchive/internal/storage"
	"github.com/podushkina/linkarchive/internal/task"
	"github.com/podushkina/linkarchive/internal/vector"
	"github.com/podushkina/linkarchive/internal/worker"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// logger is not configured yet
		zap.NewExample().Fatal("failed to load config", zap.Error(err))
	}

	logger, err := observability.SetupLogger(cfg.Log)
	if err != nil {
		zap.NewExample().Fatal("failed to set up logger", zap.Error(err))
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb, err := storage.Connect(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()
	logger.Info("connected to redis", zap.String("addr", cfg.Redis.Addr))

	embedder, err := embeddings.New(ctx, embeddings.Config{
		APIKey:     cfg.Embeddings.APIKey,
		Model:      cfg.Embeddings.Model,
		Dimensions: cfg.Embeddings.Dimensions,
	}, logger)
	if err != nil {
		logger.Fatal("failed to create embeddings client", zap.Error(err))
	}

	index := vector.New(rdb, cfg.Vector.Collection, embedder.Dimensions(), cfg.Vector.Limit, logger)
	if err := index.Init(ctx); err != nil {
		logger.Fatal("failed to initialize vector index", zap.Error(err))
	}

	store := storage.New(rdb, logger)
	p := &pipeline.Pipeline{
		Downloader: download.New(cfg.Download.Command, cfg.Download.Args, logger),
		Store:      store,
		Embedder:   embedder,
		Index:      index,
		TempDir:    cfg.Download.TempDir,
	}

	failures := failurelog.Open(failurelog.Options{
		Path:       cfg.FailureLog.Path,
		MaxSizeMB:  cfg.FailureLog.MaxSizeMB,
		MaxBackups: cfg.FailureLog.MaxBackups,
	})
	defer failures.Close()

	registry := task.NewRegistry(task.WithRetention(cfg.Tasks.Retention))
	pool := worker.NewPool(cfg.Workers.Count, logger)
	gateway := jobs.NewGateway(registry, pool, failures, logger)
	logger.Info("worker pool ready", zap.Int("workers", pool.Size()))

	if registry.Retention() > 0 {
		go sweep(ctx, registry, cfg.Tasks.SweepInterval, logger)
	}

	handler, err := api.NewHandler(gateway, p, logger,
		api.WithPollInterval(cfg.Server.PollInterval),
		api.WithFiles(store),
	)
	if err != nil {
		logger.Fatal("failed to create handler", zap.Error(err))
	}

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Server.Port),
		Handler:      api.NewRouter(handler),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutdown signal received")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}

	gateway.Shutdown()
	logger.Info("server stopped")
}

func sweep(ctx context.Context, registry *task.Registry, interval time.Duration, logger *zap.Logger) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := registry.Sweep(); n > 0 {
				logger.Debug("evicted finished tasks", zap.Int("count", n))
			}
		}
	}
}
