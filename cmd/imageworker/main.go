// Package main wires together the image pipeline worker binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gcppubsub "cloud.google.com/go/pubsub"
	gcsclient "cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/surveypix/image-pipeline/internal/api"
	"github.com/surveypix/image-pipeline/internal/clock/system"
	"github.com/surveypix/image-pipeline/internal/config"
	"github.com/surveypix/image-pipeline/internal/dedup"
	"github.com/surveypix/image-pipeline/internal/dispatcher"
	"github.com/surveypix/image-pipeline/internal/fetch"
	"github.com/surveypix/image-pipeline/internal/id/uuid"
	"github.com/surveypix/image-pipeline/internal/logging"
	"github.com/surveypix/image-pipeline/internal/pipeline"
	"github.com/surveypix/image-pipeline/internal/progress"
	memorypublisher "github.com/surveypix/image-pipeline/internal/publisher/memory"
	pubsubpublisher "github.com/surveypix/image-pipeline/internal/publisher/pubsub"
	queuememory "github.com/surveypix/image-pipeline/internal/queue/memory"
	"github.com/surveypix/image-pipeline/internal/storage/gcs"
	"github.com/surveypix/image-pipeline/internal/storage/local"
	storagememory "github.com/surveypix/image-pipeline/internal/storage/memory"
	"github.com/surveypix/image-pipeline/internal/storage/postgres"
	"github.com/surveypix/image-pipeline/internal/worker"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("pipeline run failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	clock := system.New()

	runID, err := uuid.NewUUIDGenerator().NewID()
	if err != nil {
		return fmt.Errorf("generate run id: %w", err)
	}
	logger = logger.With(zap.String("run_id", runID))

	var pgPool *pgxpool.Pool
	needsDB := cfg.Queue.Provider == "postgres" || cfg.Store.Provider == "postgres"
	if needsDB {
		pool, err := postgres.NewPool(ctx, postgres.PoolConfig{
			DSN:      cfg.DB.DSN,
			MaxConns: cfg.DB.MaxConns,
		})
		if err != nil {
			return fmt.Errorf("database pool: %w", err)
		}
		defer pool.Close()
		pgPool = pool
	}

	queue, drain, err := buildQueue(cfg, pgPool, logger)
	if err != nil {
		return err
	}
	results, index, err := buildStores(cfg, pgPool)
	if err != nil {
		return err
	}
	blobs, err := buildBlobStore(ctx, cfg)
	if err != nil {
		return err
	}
	pub, topic, cleanup, err := buildPublisher(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	pool := fetch.NewConnectionPool(fetch.PoolConfig{
		WorkerCount:         cfg.Pipeline.WorkerCount,
		MaxTotalConnections: cfg.Pipeline.MaxTotalConnections,
	})
	defer pool.CloseIdle()

	var strategy pipeline.Strategy
	switch cfg.Pipeline.Strategy {
	case config.StrategyBaseline:
		strategy = fetch.NewBaseline(pool, cfg.Pipeline.BaseTimeout())
	default:
		strategy = fetch.NewAdvanced(pool, cfg.Pipeline.MaxRetries, cfg.Pipeline.BaseTimeout())
	}
	throttler := pipeline.Throttler(fetch.NewHostThrottler(cfg.Pipeline.MaxConcurrentPerHost))
	if cfg.Pipeline.PerHostRPS > 0 {
		throttler = fetch.Polite(throttler, fetch.NewRateLimiter(cfg.Pipeline.PerHostRPS, 1))
	}
	detector := dedup.NewDetector(index, blobs, logger.Named("dedup"))

	total, err := queue.PendingCount(ctx)
	if err != nil {
		return fmt.Errorf("count backlog: %w", err)
	}
	tracker := progress.NewTracker(total, cfg.Pipeline.ProgressBatch, clock, logger.Named("progress"))
	logger.Info("backlog ready",
		zap.Int("pending", total),
		zap.String("strategy", strategy.Name()),
		zap.Int("workers", cfg.Pipeline.WorkerCount))

	workerCfg := worker.Config{
		Topic:        topic,
		ClaimBackoff: cfg.Pipeline.ClaimBackoff(),
		DrainAndExit: drain,
	}
	workers := make([]*worker.Worker, 0, cfg.Pipeline.WorkerCount)
	for i := 0; i < cfg.Pipeline.WorkerCount; i++ {
		workers = append(workers, worker.New(
			queue,
			results,
			strategy,
			throttler,
			detector,
			pub,
			tracker,
			clock,
			workerCfg,
			logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	dispatch := dispatcher.New(workers, logger.Named("dispatcher"))

	apiServer := api.NewServer(queue, tracker, logger.Named("api"))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
		}
	}()

	done := make(chan struct{})
	go func() {
		dispatch.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
		logger.Info("backlog drained")
	case <-ctx.Done():
		logger.Info("shutdown initiated")
		<-done
	}

	snap := tracker.Snapshot()
	logger.Info("run finished",
		zap.Int64("processed", snap.Processed),
		zap.Int64("succeeded", snap.Succeeded),
		zap.Int64("failed", snap.Failed),
		zap.Int64("duplicates", snap.Duplicates))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	return nil
}

func buildQueue(cfg config.Config, pgPool *pgxpool.Pool, logger *zap.Logger) (pipeline.WorkQueue, bool, error) {
	switch cfg.Queue.Provider {
	case "memory":
		q := queuememory.NewQueue()
		if cfg.Pipeline.InputFile != "" {
			n, err := q.LoadCSV(cfg.Pipeline.InputFile)
			if err != nil {
				return nil, false, fmt.Errorf("seed backlog: %w", err)
			}
			logger.Info("backlog seeded from file",
				zap.String("file", cfg.Pipeline.InputFile),
				zap.Int("items", n))
		}
		return q, true, nil
	case "postgres":
		q, err := postgres.NewWorkQueue(pgPool)
		if err != nil {
			return nil, false, fmt.Errorf("postgres queue: %w", err)
		}
		return q, false, nil
	default:
		return nil, false, fmt.Errorf("unknown queue.provider %q", cfg.Queue.Provider)
	}
}

func buildStores(cfg config.Config, pgPool *pgxpool.Pool) (pipeline.ResultStore, pipeline.ImageIndex, error) {
	switch cfg.Store.Provider {
	case "memory":
		return storagememory.NewResultStore(), storagememory.NewImageIndex(), nil
	case "postgres":
		results, err := postgres.NewResultStore(pgPool, "")
		if err != nil {
			return nil, nil, fmt.Errorf("postgres result store: %w", err)
		}
		index, err := postgres.NewImageIndex(pgPool)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres image index: %w", err)
		}
		return results, index, nil
	default:
		return nil, nil, fmt.Errorf("unknown store.provider %q", cfg.Store.Provider)
	}
}

func buildBlobStore(ctx context.Context, cfg config.Config) (pipeline.BlobStore, error) {
	switch cfg.Storage.Provider {
	case "memory":
		return storagememory.NewBlobStore(), nil
	case "local":
		store, err := local.New(local.Config{BaseDir: cfg.Storage.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store: %w", err)
		}
		return store, nil
	case "gcs":
		client, err := gcsclient.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client: %w", err)
		}
		store, err := gcs.New(client, gcs.Config{
			Bucket: cfg.Storage.GCSBucket,
			Prefix: cfg.Storage.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage.provider %q", cfg.Storage.Provider)
	}
}

// buildPublisher returns the completion publisher, the topic to publish on
// (empty disables publishing) and a cleanup function.
func buildPublisher(ctx context.Context, cfg config.Config) (pipeline.Publisher, string, func(), error) {
	if cfg.PubSub.Topic == "" {
		return memorypublisher.New(), "", func() {}, nil
	}
	if cfg.PubSub.ProjectID == "" {
		return nil, "", nil, fmt.Errorf("pubsub.topic is set but pubsub.project_id is not")
	}
	client, err := gcppubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, "", nil, fmt.Errorf("pubsub client: %w", err)
	}
	pub, err := pubsubpublisher.New(client)
	if err != nil {
		return nil, "", nil, fmt.Errorf("pubsub publisher: %w", err)
	}
	cleanup := func() {
		pub.Stop()
		if closeErr := client.Close(); closeErr != nil {
			zap.L().Warn("pubsub client close failed", zap.Error(closeErr))
		}
	}
	return pub, cfg.PubSub.Topic, cleanup, nil
}
