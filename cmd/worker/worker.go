package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"legal-ingest-platform/internal/app"
	"legal-ingest-platform/internal/config"
	"legal-ingest-platform/internal/logger"
	"legal-ingest-platform/internal/metrics"
	"legal-ingest-platform/internal/queue"
	"legal-ingest-platform/internal/scheduler"
	"legal-ingest-platform/internal/telemetry"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	zlog, err := logger.InitLogger(cfg)
	if err != nil {
		log.Fatal("Failed to init logger:", err)
	}
	defer func() { _ = zlog.Sync() }()

	ctx := context.Background()
	if cfg.OTelEnabled {
		shutdown, err := telemetry.InitTracer(ctx, "legal-ingest-worker", cfg.OTelEndpoint, cfg.AppEnv, zlog)
		if err != nil {
			zlog.Warn("Tracing disabled", zap.Error(err))
		} else {
			defer shutdown()
		}
	}
	metrics.Register()

	rdb, err := config.NewRedisClient(cfg)
	if err != nil {
		zlog.Fatal("Redis is required by the worker", zap.Error(err))
	}
	defer rdb.Close()
	redisOpt, err := config.AsynqRedisOpt(cfg)
	if err != nil {
		zlog.Fatal("Invalid Redis options", zap.Error(err))
	}

	a, err := app.New(ctx, cfg, zlog, rdb)
	if err != nil {
		zlog.Fatal("Failed to build processing stack", zap.Error(err))
	}
	defer a.Close()

	sched := scheduler.NewScheduler(zlog.Named("scheduler"))
	sweeper := scheduler.NewSweeper(a.Tracker, cfg.StaleAfter, zlog.Named("sweeper"))
	if err := sweeper.Schedule(sched, cfg.SweepInterval); err != nil {
		zlog.Fatal("Failed to schedule stale-run sweeper", zap.Error(err))
	}
	sched.Start()
	defer sched.Stop()

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.WorkerConcurrency,
			Queues: map[string]int{
				queue.QueueCritical: 6,
				"default":           3,
				"low":               1,
			},
			StrictPriority: true,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retried, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				zlog.Error("Task failed",
					zap.String("type", task.Type()),
					zap.Int("retry", retried),
					zap.Int("max_retry", maxRetry),
					zap.Error(err))
			}),
		},
	)

	mux := asynq.NewServeMux()
	queue.NewTaskHandler(a.Processor, zlog.Named("tasks")).Register(mux)

	zlog.Info("Starting Asynq worker",
		zap.Int("concurrency", cfg.WorkerConcurrency),
		zap.Duration("sweep_interval", cfg.SweepInterval),
		zap.Duration("stale_after", cfg.StaleAfter))

	if err := server.Start(mux); err != nil {
		zlog.Fatal("Failed to start worker", zap.Error(err))
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info("Shutting down worker...")
	server.Shutdown()
}
