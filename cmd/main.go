package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"legal-ingest-platform/internal/app"
	"legal-ingest-platform/internal/config"
	"legal-ingest-platform/internal/logger"
	"legal-ingest-platform/internal/metrics"
	"legal-ingest-platform/internal/queue"
	"legal-ingest-platform/internal/telemetry"
	"legal-ingest-platform/middleware"
	"legal-ingest-platform/routes"
)

const serviceName = "legal-ingest-api"

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
		shutdown, err := telemetry.InitTracer(ctx, serviceName, cfg.OTelEndpoint, cfg.AppEnv, zlog)
		if err != nil {
			zlog.Warn("Tracing disabled", zap.Error(err))
		} else {
			defer shutdown()
		}
	}
	metrics.Register()

	// Redis backs the document lock and the task queue; without it the API
	// still processes synchronously with an in-process lock.
	var rdb *redis.Client
	var queueClient *asynq.Client
	var inspector *asynq.Inspector
	if client, err := config.NewRedisClient(cfg); err != nil {
		zlog.Warn("Redis unavailable, async processing disabled", zap.Error(err))
	} else {
		rdb = client
		defer rdb.Close()
		redisOpt, err := config.AsynqRedisOpt(cfg)
		if err != nil {
			zlog.Fatal("Invalid Redis options", zap.Error(err))
		}
		queueClient = asynq.NewClient(redisOpt)
		defer queueClient.Close()
		inspector = asynq.NewInspector(redisOpt)
		defer inspector.Close()
	}

	a, err := app.New(ctx, cfg, zlog, rdb)
	if err != nil {
		zlog.Fatal("Failed to build processing stack", zap.Error(err))
	}
	defer a.Close()

	if cfg.GinMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware(zlog))
	router.Use(middleware.CORSMiddleware(cfg.CORSOrigins))
	if cfg.OTelEnabled {
		router.Use(middleware.TracingMiddleware(serviceName))
		router.Use(middleware.EnrichTrace())
	}
	router.Use(middleware.MetricsMiddleware(a.Metrics))
	router.Use(middleware.RequestSizeLimit(cfg.MaxRequestSize))
	router.Use(middleware.RateLimitMiddleware(rdb, cfg.RateLimitReqs, cfg.RateLimitWindow))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"store":     cfg.StoreBackend,
			"async":     queueClient != nil,
			"timestamp": time.Now(),
		})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	var enqueuer queue.Enqueuer
	var taskInspector queue.TaskInspector
	if queueClient != nil {
		enqueuer = queueClient
		taskInspector = inspector
	}
	routes.SetupDocumentRoutes(router, routes.NewDocumentHandler(a.Processor, a.Store, enqueuer, taskInspector, cfg.DocumentTimeout, cfg.DocumentTimeout))

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zlog.Info("Server starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Error("Server forced to shutdown", zap.Error(err))
	}

	zlog.Info("Server exited")
}
