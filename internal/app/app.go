// Package app wires configuration into the document processing stack shared
// by the API server and the worker.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"legal-ingest-platform/internal/ai"
	"legal-ingest-platform/internal/chunking"
	"legal-ingest-platform/internal/config"
	"legal-ingest-platform/internal/extraction"
	"legal-ingest-platform/internal/telemetry"
	"legal-ingest-platform/services"
)

// App holds the long-lived components of one process.
type App struct {
	Config    *config.Config
	Log       *zap.Logger
	Metrics   *telemetry.Metrics
	Store     services.DocumentStore
	Tracker   *services.Tracker
	Processor *services.DocumentProcessor

	gemini *ai.GeminiClient
}

// New builds the processing stack. rdb may be nil, in which case runs are
// serialized per process only.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger, rdb *redis.Client) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	m, err := telemetry.InitMetrics()
	if err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	store, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, Log: log, Metrics: m, Store: store}

	if cfg.GeminiAPIKey != "" {
		a.gemini, err = ai.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, cfg.GeminiTier, log.Named("gemini"), m)
		if err != nil {
			a.Close()
			return nil, err
		}
	}
	var openai *ai.OpenAIClient
	if cfg.OpenAIAPIKey != "" {
		openai, err = ai.NewOpenAIClient(&ai.OpenAIConfig{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.OpenAIVisionModel,
			Logger:  log.Named("openai"),
			Metrics: m,
		})
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	stages := OCRStages(cfg, a.gemini, openai)
	orchestrator, err := extraction.NewOrchestrator(
		extraction.WeightsFromConfig(cfg.Scoring.Extraction),
		log.Named("orchestrator"),
		m,
		extraction.NewStructuralExtractor(log.Named("structural")),
		extraction.NewOCRExtractor(extraction.NewChain(log.Named("ocr"), m, stages...), log.Named("ocr")),
		extraction.NewHeuristicAnalyzer(log.Named("heuristic")),
	)
	if err != nil {
		a.Close()
		return nil, err
	}

	embedder := NewEmbedder(cfg, a.gemini, openai)
	pipeline := services.NewChunkPipeline(
		store,
		embedder,
		services.NewChunkCleaner(services.DefaultMaxChunkChars),
		services.NewQualityScorer(cfg.Scoring.Chunk),
		services.PipelineOptions{
			MinScore:       cfg.Scoring.Chunk.MinScore,
			EmbedMinScore:  cfg.Scoring.Chunk.EmbedMinScore,
			EmbedTimeout:   cfg.EmbedTimeout,
			PersistTimeout: cfg.PersistTimeout,
		},
		log.Named("pipeline"),
	)

	var locker services.Locker = services.NewLocalLocker()
	if rdb != nil {
		locker = services.NewRedisLocker(rdb, cfg.LockTTL, log.Named("lock"))
	}

	a.Tracker = services.NewTracker(store, store, log.Named("lifecycle"))
	a.Processor, err = services.NewDocumentProcessor(services.ProcessorDeps{
		Fetcher:   services.NewFetcher(cfg.FetchTimeout, cfg.MaxDocumentSize),
		Extractor: orchestrator,
		Chunker:   chunking.NewChunker(cfg.MaxChunkSize),
		Pipeline:  pipeline,
		Tracker:   a.Tracker,
		Locker:    locker,
		Metrics:   m,
		Log:       log.Named("processor"),
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	log.Info("Processing stack ready",
		zap.String("store", cfg.StoreBackend),
		zap.Int("ocr_stages", len(stages)),
		zap.Bool("embeddings", embedder != nil),
		zap.Bool("distributed_lock", rdb != nil))
	return a, nil
}

// Close releases model clients and the store.
func (a *App) Close() {
	if a.gemini != nil {
		if err := a.gemini.Close(); err != nil {
			a.Log.Warn("Failed to close gemini client", zap.Error(err))
		}
	}
	if a.Store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.Store.Close(ctx); err != nil {
			a.Log.Warn("Failed to close store", zap.Error(err))
		}
	}
}

// OpenStore connects the configured chunk and status backend.
func OpenStore(ctx context.Context, cfg *config.Config) (services.DocumentStore, error) {
	switch cfg.StoreBackend {
	case "sqlite":
		if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create sqlite dir: %w", err)
			}
		}
		return services.OpenSQLiteStore(ctx, cfg.SQLitePath)
	default:
		client, err := config.ConnectMongoDB(cfg)
		if err != nil {
			return nil, err
		}
		return services.NewMongoStore(client, cfg.DBName), nil
	}
}

// OCRStages returns the configured OCR fallback stages in priority order.
// Stages whose backend is not configured or not installed are omitted.
func OCRStages(cfg *config.Config, gemini *ai.GeminiClient, openai *ai.OpenAIClient) []extraction.Stage {
	var stages []extraction.Stage
	renderer := extraction.NewPdftoppmRenderer(cfg.RenderDPI, cfg.RenderMaxPages)

	if gemini != nil {
		stages = append(stages, extraction.Stage{
			Name:    "gemini-document",
			Backend: &extraction.DocumentModelBackend{Reader: gemini},
			Accept:  extraction.MinLengthAndConfidence(50, 0.7),
			Timeout: cfg.GeminiDocumentTimeout,
		})
	}
	if openai != nil {
		stages = append(stages, extraction.Stage{
			Name:    "openai-vision",
			Backend: &extraction.EmbeddedImageBackend{Reader: openai, MaxImages: cfg.RenderMaxPages},
			Accept:  extraction.MinLength(30),
			Timeout: cfg.VisionTimeout,
		})
	}
	if gemini != nil && renderer.Available() {
		stages = append(stages, extraction.Stage{
			Name:    "render-vision",
			Backend: &extraction.RenderedVisionBackend{Renderer: renderer, Reader: gemini},
			Accept:  extraction.MinLength(30),
			Timeout: cfg.RenderVisionTimeout,
		})
	}
	if cfg.OCRServiceEnabled && cfg.OCRServiceURL != "" {
		stages = append(stages, extraction.Stage{
			Name:    "ocr-service",
			Backend: extraction.NewOCRServiceClient(cfg.OCRServiceURL, cfg.OCRConfidenceThreshold),
			Accept:  extraction.MinLength(30),
			Timeout: cfg.OCRTimeout,
		})
	}
	if cfg.TesseractEnabled {
		tesseract := extraction.NewTesseractBackend(renderer, cfg.TesseractLanguage)
		if tesseract.Available() && renderer.Available() {
			stages = append(stages, extraction.Stage{
				Name:    "tesseract",
				Backend: tesseract,
				Accept:  extraction.MinLength(30),
				Timeout: cfg.TesseractTimeout,
			})
		}
	}
	return stages
}

// NewEmbedder returns the configured embedding backend, or nil when
// embeddings are disabled or unconfigured.
func NewEmbedder(cfg *config.Config, gemini *ai.GeminiClient, openai *ai.OpenAIClient) services.Embedder {
	switch cfg.EmbeddingsProvider {
	case "google", "":
		if gemini != nil {
			return ai.NewGeminiEmbedder(gemini, cfg.GoogleEmbeddingsModel)
		}
	case "openai":
		if openai != nil {
			return ai.NewOpenAIEmbedder(openai, cfg.OpenAIEmbeddingsModel)
		}
	}
	return nil
}
