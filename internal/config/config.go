package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv         string // prod, dev, local
	LogLevel       string
	Port           string
	GinMode        string
	CORSOrigins    []string
	MaxRequestSize int64

	// Per IP and route, in a fixed Redis window
	RateLimitReqs   int
	RateLimitWindow time.Duration

	MongoURI string
	DBName   string

	// Redis Configuration
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// Chunk/status store: "mongo" (default) or "sqlite"
	StoreBackend string
	SQLitePath   string

	// Source download
	FetchTimeout    time.Duration
	MaxDocumentSize int64

	// Gemini (document OCR, vision retry, embeddings)
	GeminiAPIKey string
	GeminiModel  string
	GeminiTier   string

	// OpenAI (vision OCR, embeddings)
	OpenAIAPIKey      string
	OpenAIBaseURL     string
	OpenAIVisionModel string

	// OCR Service Configuration
	OCRServiceURL          string
	OCRServiceEnabled      bool
	OCRTimeout             time.Duration
	OCRConfidenceThreshold float64

	// OCR fallback chain
	GeminiDocumentTimeout time.Duration
	VisionTimeout         time.Duration
	RenderVisionTimeout   time.Duration
	TesseractEnabled      bool
	TesseractTimeout      time.Duration
	TesseractLanguage     string
	RenderDPI             int
	RenderMaxPages        int

	// Embeddings configuration
	EmbeddingsProvider    string // "google" (default), "openai", "none"
	GoogleEmbeddingsModel string // e.g., "text-embedding-004"
	OpenAIEmbeddingsModel string
	EmbedTimeout          time.Duration

	// Chunking and persistence
	MaxChunkSize   int
	PersistTimeout time.Duration

	// Worker
	WorkerConcurrency int
	DocumentTimeout   time.Duration
	LockTTL           time.Duration

	// Stale run sweeper
	StaleAfter    time.Duration
	SweepInterval time.Duration

	// Telemetry
	OTelEnabled  bool
	OTelEndpoint string

	// Optional YAML file overriding scorer weights
	ScoringConfigFile string
	Scoring           ScoringConfig
}

func LoadConfig() (*Config, error) {
	// Load .env file if exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("error loading .env file: %v", err)
		}
	}

	cfg := &Config{
		AppEnv:         getEnv("APP_ENV", "dev"),
		LogLevel:       getEnv("LOG_LEVEL", ""),
		Port:           getEnv("PORT", "8080"),
		GinMode:        getEnv("GIN_MODE", "debug"),
		CORSOrigins:    strings.Split(getEnv("CORS_ORIGINS", "http://localhost:3000,http://localhost:8080"), ","),
		MaxRequestSize: getEnvInt64("MAX_REQUEST_SIZE", 1<<20),

		RateLimitReqs:   getEnvInt("RATE_LIMIT_REQUESTS", 60),
		RateLimitWindow: getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),

		MongoURI: getEnv("MONGO_URI", "mongodb://localhost:27017/legal_ingest"),
		DBName:   getEnv("DB_NAME", "legal_ingest"),

		RedisURL:      getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		StoreBackend: getEnv("STORE_BACKEND", "mongo"),
		SQLitePath:   getEnv("SQLITE_PATH", "./storage/ingest.db"),

		FetchTimeout:    getEnvDuration("FETCH_TIMEOUT", 120*time.Second),
		MaxDocumentSize: getEnvInt64("MAX_DOCUMENT_SIZE", 50<<20), // 50MB

		GeminiAPIKey: getEnv("GEMINI_API_KEY", ""),
		GeminiModel:  getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
		GeminiTier:   getEnv("GEMINI_TIER", "free"),

		OpenAIAPIKey:      getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:     getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIVisionModel: getEnv("OPENAI_VISION_MODEL", "gpt-4o-mini"),

		OCRServiceURL:          getEnv("OCR_SERVICE_URL", "http://localhost:8001"),
		OCRServiceEnabled:      getEnvBool("OCR_SERVICE_ENABLED", false),
		OCRTimeout:             getEnvDuration("OCR_TIMEOUT", 5*time.Minute),
		OCRConfidenceThreshold: getEnvFloat64("OCR_CONFIDENCE_THRESHOLD", 0.7),

		GeminiDocumentTimeout: getEnvDuration("GEMINI_DOCUMENT_TIMEOUT", 90*time.Second),
		VisionTimeout:         getEnvDuration("VISION_TIMEOUT", 60*time.Second),
		RenderVisionTimeout:   getEnvDuration("RENDER_VISION_TIMEOUT", 120*time.Second),
		TesseractEnabled:      getEnvBool("TESSERACT_ENABLED", true),
		TesseractTimeout:      getEnvDuration("TESSERACT_TIMEOUT", 180*time.Second),
		TesseractLanguage:     getEnv("TESSERACT_LANG", "eng"),
		RenderDPI:             getEnvInt("RENDER_DPI", 150),
		RenderMaxPages:        getEnvInt("RENDER_MAX_PAGES", 20),

		EmbeddingsProvider:    getEnv("EMBEDDINGS_PROVIDER", "google"),
		GoogleEmbeddingsModel: getEnv("GOOGLE_EMBEDDINGS_MODEL", "text-embedding-004"),
		OpenAIEmbeddingsModel: getEnv("OPENAI_EMBEDDINGS_MODEL", "text-embedding-3-small"),
		EmbedTimeout:          getEnvDuration("EMBED_TIMEOUT", 30*time.Second),

		MaxChunkSize:   getEnvInt("MAX_CHUNK_SIZE", 1500),
		PersistTimeout: getEnvDuration("PERSIST_TIMEOUT", 10*time.Second),

		WorkerConcurrency: getEnvInt("WORKER_CONCURRENCY", 4),
		DocumentTimeout:   getEnvDuration("DOCUMENT_TIMEOUT", 10*time.Minute),
		LockTTL:           getEnvDuration("LOCK_TTL", 15*time.Minute),

		StaleAfter:    getEnvDuration("STALE_AFTER", 30*time.Minute),
		SweepInterval: getEnvDuration("SWEEP_INTERVAL", 5*time.Minute),

		OTelEnabled:  getEnvBool("OTEL_ENABLED", false),
		OTelEndpoint: getEnv("OTEL_ENDPOINT", "localhost:4317"),

		ScoringConfigFile: getEnv("SCORING_CONFIG_FILE", ""),
		Scoring:           DefaultScoringConfig(),
	}

	if cfg.ScoringConfigFile != "" {
		scoring, err := LoadScoringConfig(cfg.ScoringConfigFile)
		if err != nil {
			return nil, err
		}
		cfg.Scoring = scoring
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case "mongo", "sqlite":
	default:
		return fmt.Errorf("STORE_BACKEND must be \"mongo\" or \"sqlite\", got %q", c.StoreBackend)
	}
	switch c.EmbeddingsProvider {
	case "google", "openai", "none", "":
	default:
		return fmt.Errorf("unknown embeddings provider: %s", c.EmbeddingsProvider)
	}
	if c.EmbeddingsProvider == "openai" && c.OpenAIAPIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required for openai embeddings")
	}
	if c.MaxChunkSize <= 0 {
		return fmt.Errorf("MAX_CHUNK_SIZE must be positive, got %d", c.MaxChunkSize)
	}
	if c.MaxDocumentSize <= 0 {
		return fmt.Errorf("MAX_DOCUMENT_SIZE must be positive, got %d", c.MaxDocumentSize)
	}
	if c.WorkerConcurrency <= 0 {
		return fmt.Errorf("WORKER_CONCURRENCY must be positive, got %d", c.WorkerConcurrency)
	}
	if c.StaleAfter <= c.DocumentTimeout {
		return fmt.Errorf("STALE_AFTER (%s) must exceed DOCUMENT_TIMEOUT (%s)", c.StaleAfter, c.DocumentTimeout)
	}
	return c.Scoring.Validate()
}

// EmbeddingsEnabled reports whether an embedding backend can be built
func (c *Config) EmbeddingsEnabled() bool {
	switch c.EmbeddingsProvider {
	case "google", "":
		return c.GeminiAPIKey != ""
	case "openai":
		return c.OpenAIAPIKey != ""
	}
	return false
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go duration strings ("90s") or bare seconds ("90")
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
