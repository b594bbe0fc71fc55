package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"legal-ingest-platform/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		StoreBackend:       "sqlite",
		SQLitePath:         filepath.Join(t.TempDir(), "data", "ingest.db"),
		EmbeddingsProvider: "none",
		MaxChunkSize:       1500,
		MaxDocumentSize:    1 << 20,
		WorkerConcurrency:  1,
		DocumentTimeout:    10 * time.Minute,
		StaleAfter:         30 * time.Minute,
		Scoring:            config.DefaultScoringConfig(),
	}
}

func TestNew_SQLiteWithoutModels(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), nil, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer a.Close()

	if a.Processor == nil || a.Tracker == nil || a.Store == nil {
		t.Fatal("processing stack not built")
	}
}

func TestOCRStages(t *testing.T) {
	cfg := testConfig(t)
	if got := OCRStages(cfg, nil, nil); len(got) != 0 {
		t.Errorf("stages without backends = %d, want 0", len(got))
	}

	cfg.OCRServiceEnabled = true
	cfg.OCRServiceURL = "http://localhost:8001"
	stages := OCRStages(cfg, nil, nil)
	if len(stages) != 1 || stages[0].Name != "ocr-service" {
		t.Errorf("stages = %+v, want only ocr-service", stages)
	}
}

func TestNewEmbedder_Disabled(t *testing.T) {
	cfg := testConfig(t)
	for _, provider := range []string{"none", "google", "openai"} {
		cfg.EmbeddingsProvider = provider
		if e := NewEmbedder(cfg, nil, nil); e != nil {
			t.Errorf("NewEmbedder(%s) without clients = %T, want nil", provider, e)
		}
	}
}
