package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultScoringConfig_Valid(t *testing.T) {
	if err := DefaultScoringConfig().Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestLoadScoringConfig_PartialOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scoring.yaml")
	data := "extraction:\n  structural_bonus: 0.3\nchunk:\n  embed_min_score: 0.4\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadScoringConfig(path)
	if err != nil {
		t.Fatalf("LoadScoringConfig: %v", err)
	}
	if cfg.Extraction.StructuralBonus != 0.3 {
		t.Errorf("structural_bonus = %v, want 0.3", cfg.Extraction.StructuralBonus)
	}
	if cfg.Chunk.EmbedMinScore != 0.4 {
		t.Errorf("embed_min_score = %v, want 0.4", cfg.Chunk.EmbedMinScore)
	}
	if cfg.Extraction.QualityWeight != 0.6 {
		t.Errorf("quality_weight should keep default 0.6, got %v", cfg.Extraction.QualityWeight)
	}
}

func TestLoadScoringConfig_RejectsBadWeights(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scoring.yaml")
	data := "extraction:\n  quality_weight: 0.9\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	_, err := LoadScoringConfig(path)
	if err == nil {
		t.Fatal("expected error when blend weights do not sum to 1")
	}
	if !strings.Contains(err.Error(), "quality_weight") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidate_StoreBackend(t *testing.T) {
	cfg := Config{
		StoreBackend:       "postgres",
		EmbeddingsProvider: "none",
		MaxChunkSize:       1500,
		MaxDocumentSize:    1,
		WorkerConcurrency:  1,
		DocumentTimeout:    10 * time.Minute,
		StaleAfter:         30 * time.Minute,
		Scoring:            DefaultScoringConfig(),
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown store backend")
	}

	cfg.StoreBackend = "sqlite"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_StaleAfterExceedsDocumentTimeout(t *testing.T) {
	cfg := Config{
		StoreBackend:       "sqlite",
		EmbeddingsProvider: "none",
		MaxChunkSize:       1500,
		MaxDocumentSize:    1,
		WorkerConcurrency:  1,
		DocumentTimeout:    10 * time.Minute,
		StaleAfter:         10 * time.Minute,
		Scoring:            DefaultScoringConfig(),
	}
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "STALE_AFTER") {
		t.Fatalf("Validate() error = %v, want STALE_AFTER error", err)
	}

	cfg.StaleAfter = 11 * time.Minute
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestGetEnvDuration(t *testing.T) {
	tests := []struct {
		value string
		want  time.Duration
	}{
		{"", 5 * time.Second},
		{"90s", 90 * time.Second},
		{"45", 45 * time.Second},
		{"garbage", 5 * time.Second},
	}
	for _, tt := range tests {
		t.Run("value="+tt.value, func(t *testing.T) {
			t.Setenv("TEST_DURATION", tt.value)
			if got := getEnvDuration("TEST_DURATION", 5*time.Second); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}
