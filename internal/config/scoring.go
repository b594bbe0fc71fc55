package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ScoringConfig holds the tunable scorer constants. Defaults are empirical
// and can be overridden from SCORING_CONFIG_FILE.
type ScoringConfig struct {
	Extraction ExtractionScoring `yaml:"extraction"`
	Chunk      ChunkScoring      `yaml:"chunk"`
}

// ExtractionScoring weights the orchestrator's attempt score.
type ExtractionScoring struct {
	QualityWeight          float64 `yaml:"quality_weight"`
	ConfidenceWeight       float64 `yaml:"confidence_weight"`
	StructuralBonus        float64 `yaml:"structural_bonus"`
	StructuralQualityFloor float64 `yaml:"structural_quality_floor"`
	OCRBonus               float64 `yaml:"ocr_bonus"`
	OCRConfidenceFloor     float64 `yaml:"ocr_confidence_floor"`
	HeuristicPenalty       float64 `yaml:"heuristic_penalty"`
	MinTextLength          int     `yaml:"min_text_length"`
}

// ChunkScoring weights the chunk quality score and the pipeline floors.
type ChunkScoring struct {
	MeaningfulWeight      float64 `yaml:"meaningful_weight"`
	ProperNounWeight      float64 `yaml:"proper_noun_weight"`
	SentenceDensityWeight float64 `yaml:"sentence_density_weight"`
	LengthWeight          float64 `yaml:"length_weight"`
	DiversityWeight       float64 `yaml:"diversity_weight"`

	EmailRatioThreshold   float64 `yaml:"email_ratio_threshold"`
	EmailPenalty          float64 `yaml:"email_penalty"`
	DiversityThreshold    float64 `yaml:"diversity_threshold"`
	DiversityPenalty      float64 `yaml:"diversity_penalty"`
	NumericRatioThreshold float64 `yaml:"numeric_ratio_threshold"`
	NumericPenalty        float64 `yaml:"numeric_penalty"`

	MinScore      float64 `yaml:"min_score"`
	EmbedMinScore float64 `yaml:"embed_min_score"`
}

// DefaultScoringConfig returns the built-in scorer constants.
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		Extraction: ExtractionScoring{
			QualityWeight:          0.6,
			ConfidenceWeight:       0.4,
			StructuralBonus:        0.2,
			StructuralQualityFloor: 0.6,
			OCRBonus:               0.15,
			OCRConfidenceFloor:     0.6,
			HeuristicPenalty:       0.1,
			MinTextLength:          30,
		},
		Chunk: ChunkScoring{
			MeaningfulWeight:      0.25,
			ProperNounWeight:      0.10,
			SentenceDensityWeight: 0.15,
			LengthWeight:          0.30,
			DiversityWeight:       0.20,

			EmailRatioThreshold:   0.3,
			EmailPenalty:          0.5,
			DiversityThreshold:    0.3,
			DiversityPenalty:      0.85,
			NumericRatioThreshold: 0.5,
			NumericPenalty:        0.8,

			MinScore:      0.1,
			EmbedMinScore: 0.25,
		},
	}
}

// LoadScoringConfig reads a YAML override file on top of the defaults.
// Keys missing from the file keep their default value.
func LoadScoringConfig(path string) (ScoringConfig, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return ScoringConfig{}, fmt.Errorf("failed to read scoring config %s: %w", path, err)
	}

	cfg := DefaultScoringConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return ScoringConfig{}, fmt.Errorf("failed to parse scoring config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return ScoringConfig{}, err
	}
	return cfg, nil
}

// Validate checks that blend weights sum to one and floors are in range.
func (s ScoringConfig) Validate() error {
	e := s.Extraction
	if math.Abs(e.QualityWeight+e.ConfidenceWeight-1) > 1e-6 {
		return fmt.Errorf("extraction.quality_weight + extraction.confidence_weight must equal 1, got %.3f",
			e.QualityWeight+e.ConfidenceWeight)
	}
	if e.MinTextLength < 0 {
		return fmt.Errorf("extraction.min_text_length must not be negative, got %d", e.MinTextLength)
	}

	c := s.Chunk
	sum := c.MeaningfulWeight + c.ProperNounWeight + c.SentenceDensityWeight + c.LengthWeight + c.DiversityWeight
	if math.Abs(sum-1) > 1e-6 {
		return fmt.Errorf("chunk weights must sum to 1, got %.3f", sum)
	}
	for name, v := range map[string]float64{
		"chunk.email_penalty":     c.EmailPenalty,
		"chunk.diversity_penalty": c.DiversityPenalty,
		"chunk.numeric_penalty":   c.NumericPenalty,
		"chunk.min_score":         c.MinScore,
		"chunk.embed_min_score":   c.EmbedMinScore,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be between 0 and 1, got %.3f", name, v)
		}
	}
	if c.EmbedMinScore < c.MinScore {
		return fmt.Errorf("chunk.embed_min_score (%.2f) must not be below chunk.min_score (%.2f)",
			c.EmbedMinScore, c.MinScore)
	}
	return nil
}
