package extraction

import (
	"regexp"
	"strings"
	"unicode"

	"legal-ingest-platform/internal/config"
)

// Weights parameterizes ScoreAttempt and the survivor gate.
type Weights struct {
	QualityWeight          float64
	ConfidenceWeight       float64
	StructuralBonus        float64
	StructuralQualityFloor float64
	OCRBonus               float64
	OCRConfidenceFloor     float64
	HeuristicPenalty       float64
	MinTextLength          int
}

// DefaultWeights returns the built-in weights.
func DefaultWeights() Weights {
	return WeightsFromConfig(config.DefaultScoringConfig().Extraction)
}

// WeightsFromConfig converts the configured scoring section.
func WeightsFromConfig(c config.ExtractionScoring) Weights {
	return Weights{
		QualityWeight:          c.QualityWeight,
		ConfidenceWeight:       c.ConfidenceWeight,
		StructuralBonus:        c.StructuralBonus,
		StructuralQualityFloor: c.StructuralQualityFloor,
		OCRBonus:               c.OCRBonus,
		OCRConfidenceFloor:     c.OCRConfidenceFloor,
		HeuristicPenalty:       c.HeuristicPenalty,
		MinTextLength:          c.MinTextLength,
	}
}

// ScoreAttempt blends quality and confidence with a method-specific bias.
// The result is always within [0,1].
func ScoreAttempt(a Attempt, w Weights) float64 {
	q := clamp01(a.Quality)
	c := clamp01(a.Confidence)

	score := w.QualityWeight*q + w.ConfidenceWeight*c
	switch a.Method {
	case MethodStructural:
		if q > w.StructuralQualityFloor {
			score += w.StructuralBonus
		}
	case MethodOCR:
		if c > w.OCRConfidenceFloor {
			score += w.OCRBonus
		}
	case MethodHeuristic:
		score -= w.HeuristicPenalty
	}
	return clamp01(score)
}

// passesGate reports whether an attempt may compete in scoring.
func passesGate(a Attempt, w Weights) bool {
	return a.IsValid && len([]rune(strings.TrimSpace(a.Text))) > w.MinTextLength
}

var goodPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b[A-Z][a-z]+\b`),                                  // Capitalized words
	regexp.MustCompile(`\b\d{1,3}[,.]?\d{3}\b`),                            // Numbers with separators
	regexp.MustCompile(`[.!?]\s+[A-Z]`),                                    // Sentence boundaries
	regexp.MustCompile(`\b(the|and|or|of|to|in|for|with|on|at|by|from)\b`), // Common words
}

// TextQuality estimates how much of text looks like readable language.
// Empty text scores 0.
func TextQuality(text string) float64 {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0.0
	}
	if len(text) < 10 {
		return 0.1
	}

	var alphanumeric, printable, corrupted, total int
	for _, r := range text {
		total++
		switch {
		case r < 128 && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			alphanumeric++
			printable++
		case r == ' ' || r == '\n' || r == '\t' || r == '\r':
			printable++
		case r == '�':
			corrupted++
		case r >= 32 && r <= 126:
			printable++
		case r > 127 && (unicode.IsLetter(r) || unicode.IsPunct(r) || unicode.IsSymbol(r) || unicode.IsSpace(r)):
			// Accented letters and typographic punctuation
			if unicode.IsLetter(r) {
				alphanumeric++
			}
			printable++
		default:
			corrupted++
		}
	}

	alphanumericRatio := float64(alphanumeric) / float64(total)
	printableRatio := float64(printable) / float64(total)
	corruptedRatio := float64(corrupted) / float64(total)

	// Base score from printable ratio
	score := printableRatio * 0.4

	// Bonus for alphanumeric content
	if alphanumericRatio >= 0.3 {
		score += 0.3
	} else {
		score += alphanumericRatio
	}

	// Penalty for corruption
	score -= corruptedRatio * 2.0

	// Bonus for reasonable length
	if total > 100 {
		score += 0.1
	}

	if hasGoodPatterns(text) {
		score += 0.2
	}

	return clamp01(score)
}

// hasGoodPatterns checks for patterns that indicate good text extraction
func hasGoodPatterns(text string) bool {
	matched := 0
	for _, re := range goodPatterns {
		if re.MatchString(text) {
			matched++
		}
	}
	return matched >= 3
}

func clamp01(v float64) float64 {
	switch {
	case v != v: // NaN
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
