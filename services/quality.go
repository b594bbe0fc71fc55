package services

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"legal-ingest-platform/internal/config"
)

var sentenceTerminatorRe = regexp.MustCompile(`[.!?]+(\s|$)`)

// QualityScorer rates how useful a cleaned chunk is for retrieval.
type QualityScorer struct {
	cfg config.ChunkScoring
}

// NewQualityScorer returns a scorer with the given weights.
func NewQualityScorer(cfg config.ChunkScoring) *QualityScorer {
	return &QualityScorer{cfg: cfg}
}

// QualityBreakdown exposes the components of a score.
type QualityBreakdown struct {
	MeaningfulRatio float64
	ProperNounRatio float64
	SentenceDensity float64
	LengthScore     float64
	Diversity       float64
	EmailRatio      float64
	NumericRatio    float64
	Score           float64
}

// Score returns the chunk quality in [0,1]. Empty text scores 0.
func (s *QualityScorer) Score(text string) float64 {
	return s.Breakdown(text).Score
}

// Breakdown computes the weighted components and penalties.
func (s *QualityScorer) Breakdown(text string) QualityBreakdown {
	var b QualityBreakdown
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return b
	}
	total := float64(len(tokens))

	var meaningful, proper, email, numeric int
	unique := make(map[string]struct{}, len(tokens))
	for _, tok := range tokens {
		unique[strings.ToLower(tok)] = struct{}{}

		if emailTokenRe.MatchString(tok) {
			email++
			continue
		}
		word := strings.TrimFunc(tok, unicode.IsPunct)
		switch {
		case isAlphabetic(word):
			if utf8.RuneCountInString(word) > 2 {
				meaningful++
			}
			if r, _ := utf8.DecodeRuneInString(word); unicode.IsUpper(r) {
				proper++
			}
		case isNumeric(tok):
			numeric++
		}
	}

	b.MeaningfulRatio = float64(meaningful) / total
	b.ProperNounRatio = minFloat(float64(proper)/total/0.2, 1)
	b.SentenceDensity = minFloat(float64(len(sentenceTerminatorRe.FindAllStringIndex(text, -1)))*10/total, 1)
	b.LengthScore = minFloat(float64(utf8.RuneCountInString(text))/500, 1)
	b.Diversity = float64(len(unique)) / total
	b.EmailRatio = float64(email) / total
	b.NumericRatio = float64(numeric) / total

	c := s.cfg
	score := c.MeaningfulWeight*b.MeaningfulRatio +
		c.ProperNounWeight*b.ProperNounRatio +
		c.SentenceDensityWeight*b.SentenceDensity +
		c.LengthWeight*b.LengthScore +
		c.DiversityWeight*b.Diversity

	if b.EmailRatio > c.EmailRatioThreshold {
		score *= c.EmailPenalty
	}
	if b.Diversity < c.DiversityThreshold {
		score *= c.DiversityPenalty
	}
	if b.NumericRatio > c.NumericRatioThreshold {
		score *= c.NumericPenalty
	}

	switch {
	case score != score || score < 0:
		score = 0
	case score > 1:
		score = 1
	}
	b.Score = score
	return b
}

func isAlphabetic(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) && r != '\'' && r != '-' {
			return false
		}
	}
	return true
}

// isNumeric reports tokens made of digits and separators only.
func isNumeric(s string) bool {
	digits := 0
	for _, r := range s {
		switch {
		case unicode.IsDigit(r):
			digits++
		case strings.ContainsRune(",.-/:%$()", r):
		default:
			return false
		}
	}
	return digits > 0
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
