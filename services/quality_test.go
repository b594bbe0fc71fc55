package services

import (
	"math"
	"math/rand"
	"strings"
	"testing"
)

func TestQualityScorer_RepeatedEmails(t *testing.T) {
	s := NewQualityScorer(testScoring())
	text := NewChunkCleaner(0).Clean(strings.Repeat("john@example.com ", 50))

	b := s.Breakdown(text)
	if b.EmailRatio != 1 {
		t.Errorf("EmailRatio = %v, want 1", b.EmailRatio)
	}
	if math.Abs(b.Score-0.1292) > 0.005 {
		t.Errorf("Score = %.4f, want about 0.129", b.Score)
	}
	cfg := testScoring()
	if b.Score < cfg.MinScore || b.Score >= cfg.EmbedMinScore {
		t.Errorf("Score %.3f should be stored but not embedded (min %.2f, embed %.2f)",
			b.Score, cfg.MinScore, cfg.EmbedMinScore)
	}
}

func TestQualityScorer_ProseBeatsNoise(t *testing.T) {
	s := NewQualityScorer(testScoring())
	prose := s.Score(legalSpan(1))
	numbers := s.Score(strings.Repeat("12.50 3,400 17/03 ", 20))

	if prose <= numbers {
		t.Errorf("prose %.3f should outscore numeric noise %.3f", prose, numbers)
	}
	if prose < testScoring().EmbedMinScore {
		t.Errorf("prose score %.3f below embed threshold", prose)
	}
}

func TestQualityScorer_Empty(t *testing.T) {
	if got := NewQualityScorer(testScoring()).Score("   "); got != 0 {
		t.Errorf("Score(blank) = %v, want 0", got)
	}
}

func TestQualityScorer_Bounds(t *testing.T) {
	s := NewQualityScorer(testScoring())
	rng := rand.New(rand.NewSource(7))
	alphabet := []rune("abcXYZ 019.,!?@-\n\t§é")

	for i := 0; i < 500; i++ {
		n := rng.Intn(800)
		var sb strings.Builder
		for j := 0; j < n; j++ {
			sb.WriteRune(alphabet[rng.Intn(len(alphabet))])
		}
		if got := s.Score(sb.String()); got < 0 || got > 1 || math.IsNaN(got) {
			t.Fatalf("Score(%q) = %v, out of [0,1]", sb.String(), got)
		}
	}
}
