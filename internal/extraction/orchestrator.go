package extraction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"legal-ingest-platform/internal/metrics"
	"legal-ingest-platform/internal/telemetry"
)

// ErrNoStrategies is returned by NewOrchestrator without strategies.
var ErrNoStrategies = errors.New("at least one extraction strategy is required")

const scannedQualityCeiling = 0.5

// Orchestrator runs every strategy on a document and selects one result.
type Orchestrator struct {
	strategies []Strategy
	weights    Weights
	log        *zap.Logger
	metrics    *telemetry.Metrics
}

// NewOrchestrator returns an orchestrator. Registration order breaks ties.
func NewOrchestrator(weights Weights, log *zap.Logger, m *telemetry.Metrics, strategies ...Strategy) (*Orchestrator, error) {
	if len(strategies) == 0 {
		return nil, ErrNoStrategies
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{
		strategies: strategies,
		weights:    weights,
		log:        log,
		metrics:    m,
	}, nil
}

// Select runs the strategies in parallel and picks the highest scoring
// attempt that passes the gate. When none passes, the attempt with the
// highest quality×confidence is used.
func (o *Orchestrator) Select(ctx context.Context, doc RawDocument) Result {
	ctx, span := otel.Tracer("extraction").Start(ctx, "extraction.select")
	defer span.End()

	attempts := make([]Attempt, len(o.strategies))
	g, gctx := errgroup.WithContext(ctx)
	for i, s := range o.strategies {
		g.Go(func() error {
			attempts[i] = o.safeAttempt(gctx, s, doc)
			return nil
		})
	}
	_ = g.Wait()

	best := -1
	bestScore := 0.0
	for i, a := range attempts {
		o.metrics.RecordStrategyAttempt(ctx, string(a.Method), a.IsValid)
		if !passesGate(a, o.weights) {
			continue
		}
		score := ScoreAttempt(a, o.weights)
		if best < 0 || score > bestScore {
			best, bestScore = i, score
		}
	}

	usedFallback := false
	if best < 0 {
		usedFallback = true
		best = 0
		bestProduct := -1.0
		for i, a := range attempts {
			if p := a.Quality * a.Confidence; p > bestProduct {
				best, bestProduct = i, p
			}
		}
		bestScore = ScoreAttempt(attempts[best], o.weights)
	}

	chosen := attempts[best]
	result := Result{
		Attempt:      chosen,
		IsScanned:    isScanned(chosen),
		Score:        bestScore,
		UsedFallback: usedFallback,
		Attempts:     attempts,
	}
	result.ProcessingNotes = processingNotes(result)

	metrics.ExtractionSelectedTotal.WithLabelValues(string(chosen.Method), fmt.Sprintf("%t", usedFallback)).Inc()
	span.SetAttributes(
		attribute.String("extraction.method", string(chosen.Method)),
		attribute.Float64("extraction.score", bestScore),
		attribute.Bool("extraction.fallback", usedFallback),
	)
	o.log.Info("Extraction selected",
		zap.String("document", doc.Name()),
		zap.String("method", string(chosen.Method)),
		zap.Float64("score", bestScore),
		zap.Float64("quality", chosen.Quality),
		zap.Float64("confidence", chosen.Confidence),
		zap.Bool("fallback", usedFallback))
	return result
}

// safeAttempt isolates a strategy: panics become invalid attempts and
// out-of-range values are normalized.
func (o *Orchestrator) safeAttempt(ctx context.Context, s Strategy, doc RawDocument) (a Attempt) {
	method := s.Method()
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			o.log.Error("Extraction strategy panicked", zap.String("method", string(method)), zap.Any("panic", r))
			a = InvalidAttempt(method, fmt.Sprintf("strategy panic: %v", r))
			a.Duration = time.Since(start)
		}
		a.Method = method
		a.Quality = clamp01(a.Quality)
		a.Confidence = clamp01(a.Confidence)
		if a.PageCount < 1 {
			a.PageCount = 1
		}
	}()
	return s.Attempt(ctx, doc)
}

func isScanned(a Attempt) bool {
	switch a.Method {
	case MethodOCR, MethodHeuristic:
		return true
	case MethodStructural:
		return a.Quality < scannedQualityCeiling
	}
	return false
}

func processingNotes(r Result) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Selected %s (score %.2f, quality %.2f, confidence %.2f)",
		r.Method, r.Score, r.Quality, r.Confidence)
	if r.UsedFallback {
		sb.WriteString(" as fallback: no attempt passed validation")
	}
	if r.Details != "" {
		fmt.Fprintf(&sb, "; %s", r.Details)
	}
	sb.WriteString(".")

	for _, a := range r.Attempts {
		status := "valid"
		if !a.IsValid {
			status = "invalid"
		}
		fmt.Fprintf(&sb, " %s: %s, %d chars", a.Method, status, a.TextLength())
		if len(a.Issues) > 0 {
			fmt.Fprintf(&sb, " (%s)", strings.Join(a.Issues, "; "))
		}
		sb.WriteString(".")
	}
	return sb.String()
}
