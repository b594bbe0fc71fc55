package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"legal-ingest-platform/internal/metrics"
	"legal-ingest-platform/models"
)

// ErrNoChunksPersisted is returned when a run stored nothing.
var ErrNoChunksPersisted = errors.New("no chunks persisted")

const minSpanChars = 10

// Span outcomes reported by the pipeline.
const (
	OutcomeStored        = "stored"
	OutcomeTooShort      = "too_short"
	OutcomeLowQuality    = "low_quality"
	OutcomePersistFailed = "persist_failed"
	OutcomePanicked      = "panicked"
)

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ChunkContext is the per-document data attached to every chunk.
type ChunkContext struct {
	DocumentID       string
	ClientID         string
	CaseID           string
	FileName         string
	RunID            string
	ExtractionMethod string
	IsScanned        bool
	ContentType      models.ContentType
}

// SpanReport describes what happened to one span.
type SpanReport struct {
	SpanIndex  int     `json:"span_index"`
	ChunkIndex int     `json:"chunk_index"`
	Outcome    string  `json:"outcome"`
	Score      float64 `json:"score"`
	Embedded   bool    `json:"embedded"`
	Error      string  `json:"error,omitempty"`
}

// PipelineReport summarizes a pipeline run.
type PipelineReport struct {
	Stored   int          `json:"stored"`
	Embedded int          `json:"embedded"`
	Spans    []SpanReport `json:"spans"`
}

// PipelineOptions tunes the chunk pipeline.
type PipelineOptions struct {
	MinScore       float64
	EmbedMinScore  float64
	EmbedTimeout   time.Duration
	PersistTimeout time.Duration
}

// ChunkPipeline cleans, scores, embeds and persists spans one at a time.
// A failing span never aborts the run.
type ChunkPipeline struct {
	store    ChunkStore
	embedder Embedder
	cleaner  *ChunkCleaner
	scorer   *QualityScorer
	opts     PipelineOptions
	log      *zap.Logger
}

// NewChunkPipeline builds a pipeline. embedder may be nil.
func NewChunkPipeline(store ChunkStore, embedder Embedder, cleaner *ChunkCleaner, scorer *QualityScorer, opts PipelineOptions, log *zap.Logger) *ChunkPipeline {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.EmbedTimeout <= 0 {
		opts.EmbedTimeout = 30 * time.Second
	}
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = 10 * time.Second
	}
	return &ChunkPipeline{
		store:    store,
		embedder: embedder,
		cleaner:  cleaner,
		scorer:   scorer,
		opts:     opts,
		log:      log,
	}
}

// Run processes spans in order. Stored chunks get gap-free indices in
// emission order. It fails only when nothing was stored or ctx ends.
func (p *ChunkPipeline) Run(ctx context.Context, spans []string, cc ChunkContext) (*PipelineReport, error) {
	ctx, span := otel.Tracer("chunk-pipeline").Start(ctx, "pipeline.run")
	defer span.End()

	report := &PipelineReport{Spans: make([]SpanReport, 0, len(spans))}
	log := p.log.With(zap.String("document_id", cc.DocumentID), zap.String("run_id", cc.RunID))

	for i, text := range spans {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		sr := p.processSpan(ctx, log, i, len(spans), report.Stored, text, cc)
		report.Spans = append(report.Spans, sr)
		metrics.ChunksTotal.WithLabelValues(sr.Outcome).Inc()
		if sr.Outcome == OutcomeStored {
			report.Stored++
			if sr.Embedded {
				report.Embedded++
			}
		}
	}

	span.SetAttributes(
		attribute.Int("chunks.spans", len(spans)),
		attribute.Int("chunks.stored", report.Stored),
		attribute.Int("chunks.embedded", report.Embedded),
	)
	if report.Stored == 0 {
		return report, ErrNoChunksPersisted
	}
	return report, nil
}

func (p *ChunkPipeline) processSpan(ctx context.Context, log *zap.Logger, spanIndex, total, chunkIndex int, text string, cc ChunkContext) (sr SpanReport) {
	sr = SpanReport{SpanIndex: spanIndex, ChunkIndex: -1}
	defer func() {
		if r := recover(); r != nil {
			log.Error("Chunk processing panicked", zap.Int("span_index", spanIndex), zap.Any("panic", r))
			sr = SpanReport{SpanIndex: spanIndex, ChunkIndex: -1, Outcome: OutcomePanicked, Error: fmt.Sprint(r)}
		}
	}()

	if len([]rune(strings.TrimSpace(text))) < minSpanChars {
		sr.Outcome = OutcomeTooShort
		return sr
	}

	content := p.cleaner.Clean(text)
	if len([]rune(content)) < minSpanChars {
		sr.Outcome = OutcomeTooShort
		return sr
	}

	sr.Score = p.scorer.Score(content)
	if sr.Score < p.opts.MinScore {
		sr.Outcome = OutcomeLowQuality
		log.Debug("Chunk rejected for low quality", zap.Int("span_index", spanIndex), zap.Float64("score", sr.Score))
		return sr
	}

	var embedding []float32
	if p.embedder != nil && sr.Score >= p.opts.EmbedMinScore {
		embedding = p.embed(ctx, log, spanIndex, content)
	}

	now := time.Now().UTC()
	chunk := &models.DocumentChunk{
		ID:           uuid.NewString(),
		DocumentID:   cc.DocumentID,
		ClientID:     cc.ClientID,
		RunID:        cc.RunID,
		Index:        chunkIndex,
		Content:      content,
		Embedding:    embedding,
		QualityScore: sr.Score,
		ContentType:  cc.ContentType,
		CreatedAt:    now,
		Metadata: map[string]interface{}{
			"index":             chunkIndex,
			"span_index":        spanIndex,
			"total_spans":       total,
			"word_count":        len(strings.Fields(content)),
			"content_type":      string(cc.ContentType),
			"quality_score":     sr.Score,
			"has_embedding":     len(embedding) > 0,
			"extraction_method": cc.ExtractionMethod,
			"is_scanned":        cc.IsScanned,
			"file_name":         cc.FileName,
			"client_id":         cc.ClientID,
			"case_id":           cc.CaseID,
			"processed_at":      now,
			"created_at":        now,
		},
	}

	persistCtx, cancel := context.WithTimeout(ctx, p.opts.PersistTimeout)
	defer cancel()
	if err := p.store.InsertChunk(persistCtx, chunk); err != nil {
		log.Warn("Failed to persist chunk", zap.Int("span_index", spanIndex), zap.Int("index", chunkIndex), zap.Error(err))
		sr.Outcome = OutcomePersistFailed
		sr.Error = err.Error()
		return sr
	}

	sr.Outcome = OutcomeStored
	sr.ChunkIndex = chunkIndex
	sr.Embedded = len(embedding) > 0
	return sr
}

// embed returns nil on failure; the chunk is stored without a vector.
func (p *ChunkPipeline) embed(ctx context.Context, log *zap.Logger, spanIndex int, content string) []float32 {
	embedCtx, cancel := context.WithTimeout(ctx, p.opts.EmbedTimeout)
	defer cancel()

	vec, err := p.embedder.Embed(embedCtx, content)
	if err != nil {
		log.Warn("Embedding failed, storing chunk without vector", zap.Int("span_index", spanIndex), zap.Error(err))
		return nil
	}
	return vec
}
