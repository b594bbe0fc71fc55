package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"legal-ingest-platform/internal/chunking"
	"legal-ingest-platform/internal/extraction"
	"legal-ingest-platform/internal/telemetry"
	"legal-ingest-platform/models"
)

// ErrInvalidRequest is returned for a request missing required fields.
var ErrInvalidRequest = errors.New("invalid process request")

// Failure reasons carried by ProcessingError.
const (
	ReasonInvalidRequest    = "invalid_request"
	ReasonAlreadyProcessing = "already_processing"
	ReasonLockFailed        = "lock_failed"
	ReasonBeginFailed       = "begin_failed"
	ReasonFetchFailed       = "fetch_failed"
	ReasonNoChunks          = "no_chunks_persisted"
	ReasonCancelled         = "cancelled"
	ReasonStatusFailed      = "status_update_failed"
)

// ProcessingError is the structured failure of one document run.
type ProcessingError struct {
	DocumentID string
	Reason     string
	Err        error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("document %s: %s: %v", e.DocumentID, e.Reason, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }

// SourceFetcher downloads a source document.
type SourceFetcher interface {
	Fetch(ctx context.Context, sourceURL string) ([]byte, error)
}

// Extractor selects the best text extraction for a document.
type Extractor interface {
	Select(ctx context.Context, doc extraction.RawDocument) extraction.Result
}

// ProcessorDeps are the collaborators of a DocumentProcessor.
type ProcessorDeps struct {
	Fetcher   SourceFetcher
	Extractor Extractor
	Chunker   *chunking.Chunker
	Pipeline  *ChunkPipeline
	Tracker   *Tracker
	Locker    Locker
	Metrics   *telemetry.Metrics
	Log       *zap.Logger
}

// DocumentProcessor runs a document end to end: fetch, extract, classify,
// chunk, persist and record the outcome.
type DocumentProcessor struct {
	fetcher   SourceFetcher
	extractor Extractor
	chunker   *chunking.Chunker
	pipeline  *ChunkPipeline
	tracker   *Tracker
	locker    Locker
	metrics   *telemetry.Metrics
	log       *zap.Logger
}

// NewDocumentProcessor validates deps. A nil Locker defaults to an
// in-process locker.
func NewDocumentProcessor(deps ProcessorDeps) (*DocumentProcessor, error) {
	switch {
	case deps.Fetcher == nil:
		return nil, errors.New("document processor: fetcher is required")
	case deps.Extractor == nil:
		return nil, errors.New("document processor: extractor is required")
	case deps.Pipeline == nil:
		return nil, errors.New("document processor: chunk pipeline is required")
	case deps.Tracker == nil:
		return nil, errors.New("document processor: lifecycle tracker is required")
	}
	if deps.Chunker == nil {
		deps.Chunker = chunking.NewChunker(chunking.DefaultMaxChunkSize)
	}
	if deps.Locker == nil {
		deps.Locker = NewLocalLocker()
	}
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	return &DocumentProcessor{
		fetcher:   deps.Fetcher,
		extractor: deps.Extractor,
		chunker:   deps.Chunker,
		pipeline:  deps.Pipeline,
		tracker:   deps.Tracker,
		locker:    deps.Locker,
		metrics:   deps.Metrics,
		log:       deps.Log,
	}, nil
}

// ValidateRequest reports the first missing required field.
func ValidateRequest(req models.ProcessRequest) error {
	for _, f := range []struct{ name, value string }{
		{"document_id", req.DocumentID},
		{"client_id", req.ClientID},
		{"file_name", req.FileName},
		{"source_url", req.SourceURL},
	} {
		if strings.TrimSpace(f.value) == "" {
			return fmt.Errorf("%w: %s is required", ErrInvalidRequest, f.name)
		}
	}
	return nil
}

// ProcessDocument runs one processing cycle. Every failure after the run
// begins leaves the document failed with no chunks and is returned as a
// *ProcessingError.
func (p *DocumentProcessor) ProcessDocument(ctx context.Context, req models.ProcessRequest) (*models.ProcessResponse, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, &ProcessingError{DocumentID: req.DocumentID, Reason: ReasonInvalidRequest, Err: err}
	}

	ctx, span := otel.Tracer("document-processor").Start(ctx, "document.process")
	defer span.End()
	span.SetAttributes(
		attribute.String("document.id", req.DocumentID),
		attribute.String("client.id", req.ClientID),
	)
	log := p.log.With(zap.String("document_id", req.DocumentID), zap.String("client_id", req.ClientID))

	release, err := p.locker.Acquire(ctx, req.DocumentID)
	if err != nil {
		reason := ReasonLockFailed
		if errors.Is(err, ErrAlreadyProcessing) {
			reason = ReasonAlreadyProcessing
		}
		return nil, &ProcessingError{DocumentID: req.DocumentID, Reason: reason, Err: err}
	}
	defer release()

	start := time.Now()
	run, err := p.tracker.Begin(ctx, models.DocumentRecord{
		ID:        req.DocumentID,
		ClientID:  req.ClientID,
		CaseID:    req.CaseID,
		FileName:  req.FileName,
		SourceURL: req.SourceURL,
	})
	if err != nil {
		return nil, &ProcessingError{DocumentID: req.DocumentID, Reason: ReasonBeginFailed, Err: err}
	}
	log = log.With(zap.String("run_id", run.RunID))
	log.Info("Document processing started", zap.String("file_name", req.FileName))

	method := "none"
	fail := func(reason string, err error) (*models.ProcessResponse, error) {
		if ctx.Err() != nil {
			reason = ReasonCancelled
		}
		_ = run.Fail(ctx, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, reason)
		p.metrics.RecordDocumentProcessing(ctx, time.Since(start).Seconds(), models.StatusFailed, method)
		log.Error("Document processing failed", zap.String("reason", reason), zap.Error(err))
		return nil, &ProcessingError{DocumentID: req.DocumentID, Reason: reason, Err: err}
	}

	data, err := p.fetcher.Fetch(ctx, req.SourceURL)
	if err != nil {
		return fail(ReasonFetchFailed, err)
	}
	p.progress(ctx, log, run, 20, fmt.Sprintf("downloaded %d bytes", len(data)))

	result := p.extractor.Select(ctx, extraction.NewRawDocument(req.FileName, data))
	if err := ctx.Err(); err != nil {
		return fail(ReasonCancelled, err)
	}
	method = string(result.Method)
	p.progress(ctx, log, run, 50, "extracted with "+method)

	contentType := chunking.Classify(result.Text)
	spans := p.chunker.Split(result.Text, contentType)
	log.Info("Document split",
		zap.String("method", method),
		zap.String("content_type", string(contentType)),
		zap.Int("text_length", result.TextLength()),
		zap.Int("spans", len(spans)))
	p.progress(ctx, log, run, 60, fmt.Sprintf("%d %s spans", len(spans), contentType))

	report, err := p.pipeline.Run(ctx, spans, ChunkContext{
		DocumentID:       req.DocumentID,
		ClientID:         req.ClientID,
		CaseID:           req.CaseID,
		FileName:         req.FileName,
		RunID:            run.RunID,
		ExtractionMethod: method,
		IsScanned:        result.IsScanned,
		ContentType:      contentType,
	})
	if err != nil {
		if errors.Is(err, ErrNoChunksPersisted) {
			err = fmt.Errorf("%w from %d spans of %d characters", err, len(spans), result.TextLength())
			return fail(ReasonNoChunks, err)
		}
		return fail(ReasonCancelled, err)
	}
	p.metrics.RecordChunksPersisted(ctx, report.Stored, string(contentType))

	summary := &models.ProcessingSummary{
		ExtractionMethod: method,
		Quality:          result.Quality,
		Confidence:       result.Confidence,
		PageCount:        result.PageCount,
		IsScanned:        result.IsScanned,
		ContentType:      string(contentType),
		TextLength:       result.TextLength(),
		ChunksCreated:    report.Stored,
		ChunksEmbedded:   report.Embedded,
	}
	if err := run.Complete(ctx, summary, result.ProcessingNotes); err != nil {
		return fail(ReasonStatusFailed, err)
	}

	elapsed := time.Since(start)
	p.metrics.RecordDocumentProcessing(ctx, elapsed.Seconds(), models.StatusCompleted, method)
	span.SetAttributes(
		attribute.String("extraction.method", method),
		attribute.Int("chunks.stored", report.Stored),
	)
	log.Info("Document processing completed",
		zap.Int("chunks", report.Stored),
		zap.Int("embedded", report.Embedded),
		zap.Duration("elapsed", elapsed))

	return &models.ProcessResponse{
		Success:          true,
		DocumentID:       req.DocumentID,
		ChunksCreated:    report.Stored,
		ChunksEmbedded:   report.Embedded,
		TextLength:       result.TextLength(),
		ExtractionMethod: method,
		Quality:          result.Quality,
		Confidence:       result.Confidence,
		PageCount:        result.PageCount,
		IsScanned:        result.IsScanned,
		ContentType:      string(contentType),
		ProcessingNotes:  result.ProcessingNotes,
	}, nil
}

// progress failures are logged; the terminal transition reports store errors.
func (p *DocumentProcessor) progress(ctx context.Context, log *zap.Logger, run *Run, percent int, note string) {
	if err := run.Progress(ctx, percent, note); err != nil {
		log.Warn("Failed to record progress", zap.Int("progress", percent), zap.Error(err))
	}
}
