package extraction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"legal-ingest-platform/internal/ai"
	"legal-ingest-platform/internal/metrics"
	"legal-ingest-platform/internal/telemetry"
)

// ErrChainExhausted is returned when every OCR stage was rejected.
var ErrChainExhausted = errors.New("all OCR stages rejected")

// ErrUnsuitableInput marks a stage failure caused by the document rather
// than the backend. It never counts against the stage breaker.
var ErrUnsuitableInput = errors.New("document unsuitable for stage")

// OCRResult is what a single OCR backend produced.
type OCRResult struct {
	Text       string
	Confidence float64
	PageCount  int
}

// OCRBackend turns a document into text. Backends are interchangeable.
type OCRBackend interface {
	Extract(ctx context.Context, doc RawDocument) (OCRResult, error)
}

// AcceptFunc decides whether a stage's output ends the chain.
type AcceptFunc func(OCRResult) bool

// MinLength accepts results whose trimmed text is longer than n characters.
func MinLength(n int) AcceptFunc {
	return func(r OCRResult) bool {
		return len([]rune(strings.TrimSpace(r.Text))) > n
	}
}

// MinLengthAndConfidence also requires confidence above c.
func MinLengthAndConfidence(n int, c float64) AcceptFunc {
	length := MinLength(n)
	return func(r OCRResult) bool {
		return length(r) && r.Confidence > c
	}
}

// Stage is one step of the OCR fallback chain.
type Stage struct {
	Name    string
	Backend OCRBackend
	Accept  AcceptFunc
	Timeout time.Duration

	breaker *gobreaker.CircuitBreaker
}

// StageError records why a stage did not produce an accepted result.
type StageError struct {
	Stage   string
	Err     error
	Elapsed time.Duration
}

func (e StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

// ChainResult is the accepted output of an OCR chain run.
type ChainResult struct {
	Stage    string
	Result   OCRResult
	Elapsed  time.Duration
	Rejected []StageError
}

// ChainError reports an exhausted chain with the per-stage failures.
type ChainError struct {
	Rejected []StageError
	Elapsed  time.Duration
}

func (e *ChainError) Error() string {
	msgs := make([]string, len(e.Rejected))
	for i, r := range e.Rejected {
		msgs[i] = r.Error()
	}
	return fmt.Sprintf("%v: %s", ErrChainExhausted, strings.Join(msgs, "; "))
}

func (e *ChainError) Unwrap() error { return ErrChainExhausted }

var errRejected = errors.New("output rejected by acceptance check")

// Chain runs OCR stages in priority order until one is accepted.
type Chain struct {
	stages []Stage
	log    *zap.Logger
}

// NewChain builds a chain. Stages without a backend are dropped; a missing
// acceptance check defaults to MinLength(30).
func NewChain(log *zap.Logger, m *telemetry.Metrics, stages ...Stage) *Chain {
	if log == nil {
		log = zap.NewNop()
	}
	kept := make([]Stage, 0, len(stages))
	for _, s := range stages {
		if s.Backend == nil {
			continue
		}
		if s.Accept == nil {
			s.Accept = MinLength(30)
		}
		s.breaker = ai.NewBreaker("ocr-"+s.Name, log,
			ai.WithStateMetrics(m),
			ai.WithSuccessCheck(backendHealthy))
		kept = append(kept, s)
	}
	return &Chain{stages: kept, log: log}
}

// Stages returns the configured stage names in order.
func (c *Chain) Stages() []string {
	names := make([]string, len(c.stages))
	for i, s := range c.stages {
		names[i] = s.Name
	}
	return names
}

// Run executes the stages sequentially. A stage that errors, times out or
// is rejected hands over to the next one.
func (c *Chain) Run(ctx context.Context, doc RawDocument) (*ChainResult, error) {
	start := time.Now()
	var rejected []StageError

	for _, stage := range c.stages {
		if err := ctx.Err(); err != nil {
			rejected = append(rejected, StageError{Stage: stage.Name, Err: err})
			break
		}

		stageStart := time.Now()
		result, err := c.runStage(ctx, stage, doc)
		elapsed := time.Since(stageStart)
		metrics.OCRStageDuration.WithLabelValues(stage.Name).Observe(elapsed.Seconds())

		if err == nil && !stage.Accept(result) {
			err = errRejected
		}
		if err != nil {
			metrics.OCRStageTotal.WithLabelValues(stage.Name, outcomeLabel(err)).Inc()
			c.log.Info("OCR stage rejected",
				zap.String("stage", stage.Name),
				zap.String("document", doc.Name()),
				zap.Duration("elapsed", elapsed),
				zap.Error(err))
			rejected = append(rejected, StageError{Stage: stage.Name, Err: err, Elapsed: elapsed})
			continue
		}

		metrics.OCRStageTotal.WithLabelValues(stage.Name, "accepted").Inc()
		c.log.Info("OCR stage accepted",
			zap.String("stage", stage.Name),
			zap.String("document", doc.Name()),
			zap.Int("text_length", len(result.Text)),
			zap.Float64("confidence", result.Confidence),
			zap.Duration("elapsed", elapsed))
		return &ChainResult{
			Stage:    stage.Name,
			Result:   result,
			Elapsed:  time.Since(start),
			Rejected: rejected,
		}, nil
	}

	return nil, &ChainError{Rejected: rejected, Elapsed: time.Since(start)}
}

func (c *Chain) runStage(ctx context.Context, stage Stage, doc RawDocument) (result OCRResult, err error) {
	ctx, span := otel.Tracer("extraction").Start(ctx, "ocr.stage")
	defer span.End()
	span.SetAttributes(attribute.String("ocr.stage", stage.Name))

	if stage.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, stage.Timeout)
		defer cancel()
	}

	out, err := stage.breaker.Execute(func() (res interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("backend panic: %v", r)
			}
		}()
		return stage.Backend.Extract(ctx, doc)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return OCRResult{}, err
	}
	result = out.(OCRResult)
	span.SetAttributes(attribute.Int("ocr.text_length", len(result.Text)))
	return result, nil
}

// backendHealthy reports whether err leaves the stage breaker untouched.
func backendHealthy(err error) bool {
	return err == nil ||
		errors.Is(err, ErrUnsuitableInput) ||
		errors.Is(err, context.Canceled)
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, errRejected):
		return "rejected"
	case errors.Is(err, ErrUnsuitableInput):
		return "unsuitable"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "circuit_open"
	}
	return "error"
}

// OCRExtractor is the strategy wrapper around a Chain.
type OCRExtractor struct {
	chain *Chain
	log   *zap.Logger
}

// NewOCRExtractor returns an OCR strategy backed by chain.
func NewOCRExtractor(chain *Chain, log *zap.Logger) *OCRExtractor {
	if log == nil {
		log = zap.NewNop()
	}
	return &OCRExtractor{chain: chain, log: log}
}

func (o *OCRExtractor) Method() Method { return MethodOCR }

// Attempt runs the chain and converts its outcome into an attempt.
func (o *OCRExtractor) Attempt(ctx context.Context, doc RawDocument) Attempt {
	start := time.Now()
	if o.chain == nil || len(o.chain.stages) == 0 {
		return InvalidAttempt(MethodOCR, "no OCR stages configured")
	}

	res, err := o.chain.Run(ctx, doc)
	if err != nil {
		attempt := InvalidAttempt(MethodOCR)
		var chainErr *ChainError
		if errors.As(err, &chainErr) {
			for _, r := range chainErr.Rejected {
				attempt.Issues = append(attempt.Issues, r.Error())
			}
		} else {
			attempt.Issues = []string{err.Error()}
		}
		attempt.Duration = time.Since(start)
		return attempt
	}

	text := strings.TrimSpace(res.Result.Text)
	pages := res.Result.PageCount
	if pages < 1 {
		pages = countPageObjects(doc.Bytes())
	}
	if pages < 1 {
		pages = 1
	}

	details := fmt.Sprintf("stage %s accepted after %s", res.Stage, res.Elapsed.Round(time.Millisecond))
	if len(res.Rejected) > 0 {
		msgs := make([]string, len(res.Rejected))
		for i, r := range res.Rejected {
			msgs[i] = r.Error()
		}
		details += "; rejected: " + strings.Join(msgs, "; ")
	}

	return Attempt{
		Method:     MethodOCR,
		Text:       text,
		Quality:    TextQuality(text),
		Confidence: clamp01(res.Result.Confidence),
		PageCount:  pages,
		IsValid:    true,
		Details:    details,
		Duration:   time.Since(start),
	}
}
