package ai

import (
	"bytes"
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
	"golang.org/x/time/rate"
	"google.golang.org/api/option"

	genai "github.com/google/generative-ai-go/genai"

	"legal-ingest-platform/internal/telemetry"
)

// ErrEmptyResponse is returned when a model answers without any text part.
var ErrEmptyResponse = errors.New("model returned no text")

const documentExtractionInstruction = `You are a precise document text extractor. Extract ALL text content from this document exactly as it appears, maintaining original formatting, line breaks, and structure. Do not summarize, interpret, or modify the content. Include headers, footers, captions, and all readable text elements.`

const imageExtractionPrompt = "Transcribe all readable text from these page images in reading order. Output only the transcribed text."

// GeminiClient wraps the Gemini API with a circuit breaker, a request rate
// limiter and tracing. It serves document OCR, page-image OCR and embeddings.
type GeminiClient struct {
	client      *genai.Client
	model       string
	breaker     *gobreaker.CircuitBreaker
	rateLimiter *rate.Limiter
	log         *zap.Logger
}

type RateLimits struct {
	RPM int // Requests per minute
	RPD int // Requests per day
}

// NewGeminiClient creates a client for the given API key and quota tier.
func NewGeminiClient(ctx context.Context, apiKey, model, tier string, log *zap.Logger, m *telemetry.Metrics) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, errors.New("gemini API key not configured")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	if log == nil {
		log = zap.NewNop()
	}

	// Configure rate limits based on tier
	limits := getRateLimits(tier)
	burst := limits.RPM / 10
	if burst < 1 {
		burst = 1
	}

	return &GeminiClient{
		client:      client,
		model:       model,
		breaker:     NewBreaker("GeminiAPI", log, WithStateMetrics(m)),
		rateLimiter: rate.NewLimiter(rate.Limit(float64(limits.RPM)*0.9/60.0), burst),
		log:         log,
	}, nil
}

func getRateLimits(tier string) RateLimits {
	switch tier {
	case "tier1":
		return RateLimits{RPM: 1000, RPD: 10000}
	case "tier2":
		return RateLimits{RPM: 2000, RPD: 50000}
	default:
		return RateLimits{RPM: 10, RPD: 250}
	}
}

// BreakerOption adjusts a breaker built by NewBreaker.
type BreakerOption func(*breakerOptions)

type breakerOptions struct {
	onState      []func(name, state string)
	isSuccessful func(error) bool
}

// WithStateHook calls fn with the breaker name and new state on every change.
func WithStateHook(fn func(name, state string)) BreakerOption {
	return func(o *breakerOptions) { o.onState = append(o.onState, fn) }
}

// WithStateMetrics records every state change on m.
func WithStateMetrics(m *telemetry.Metrics) BreakerOption {
	return WithStateHook(m.RecordCircuitBreakerState)
}

// WithSuccessCheck decides which errors count against the breaker.
func WithSuccessCheck(fn func(error) bool) BreakerOption {
	return func(o *breakerOptions) { o.isSuccessful = fn }
}

// NewBreaker returns the circuit breaker settings shared by all external
// model clients: trip when at least 60% of 3+ requests fail in a window.
func NewBreaker(name string, log *zap.Logger, opts ...BreakerOption) *gobreaker.CircuitBreaker {
	var o breakerOptions
	for _, opt := range opts {
		opt(&o)
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 5,
		Interval:    10 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		IsSuccessful: o.isSuccessful,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn("Circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			for _, fn := range o.onState {
				fn(name, to.String())
			}
		},
	})
}

// ExtractDocument uploads a whole document and asks the model to transcribe it.
func (gc *GeminiClient) ExtractDocument(ctx context.Context, data []byte, mimeType string) (string, error) {
	ctx, span := otel.Tracer("gemini-client").Start(ctx, "gemini.extract_document")
	defer span.End()
	span.SetAttributes(
		attribute.String("gemini.model", gc.model),
		attribute.Int("document.size", len(data)),
	)

	text, err := gc.execute(ctx, func() (string, error) {
		file, err := gc.client.UploadFile(ctx, "", bytes.NewReader(data), &genai.UploadFileOptions{
			MIMEType: mimeType,
		})
		if err != nil {
			return "", fmt.Errorf("failed to upload file to gemini: %w", err)
		}
		defer func() {
			// The request context may already be done; deletion gets its own deadline.
			delCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			if err := gc.client.DeleteFile(delCtx, file.Name); err != nil {
				gc.log.Debug("Failed to delete uploaded file", zap.String("file", file.Name), zap.Error(err))
			}
		}()

		if err := gc.waitForActive(ctx, file); err != nil {
			return "", err
		}

		model := gc.client.GenerativeModel(gc.model)
		model.SetTemperature(0.1)
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(documentExtractionInstruction)},
		}

		resp, err := model.GenerateContent(ctx,
			genai.FileData{URI: file.URI, MIMEType: mimeType},
			genai.Text("Extract all text content from this document. Maintain original formatting and structure."),
		)
		if err != nil {
			return "", fmt.Errorf("gemini text extraction failed: %w", err)
		}
		return responseText(resp)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	span.SetAttributes(attribute.Int("gemini.text_length", len(text)))
	return text, nil
}

// ExtractImages sends rendered page images inline and asks for a transcription.
func (gc *GeminiClient) ExtractImages(ctx context.Context, images [][]byte, format string) (string, error) {
	ctx, span := otel.Tracer("gemini-client").Start(ctx, "gemini.extract_images")
	defer span.End()
	span.SetAttributes(
		attribute.String("gemini.model", gc.model),
		attribute.Int("images.count", len(images)),
	)

	if len(images) == 0 {
		return "", errors.New("no images to extract")
	}

	text, err := gc.execute(ctx, func() (string, error) {
		model := gc.client.GenerativeModel(gc.model)
		model.SetTemperature(0.1)

		parts := make([]genai.Part, 0, len(images)+1)
		for _, img := range images {
			parts = append(parts, genai.ImageData(format, img))
		}
		parts = append(parts, genai.Text(imageExtractionPrompt))

		resp, err := model.GenerateContent(ctx, parts...)
		if err != nil {
			return "", fmt.Errorf("gemini vision extraction failed: %w", err)
		}
		return responseText(resp)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	return text, nil
}

// EmbedText returns the embedding vector of text for the given model.
func (gc *GeminiClient) EmbedText(ctx context.Context, model, text string) ([]float32, error) {
	if err := gc.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}
	resp, err := gc.client.EmbeddingModel(model).EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, err
	}
	if resp.Embedding == nil || len(resp.Embedding.Values) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}
	return resp.Embedding.Values, nil
}

func (gc *GeminiClient) execute(ctx context.Context, call func() (string, error)) (string, error) {
	if err := gc.rateLimiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}
	result, err := gc.breaker.Execute(func() (interface{}, error) {
		return call()
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// waitForActive polls an uploaded file until the API finished ingesting it.
func (gc *GeminiClient) waitForActive(ctx context.Context, file *genai.File) error {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for file.State == genai.FileStateProcessing {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		f, err := gc.client.GetFile(ctx, file.Name)
		if err != nil {
			return fmt.Errorf("failed to poll uploaded file: %w", err)
		}
		file = f
	}
	if file.State == genai.FileStateFailed {
		return errors.New("gemini rejected the uploaded file")
	}
	return nil
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", ErrEmptyResponse
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if textPart, ok := part.(genai.Text); ok {
			sb.WriteString(string(textPart))
		}
	}
	if sb.Len() == 0 {
		return "", ErrEmptyResponse
	}
	return sb.String(), nil
}

// Close the client
func (gc *GeminiClient) Close() error {
	if gc.client != nil {
		return gc.client.Close()
	}
	return nil
}
