package ai

import (
	"context"
	"fmt"
	"time"

	"legal-ingest-platform/internal/metrics"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// GeminiEmbedder embeds text with a Google embedding model (text-embedding-004 by default).
type GeminiEmbedder struct {
	client *GeminiClient
	model  string
}

// NewGeminiEmbedder creates an embedder over an existing Gemini client.
func NewGeminiEmbedder(client *GeminiClient, model string) *GeminiEmbedder {
	if model == "" {
		model = "text-embedding-004"
	}
	return &GeminiEmbedder{client: client, model: model}
}

// Embed returns the embedding vector for text.
func (e *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return observeEmbedding(ctx, "google", e.model, func(ctx context.Context) ([]float32, error) {
		return e.client.EmbedText(ctx, e.model, text)
	})
}

// OpenAIEmbedder embeds text through an OpenAI-compatible embeddings endpoint.
type OpenAIEmbedder struct {
	client *OpenAIClient
	model  string
}

// NewOpenAIEmbedder creates an embedder over an existing OpenAI client.
func NewOpenAIEmbedder(client *OpenAIClient, model string) *OpenAIEmbedder {
	if model == "" {
		model = "text-embedding-3-small"
	}
	return &OpenAIEmbedder{client: client, model: model}
}

// Embed returns the embedding vector for text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return observeEmbedding(ctx, "openai", e.model, func(ctx context.Context) ([]float32, error) {
		return e.client.CreateEmbedding(ctx, e.model, text)
	})
}

func observeEmbedding(ctx context.Context, provider, model string, call func(context.Context) ([]float32, error)) ([]float32, error) {
	ctx, span := otel.Tracer("embeddings").Start(ctx, "embeddings.embed")
	defer span.End()
	span.SetAttributes(
		attribute.String("embedding.provider", provider),
		attribute.String("embedding.model", model),
	)

	start := time.Now()
	vec, err := call(ctx)
	if err != nil {
		metrics.EmbeddingRequestsTotal.WithLabelValues(provider, model, "error").Inc()
		errType := "api_error"
		if ctx.Err() != nil {
			errType = "timeout"
		}
		metrics.EmbeddingErrorsTotal.WithLabelValues(provider, model, errType).Inc()
		span.RecordError(err)
		return nil, fmt.Errorf("%s embedding: %w", provider, err)
	}

	metrics.EmbeddingRequestsTotal.WithLabelValues(provider, model, "success").Inc()
	metrics.EmbeddingRequestDuration.WithLabelValues(provider, model).Observe(time.Since(start).Seconds())
	span.SetAttributes(attribute.Int("embedding.dimensions", len(vec)))
	return vec, nil
}
