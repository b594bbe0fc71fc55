package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// OCRServiceClient talks to the external OCR HTTP service.
type OCRServiceClient struct {
	httpClient          *http.Client
	baseURL             string
	confidenceThreshold float64
}

// OCRServiceResponse is the service's /ocr/extract payload.
type OCRServiceResponse struct {
	Success        bool       `json:"success"`
	Text           string     `json:"text"`
	Chunks         []OCRChunk `json:"chunks"`
	Pages          int        `json:"pages"`
	ProcessingTime float64    `json:"processing_time"`
	Method         string     `json:"method"`
	QualityScore   float64    `json:"quality_score"`
	Error          string     `json:"error,omitempty"`
}

// OCRChunk is a recognized text region.
type OCRChunk struct {
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"`
	Page       int       `json:"page"`
	Bbox       []float64 `json:"bbox"`
	ChunkType  string    `json:"chunk_type"`
}

// OCRServiceHealth is the /health payload.
type OCRServiceHealth struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
	Device      string `json:"device"`
	Version     string `json:"version"`
}

// NewOCRServiceClient creates a client for baseURL. Per-call deadlines come
// from the context; the HTTP client timeout is only an upper bound.
func NewOCRServiceClient(baseURL string, confidenceThreshold float64) *OCRServiceClient {
	if baseURL == "" {
		baseURL = "http://localhost:8001"
	}
	return &OCRServiceClient{
		httpClient: &http.Client{
			Timeout: 5 * time.Minute, // OCR can take time
		},
		baseURL:             strings.TrimRight(baseURL, "/"),
		confidenceThreshold: confidenceThreshold,
	}
}

// IsHealthy checks if the OCR service is up with its model loaded.
func (c *OCRServiceClient) IsHealthy(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false, fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("OCR service unhealthy: status %d", resp.StatusCode)
	}

	var health OCRServiceHealth
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return false, fmt.Errorf("failed to decode health response: %w", err)
	}
	return health.Status == "healthy" && health.ModelLoaded, nil
}

// Extract implements OCRBackend.
func (c *OCRServiceClient) Extract(ctx context.Context, doc RawDocument) (OCRResult, error) {
	healthy, err := c.IsHealthy(ctx)
	if err != nil {
		return OCRResult{}, fmt.Errorf("OCR service health check failed: %w", err)
	}
	if !healthy {
		return OCRResult{}, errors.New("OCR service is not healthy")
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	name := doc.Name()
	if name == "" {
		name = "document.pdf"
	}
	fileWriter, err := writer.CreateFormFile("file", name)
	if err != nil {
		return OCRResult{}, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := fileWriter.Write(doc.Bytes()); err != nil {
		return OCRResult{}, fmt.Errorf("failed to copy file data: %w", err)
	}
	_ = writer.WriteField("extract_tables", "true")
	_ = writer.WriteField("extract_images", "false")
	_ = writer.WriteField("confidence_threshold", fmt.Sprintf("%.2f", c.confidenceThreshold))
	if err := writer.Close(); err != nil {
		return OCRResult{}, fmt.Errorf("failed to finalize form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/ocr/extract", &buf)
	if err != nil {
		return OCRResult{}, fmt.Errorf("failed to create OCR request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return OCRResult{}, fmt.Errorf("OCR request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return OCRResult{}, fmt.Errorf("OCR request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out OCRServiceResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return OCRResult{}, fmt.Errorf("failed to decode OCR response: %w", err)
	}
	if !out.Success {
		return OCRResult{}, fmt.Errorf("OCR processing failed: %s", out.Error)
	}

	return OCRResult{
		Text:       strings.TrimSpace(out.Text),
		Confidence: averageConfidence(out),
		PageCount:  out.Pages,
	}, nil
}

// averageConfidence averages region confidences, falling back to the
// service's own quality score when it returned no regions.
func averageConfidence(resp OCRServiceResponse) float64 {
	if len(resp.Chunks) == 0 {
		return clamp01(resp.QualityScore)
	}
	total := 0.0
	for _, chunk := range resp.Chunks {
		total += chunk.Confidence
	}
	return clamp01(total / float64(len(resp.Chunks)))
}
