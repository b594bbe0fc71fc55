package extraction

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNoEmbeddedImages is returned when a PDF has no JPEG page images.
var ErrNoEmbeddedImages = fmt.Errorf("%w: no embedded page images", ErrUnsuitableInput)

// DocumentReader transcribes a whole document in one call.
type DocumentReader interface {
	ExtractDocument(ctx context.Context, data []byte, mimeType string) (string, error)
}

// ImageReader transcribes a batch of page images.
type ImageReader interface {
	ExtractImages(ctx context.Context, images [][]byte, format string) (string, error)
}

// PageRenderer rasterizes document pages.
type PageRenderer interface {
	Render(ctx context.Context, data []byte) ([][]byte, error)
}

// DocumentModelBackend uploads the whole PDF to a document-capable model.
type DocumentModelBackend struct {
	Reader     DocumentReader
	Confidence float64
}

func (b *DocumentModelBackend) Extract(ctx context.Context, doc RawDocument) (OCRResult, error) {
	text, err := b.Reader.ExtractDocument(ctx, doc.Bytes(), "application/pdf")
	if err != nil {
		return OCRResult{}, err
	}
	return OCRResult{
		Text:       strings.TrimSpace(text),
		Confidence: confidenceOr(b.Confidence, 0.9),
	}, nil
}

// EmbeddedImageBackend feeds the JPEG images embedded in a scanned PDF to a
// vision model. Scanners usually store one DCT image per page.
type EmbeddedImageBackend struct {
	Reader     ImageReader
	MaxImages  int
	Confidence float64
}

func (b *EmbeddedImageBackend) Extract(ctx context.Context, doc RawDocument) (OCRResult, error) {
	images := embeddedJPEGs(doc.Bytes(), b.MaxImages)
	if len(images) == 0 {
		return OCRResult{}, ErrNoEmbeddedImages
	}
	text, err := b.Reader.ExtractImages(ctx, images, "jpeg")
	if err != nil {
		return OCRResult{}, err
	}
	return OCRResult{
		Text:       strings.TrimSpace(text),
		Confidence: confidenceOr(b.Confidence, 0.85),
		PageCount:  len(images),
	}, nil
}

// RenderedVisionBackend renders pages to PNG and sends them to a vision model.
type RenderedVisionBackend struct {
	Renderer   PageRenderer
	Reader     ImageReader
	Confidence float64
}

func (b *RenderedVisionBackend) Extract(ctx context.Context, doc RawDocument) (OCRResult, error) {
	pages, err := b.Renderer.Render(ctx, doc.Bytes())
	if err != nil {
		return OCRResult{}, renderError(ctx, err)
	}
	text, err := b.Reader.ExtractImages(ctx, pages, "png")
	if err != nil {
		return OCRResult{}, err
	}
	return OCRResult{
		Text:       strings.TrimSpace(text),
		Confidence: confidenceOr(b.Confidence, 0.8),
		PageCount:  len(pages),
	}, nil
}

// renderError tags a rasterization failure as an input problem unless the
// caller gave up.
func renderError(ctx context.Context, err error) error {
	if ctx.Err() != nil || errors.Is(err, ErrUnsuitableInput) {
		return fmt.Errorf("render pages: %w", err)
	}
	return fmt.Errorf("render pages: %w: %w", ErrUnsuitableInput, err)
}

func confidenceOr(v, def float64) float64 {
	if v > 0 {
		return v
	}
	return def
}
