package extraction

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const (
	structuralMinText    = 50
	structuralMinQuality = 0.3
	structuralConfidence = 0.85
	maxBinaryRatio       = 0.3
)

// StructuralExtractor reads the text layer of a digital PDF. It uses the
// ledongthuc/pdf page walker first and falls back to scanning content
// streams directly when the document's object structure is damaged.
type StructuralExtractor struct {
	log *zap.Logger
}

// NewStructuralExtractor returns a structural strategy.
func NewStructuralExtractor(log *zap.Logger) *StructuralExtractor {
	if log == nil {
		log = zap.NewNop()
	}
	return &StructuralExtractor{log: log}
}

func (s *StructuralExtractor) Method() Method { return MethodStructural }

// Attempt extracts the text layer of doc.
func (s *StructuralExtractor) Attempt(ctx context.Context, doc RawDocument) (attempt Attempt) {
	_, span := otel.Tracer("extraction").Start(ctx, "extraction.structural")
	defer span.End()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.log.Warn("Structural extraction panicked", zap.String("document", doc.Name()), zap.Any("panic", r))
			attempt = InvalidAttempt(MethodStructural, fmt.Sprintf("parser panic: %v", r))
		}
		attempt.Duration = time.Since(start)
		span.SetAttributes(
			attribute.Bool("attempt.valid", attempt.IsValid),
			attribute.Int("attempt.text_length", attempt.TextLength()),
		)
	}()

	data := doc.Bytes()
	if len(data) == 0 {
		return InvalidAttempt(MethodStructural, "empty document")
	}

	var issues []string
	text, pages, err := readTextLayer(data)
	if err != nil {
		issues = append(issues, fmt.Sprintf("pdf reader: %v", err))
	}
	if len(strings.TrimSpace(text)) < structuralMinText {
		if raw := scanTextStreams(data); len(strings.TrimSpace(raw)) > len(strings.TrimSpace(text)) {
			text = raw
		}
	}
	text = strings.TrimSpace(text)

	pageCount := countPageObjects(data)
	if pageCount == 0 {
		pageCount = pages
	}
	if pageCount < 1 {
		pageCount = 1
	}

	quality := TextQuality(text)
	attempt = Attempt{
		Method:    MethodStructural,
		Text:      text,
		Quality:   quality,
		PageCount: pageCount,
	}

	length := len([]rune(text))
	if length >= structuralMinText && quality >= structuralMinQuality {
		attempt.IsValid = true
		attempt.Confidence = structuralConfidence
		attempt.Details = fmt.Sprintf("text layer: %d chars over %d pages", length, pageCount)
		return attempt
	}

	attempt.Confidence = 0.3
	if length < structuralMinText {
		issues = append(issues, fmt.Sprintf("text layer too short (%d chars)", length))
	}
	if quality < structuralMinQuality {
		issues = append(issues, fmt.Sprintf("text quality %.2f below %.2f", quality, structuralMinQuality))
	}
	attempt.Issues = issues
	return attempt
}

// readTextLayer walks pages with ledongthuc/pdf. The reader panics on some
// malformed xref tables, so callers must recover.
func readTextLayer(data []byte) (string, int, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", 0, err
	}

	pages := reader.NumPage()
	parts := make([]string, 0, pages)
	fonts := make(map[string]*pdf.Font)
	for i := 1; i <= pages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := pageText(page, fonts)
		if err != nil {
			continue
		}
		if t := strings.TrimSpace(text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n\n"), pages, nil
}

func pageText(page pdf.Page, fonts map[string]*pdf.Font) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("page text panic: %v", r)
		}
	}()
	return page.GetPlainText(fonts)
}

// scanTextStreams parses text operators out of every decodable content
// stream, skipping streams that are mostly binary after decoding.
func scanTextStreams(data []byte) string {
	var parts []string
	for _, s := range scanStreams(data) {
		if s.isImage() {
			continue
		}
		content, ok := decodeStream(s)
		if !ok || len(content) == 0 {
			continue
		}
		if binaryRatio(content) > maxBinaryRatio {
			continue
		}
		if !bytes.Contains(content, []byte("BT")) {
			continue
		}
		if t := strings.TrimSpace(parseTextOperators(content)); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n\n")
}
