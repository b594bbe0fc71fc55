package extraction

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// TesseractBackend runs the local tesseract CLI over rendered pages.
type TesseractBackend struct {
	Renderer PageRenderer
	Binary   string
	Language string
}

// NewTesseractBackend returns a backend using renderer for rasterization.
func NewTesseractBackend(renderer PageRenderer, language string) *TesseractBackend {
	if language == "" {
		language = "eng"
	}
	return &TesseractBackend{Renderer: renderer, Binary: "tesseract", Language: language}
}

// Available reports whether the tesseract binary is on PATH.
func (t *TesseractBackend) Available() bool {
	return hasBinary(t.Binary)
}

func (t *TesseractBackend) Extract(ctx context.Context, doc RawDocument) (OCRResult, error) {
	if !t.Available() {
		return OCRResult{}, fmt.Errorf("%s not available", t.Binary)
	}
	pages, err := t.Renderer.Render(ctx, doc.Bytes())
	if err != nil {
		return OCRResult{}, renderError(ctx, err)
	}

	var texts []string
	var confSum float64
	var confN int
	for i, page := range pages {
		tsv, err := t.runPage(ctx, page)
		if err != nil {
			return OCRResult{}, fmt.Errorf("page %d: %w", i+1, err)
		}
		text, sum, n := parseTesseractTSV(tsv)
		if text != "" {
			texts = append(texts, text)
		}
		confSum += sum
		confN += n
	}

	conf := 0.0
	if confN > 0 {
		conf = confSum / float64(confN) / 100
	}
	return OCRResult{
		Text:       strings.Join(texts, "\n\n"),
		Confidence: clamp01(conf),
		PageCount:  len(pages),
	}, nil
}

func (t *TesseractBackend) runPage(ctx context.Context, png []byte) (string, error) {
	cmd := exec.CommandContext(ctx, t.Binary, "stdin", "stdout", "-l", t.Language, "tsv")
	cmd.Stdin = bytes.NewReader(png)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("tesseract failed: %v, stderr: %s", err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// parseTesseractTSV rebuilds text from tesseract's TSV output and sums the
// word confidences. Columns: level page_num block_num par_num line_num
// word_num left top width height conf text.
func parseTesseractTSV(tsv string) (string, float64, int) {
	var sb strings.Builder
	var sum float64
	var n int
	lastLine := ""

	for i, line := range strings.Split(tsv, "\n") {
		if i == 0 || line == "" {
			continue
		}
		cols := strings.Split(line, "\t")
		if len(cols) < 12 || cols[0] != "5" {
			continue
		}
		word := strings.TrimSpace(cols[11])
		if word == "" {
			continue
		}
		conf, err := strconv.ParseFloat(cols[10], 64)
		if err != nil || conf < 0 {
			continue
		}

		lineKey := cols[2] + "." + cols[3] + "." + cols[4]
		switch {
		case sb.Len() == 0:
		case lineKey != lastLine:
			sb.WriteByte('\n')
		default:
			sb.WriteByte(' ')
		}
		lastLine = lineKey
		sb.WriteString(word)
		sum += conf
		n++
	}
	return sb.String(), sum, n
}
