package extraction

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
	"go.uber.org/zap"
)

const (
	heuristicQuality    = 0.7
	heuristicConfidence = 0.8
	bytesPerPageGuess   = 100 * 1024
)

var (
	emailHeaderRe = regexp.MustCompile(`(?mi)^(from|to|subject|date|cc|sent):\s*\S`)
	emailAddrRe   = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	producerRe    = regexp.MustCompile(`/Producer\s*\(([^)]{1,200})\)`)
	titleRe       = regexp.MustCompile(`/Title\s*\(([^)]{1,200})\)`)
	fontRe        = regexp.MustCompile(`/Type\s*/Font\b`)
	imageRe       = regexp.MustCompile(`/Subtype\s*/Image\b`)
	widgetRe      = regexp.MustCompile(`/Subtype\s*/Widget\b`)
)

// DocumentFacts are the observations the heuristic analyzer makes.
type DocumentFacts struct {
	Size          int
	Version       string
	PageCount     int
	PageSource    string
	ParsedByPDF   bool
	ImageCount    int
	FontCount     int
	FormFields    int
	HasAcroForm   bool
	EmailHeaders  int
	EmailAddrs    int
	Producer      string
	Title         string
	TextStreams   int
	DocumentGuess string
}

// HeuristicAnalyzer never fails: it describes what can be inferred about a
// document from its size and markers when no text could be recovered.
type HeuristicAnalyzer struct {
	log *zap.Logger
}

// NewHeuristicAnalyzer returns the fallback strategy.
func NewHeuristicAnalyzer(log *zap.Logger) *HeuristicAnalyzer {
	if log == nil {
		log = zap.NewNop()
	}
	return &HeuristicAnalyzer{log: log}
}

func (h *HeuristicAnalyzer) Method() Method { return MethodHeuristic }

// Attempt analyzes doc and returns a synthesized report.
func (h *HeuristicAnalyzer) Attempt(ctx context.Context, doc RawDocument) Attempt {
	start := time.Now()
	facts := h.Analyze(doc)

	return Attempt{
		Method:     MethodHeuristic,
		Text:       facts.Report(doc.Name()),
		Quality:    heuristicQuality,
		Confidence: heuristicConfidence,
		PageCount:  facts.PageCount,
		IsValid:    true,
		Details:    fmt.Sprintf("document guess %s, %d pages from %s", facts.DocumentGuess, facts.PageCount, facts.PageSource),
		Duration:   time.Since(start),
	}
}

// Analyze gathers facts from the pdfcpu model when the file parses and from
// raw byte markers otherwise.
func (h *HeuristicAnalyzer) Analyze(doc RawDocument) DocumentFacts {
	data := doc.Bytes()
	facts := DocumentFacts{
		Size:         len(data),
		Version:      pdfVersion(data),
		FontCount:    len(fontRe.FindAllIndex(data, -1)),
		ImageCount:   len(imageRe.FindAllIndex(data, -1)),
		FormFields:   len(widgetRe.FindAllIndex(data, -1)),
		HasAcroForm:  bytes.Contains(data, []byte("/AcroForm")),
		EmailHeaders: len(emailHeaderRe.FindAllIndex(data, -1)),
		EmailAddrs:   len(emailAddrRe.FindAllIndex(data, -1)),
	}
	if m := producerRe.FindSubmatch(data); m != nil {
		facts.Producer = printableOnly(string(m[1]))
	}
	if m := titleRe.FindSubmatch(data); m != nil {
		facts.Title = printableOnly(string(m[1]))
	}

	if pages, images, ok := h.inspectModel(data); ok {
		facts.ParsedByPDF = true
		facts.PageCount = pages
		facts.PageSource = "document catalog"
		if images > facts.ImageCount {
			facts.ImageCount = images
		}
	}
	if facts.PageCount < 1 {
		if n := countPageObjects(data); n > 0 {
			facts.PageCount = n
			facts.PageSource = "page markers"
		}
	}
	if facts.PageCount < 1 {
		facts.PageCount = len(data) / bytesPerPageGuess
		if facts.PageCount < 1 {
			facts.PageCount = 1
		}
		facts.PageSource = "file size"
	}

	for _, s := range scanStreams(data) {
		if content, ok := decodeStream(s); ok && bytes.Contains(content, []byte("BT")) && bytes.Contains(content, []byte("Tj")) {
			facts.TextStreams++
		}
	}

	facts.DocumentGuess = guessDocumentType(facts)
	return facts
}

// inspectModel parses data with pdfcpu. pdfcpu panics on some malformed
// inputs, so the call is guarded.
func (h *HeuristicAnalyzer) inspectModel(data []byte) (pages, images int, ok bool) {
	if pdfVersion(data) == "" {
		return 0, 0, false
	}
	defer func() {
		if r := recover(); r != nil {
			h.log.Debug("pdfcpu panicked during analysis", zap.Any("panic", r))
			pages, images, ok = 0, 0, false
		}
	}()

	ctx, err := api.ReadValidateAndOptimize(bytes.NewReader(data), model.NewDefaultConfiguration())
	if err != nil {
		h.log.Debug("pdfcpu could not read document", zap.Error(err))
		return 0, 0, false
	}

	for _, entry := range ctx.Table {
		if entry == nil || entry.Free || entry.Compressed {
			continue
		}
		sd, isStream := entry.Object.(types.StreamDict)
		if !isStream {
			continue
		}
		if subtype, found := sd.Find("Subtype"); found {
			if name, isName := subtype.(types.Name); isName && name == "Image" {
				images++
			}
		}
	}
	return ctx.PageCount, images, true
}

func guessDocumentType(f DocumentFacts) string {
	switch {
	case f.EmailHeaders >= 2 || (f.EmailAddrs > 0 && f.EmailHeaders > 0):
		return "email"
	case f.HasAcroForm || f.FormFields > 0:
		return "form"
	case f.ImageCount > 0 && f.TextStreams == 0:
		return "scanned"
	case f.TextStreams > 0 || f.FontCount > 0:
		return "digital"
	}
	return "unknown"
}

// Report renders facts as readable text that can be chunked and searched.
func (f DocumentFacts) Report(name string) string {
	var sb strings.Builder
	if name == "" {
		name = "document"
	}
	fmt.Fprintf(&sb, "Document analysis report for %s.\n\n", name)

	fmt.Fprintf(&sb, "The file is %d bytes", f.Size)
	if f.Version != "" {
		fmt.Fprintf(&sb, " and declares PDF version %s", f.Version)
	} else {
		sb.WriteString(" and has no PDF header")
	}
	sb.WriteString(".\n")
	fmt.Fprintf(&sb, "Estimated page count is %d, derived from the %s.\n", f.PageCount, f.PageSource)
	if f.Title != "" {
		fmt.Fprintf(&sb, "The document title is %q.\n", f.Title)
	}
	if f.Producer != "" {
		fmt.Fprintf(&sb, "It was produced by %s.\n", f.Producer)
	}

	sb.WriteString("\nObservations:\n")
	fmt.Fprintf(&sb, "- %d image objects and %d font objects were found.\n", f.ImageCount, f.FontCount)
	fmt.Fprintf(&sb, "- %d content streams contain text operators.\n", f.TextStreams)
	if f.HasAcroForm || f.FormFields > 0 {
		fmt.Fprintf(&sb, "- The document contains an interactive form with %d fields.\n", f.FormFields)
	}
	if f.EmailHeaders > 0 || f.EmailAddrs > 0 {
		fmt.Fprintf(&sb, "- %d email header lines and %d email addresses are visible in the raw bytes.\n", f.EmailHeaders, f.EmailAddrs)
	}
	if !f.ParsedByPDF {
		sb.WriteString("- The file could not be parsed as a well-formed PDF.\n")
	}

	fmt.Fprintf(&sb, "\nBest guess: this is a %s document. Text could not be recovered directly and manual review is recommended.\n", f.DocumentGuess)
	return sb.String()
}

func printableOnly(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 32 || r == 127 {
			return -1
		}
		return r
	}, s)
}
