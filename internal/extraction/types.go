// Package extraction turns raw document bytes into a single best-effort text
// result by running independent strategies and selecting among them.
package extraction

import (
	"context"
	"time"
)

// Method identifies the strategy that produced an attempt.
type Method string

const (
	MethodStructural Method = "structural"
	MethodOCR        Method = "ocr"
	MethodHeuristic  Method = "heuristic"
)

// RawDocument is an input document. The byte buffer is owned by the caller
// and must not be modified while a strategy holds it.
type RawDocument struct {
	name string
	data []byte
}

// NewRawDocument wraps data under a display name.
func NewRawDocument(name string, data []byte) RawDocument {
	return RawDocument{name: name, data: data}
}

// Name returns the display name.
func (d RawDocument) Name() string { return d.name }

// Bytes returns the read-only content.
func (d RawDocument) Bytes() []byte { return d.data }

// Size returns the content length in bytes.
func (d RawDocument) Size() int { return len(d.data) }

// Attempt is one strategy's output. Attempts are values and are never
// modified after a strategy returns them.
type Attempt struct {
	Method     Method        `json:"method"`
	Text       string        `json:"-"`
	Quality    float64       `json:"quality"`
	Confidence float64       `json:"confidence"`
	PageCount  int           `json:"page_count"`
	IsValid    bool          `json:"is_valid"`
	Issues     []string      `json:"issues,omitempty"`
	Details    string        `json:"details,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// TextLength returns the attempt text length in characters.
func (a Attempt) TextLength() int {
	return len([]rune(a.Text))
}

// InvalidAttempt is the value a strategy returns on internal failure.
func InvalidAttempt(method Method, issues ...string) Attempt {
	return Attempt{
		Method:    method,
		PageCount: 1,
		Issues:    issues,
	}
}

// Result is the attempt chosen by the orchestrator plus provenance.
type Result struct {
	Attempt
	IsScanned       bool      `json:"is_scanned"`
	ProcessingNotes string    `json:"processing_notes"`
	Score           float64   `json:"score"`
	UsedFallback    bool      `json:"used_fallback"`
	Attempts        []Attempt `json:"attempts"`
}

// Strategy produces an extraction attempt. Implementations never return an
// error: failures are reported as an invalid attempt with issues.
type Strategy interface {
	Method() Method
	Attempt(ctx context.Context, doc RawDocument) Attempt
}
