package chunking

import (
	"fmt"
	"math/rand"
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"

	"legal-ingest-platform/models"
)

var allContentTypes = []models.ContentType{
	models.ContentTypeEmail,
	models.ContentTypeLegal,
	models.ContentTypeForm,
	models.ContentTypeStructured,
	models.ContentTypeGeneric,
}

func TestSplit_ShortAndEmpty(t *testing.T) {
	c := NewChunker(1500)
	if got := c.Split("", models.ContentTypeGeneric); len(got) != 0 {
		t.Errorf("Split(empty) = %v", got)
	}
	short := "  A short note under one hundred characters.  "
	for _, ct := range allContentTypes {
		got := c.Split(short, ct)
		if len(got) != 1 || got[0] != strings.TrimSpace(short) {
			t.Errorf("Split(short, %s) = %q", ct, got)
		}
	}
	if got := c.Split("   \n  ", models.ContentTypeGeneric); len(got) != 1 {
		t.Errorf("whitespace input must not produce empty output, got %q", got)
	}
}

func TestSplit_LegalSections(t *testing.T) {
	text := "MASTER SERVICES AGREEMENT\n\n" +
		"Section 1. Definitions. " + strings.Repeat("Terms used herein have the meanings set out below. ", 8) + "\n" +
		"Section 2. Services. " + strings.Repeat("The Provider shall perform the services diligently. ", 8) + "\n" +
		"Section 3. Fees. " + strings.Repeat("The Client shall pay the fees in Schedule B. ", 8)

	chunks := NewChunker(500).Split(text, models.ContentTypeLegal)
	if len(chunks) != 3 {
		t.Fatalf("expected one chunk per section, got %d: %q", len(chunks), chunks)
	}
	for i, ch := range chunks {
		if !strings.Contains(ch, fmt.Sprintf("Section %d.", i+1)) || strings.Count(ch, "Section ") != 1 {
			t.Errorf("chunk %d does not hold exactly section %d: %q", i, i+1, ch)
		}
	}
}

func TestSplit_EmailHeaderStaysInFirstChunk(t *testing.T) {
	header := "From: Alice Carter <alice@firm.com>\nTo: Bob Diaz <bob@client.com>\nSubject: Draft settlement terms\nDate: Mon, 3 Mar 2025 10:00:00"
	body := strings.Repeat("We reviewed the proposal and have several comments on the indemnity clause. ", 6)
	text := header + "\n\n" + body + "\n\n" + body

	chunks := NewChunker(600).Split(text, models.ContentTypeEmail)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	if !strings.HasPrefix(chunks[0], header) {
		t.Errorf("first chunk does not start with the header:\n%s", chunks[0])
	}
	for _, ch := range chunks[1:] {
		if strings.Contains(ch, "Subject:") {
			t.Error("header split across chunks")
		}
	}
}

func TestSplit_OversizeHeaderEmittedWhole(t *testing.T) {
	header := "From: a@b.com\nTo: " + strings.Repeat("recipient@example.com, ", 20)
	text := header + "\n\nBody paragraph that follows the very long header line."
	chunks := NewChunker(200).Split(text, models.ContentTypeEmail)
	if chunks[0] != strings.TrimSpace(header) {
		t.Errorf("oversize header must be emitted whole, got %q", chunks[0])
	}
}

func TestSplit_FormKeepsLabelWithValue(t *testing.T) {
	text := "Claimant name: Maria Lopez\nClaim number: 2024-CV-1183\nDescription:\nWater damage to the basement\nafter the storm of June 2.\nAmount claimed: 12,500.00\nSignature: ____________"
	chunks := NewChunker(120).Split(text, models.ContentTypeForm)
	found := false
	for _, ch := range chunks {
		if strings.HasPrefix(ch, "Description:") {
			found = strings.Contains(ch, "Water damage")
		}
	}
	if !found {
		t.Errorf("label and its value were separated: %q", chunks)
	}
}

func TestSplit_GenericFallsBackToSentences(t *testing.T) {
	text := strings.Repeat("This is one sentence of ordinary prose. ", 30)
	chunks := NewChunker(200).Split(text, models.ContentTypeGeneric)
	if len(chunks) < 5 {
		t.Fatalf("expected sentence-level split, got %d chunks", len(chunks))
	}
	for _, ch := range chunks {
		if !strings.HasSuffix(ch, ".") {
			t.Errorf("chunk does not end at a sentence boundary: %q", ch)
		}
	}
}

func TestSplit_OversizeWordEmittedWhole(t *testing.T) {
	word := strings.Repeat("x", 300)
	text := "Preamble text that is short. " + word + " trailing words here to pad the text past the split threshold."
	chunks := NewChunker(100).Split(text, models.ContentTypeGeneric)
	found := false
	for _, ch := range chunks {
		if ch == word {
			found = true
		}
	}
	if !found {
		t.Errorf("oversize word not emitted alone: %q", chunks)
	}
}

// Every chunk stays within the bound unless it is a single atomic unit,
// and no words are lost or reordered.
func TestSplit_BoundAndNoDataLoss(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	vocab := []string{"the", "court", "shall", "Section", "1.", "party", "agreement", "From:", "Name:", "-", "value", "§", "2.", "a)", "notice", "Article", "IV"}
	seps := []string{" ", " ", " ", " ", "\n", "\n\n", ". "}

	for i := 0; i < 200; i++ {
		var sb strings.Builder
		n := 20 + rng.Intn(800)
		for j := 0; j < n; j++ {
			sb.WriteString(vocab[rng.Intn(len(vocab))])
			sb.WriteString(seps[rng.Intn(len(seps))])
		}
		text := sb.String()
		max := 50 + rng.Intn(400)
		ct := allContentTypes[rng.Intn(len(allContentTypes))]

		chunks := NewChunker(max).Split(text, ct)
		if len(chunks) == 0 {
			t.Fatalf("empty output for non-empty input")
		}
		for _, ch := range chunks {
			if utf8.RuneCountInString(ch) > max && ct != models.ContentTypeEmail && len(strings.Fields(ch)) > 1 {
				t.Fatalf("chunk of %d runes exceeds %d (%s): %q", utf8.RuneCountInString(ch), max, ct, ch)
			}
		}
		if got, want := strings.Fields(strings.Join(chunks, " ")), strings.Fields(text); !reflect.DeepEqual(got, want) {
			t.Fatalf("words lost or reordered for %s", ct)
		}
	}
}
