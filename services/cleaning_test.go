package services

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestChunkCleaner_Clean(t *testing.T) {
	c := NewChunkCleaner(0)

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"collapses whitespace", "  The   Client\n\nshall\tpay.  ", "The Client shall pay."},
		{"strips control characters", "Fee\x00s are\x07 due�.", "Fees are due."},
		{"empty", " \n\t ", ""},
		{
			"drops repeated addresses",
			"Contact jane@firm.com or bob@firm.com. Reply to jane@firm.com about the retainer and the invoice and the schedule today please",
			"Contact jane@firm.com or bob@firm.com. Reply to about the retainer and the invoice and the schedule today please",
		},
		{
			"keeps repetition that is the content",
			strings.TrimSpace(strings.Repeat("john@example.com ", 10)),
			strings.TrimSpace(strings.Repeat("john@example.com ", 10)),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.Clean(tt.in); got != tt.want {
				t.Errorf("Clean() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestChunkCleaner_Truncate(t *testing.T) {
	c := NewChunkCleaner(200)
	text := strings.Repeat("The Firm shall act diligently. ", 20)

	got := c.Clean(text)
	if n := utf8.RuneCountInString(got); n > 200 {
		t.Fatalf("cleaned length = %d, want <= 200", n)
	}
	if !strings.HasSuffix(got, "diligently."+truncationMarker) {
		t.Errorf("expected cut at a sentence end, got %q", got)
	}
}

func TestChunkCleaner_TruncateWithoutSentences(t *testing.T) {
	c := NewChunkCleaner(50)
	got := c.Clean(strings.Repeat("word ", 40))
	if n := utf8.RuneCountInString(got); n > 50 {
		t.Fatalf("cleaned length = %d, want <= 50", n)
	}
	if !strings.HasSuffix(got, "word"+truncationMarker) {
		t.Errorf("expected cut at a word boundary, got %q", got)
	}
}
