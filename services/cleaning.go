package services

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	DefaultMaxChunkChars    = 2000
	defaultDedupeAbortRatio = 0.7
	truncationMarker        = " [truncated]"
)

var emailTokenRe = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)

// ChunkCleaner normalizes a span before scoring and storage.
type ChunkCleaner struct {
	maxChars         int
	dedupeAbortRatio float64
}

// NewChunkCleaner returns a cleaner that caps output at maxChars runes.
func NewChunkCleaner(maxChars int) *ChunkCleaner {
	if maxChars <= 0 {
		maxChars = DefaultMaxChunkChars
	}
	return &ChunkCleaner{maxChars: maxChars, dedupeAbortRatio: defaultDedupeAbortRatio}
}

// Clean strips non-printable characters, collapses whitespace, drops
// repeated email tokens and truncates to the size cap.
func (c *ChunkCleaner) Clean(text string) string {
	text = stripNonPrintable(text)
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return ""
	}
	tokens = c.dedupeEmails(tokens)
	return c.truncate(strings.Join(tokens, " "))
}

func stripNonPrintable(text string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == utf8.RuneError:
			return -1
		case unicode.IsSpace(r):
			return ' '
		case !unicode.IsPrint(r):
			return -1
		}
		return r
	}, text)
}

// dedupeEmails keeps the first occurrence of each email token. When that
// would remove more than the abort ratio of all tokens the input is kept
// as is, since the repetition is then the content itself.
func (c *ChunkCleaner) dedupeEmails(tokens []string) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0, len(tokens))
	removed := 0
	for _, tok := range tokens {
		addr := emailTokenRe.FindString(tok)
		if addr == "" {
			out = append(out, tok)
			continue
		}
		key := strings.ToLower(addr)
		if _, dup := seen[key]; dup {
			removed++
			continue
		}
		seen[key] = struct{}{}
		out = append(out, tok)
	}
	if removed == 0 || float64(removed)/float64(len(tokens)) > c.dedupeAbortRatio {
		return tokens
	}
	return out
}

// truncate cuts text to maxChars runes including the marker, preferring
// the last sentence end in the second half of the kept text.
func (c *ChunkCleaner) truncate(text string) string {
	runes := []rune(text)
	if len(runes) <= c.maxChars {
		return text
	}
	limit := c.maxChars - utf8.RuneCountInString(truncationMarker)
	if limit <= 0 {
		return string(runes[:c.maxChars])
	}
	kept := runes[:limit]

	cut := -1
	for i := len(kept) - 1; i >= len(kept)/2; i-- {
		if kept[i] == '.' || kept[i] == '!' || kept[i] == '?' {
			cut = i + 1
			break
		}
	}
	if cut < 0 {
		for i := len(kept) - 1; i > 0; i-- {
			if kept[i] == ' ' {
				cut = i
				break
			}
		}
	}
	if cut > 0 {
		kept = kept[:cut]
	}
	return strings.TrimSpace(string(kept)) + truncationMarker
}
