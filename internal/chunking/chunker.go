package chunking

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"legal-ingest-platform/models"
)

const (
	DefaultMaxChunkSize = 1500
	minSplitLength      = 100
)

var (
	paragraphBreak = regexp.MustCompile(`\n[ \t]*\n+`)
	sentenceEnd    = regexp.MustCompile(`[.!?]+["')\]]*\s+`)

	legalBoundary = regexp.MustCompile(`(?m)^[ \t]*(?:(?i:section|article|clause|schedule|exhibit)\s+[0-9IVXLC]+\b|§+\s*\d|\d+(?:\.\d+)*[.)]?\s+[A-Z]|\([a-z0-9]{1,4}\)\s)`)
	listBoundary  = regexp.MustCompile(`(?m)^[ \t]*(?:\d+(?:\.\d+)*[.)]|[A-Za-z][.)]|\([a-z0-9]{1,4}\)|[-*•●▪])[ \t]+\S`)
	formLabel     = regexp.MustCompile(`^[ \t]*[A-Za-z][A-Za-z0-9 /()'#.,&-]{0,40}:`)
)

// unit is a piece of text the packer places as a whole. Atomic units are
// never split even when they exceed the size limit.
type unit struct {
	text   string
	atomic bool
}

// Chunker splits text along content-type specific boundaries and packs the
// pieces into chunks of at most maxChunkSize runes.
type Chunker struct {
	maxChunkSize int
}

// NewChunker returns a chunker. Non-positive sizes use DefaultMaxChunkSize.
func NewChunker(maxChunkSize int) *Chunker {
	if maxChunkSize <= 0 {
		maxChunkSize = DefaultMaxChunkSize
	}
	return &Chunker{maxChunkSize: maxChunkSize}
}

// Split returns the spans of text for contentType. Non-empty input always
// yields at least one span.
func (c *Chunker) Split(text string, contentType models.ContentType) []string {
	if text == "" {
		return nil
	}
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return []string{text}
	}
	if utf8.RuneCountInString(trimmed) < minSplitLength {
		return []string{trimmed}
	}

	var units []unit
	sep := "\n\n"
	switch contentType {
	case models.ContentTypeEmail:
		units = emailUnits(trimmed)
	case models.ContentTypeLegal:
		units = boundaryUnits(trimmed, legalBoundary)
	case models.ContentTypeStructured:
		units = boundaryUnits(trimmed, listBoundary)
	case models.ContentTypeForm:
		units = formUnits(trimmed)
		sep = "\n"
	default:
		units = paragraphUnits(trimmed)
		if len(units) < 2 {
			units = sentenceUnits(trimmed)
			sep = " "
		}
	}

	chunks := c.pack(units, sep)
	if len(chunks) == 0 {
		return []string{trimmed}
	}
	return chunks
}

// pack greedily joins units with sep while the result stays within bounds.
func (c *Chunker) pack(units []unit, sep string) []string {
	var chunks []string
	var cur strings.Builder
	curLen := 0
	sepLen := utf8.RuneCountInString(sep)

	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			chunks = append(chunks, s)
		}
		cur.Reset()
		curLen = 0
	}

	for _, u := range units {
		text := strings.TrimSpace(u.text)
		if text == "" {
			continue
		}
		n := utf8.RuneCountInString(text)

		if n > c.maxChunkSize {
			flush()
			if u.atomic {
				chunks = append(chunks, text)
				continue
			}
			chunks = append(chunks, c.splitOversize(text)...)
			continue
		}

		if curLen > 0 && curLen+sepLen+n > c.maxChunkSize {
			flush()
		}
		if curLen > 0 {
			cur.WriteString(sep)
			curLen += sepLen
		}
		cur.WriteString(text)
		curLen += n
	}
	flush()
	return chunks
}

// splitOversize breaks a unit that exceeds the bound into sentences and, if
// a sentence is still too long, into words. A single word longer than the
// bound is emitted whole.
func (c *Chunker) splitOversize(text string) []string {
	sentences := sentenceUnits(text)
	if len(sentences) > 1 {
		return c.pack(sentences, " ")
	}
	words := strings.Fields(text)
	units := make([]unit, len(words))
	for i, w := range words {
		units[i] = unit{text: w, atomic: true}
	}
	return c.pack(units, " ")
}

func paragraphUnits(text string) []unit {
	var units []unit
	for _, p := range paragraphBreak.Split(text, -1) {
		if strings.TrimSpace(p) != "" {
			units = append(units, unit{text: p})
		}
	}
	return units
}

func sentenceUnits(text string) []unit {
	var units []unit
	start := 0
	for _, loc := range sentenceEnd.FindAllStringIndex(text, -1) {
		if s := text[start:loc[1]]; strings.TrimSpace(s) != "" {
			units = append(units, unit{text: s})
		}
		start = loc[1]
	}
	if rest := text[start:]; strings.TrimSpace(rest) != "" {
		units = append(units, unit{text: rest})
	}
	return units
}

// boundaryUnits cuts text at every line matching boundary. With fewer than
// two sections it falls back to paragraphs.
func boundaryUnits(text string, boundary *regexp.Regexp) []unit {
	locs := boundary.FindAllStringIndex(text, -1)
	if len(locs) < 2 {
		return paragraphUnits(text)
	}

	var units []unit
	start := 0
	for _, loc := range locs {
		if loc[0] > start {
			units = appendSection(units, text[start:loc[0]])
		}
		start = loc[0]
	}
	units = appendSection(units, text[start:])
	return units
}

func appendSection(units []unit, section string) []unit {
	if strings.TrimSpace(section) == "" {
		return units
	}
	return append(units, unit{text: section})
}

// emailUnits keeps the header block as one atomic unit ahead of the body
// paragraphs.
func emailUnits(text string) []unit {
	lines := strings.Split(text, "\n")
	end := 0
	for end < len(lines) {
		line := lines[end]
		if strings.TrimSpace(line) == "" {
			break
		}
		isHeader := emailHeaderLine.MatchString(line) || formLabel.MatchString(line)
		isContinuation := end > 0 && (strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t"))
		if !isHeader && !isContinuation {
			break
		}
		end++
	}

	if end == 0 {
		return paragraphUnits(text)
	}

	units := []unit{{text: strings.Join(lines[:end], "\n"), atomic: true}}
	if body := strings.Join(lines[end:], "\n"); strings.TrimSpace(body) != "" {
		units = append(units, paragraphUnits(body)...)
	}
	return units
}

// formUnits starts a new unit at every label line; value lines without a
// label stay with the preceding label.
func formUnits(text string) []unit {
	var units []unit
	var cur []string
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if formLabel.MatchString(line) && len(cur) > 0 {
			units = append(units, unit{text: strings.Join(cur, "\n")})
			cur = cur[:0]
		}
		cur = append(cur, line)
	}
	if len(cur) > 0 {
		units = append(units, unit{text: strings.Join(cur, "\n")})
	}
	return units
}
