// Package chunking classifies extracted text and splits it into bounded,
// content-aware spans.
package chunking

import (
	"regexp"
	"strings"

	"legal-ingest-platform/models"
)

var (
	emailHeaderLine = regexp.MustCompile(`(?mi)^[ \t]*(from|to|subject|date):[ \t]*\S`)
	emailAddress    = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	labelLine       = regexp.MustCompile(`(?m)^[ \t]*[A-Za-z][A-Za-z0-9 /()'#.,&-]{0,40}:[ \t]*(.*)$`)
	blankFill       = regexp.MustCompile(`_{3,}|\[ \]|☐`)
	listItemLine    = regexp.MustCompile(`(?m)^[ \t]*(?:\d+[.)]|[A-Za-z][.)]|\([a-z0-9]+\)|[-*•●▪])[ \t]+\S`)
	versusMarker    = regexp.MustCompile(`(?i)\bv\.\s`)
)

var legalKeywords = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bwhereas\b`),
	regexp.MustCompile(`(?i)\bpart(?:y|ies)\b`),
	regexp.MustCompile(`(?i)\bagreements?\b`),
	regexp.MustCompile(`(?i)\bshall\b`),
	regexp.MustCompile(`(?i)\bthereof\b`),
	regexp.MustCompile(`(?i)\bjurisdictions?\b`),
	regexp.MustCompile(`(?i)\bplaintiffs?\b`),
	regexp.MustCompile(`(?i)\bdefendants?\b`),
	regexp.MustCompile(`(?i)\bcourts?\b`),
	regexp.MustCompile(`(?i)\bhereinafter\b`),
	regexp.MustCompile(`(?i)\bpursuant\b`),
	regexp.MustCompile(`(?i)\bherein\b`),
	regexp.MustCompile(`(?i)\bstatutes?\b`),
	versusMarker,
}

// Classify returns the content type of text. Rules are checked in order
// and the first match wins.
func Classify(text string) models.ContentType {
	switch {
	case strings.TrimSpace(text) == "":
		return models.ContentTypeGeneric
	case isEmail(text):
		return models.ContentTypeEmail
	case isLegal(text):
		return models.ContentTypeLegal
	case isForm(text):
		return models.ContentTypeForm
	case isStructured(text):
		return models.ContentTypeStructured
	}
	return models.ContentTypeGeneric
}

func isEmail(text string) bool {
	return emailHeaderLine.MatchString(text) || emailAddress.MatchString(text)
}

func isLegal(text string) bool {
	distinct := 0
	for _, kw := range legalKeywords {
		if kw.MatchString(text) {
			distinct++
			if distinct >= 2 {
				return true
			}
		}
	}
	return false
}

func isForm(text string) bool {
	return len(labelLine.FindAllStringIndex(text, -1)) >= 3 || blankFill.MatchString(text)
}

func isStructured(text string) bool {
	return len(listItemLine.FindAllStringIndex(text, -1)) >= 3
}
