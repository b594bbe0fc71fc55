package extraction

import (
	"bytes"
	"strings"
	"testing"
)

func TestParseTextOperators(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"tj", "BT (Hello World) Tj ET", "Hello World"},
		{"tj array with kerning", "BT [(Hel) -20 (lo) -450 (World)] TJ ET", "Hello World"},
		{"escaped parens", `BT (a \(b\) c) Tj ET`, "a (b) c"},
		{"nested parens", "BT (f(x) = y) Tj ET", "f(x) = y"},
		{"octal escape", `BT (caf\351) Tj ET`, "café"},
		{"hex string", "BT <48656C6C6F> Tj ET", "Hello"},
		{"utf16 hex", "BT <FEFF00480069> Tj ET", "Hi"},
		{"next line operator", "BT (one) Tj T* (two) Tj ET", "one\ntwo"},
		{"quote operator", "BT (one) Tj (two) ' ET", "one\ntwo"},
		{"td inserts space", "BT (one) Tj 10 0 Td (two) Tj ET", "one two"},
		{"ignores dictionaries", "/P <</MCID 0>> BDC BT (text) Tj ET EMC", "text"},
		{"ignores non-text operators", "q 1 0 0 1 0 0 cm /Im1 Do Q", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := strings.TrimSpace(parseTextOperators([]byte(tt.content)))
			if got != tt.want {
				t.Errorf("parseTextOperators(%q) = %q, want %q", tt.content, got, tt.want)
			}
		})
	}
}

func TestParseTextOperatorsTerminatesOnGarbage(t *testing.T) {
	garbage := []byte("BT (unterminated <zz ]]] >> > ) ( \\")
	_ = parseTextOperators(garbage)
}

func TestCountPageObjects(t *testing.T) {
	data := buildTextPDF("one", "two", "three")
	if got := countPageObjects(data); got != 3 {
		t.Errorf("countPageObjects() = %d, want 3", got)
	}
	if got := countPageObjects([]byte("/Type /Pages /Kids []")); got != 0 {
		t.Errorf("/Pages must not count as a page, got %d", got)
	}
}

func TestScanStreamsInflatesFlate(t *testing.T) {
	data := buildFlateTextPDF("Compressed page text")
	var found bool
	for _, s := range scanStreams(data) {
		content, ok := decodeStream(s)
		if ok && bytes.Contains(content, []byte("Compressed page text")) {
			found = true
		}
	}
	if !found {
		t.Fatal("expected inflated content stream")
	}
}

func TestEmbeddedJPEGs(t *testing.T) {
	images := embeddedJPEGs(buildImageOnlyPDF(3), 0)
	if len(images) != 3 {
		t.Fatalf("embeddedJPEGs() = %d images, want 3", len(images))
	}
	for _, img := range images {
		if img[0] != 0xFF || img[1] != 0xD8 {
			t.Errorf("image does not start with SOI marker")
		}
	}
	if got := embeddedJPEGs(buildImageOnlyPDF(3), 2); len(got) != 2 {
		t.Errorf("limit not applied: got %d", len(got))
	}
	if got := embeddedJPEGs(buildTextPDF("text"), 0); len(got) != 0 {
		t.Errorf("text PDF has no images, got %d", len(got))
	}
}

func TestPDFVersion(t *testing.T) {
	if v := pdfVersion(buildTextPDF("x")); v != "1.4" {
		t.Errorf("pdfVersion() = %q, want 1.4", v)
	}
	if v := pdfVersion([]byte("not a pdf")); v != "" {
		t.Errorf("pdfVersion() = %q, want empty", v)
	}
}

func TestBinaryRatio(t *testing.T) {
	if r := binaryRatio([]byte("plain text\n")); r != 0 {
		t.Errorf("binaryRatio(text) = %f", r)
	}
	if r := binaryRatio([]byte{0x00, 0x01, 0xff, 'a'}); r != 0.75 {
		t.Errorf("binaryRatio(binary) = %f, want 0.75", r)
	}
}
