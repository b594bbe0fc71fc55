package extraction

import (
	"bytes"
	"compress/zlib"
	"io"
	"regexp"
	"strings"
	"unicode/utf16"
)

const (
	maxInflatedStream  = 16 << 20
	streamDictLookback = 1024
)

var (
	// /Type /Page but not /Type /Pages
	pageObjectRe = regexp.MustCompile(`/Type\s*/Page\b`)
	pdfHeaderRe  = regexp.MustCompile(`^%PDF-(\d\.\d)`)
)

// pdfStream is one stream object found by a raw byte scan.
type pdfStream struct {
	dict []byte
	data []byte
}

func (s pdfStream) hasFilter(name string) bool {
	return bytes.Contains(s.dict, []byte("/"+name))
}

func (s pdfStream) isImage() bool {
	return bytes.Contains(s.dict, []byte("/Subtype/Image")) || bytes.Contains(s.dict, []byte("/Subtype /Image"))
}

// pdfVersion returns the header version or "" when data is not a PDF.
func pdfVersion(data []byte) string {
	head := data
	if len(head) > 1024 {
		head = head[:1024]
	}
	// Some producers prepend junk before the header
	idx := bytes.Index(head, []byte("%PDF-"))
	if idx < 0 {
		return ""
	}
	m := pdfHeaderRe.FindSubmatch(head[idx:])
	if m == nil {
		return ""
	}
	return string(m[1])
}

// countPageObjects counts page object markers in the raw bytes.
func countPageObjects(data []byte) int {
	return len(pageObjectRe.FindAllIndex(data, -1))
}

// scanStreams walks every stream ... endstream section in data.
func scanStreams(data []byte) []pdfStream {
	var streams []pdfStream
	pos := 0
	for {
		idx := bytes.Index(data[pos:], []byte("stream"))
		if idx < 0 {
			break
		}
		start := pos + idx
		// skip "endstream"
		if start >= 3 && bytes.Equal(data[start-3:start], []byte("end")) {
			pos = start + len("stream")
			continue
		}

		bodyStart := start + len("stream")
		if bodyStart < len(data) && data[bodyStart] == '\r' {
			bodyStart++
		}
		if bodyStart < len(data) && data[bodyStart] == '\n' {
			bodyStart++
		}

		end := bytes.Index(data[bodyStart:], []byte("endstream"))
		if end < 0 {
			break
		}
		body := trimEOL(data[bodyStart : bodyStart+end])

		dictStart := start - streamDictLookback
		if dictStart < 0 {
			dictStart = 0
		}
		dict := data[dictStart:start]
		if objIdx := bytes.LastIndex(dict, []byte(" obj")); objIdx >= 0 {
			dict = dict[objIdx:]
		}

		streams = append(streams, pdfStream{dict: dict, data: body})
		pos = bodyStart + end + len("endstream")
	}
	return streams
}

// trimEOL drops the single end-of-line marker that precedes endstream.
// Only one is removed since binary data may itself end in CR or LF.
func trimEOL(b []byte) []byte {
	switch {
	case bytes.HasSuffix(b, []byte("\r\n")):
		return b[:len(b)-2]
	case bytes.HasSuffix(b, []byte("\n")), bytes.HasSuffix(b, []byte("\r")):
		return b[:len(b)-1]
	}
	return b
}

// decodeStream returns the stream body, inflating FlateDecode data.
// Streams with filters we cannot decode return ok=false.
func decodeStream(s pdfStream) ([]byte, bool) {
	switch {
	case s.hasFilter("FlateDecode"):
		r, err := zlib.NewReader(bytes.NewReader(s.data))
		if err != nil {
			return nil, false
		}
		defer r.Close()
		out, err := io.ReadAll(io.LimitReader(r, maxInflatedStream))
		if err != nil && len(out) == 0 {
			return nil, false
		}
		return out, true
	case s.hasFilter("DCTDecode"), s.hasFilter("JPXDecode"), s.hasFilter("CCITTFaxDecode"),
		s.hasFilter("JBIG2Decode"), s.hasFilter("LZWDecode"), s.hasFilter("ASCII85Decode"):
		return nil, false
	}
	return s.data, true
}

// binaryRatio is the share of bytes that are neither printable ASCII nor whitespace.
func binaryRatio(b []byte) float64 {
	if len(b) == 0 {
		return 0
	}
	binary := 0
	for _, c := range b {
		if (c < 32 && c != '\n' && c != '\r' && c != '\t' && c != '\f') || c > 126 {
			binary++
		}
	}
	return float64(binary) / float64(len(b))
}

// embeddedJPEGs returns the raw bytes of DCT-encoded image XObjects.
func embeddedJPEGs(data []byte, limit int) [][]byte {
	var images [][]byte
	for _, s := range scanStreams(data) {
		if !s.isImage() || !s.hasFilter("DCTDecode") {
			continue
		}
		if len(s.data) < 4 || s.data[0] != 0xFF || s.data[1] != 0xD8 {
			continue
		}
		images = append(images, s.data)
		if limit > 0 && len(images) >= limit {
			break
		}
	}
	return images
}

// contentParser extracts text shown by PDF text operators
// (Tj, TJ, ', ") from a decoded content stream.
type contentParser struct {
	data    []byte
	pos     int
	out     strings.Builder
	pending []string
	inArray bool
	array   []string
}

func parseTextOperators(content []byte) string {
	p := &contentParser{data: content}
	p.run()
	return p.out.String()
}

func (p *contentParser) run() {
	for p.pos < len(p.data) {
		c := p.data[p.pos]
		switch {
		case c == '%':
			p.skipComment()
		case c == '(':
			p.push(p.readLiteral())
		case c == '<' && p.peek(1) == '<':
			p.pos += 2
		case c == '>' && p.peek(1) == '>':
			p.pos += 2
		case c == '<':
			p.push(p.readHex())
		case c == '[':
			p.inArray = true
			p.array = p.array[:0]
			p.pos++
		case c == ']':
			p.inArray = false
			p.pos++
		case c == '-' || c == '.' || (c >= '0' && c <= '9'):
			p.readNumber()
		case c == '/':
			p.pos++
			p.readWord()
		case isDelimiterSpace(c):
			p.pos++
		default:
			p.operator(p.readWord())
		}
	}
}

func (p *contentParser) peek(n int) byte {
	if p.pos+n < len(p.data) {
		return p.data[p.pos+n]
	}
	return 0
}

func (p *contentParser) push(s string) {
	if p.inArray {
		p.array = append(p.array, s)
		return
	}
	p.pending = append(p.pending, s)
}

func (p *contentParser) operator(op string) {
	switch op {
	case "Tj":
		p.emit(p.pending)
	case "'", "\"":
		p.newline()
		p.emit(p.pending)
	case "TJ":
		p.emit(p.array)
		p.array = p.array[:0]
	case "Td", "TD", "Tm":
		p.space()
	case "T*":
		p.newline()
	case "ET":
		p.newline()
	case "":
		// unknown byte, skip it
		p.pos++
	}
	p.pending = p.pending[:0]
}

func (p *contentParser) emit(parts []string) {
	for _, s := range parts {
		p.out.WriteString(s)
	}
}

func (p *contentParser) space() {
	s := p.out.String()
	if len(s) > 0 && !strings.HasSuffix(s, " ") && !strings.HasSuffix(s, "\n") {
		p.out.WriteByte(' ')
	}
}

func (p *contentParser) newline() {
	s := p.out.String()
	if len(s) > 0 && !strings.HasSuffix(s, "\n") {
		p.out.WriteByte('\n')
	}
}

func (p *contentParser) skipComment() {
	for p.pos < len(p.data) && p.data[p.pos] != '\n' && p.data[p.pos] != '\r' {
		p.pos++
	}
}

func (p *contentParser) readWord() string {
	start := p.pos
	for p.pos < len(p.data) {
		c := p.data[p.pos]
		if isDelimiterSpace(c) || c == '(' || c == ')' || c == '<' || c == '>' || c == '[' || c == ']' || c == '/' || c == '%' {
			break
		}
		p.pos++
	}
	return string(p.data[start:p.pos])
}

// readNumber consumes a number; inside a TJ array a large negative
// displacement stands for a word gap.
func (p *contentParser) readNumber() {
	start := p.pos
	p.pos++
	for p.pos < len(p.data) {
		c := p.data[p.pos]
		if c != '.' && (c < '0' || c > '9') {
			break
		}
		p.pos++
	}
	if !p.inArray {
		return
	}
	n := string(p.data[start:p.pos])
	if strings.HasPrefix(n, "-") && len(strings.SplitN(n[1:], ".", 2)[0]) >= 3 {
		p.array = append(p.array, " ")
	}
}

// readLiteral decodes a (...) string with nested parentheses and escapes.
func (p *contentParser) readLiteral() string {
	p.pos++ // (
	depth := 1
	var buf []byte
	for p.pos < len(p.data) {
		c := p.data[p.pos]
		p.pos++
		switch c {
		case '\\':
			if p.pos >= len(p.data) {
				break
			}
			e := p.data[p.pos]
			p.pos++
			switch e {
			case 'n':
				buf = append(buf, '\n')
			case 'r':
				buf = append(buf, '\r')
			case 't':
				buf = append(buf, '\t')
			case 'b', 'f':
				// drop
			case '\r', '\n':
				// line continuation
			default:
				if e >= '0' && e <= '7' {
					v := int(e - '0')
					for i := 0; i < 2 && p.pos < len(p.data); i++ {
						d := p.data[p.pos]
						if d < '0' || d > '7' {
							break
						}
						v = v*8 + int(d-'0')
						p.pos++
					}
					buf = append(buf, byte(v))
				} else {
					buf = append(buf, e)
				}
			}
		case '(':
			depth++
			buf = append(buf, c)
		case ')':
			depth--
			if depth == 0 {
				return decodePDFBytes(buf)
			}
			buf = append(buf, c)
		default:
			buf = append(buf, c)
		}
	}
	return decodePDFBytes(buf)
}

// readHex decodes a <...> hex string.
func (p *contentParser) readHex() string {
	p.pos++ // <
	var digits []byte
	for p.pos < len(p.data) && p.data[p.pos] != '>' {
		c := p.data[p.pos]
		if isHexDigit(c) {
			digits = append(digits, c)
		}
		p.pos++
	}
	p.pos++ // >
	if len(digits)%2 == 1 {
		digits = append(digits, '0')
	}
	buf := make([]byte, len(digits)/2)
	for i := range buf {
		buf[i] = hexVal(digits[2*i])<<4 | hexVal(digits[2*i+1])
	}
	return decodePDFBytes(buf)
}

// decodePDFBytes maps a PDF string to UTF-8: UTF-16BE with BOM, otherwise
// single-byte (PDFDocEncoding is close enough to Latin-1 for text recovery).
func decodePDFBytes(b []byte) string {
	if len(b) >= 2 && b[0] == 0xFE && b[1] == 0xFF {
		u := make([]uint16, 0, (len(b)-2)/2)
		for i := 2; i+1 < len(b); i += 2 {
			u = append(u, uint16(b[i])<<8|uint16(b[i+1]))
		}
		return string(utf16.Decode(u))
	}
	var sb strings.Builder
	sb.Grow(len(b))
	for _, c := range b {
		switch {
		case c == '\n' || c == '\r' || c == '\t':
			sb.WriteByte(' ')
		case c < 32:
			// control bytes from unmapped glyph ids
		case c < 128:
			sb.WriteByte(c)
		default:
			sb.WriteRune(rune(c))
		}
	}
	return sb.String()
}

func isDelimiterSpace(c byte) bool {
	return c == ' ' || c == '\n' || c == '\r' || c == '\t' || c == '\f' || c == 0 || c == ')' || c == '{' || c == '}'
}

func isHexDigit(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func hexVal(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10
	}
	return 0
}
