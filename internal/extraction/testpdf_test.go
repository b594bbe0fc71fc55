package extraction

import (
	"bytes"
	"compress/zlib"
	"strconv"
	"strings"
)

// --- PDF test helpers ---

type pdfBuilder struct {
	objects []string
}

func (p *pdfBuilder) add(body string) int {
	p.objects = append(p.objects, body)
	return len(p.objects)
}

func (p *pdfBuilder) set(num int, body string) {
	p.objects[num-1] = body
}

// bytes serializes the objects with a correct xref table. Object 1 must be
// the catalog.
func (p *pdfBuilder) bytes() []byte {
	var b bytes.Buffer
	b.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(p.objects)+1)
	for i, body := range p.objects {
		offsets[i+1] = b.Len()
		b.WriteString(strconv.Itoa(i+1) + " 0 obj\n" + body + "\nendobj\n")
	}
	xref := b.Len()
	b.WriteString("xref\n0 " + strconv.Itoa(len(p.objects)+1) + "\n")
	b.WriteString("0000000000 65535 f \n")
	for i := 1; i <= len(p.objects); i++ {
		b.WriteString(padOffset(offsets[i]) + " 00000 n \n")
	}
	b.WriteString("trailer\n<< /Size " + strconv.Itoa(len(p.objects)+1) + " /Root 1 0 R >>\nstartxref\n")
	b.WriteString(strconv.Itoa(xref))
	b.WriteString("\n%%EOF\n")
	return b.Bytes()
}

func padOffset(n int) string {
	s := strconv.Itoa(n)
	for len(s) < 10 {
		s = "0" + s
	}
	return s
}

func escapePDFText(text string) string {
	r := strings.NewReplacer(`\`, `\\`, "(", `\(`, ")", `\)`)
	return r.Replace(text)
}

func textContent(text string) string {
	var sb strings.Builder
	sb.WriteString("BT\n/F1 11 Tf\n72 720 Td\n14 TL\n")
	for i, line := range strings.Split(text, "\n") {
		if i > 0 {
			sb.WriteString("T*\n")
		}
		sb.WriteString("(" + escapePDFText(line) + ") Tj\n")
	}
	sb.WriteString("ET")
	return sb.String()
}

// buildTextPDF creates a PDF with one page per entry in pages.
func buildTextPDF(pages ...string) []byte {
	return buildPDF(false, pages...)
}

// buildFlateTextPDF is buildTextPDF with FlateDecode content streams.
func buildFlateTextPDF(pages ...string) []byte {
	return buildPDF(true, pages...)
}

func buildPDF(compress bool, pages ...string) []byte {
	p := &pdfBuilder{}
	p.add("") // catalog
	pagesObj := p.add("")
	font := p.add("<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>")

	var kids []string
	for _, text := range pages {
		content := textContent(text)
		var stream string
		if compress {
			var z bytes.Buffer
			w := zlib.NewWriter(&z)
			w.Write([]byte(content))
			w.Close()
			stream = "<< /Length " + strconv.Itoa(z.Len()) + " /Filter /FlateDecode >>\nstream\n" + z.String() + "\nendstream"
		} else {
			stream = "<< /Length " + strconv.Itoa(len(content)) + " >>\nstream\n" + content + "\nendstream"
		}
		contentObj := p.add(stream)
		page := p.add("<< /Type /Page /Parent " + strconv.Itoa(pagesObj) + " 0 R /MediaBox [0 0 612 792] /Contents " +
			strconv.Itoa(contentObj) + " 0 R /Resources << /Font << /F1 " + strconv.Itoa(font) + " 0 R >> >> >>")
		kids = append(kids, strconv.Itoa(page)+" 0 R")
	}

	p.set(1, "<< /Type /Catalog /Pages "+strconv.Itoa(pagesObj)+" 0 R >>")
	p.set(pagesObj, "<< /Type /Pages /Kids ["+strings.Join(kids, " ")+"] /Count "+strconv.Itoa(len(pages))+" >>")
	return p.bytes()
}

// buildImageOnlyPDF creates a scanned-looking PDF: one JPEG XObject per page
// and no text operators.
func buildImageOnlyPDF(pageCount int) []byte {
	img := "\xff\xd8\xff\xe0\x00\x10JFIF\x00\xff\xd9"
	draw := "q 612 0 0 792 0 0 cm /Im1 Do Q"

	p := &pdfBuilder{}
	p.add("")
	pagesObj := p.add("")
	var kids []string
	for i := 0; i < pageCount; i++ {
		imgObj := p.add("<< /Type /XObject /Subtype /Image /Width 1 /Height 1 /ColorSpace /DeviceRGB /BitsPerComponent 8 /Filter /DCTDecode /Length " +
			strconv.Itoa(len(img)) + " >>\nstream\n" + img + "\nendstream")
		contentObj := p.add("<< /Length " + strconv.Itoa(len(draw)) + " >>\nstream\n" + draw + "\nendstream")
		page := p.add("<< /Type /Page /Parent " + strconv.Itoa(pagesObj) + " 0 R /MediaBox [0 0 612 792] /Resources << /XObject << /Im1 " +
			strconv.Itoa(imgObj) + " 0 R >> >> /Contents " + strconv.Itoa(contentObj) + " 0 R >>")
		kids = append(kids, strconv.Itoa(page)+" 0 R")
	}
	p.set(1, "<< /Type /Catalog /Pages "+strconv.Itoa(pagesObj)+" 0 R >>")
	p.set(pagesObj, "<< /Type /Pages /Kids ["+strings.Join(kids, " ")+"] /Count "+strconv.Itoa(pageCount)+" >>")
	return p.bytes()
}

const agreementText = `SERVICES AGREEMENT
This Services Agreement is entered into by and between Acme Holdings Inc. and Baker Legal LLP.
Section 1. The Provider shall deliver the services described in Schedule A pursuant to the terms herein.
Section 2. The Client shall pay all invoices within thirty days of receipt.
Section 3. This Agreement shall be governed by the laws of the State of New York and each party submits to its jurisdiction.`
