package extraction

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
)

type fakeBackend struct {
	result OCRResult
	err    error
	delay  time.Duration
	panics bool
	calls  atomic.Int32
}

func (f *fakeBackend) Extract(ctx context.Context, _ RawDocument) (OCRResult, error) {
	f.calls.Add(1)
	if f.panics {
		panic("backend exploded")
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return OCRResult{}, ctx.Err()
		}
	}
	return f.result, f.err
}

var scannedText = strings.Repeat("The deponent stated under oath that the contract was signed on March 3. ", 4)

func TestChain_FallsBackAfterTimeout(t *testing.T) {
	slow := &fakeBackend{delay: 5 * time.Second, result: OCRResult{Text: scannedText, Confidence: 0.95}}
	vision := &fakeBackend{result: OCRResult{Text: scannedText, Confidence: 0.85, PageCount: 2}}
	later := &fakeBackend{result: OCRResult{Text: scannedText, Confidence: 0.9}}

	chain := NewChain(nil, nil,
		Stage{Name: "gemini-document", Backend: slow, Accept: MinLengthAndConfidence(50, 0.7), Timeout: 50 * time.Millisecond},
		Stage{Name: "openai-vision", Backend: vision, Accept: MinLength(30), Timeout: time.Second},
		Stage{Name: "ocr-service", Backend: later, Timeout: time.Second},
	)

	start := time.Now()
	res, err := chain.Run(context.Background(), NewRawDocument("scan.pdf", nil))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("stage timeout was not enforced")
	}
	if res.Stage != "openai-vision" {
		t.Errorf("Stage = %q, want openai-vision", res.Stage)
	}
	if len(res.Rejected) != 1 || res.Rejected[0].Stage != "gemini-document" {
		t.Fatalf("Rejected = %+v", res.Rejected)
	}
	if !errors.Is(res.Rejected[0].Err, context.DeadlineExceeded) {
		t.Errorf("rejected error = %v, want deadline exceeded", res.Rejected[0].Err)
	}
	if later.calls.Load() != 0 {
		t.Error("stages after the accepted one must not run")
	}
}

func TestChain_AcceptanceRejectsLowConfidence(t *testing.T) {
	low := &fakeBackend{result: OCRResult{Text: scannedText, Confidence: 0.5}}
	next := &fakeBackend{result: OCRResult{Text: scannedText, Confidence: 0.6}}
	chain := NewChain(nil, nil,
		Stage{Name: "gemini-document", Backend: low, Accept: MinLengthAndConfidence(50, 0.7)},
		Stage{Name: "tesseract", Backend: next, Accept: MinLength(30)},
	)
	res, err := chain.Run(context.Background(), NewRawDocument("scan.pdf", nil))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Stage != "tesseract" {
		t.Errorf("Stage = %q", res.Stage)
	}
	if !strings.Contains(res.Rejected[0].Error(), "rejected") {
		t.Errorf("rejection reason = %q", res.Rejected[0].Error())
	}
}

func TestChain_AllRejected(t *testing.T) {
	chain := NewChain(nil, nil,
		Stage{Name: "a", Backend: &fakeBackend{err: errors.New("quota exceeded")}},
		Stage{Name: "b", Backend: &fakeBackend{result: OCRResult{Text: "too short"}}},
		Stage{Name: "c", Backend: &fakeBackend{panics: true}},
	)
	_, err := chain.Run(context.Background(), NewRawDocument("scan.pdf", nil))
	if !errors.Is(err, ErrChainExhausted) {
		t.Fatalf("err = %v, want ErrChainExhausted", err)
	}
	var chainErr *ChainError
	if !errors.As(err, &chainErr) {
		t.Fatalf("err is not a *ChainError")
	}
	if len(chainErr.Rejected) != 3 {
		t.Fatalf("Rejected = %d, want 3", len(chainErr.Rejected))
	}
	if !strings.Contains(chainErr.Rejected[2].Error(), "panic") {
		t.Errorf("panic not reported: %v", chainErr.Rejected[2])
	}
}

func TestChain_StopsOnParentCancel(t *testing.T) {
	first := &fakeBackend{delay: time.Second}
	second := &fakeBackend{result: OCRResult{Text: scannedText}}
	chain := NewChain(nil, nil,
		Stage{Name: "a", Backend: first},
		Stage{Name: "b", Backend: second},
	)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := chain.Run(ctx, NewRawDocument("scan.pdf", nil))
	if !errors.Is(err, ErrChainExhausted) {
		t.Fatalf("err = %v", err)
	}
	if second.calls.Load() != 0 {
		t.Error("chain continued after the parent context was cancelled")
	}
}

func TestChain_DropsStagesWithoutBackend(t *testing.T) {
	chain := NewChain(nil, nil,
		Stage{Name: "unconfigured"},
		Stage{Name: "tesseract", Backend: &fakeBackend{}},
	)
	if got := chain.Stages(); len(got) != 1 || got[0] != "tesseract" {
		t.Errorf("Stages() = %v", got)
	}
}

func TestOCRExtractor(t *testing.T) {
	t.Run("accepted stage", func(t *testing.T) {
		chain := NewChain(nil, nil,
			Stage{Name: "a", Backend: &fakeBackend{err: errors.New("down")}},
			Stage{Name: "b", Backend: &fakeBackend{result: OCRResult{Text: scannedText, Confidence: 0.85, PageCount: 2}}},
		)
		a := NewOCRExtractor(chain, nil).Attempt(context.Background(), NewRawDocument("scan.pdf", nil))
		if !a.IsValid || a.Method != MethodOCR {
			t.Fatalf("attempt = %+v", a)
		}
		if a.Confidence != 0.85 || a.PageCount != 2 {
			t.Errorf("Confidence = %v, PageCount = %d", a.Confidence, a.PageCount)
		}
		if !strings.Contains(a.Details, "stage b accepted") || !strings.Contains(a.Details, "a: down") {
			t.Errorf("Details = %q", a.Details)
		}
	})

	t.Run("exhausted chain", func(t *testing.T) {
		chain := NewChain(nil, nil, Stage{Name: "a", Backend: &fakeBackend{err: errors.New("down")}})
		a := NewOCRExtractor(chain, nil).Attempt(context.Background(), NewRawDocument("scan.pdf", nil))
		if a.IsValid || a.Quality != 0 || a.Confidence != 0 {
			t.Errorf("attempt = %+v", a)
		}
		if len(a.Issues) != 1 || !strings.Contains(a.Issues[0], "down") {
			t.Errorf("Issues = %v", a.Issues)
		}
	})

	t.Run("no stages", func(t *testing.T) {
		a := NewOCRExtractor(NewChain(nil, nil), nil).Attempt(context.Background(), NewRawDocument("scan.pdf", nil))
		if a.IsValid {
			t.Error("empty chain must produce an invalid attempt")
		}
	})
}

type fakeImageReader struct {
	gotImages int
	gotFormat string
	text      string
}

func (f *fakeImageReader) ExtractImages(_ context.Context, images [][]byte, format string) (string, error) {
	f.gotImages = len(images)
	f.gotFormat = format
	return f.text, nil
}

type fakeRenderer struct{ pages int }

func (f fakeRenderer) Render(context.Context, []byte) ([][]byte, error) {
	out := make([][]byte, f.pages)
	for i := range out {
		out[i] = []byte{0x89, 'P', 'N', 'G'}
	}
	return out, nil
}

func TestEmbeddedImageBackend(t *testing.T) {
	reader := &fakeImageReader{text: "  transcribed  "}
	b := &EmbeddedImageBackend{Reader: reader}

	res, err := b.Extract(context.Background(), NewRawDocument("scan.pdf", buildImageOnlyPDF(2)))
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if reader.gotImages != 2 || reader.gotFormat != "jpeg" {
		t.Errorf("reader got %d images as %q", reader.gotImages, reader.gotFormat)
	}
	if res.Text != "transcribed" || res.PageCount != 2 || res.Confidence != 0.85 {
		t.Errorf("result = %+v", res)
	}

	_, err = b.Extract(context.Background(), NewRawDocument("text.pdf", buildTextPDF("hello")))
	if !errors.Is(err, ErrNoEmbeddedImages) {
		t.Errorf("err = %v, want ErrNoEmbeddedImages", err)
	}
}

func TestRenderedVisionBackend(t *testing.T) {
	reader := &fakeImageReader{text: "page text"}
	b := &RenderedVisionBackend{Renderer: fakeRenderer{pages: 3}, Reader: reader}
	res, err := b.Extract(context.Background(), NewRawDocument("scan.pdf", nil))
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if reader.gotFormat != "png" || res.PageCount != 3 {
		t.Errorf("format %q, pages %d", reader.gotFormat, res.PageCount)
	}
}

func TestParseTesseractTSV(t *testing.T) {
	tsv := "level\tpage_num\tblock_num\tpar_num\tline_num\tword_num\tleft\ttop\twidth\theight\tconf\ttext\n" +
		"1\t1\t0\t0\t0\t0\t0\t0\t100\t100\t-1\t\n" +
		"5\t1\t1\t1\t1\t1\t0\t0\t10\t10\t90\tHello\n" +
		"5\t1\t1\t1\t1\t2\t0\t0\t10\t10\t80\tworld\n" +
		"5\t1\t1\t1\t2\t1\t0\t0\t10\t10\t70\tAgain\n" +
		"5\t1\t1\t1\t2\t2\t0\t0\t10\t10\t-1\t \n"

	text, sum, n := parseTesseractTSV(tsv)
	if text != "Hello world\nAgain" {
		t.Errorf("text = %q", text)
	}
	if n != 3 || sum != 240 {
		t.Errorf("sum = %v, n = %d", sum, n)
	}
}

func TestSortPageFiles(t *testing.T) {
	files := []string{"/tmp/page-10.png", "/tmp/page-2.png", "/tmp/page-1.png"}
	sortPageFiles(files)
	want := []string{"/tmp/page-1.png", "/tmp/page-2.png", "/tmp/page-10.png"}
	for i := range want {
		if files[i] != want[i] {
			t.Fatalf("sortPageFiles() = %v", files)
		}
	}
}

func TestChain_DigitalPDFsDoNotOpenVisionBreaker(t *testing.T) {
	reader := &fakeImageReader{text: scannedText}
	chain := NewChain(nil, nil, Stage{
		Name:    "openai-vision",
		Backend: &EmbeddedImageBackend{Reader: reader},
		Accept:  MinLength(30),
	})

	for i := 0; i < 5; i++ {
		_, err := chain.Run(context.Background(), NewRawDocument("digital.pdf", buildTextPDF("Plain text layer.")))
		var chainErr *ChainError
		if !errors.As(err, &chainErr) || !errors.Is(chainErr.Rejected[0].Err, ErrNoEmbeddedImages) {
			t.Fatalf("run %d: err = %v, want ErrNoEmbeddedImages", i, err)
		}
	}

	res, err := chain.Run(context.Background(), NewRawDocument("scan.pdf", buildImageOnlyPDF(2)))
	if err != nil {
		t.Fatalf("scanned PDF rejected after digital PDFs: %v", err)
	}
	if res.Stage != "openai-vision" || reader.gotImages != 2 {
		t.Errorf("stage %q, images %d", res.Stage, reader.gotImages)
	}
}

func TestChain_BackendFailuresOpenBreaker(t *testing.T) {
	down := &fakeBackend{err: errors.New("503 from upstream")}
	chain := NewChain(nil, nil, Stage{Name: "ocr-service", Backend: down})

	for i := 0; i < 3; i++ {
		chain.Run(context.Background(), NewRawDocument("scan.pdf", nil))
	}
	_, err := chain.Run(context.Background(), NewRawDocument("scan.pdf", nil))
	var chainErr *ChainError
	if !errors.As(err, &chainErr) || !errors.Is(chainErr.Rejected[0].Err, gobreaker.ErrOpenState) {
		t.Fatalf("err = %v, want open breaker", err)
	}
	if got := down.calls.Load(); got != 3 {
		t.Errorf("backend calls = %d, want 3", got)
	}
}

type failingRenderer struct{ err error }

func (f failingRenderer) Render(context.Context, []byte) ([][]byte, error) {
	return nil, f.err
}

func TestRenderedVisionBackend_RenderFailureIsInputError(t *testing.T) {
	b := &RenderedVisionBackend{
		Renderer: failingRenderer{err: errors.New("pdftoppm failed: exit status 1, stderr: Syntax Error")},
		Reader:   &fakeImageReader{},
	}
	_, err := b.Extract(context.Background(), NewRawDocument("corrupt.pdf", []byte("%PDF-garbage")))
	if !errors.Is(err, ErrUnsuitableInput) {
		t.Errorf("err = %v, want ErrUnsuitableInput", err)
	}
	if backendHealthy(errors.New("timeout talking to model")) {
		t.Error("backend errors must count against the breaker")
	}
	if !backendHealthy(ErrNoPagesRendered) || !backendHealthy(context.Canceled) {
		t.Error("input and cancellation errors must not count against the breaker")
	}
}
