package extraction

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// ErrNoPagesRendered is returned when the renderer produced no images.
var ErrNoPagesRendered = fmt.Errorf("%w: no pages rendered", ErrUnsuitableInput)

// PdftoppmRenderer renders PDF pages to PNG with poppler's pdftoppm.
type PdftoppmRenderer struct {
	Binary   string
	DPI      int
	MaxPages int
}

// NewPdftoppmRenderer returns a renderer with defaults for unset values.
func NewPdftoppmRenderer(dpi, maxPages int) *PdftoppmRenderer {
	if dpi <= 0 {
		dpi = 200
	}
	if maxPages <= 0 {
		maxPages = 20
	}
	return &PdftoppmRenderer{Binary: "pdftoppm", DPI: dpi, MaxPages: maxPages}
}

// Available reports whether the pdftoppm binary is on PATH.
func (r *PdftoppmRenderer) Available() bool {
	return hasBinary(r.Binary)
}

// Render writes data to a temp dir, rasterizes up to MaxPages pages and
// returns the PNG bytes in page order.
func (r *PdftoppmRenderer) Render(ctx context.Context, data []byte) ([][]byte, error) {
	if !r.Available() {
		return nil, fmt.Errorf("%s not available", r.Binary)
	}

	dir, err := os.MkdirTemp("", "render-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	input := filepath.Join(dir, "input.pdf")
	if err := os.WriteFile(input, data, 0o600); err != nil {
		return nil, fmt.Errorf("write input: %w", err)
	}

	cmd := exec.CommandContext(ctx, r.Binary,
		"-png",
		"-r", strconv.Itoa(r.DPI),
		"-f", "1",
		"-l", strconv.Itoa(r.MaxPages),
		input, filepath.Join(dir, "page"),
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("pdftoppm failed: %v, stderr: %s", err, strings.TrimSpace(stderr.String()))
	}

	files, err := filepath.Glob(filepath.Join(dir, "page-*.png"))
	if err != nil {
		return nil, err
	}
	sortPageFiles(files)

	pages := make([][]byte, 0, len(files))
	for _, f := range files {
		b, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("read rendered page: %w", err)
		}
		pages = append(pages, b)
	}
	if len(pages) == 0 {
		return nil, ErrNoPagesRendered
	}
	return pages, nil
}

// sortPageFiles orders page-N.png names numerically. pdftoppm zero-pads
// N to the width of the page count, which breaks lexical order across runs.
func sortPageFiles(files []string) {
	num := func(path string) int {
		base := strings.TrimSuffix(filepath.Base(path), ".png")
		n, _ := strconv.Atoi(base[strings.LastIndex(base, "-")+1:])
		return n
	}
	sort.Slice(files, func(i, j int) bool { return num(files[i]) < num(files[j]) })
}

func hasBinary(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}
