// Package raster renders PDF pages to bitmap images and performs the
// per-image operations of the scan-cleanup stage: thumbnailing,
// orientation correction and dark-border cropping. Rendering and
// orientation detection shell out to external engines (pdftoppm,
// tesseract); this package only owns their invocation contracts.
package raster

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/pdfnorm/pdfops"
	"github.com/hazyhaar/pdfnorm/workspace"
)

// Config configures an Exporter.
type Config struct {
	// ChunkSize is the number of pages per pdftoppm invocation
	// (default 10).
	ChunkSize int

	// MaxConcurrent bounds parallel tool invocations (default 4).
	MaxConcurrent int

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.ChunkSize <= 0 {
		c.ChunkSize = 10
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 4
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Exporter renders PDFs to page images.
type Exporter struct {
	cfg Config
}

// New creates an Exporter.
func New(cfg Config) *Exporter {
	cfg.defaults()
	return &Exporter{cfg: cfg}
}

// ExportImages renders every page of pdf into outDir as
// page_NNN.<format> at the given DPI. outDir is cleared first so stale
// pages from a prior run cannot survive. Returns immediately when the
// source PDF does not exist. Format is "png" or "jpeg".
func (e *Exporter) ExportImages(ctx context.Context, pdf, outDir string, dpi int, format string) error {
	if _, err := os.Stat(pdf); os.IsNotExist(err) {
		return nil
	}
	if err := workspace.ClearDir(outDir); err != nil {
		return fmt.Errorf("export images: %w", err)
	}

	total, err := countPages(ctx, pdf)
	if err != nil {
		return fmt.Errorf("export images: %w", err)
	}
	if total == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.MaxConcurrent)
	for start := 1; start <= total; start += e.cfg.ChunkSize {
		end := min(start+e.cfg.ChunkSize-1, total)
		g.Go(func() error {
			return renderChunk(gctx, pdf, outDir, dpi, format, start, end)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("export images from %s: %w", pdf, err)
	}

	return normalizePageNames(outDir, format)
}

// ExportFirstPage renders only page 1 of pdf to out, used for
// screenshot artifacts.
func (e *Exporter) ExportFirstPage(ctx context.Context, pdf, out string, dpi int) error {
	dir := filepath.Dir(out)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("export first page: %w", err)
	}
	scratch, err := os.MkdirTemp(dir, ".shot-*")
	if err != nil {
		return fmt.Errorf("export first page: %w", err)
	}
	defer os.RemoveAll(scratch)

	if err := renderChunk(ctx, pdf, scratch, dpi, "png", 1, 1); err != nil {
		return fmt.Errorf("export first page of %s: %w", pdf, err)
	}
	images, err := pdfops.ListImages(scratch, "png")
	if err != nil || len(images) == 0 {
		return fmt.Errorf("export first page of %s: no image produced", pdf)
	}
	return os.Rename(images[0], out)
}

// renderChunk rasterizes pages [start, end] with pdftoppm. Output files
// are named <outDir>/page-<n>.<ext> by the tool.
func renderChunk(ctx context.Context, pdf, outDir string, dpi int, format string, start, end int) error {
	flag := "-png"
	if format == "jpeg" || format == "jpg" {
		flag = "-jpeg"
	}
	cmd := exec.CommandContext(ctx, "pdftoppm",
		"-f", strconv.Itoa(start),
		"-l", strconv.Itoa(end),
		flag,
		"-r", strconv.Itoa(dpi),
		pdf,
		filepath.Join(outDir, "page"))
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("pdftoppm pages %d-%d: %w: %s", start, end, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// normalizePageNames renames pdftoppm's page-<n> outputs (whose zero
// padding varies with the document's page count) to the fixed-width
// page_NNN form that guarantees lexicographic page order up to 999.
func normalizePageNames(dir, format string) error {
	ext := format
	if ext == "jpeg" {
		ext = "jpg"
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("normalize page names: %w", err)
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "page-") {
			continue
		}
		stem := strings.TrimSuffix(name, filepath.Ext(name))
		n, err := strconv.Atoi(strings.TrimPrefix(stem, "page-"))
		if err != nil {
			continue
		}
		to := filepath.Join(dir, fmt.Sprintf("page_%03d.%s", n, ext))
		if err := os.Rename(filepath.Join(dir, name), to); err != nil {
			return fmt.Errorf("normalize page names: %w", err)
		}
	}
	return nil
}

// countPages prefers pdfcpu and falls back to pdfinfo for documents
// pdfcpu refuses to parse.
func countPages(ctx context.Context, pdf string) (int, error) {
	if n, err := pdfops.PageCount(pdf); err == nil {
		return n, nil
	}
	out, err := exec.CommandContext(ctx, "pdfinfo", pdf).Output()
	if err != nil {
		return 0, fmt.Errorf("pdfinfo %s: %w", pdf, err)
	}
	for _, line := range strings.Split(string(out), "\n") {
		if strings.HasPrefix(line, "Pages:") {
			n, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "Pages:")))
			if err != nil {
				break
			}
			return n, nil
		}
	}
	return 0, fmt.Errorf("pdfinfo %s: no page count in output", pdf)
}
