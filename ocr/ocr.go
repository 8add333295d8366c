// Package ocr burns a recognized text layer onto a PDF through one of
// two external backends, or passes the document through untouched when
// OCR is disabled. Backend failures are fatal for the document: a
// scanned PDF delivered without a text layer silently breaks the
// searchable-output contract, so nothing here degrades.
package ocr

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/hazyhaar/pdfnorm/pdfops"
	"github.com/hazyhaar/pdfnorm/unpaper"
)

// Backend selects the OCR engine.
type Backend int

const (
	// BackendNone copies input to output byte-for-byte.
	BackendNone Backend = iota
	// BackendOCRmyPDF processes the whole document in one invocation.
	BackendOCRmyPDF
	// BackendTesseract OCRs each rasterized page image independently
	// and merges the per-page results in filename order.
	BackendTesseract
)

// ParseBackend converts a configuration string to a Backend.
func ParseBackend(s string) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return BackendNone, nil
	case "ocrmypdf":
		return BackendOCRmyPDF, nil
	case "tesseract":
		return BackendTesseract, nil
	default:
		return BackendNone, fmt.Errorf("unknown ocr backend %q (none, ocrmypdf, tesseract)", s)
	}
}

func (b Backend) String() string {
	switch b {
	case BackendOCRmyPDF:
		return "ocrmypdf"
	case BackendTesseract:
		return "tesseract"
	default:
		return "none"
	}
}

// Options carries the per-document OCR settings.
type Options struct {
	// Languages is the tesseract language tag list, e.g. "eng+deu".
	Languages string

	// Layout/OutputPages mirror the scan-cleanup filter's shaping
	// options; the whole-document backend forwards layout to its own
	// embedded filter pass.
	Layout      unpaper.Layout
	OutputPages unpaper.OutputPages

	// Rotated is set when the cleanup stage already corrected page
	// orientation; the whole-document backend then skips its own
	// auto-rotation so a page is never turned twice.
	Rotated bool

	// FilterRan is set when the external cleanup filter actually
	// processed the images. Without it the backend's clean/clean-final
	// options stay off: they assume filter-cleaned input and would
	// otherwise "clean" content that was never cleaned.
	FilterRan bool

	// Debug keeps the backend's temporary files for inspection.
	Debug bool
}

// Config configures a Runner.
type Config struct {
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Runner invokes OCR backends.
type Runner struct {
	cfg Config
}

// New creates a Runner.
func New(cfg Config) *Runner {
	cfg.defaults()
	return &Runner{cfg: cfg}
}

// Run produces out from in using the selected backend. imagesDir must
// hold the rasterized page images when the per-image backend is used.
func (r *Runner) Run(ctx context.Context, backend Backend, in, out, imagesDir string, opts Options) error {
	if opts.Languages == "" {
		opts.Languages = "eng"
	}
	switch backend {
	case BackendOCRmyPDF:
		return r.runOCRmyPDF(ctx, in, out, opts)
	case BackendTesseract:
		return r.runTesseract(ctx, imagesDir, out, opts)
	case BackendNone:
		if err := pdfops.CopyFile(in, out); err != nil {
			return fmt.Errorf("ocr passthrough: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("ocr: unknown backend %d", backend)
	}
}

// OCRmyPDFArgs builds the whole-document backend's argument list.
// Exported separately from the invocation so the option interplay
// (rotation suppression, degraded-mode clean gating, page-split
// exclusivity) is testable without the tool installed.
func OCRmyPDFArgs(in, out string, opts Options) []string {
	args := []string{
		"--language", opts.Languages,
		"--force-ocr",
		"--deskew",
		"--optimize", "3",
		"--fast-web-view", "0.75",
		"--output-type", "pdf",
		"--continue-on-soft-render-error",
	}

	// The engine cannot express page splitting together with layout
	// shaping or fixed pre-rotation; splitting wins and the rest is
	// suppressed for this backend.
	layout := opts.Layout
	if opts.OutputPages != 0 {
		layout = unpaper.LayoutNone
	}

	if !opts.Rotated {
		args = append(args, "--rotate-pages")
	}
	if opts.FilterRan {
		args = append(args, "--clean", "--clean-final")
		if ua := unpaper.Args(unpaper.Options{Layout: layout}, false); len(ua) > 0 {
			args = append(args, "--unpaper-args", strings.Join(ua, " "))
		}
	}
	if opts.Debug {
		args = append(args, "--keep-temporary-files")
	} else {
		args = append(args, "-q")
	}
	return append(args, in, out)
}

func (r *Runner) runOCRmyPDF(ctx context.Context, in, out string, opts Options) error {
	args := OCRmyPDFArgs(in, out, opts)
	r.cfg.Logger.Debug("ocr: running ocrmypdf", "args", strings.Join(args, " "))

	cmd := exec.CommandContext(ctx, "ocrmypdf", args...)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("ocrmypdf %s: %w: %s", in, err, strings.TrimSpace(string(output)))
	}
	return nil
}

// runTesseract OCRs each page image to a single-page PDF and merges
// the parts in filename-sorted order.
func (r *Runner) runTesseract(ctx context.Context, imagesDir, out string, opts Options) error {
	images, err := pdfops.ListImages(imagesDir, "png")
	if err != nil {
		return fmt.Errorf("ocr per-image: %w", err)
	}
	if len(images) == 0 {
		return fmt.Errorf("ocr per-image: no page images in %s", imagesDir)
	}

	scratch, err := os.MkdirTemp(filepath.Dir(out), ".ocr-*")
	if err != nil {
		return fmt.Errorf("ocr per-image: %w", err)
	}
	defer os.RemoveAll(scratch)

	parts := make([]string, 0, len(images))
	for _, img := range images {
		stem := strings.TrimSuffix(filepath.Base(img), filepath.Ext(img))
		base := filepath.Join(scratch, stem)

		cmd := exec.CommandContext(ctx, "tesseract", img, base, "-l", opts.Languages, "pdf")
		if output, err := cmd.CombinedOutput(); err != nil {
			return fmt.Errorf("tesseract %s: %w: %s", img, err, strings.TrimSpace(string(output)))
		}
		parts = append(parts, base+".pdf")
	}

	if err := pdfops.MergePDFs(parts, out); err != nil {
		return fmt.Errorf("ocr per-image: %w", err)
	}
	return nil
}
