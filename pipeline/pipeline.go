// Package pipeline orchestrates PDF normalization: classify each
// document, route it through a conditional stage sequence (page
// extraction, scan cleanup, OCR, page skip, raster/text export,
// identifier detection) and publish a canonical searchable PDF plus
// side artifacts into the output tree.
//
// Stage order is data-dependency order and is written out as an
// explicit list in Process, not assembled from scattered branching:
// each stage carries its own enabled predicate and returns the
// tri-state StageResult contract (artifact, no-op, or error).
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hazyhaar/pdfnorm/classify"
	"github.com/hazyhaar/pdfnorm/fetch"
	"github.com/hazyhaar/pdfnorm/journal"
	"github.com/hazyhaar/pdfnorm/ocr"
	"github.com/hazyhaar/pdfnorm/pageset"
	"github.com/hazyhaar/pdfnorm/pdfops"
	"github.com/hazyhaar/pdfnorm/raster"
	"github.com/hazyhaar/pdfnorm/textout"
	"github.com/hazyhaar/pdfnorm/unpaper"
	"github.com/hazyhaar/pdfnorm/workspace"
)

// Options is the fully-resolved per-document configuration. Selector
// strings are parsed up front against the document's page count, so a
// malformed selector fails before any external tool runs.
type Options struct {
	// Policy selects the classification heuristic.
	Policy classify.Policy

	// Backend selects the OCR engine for scanned documents.
	Backend ocr.Backend

	// Languages is the OCR language tag list, e.g. "eng+deu". Default "eng".
	Languages string

	// ExtractPages restricts processing to a page subset before the
	// pipeline runs. SkipPages removes pages after OCR. Page-range
	// expressions per the selector grammar ("1-3,5", "7-").
	ExtractPages string
	SkipPages    string

	// DPI controls raster resolution for scan cleanup and image export.
	// Default 300.
	DPI int

	// Scan-cleanup filter shaping.
	Layout      unpaper.Layout
	OutputPages unpaper.OutputPages
	PreRotate   int

	// RemoveBackground enables the dark-margin crop pass.
	RemoveBackground bool

	// Export toggles, independent of each other.
	ExportImages bool
	ExportThumbs bool
	ExportText   bool
	DetectDOIs   bool

	// ImageFormat for exported page images (png or jpg). Default png.
	ImageFormat string

	// ThumbSize is the thumbnail bounding box in pixels. Default 256.
	ThumbSize int

	// Marker nests the output under the input's subdirectory structure
	// below this path prefix. Empty = flat output root.
	Marker string

	// Debug preserves intermediate artifacts and raises verbosity. It
	// never changes processing results.
	Debug bool

	// ClearTemp wipes the temp root before the run, best-effort.
	ClearTemp bool
}

func (o *Options) normalize() error {
	if o.Languages == "" {
		o.Languages = "eng"
	}
	if o.DPI <= 0 {
		o.DPI = 300
	}
	if o.ImageFormat == "" {
		o.ImageFormat = "png"
	}
	if o.ThumbSize <= 0 {
		o.ThumbSize = 256
	}
	if !o.OutputPages.Valid() {
		return fmt.Errorf("output-pages must be 0, 1 or 2, got %d", o.OutputPages)
	}
	return nil
}

// Input names the document to process: a local path or a URL, exactly
// one of the two.
type Input struct {
	Path string `json:"path,omitempty"`
	URL  string `json:"url,omitempty"`
}

func (in Input) validate() error {
	if (in.Path == "") == (in.URL == "") {
		return fmt.Errorf("exactly one of path or url must be set")
	}
	return nil
}

// Config configures a Pipeline.
type Config struct {
	// TempDir/OutputDir/DefaultOutput feed the workspace resolution
	// order (override > environment > default).
	TempDir       string
	OutputDir     string
	DefaultOutput string

	// JournalPath enables the stage-run journal. Empty = no journal.
	JournalPath string

	// ChromeURL is the WebSocket URL of an external Chrome for URL
	// inputs. Empty = launch locally on first use.
	ChromeURL string

	// MaxConcurrent bounds per-image parallelism. Default 4.
	MaxConcurrent int

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 4
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Pipeline is the document normalization engine.
type Pipeline struct {
	cfg        Config
	logger     *slog.Logger
	classifier *classify.Classifier
	raster     *raster.Exporter
	ocr        *ocr.Runner
	textout    *textout.Exporter
	fetcher    *fetch.Fetcher
	journal    *journal.Journal
}

// New creates a Pipeline. The browser for URL inputs is not launched
// until the first URL is processed.
func New(cfg Config) (*Pipeline, error) {
	cfg.defaults()

	p := &Pipeline{
		cfg:        cfg,
		logger:     cfg.Logger,
		classifier: classify.New(classify.Config{Logger: cfg.Logger}),
		raster:     raster.New(raster.Config{MaxConcurrent: cfg.MaxConcurrent, Logger: cfg.Logger}),
		ocr:        ocr.New(ocr.Config{Logger: cfg.Logger}),
		textout:    textout.New(textout.Config{Logger: cfg.Logger}),
		fetcher:    fetch.New(fetch.Config{RemoteURL: cfg.ChromeURL, Logger: cfg.Logger}),
	}

	if cfg.JournalPath != "" {
		j, err := journal.Open(cfg.JournalPath, cfg.Logger)
		if err != nil {
			return nil, fmt.Errorf("pipeline: %w", err)
		}
		p.journal = j
	}
	return p, nil
}

// Close releases the browser and the journal.
func (p *Pipeline) Close() error {
	p.fetcher.Close()
	if p.journal != nil {
		return p.journal.Close()
	}
	return nil
}

// StageStatus is the tri-state outcome of one stage.
type StageStatus string

const (
	StageDone    StageStatus = "done"
	StageNoop    StageStatus = "noop"
	StageResumed StageStatus = "resumed"
)

// StageResult is what a stage run reports back to the orchestrator.
// The orchestrator never inspects stage internals beyond this.
type StageResult struct {
	Status   StageStatus `json:"status"`
	Artifact string      `json:"artifact,omitempty"`
}

func done(artifact string) (StageResult, error) {
	return StageResult{Status: StageDone, Artifact: artifact}, nil
}

func noop() (StageResult, error) {
	return StageResult{Status: StageNoop}, nil
}

// StageOutcome records one executed stage in the Result.
type StageOutcome struct {
	Name string `json:"name"`
	StageResult
}

// Result summarizes a completed (or failed) document run.
type Result struct {
	Input          string         `json:"input"`
	OutputDir      string         `json:"output_dir"`
	OutputPDF      string         `json:"output_pdf"`
	Classification classify.Kind  `json:"classification"`
	Pages          int            `json:"pages"`
	DOIs           []string       `json:"dois,omitempty"`
	FilterRan      bool           `json:"filter_ran"`
	Rotated        bool           `json:"rotated"`
	CroppedImages  int            `json:"cropped_images,omitempty"`
	Screenshot     string         `json:"screenshot,omitempty"`
	Stages         []StageOutcome `json:"stages"`
	Error          string         `json:"error,omitempty"`
	FinishedAt     time.Time      `json:"finished_at"`
}

// docState is the mutable per-document state threaded through stages.
type docState struct {
	input string // resolved local PDF path
	stem  string // filename without extension
	fp    string // workspace fingerprint

	work   string // working PDF, mutated in place by stages
	outDir string
	outPDF string

	kind      classify.Kind
	pages     int
	keep      pageset.PageSet
	skip      pageset.PageSet
	filterRan bool
	rotated   bool
	cropped   int

	// cleanedImages holds the scan-cleanup result image set, consumed
	// by the per-image OCR backend.
	cleanedImages string

	texts map[int]string
	dois  []string
}

type stage struct {
	name      string
	enabled   func(*docState) bool
	journaled bool
	run       func(context.Context, *docState) (StageResult, error)
}

// Process runs the full pipeline over one input and returns the
// Result. On a stage error the metadata sidecar is still written
// best-effort, so a failed run leaves a diagnosable trace in the
// output tree.
func (p *Pipeline) Process(ctx context.Context, in Input, opts Options) (*Result, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	if err := opts.normalize(); err != nil {
		return nil, err
	}

	ws, err := workspace.New(workspace.Config{
		TempDir:       p.cfg.TempDir,
		OutputDir:     p.cfg.OutputDir,
		DefaultOutput: p.cfg.DefaultOutput,
		Logger:        p.logger,
	}, opts.ClearTemp)
	if err != nil {
		return nil, err
	}
	if !opts.Debug {
		defer ws.Close()
	}

	result := &Result{}

	st, err := p.prepare(ctx, in, opts, ws, result)
	if err != nil {
		return nil, err
	}

	result.Input = st.input
	result.OutputDir = st.outDir
	result.OutputPDF = st.outPDF

	var run *journal.Run
	if p.journal != nil {
		run = p.journal.Begin(st.fp)
	}

	stages := p.stages(opts, ws)

	for _, s := range stages {
		if !s.enabled(st) {
			continue
		}
		res, err := p.runStage(ctx, s, st, run)
		if err != nil {
			result.Error = fmt.Sprintf("stage %s: %v", s.name, err)
			p.finish(st, result)
			return result, fmt.Errorf("stage %s: %w", s.name, err)
		}
		result.Stages = append(result.Stages, StageOutcome{Name: s.name, StageResult: res})
	}

	p.finish(st, result)
	return result, nil
}

// prepare resolves the input to a local PDF, computes the output
// location and parses the page selectors. Everything here is
// fail-fast: no external processing tool has run yet.
func (p *Pipeline) prepare(ctx context.Context, in Input, opts Options, ws *workspace.Workspace, result *Result) (*docState, error) {
	input := in.Path
	if in.URL != "" {
		scratch, err := ws.Scratch(workspace.Fingerprint(in.URL))
		if err != nil {
			return nil, err
		}
		pdf, err := p.fetcher.SavePageAsPDF(ctx, in.URL, scratch)
		if err != nil {
			return nil, err
		}
		input = pdf
	}

	abs, err := filepath.Abs(input)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", input, err)
	}
	if _, err := os.Stat(abs); err != nil {
		return nil, fmt.Errorf("input: %w", err)
	}

	outRoot, err := ws.OutputRoot()
	if err != nil {
		return nil, err
	}
	outDir := outRoot
	if opts.Marker != "" {
		outDir, err = workspace.RelativeOutput(abs, opts.Marker, outRoot)
		if err != nil {
			return nil, err
		}
	}

	base := filepath.Base(abs)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	fp := workspace.Fingerprint(abs, outDir)

	// A fetched document keeps a visual record of what the browser saw.
	if in.URL != "" && opts.ExportImages {
		shot := filepath.Join(outDir, stem+".screenshot.png")
		if err := fetch.ScreenshotFirstPage(ctx, abs, shot, opts.DPI, p.logger); err != nil {
			p.logger.Warn("pipeline: screenshot failed", "url", in.URL, "error", err)
		} else {
			result.Screenshot = shot
		}
	}

	pages, err := pdfops.PageCount(abs)
	if err != nil {
		return nil, err
	}

	var keep, skip pageset.PageSet
	if opts.ExtractPages != "" {
		if keep, err = pageset.Parse(opts.ExtractPages, pages); err != nil {
			return nil, fmt.Errorf("extract selector: %w", err)
		}
	}
	if opts.SkipPages != "" {
		if skip, err = pageset.Parse(opts.SkipPages, pages); err != nil {
			return nil, fmt.Errorf("skip selector: %w", err)
		}
	}

	work := ws.TempFile(fp, stem, ".work.pdf")
	if err := pdfops.CopyFile(abs, work); err != nil {
		return nil, err
	}

	return &docState{
		input:  abs,
		stem:   stem,
		fp:     fp,
		work:   work,
		outDir: outDir,
		outPDF: filepath.Join(outDir, base),
		pages:  pages,
		keep:   keep,
		skip:   skip,
	}, nil
}

// stages is the explicit ordered stage list. Order is data-dependency
// order: classification gates cleanup and OCR, extraction narrows the
// working set before them, the skip selector applies after OCR so
// recognized text is never lost to an early cut, and exports read the
// published document.
func (p *Pipeline) stages(opts Options, ws *workspace.Workspace) []stage {
	always := func(*docState) bool { return true }
	scanned := func(st *docState) bool { return st.kind == classify.KindScanned }

	return []stage{
		{
			name:    "classify",
			enabled: always,
			run: func(_ context.Context, st *docState) (StageResult, error) {
				kind, err := p.classifier.Classify(st.work, opts.Policy)
				if err != nil {
					return StageResult{}, err
				}
				st.kind = kind
				p.logger.Info("pipeline: classified", "input", st.input, "kind", kind)
				return done(string(kind))
			},
		},
		{
			name:    "extract",
			enabled: func(st *docState) bool { return len(st.keep) > 0 },
			run: func(_ context.Context, st *docState) (StageResult, error) {
				// The pre-extraction original is never lost.
				orig := filepath.Join(st.outDir, st.stem+".orig.pdf")
				if err := pdfops.CopyFile(st.input, orig); err != nil {
					return StageResult{}, err
				}
				if err := pdfops.ExtractPages(st.work, st.work, st.keep, nil); err != nil {
					return StageResult{}, err
				}
				st.pages = len(st.keep)
				return done(orig)
			},
		},
		{
			// Not journaled: its result is working state (cleaned image
			// set, rotation and filter flags) that a restored snapshot
			// could not reconstruct for the OCR stage.
			name:    "scan-cleanup",
			enabled: scanned,
			run: func(ctx context.Context, st *docState) (StageResult, error) {
				return p.scanCleanup(ctx, st, opts, ws)
			},
		},
		{
			name:      "ocr",
			enabled:   scanned,
			journaled: true,
			run: func(ctx context.Context, st *docState) (StageResult, error) {
				err := p.ocr.Run(ctx, opts.Backend, st.work, st.work, st.cleanedImages, ocr.Options{
					Languages:   opts.Languages,
					Layout:      opts.Layout,
					OutputPages: opts.OutputPages,
					Rotated:     st.rotated,
					FilterRan:   st.filterRan,
					Debug:       opts.Debug,
				})
				if err != nil {
					return StageResult{}, err
				}
				return done(st.work)
			},
		},
		{
			name:    "skip-pages",
			enabled: func(st *docState) bool { return len(st.skip) > 0 },
			run: func(_ context.Context, st *docState) (StageResult, error) {
				if err := pdfops.ExtractPages(st.work, st.work, nil, st.skip); err != nil {
					return StageResult{}, err
				}
				st.pages -= len(st.skip)
				return done(st.work)
			},
		},
		{
			name:    "publish",
			enabled: always,
			run: func(_ context.Context, st *docState) (StageResult, error) {
				if err := pdfops.CopyFile(st.work, st.outPDF); err != nil {
					return StageResult{}, err
				}
				return done(st.outPDF)
			},
		},
		{
			name:    "export-images",
			enabled: func(*docState) bool { return opts.ExportImages },
			run: func(ctx context.Context, st *docState) (StageResult, error) {
				dir := filepath.Join(st.outDir, "_images_"+st.stem)
				if err := p.raster.ExportImages(ctx, st.outPDF, dir, opts.DPI, opts.ImageFormat); err != nil {
					return StageResult{}, err
				}
				return done(dir)
			},
		},
		{
			name:    "export-thumbs",
			enabled: func(*docState) bool { return opts.ExportThumbs },
			run: func(ctx context.Context, st *docState) (StageResult, error) {
				imagesDir := filepath.Join(st.outDir, "_images_"+st.stem)
				if !opts.ExportImages {
					// Thumbnails never re-rasterize published images, so
					// without an image export we rasterize into scratch.
					scratch, err := ws.Scratch(st.fp)
					if err != nil {
						return StageResult{}, err
					}
					imagesDir = filepath.Join(scratch, "thumbsrc")
					if err := p.raster.ExportImages(ctx, st.outPDF, imagesDir, opts.DPI, opts.ImageFormat); err != nil {
						return StageResult{}, err
					}
				}
				dir := filepath.Join(st.outDir, "_thumbs_"+st.stem)
				if err := p.raster.ExportThumbnails(imagesDir, dir, opts.ThumbSize, opts.ImageFormat, 0); err != nil {
					return StageResult{}, err
				}
				return done(dir)
			},
		},
		{
			name:    "export-text",
			enabled: func(*docState) bool { return opts.ExportText },
			run: func(_ context.Context, st *docState) (StageResult, error) {
				dir := filepath.Join(st.outDir, "_texts_"+st.stem)
				texts, err := p.textout.ExportText(st.outPDF, dir)
				if err != nil {
					return StageResult{}, err
				}
				st.texts = texts
				summary := filepath.Join(st.outDir, st.stem+".txt")
				if err := textout.WriteSummary(texts, summary); err != nil {
					return StageResult{}, err
				}
				return done(dir)
			},
		},
		{
			name:    "detect-doi",
			enabled: func(*docState) bool { return opts.DetectDOIs },
			run: func(_ context.Context, st *docState) (StageResult, error) {
				first, err := p.firstPageText(st)
				if err != nil {
					return StageResult{}, err
				}
				st.dois = textout.DetectDOIs(first)
				if len(st.dois) == 0 {
					return noop()
				}
				return done(strings.Join(st.dois, ","))
			},
		},
	}
}

// firstPageText reuses the export-text result when available, else
// extracts page one directly. Identifier detection deliberately reads
// only the first page.
func (p *Pipeline) firstPageText(st *docState) (string, error) {
	if st.texts != nil {
		return st.texts[1], nil
	}
	texts, err := p.textout.PageTexts(st.outPDF)
	if err != nil {
		return "", err
	}
	if len(texts) == 0 {
		return "", nil
	}
	return texts[0], nil
}

// runStage executes one stage with optional journal bracketing. A
// journaled stage whose input hash matches a prior completed run, and
// whose snapshot artifact still exists, is restored instead of rerun.
func (p *Pipeline) runStage(ctx context.Context, s stage, st *docState, run *journal.Run) (StageResult, error) {
	if run == nil || !s.journaled {
		return s.run(ctx, st)
	}

	hash, err := fileHash(st.work)
	if err != nil {
		p.logger.Warn("pipeline: input hash failed, skipping journal", "stage", s.name, "error", err)
		return s.run(ctx, st)
	}

	if artifact, ok := run.Completed(s.name, hash); ok && artifact != "" {
		if err := pdfops.CopyFile(artifact, st.work); err == nil {
			p.logger.Info("pipeline: resumed from journal", "stage", s.name, "artifact", artifact)
			return StageResult{Status: StageResumed, Artifact: artifact}, nil
		}
	}

	run.StageStarted(s.name, hash)
	res, err := s.run(ctx, st)
	if err != nil {
		run.StageFailed(s.name, hash, err.Error())
		return res, err
	}

	// Snapshot the working document so a future run can restore it.
	snapshot := st.work + "." + s.name + ".snap"
	if err := pdfops.CopyFile(st.work, snapshot); err != nil {
		p.logger.Warn("pipeline: snapshot failed", "stage", s.name, "error", err)
		run.StageCompleted(s.name, hash, "")
	} else {
		run.StageCompleted(s.name, hash, snapshot)
	}
	return res, nil
}

// finish writes the metadata sidecar, best-effort, success or failure.
func (p *Pipeline) finish(st *docState, result *Result) {
	result.Classification = st.kind
	result.Pages = st.pages
	result.DOIs = st.dois
	result.FilterRan = st.filterRan
	result.Rotated = st.rotated
	result.CroppedImages = st.cropped
	result.FinishedAt = time.Now().UTC()

	if err := writeMetadata(st, result); err != nil {
		p.logger.Warn("pipeline: metadata sidecar failed", "input", st.input, "error", err)
	}
}

func fileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
