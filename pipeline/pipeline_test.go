package pipeline

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/hazyhaar/pdfnorm/classify"
	"github.com/hazyhaar/pdfnorm/internal/pdftest"
	"github.com/hazyhaar/pdfnorm/pdfops"
)

func newTestPipeline(t *testing.T) *Pipeline {
	t.Helper()
	p, err := New(Config{
		TempDir:   t.TempDir(),
		OutputDir: t.TempDir(),
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func TestInputValidation(t *testing.T) {
	p := newTestPipeline(t)
	ctx := context.Background()

	if _, err := p.Process(ctx, Input{}, Options{}); err == nil {
		t.Error("empty input accepted")
	}
	if _, err := p.Process(ctx, Input{Path: "a.pdf", URL: "http://x"}, Options{}); err == nil {
		t.Error("both path and url accepted")
	}
}

func TestOptionsNormalize(t *testing.T) {
	o := Options{}
	if err := o.normalize(); err != nil {
		t.Fatal(err)
	}
	if o.DPI != 300 || o.Languages != "eng" || o.ImageFormat != "png" || o.ThumbSize != 256 {
		t.Errorf("defaults not applied: %+v", o)
	}

	bad := Options{OutputPages: 3}
	if err := bad.normalize(); err == nil {
		t.Error("output-pages 3 accepted")
	}
}

func TestBadSelectorFailsFast(t *testing.T) {
	dir := t.TempDir()
	pdf := pdftest.Write(t, dir, "doc.pdf", pdftest.TextPDF("one", "two"))

	p := newTestPipeline(t)
	if _, err := p.Process(context.Background(), Input{Path: pdf}, Options{ExtractPages: "5"}); err == nil {
		t.Error("out-of-range selector accepted")
	}
	if _, err := p.Process(context.Background(), Input{Path: pdf}, Options{SkipPages: "x"}); err == nil {
		t.Error("malformed selector accepted")
	}
}

func TestProcessDigitalNative(t *testing.T) {
	dir := t.TempDir()
	pdf := pdftest.Write(t, dir, "paper.pdf", pdftest.TextPDF(
		"A study of things\ndoi:10.1234/study.2024", "second page", "third page"))
	outDir := t.TempDir()

	p, err := New(Config{TempDir: t.TempDir(), OutputDir: outDir})
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	res, err := p.Process(context.Background(), Input{Path: pdf}, Options{
		ExportText: true,
		DetectDOIs: true,
	})
	if err != nil {
		t.Fatal(err)
	}

	if res.Classification != classify.KindDigital {
		t.Errorf("classification = %s, want digital-native", res.Classification)
	}
	if res.FilterRan {
		t.Error("filter_ran set for a digital document")
	}

	// Published PDF keeps the input filename.
	if filepath.Base(res.OutputPDF) != "paper.pdf" {
		t.Errorf("output pdf = %s", res.OutputPDF)
	}
	if n, err := pdfops.PageCount(res.OutputPDF); err != nil || n != 3 {
		t.Errorf("published page count = %d (%v), want 3", n, err)
	}

	// Text artifacts.
	if _, err := os.Stat(filepath.Join(outDir, "_texts_paper", "page_001.txt")); err != nil {
		t.Error("missing per-page text")
	}
	if _, err := os.Stat(filepath.Join(outDir, "paper.txt")); err != nil {
		t.Error("missing summary")
	}

	// DOI from the first page only.
	if len(res.DOIs) != 1 || res.DOIs[0] != "10.1234/study.2024" {
		t.Errorf("dois = %v", res.DOIs)
	}

	// Metadata sidecar.
	data, err := os.ReadFile(filepath.Join(outDir, "paper.meta.json"))
	if err != nil {
		t.Fatal(err)
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		t.Fatal(err)
	}
	if meta.Classification != "digital-native" || len(meta.DOIs) != 1 {
		t.Errorf("meta = %+v", meta)
	}

	// Stage outcomes include classify and publish, not disabled stages.
	names := make(map[string]bool)
	for _, s := range res.Stages {
		names[s.Name] = true
	}
	for _, want := range []string{"classify", "publish", "export-text", "detect-doi"} {
		if !names[want] {
			t.Errorf("missing stage outcome %s", want)
		}
	}
	for _, banned := range []string{"scan-cleanup", "ocr", "extract", "skip-pages"} {
		if names[banned] {
			t.Errorf("disabled stage %s ran", banned)
		}
	}
}

func TestProcessExtractPreservesOriginal(t *testing.T) {
	dir := t.TempDir()
	pdf := pdftest.Write(t, dir, "doc.pdf", pdftest.TextPDF("one", "two", "three", "four"))
	outDir := t.TempDir()

	p, err := New(Config{TempDir: t.TempDir(), OutputDir: outDir})
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	res, err := p.Process(context.Background(), Input{Path: pdf}, Options{ExtractPages: "2-3"})
	if err != nil {
		t.Fatal(err)
	}

	if n, _ := pdfops.PageCount(res.OutputPDF); n != 2 {
		t.Errorf("extracted page count = %d, want 2", n)
	}

	orig := filepath.Join(outDir, "doc.orig.pdf")
	origData, err := os.ReadFile(orig)
	if err != nil {
		t.Fatal("pre-extraction original not preserved")
	}
	inputData, _ := os.ReadFile(pdf)
	if string(origData) != string(inputData) {
		t.Error("preserved original differs from input")
	}
}

func TestProcessSkipPages(t *testing.T) {
	dir := t.TempDir()
	pdf := pdftest.Write(t, dir, "doc.pdf", pdftest.TextPDF("one", "two", "three"))

	p, err := New(Config{TempDir: t.TempDir(), OutputDir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	res, err := p.Process(context.Background(), Input{Path: pdf}, Options{SkipPages: "2"})
	if err != nil {
		t.Fatal(err)
	}
	if n, _ := pdfops.PageCount(res.OutputPDF); n != 2 {
		t.Errorf("page count after skip = %d, want 2", n)
	}

	// The reported count reflects the published document, not the input.
	if res.Pages != 2 {
		t.Errorf("result pages = %d, want 2", res.Pages)
	}
	data, err := os.ReadFile(filepath.Join(filepath.Dir(res.OutputPDF), "doc.meta.json"))
	if err != nil {
		t.Fatal(err)
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		t.Fatal(err)
	}
	if meta.Pages != 2 {
		t.Errorf("meta pages = %d, want 2", meta.Pages)
	}
}

func TestProcessMarkerNesting(t *testing.T) {
	// WHAT: The marker mirrors the input's subdirectory below it into the
	// output tree.
	// WHY: Batch runs over a corpus must keep its directory structure.
	inRoot := t.TempDir()
	sub := filepath.Join(inRoot, "2024", "q3")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	pdf := pdftest.Write(t, sub, "doc.pdf", pdftest.TextPDF("text"))
	outDir := t.TempDir()

	p, err := New(Config{TempDir: t.TempDir(), OutputDir: outDir})
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	res, err := p.Process(context.Background(), Input{Path: pdf}, Options{Marker: inRoot})
	if err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(outDir, "2024", "q3")
	if res.OutputDir != want {
		t.Errorf("output dir = %s, want %s", res.OutputDir, want)
	}
}

func TestProcessMarkerNotFound(t *testing.T) {
	pdf := pdftest.Write(t, t.TempDir(), "doc.pdf", pdftest.TextPDF("text"))
	p := newTestPipeline(t)
	if _, err := p.Process(context.Background(), Input{Path: pdf}, Options{Marker: "/no/such/prefix"}); err == nil {
		t.Error("unmatched marker accepted")
	}
}

func TestProcessFailureWritesMetadata(t *testing.T) {
	// WHAT: A failing stage still leaves the metadata sidecar behind.
	// WHY: A failed run must be diagnosable from the output tree alone.
	dir := t.TempDir()
	// No embedded text: classified scanned, and with an empty PATH the
	// rasterizer cannot run.
	pdf := pdftest.Write(t, dir, "scan.pdf", pdftest.TextPDF("", ""))
	outDir := t.TempDir()
	t.Setenv("PATH", t.TempDir())

	p, err := New(Config{TempDir: t.TempDir(), OutputDir: outDir})
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	res, err := p.Process(context.Background(), Input{Path: pdf}, Options{})
	if err == nil {
		t.Fatal("expected stage failure without external tools")
	}
	if res == nil || res.Error == "" {
		t.Fatal("result does not carry the stage error")
	}

	data, err := os.ReadFile(filepath.Join(outDir, "scan.meta.json"))
	if err != nil {
		t.Fatal("metadata sidecar missing after failure")
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		t.Fatal(err)
	}
	if meta.Error == "" || meta.Classification != "scanned" {
		t.Errorf("meta = %+v", meta)
	}
}

func TestJournalResume(t *testing.T) {
	// The skip selector is not journaled, but a journaled pipeline must
	// still process documents end to end.
	dir := t.TempDir()
	pdf := pdftest.Write(t, dir, "doc.pdf", pdftest.TextPDF("alpha", "beta"))

	p, err := New(Config{
		TempDir:     t.TempDir(),
		OutputDir:   t.TempDir(),
		JournalPath: filepath.Join(t.TempDir(), "journal.db"),
	})
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	for i := 0; i < 2; i++ {
		res, err := p.Process(context.Background(), Input{Path: pdf}, Options{})
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		if n, _ := pdfops.PageCount(res.OutputPDF); n != 2 {
			t.Errorf("run %d: page count = %d", i, n)
		}
	}
}
