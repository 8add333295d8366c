package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hazyhaar/pdfnorm/internal/pdftest"
	"github.com/hazyhaar/pdfnorm/ocr"
	"github.com/hazyhaar/pdfnorm/pdfops"
	"github.com/hazyhaar/pdfnorm/workspace"
)

func writeShim(t *testing.T, dir, name, script string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
}

// fakeRasterizer stands in for pdftoppm: renderChunk invokes it as
// `pdftoppm -f S -l E -png -r DPI pdf prefix`.
const fakeRasterizer = `#!/bin/sh
i=$2
while [ "$i" -le "$4" ]; do
  printf fake > "$9-$i.png"
  i=$((i+1))
done
`

// fakeCleanupFilter stands in for unpaper: answers the version probe
// and writes a minimal PNM to the output path (the last argument).
const fakeCleanupFilter = `#!/bin/sh
if [ "$1" = "--version" ]; then
  echo 7.2
  exit 0
fi
for last; do :; done
printf 'P1\n1 1\n0\n' > "$last"
`

func TestScanCleanupPreRotateMarksRotated(t *testing.T) {
	// WHAT: An explicit pre-rotation angle marks the reassembled
	// document as rotated, and OCR then suppresses its own rotation.
	// WHY: The filter already turned the pages; auto-rotating again
	// would rotate them twice.
	bin := t.TempDir()
	writeShim(t, bin, "pdftoppm", fakeRasterizer)
	writeShim(t, bin, "unpaper", fakeCleanupFilter)
	t.Setenv("PATH", bin)

	work := pdftest.Write(t, t.TempDir(), "doc.work.pdf", pdftest.TextPDF("", ""))
	ws, err := workspace.New(workspace.Config{TempDir: t.TempDir()}, false)
	if err != nil {
		t.Fatal(err)
	}
	defer ws.Close()

	p := newTestPipeline(t)
	st := &docState{input: work, fp: "feedbeef", work: work}
	opts := Options{PreRotate: 90}
	if err := opts.normalize(); err != nil {
		t.Fatal(err)
	}

	res, err := p.scanCleanup(context.Background(), st, opts, ws)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StageDone {
		t.Fatalf("status = %s", res.Status)
	}
	if !st.filterRan {
		t.Fatal("filter did not run")
	}
	if !st.rotated {
		t.Error("pre-rotated document not marked rotated")
	}
	if n, err := pdfops.PageCount(st.work); err != nil || n != 2 {
		t.Errorf("reassembled page count = %d (%v), want 2", n, err)
	}

	args := strings.Join(ocr.OCRmyPDFArgs("in.pdf", "out.pdf", ocr.Options{
		Rotated:   st.rotated,
		FilterRan: st.filterRan,
	}), " ")
	if strings.Contains(args, "--rotate-pages") {
		t.Error("ocr would rotate a document the filter already turned")
	}
	if !strings.Contains(args, "--clean") {
		t.Error("filter-dependent cleanup missing after the filter ran")
	}
}

func TestScanCleanupDegradedKeepsAutoRotate(t *testing.T) {
	// WHAT: Without the cleanup filter, a pre-rotation angle is never
	// applied, so the document stays unrotated and OCR may rotate it.
	// WHY: The angle only takes effect when the filter reassembles the
	// working PDF.
	bin := t.TempDir()
	writeShim(t, bin, "pdftoppm", fakeRasterizer)
	t.Setenv("PATH", bin)

	work := pdftest.Write(t, t.TempDir(), "doc.work.pdf", pdftest.TextPDF("", ""))
	ws, err := workspace.New(workspace.Config{TempDir: t.TempDir()}, false)
	if err != nil {
		t.Fatal(err)
	}
	defer ws.Close()

	p := newTestPipeline(t)
	st := &docState{input: work, fp: "feedbeef", work: work}
	opts := Options{PreRotate: 90}
	if err := opts.normalize(); err != nil {
		t.Fatal(err)
	}

	if _, err := p.scanCleanup(context.Background(), st, opts, ws); err != nil {
		t.Fatal(err)
	}
	if st.filterRan {
		t.Fatal("filter ran without the binary installed")
	}
	if st.rotated {
		t.Error("degraded mode must not report a rotation that never happened")
	}

	args := strings.Join(ocr.OCRmyPDFArgs("in.pdf", "out.pdf", ocr.Options{
		Rotated:   st.rotated,
		FilterRan: st.filterRan,
	}), " ")
	if !strings.Contains(args, "--rotate-pages") {
		t.Error("ocr lost auto-rotation for an unrotated document")
	}
}
