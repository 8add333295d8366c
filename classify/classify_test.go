package classify

import (
	"strings"
	"testing"

	"github.com/hazyhaar/pdfnorm/internal/pdftest"
)

func TestClassifySimpleDigital(t *testing.T) {
	dir := t.TempDir()
	path := pdftest.Write(t, dir, "digital.pdf",
		pdftest.TextPDF("", "", "A page with real embedded text content"))

	c := New(Config{})
	kind, err := c.Classify(path, PolicySimple)
	if err != nil {
		t.Fatal(err)
	}
	if kind != KindDigital {
		t.Errorf("Classify = %q, want digital-native", kind)
	}
}

func TestClassifySimpleScanned(t *testing.T) {
	dir := t.TempDir()
	path := pdftest.Write(t, dir, "scan.pdf", pdftest.ImagePDF(3, 2550, 3300, ""))

	c := New(Config{})
	kind, err := c.Classify(path, PolicySimple)
	if err != nil {
		t.Fatal(err)
	}
	if kind != KindScanned {
		t.Errorf("Classify = %q, want scanned", kind)
	}
}

func TestClassifyDeterminism(t *testing.T) {
	// WHAT: Text on any page (not just the first) flips the result.
	// WHY: The short-circuit must not depend on which page carries text.
	dir := t.TempDir()
	for name, texts := range map[string][]string{
		"first.pdf": {"some text here", "", ""},
		"mid.pdf":   {"", "some text here", ""},
		"last.pdf":  {"", "", "some text here"},
	} {
		path := pdftest.Write(t, dir, name, pdftest.TextPDF(texts...))
		c := New(Config{})
		kind, err := c.Classify(path, PolicySimple)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if kind != KindDigital {
			t.Errorf("%s: Classify = %q, want digital-native", name, kind)
		}
	}
}

func TestClassifyStrictPageNumberNoise(t *testing.T) {
	// WHAT: Pages whose only text is page-number decoration stay scanned.
	// WHY: OCR'd page numbers on raster scans must not pass as digital.
	dir := t.TempDir()
	path := pdftest.Write(t, dir, "noise.pdf", pdftest.TextPDF("- 12 -", "[ 13 ]"))

	c := New(Config{})
	kind, err := c.Classify(path, PolicyStrict)
	if err != nil {
		t.Fatal(err)
	}
	if kind != KindScanned {
		t.Errorf("Classify = %q, want scanned for page-number-only text", kind)
	}
}

func TestClassifyStrictMeaningfulText(t *testing.T) {
	dir := t.TempDir()
	text := "This page carries a full paragraph of meaningful words well beyond the minimum thresholds"
	path := pdftest.Write(t, dir, "real.pdf", pdftest.TextPDF(text))

	c := New(Config{})
	kind, err := c.Classify(path, PolicyStrict)
	if err != nil {
		t.Fatal(err)
	}
	if kind != KindDigital {
		t.Errorf("Classify = %q, want digital-native", kind)
	}
}

func TestClassifyStrictImageDominated(t *testing.T) {
	// WHAT: A full-page image with a caption stays scanned-like.
	// WHY: Hybrid scans often carry a thin OCR'd caption line.
	dir := t.TempDir()
	caption := "Figure caption with enough words to clear the meaningful text bar easily here"
	path := pdftest.Write(t, dir, "hybrid.pdf", pdftest.ImagePDF(1, 2550, 3300, caption))

	c := New(Config{})
	kind, err := c.Classify(path, PolicyStrict)
	if err != nil {
		t.Fatal(err)
	}
	if kind != KindScanned {
		t.Errorf("Classify = %q, want scanned for image-dominated page", kind)
	}
}

func TestHasEmbeddedText(t *testing.T) {
	dir := t.TempDir()
	with := pdftest.Write(t, dir, "with.pdf", pdftest.TextPDF("hello"))
	without := pdftest.Write(t, dir, "without.pdf", pdftest.TextPDF("", ""))

	c := New(Config{})
	if ok, err := c.HasEmbeddedText(with); err != nil || !ok {
		t.Errorf("HasEmbeddedText(with) = %v, %v", ok, err)
	}
	if ok, err := c.HasEmbeddedText(without); err != nil || ok {
		t.Errorf("HasEmbeddedText(without) = %v, %v", ok, err)
	}
}

func TestPageTexts(t *testing.T) {
	dir := t.TempDir()
	path := pdftest.Write(t, dir, "pages.pdf", pdftest.TextPDF("first page", "", "third page"))

	c := New(Config{})
	texts, err := c.PageTexts(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(texts) != 3 {
		t.Fatalf("got %d pages, want 3", len(texts))
	}
	if !strings.Contains(texts[0], "first page") {
		t.Errorf("page 1 text = %q", texts[0])
	}
	if strings.TrimSpace(texts[1]) != "" {
		t.Errorf("page 2 text = %q, want empty", texts[1])
	}
	if !strings.Contains(texts[2], "third page") {
		t.Errorf("page 3 text = %q", texts[2])
	}
}

func TestImageDominatedPageOutOfRange(t *testing.T) {
	path := pdftest.Write(t, t.TempDir(), "one.pdf", pdftest.TextPDF("text"))
	ctx, err := readContext(path)
	if err != nil {
		t.Fatal(err)
	}

	c := New(Config{})
	if _, err := c.imageDominated(ctx, 5); err == nil || !strings.Contains(err.Error(), "out of range") {
		t.Errorf("err = %v, want out-of-range", err)
	}
}

func TestStripPageNumberLines(t *testing.T) {
	in := "Real content line\n- 42 -\nmore content"
	got := stripPageNumberLines(in)
	if strings.Contains(got, "42") {
		t.Errorf("page-number line survived: %q", got)
	}
	if !strings.Contains(got, "Real content") || !strings.Contains(got, "more content") {
		t.Errorf("content lines lost: %q", got)
	}
}

func TestMeaningfulText(t *testing.T) {
	c := New(Config{})
	if c.meaningfulText("short") {
		t.Error("short text should not be meaningful")
	}
	if c.meaningfulText("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa") {
		t.Error("one long token should fail the word count")
	}
	if !c.meaningfulText("seven words of entirely ordinary prose text") {
		t.Error("ordinary sentence should be meaningful")
	}
}

func TestDecodePDFString(t *testing.T) {
	tests := []struct{ in, want string }{
		{`plain`, "plain"},
		{`a\(b\)c`, "a(b)c"},
		{`tab\there`, "tab\there"},
		{`oct\040al`, "oct al"},
	}
	for _, tt := range tests {
		if got := decodePDFString([]byte(tt.in)); got != tt.want {
			t.Errorf("decodePDFString(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
