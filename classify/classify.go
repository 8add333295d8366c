// Package classify decides whether a PDF is a scanned document (no
// usable embedded text layer) or digital-native.
//
// Two policies are supported. PolicySimple, the canonical one, marks a
// document scanned iff every page's extracted text is empty after
// trimming whitespace; a single page with any text flips the document
// to digital-native. PolicyStrict additionally requires "meaningful"
// text (minimum character and word counts after stripping
// page-number-only lines) on a page that is not dominated by a large
// image, classifying image-dominated pages with thin captions as
// scanned-like.
package classify

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

// Kind is the classification result.
type Kind string

const (
	KindScanned Kind = "scanned"
	KindDigital Kind = "digital-native"
)

// Policy selects the classification heuristic.
type Policy int

const (
	// PolicySimple: scanned iff no page has non-whitespace text.
	PolicySimple Policy = iota
	// PolicyStrict: digital-native only if some page has meaningful
	// text and is not image-dominated.
	PolicyStrict
)

// Config tunes the strict policy thresholds.
type Config struct {
	// MinChars is the minimum trimmed character count for a page's
	// text to count as meaningful (default 30).
	MinChars int

	// MinWords is the minimum word count (default 5).
	MinWords int

	// MinImageRatio is the fraction of the page area an image must
	// cover to dominate the page (default 0.4).
	MinImageRatio float64

	// RefDPI scales page dimensions (points) to pixels when comparing
	// against intrinsic image sizes; pdfcpu exposes no placed bounding
	// boxes, so dominance is measured against the page rendered at
	// this resolution (default 150).
	RefDPI float64

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.MinChars <= 0 {
		c.MinChars = 30
	}
	if c.MinWords <= 0 {
		c.MinWords = 5
	}
	if c.MinImageRatio <= 0 {
		c.MinImageRatio = 0.4
	}
	if c.RefDPI <= 0 {
		c.RefDPI = 150
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Classifier inspects PDFs with a fixed configuration.
type Classifier struct {
	cfg Config
}

// New creates a Classifier.
func New(cfg Config) *Classifier {
	cfg.defaults()
	return &Classifier{cfg: cfg}
}

// Classify applies the given policy to the PDF at path. A zero-page
// document is digital-native: there is vacuously no scanned evidence.
// Page iteration short-circuits on the first counter-example, so order
// affects performance only, never the outcome.
func (c *Classifier) Classify(path string, policy Policy) (Kind, error) {
	ctx, err := readContext(path)
	if err != nil {
		return "", fmt.Errorf("classify %s: %w", path, err)
	}

	for pageNr := 1; pageNr <= ctx.PageCount; pageNr++ {
		text := extractPageText(ctx, pageNr)

		switch policy {
		case PolicySimple:
			if strings.TrimSpace(text) != "" {
				return KindDigital, nil
			}
		case PolicyStrict:
			if !c.meaningfulText(stripPageNumberLines(text)) {
				continue
			}
			dominated, err := c.imageDominated(ctx, pageNr)
			if err != nil {
				c.cfg.Logger.Warn("classify: image scan failed, treating page as dominated",
					"path", path, "page", pageNr, "error", err)
				continue
			}
			if !dominated {
				return KindDigital, nil
			}
		default:
			return "", fmt.Errorf("classify %s: unknown policy %d", path, policy)
		}
	}
	if ctx.PageCount == 0 {
		return KindDigital, nil
	}
	return KindScanned, nil
}

// HasEmbeddedText reports whether any page carries non-whitespace text.
func (c *Classifier) HasEmbeddedText(path string) (bool, error) {
	kind, err := c.Classify(path, PolicySimple)
	if err != nil {
		return false, err
	}
	return kind == KindDigital, nil
}

// PageTexts returns the embedded text of every page, index 0 holding
// page 1. Pages without a text layer yield empty strings.
func (c *Classifier) PageTexts(path string) ([]string, error) {
	ctx, err := readContext(path)
	if err != nil {
		return nil, fmt.Errorf("page texts %s: %w", path, err)
	}
	texts := make([]string, ctx.PageCount)
	for pageNr := 1; pageNr <= ctx.PageCount; pageNr++ {
		texts[pageNr-1] = extractPageText(ctx, pageNr)
	}
	return texts, nil
}

func readContext(path string) (*model.Context, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ctx, err := api.ReadValidateAndOptimize(f, model.NewDefaultConfiguration())
	if err != nil {
		return nil, fmt.Errorf("pdfcpu read: %w", err)
	}
	return ctx, nil
}

// pageNumberRe matches lines that are nothing but a page number with
// optional punctuation decoration, e.g. "- 12 -" or "[3]".
var pageNumberRe = regexp.MustCompile(`^\s*[\W_]*\d+[\W_]*\s*$`)

func stripPageNumberLines(text string) string {
	var kept []string
	for _, line := range strings.Split(text, "\n") {
		if pageNumberRe.MatchString(line) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, " ")
}

var wordRe = regexp.MustCompile(`\w+`)

func (c *Classifier) meaningfulText(text string) bool {
	text = strings.TrimSpace(text)
	if len([]rune(text)) < c.cfg.MinChars {
		return false
	}
	return len(wordRe.FindAllString(text, -1)) >= c.cfg.MinWords
}

// imageDominated reports whether any image XObject on the page covers
// at least MinImageRatio of the page area when the page is scaled to
// RefDPI. Intrinsic pixel sizes stand in for placed bounding boxes.
func (c *Classifier) imageDominated(ctx *model.Context, pageNr int) (bool, error) {
	dims, err := ctx.PageDims()
	if err != nil {
		return false, fmt.Errorf("page dims: %w", err)
	}
	if pageNr > len(dims) {
		return false, fmt.Errorf("page dims: page %d out of range (%d pages)", pageNr, len(dims))
	}
	d := dims[pageNr-1]
	scale := c.cfg.RefDPI / 72.0
	pageArea := d.Width * scale * d.Height * scale
	if pageArea <= 0 {
		return false, nil
	}

	for _, objNr := range pdfcpu.ImageObjNrs(ctx, pageNr) {
		entry, ok := ctx.Table[objNr]
		if !ok || entry == nil || entry.Free {
			continue
		}
		sd, ok := entry.Object.(types.StreamDict)
		if !ok {
			continue
		}
		w := sd.IntEntry("Width")
		h := sd.IntEntry("Height")
		if w == nil || h == nil {
			continue
		}
		if float64(*w)*float64(*h)/pageArea >= c.cfg.MinImageRatio {
			return true, nil
		}
	}
	return false, nil
}
