// Package textout extracts the embedded text layer of a processed PDF
// into per-page files plus a whole-document summary, and mines the
// first page for DOIs. It runs after OCR, so scanned documents have a
// text layer by the time it looks.
package textout

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/hazyhaar/pdfnorm/classify"
	"github.com/hazyhaar/pdfnorm/workspace"
)

// Config configures an Exporter.
type Config struct {
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Exporter writes text artifacts for a document.
type Exporter struct {
	cfg        Config
	classifier *classify.Classifier
}

// New creates an Exporter.
func New(cfg Config) *Exporter {
	cfg.defaults()
	return &Exporter{
		cfg:        cfg,
		classifier: classify.New(classify.Config{Logger: cfg.Logger}),
	}
}

// PageTexts returns the extracted text of every page, in page order,
// without writing anything.
func (e *Exporter) PageTexts(pdf string) ([]string, error) {
	return e.classifier.PageTexts(pdf)
}

// ExportText writes one page_NNN.txt per page under outDir and returns
// the extracted text keyed by 1-based page number. Pages without a text
// layer yield empty files, keeping page numbering dense.
func (e *Exporter) ExportText(pdf, outDir string) (map[int]string, error) {
	texts, err := e.classifier.PageTexts(pdf)
	if err != nil {
		return nil, fmt.Errorf("export text %s: %w", pdf, err)
	}

	if err := workspace.ClearDir(outDir); err != nil {
		return nil, err
	}

	pages := make(map[int]string, len(texts))
	for i, text := range texts {
		page := i + 1
		pages[page] = text
		name := filepath.Join(outDir, fmt.Sprintf("page_%03d.txt", page))
		if err := os.WriteFile(name, []byte(text), 0o644); err != nil {
			return nil, fmt.Errorf("write %s: %w", name, err)
		}
	}
	e.cfg.Logger.Debug("textout: exported pages", "pdf", pdf, "pages", len(pages))
	return pages, nil
}

// WriteSummary concatenates the page texts into a single file with
// page delimiters, in page order.
func WriteSummary(pages map[int]string, out string) error {
	nums := make([]int, 0, len(pages))
	for n := range pages {
		nums = append(nums, n)
	}
	sort.Ints(nums)

	var sb strings.Builder
	for _, n := range nums {
		fmt.Fprintf(&sb, "--- Page %d of %d ---\n", n, len(nums))
		sb.WriteString(pages[n])
		if !strings.HasSuffix(pages[n], "\n") {
			sb.WriteByte('\n')
		}
	}
	if err := os.WriteFile(out, []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("write summary %s: %w", out, err)
	}
	return nil
}

// DOI syntax per the handle system: prefix "10.", registrant code, a
// slash, then a suffix that may contain nearly anything printable.
var doiRe = regexp.MustCompile(`\b10\.\d{4,9}/[-._;()/:a-zA-Z0-9]+`)

// Unicode dashes that OCR and typography substitute for ASCII hyphens.
var dashVariants = strings.NewReplacer(
	"‐", "-", "‑", "-", "‒", "-",
	"–", "-", "—", "-", "−", "-",
)

var hyphenBreakRe = regexp.MustCompile(`-\n\s*`)

// DetectDOIs scans first-page text for DOI identifiers. The text is
// normalized first: dash variants folded to ASCII, hyphenated line
// breaks rejoined, remaining newlines flattened. Results are
// lowercased, stripped of trailing punctuation, deduplicated in
// first-seen order, and a DOI that is a strict prefix of another
// detected DOI is dropped as a truncation artifact.
func DetectDOIs(firstPage string) []string {
	text := dashVariants.Replace(firstPage)
	text = hyphenBreakRe.ReplaceAllString(text, "")
	text = strings.ReplaceAll(text, "\n", " ")

	var dois []string
	seen := make(map[string]bool)
	for _, m := range doiRe.FindAllString(text, -1) {
		doi := strings.ToLower(strings.TrimRight(m, ".,;:)"))
		if doi == "" || seen[doi] {
			continue
		}
		seen[doi] = true
		dois = append(dois, doi)
	}

	var out []string
	for _, doi := range dois {
		prefix := false
		for _, other := range dois {
			if doi != other && strings.HasPrefix(other, doi) {
				prefix = true
				break
			}
		}
		if !prefix {
			out = append(out, doi)
		}
	}
	return out
}
