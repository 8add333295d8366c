// Package workspace owns the directory lifecycles of a pipeline run:
// the reusable temp root, the resolved output root (optionally nested
// under a marker-relative subpath of the input), and ephemeral per-run
// scratch directories that are always discarded.
package workspace

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// EnvTempDir overrides the temp root when no explicit override is given.
const EnvTempDir = "PDFNORM_TEMP_DIR"

// EnvOutputDir overrides the output root when no explicit override is given.
const EnvOutputDir = "PDFNORM_OUTPUT_DIR"

// Config configures a Workspace.
type Config struct {
	// TempDir overrides the temp root. Empty = EnvTempDir, then the
	// OS temp dir under a "pdfnorm" subdirectory.
	TempDir string

	// OutputDir overrides the output root. Empty = EnvOutputDir, then
	// DefaultOutput.
	OutputDir string

	// DefaultOutput is the project-relative fallback output root.
	DefaultOutput string

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.DefaultOutput == "" {
		c.DefaultOutput = "output"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Workspace resolves and creates the directories of one pipeline run.
type Workspace struct {
	cfg     Config
	tempDir string
	scratch []string
}

// New resolves the temp root (override > environment > OS default),
// creating it if absent. When clean is set every entry under the temp
// root is removed first; removal failures are logged and the run
// proceeds with a partially-cleaned directory, since a cleanup failure
// must never block document processing.
func New(cfg Config, clean bool) (*Workspace, error) {
	cfg.defaults()

	dir := cfg.TempDir
	if dir == "" {
		dir = os.Getenv(EnvTempDir)
	}
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "pdfnorm")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create temp root %s: %w", dir, err)
	}

	w := &Workspace{cfg: cfg, tempDir: dir}
	if clean {
		w.cleanTempRoot()
	}
	return w, nil
}

// TempDir returns the resolved temp root.
func (w *Workspace) TempDir() string { return w.tempDir }

func (w *Workspace) cleanTempRoot() {
	entries, err := os.ReadDir(w.tempDir)
	if err != nil {
		w.cfg.Logger.Warn("workspace: cannot list temp root", "dir", w.tempDir, "error", err)
		return
	}
	for _, e := range entries {
		p := filepath.Join(w.tempDir, e.Name())
		if err := os.RemoveAll(p); err != nil {
			w.cfg.Logger.Warn("workspace: cannot remove temp entry", "path", p, "error", err)
		}
	}
}

// OutputRoot resolves the base output directory: explicit override >
// environment > project default. The directory is created if absent.
func (w *Workspace) OutputRoot() (string, error) {
	dir := w.cfg.OutputDir
	if dir == "" {
		dir = os.Getenv(EnvOutputDir)
	}
	if dir == "" {
		dir = w.cfg.DefaultOutput
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output root %s: %w", dir, err)
	}
	return dir, nil
}

// RelativeOutput nests base under the portion of inputPath occurring
// after marker, minus the filename. Given input /data/in/2024/doc.pdf,
// marker /data/in and base /out, the result is /out/2024. A marker not
// present in inputPath is a configuration error: writing output to a
// guessed location is worse than refusing.
func RelativeOutput(inputPath, marker, base string) (string, error) {
	in := filepath.ToSlash(filepath.Clean(inputPath))
	mk := filepath.ToSlash(filepath.Clean(marker))

	idx := strings.Index(in, mk)
	if idx < 0 {
		return "", fmt.Errorf("marker %q not found in input path %q", marker, inputPath)
	}
	rel := strings.TrimPrefix(in[idx+len(mk):], "/")
	sub := filepath.Dir(filepath.FromSlash(rel))

	out := base
	if sub != "." && sub != string(filepath.Separator) {
		out = filepath.Join(base, sub)
	}
	if err := os.MkdirAll(out, 0o755); err != nil {
		return "", fmt.Errorf("create output dir %s: %w", out, err)
	}
	return out, nil
}

// Fingerprint derives a stable 8-character hex identifier from the
// given paths. Repeated runs on the same document reuse predictable
// temp filenames; this is namespacing against collisions between
// concurrently-processed documents, not a cache.
func Fingerprint(paths ...string) string {
	h := sha256.New()
	for _, p := range paths {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:8]
}

// TempFile returns a path under the temp root named with the given
// fingerprint, stem and suffix, e.g. <temp>/ab12cd34_report.scan.pdf.
func (w *Workspace) TempFile(fp, stem, suffix string) string {
	return filepath.Join(w.tempDir, fmt.Sprintf("%s_%s%s", fp, stem, suffix))
}

// Scratch creates a run-scoped ephemeral directory under the temp root.
// The uuid component keeps concurrent runs over the same document from
// sharing scratch state. Scratch directories are removed by Close.
func (w *Workspace) Scratch(fp string) (string, error) {
	dir := filepath.Join(w.tempDir, fmt.Sprintf("run-%s-%s", fp, uuid.NewString()))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create scratch dir %s: %w", dir, err)
	}
	w.scratch = append(w.scratch, dir)
	return dir, nil
}

// Close removes all scratch directories created by this workspace,
// regardless of run outcome. Failures are logged, never returned: the
// temp root is debris-tolerant and a future clean request collects it.
func (w *Workspace) Close() {
	for _, dir := range w.scratch {
		if err := os.RemoveAll(dir); err != nil {
			w.cfg.Logger.Warn("workspace: cannot remove scratch dir", "dir", dir, "error", err)
		}
	}
	w.scratch = nil
}

// ClearDir removes every entry under dir, creating dir if absent.
// Used by export stages to drop stale artifacts from a prior run.
func ClearDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return os.MkdirAll(dir, 0o755)
	}
	if err != nil {
		return fmt.Errorf("list %s: %w", dir, err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return fmt.Errorf("remove %s: %w", e.Name(), err)
		}
	}
	return nil
}
