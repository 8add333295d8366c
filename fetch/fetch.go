// Package fetch turns a URL into a local PDF through a headless
// browser. Pages that serve HTML are printed to PDF; URLs that serve a
// PDF directly are captured through the browser's download machinery,
// which keeps cookies and referer-gated links working where a plain
// HTTP client would be refused.
package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/pdfnorm/raster"
	"github.com/hazyhaar/pdfnorm/workspace"
)

// Config configures a Fetcher.
type Config struct {
	// RemoteURL is the WebSocket URL of an external Chrome instance.
	// Empty = launch a local Chrome via launcher.
	RemoteURL string

	// Timeout bounds a single page capture. Default: 90s.
	Timeout time.Duration

	// PollInterval is the download-completion polling period. Default: 500ms.
	PollInterval time.Duration

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 90 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Fetcher holds one lazily-launched browser. The handle is scoped to
// the Fetcher: callers own its lifetime and Close it when done, nothing
// is shared process-wide.
type Fetcher struct {
	cfg Config

	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
}

// New creates a Fetcher. The browser is not launched until first use.
func New(cfg Config) *Fetcher {
	cfg.defaults()
	return &Fetcher{cfg: cfg}
}

// Close shuts the browser down. Safe to call without a prior fetch.
func (f *Fetcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.browser != nil {
		f.browser.Close()
		f.browser = nil
	}
	if f.lnch != nil {
		f.lnch.Cleanup()
		f.lnch = nil
	}
	return nil
}

func (f *Fetcher) handle() (*rod.Browser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.browser != nil {
		return f.browser, nil
	}

	wsURL := f.cfg.RemoteURL
	if wsURL == "" {
		l := launcher.New().Headless(true).
			Set("disable-blink-features", "AutomationControlled")
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("fetch: launch browser: %w", err)
		}
		wsURL = u
		f.lnch = l
		f.cfg.Logger.Info("fetch: launched local chrome", "url", wsURL)
	} else {
		f.cfg.Logger.Info("fetch: connecting to remote chrome", "url", wsURL)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("fetch: connect: %w", err)
	}
	if err := b.IgnoreCertErrors(true); err != nil {
		f.cfg.Logger.Warn("fetch: ignore cert errors failed", "error", err)
	}
	f.browser = b
	return b, nil
}

// SavePageAsPDF captures pageURL as a PDF under dir and returns the
// file path. The file is named after the URL fingerprint so repeated
// fetches of the same URL land on the same path.
func (f *Fetcher) SavePageAsPDF(ctx context.Context, pageURL, dir string) (string, error) {
	b, err := f.handle()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("fetch: %w", err)
	}

	stem := "web-" + workspace.Fingerprint(pageURL)
	dest := filepath.Join(dir, stem+".pdf")

	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	page, err := stealth.Page(b)
	if err != nil {
		return "", fmt.Errorf("fetch: create tab: %w", err)
	}
	defer page.Close()
	page = page.Context(ctx)

	err = proto.BrowserSetDownloadBehavior{
		Behavior:     proto.BrowserSetDownloadBehaviorBehaviorAllow,
		DownloadPath: dir,
	}.Call(b)
	if err != nil {
		f.cfg.Logger.Warn("fetch: set download behavior failed", "error", err)
	}

	if err := page.Navigate(pageURL); err != nil {
		// Chrome aborts navigation when the response is handled as a
		// download: the URL served a PDF instead of a page.
		if strings.Contains(err.Error(), "net::ERR_ABORTED") {
			f.cfg.Logger.Debug("fetch: navigation became a download", "url", pageURL)
			return f.waitForDownload(ctx, dir, dest)
		}
		return "", fmt.Errorf("fetch: navigate %s: %w", pageURL, err)
	}

	if err := page.WaitLoad(); err != nil {
		f.cfg.Logger.Warn("fetch: wait load timed out, printing anyway",
			"url", pageURL, "error", err)
	}

	reader, err := page.PDF(&proto.PagePrintToPDF{PrintBackground: true})
	if err != nil {
		return "", fmt.Errorf("fetch: print %s: %w", pageURL, err)
	}
	out, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("fetch: %w", err)
	}
	if _, err := out.ReadFrom(reader); err != nil {
		out.Close()
		os.Remove(dest)
		return "", fmt.Errorf("fetch: write %s: %w", dest, err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("fetch: close %s: %w", dest, err)
	}
	f.cfg.Logger.Info("fetch: printed page to pdf", "url", pageURL, "path", dest)
	return dest, nil
}

// dupSuffixRe matches the browser's " (N)" duplicate-download suffix.
var dupSuffixRe = regexp.MustCompile(`^(.+) \(\d+\)\.pdf$`)

// waitForDownload polls dir until the browser has finished writing a
// PDF: no in-progress *.crdownload sentinel remains and a finished
// *.pdf exists. A " (N)" duplicate suffix is normalized away by
// renaming onto dest.
func (f *Fetcher) waitForDownload(ctx context.Context, dir, dest string) (string, error) {
	ticker := time.NewTicker(f.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("fetch: download did not complete: %w", ctx.Err())
		case <-ticker.C:
			path, ok, err := finishedDownload(dir, dest)
			if err != nil {
				return "", err
			}
			if ok {
				return path, nil
			}
		}
	}
}

// finishedDownload inspects dir for a completed PDF download.
func finishedDownload(dir, dest string) (string, bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false, fmt.Errorf("fetch: %w", err)
	}

	var candidate string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasSuffix(name, ".crdownload") {
			return "", false, nil
		}
		if strings.HasSuffix(strings.ToLower(name), ".pdf") && candidate == "" {
			candidate = name
		}
	}
	if candidate == "" {
		return "", false, nil
	}

	path := filepath.Join(dir, candidate)
	if m := dupSuffixRe.FindStringSubmatch(candidate); m != nil {
		normalized := filepath.Join(dir, m[1]+".pdf")
		if err := os.Rename(path, normalized); err != nil {
			return "", false, fmt.Errorf("fetch: normalize %s: %w", candidate, err)
		}
		path = normalized
	}
	if path != dest {
		if err := os.Rename(path, dest); err != nil {
			return "", false, fmt.Errorf("fetch: finalize %s: %w", path, err)
		}
	}
	return dest, true, nil
}

// ScreenshotFirstPage renders page one of the captured PDF as a PNG,
// for visual verification of what the browser actually fetched.
func ScreenshotFirstPage(ctx context.Context, pdf, out string, dpi int, logger *slog.Logger) error {
	e := raster.New(raster.Config{Logger: logger})
	return e.ExportFirstPage(ctx, pdf, out, dpi)
}
