package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/pdfnorm/classify"
	"github.com/hazyhaar/pdfnorm/ocr"
	"github.com/hazyhaar/pdfnorm/pipeline"
	"github.com/hazyhaar/pdfnorm/unpaper"
)

// FileConfig is the YAML configuration file surface.
type FileConfig struct {
	TempDir     string `yaml:"temp_dir"`
	OutputDir   string `yaml:"output_dir"`
	JournalPath string `yaml:"journal_path"`
	ChromeURL   string `yaml:"chrome_url"`
	Concurrency int    `yaml:"concurrency"`

	Defaults DefaultOptions `yaml:"defaults"`
}

// DefaultOptions are the per-document option defaults; per-invocation
// flags override them.
type DefaultOptions struct {
	Backend          string `yaml:"backend"`
	Languages        string `yaml:"languages"`
	DPI              int    `yaml:"dpi"`
	Layout           string `yaml:"layout"`
	OutputPages      int    `yaml:"output_pages"`
	RemoveBackground bool   `yaml:"remove_background"`
	ExportImages     bool   `yaml:"export_images"`
	ExportThumbs     bool   `yaml:"export_thumbs"`
	ExportText       bool   `yaml:"export_text"`
	DetectDOIs       bool   `yaml:"detect_dois"`
	Marker           string `yaml:"marker"`
	Strict           bool   `yaml:"strict"`
}

// loadConfig reads the YAML file at path. An empty path yields the
// zero config with defaults applied.
func loadConfig(path string) (*FileConfig, error) {
	var cfg FileConfig
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *FileConfig) applyDefaults() {
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.Defaults.Languages == "" {
		c.Defaults.Languages = "eng"
	}
	if c.Defaults.DPI <= 0 {
		c.Defaults.DPI = 300
	}
	if c.Defaults.Backend == "" {
		c.Defaults.Backend = "ocrmypdf"
	}
}

// options converts the file defaults into pipeline Options.
func (c *FileConfig) options() (pipeline.Options, error) {
	backend, err := ocr.ParseBackend(c.Defaults.Backend)
	if err != nil {
		return pipeline.Options{}, err
	}
	layout, err := unpaper.ParseLayout(c.Defaults.Layout)
	if err != nil {
		return pipeline.Options{}, err
	}
	opts := pipeline.Options{
		Backend:          backend,
		Languages:        c.Defaults.Languages,
		DPI:              c.Defaults.DPI,
		Layout:           layout,
		OutputPages:      unpaper.OutputPages(c.Defaults.OutputPages),
		RemoveBackground: c.Defaults.RemoveBackground,
		ExportImages:     c.Defaults.ExportImages,
		ExportThumbs:     c.Defaults.ExportThumbs,
		ExportText:       c.Defaults.ExportText,
		DetectDOIs:       c.Defaults.DetectDOIs,
		Marker:           c.Defaults.Marker,
	}
	if c.Defaults.Strict {
		opts.Policy = classify.PolicyStrict
	}
	return opts, nil
}
