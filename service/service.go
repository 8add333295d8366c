// Package service exposes the pipeline over HTTP for internal
// collaborators: submit one document, get the Result back as JSON.
package service

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazyhaar/pdfnorm/classify"
	"github.com/hazyhaar/pdfnorm/ocr"
	"github.com/hazyhaar/pdfnorm/pipeline"
	"github.com/hazyhaar/pdfnorm/unpaper"
)

// Service wires the pipeline to an HTTP router.
type Service struct {
	pipe   *pipeline.Pipeline
	logger *slog.Logger
}

// New creates a Service.
func New(pipe *pipeline.Pipeline, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{pipe: pipe, logger: logger}
}

// Router builds the chi router with the standard middleware stack.
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Post("/process", s.handleProcess)
	r.Get("/healthz", s.handleHealthz)
	return r
}

// ProcessRequest is the POST /process body: the input designation plus
// option overrides. Enum-valued options travel as their string form.
type ProcessRequest struct {
	Path             string `json:"path,omitempty"`
	URL              string `json:"url,omitempty"`
	Strict           bool   `json:"strict,omitempty"`
	Backend          string `json:"backend,omitempty"`
	Languages        string `json:"languages,omitempty"`
	ExtractPages     string `json:"extract_pages,omitempty"`
	SkipPages        string `json:"skip_pages,omitempty"`
	DPI              int    `json:"dpi,omitempty"`
	Layout           string `json:"layout,omitempty"`
	OutputPages      int    `json:"output_pages,omitempty"`
	PreRotate        int    `json:"pre_rotate,omitempty"`
	RemoveBackground bool   `json:"remove_background,omitempty"`
	ExportImages     bool   `json:"export_images,omitempty"`
	ExportThumbs     bool   `json:"export_thumbs,omitempty"`
	ExportText       bool   `json:"export_text,omitempty"`
	DetectDOIs       bool   `json:"detect_dois,omitempty"`
	Marker           string `json:"marker,omitempty"`
	ClearTemp        bool   `json:"clear_temp,omitempty"`
}

func (r *ProcessRequest) options() (pipeline.Options, error) {
	backend, err := ocr.ParseBackend(r.Backend)
	if err != nil {
		return pipeline.Options{}, err
	}
	layout, err := unpaper.ParseLayout(r.Layout)
	if err != nil {
		return pipeline.Options{}, err
	}
	opts := pipeline.Options{
		Backend:          backend,
		Languages:        r.Languages,
		ExtractPages:     r.ExtractPages,
		SkipPages:        r.SkipPages,
		DPI:              r.DPI,
		Layout:           layout,
		OutputPages:      unpaper.OutputPages(r.OutputPages),
		PreRotate:        r.PreRotate,
		RemoveBackground: r.RemoveBackground,
		ExportImages:     r.ExportImages,
		ExportThumbs:     r.ExportThumbs,
		ExportText:       r.ExportText,
		DetectDOIs:       r.DetectDOIs,
		Marker:           r.Marker,
		ClearTemp:        r.ClearTemp,
	}
	if r.Strict {
		opts.Policy = classify.PolicyStrict
	}
	return opts, nil
}

func (s *Service) handleProcess(w http.ResponseWriter, r *http.Request) {
	var req ProcessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}

	opts, err := req.options()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.pipe.Process(r.Context(), pipeline.Input{Path: req.Path, URL: req.URL}, opts)
	if err != nil {
		s.logger.Error("service: process failed", "path", req.Path, "url", req.URL, "error", err)
		status := http.StatusUnprocessableEntity
		if res == nil {
			// Rejected before any stage ran: a configuration error.
			status = http.StatusBadRequest
		}
		writeJSON(w, status, map[string]any{"error": err.Error(), "result": res})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Service) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
