package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/pdfnorm/classify"
	"github.com/hazyhaar/pdfnorm/ocr"
	"github.com/hazyhaar/pdfnorm/unpaper"
)

// RegisterMCP registers pipeline tools on an MCP server.
func (p *Pipeline) RegisterMCP(srv *mcp.Server) {
	p.registerProcessTool(srv)
	p.registerClassifyTool(srv)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func addTool(srv *mcp.Server, tool *mcp.Tool, handler func(context.Context, json.RawMessage) (any, error)) {
	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		resp, err := handler(ctx, req.Params.Arguments)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(errors.New(err.Error()))
			return &res, nil
		}
		data, err := json.Marshal(resp)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(fmt.Errorf("marshal: %w", err))
			return &res, nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		}, nil
	})
}

// --- process ---

type processReq struct {
	Path             string `json:"path,omitempty"`
	URL              string `json:"url,omitempty"`
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
}

// options converts the wire request into validated Options.
func (r *processReq) options() (Options, error) {
	backend, err := ocr.ParseBackend(r.Backend)
	if err != nil {
		return Options{}, err
	}
	layout, err := unpaper.ParseLayout(r.Layout)
	if err != nil {
		return Options{}, err
	}
	return Options{
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
	}, nil
}

func (p *Pipeline) registerProcessTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "pdfnorm_process",
		Description: "Normalize a PDF (or a URL rendered to PDF) into a searchable document with optional image/thumbnail/text/DOI artifacts.",
		InputSchema: inputSchema(map[string]any{
			"path":              map[string]any{"type": "string", "description": "Local PDF path (exclusive with url)"},
			"url":               map[string]any{"type": "string", "description": "URL to fetch and render (exclusive with path)"},
			"backend":           map[string]any{"type": "string", "description": "OCR backend: none, ocrmypdf or tesseract"},
			"languages":         map[string]any{"type": "string", "description": "OCR language tags, e.g. eng+deu"},
			"extract_pages":     map[string]any{"type": "string", "description": "Page selector to keep, e.g. 1-3,5"},
			"skip_pages":        map[string]any{"type": "string", "description": "Page selector to drop after OCR"},
			"dpi":               map[string]any{"type": "integer", "description": "Raster resolution"},
			"layout":            map[string]any{"type": "string", "description": "Cleanup layout: none, single or double"},
			"output_pages":      map[string]any{"type": "integer", "description": "Cleanup page split: 0, 1 or 2"},
			"pre_rotate":        map[string]any{"type": "integer", "description": "Fixed pre-rotation angle"},
			"remove_background": map[string]any{"type": "boolean", "description": "Crop dark margins"},
			"export_images":     map[string]any{"type": "boolean"},
			"export_thumbs":     map[string]any{"type": "boolean"},
			"export_text":       map[string]any{"type": "boolean"},
			"detect_dois":       map[string]any{"type": "boolean"},
			"marker":            map[string]any{"type": "string", "description": "Input path prefix marker for output nesting"},
		}, nil),
	}

	addTool(srv, tool, func(ctx context.Context, args json.RawMessage) (any, error) {
		var r processReq
		if err := json.Unmarshal(args, &r); err != nil {
			return nil, fmt.Errorf("invalid arguments: %w", err)
		}
		opts, err := r.options()
		if err != nil {
			return nil, err
		}
		return p.Process(ctx, Input{Path: r.Path, URL: r.URL}, opts)
	})
}

// --- classify ---

type classifyReq struct {
	Path   string `json:"path"`
	Strict bool   `json:"strict,omitempty"`
}

func (p *Pipeline) registerClassifyTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "pdfnorm_classify",
		Description: "Classify a PDF as scanned or digital-native.",
		InputSchema: inputSchema(map[string]any{
			"path":   map[string]any{"type": "string", "description": "Local PDF path"},
			"strict": map[string]any{"type": "boolean", "description": "Require meaningful text on a non image-dominated page"},
		}, []string{"path"}),
	}

	addTool(srv, tool, func(_ context.Context, args json.RawMessage) (any, error) {
		var r classifyReq
		if err := json.Unmarshal(args, &r); err != nil {
			return nil, fmt.Errorf("invalid arguments: %w", err)
		}
		policy := classify.PolicySimple
		if r.Strict {
			policy = classify.PolicyStrict
		}
		kind, err := p.classifier.Classify(r.Path, policy)
		if err != nil {
			return nil, err
		}
		return map[string]any{"classification": string(kind)}, nil
	})
}
