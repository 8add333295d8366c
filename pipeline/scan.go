package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/pdfnorm/pdfops"
	"github.com/hazyhaar/pdfnorm/raster"
	"github.com/hazyhaar/pdfnorm/unpaper"
	"github.com/hazyhaar/pdfnorm/workspace"
)

// scanCleanup prepares a scanned document for OCR: rasterize, correct
// orientation, optionally crop dark margins, run the external cleanup
// filter per image, and reassemble the cleaned images into the working
// PDF. Filter unavailability degrades to passing raw rasters forward;
// a per-image filter failure falls back to that image's original
// raster so page correspondence is never broken.
func (p *Pipeline) scanCleanup(ctx context.Context, st *docState, opts Options, ws *workspace.Workspace) (StageResult, error) {
	scratch, err := ws.Scratch(st.fp)
	if err != nil {
		return StageResult{}, err
	}

	rasterDir := filepath.Join(scratch, "raster")
	if err := p.raster.ExportImages(ctx, st.work, rasterDir, opts.DPI, "png"); err != nil {
		return StageResult{}, err
	}
	files, err := pdfops.ListImages(rasterDir, "png")
	if err != nil {
		return StageResult{}, err
	}
	if len(files) == 0 {
		return StageResult{}, fmt.Errorf("rasterize produced no images for %s", st.work)
	}

	// An explicit pre-rotate angle is trusted and handed to the filter;
	// detection only runs without one.
	if opts.PreRotate == 0 {
		rotated, err := p.raster.CorrectOrientation(ctx, files)
		if err != nil {
			return StageResult{}, err
		}
		st.rotated = rotated
	} else {
		// The filter applies the angle during reassembly, so the
		// document must not be auto-rotated again by OCR. The degraded
		// exits below reset this, since without the filter the working
		// PDF is never reassembled.
		st.rotated = true
	}

	if opts.RemoveBackground {
		cropped, err := p.raster.CropDarkBackground(files)
		if err != nil {
			return StageResult{}, err
		}
		st.cropped = cropped
	}

	version, available := unpaper.Probe(ctx)
	if !available {
		// Degraded mode: raw rasters become the result image set, the
		// working PDF stays as is, and downstream OCR must not apply
		// filter-dependent cleanup options.
		p.logger.Warn("pipeline: cleanup filter unavailable, passing raw images through",
			"input", st.input)
		st.filterRan = false
		st.rotated = false // the working PDF was never rotated
		st.cleanedImages = rasterDir
		return StageResult{Status: StageDone, Artifact: rasterDir}, nil
	}
	p.logger.Debug("pipeline: cleanup filter available", "version", version)

	cleanedDir := filepath.Join(scratch, "cleaned")
	if err := workspace.ClearDir(cleanedDir); err != nil {
		return StageResult{}, err
	}

	args := unpaper.Args(unpaper.Options{
		Layout:      opts.Layout,
		OutputPages: opts.OutputPages,
		PreRotate:   opts.PreRotate,
	}, true)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.MaxConcurrent)
	for _, img := range files {
		g.Go(func() error {
			stem := strings.TrimSuffix(filepath.Base(img), ".png")
			out := filepath.Join(cleanedDir, stem+".pnm")
			if opts.OutputPages == 2 {
				// The filter writes one file per split page.
				out = filepath.Join(cleanedDir, stem+"-%d.pnm")
			}
			if err := unpaper.Run(gctx, img, out, opts.DPI, args); err != nil {
				// Recover locally: the original raster stands in for the
				// failed image, keeping one output page per input page.
				p.logger.Error("pipeline: cleanup filter failed, keeping original image",
					"image", img, "error", err)
				return pdfops.CopyFile(img, filepath.Join(cleanedDir, stem+".png"))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return StageResult{}, err
	}

	if err := convertPNMs(cleanedDir); err != nil {
		return StageResult{}, err
	}

	cleaned, err := pdfops.ListImages(cleanedDir, "png")
	if err != nil {
		return StageResult{}, err
	}
	if len(cleaned) == 0 {
		p.logger.Warn("pipeline: cleanup filter produced nothing, passing raw images through",
			"input", st.input)
		st.filterRan = false
		st.rotated = false
		st.cleanedImages = rasterDir
		return StageResult{Status: StageDone, Artifact: rasterDir}, nil
	}

	if err := pdfops.ImagesToPDF(cleanedDir, st.work, opts.DPI, "png"); err != nil {
		return StageResult{}, err
	}
	st.filterRan = true
	st.cleanedImages = cleanedDir
	return StageResult{Status: StageDone, Artifact: st.work}, nil
}

// convertPNMs converts every *.pnm under dir to a sibling PNG and
// removes the original.
func convertPNMs(dir string) error {
	pnms, err := filepath.Glob(filepath.Join(dir, "*.pnm"))
	if err != nil {
		return err
	}
	for _, src := range pnms {
		dst := strings.TrimSuffix(src, ".pnm") + ".png"
		if err := raster.PNMToPNG(src, dst); err != nil {
			return err
		}
		if err := os.Remove(src); err != nil {
			return err
		}
	}
	return nil
}
