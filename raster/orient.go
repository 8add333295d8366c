package raster

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

var osdRotateRe = regexp.MustCompile(`(?m)^Rotate:\s*(\d+)`)

// CorrectOrientation runs per-image orientation detection (tesseract
// OSD) over the given files and rotates misoriented images in place.
// It reports whether ANY image was rotated, so the OCR stage can
// suppress its own auto-rotation and avoid compounding a second turn.
//
// Images are independent: detection failures on one file are logged
// and skipped, never fatal, and files may be processed in parallel.
func (e *Exporter) CorrectOrientation(ctx context.Context, files []string) (bool, error) {
	var rotated atomic.Bool

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.MaxConcurrent)
	for _, file := range files {
		g.Go(func() error {
			angle, err := detectRotation(gctx, file)
			if err != nil {
				e.cfg.Logger.Warn("raster: orientation detection failed, keeping image as-is",
					"file", file, "error", err)
				return nil
			}
			if angle%360 == 0 {
				return nil
			}
			if err := rotateInPlace(file, angle); err != nil {
				e.cfg.Logger.Warn("raster: rotation failed, keeping image as-is",
					"file", file, "angle", angle, "error", err)
				return nil
			}
			rotated.Store(true)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return rotated.Load(), err
	}
	return rotated.Load(), nil
}

// detectRotation asks tesseract's orientation-and-script detector for
// the clockwise angle that would correct the image (0, 90, 180, 270).
func detectRotation(ctx context.Context, file string) (int, error) {
	cmd := exec.CommandContext(ctx, "tesseract", file, "stdout", "--psm", "0")
	out, err := cmd.CombinedOutput()
	if err != nil {
		return 0, fmt.Errorf("tesseract osd: %w", err)
	}
	m := osdRotateRe.FindSubmatch(out)
	if m == nil {
		return 0, fmt.Errorf("tesseract osd: no Rotate line in output")
	}
	angle, err := strconv.Atoi(string(m[1]))
	if err != nil {
		return 0, fmt.Errorf("tesseract osd: bad angle: %w", err)
	}
	return angle, nil
}

// rotateInPlace rotates the PNG at file clockwise by angle degrees
// (multiples of 90) and rewrites it atomically.
func rotateInPlace(file string, angle int) error {
	img, err := decodeImage(file)
	if err != nil {
		return err
	}
	out := rotateQuarter(img, angle)

	tmp := file + ".rot"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}
	if err := png.Encode(f, out); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("encode %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, file)
}

// rotateQuarter rotates img clockwise by angle degrees, normalized to
// a quarter turn. Unrecognized angles return the image unchanged.
func rotateQuarter(img image.Image, angle int) image.Image {
	angle = ((angle % 360) + 360) % 360
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	switch angle {
	case 90:
		dst := image.NewRGBA(image.Rect(0, 0, h, w))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				dst.Set(h-1-y, x, img.At(b.Min.X+x, b.Min.Y+y))
			}
		}
		return dst
	case 180:
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				dst.Set(w-1-x, h-1-y, img.At(b.Min.X+x, b.Min.Y+y))
			}
		}
		return dst
	case 270:
		dst := image.NewRGBA(image.Rect(0, 0, h, w))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				dst.Set(y, w-1-x, img.At(b.Min.X+x, b.Min.Y+y))
			}
		}
		return dst
	default:
		return img
	}
}
