package raster

import (
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/draw"

	"github.com/hazyhaar/pdfnorm/pdfops"
	"github.com/hazyhaar/pdfnorm/workspace"
)

// ExportThumbnails resizes the already-exported page images under
// imagesDir into thumbsDir, aspect-fit within a maxSize bounding box.
// It never re-rasterizes from the PDF. Quality applies to lossy
// formats only ("jpeg"); "png" ignores it.
func (e *Exporter) ExportThumbnails(imagesDir, thumbsDir string, maxSize int, format string, quality int) error {
	if maxSize <= 0 {
		maxSize = 256
	}
	images, err := pdfops.ListImages(imagesDir, "png")
	if err != nil {
		return fmt.Errorf("export thumbnails: %w", err)
	}
	if jpgs, err := pdfops.ListImages(imagesDir, "jpg"); err == nil {
		images = append(images, jpgs...)
	}
	if len(images) == 0 {
		return fmt.Errorf("export thumbnails: no page images in %s", imagesDir)
	}
	if err := workspace.ClearDir(thumbsDir); err != nil {
		return fmt.Errorf("export thumbnails: %w", err)
	}

	ext := "png"
	if format == "jpeg" || format == "jpg" {
		ext = "jpg"
	}
	for _, src := range images {
		stem := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
		dst := filepath.Join(thumbsDir, stem+"."+ext)
		if err := writeThumbnail(src, dst, maxSize, ext, quality); err != nil {
			return fmt.Errorf("export thumbnails: %w", err)
		}
	}
	return nil
}

func writeThumbnail(src, dst string, maxSize int, ext string, quality int) error {
	img, err := decodeImage(src)
	if err != nil {
		return err
	}

	thumb := scaleToFit(img, maxSize)

	f, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	defer f.Close()

	if ext == "jpg" {
		if quality <= 0 || quality > 100 {
			quality = 85
		}
		return jpeg.Encode(f, thumb, &jpeg.Options{Quality: quality})
	}
	return png.Encode(f, thumb)
}

// scaleToFit shrinks img so both dimensions fit within maxSize,
// preserving aspect ratio. Images already small enough pass through.
func scaleToFit(img image.Image, maxSize int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxSize && h <= maxSize {
		return img
	}

	var tw, th int
	if w >= h {
		tw = maxSize
		th = h * maxSize / w
	} else {
		th = maxSize
		tw = w * maxSize / h
	}
	if tw < 1 {
		tw = 1
	}
	if th < 1 {
		th = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, tw, th))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

func decodeImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}
