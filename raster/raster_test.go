package raster

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

func writePNG(t *testing.T, path string, img image.Image) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

func solidImage(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestExportImagesMissingPDF(t *testing.T) {
	// WHAT: A missing source PDF is a silent no-op.
	// WHY: Post-OCR export runs even when an upstream stage produced nothing.
	e := New(Config{})
	outDir := filepath.Join(t.TempDir(), "imgs")
	if err := e.ExportImages(context.Background(), filepath.Join(t.TempDir(), "absent.pdf"), outDir, 300, "png"); err != nil {
		t.Fatalf("expected no-op, got %v", err)
	}
	if _, err := os.Stat(outDir); !os.IsNotExist(err) {
		t.Error("no-op export should not create the output dir")
	}
}

func TestNormalizePageNames(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"page-1.png", "page-2.png", "page-10.png"} {
		os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644)
	}
	if err := normalizePageNames(dir, "png"); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"page_001.png", "page_002.png", "page_010.png"} {
		if _, err := os.Stat(filepath.Join(dir, want)); err != nil {
			t.Errorf("missing %s after normalization", want)
		}
	}
}

func TestScaleToFit(t *testing.T) {
	tests := []struct {
		w, h, max      int
		wantW, wantH   int
	}{
		{800, 600, 200, 200, 150},
		{600, 800, 200, 150, 200},
		{100, 50, 200, 100, 50}, // already fits, untouched
		{512, 512, 128, 128, 128},
	}
	for _, tt := range tests {
		got := scaleToFit(solidImage(tt.w, tt.h, color.White), tt.max)
		b := got.Bounds()
		if b.Dx() != tt.wantW || b.Dy() != tt.wantH {
			t.Errorf("scaleToFit(%dx%d, %d) = %dx%d, want %dx%d",
				tt.w, tt.h, tt.max, b.Dx(), b.Dy(), tt.wantW, tt.wantH)
		}
	}
}

func TestExportThumbnails(t *testing.T) {
	imagesDir := t.TempDir()
	thumbsDir := filepath.Join(t.TempDir(), "thumbs")
	writePNG(t, filepath.Join(imagesDir, "page_001.png"), solidImage(640, 480, color.White))
	writePNG(t, filepath.Join(imagesDir, "page_002.png"), solidImage(480, 640, color.White))

	e := New(Config{})
	if err := e.ExportThumbnails(imagesDir, thumbsDir, 100, "png", 0); err != nil {
		t.Fatal(err)
	}

	for _, name := range []string{"page_001.png", "page_002.png"} {
		f, err := os.Open(filepath.Join(thumbsDir, name))
		if err != nil {
			t.Fatalf("missing thumbnail %s: %v", name, err)
		}
		img, _, err := image.Decode(f)
		f.Close()
		if err != nil {
			t.Fatal(err)
		}
		b := img.Bounds()
		if b.Dx() > 100 || b.Dy() > 100 {
			t.Errorf("%s is %dx%d, exceeds bounding box", name, b.Dx(), b.Dy())
		}
	}
}

func TestRotateQuarter(t *testing.T) {
	// A 2x1 image: left pixel red, right pixel blue.
	img := image.NewRGBA(image.Rect(0, 0, 2, 1))
	red := color.RGBA{R: 255, A: 255}
	blue := color.RGBA{B: 255, A: 255}
	img.Set(0, 0, red)
	img.Set(1, 0, blue)

	r90 := rotateQuarter(img, 90)
	if b := r90.Bounds(); b.Dx() != 1 || b.Dy() != 2 {
		t.Fatalf("90° bounds = %v", b)
	}
	// Clockwise: red moves to the top.
	if got := color.RGBAModel.Convert(r90.At(0, 0)); got != red {
		t.Errorf("90° top pixel = %v, want red", got)
	}

	r180 := rotateQuarter(img, 180)
	if got := color.RGBAModel.Convert(r180.At(0, 0)); got != blue {
		t.Errorf("180° first pixel = %v, want blue", got)
	}

	r360 := rotateQuarter(img, 360)
	if b := r360.Bounds(); b.Dx() != 2 || b.Dy() != 1 {
		t.Errorf("360° should be identity, bounds = %v", b)
	}
}

func TestCropDarkBackground(t *testing.T) {
	dir := t.TempDir()

	// Bright content block inside a dark frame.
	framed := solidImage(100, 100, color.Black)
	for y := 30; y < 70; y++ {
		for x := 20; x < 80; x++ {
			framed.Set(x, y, color.White)
		}
	}
	framedPath := filepath.Join(dir, "framed.png")
	writePNG(t, framedPath, framed)

	// Already tight: content spans the frame.
	tightPath := filepath.Join(dir, "tight.png")
	writePNG(t, tightPath, solidImage(50, 50, color.White))

	e := New(Config{})
	n, err := e.CropDarkBackground([]string{framedPath, tightPath})
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("cropped %d images, want 1", n)
	}

	f, _ := os.Open(framedPath)
	img, _, err := image.Decode(f)
	f.Close()
	if err != nil {
		t.Fatal(err)
	}
	b := img.Bounds()
	if b.Dx() >= 100 || b.Dy() >= 100 {
		t.Errorf("framed image not shrunk: %dx%d", b.Dx(), b.Dy())
	}
	if b.Dx() < 60 || b.Dy() < 40 {
		t.Errorf("framed image over-cropped: %dx%d", b.Dx(), b.Dy())
	}

	// Untouched image keeps its dimensions.
	f2, _ := os.Open(tightPath)
	img2, _, _ := image.Decode(f2)
	f2.Close()
	if img2.Bounds().Dx() != 50 {
		t.Error("tight image was modified")
	}
}

func TestContentBoundsAllDark(t *testing.T) {
	if _, ok := contentBounds(solidImage(10, 10, color.Black)); ok {
		t.Error("all-dark image should yield no content bounds")
	}
}

func TestPNMToPNG(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "page.pgm")
	// Plain-text PGM, 2x2 gradient.
	pgm := "P2\n2 2\n255\n0 85\n170 255\n"
	if err := os.WriteFile(src, []byte(pgm), 0o644); err != nil {
		t.Fatal(err)
	}

	dst := filepath.Join(dir, "page.png")
	if err := PNMToPNG(src, dst); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(dst)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() != 2 || b.Dy() != 2 {
		t.Errorf("converted bounds = %v, want 2x2", b)
	}
}
