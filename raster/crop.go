package raster

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
)

// darkLuma is the 8-bit luminance below which a pixel counts as scanner
// margin rather than page content.
const darkLuma = 60

// cropMargin is the padding, in pixels, kept around the detected
// content bounding box.
const cropMargin = 8

// CropDarkBackground crops the dark scanner margins from each image by
// bounding-box-of-content detection and reports how many images were
// actually cropped. Images whose content already spans the frame are
// left untouched; cropping is only applied when it would shrink the
// bounding box.
func (e *Exporter) CropDarkBackground(files []string) (int, error) {
	cropped := 0
	for _, file := range files {
		did, err := cropFile(file)
		if err != nil {
			return cropped, fmt.Errorf("crop %s: %w", file, err)
		}
		if did {
			cropped++
		}
	}
	return cropped, nil
}

func cropFile(file string) (bool, error) {
	img, err := decodeImage(file)
	if err != nil {
		return false, err
	}

	box, ok := contentBounds(img)
	if !ok {
		// All-dark image: nothing to anchor a crop on.
		return false, nil
	}

	box = box.Inset(-cropMargin).Intersect(img.Bounds())
	if box == img.Bounds() {
		return false, nil
	}

	dst := image.NewRGBA(image.Rect(0, 0, box.Dx(), box.Dy()))
	for y := box.Min.Y; y < box.Max.Y; y++ {
		for x := box.Min.X; x < box.Max.X; x++ {
			dst.Set(x-box.Min.X, y-box.Min.Y, img.At(x, y))
		}
	}

	tmp := file + ".crop"
	f, err := os.Create(tmp)
	if err != nil {
		return false, err
	}
	if err := png.Encode(f, dst); err != nil {
		f.Close()
		os.Remove(tmp)
		return false, err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return false, err
	}
	return true, os.Rename(tmp, file)
}

// contentBounds returns the bounding box of pixels brighter than the
// dark-margin threshold. ok is false when no such pixel exists.
func contentBounds(img image.Image) (image.Rectangle, bool) {
	b := img.Bounds()
	minX, minY := b.Max.X, b.Max.Y
	maxX, maxY := b.Min.X-1, b.Min.Y-1

	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if luma8(img.At(x, y)) <= darkLuma {
				continue
			}
			if x < minX {
				minX = x
			}
			if y < minY {
				minY = y
			}
			if x > maxX {
				maxX = x
			}
			if y > maxY {
				maxY = y
			}
		}
	}
	if maxX < minX {
		return image.Rectangle{}, false
	}
	return image.Rect(minX, minY, maxX+1, maxY+1), true
}

func luma8(c color.Color) uint8 {
	return color.GrayModel.Convert(c).(color.Gray).Y
}
