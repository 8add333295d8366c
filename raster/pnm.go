package raster

import (
	"fmt"
	"image/png"
	"os"

	"github.com/spakin/netpbm"
)

// PNMToPNG converts a PNM image (PBM/PGM/PPM, the formats the external
// cleanup filter emits) to PNG at dst. The stdlib has no netpbm
// decoder, hence the dedicated dependency.
func PNMToPNG(src, dst string) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer f.Close()

	img, err := netpbm.Decode(f, nil)
	if err != nil {
		return fmt.Errorf("decode pnm %s: %w", src, err)
	}

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if err := png.Encode(out, img); err != nil {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("encode %s: %w", dst, err)
	}
	return out.Close()
}
