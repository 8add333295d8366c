// Package pdfops wraps the pdfcpu operations the pipeline needs:
// structure-preserving page extraction, page counting, image-to-PDF
// assembly and document merging. Retained pages are copied by
// reference, never re-rendered, so their content streams stay
// byte-identical to the source.
package pdfops

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"

	"github.com/hazyhaar/pdfnorm/pageset"
)

func conf() *model.Configuration {
	c := model.NewDefaultConfiguration()
	// Classic plaintext trailer: keeps the file identifier out of
	// compressed xref streams so normalizeSave can reach it.
	c.WriteObjectStream = false
	c.WriteXRefStream = false
	return c
}

var (
	stampDateRe = regexp.MustCompile(`D:\d{14}(Z|[+-]\d{2}'\d{2}')`)
	trailerIDRe = regexp.MustCompile(`/ID\s*\[[^\]]*\]`)
	hexLitRe    = regexp.MustCompile(`<[0-9a-fA-F]+>`)
)

// normalizeSave rewrites the fields pdfcpu salts with the wall clock on
// every write (the info dict date stamps and the trailer file
// identifier) so saving the same document twice yields identical
// bytes. Replacements preserve length, keeping xref offsets valid.
func normalizeSave(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("normalize save: %w", err)
	}

	data = stampDateRe.ReplaceAllFunc(data, func(m []byte) []byte {
		out := make([]byte, len(m))
		copy(out, m)
		copy(out, "D:20000101000000")
		for i := 16; i < len(out); i++ {
			if out[i] >= '0' && out[i] <= '9' {
				out[i] = '0'
			}
		}
		return out
	})

	// The replacement identifier derives from the normalized content,
	// so distinct documents keep distinct identifiers.
	sum := sha256.Sum256(trailerIDRe.ReplaceAll(data, nil))
	id := hex.EncodeToString(sum[:16])
	for _, loc := range trailerIDRe.FindAllIndex(data, -1) {
		region := data[loc[0]:loc[1]]
		for _, h := range hexLitRe.FindAllIndex(region, -1) {
			lit := region[h[0]+1 : h[1]-1]
			for i := range lit {
				lit[i] = id[i%len(id)]
			}
		}
	}

	return os.WriteFile(path, data, 0o644)
}

// ExtractPages writes a new PDF at out containing only the keep pages,
// or all pages except the skip pages. Passing both sets is a call-site
// error; passing neither is a no-op and writes nothing (the caller
// copies input to output first when a file must exist there).
//
// The result is staged in a sibling temp file and renamed into place
// after a successful save, so out is never left half-written even
// when out names the same file as in.
func ExtractPages(in, out string, keep, skip pageset.PageSet) error {
	if len(keep) > 0 && len(skip) > 0 {
		return fmt.Errorf("extract pages: keep and skip sets are mutually exclusive")
	}
	if len(keep) == 0 && len(skip) == 0 {
		return nil
	}

	tmp := stagingPath(out)
	defer os.Remove(tmp)

	var err error
	if len(keep) > 0 {
		err = api.TrimFile(in, tmp, keep.Strings(), conf())
	} else {
		err = api.RemovePagesFile(in, tmp, skip.Strings(), conf())
	}
	if err != nil {
		return fmt.Errorf("extract pages from %s: %w", in, err)
	}
	if err := normalizeSave(tmp); err != nil {
		return err
	}
	if err := os.Rename(tmp, out); err != nil {
		return fmt.Errorf("finalize %s: %w", out, err)
	}
	return nil
}

// PageCount returns the number of pages in the PDF at path.
func PageCount(path string) (int, error) {
	n, err := api.PageCountFile(path)
	if err != nil {
		return 0, fmt.Errorf("page count %s: %w", path, err)
	}
	return n, nil
}

// ImagesToPDF assembles all images with the given extension under dir,
// in sorted filename order, into a PDF at out: one full-bleed page per
// image at the given DPI, no OCR.
func ImagesToPDF(dir, out string, dpi int, ext string) error {
	images, err := ListImages(dir, ext)
	if err != nil {
		return err
	}
	if len(images) == 0 {
		return fmt.Errorf("images to pdf: no *.%s files in %s", ext, dir)
	}

	imp, err := api.Import(fmt.Sprintf("pos:full, dpi:%d", dpi), types.POINTS)
	if err != nil {
		return fmt.Errorf("import config: %w", err)
	}

	tmp := stagingPath(out)
	defer os.Remove(tmp)
	if err := api.ImportImagesFile(images, tmp, imp, conf()); err != nil {
		return fmt.Errorf("images to pdf from %s: %w", dir, err)
	}
	if err := os.Rename(tmp, out); err != nil {
		return fmt.Errorf("finalize %s: %w", out, err)
	}
	return nil
}

// MergePDFs concatenates the given documents into out, in order.
func MergePDFs(parts []string, out string) error {
	if len(parts) == 0 {
		return fmt.Errorf("merge: no input documents")
	}
	tmp := stagingPath(out)
	defer os.Remove(tmp)
	if err := api.MergeCreateFile(parts, tmp, false, conf()); err != nil {
		return fmt.Errorf("merge %d documents: %w", len(parts), err)
	}
	if err := os.Rename(tmp, out); err != nil {
		return fmt.Errorf("finalize %s: %w", out, err)
	}
	return nil
}

// ListImages returns the sorted *.ext files directly under dir.
func ListImages(dir, ext string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	var images []string
	suffix := "." + strings.TrimPrefix(ext, ".")
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(strings.ToLower(e.Name()), suffix) {
			continue
		}
		images = append(images, filepath.Join(dir, e.Name()))
	}
	sort.Strings(images)
	return images, nil
}

// CopyFile copies src to dst byte-for-byte through a staged temp file.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	tmp := stagingPath(dst)
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("copy %s: %w", src, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("finalize %s: %w", dst, err)
	}
	return nil
}

func stagingPath(final string) string {
	return filepath.Join(filepath.Dir(final),
		"."+filepath.Base(final)+".tmp-"+uuid.NewString()[:8])
}
