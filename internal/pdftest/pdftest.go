// Package pdftest builds minimal but structurally valid PDF files for
// tests: correct xref offsets, one content stream per page, optional
// image XObjects. Good enough for pdfcpu to read, validate and copy.
package pdftest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type object struct {
	nr   int
	body string
}

type builder struct {
	objs []object
}

func (b *builder) add(body string) int {
	nr := len(b.objs) + 1
	b.objs = append(b.objs, object{nr: nr, body: body})
	return nr
}

func (b *builder) bytes(rootNr int) []byte {
	var sb strings.Builder
	sb.WriteString("%PDF-1.4\n")

	offsets := make([]int, len(b.objs)+1)
	for _, o := range b.objs {
		offsets[o.nr] = sb.Len()
		fmt.Fprintf(&sb, "%d 0 obj\n%s\nendobj\n", o.nr, o.body)
	}

	xref := sb.Len()
	fmt.Fprintf(&sb, "xref\n0 %d\n", len(b.objs)+1)
	sb.WriteString("0000000000 65535 f \n")
	for nr := 1; nr <= len(b.objs); nr++ {
		fmt.Fprintf(&sb, "%010d 00000 n \n", offsets[nr])
	}
	fmt.Fprintf(&sb, "trailer\n<< /Size %d /Root %d 0 R >>\nstartxref\n%d\n%%%%EOF\n",
		len(b.objs)+1, rootNr, xref)
	return []byte(sb.String())
}

func escape(text string) string {
	text = strings.ReplaceAll(text, `\`, `\\`)
	text = strings.ReplaceAll(text, "(", `\(`)
	return strings.ReplaceAll(text, ")", `\)`)
}

func stream(dict, content string) string {
	return fmt.Sprintf("<< %s /Length %d >>\nstream\n%s\nendstream", dict, len(content), content)
}

// TextPDF builds a PDF with one page per entry in pageTexts. An empty
// entry produces a page with an empty content stream (no text layer).
func TextPDF(pageTexts ...string) []byte {
	var b builder
	catalog := b.add("<< /Type /Catalog /Pages 2 0 R >>")
	pagesNr := b.add("") // placeholder, filled below
	font := b.add("<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>")

	var kids []string
	for _, text := range pageTexts {
		content := ""
		if text != "" {
			var lines strings.Builder
			lines.WriteString("BT\n/F1 12 Tf\n72 720 Td\n")
			for i, line := range strings.Split(text, "\n") {
				if i > 0 {
					lines.WriteString("T*\n")
				}
				fmt.Fprintf(&lines, "(%s) Tj\n", escape(line))
			}
			lines.WriteString("ET")
			content = lines.String()
		}
		contentNr := b.add(stream("", content))
		pageNr := b.add(fmt.Sprintf(
			"<< /Type /Page /Parent %d 0 R /MediaBox [0 0 612 792] /Contents %d 0 R /Resources << /Font << /F1 %d 0 R >> >> >>",
			pagesNr, contentNr, font))
		kids = append(kids, fmt.Sprintf("%d 0 R", pageNr))
	}

	b.objs[pagesNr-1].body = fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>",
		strings.Join(kids, " "), len(kids))
	return b.bytes(catalog)
}

// ImagePDF builds a PDF whose pages each draw a single image XObject of
// the given pixel dimensions and carry the given text (may be empty).
// Used to simulate scanned pages and image-dominated hybrid pages.
func ImagePDF(pages int, imgW, imgH int, pageText string) []byte {
	var b builder
	catalog := b.add("<< /Type /Catalog /Pages 2 0 R >>")
	pagesNr := b.add("")
	font := b.add("<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>")

	imgData := "\xff\xd8\xff\xe0"
	img := b.add(stream(fmt.Sprintf(
		"/Type /XObject /Subtype /Image /Width %d /Height %d /ColorSpace /DeviceRGB /BitsPerComponent 8",
		imgW, imgH), imgData))

	var kids []string
	for i := 0; i < pages; i++ {
		content := "q 612 0 0 792 0 0 cm /Im1 Do Q"
		if pageText != "" {
			content += fmt.Sprintf("\nBT\n/F1 12 Tf\n72 40 Td\n(%s) Tj\nET", escape(pageText))
		}
		contentNr := b.add(stream("", content))
		pageNr := b.add(fmt.Sprintf(
			"<< /Type /Page /Parent %d 0 R /MediaBox [0 0 612 792] /Contents %d 0 R /Resources << /XObject << /Im1 %d 0 R >> /Font << /F1 %d 0 R >> >> >>",
			pagesNr, contentNr, img, font))
		kids = append(kids, fmt.Sprintf("%d 0 R", pageNr))
	}

	b.objs[pagesNr-1].body = fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>",
		strings.Join(kids, " "), len(kids))
	return b.bytes(catalog)
}

// Write drops the PDF bytes into dir under name and returns the path.
func Write(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}
