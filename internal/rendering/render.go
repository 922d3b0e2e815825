package rendering

import (
	"bytes"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"
	"golang.org/x/text/encoding/charmap"

	"github.com/jonathan/bom-generator/internal/types"
)

// File extensions of the two target formats.
const (
	TableExt = "csv"
	PagesExt = "pdf"
)

// Page layout used for every paged document.
const (
	fontFamily = "Arial"
	fontSize   = 12
	cellWidth  = 200
	cellHeight = 10
)

// documentDate is stamped as creation and modification date so identical
// text always renders to identical bytes.
var documentDate = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

// Renderer turns generated text into named documents.
type Renderer interface {
	RenderTable(filename, text string) (types.NamedDocument, error)
	RenderPages(filename, text string) (types.NamedDocument, error)
}

// DocumentRenderer is the default Renderer.
type DocumentRenderer struct{}

// NewRenderer returns the default renderer.
func NewRenderer() *DocumentRenderer {
	return &DocumentRenderer{}
}

// RenderTable encodes text unchanged as a UTF-8 table document.
func (r *DocumentRenderer) RenderTable(filename, text string) (types.NamedDocument, error) {
	return types.NamedDocument{Filename: filename, Bytes: []byte(text)}, nil
}

// RenderPages lays text out as a PDF with one fixed-size cell per line.
// Characters outside Latin-1 are replaced with '?'.
func (r *DocumentRenderer) RenderPages(filename, text string) (types.NamedDocument, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetCatalogSort(true)
	pdf.SetCreationDate(documentDate)
	pdf.SetModificationDate(documentDate)
	pdf.AddPage()
	pdf.SetFont(fontFamily, "", fontSize)

	for _, line := range strings.Split(strings.TrimSpace(text), "\n") {
		line = strings.TrimRight(line, "\r")
		pdf.CellFormat(cellWidth, cellHeight, ToLatin1(line), "", 1, "", false, 0, "")
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return types.NamedDocument{}, &RenderError{Filename: filename, Message: "failed to write PDF", Cause: err}
	}
	return types.NamedDocument{Filename: filename, Bytes: buf.Bytes()}, nil
}

// ToLatin1 re-encodes s as ISO-8859-1, substituting '?' for every rune the
// encoding cannot represent. The result holds raw Latin-1 bytes, which is
// what the PDF core fonts expect.
func ToLatin1(s string) string {
	out := make([]byte, 0, len(s))
	for _, r := range s {
		b, ok := charmap.ISO8859_1.EncodeRune(r)
		if !ok {
			b = '?'
		}
		out = append(out, b)
	}
	return string(out)
}
