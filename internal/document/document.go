// Package document gives the pipeline page-level access to submitted PDFs:
// the machine-readable text layer and an image census per page, plus a
// Rasterizer collaborator for pages that need to be rendered for recognition.
package document

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ledongthuc/pdf"
)

var (
	// ErrEncrypted is returned for password-protected documents, which are
	// rejected at submission.
	ErrEncrypted = errors.New("encrypted documents are not supported")
	// ErrInvalid is returned when the document cannot be parsed at all.
	ErrInvalid = errors.New("invalid or corrupted document")
	// ErrNoPages is returned for documents with zero pages.
	ErrNoPages = errors.New("document has no pages")
)

// PageContent is the decoded view of one page that classification and direct
// extraction operate on.
type PageContent struct {
	Number     int // 1-based
	Text       string
	ImageCount int
}

// Document wraps an open PDF.
type Document struct {
	reader *pdf.Reader
}

// OpenPDF parses the document. Encrypted, empty, and unparseable documents
// are rejected here so the pipeline only ever sees readable input.
func OpenPDF(data []byte) (*Document, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		if errors.Is(err, pdf.ErrInvalidPassword) {
			return nil, ErrEncrypted
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if r.NumPage() == 0 {
		return nil, ErrNoPages
	}
	return &Document{reader: r}, nil
}

// PageCount returns the number of pages.
func (d *Document) PageCount() int {
	return d.reader.NumPage()
}

// PageContent reads page n's text layer and counts its embedded raster
// images. The underlying parser panics on malformed content streams, so the
// panic is converted into an error here and the caller treats the page as
// unreadable.
func (d *Document) PageContent(n int) (pc PageContent, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("read page %d: %v", n, r)
		}
	}()

	page := d.reader.Page(n)
	if page.V.IsNull() {
		return PageContent{}, fmt.Errorf("read page %d: missing page object", n)
	}

	text, err := page.GetPlainText(nil)
	if err != nil {
		return PageContent{}, fmt.Errorf("read page %d text: %w", n, err)
	}

	return PageContent{
		Number:     n,
		Text:       text,
		ImageCount: countImages(page),
	}, nil
}

// countImages walks the page's XObject resources counting Image subtypes.
func countImages(page pdf.Page) int {
	xobjects := page.V.Key("Resources").Key("XObject")
	if xobjects.Kind() != pdf.Dict {
		return 0
	}
	count := 0
	for _, name := range xobjects.Keys() {
		if xobjects.Key(name).Key("Subtype").Name() == "Image" {
			count++
		}
	}
	return count
}
