// Package extract converts source documents into ordered per-page text.
// PDF pages map to real pages; TXT and DOCX produce a single page 1.
package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Page is one unit of extracted text. Number starts at 1.
type Page struct {
	Number int
	Text   string
}

// ExtractionError reports a document that could not be parsed as its declared
// format. It is per-document: the index build records it and moves on.
type ExtractionError struct {
	File   string
	Format string
	Err    error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extracting %s as %s: %v", e.File, e.Format, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Extract reads the document at path and returns its pages in order.
// The format is chosen by file extension. Unparsable content yields an
// *ExtractionError; pages whose text is empty are omitted, so an empty
// document produces zero pages and no error.
func Extract(path string) ([]Page, error) {
	name := filepath.Base(path)
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".pdf":
		return extractPDF(path, name)
	case ".txt":
		return extractTXT(path, name)
	case ".docx", ".doc":
		return extractDOCX(path, name)
	default:
		return nil, &ExtractionError{File: name, Format: ext, Err: fmt.Errorf("unsupported file type")}
	}
}

func extractPDF(path, name string) (pages []Page, err error) {
	// The pdf parser panics on some malformed files; convert to ExtractionError.
	defer func() {
		if r := recover(); r != nil {
			pages = nil
			err = &ExtractionError{File: name, Format: "pdf", Err: fmt.Errorf("parser panic: %v", r)}
		}
	}()

	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, &ExtractionError{File: name, Format: "pdf", Err: err}
	}
	defer f.Close()

	total := reader.NumPage()
	for i := 1; i <= total; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, &ExtractionError{File: name, Format: "pdf", Err: fmt.Errorf("page %d: %w", i, err)}
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		pages = append(pages, Page{Number: i, Text: text})
	}
	return pages, nil
}

func extractTXT(path, name string) ([]Page, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ExtractionError{File: name, Format: "txt", Err: err}
	}
	text := strings.ToValidUTF8(string(data), "")
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	return []Page{{Number: 1, Text: text}}, nil
}
