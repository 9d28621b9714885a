package extract

import (
	"archive/zip"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func TestExtract_TXT(t *testing.T) {
	path := writeFile(t, "notes.txt", []byte("GPIO configuration\nset the mode register"))

	pages, err := Extract(path)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(pages) != 1 {
		t.Fatalf("got %d pages, want 1", len(pages))
	}
	if pages[0].Number != 1 {
		t.Errorf("page number = %d, want 1", pages[0].Number)
	}
	if pages[0].Text != "GPIO configuration\nset the mode register" {
		t.Errorf("unexpected text: %q", pages[0].Text)
	}
}

func TestExtract_EmptyTXT(t *testing.T) {
	path := writeFile(t, "empty.txt", []byte("   \n\t\n"))

	pages, err := Extract(path)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(pages) != 0 {
		t.Errorf("got %d pages for empty document, want 0", len(pages))
	}
}

func writeDOCX(t *testing.T, documentXML string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doc.docx")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("creating docx: %v", err)
	}
	zw := zip.NewWriter(f)
	w, err := zw.Create("word/document.xml")
	if err != nil {
		t.Fatalf("adding document.xml: %v", err)
	}
	if _, err := w.Write([]byte(documentXML)); err != nil {
		t.Fatalf("writing document.xml: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("closing zip: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("closing file: %v", err)
	}
	return path
}

func TestExtract_DOCX(t *testing.T) {
	path := writeDOCX(t, `<?xml version="1.0"?>
<document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <body>
    <p><r><t>First paragraph.</t></r></p>
    <p><r><t>Second </t></r><r><t>paragraph.</t></r></p>
    <p><r><t>  </t></r></p>
  </body>
</document>`)

	pages, err := Extract(path)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(pages) != 1 {
		t.Fatalf("got %d pages, want 1", len(pages))
	}
	want := "First paragraph.\nSecond paragraph."
	if pages[0].Text != want {
		t.Errorf("text = %q, want %q", pages[0].Text, want)
	}
}

func TestExtract_CorruptDOCX(t *testing.T) {
	path := writeFile(t, "broken.docx", []byte("this is not a zip archive"))

	_, err := Extract(path)
	var extErr *ExtractionError
	if !errors.As(err, &extErr) {
		t.Fatalf("err = %v, want *ExtractionError", err)
	}
	if extErr.File != "broken.docx" {
		t.Errorf("ExtractionError.File = %q", extErr.File)
	}
}

func TestExtract_CorruptPDF(t *testing.T) {
	path := writeFile(t, "broken.pdf", []byte("definitely not a pdf"))

	_, err := Extract(path)
	var extErr *ExtractionError
	if !errors.As(err, &extErr) {
		t.Fatalf("err = %v, want *ExtractionError", err)
	}
	if extErr.Format != "pdf" {
		t.Errorf("ExtractionError.Format = %q, want pdf", extErr.Format)
	}
}

func TestExtract_UnsupportedExtension(t *testing.T) {
	path := writeFile(t, "image.png", []byte{0x89, 0x50})

	_, err := Extract(path)
	var extErr *ExtractionError
	if !errors.As(err, &extErr) {
		t.Fatalf("err = %v, want *ExtractionError", err)
	}
}
