package extract

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// documentXML mirrors the paragraph/run/text nesting of word/document.xml.
type documentXML struct {
	Body struct {
		Paragraphs []paragraph `xml:"p"`
	} `xml:"body"`
}

type paragraph struct {
	Runs []run `xml:"r"`
}

type run struct {
	Text []textElement `xml:"t"`
}

type textElement struct {
	Content string `xml:",chardata"`
}

// extractDOCX pulls paragraph text out of a DOCX (OOXML zip) file.
// Word documents have no fixed pagination, so everything lands on page 1.
func extractDOCX(path, name string) ([]Page, error) {
	reader, err := zip.OpenReader(path)
	if err != nil {
		return nil, &ExtractionError{File: name, Format: "docx", Err: err}
	}
	defer reader.Close()

	var content []byte
	for _, file := range reader.File {
		if file.Name != "word/document.xml" {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return nil, &ExtractionError{File: name, Format: "docx", Err: err}
		}
		content, err = io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, &ExtractionError{File: name, Format: "docx", Err: err}
		}
		break
	}
	if content == nil {
		return nil, &ExtractionError{File: name, Format: "docx", Err: fmt.Errorf("word/document.xml not found")}
	}

	var doc documentXML
	if err := xml.Unmarshal(content, &doc); err != nil {
		return nil, &ExtractionError{File: name, Format: "docx", Err: err}
	}

	var b strings.Builder
	for _, para := range doc.Body.Paragraphs {
		var line strings.Builder
		for _, r := range para.Runs {
			for _, t := range r.Text {
				line.WriteString(t.Content)
			}
		}
		if strings.TrimSpace(line.String()) == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(line.String())
	}

	text := strings.TrimSpace(b.String())
	if text == "" {
		return nil, nil
	}
	return []Page{{Number: 1, Text: text}}, nil
}
