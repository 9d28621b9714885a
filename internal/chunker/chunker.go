// Package chunker splits per-page document text into overlapping passages
// sized for embedding. Chunk identifiers are deterministic, so re-chunking an
// unchanged document always yields the same ids.
package chunker

import (
	"fmt"
	"strings"
	"unicode"
)

const (
	defaultMaxChars = 1500
	defaultOverlap  = 200
)

// Chunk is one retrievable passage of text from a document page.
type Chunk struct {
	ID     string
	Source string
	Page   int
	Start  int // offset of the first fresh paragraph in the page text
	End    int // offset just past the last paragraph in the page text
	Text   string
}

// ChunkID builds the deterministic identifier for a chunk: the owning
// filename, page number and per-page sequence index.
func ChunkID(source string, page, seq int) string {
	return fmt.Sprintf("%s:%d:%d", source, page, seq)
}

// Splitter accumulates paragraphs into chunks of at most maxChars characters,
// carrying a tail of overlap characters across chunk boundaries.
type Splitter struct {
	maxChars int
	overlap  int
}

// NewSplitter creates a Splitter. Non-positive arguments fall back to the
// defaults (1500 chars, 200 overlap).
func NewSplitter(maxChars, overlap int) *Splitter {
	if maxChars <= 0 {
		maxChars = defaultMaxChars
	}
	if overlap < 0 || overlap >= maxChars {
		overlap = defaultOverlap
	}
	return &Splitter{maxChars: maxChars, overlap: overlap}
}

// paragraph is a trimmed non-empty line with its offset in the page text.
type paragraph struct {
	text  string
	start int
}

func splitParagraphs(text string) []paragraph {
	var paras []paragraph
	offset := 0
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed != "" {
			lead := strings.Index(line, trimmed)
			paras = append(paras, paragraph{text: trimmed, start: offset + lead})
		}
		offset += len(line) + 1
	}
	return paras
}

// ChunkPage splits one page of a document into chunks with sequential ids.
// A page shorter than the chunk size yields exactly one chunk; a page with no
// text yields none. A single paragraph longer than the chunk size is kept
// whole rather than split mid-word.
func (s *Splitter) ChunkPage(source string, page int, text string) []Chunk {
	paras := splitParagraphs(text)
	if len(paras) == 0 {
		return nil
	}

	var chunks []Chunk
	var current strings.Builder
	curStart, curEnd := 0, 0

	flush := func() {
		chunks = append(chunks, Chunk{
			ID:     ChunkID(source, page, len(chunks)),
			Source: source,
			Page:   page,
			Start:  curStart,
			End:    curEnd,
			Text:   current.String(),
		})
	}

	for _, p := range paras {
		switch {
		case current.Len() == 0:
			current.WriteString(p.text)
			curStart = p.start
		case current.Len()+len(p.text)+1 > s.maxChars:
			flush()
			tail := overlapTail(current.String(), s.overlap)
			current.Reset()
			if tail != "" {
				current.WriteString(tail)
				current.WriteString("\n")
			}
			current.WriteString(p.text)
			curStart = p.start
		default:
			current.WriteString("\n")
			current.WriteString(p.text)
		}
		curEnd = p.start + len(p.text)
	}
	if current.Len() > 0 {
		flush()
	}
	return chunks
}

// overlapTail returns up to n trailing characters of s, advanced to the next
// word boundary so the carried context never starts mid-word.
func overlapTail(s string, n int) string {
	if n <= 0 || s == "" {
		return ""
	}
	if len(s) <= n {
		return s
	}
	tail := s[len(s)-n:]
	if !startsAtBoundary(s, len(s)-n) {
		if i := strings.IndexFunc(tail, unicode.IsSpace); i >= 0 {
			tail = strings.TrimLeftFunc(tail[i:], unicode.IsSpace)
		}
	}
	return tail
}

// startsAtBoundary reports whether position i in s begins a word.
func startsAtBoundary(s string, i int) bool {
	if i == 0 {
		return true
	}
	prev := rune(s[i-1])
	return unicode.IsSpace(prev)
}
