package source

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var (
	separatorRe  = regexp.MustCompile(`[\s\-]+`)
	nonWordRe    = regexp.MustCompile(`[^a-zA-Z0-9_]`)
	underscoreRe = regexp.MustCompile(`_+`)
)

// SanitizeFilename converts a user-supplied filename into a safe ASCII name.
// Accented characters are decomposed and reduced to their base letters, spaces
// and dashes become underscores, and anything else non-alphanumeric is dropped.
// The extension is lowercased. An empty result falls back to "file".
func SanitizeFilename(filename string) string {
	base := filepath.Base(filename)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)

	// Decompose (NFKD) so "é" becomes "e" + combining mark, then drop the marks.
	name = norm.NFKD.String(name)
	var b strings.Builder
	for _, r := range name {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		if r < 128 {
			b.WriteRune(r)
		}
	}
	name = b.String()

	name = separatorRe.ReplaceAllString(name, "_")
	name = nonWordRe.ReplaceAllString(name, "")
	name = underscoreRe.ReplaceAllString(name, "_")
	name = strings.Trim(name, "_")

	if name == "" {
		name = "file"
	}

	return name + strings.ToLower(ext)
}

// UniqueName returns name if it is free, otherwise the first "stem_N.ext"
// (N = 1, 2, ...) for which exists reports false.
func UniqueName(name string, exists func(string) bool) string {
	if !exists(name) {
		return name
	}
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s_%d%s", stem, i, ext)
		if !exists(candidate) {
			return candidate
		}
	}
}
