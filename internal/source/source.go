// Package source manages the directory of uploaded documents that feed the
// search index. It is deliberately thin: files on a plain filesystem,
// identified by sanitized filename.
package source

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when a requested file does not exist.
	ErrNotFound = errors.New("file not found")

	// ErrFileTooLarge is returned by Save when the stream exceeds the size limit.
	ErrFileTooLarge = errors.New("file exceeds maximum allowed size")

	// ErrExtensionNotAllowed is returned for file types outside the allowed set.
	ErrExtensionNotAllowed = errors.New("file type not allowed")
)

// allowedExtensions is the fixed set of indexable document formats.
var allowedExtensions = map[string]bool{
	".pdf":  true,
	".txt":  true,
	".docx": true,
	".doc":  true,
}

// AllowedExtensions returns the allowed extensions in sorted order.
func AllowedExtensions() []string {
	exts := make([]string, 0, len(allowedExtensions))
	for e := range allowedExtensions {
		exts = append(exts, e)
	}
	sort.Strings(exts)
	return exts
}

// ExtensionAllowed reports whether ext (".pdf" etc, any case) is indexable.
func ExtensionAllowed(ext string) bool {
	return allowedExtensions[strings.ToLower(ext)]
}

// FileInfo describes one document in the source directory.
type FileInfo struct {
	Filename  string
	Size      int64
	Extension string
	ModTime   time.Time
}

// Dir is a document source backed by a single filesystem directory.
type Dir struct {
	root     string
	maxBytes int64
}

// New creates (if needed) and opens the document directory.
// maxBytes caps the size of files accepted by Save; <= 0 means no limit.
func New(root string, maxBytes int64) (*Dir, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating document directory: %w", err)
	}
	return &Dir{root: root, maxBytes: maxBytes}, nil
}

// Root returns the document directory path.
func (d *Dir) Root() string {
	return d.root
}

// List returns all documents with an allowed extension, sorted by filename.
func (d *Dir) List() ([]FileInfo, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return nil, fmt.Errorf("reading document directory: %w", err)
	}

	var files []FileInfo
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if !allowedExtensions[ext] {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", entry.Name(), err)
		}
		files = append(files, FileInfo{
			Filename:  entry.Name(),
			Size:      info.Size(),
			Extension: ext,
			ModTime:   info.ModTime(),
		})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Filename < files[j].Filename })
	return files, nil
}

// Save streams r into the directory under a sanitized, collision-free version
// of name. The chosen filename is returned in the FileInfo. A stream larger
// than the configured limit is discarded entirely and ErrFileTooLarge returned.
func (d *Dir) Save(name string, r io.Reader) (FileInfo, error) {
	ext := strings.ToLower(filepath.Ext(name))
	if !allowedExtensions[ext] {
		return FileInfo{}, fmt.Errorf("%w: %s", ErrExtensionNotAllowed, ext)
	}

	safe := SanitizeFilename(name)
	safe = UniqueName(safe, func(candidate string) bool {
		_, err := os.Stat(filepath.Join(d.root, candidate))
		return err == nil
	})

	path := filepath.Join(d.root, safe)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return FileInfo{}, fmt.Errorf("creating %s: %w", safe, err)
	}

	_, err = copyLimited(f, r, d.maxBytes)
	if cerr := f.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		if errors.Is(err, ErrFileTooLarge) {
			return FileInfo{}, ErrFileTooLarge
		}
		return FileInfo{}, fmt.Errorf("writing %s: %w", safe, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return FileInfo{}, fmt.Errorf("stat %s: %w", safe, err)
	}
	return FileInfo{
		Filename:  safe,
		Size:      info.Size(),
		Extension: ext,
		ModTime:   info.ModTime(),
	}, nil
}

// copyLimited copies r to w, failing with ErrFileTooLarge once more than
// limit bytes have been read. limit <= 0 disables the check.
func copyLimited(w io.Writer, r io.Reader, limit int64) (int64, error) {
	if limit <= 0 {
		return io.Copy(w, r)
	}
	n, err := io.Copy(w, io.LimitReader(r, limit))
	if err != nil {
		return n, err
	}
	if n == limit {
		// Probe for one more byte to distinguish "exactly limit" from "over".
		var probe [1]byte
		if m, _ := r.Read(probe[:]); m > 0 {
			return n, ErrFileTooLarge
		}
	}
	return n, nil
}

// Delete removes the named file. The name is reduced to its base to prevent
// path traversal.
func (d *Dir) Delete(name string) error {
	path, err := d.Path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("deleting %s: %w", filepath.Base(name), err)
	}
	return nil
}

// Path returns the absolute path of an existing regular file in the directory,
// or ErrNotFound. The name is reduced to its base to prevent path traversal.
func (d *Dir) Path(name string) (string, error) {
	safe := filepath.Base(name)
	path := filepath.Join(d.root, safe)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrNotFound, safe)
	}
	return path, nil
}

// Stat returns metadata for a single named document.
func (d *Dir) Stat(name string) (FileInfo, error) {
	path, err := d.Path(name)
	if err != nil {
		return FileInfo{}, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return FileInfo{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return FileInfo{
		Filename:  info.Name(),
		Size:      info.Size(),
		Extension: strings.ToLower(filepath.Ext(info.Name())),
		ModTime:   info.ModTime(),
	}, nil
}
