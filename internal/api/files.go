package api

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mkhuynh/docsearch/internal/indexer"
	"github.com/mkhuynh/docsearch/internal/source"
)

type fileEntry struct {
	Filename  string `json:"filename"`
	Filepath  string `json:"filepath"`
	Size      int64  `json:"size"`
	Extension string `json:"extension"`
}

func handleListFiles(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		files, err := deps.Source.List()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing files: %v", err)
			return
		}

		entries := make([]fileEntry, len(files))
		for i, f := range files {
			entries[i] = fileEntry{
				Filename:  f.Filename,
				Filepath:  filepath.Join(deps.Source.Root(), f.Filename),
				Size:      f.Size,
				Extension: f.Extension,
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"files":       entries,
			"total_files": len(entries),
		})
	}
}

func handleUploadFile(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		file, header, err := r.FormFile("file")
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "missing multipart field %q", "file")
			return
		}
		defer file.Close()

		info, err := deps.Source.Save(header.Filename, file)
		switch {
		case errors.Is(err, source.ErrExtensionNotAllowed):
			httpError(w, http.StatusBadRequest, "invalid_request_error",
				"file type not allowed; accepted extensions: %s", strings.Join(source.AllowedExtensions(), ", "))
			return
		case errors.Is(err, source.ErrFileTooLarge):
			httpError(w, http.StatusRequestEntityTooLarge, "invalid_request_error", "file exceeds the upload size limit")
			return
		case err != nil:
			httpError(w, http.StatusInternalServerError, "api_error", "saving file: %v", err)
			return
		}

		// Kick off a rebuild so the new document becomes searchable. If a
		// build is already running the file is picked up by the next one.
		if err := deps.Builder.TryStart(r.Context()); err != nil && !errors.Is(err, indexer.ErrBuildInProgress) {
			deps.Logger.Warn("starting build after upload", "file", info.Filename, "error", err)
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"message":  fmt.Sprintf("File %s uploaded successfully", info.Filename),
			"filename": info.Filename,
			"filepath": filepath.Join(deps.Source.Root(), info.Filename),
			"size":     info.Size,
		})
	}
}

func handleDeleteFile(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filename := chi.URLParam(r, "filename")

		err := deps.Source.Delete(filename)
		if errors.Is(err, source.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found_error", "file %s not found", filename)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "deleting file: %v", err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"message":  fmt.Sprintf("File %s deleted successfully", filename),
			"filename": filename,
		})
	}
}

// handleServeFile serves a source document, as an attachment for downloads
// or inline for the in-browser viewer.
func handleServeFile(deps Deps, attachment bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filename := chi.URLParam(r, "filename")

		path, err := deps.Source.Path(filename)
		if err != nil {
			httpError(w, http.StatusNotFound, "not_found_error", "file %s not found", filename)
			return
		}
		if _, err := deps.Source.Stat(filename); err != nil {
			httpError(w, http.StatusNotFound, "not_found_error", "file %s not found", filename)
			return
		}

		if ct := mediaType(filename); ct != "" {
			w.Header().Set("Content-Type", ct)
		}
		disposition := "inline"
		if attachment {
			disposition = "attachment"
		}
		w.Header().Set("Content-Disposition", fmt.Sprintf("%s; filename=%q", disposition, filename))
		http.ServeFile(w, r, path)
	}
}

func mediaType(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return "application/pdf"
	case ".txt":
		return "text/plain; charset=utf-8"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case ".doc":
		return "application/msword"
	default:
		return ""
	}
}
