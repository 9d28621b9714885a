package api

import (
	"errors"
	"net/http"

	"github.com/mkhuynh/docsearch/internal/indexer"
)

func handleBuildAsync(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := deps.Builder.TryStart(r.Context())
		if errors.Is(err, indexer.ErrBuildInProgress) {
			httpError(w, http.StatusConflict, "concurrency_error", "an index build is already in progress")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "starting build: %v", err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{
			"success": true,
			"message": "Index build started; poll /index/status for progress",
		})
	}
}

func handleBuildSync(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, err := deps.Builder.BuildSync(r.Context())
		if errors.Is(err, indexer.ErrBuildInProgress) {
			httpError(w, http.StatusConflict, "concurrency_error", "an index build is already in progress")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "running build: %v", err)
			return
		}
		if result.FilesProcessed == nil {
			result.FilesProcessed = []indexer.FileResult{}
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func handleIndexStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.Builder.Status())
	}
}
