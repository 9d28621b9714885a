// Package api exposes the document index over HTTP (chi router) and over
// MCP for tool-calling clients.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mkhuynh/docsearch/internal/indexer"
	"github.com/mkhuynh/docsearch/internal/retrieval"
	"github.com/mkhuynh/docsearch/internal/source"
)

// Deps carries everything the HTTP handlers need.
type Deps struct {
	Source     *source.Dir
	Searcher   *retrieval.Searcher
	Collection *retrieval.Collection
	Builder    *indexer.Builder
	Token      string // empty disables bearer auth
	Logger     *slog.Logger
}

// NewHandler builds the full REST surface. /health stays outside auth so
// liveness checks work without a token.
func NewHandler(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(allowCORS)

	r.Get("/", handleRoot(deps))
	r.Get("/health", handleHealth(deps))

	r.Group(func(r chi.Router) {
		if deps.Token != "" {
			r.Use(BearerAuth(deps.Token))
		}

		r.Get("/files", handleListFiles(deps))
		r.Post("/files/upload", handleUploadFile(deps))
		r.Delete("/files/{filename}", handleDeleteFile(deps))
		r.Get("/files/download/{filename}", handleServeFile(deps, true))
		r.Get("/files/view/{filename}", handleServeFile(deps, false))

		r.Post("/search", handleSearch(deps))
		r.Get("/collection/stats", handleCollectionStats(deps))

		r.Post("/index/build", handleBuildAsync(deps))
		r.Post("/index/build/sync", handleBuildSync(deps))
		r.Get("/index/status", handleIndexStatus(deps))
	})

	return r
}

func handleRoot(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"service": "docsearch",
			"status":  "running",
		})
	}
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	}
}

// allowCORS mirrors the permissive policy of the original web UI deployment:
// the server binds to localhost and relies on bearer auth, not origins.
func allowCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
