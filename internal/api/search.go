package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mkhuynh/docsearch/internal/retrieval"
)

type searchRequest struct {
	Query string `json:"query"`
	K     int    `json:"k"`
}

type searchResult struct {
	ID     string  `json:"id"`
	Text   string  `json:"text"`
	Page   int     `json:"page"`
	Source string  `json:"source"`
	Score  float32 `json:"score"`
}

func handleSearch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req searchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		results, err := deps.Searcher.Search(r.Context(), req.Query, req.K)
		if err != nil {
			var verr *retrieval.ValidationError
			if errors.As(err, &verr) {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "%s", verr.Msg)
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "search failed: %v", err)
			return
		}

		out := make([]searchResult, len(results))
		for i, res := range results {
			out[i] = searchResult{
				ID:     res.ID,
				Text:   res.Text,
				Page:   res.Page,
				Source: res.Source,
				Score:  res.Score,
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"query":         req.Query,
			"results":       out,
			"total_results": len(out),
		})
	}
}

func handleCollectionStats(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats := deps.Collection.Stats()
		sources := stats.Sources
		if sources == nil {
			sources = []string{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"total_chunks":    stats.TotalChunks,
			"collection_name": stats.CollectionName,
			"embedding_model": stats.EmbeddingModel,
			"sources":         sources,
		})
	}
}
