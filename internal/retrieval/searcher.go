package retrieval

import (
	"context"
	"fmt"
	"strings"
)

// ValidationError reports a malformed search request. The API layer maps
// it to a 400 response.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// Searcher validates queries, embeds them, and searches the published snapshot.
type Searcher struct {
	embedder   *Embedder
	collection *Collection
	defaultK   int
	maxK       int
}

// NewSearcher creates a Searcher. k defaults to defaultK when a request
// leaves it unset and is rejected outside [1, maxK].
func NewSearcher(embedder *Embedder, collection *Collection, defaultK, maxK int) *Searcher {
	return &Searcher{embedder: embedder, collection: collection, defaultK: defaultK, maxK: maxK}
}

// Search embeds the query and returns the top-K most similar chunks from
// the published snapshot, ordered by score descending. An unpublished
// (empty) collection yields empty results, not an error.
func (s *Searcher) Search(ctx context.Context, query string, k int) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, &ValidationError{Msg: "query must not be empty"}
	}
	if k == 0 {
		k = s.defaultK
	}
	if k < 1 || k > s.maxK {
		return nil, &ValidationError{Msg: fmt.Sprintf("k must be between 1 and %d", s.maxK)}
	}

	snap := s.collection.Snapshot()
	if snap == nil {
		return []Result{}, nil
	}

	// Vectors from different models are not comparable; refuse to mix them.
	if snap.Model() != s.embedder.Model() {
		return nil, fmt.Errorf("collection was embedded with model %q but the configured model is %q; rebuild the index",
			snap.Model(), s.embedder.Model())
	}

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	results := snap.Search(vec, k)
	if results == nil {
		results = []Result{}
	}
	return results, nil
}
