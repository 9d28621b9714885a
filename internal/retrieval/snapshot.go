package retrieval

import (
	"container/heap"
	"math"
	"sort"

	"github.com/mkhuynh/docsearch/internal/storage"
)

// Result is a retrieved chunk with its similarity score.
type Result struct {
	ID     string
	Source string
	Page   int
	Start  int
	End    int
	Text   string
	Score  float32
}

// Snapshot is an immutable, fully in-memory view of one published version.
// Searches run against a snapshot without taking any locks, so an in-flight
// query is never affected by a concurrent publish.
type Snapshot struct {
	versionID string
	name      string
	model     string
	records   []storage.ChunkRecord
	sources   []string
}

// newSnapshot builds a snapshot from a version's chunk records.
// The records slice is owned by the snapshot after the call.
func newSnapshot(v storage.Version, records []storage.ChunkRecord) *Snapshot {
	seen := make(map[string]bool)
	var sources []string
	for _, r := range records {
		if !seen[r.Source] {
			seen[r.Source] = true
			sources = append(sources, r.Source)
		}
	}
	sort.Strings(sources)
	return &Snapshot{
		versionID: v.ID,
		name:      v.Name,
		model:     v.EmbeddingModel,
		records:   records,
		sources:   sources,
	}
}

// VersionID returns the id of the published version this snapshot was built from.
func (s *Snapshot) VersionID() string { return s.versionID }

// Model returns the embedding model the snapshot's vectors were produced with.
func (s *Snapshot) Model() string { return s.model }

// Len returns the number of chunks in the snapshot.
func (s *Snapshot) Len() int { return len(s.records) }

// Sources returns the distinct source filenames in ascending order.
// The returned slice must not be modified.
func (s *Snapshot) Sources() []string { return s.sources }

// Search performs brute-force cosine similarity search over the snapshot,
// returning the top-K most similar chunks ordered by score descending.
// Chunks with equal scores are ordered by id ascending so results are
// deterministic across runs.
func (s *Snapshot) Search(vector []float32, topK int) []Result {
	if topK <= 0 || len(s.records) == 0 {
		return nil
	}

	queryNorm := norm(vector)
	if queryNorm == 0 {
		return nil
	}

	h := &candidateHeap{records: s.records}
	heap.Init(h)

	for i, r := range s.records {
		score := dotProduct(vector, r.Embedding, queryNorm)
		c := candidate{idx: i, score: score}
		if h.Len() < topK {
			heap.Push(h, c)
		} else if h.beats(c, h.items[0]) {
			h.items[0] = c
			heap.Fix(h, 0)
		}
	}

	results := make([]Result, h.Len())
	for i := len(results) - 1; i >= 0; i-- {
		c := heap.Pop(h).(candidate)
		r := s.records[c.idx]
		results[i] = Result{
			ID:     r.ID,
			Source: r.Source,
			Page:   r.Page,
			Start:  r.Start,
			End:    r.End,
			Text:   r.TextChunk,
			Score:  c.score,
		}
	}
	return results
}

// candidate holds only the record index and score during the scan phase.
type candidate struct {
	idx   int
	score float32
}

// candidateHeap is a min-heap of candidates: the root is the worst kept
// candidate (lowest score, largest id among equal scores), so eviction
// decisions match the final result order.
type candidateHeap struct {
	items   []candidate
	records []storage.ChunkRecord
}

// beats reports whether a ranks strictly above b in the final order.
func (h *candidateHeap) beats(a, b candidate) bool {
	if a.score != b.score {
		return a.score > b.score
	}
	return h.records[a.idx].ID < h.records[b.idx].ID
}

func (h *candidateHeap) Len() int           { return len(h.items) }
func (h *candidateHeap) Less(i, j int) bool { return h.beats(h.items[j], h.items[i]) }
func (h *candidateHeap) Swap(i, j int)      { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *candidateHeap) Push(x interface{}) { h.items = append(h.items, x.(candidate)) }
func (h *candidateHeap) Pop() interface{} {
	old := h.items
	n := len(old)
	item := old[n-1]
	h.items = old[:n-1]
	return item
}

// norm returns the L2 norm of a vector.
func norm(v []float32) float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sum))
}

// dotProduct computes cosine similarity as dot(a,b) / (aNorm * bNorm).
// aNorm is the precomputed L2 norm of vector a.
func dotProduct(a, b []float32, aNorm float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot float64
	var bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	bNorm := math.Sqrt(bNormSq)
	if bNorm == 0 {
		return 0
	}
	return float32(dot / (float64(aNorm) * bNorm))
}
