package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Version states. A version is built in the staging state and becomes
// visible to searches only once it is published.
const (
	StateStaging   = "staging"
	StatePublished = "published"
)

// Version identifies one build of a chunk collection. At most one version
// is published at a time; staging versions are leftovers of in-flight or
// aborted builds.
type Version struct {
	ID             string
	Name           string
	State          string // "staging" or "published"
	EmbeddingModel string
	CreatedAt      time.Time
}

// ChunkRecord is one embedded text chunk belonging to a version.
type ChunkRecord struct {
	ID        string
	Source    string
	Page      int
	Start     int
	End       int
	TextChunk string
	Embedding []float32
}
