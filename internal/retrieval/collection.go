package retrieval

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/mkhuynh/docsearch/internal/storage"
)

// ErrNoStagingVersion is returned by Add, Publish, and Discard when no
// staging version is open.
var ErrNoStagingVersion = errors.New("no staging version")

// Stats describes the currently published snapshot.
type Stats struct {
	TotalChunks    int
	CollectionName string
	EmbeddingModel string
	Sources        []string
}

// Collection is a named, versioned set of embedded chunks. A build stages a
// new version (persisted to SQLite and accumulated in memory) and publishes
// it with a single atomic pointer swap; readers holding the previous snapshot
// keep using it until they let go of the reference.
type Collection struct {
	store *storage.Store
	name  string

	current atomic.Pointer[Snapshot]

	mu      sync.Mutex
	staging *stagingVersion
}

type stagingVersion struct {
	version storage.Version
	records []storage.ChunkRecord
}

// OpenCollection prunes any staging versions left behind by an interrupted
// build and, if a published version exists, loads it into memory.
func OpenCollection(store *storage.Store, name string) (*Collection, error) {
	if _, err := store.PruneStaging(); err != nil {
		return nil, fmt.Errorf("pruning staging versions: %w", err)
	}

	c := &Collection{store: store, name: name}

	v, err := store.PublishedVersion(name)
	if errors.Is(err, storage.ErrNotFound) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading published version: %w", err)
	}

	records, err := store.LoadChunks(v.ID)
	if err != nil {
		return nil, fmt.Errorf("loading chunks for version %s: %w", v.ID, err)
	}
	c.current.Store(newSnapshot(v, records))
	return c, nil
}

// Name returns the collection name.
func (c *Collection) Name() string { return c.name }

// Snapshot returns the currently published snapshot, or nil when nothing
// has been published yet.
func (c *Collection) Snapshot() *Snapshot {
	return c.current.Load()
}

// Stage opens a new staging version. Only one staging version may be open
// at a time; the build orchestrator guarantees single-writer access.
func (c *Collection) Stage(versionID, embeddingModel string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.staging != nil {
		return fmt.Errorf("staging version %s already open", c.staging.version.ID)
	}

	v := storage.Version{
		ID:             versionID,
		Name:           c.name,
		State:          storage.StateStaging,
		EmbeddingModel: embeddingModel,
	}
	if err := c.store.CreateVersion(v); err != nil {
		return fmt.Errorf("creating version %s: %w", versionID, err)
	}
	c.staging = &stagingVersion{version: v}
	return nil
}

// Add persists records to the open staging version and accumulates them
// in memory for the snapshot built at publish time.
func (c *Collection) Add(records []storage.ChunkRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.staging == nil {
		return ErrNoStagingVersion
	}
	if len(records) == 0 {
		return nil
	}
	if err := c.store.InsertChunks(c.staging.version.ID, records); err != nil {
		return err
	}
	c.staging.records = append(c.staging.records, records...)
	return nil
}

// Publish flips the staging version to published, replacing any previously
// published version in the same transaction, and swaps in the new snapshot.
// It returns the chunk count of the snapshot that was replaced.
func (c *Collection) Publish() (previousChunks int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.staging == nil {
		return 0, ErrNoStagingVersion
	}

	if err := c.store.PublishVersion(c.staging.version.ID); err != nil {
		return 0, fmt.Errorf("publishing version %s: %w", c.staging.version.ID, err)
	}

	v := c.staging.version
	v.State = storage.StatePublished
	next := newSnapshot(v, c.staging.records)
	prev := c.current.Swap(next)
	c.staging = nil

	if prev != nil {
		previousChunks = prev.Len()
	}
	return previousChunks, nil
}

// Discard drops the open staging version and its persisted chunks.
// The published snapshot is untouched.
func (c *Collection) Discard() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.staging == nil {
		return ErrNoStagingVersion
	}
	id := c.staging.version.ID
	c.staging = nil
	if err := c.store.DeleteVersion(id); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("discarding version %s: %w", id, err)
	}
	return nil
}

// Stats reports the published snapshot's size, model, and sources.
// A collection with no published version reports zero chunks.
func (c *Collection) Stats() Stats {
	snap := c.current.Load()
	if snap == nil {
		return Stats{CollectionName: c.name, Sources: []string{}}
	}
	return Stats{
		TotalChunks:    snap.Len(),
		CollectionName: c.name,
		EmbeddingModel: snap.Model(),
		Sources:        snap.Sources(),
	}
}
