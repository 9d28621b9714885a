package storage

import (
	"errors"
	"fmt"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func stageTestVersion(t *testing.T, s *Store, id string, records []ChunkRecord) {
	t.Helper()
	v := Version{ID: id, Name: "manual_chunks", EmbeddingModel: "nomic-embed-text"}
	if err := s.CreateVersion(v); err != nil {
		t.Fatalf("CreateVersion(%s): %v", id, err)
	}
	if err := s.InsertChunks(id, records); err != nil {
		t.Fatalf("InsertChunks(%s): %v", id, err)
	}
}

func testChunks(n int) []ChunkRecord {
	records := make([]ChunkRecord, n)
	for i := range records {
		records[i] = ChunkRecord{
			ID:        fmt.Sprintf("manual.pdf:1:%d", i),
			Source:    "manual.pdf",
			Page:      1,
			Start:     i * 100,
			End:       i*100 + 100,
			TextChunk: fmt.Sprintf("chunk %d", i),
			Embedding: []float32{float32(i), 1, 0},
		}
	}
	return records
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}

	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

func TestPublishedVersion_None(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.PublishedVersion("manual_chunks"); !errors.Is(err, ErrNotFound) {
		t.Errorf("PublishedVersion on empty store: err = %v, want ErrNotFound", err)
	}
}

func TestPublishRoundTrip(t *testing.T) {
	s := openTestStore(t)

	stageTestVersion(t, s, "v1", testChunks(3))
	if err := s.PublishVersion("v1"); err != nil {
		t.Fatalf("PublishVersion(v1): %v", err)
	}

	v, err := s.PublishedVersion("manual_chunks")
	if err != nil {
		t.Fatalf("PublishedVersion: %v", err)
	}
	if v.ID != "v1" || v.State != StatePublished {
		t.Errorf("published = %+v", v)
	}

	records, err := s.LoadChunks("v1")
	if err != nil {
		t.Fatalf("LoadChunks: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("LoadChunks returned %d records, want 3", len(records))
	}
	if records[0].ID != "manual.pdf:1:0" || records[0].TextChunk != "chunk 0" {
		t.Errorf("records[0] = %+v", records[0])
	}
	if len(records[0].Embedding) != 3 || records[0].Embedding[1] != 1 {
		t.Errorf("embedding round-trip: %v", records[0].Embedding)
	}
}

// TestPublishReplacesPrevious verifies that publishing a second version
// removes the first one and its chunks in the same transaction.
func TestPublishReplacesPrevious(t *testing.T) {
	s := openTestStore(t)

	stageTestVersion(t, s, "v1", testChunks(3))
	if err := s.PublishVersion("v1"); err != nil {
		t.Fatalf("PublishVersion(v1): %v", err)
	}

	stageTestVersion(t, s, "v2", testChunks(5))
	if err := s.PublishVersion("v2"); err != nil {
		t.Fatalf("PublishVersion(v2): %v", err)
	}

	v, err := s.PublishedVersion("manual_chunks")
	if err != nil {
		t.Fatalf("PublishedVersion: %v", err)
	}
	if v.ID != "v2" {
		t.Errorf("published version = %s, want v2", v.ID)
	}

	n, err := s.CountChunks("v1")
	if err != nil {
		t.Fatalf("CountChunks(v1): %v", err)
	}
	if n != 0 {
		t.Errorf("old version still has %d chunks", n)
	}
	n, err = s.CountChunks("v2")
	if err != nil {
		t.Fatalf("CountChunks(v2): %v", err)
	}
	if n != 5 {
		t.Errorf("CountChunks(v2) = %d, want 5", n)
	}
}

func TestPublishVersion_NotStaged(t *testing.T) {
	s := openTestStore(t)

	if err := s.PublishVersion("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("PublishVersion(missing): err = %v, want ErrNotFound", err)
	}

	// Publishing an already published version is also rejected.
	stageTestVersion(t, s, "v1", testChunks(1))
	if err := s.PublishVersion("v1"); err != nil {
		t.Fatalf("PublishVersion(v1): %v", err)
	}
	if err := s.PublishVersion("v1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second PublishVersion(v1): err = %v, want ErrNotFound", err)
	}
}

func TestDeleteVersion(t *testing.T) {
	s := openTestStore(t)

	stageTestVersion(t, s, "v1", testChunks(2))
	if err := s.DeleteVersion("v1"); err != nil {
		t.Fatalf("DeleteVersion: %v", err)
	}
	n, err := s.CountChunks("v1")
	if err != nil {
		t.Fatalf("CountChunks: %v", err)
	}
	if n != 0 {
		t.Errorf("chunks remain after delete: %d", n)
	}
	if err := s.DeleteVersion("v1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("double delete: err = %v, want ErrNotFound", err)
	}
}

// TestPruneStaging verifies that abandoned staging versions are cleared
// while the published version survives.
func TestPruneStaging(t *testing.T) {
	s := openTestStore(t)

	stageTestVersion(t, s, "v1", testChunks(2))
	if err := s.PublishVersion("v1"); err != nil {
		t.Fatalf("PublishVersion: %v", err)
	}
	stageTestVersion(t, s, "orphan-a", testChunks(1))
	stageTestVersion(t, s, "orphan-b", testChunks(1))

	n, err := s.PruneStaging()
	if err != nil {
		t.Fatalf("PruneStaging: %v", err)
	}
	if n != 2 {
		t.Errorf("pruned %d versions, want 2", n)
	}

	v, err := s.PublishedVersion("manual_chunks")
	if err != nil {
		t.Fatalf("PublishedVersion after prune: %v", err)
	}
	if v.ID != "v1" {
		t.Errorf("published version = %s, want v1", v.ID)
	}
	count, err := s.CountChunks("v1")
	if err != nil {
		t.Fatalf("CountChunks: %v", err)
	}
	if count != 2 {
		t.Errorf("published chunks = %d, want 2", count)
	}
}

func TestSources(t *testing.T) {
	s := openTestStore(t)

	records := []ChunkRecord{
		{ID: "b.pdf:1:0", Source: "b.pdf", Page: 1, TextChunk: "x", Embedding: []float32{1}},
		{ID: "a.txt:1:0", Source: "a.txt", Page: 1, TextChunk: "y", Embedding: []float32{1}},
		{ID: "a.txt:1:1", Source: "a.txt", Page: 1, TextChunk: "z", Embedding: []float32{1}},
	}
	stageTestVersion(t, s, "v1", records)

	sources, err := s.Sources("v1")
	if err != nil {
		t.Fatalf("Sources: %v", err)
	}
	want := []string{"a.txt", "b.pdf"}
	if len(sources) != len(want) || sources[0] != want[0] || sources[1] != want[1] {
		t.Errorf("Sources = %v, want %v", sources, want)
	}
}

func TestDecodeFloat32s_CorruptBlob(t *testing.T) {
	if _, err := decodeFloat32s([]byte{1, 2, 3}); err == nil {
		t.Error("decoding a blob of length 3 should fail")
	}
}
