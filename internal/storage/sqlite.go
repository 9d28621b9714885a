package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database holding chunk versions and their embeddings.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "docsearch.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Versions ---

// CreateVersion records a new version in the staging state.
func (s *Store) CreateVersion(v Version) error {
	createdAt := v.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO chunk_versions (id, name, state, embedding_model, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		v.ID, v.Name, StateStaging, v.EmbeddingModel, createdAt.Format(time.RFC3339),
	)
	return err
}

// PublishedVersion returns the currently published version for the given
// collection name, or ErrNotFound when nothing has been published yet.
func (s *Store) PublishedVersion(name string) (Version, error) {
	var v Version
	var createdAt string
	err := s.db.QueryRow(`
		SELECT id, name, state, embedding_model, created_at
		FROM chunk_versions WHERE name = ? AND state = ?`, name, StatePublished,
	).Scan(&v.ID, &v.Name, &v.State, &v.EmbeddingModel, &createdAt)
	if err == sql.ErrNoRows {
		return Version{}, ErrNotFound
	}
	if err != nil {
		return Version{}, err
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Version{}, fmt.Errorf("parsing created_at: %w", err)
	}
	v.CreatedAt = t
	return v, nil
}

// PublishVersion atomically replaces the published version of a collection:
// all previously published versions of the same name are removed together
// with their chunks, and the given staging version is flipped to published.
func (s *Store) PublishVersion(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning publish transaction: %w", err)
	}
	defer tx.Rollback()

	var name string
	err = tx.QueryRow(`SELECT name FROM chunk_versions WHERE id = ? AND state = ?`, id, StateStaging).Scan(&name)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("looking up staging version: %w", err)
	}

	if _, err := tx.Exec(`
		DELETE FROM chunks WHERE version_id IN
			(SELECT id FROM chunk_versions WHERE name = ? AND state = ?)`,
		name, StatePublished,
	); err != nil {
		return fmt.Errorf("removing superseded chunks: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM chunk_versions WHERE name = ? AND state = ?`, name, StatePublished); err != nil {
		return fmt.Errorf("removing superseded version: %w", err)
	}
	if _, err := tx.Exec(`UPDATE chunk_versions SET state = ? WHERE id = ?`, StatePublished, id); err != nil {
		return fmt.Errorf("publishing version %s: %w", id, err)
	}

	return tx.Commit()
}

// DeleteVersion removes a version and all its chunks.
func (s *Store) DeleteVersion(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning delete transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM chunks WHERE version_id = ?`, id); err != nil {
		return fmt.Errorf("deleting chunks for version %s: %w", id, err)
	}
	res, err := tx.Exec(`DELETE FROM chunk_versions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting version %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

// PruneStaging deletes all staging versions and their chunks. Called on
// startup to clean up builds interrupted by a crash or restart.
func (s *Store) PruneStaging() (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("beginning prune transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		DELETE FROM chunks WHERE version_id IN
			(SELECT id FROM chunk_versions WHERE state = ?)`, StateStaging,
	); err != nil {
		return 0, fmt.Errorf("pruning staging chunks: %w", err)
	}
	res, err := tx.Exec(`DELETE FROM chunk_versions WHERE state = ?`, StateStaging)
	if err != nil {
		return 0, fmt.Errorf("pruning staging versions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return int(n), nil
}

// --- Chunks ---

// InsertChunks adds records to a version in a single transaction.
func (s *Store) InsertChunks(versionID string, records []ChunkRecord) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning insert transaction: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO chunks (version_id, id, source, page, start_off, end_off, text_chunk, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("preparing insert statement: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		blob := encodeFloat32s(r.Embedding)
		if _, err := stmt.Exec(versionID, r.ID, r.Source, r.Page, r.Start, r.End, r.TextChunk, blob); err != nil {
			tx.Rollback()
			return fmt.Errorf("inserting chunk %s: %w", r.ID, err)
		}
	}

	return tx.Commit()
}

// LoadChunks returns all chunks of a version ordered by chunk id.
// Used to warm the in-memory snapshot on startup.
func (s *Store) LoadChunks(versionID string) ([]ChunkRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, source, page, start_off, end_off, text_chunk, embedding
		FROM chunks WHERE version_id = ? ORDER BY id ASC`, versionID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying chunks: %w", err)
	}
	defer rows.Close()

	var records []ChunkRecord
	for rows.Next() {
		var r ChunkRecord
		var blob []byte
		if err := rows.Scan(&r.ID, &r.Source, &r.Page, &r.Start, &r.End, &r.TextChunk, &blob); err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}
		embedding, err := decodeFloat32s(blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", r.ID, err)
		}
		r.Embedding = embedding
		records = append(records, r)
	}
	return records, rows.Err()
}

// CountChunks returns the number of chunks stored for a version.
func (s *Store) CountChunks(versionID string) (int, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM chunks WHERE version_id = ?", versionID).Scan(&count)
	return count, err
}

// Sources returns the distinct source filenames of a version in ascending order.
func (s *Store) Sources(versionID string) ([]string, error) {
	rows, err := s.db.Query("SELECT DISTINCT source FROM chunks WHERE version_id = ? ORDER BY source ASC", versionID)
	if err != nil {
		return nil, fmt.Errorf("querying sources: %w", err)
	}
	defer rows.Close()

	var sources []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		sources = append(sources, s)
	}
	return sources, rows.Err()
}
