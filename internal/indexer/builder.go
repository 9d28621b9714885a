// Package indexer orchestrates full rebuilds of the chunk collection:
// extract every document in the source directory, chunk and embed the text,
// stage a new version, and publish it atomically on success.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/mkhuynh/docsearch/internal/chunker"
	"github.com/mkhuynh/docsearch/internal/extract"
	"github.com/mkhuynh/docsearch/internal/retrieval"
	"github.com/mkhuynh/docsearch/internal/source"
	"github.com/mkhuynh/docsearch/internal/storage"
)

// ErrBuildInProgress is returned when a build is requested while another
// one is still running. Only one build may run at a time.
var ErrBuildInProgress = errors.New("a build is already in progress")

// State is the builder's lifecycle state.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// FileResult records the outcome for a single document. A file that failed
// extraction carries the error message and zero chunks; the build continues
// with the remaining files.
type FileResult struct {
	Filename string `json:"filename"`
	Pages    int    `json:"pages"`
	Chunks   int    `json:"chunks"`
	Error    string `json:"error,omitempty"`
}

// Result summarizes a finished build.
type Result struct {
	Success        bool         `json:"success"`
	Message        string       `json:"message"`
	TotalChunks    int          `json:"total_chunks"`
	PreviousChunks int          `json:"previous_chunks"`
	FilesProcessed []FileResult `json:"files_processed"`
	EmbeddingModel string       `json:"embedding_model,omitempty"`
	CollectionName string       `json:"collection_name,omitempty"`
	Error          string       `json:"error,omitempty"`
}

// Progress reports which document a running build is working on.
type Progress struct {
	Current  int    `json:"current"`
	Total    int    `json:"total"`
	Filename string `json:"filename"`
}

// Status is a point-in-time view of the builder.
type Status struct {
	IsRunning  bool      `json:"is_running"`
	LastResult *Result   `json:"last_result"`
	Progress   *Progress `json:"progress"`
}

// Builder drives the indexing pipeline. It is the single writer of the
// collection: concurrent build requests beyond the first are rejected
// with ErrBuildInProgress.
type Builder struct {
	source     *source.Dir
	splitter   *chunker.Splitter
	embedder   *retrieval.Embedder
	collection *retrieval.Collection
	logger     *slog.Logger

	mu         sync.Mutex
	state      State
	lastResult *Result
	progress   *Progress
}

// New creates a Builder over the given source directory and collection.
func New(src *source.Dir, splitter *chunker.Splitter, embedder *retrieval.Embedder, collection *retrieval.Collection, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{
		source:     src,
		splitter:   splitter,
		embedder:   embedder,
		collection: collection,
		logger:     logger,
	}
}

// begin transitions Idle/Succeeded/Failed -> Running, or reports
// ErrBuildInProgress. Both sync and async builds go through here.
func (b *Builder) begin() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateRunning {
		return ErrBuildInProgress
	}
	b.state = StateRunning
	b.progress = nil
	return nil
}

// finish records the result and leaves the Running state.
func (b *Builder) finish(res Result) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if res.Success {
		b.state = StateSucceeded
	} else {
		b.state = StateFailed
	}
	b.lastResult = &res
	b.progress = nil
}

func (b *Builder) setProgress(current, total int, filename string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.progress = &Progress{Current: current, Total: total, Filename: filename}
}

// TryStart launches a build in the background. It returns immediately:
// ErrBuildInProgress if a build is already running, nil once the new build
// has been admitted. The build outlives the caller's request context.
func (b *Builder) TryStart(ctx context.Context) error {
	if err := b.begin(); err != nil {
		return err
	}
	buildCtx := context.WithoutCancel(ctx)
	go func() {
		b.finish(b.run(buildCtx))
	}()
	return nil
}

// BuildSync runs a build on the calling goroutine and returns its result.
// A concurrent build causes ErrBuildInProgress.
func (b *Builder) BuildSync(ctx context.Context) (Result, error) {
	if err := b.begin(); err != nil {
		return Result{}, err
	}
	res := b.run(ctx)
	b.finish(res)
	return res, nil
}

// Status returns a snapshot of the builder's state.
func (b *Builder) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Status{
		IsRunning:  b.state == StateRunning,
		LastResult: b.lastResult,
		Progress:   b.progress,
	}
}

// State returns the current lifecycle state.
func (b *Builder) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Builder) fail(message string, err error) Result {
	if err != nil {
		b.logger.Error("index build failed", "error", err, "message", message)
		return Result{Message: message, Error: err.Error(), CollectionName: b.collection.Name()}
	}
	b.logger.Error("index build failed", "message", message)
	return Result{Message: message, CollectionName: b.collection.Name()}
}

// run performs one full rebuild. Extraction failures are recorded per file
// and skipped; embedding or storage failures abort the build and discard
// the staged version, leaving the published snapshot untouched.
func (b *Builder) run(ctx context.Context) Result {
	runID := uuid.NewString()
	logger := b.logger.With("run_id", runID)

	files, err := b.source.List()
	if err != nil {
		return b.fail("listing source documents", err)
	}
	if len(files) == 0 {
		return b.fail("no documents found in source directory", nil)
	}

	if err := b.collection.Stage(runID, b.embedder.Model()); err != nil {
		return b.fail("staging new version", err)
	}
	logger.Info("index build started", "files", len(files), "model", b.embedder.Model())

	var fileResults []FileResult
	totalChunks := 0

	for i, f := range files {
		b.setProgress(i+1, len(files), f.Filename)

		path, err := b.source.Path(f.Filename)
		if err != nil {
			fileResults = append(fileResults, FileResult{Filename: f.Filename, Error: err.Error()})
			continue
		}

		pages, err := extract.Extract(path)
		if err != nil {
			logger.Warn("skipping unreadable document", "file", f.Filename, "error", err)
			fileResults = append(fileResults, FileResult{Filename: f.Filename, Error: err.Error()})
			continue
		}

		var chunks []chunker.Chunk
		for _, p := range pages {
			chunks = append(chunks, b.splitter.ChunkPage(f.Filename, p.Number, p.Text)...)
		}
		if len(chunks) == 0 {
			fileResults = append(fileResults, FileResult{Filename: f.Filename, Pages: len(pages)})
			continue
		}

		texts := make([]string, len(chunks))
		for j, c := range chunks {
			texts[j] = c.Text
		}
		vectors, err := b.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			b.discard(runID)
			return b.fail(fmt.Sprintf("embedding %s", f.Filename), err)
		}

		records := make([]storage.ChunkRecord, len(chunks))
		for j, c := range chunks {
			records[j] = storage.ChunkRecord{
				ID:        c.ID,
				Source:    c.Source,
				Page:      c.Page,
				Start:     c.Start,
				End:       c.End,
				TextChunk: c.Text,
				Embedding: vectors[j],
			}
		}
		if err := b.collection.Add(records); err != nil {
			b.discard(runID)
			return b.fail(fmt.Sprintf("storing chunks for %s", f.Filename), err)
		}

		fileResults = append(fileResults, FileResult{Filename: f.Filename, Pages: len(pages), Chunks: len(chunks)})
		totalChunks += len(chunks)
		logger.Info("document indexed", "file", f.Filename, "pages", len(pages), "chunks", len(chunks))
	}

	if totalChunks == 0 {
		b.discard(runID)
		res := b.fail("no processable documents in source directory", nil)
		res.FilesProcessed = fileResults
		return res
	}

	previousChunks, err := b.collection.Publish()
	if err != nil {
		b.discard(runID)
		return b.fail("publishing new version", err)
	}

	logger.Info("index build finished", "total_chunks", totalChunks, "previous_chunks", previousChunks)
	return Result{
		Success:        true,
		Message:        fmt.Sprintf("Indexed %d chunks from %d files", totalChunks, len(files)),
		TotalChunks:    totalChunks,
		PreviousChunks: previousChunks,
		FilesProcessed: fileResults,
		EmbeddingModel: b.embedder.Model(),
		CollectionName: b.collection.Name(),
	}
}

func (b *Builder) discard(runID string) {
	if err := b.collection.Discard(); err != nil && !errors.Is(err, retrieval.ErrNoStagingVersion) {
		b.logger.Warn("discarding staged version", "run_id", runID, "error", err)
	}
}
