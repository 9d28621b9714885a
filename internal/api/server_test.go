package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mkhuynh/docsearch/internal/chunker"
	"github.com/mkhuynh/docsearch/internal/indexer"
	"github.com/mkhuynh/docsearch/internal/retrieval"
	"github.com/mkhuynh/docsearch/internal/source"
	"github.com/mkhuynh/docsearch/internal/storage"
)

const testToken = "test-token-12345"

// fakeEmbed maps query text length to a deterministic vector so ranking
// in tests is predictable.
type fakeEmbed struct {
	vectors map[string][]float32
}

func (f *fakeEmbed) Embed(ctx context.Context, model string, text string) ([]float32, error) {
	if vec, ok := f.vectors[text]; ok {
		return vec, nil
	}
	return []float32{1, 0}, nil
}

type testEnv struct {
	handler    http.Handler
	source     *source.Dir
	collection *retrieval.Collection
	builder    *indexer.Builder
	searcher   *retrieval.Searcher
}

func setupHandler(t *testing.T, token string) *testEnv {
	t.Helper()

	src, err := source.New(t.TempDir(), 100<<20)
	if err != nil {
		t.Fatalf("source.New: %v", err)
	}
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	collection, err := retrieval.OpenCollection(store, "manual_chunks")
	if err != nil {
		t.Fatalf("OpenCollection: %v", err)
	}

	embedder := retrieval.NewEmbedder(&fakeEmbed{}, "nomic-embed-text")
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	builder := indexer.New(src, chunker.NewSplitter(1500, 200), embedder, collection, logger)
	searcher := retrieval.NewSearcher(embedder, collection, 5, 50)

	handler := NewHandler(Deps{
		Source:     src,
		Searcher:   searcher,
		Collection: collection,
		Builder:    builder,
		Token:      token,
		Logger:     logger,
	})
	return &testEnv{handler: handler, source: src, collection: collection, builder: builder, searcher: searcher}
}

func authReq(method, url, body, token string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func doJSON(t *testing.T, h http.Handler, req *http.Request, wantStatus int) map[string]any {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != wantStatus {
		t.Fatalf("status = %d, want %d; body = %s", rr.Code, wantStatus, rr.Body.String())
	}
	var out map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decoding response: %v; body = %s", err, rr.Body.String())
	}
	return out
}

func multipartUpload(t *testing.T, filename, content string) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := part.Write([]byte(content)); err != nil {
		t.Fatalf("writing part: %v", err)
	}
	w.Close()
	return &buf, w.FormDataContentType()
}

func waitForBuild(t *testing.T, b *indexer.Builder) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for b.Status().IsRunning {
		select {
		case <-deadline:
			t.Fatal("build never finished")
		default:
			time.Sleep(time.Millisecond)
		}
	}
}

func TestHealth_NoAuthRequired(t *testing.T) {
	env := setupHandler(t, testToken)

	out := doJSON(t, env.handler, authReq(http.MethodGet, "/health", "", ""), http.StatusOK)
	if out["status"] != "ok" {
		t.Errorf("health = %v", out)
	}

	out = doJSON(t, env.handler, authReq(http.MethodGet, "/", "", ""), http.StatusOK)
	if out["service"] != "docsearch" {
		t.Errorf("root = %v", out)
	}
}

func TestAuth_Required(t *testing.T) {
	env := setupHandler(t, testToken)

	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, authReq(http.MethodGet, "/files", "", ""))
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", rr.Code)
	}

	rr = httptest.NewRecorder()
	env.handler.ServeHTTP(rr, authReq(http.MethodGet, "/files", "", "wrong-token"))
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("wrong token: status = %d, want 401", rr.Code)
	}

	doJSON(t, env.handler, authReq(http.MethodGet, "/files", "", testToken), http.StatusOK)
}

func TestAuth_DisabledWithoutToken(t *testing.T) {
	env := setupHandler(t, "")
	doJSON(t, env.handler, authReq(http.MethodGet, "/files", "", ""), http.StatusOK)
}

func TestListFiles(t *testing.T) {
	env := setupHandler(t, testToken)
	if err := os.WriteFile(filepath.Join(env.source.Root(), "manual.txt"), []byte("SPI bus timing."), 0o644); err != nil {
		t.Fatalf("writing file: %v", err)
	}

	out := doJSON(t, env.handler, authReq(http.MethodGet, "/files", "", testToken), http.StatusOK)
	if out["total_files"].(float64) != 1 {
		t.Fatalf("total_files = %v", out["total_files"])
	}
	files := out["files"].([]any)
	f := files[0].(map[string]any)
	if f["filename"] != "manual.txt" || f["extension"] != ".txt" {
		t.Errorf("file entry = %v", f)
	}
	if f["filepath"] == "" || f["size"].(float64) == 0 {
		t.Errorf("file entry missing path or size: %v", f)
	}
}

func TestUpload_SanitizesAndIndexes(t *testing.T) {
	env := setupHandler(t, testToken)

	body, contentType := multipartUpload(t, "Board Bring-Up Notes.txt", "Clock tree configuration for the main PLL.")
	req := authReq(http.MethodPost, "/files/upload", "", testToken)
	req.Body = io.NopCloser(body)
	req.Header.Set("Content-Type", contentType)

	out := doJSON(t, env.handler, req, http.StatusOK)
	if out["filename"] != "Board_Bring_Up_Notes.txt" {
		t.Errorf("filename = %v", out["filename"])
	}
	if out["message"] == "" || out["size"].(float64) == 0 {
		t.Errorf("upload response = %v", out)
	}

	// Upload kicks off a background build.
	waitForBuild(t, env.builder)
	if snap := env.collection.Snapshot(); snap == nil || snap.Len() == 0 {
		t.Errorf("no snapshot after upload-triggered build")
	}
}

func TestUpload_RejectsDisallowedExtension(t *testing.T) {
	env := setupHandler(t, testToken)

	body, contentType := multipartUpload(t, "malware.exe", "nope")
	req := authReq(http.MethodPost, "/files/upload", "", testToken)
	req.Body = io.NopCloser(body)
	req.Header.Set("Content-Type", contentType)

	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400; body = %s", rr.Code, rr.Body.String())
	}
	files, err := env.source.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(files) != 0 {
		t.Errorf("rejected upload left files behind: %v", files)
	}
}

func TestDeleteFile(t *testing.T) {
	env := setupHandler(t, testToken)
	if err := os.WriteFile(filepath.Join(env.source.Root(), "old.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("writing file: %v", err)
	}

	out := doJSON(t, env.handler, authReq(http.MethodDelete, "/files/old.txt", "", testToken), http.StatusOK)
	if out["filename"] != "old.txt" {
		t.Errorf("delete response = %v", out)
	}

	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, authReq(http.MethodDelete, "/files/old.txt", "", testToken))
	if rr.Code != http.StatusNotFound {
		t.Errorf("second delete: status = %d, want 404", rr.Code)
	}
}

func TestDownloadFile(t *testing.T) {
	env := setupHandler(t, testToken)
	if err := os.WriteFile(filepath.Join(env.source.Root(), "manual.txt"), []byte("ADC sampling notes."), 0o644); err != nil {
		t.Fatalf("writing file: %v", err)
	}

	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, authReq(http.MethodGet, "/files/download/manual.txt", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	if !strings.HasPrefix(rr.Header().Get("Content-Disposition"), "attachment") {
		t.Errorf("Content-Disposition = %q", rr.Header().Get("Content-Disposition"))
	}
	if rr.Body.String() != "ADC sampling notes." {
		t.Errorf("body = %q", rr.Body.String())
	}

	rr = httptest.NewRecorder()
	env.handler.ServeHTTP(rr, authReq(http.MethodGet, "/files/view/manual.txt", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("view status = %d", rr.Code)
	}
	if !strings.HasPrefix(rr.Header().Get("Content-Disposition"), "inline") {
		t.Errorf("view Content-Disposition = %q", rr.Header().Get("Content-Disposition"))
	}

	rr = httptest.NewRecorder()
	env.handler.ServeHTTP(rr, authReq(http.MethodGet, "/files/download/missing.txt", "", testToken))
	if rr.Code != http.StatusNotFound {
		t.Errorf("missing file: status = %d, want 404", rr.Code)
	}
}

func TestSearch(t *testing.T) {
	env := setupHandler(t, testToken)
	if err := os.WriteFile(filepath.Join(env.source.Root(), "manual.txt"), []byte("Timer prescaler configuration."), 0o644); err != nil {
		t.Fatalf("writing file: %v", err)
	}
	if _, err := env.builder.BuildSync(context.Background()); err != nil {
		t.Fatalf("BuildSync: %v", err)
	}

	out := doJSON(t, env.handler, authReq(http.MethodPost, "/search", `{"query":"timer prescaler"}`, testToken), http.StatusOK)
	if out["query"] != "timer prescaler" {
		t.Errorf("query echoed as %v", out["query"])
	}
	if out["total_results"].(float64) != 1 {
		t.Fatalf("total_results = %v; body = %v", out["total_results"], out)
	}
	res := out["results"].([]any)[0].(map[string]any)
	for _, key := range []string{"id", "text", "page", "source", "score"} {
		if _, ok := res[key]; !ok {
			t.Errorf("result missing %q: %v", key, res)
		}
	}
	if res["source"] != "manual.txt" {
		t.Errorf("source = %v", res["source"])
	}
}

func TestSearch_Validation(t *testing.T) {
	env := setupHandler(t, testToken)

	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, authReq(http.MethodPost, "/search", `{"query":""}`, testToken))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("empty query: status = %d, want 400", rr.Code)
	}

	rr = httptest.NewRecorder()
	env.handler.ServeHTTP(rr, authReq(http.MethodPost, "/search", `{"query":"x","k":500}`, testToken))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("oversized k: status = %d, want 400", rr.Code)
	}

	rr = httptest.NewRecorder()
	env.handler.ServeHTTP(rr, authReq(http.MethodPost, "/search", `not json`, testToken))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("malformed body: status = %d, want 400", rr.Code)
	}
}

func TestSearch_EmptyIndex(t *testing.T) {
	env := setupHandler(t, testToken)

	out := doJSON(t, env.handler, authReq(http.MethodPost, "/search", `{"query":"anything"}`, testToken), http.StatusOK)
	if out["total_results"].(float64) != 0 {
		t.Errorf("total_results = %v", out["total_results"])
	}
	if _, ok := out["results"].([]any); !ok {
		t.Errorf("results not an array: %v", out["results"])
	}
}

func TestCollectionStats(t *testing.T) {
	env := setupHandler(t, testToken)

	out := doJSON(t, env.handler, authReq(http.MethodGet, "/collection/stats", "", testToken), http.StatusOK)
	if out["total_chunks"].(float64) != 0 || out["collection_name"] != "manual_chunks" {
		t.Errorf("empty stats = %v", out)
	}

	if err := os.WriteFile(filepath.Join(env.source.Root(), "manual.txt"), []byte("NVIC interrupt table."), 0o644); err != nil {
		t.Fatalf("writing file: %v", err)
	}
	if _, err := env.builder.BuildSync(context.Background()); err != nil {
		t.Fatalf("BuildSync: %v", err)
	}

	out = doJSON(t, env.handler, authReq(http.MethodGet, "/collection/stats", "", testToken), http.StatusOK)
	if out["total_chunks"].(float64) != 1 || out["embedding_model"] != "nomic-embed-text" {
		t.Errorf("stats = %v", out)
	}
	sources := out["sources"].([]any)
	if len(sources) != 1 || sources[0] != "manual.txt" {
		t.Errorf("sources = %v", sources)
	}
}

func TestBuildSyncEndpoint(t *testing.T) {
	env := setupHandler(t, testToken)
	if err := os.WriteFile(filepath.Join(env.source.Root(), "manual.txt"), []byte("Reset and clock control."), 0o644); err != nil {
		t.Fatalf("writing file: %v", err)
	}

	out := doJSON(t, env.handler, authReq(http.MethodPost, "/index/build/sync", "", testToken), http.StatusOK)
	if out["success"] != true {
		t.Fatalf("build failed: %v", out)
	}
	if out["total_chunks"].(float64) != 1 || out["previous_chunks"].(float64) != 0 {
		t.Errorf("build response = %v", out)
	}
	processed := out["files_processed"].([]any)
	if len(processed) != 1 {
		t.Fatalf("files_processed = %v", processed)
	}
	fp := processed[0].(map[string]any)
	if fp["filename"] != "manual.txt" || fp["chunks"].(float64) != 1 {
		t.Errorf("files_processed[0] = %v", fp)
	}
}

func TestBuildAsyncEndpoint(t *testing.T) {
	env := setupHandler(t, testToken)
	if err := os.WriteFile(filepath.Join(env.source.Root(), "manual.txt"), []byte("Power management modes."), 0o644); err != nil {
		t.Fatalf("writing file: %v", err)
	}

	out := doJSON(t, env.handler, authReq(http.MethodPost, "/index/build", "", testToken), http.StatusAccepted)
	if out["success"] != true {
		t.Fatalf("async build response = %v", out)
	}
	waitForBuild(t, env.builder)

	status := doJSON(t, env.handler, authReq(http.MethodGet, "/index/status", "", testToken), http.StatusOK)
	if status["is_running"] != false {
		t.Errorf("is_running = %v", status["is_running"])
	}
	last, ok := status["last_result"].(map[string]any)
	if !ok || last["success"] != true {
		t.Errorf("last_result = %v", status["last_result"])
	}
}

func TestIndexStatus_Initial(t *testing.T) {
	env := setupHandler(t, testToken)

	out := doJSON(t, env.handler, authReq(http.MethodGet, "/index/status", "", testToken), http.StatusOK)
	if out["is_running"] != false {
		t.Errorf("is_running = %v", out["is_running"])
	}
	if out["last_result"] != nil {
		t.Errorf("last_result = %v", out["last_result"])
	}
}
