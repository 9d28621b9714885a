package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/mkhuynh/docsearch/internal/api"
	"github.com/mkhuynh/docsearch/internal/chunker"
	"github.com/mkhuynh/docsearch/internal/config"
	"github.com/mkhuynh/docsearch/internal/indexer"
	"github.com/mkhuynh/docsearch/internal/ollama"
	"github.com/mkhuynh/docsearch/internal/retrieval"
	"github.com/mkhuynh/docsearch/internal/source"
	"github.com/mkhuynh/docsearch/internal/storage"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the docsearch server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running docsearch server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show docsearch system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "docsearch.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "docsearch version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Initialize structured logging.
	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	// Refuse to start twice. The health endpoint doubles as the check.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("docsearch is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("docsearch is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Check ollama readiness and pull the embedding model if needed.
	ollamaClient := ollama.New(cfg.Ollama.BaseURL)
	if err := ollama.EnsureReady(ctx, ollamaClient, cfg.Ollama.EmbedModel, os.Stderr); err != nil {
		return err
	}

	// Open storage and warm-load the published collection.
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	collection, err := retrieval.OpenCollection(store, cfg.Index.CollectionName)
	if err != nil {
		return fmt.Errorf("opening collection: %w", err)
	}
	if snap := collection.Snapshot(); snap != nil {
		slog.Info("collection loaded", "name", cfg.Index.CollectionName, "chunks", snap.Len(), "model", snap.Model())
	} else {
		slog.Info("collection empty, build the index to enable search", "name", cfg.Index.CollectionName)
	}

	src, err := source.New(cfg.Documents.Dir, cfg.Documents.MaxUploadBytes)
	if err != nil {
		return fmt.Errorf("opening document source: %w", err)
	}

	embedder := retrieval.NewEmbedder(ollamaClient, cfg.Ollama.EmbedModel)
	searcher := retrieval.NewSearcher(embedder, collection, cfg.Search.DefaultK, cfg.Search.MaxK)
	splitter := chunker.NewSplitter(cfg.Index.ChunkSize, cfg.Index.ChunkOverlap)
	builder := indexer.New(src, splitter, embedder, collection, slog.Default())

	deps := api.Deps{
		Source:     src,
		Searcher:   searcher,
		Collection: collection,
		Builder:    builder,
		Token:      cfg.Server.APIToken,
		Logger:     slog.Default(),
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: api.NewHandler(deps),
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	// MCP server over stdio for tool-calling clients.
	stdioSrv := server.NewStdioServer(api.NewMCPServer(deps))
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "docsearch listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("docsearch is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop docsearch (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to docsearch (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	serverUp := false
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			serverUp = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	ollamaResp, err := client.Get(cfg.Ollama.BaseURL + "/api/version")
	if err != nil {
		printStatus("Ollama", "not running")
	} else {
		ollamaResp.Body.Close()
		printStatus("Ollama", "running at %s", cfg.Ollama.BaseURL)
	}

	printStatus("Embed model", "%s", cfg.Ollama.EmbedModel)

	if serverUp {
		if c, err := newAPIClient(); err == nil {
			if resp, err := c.get("/collection/stats"); err == nil {
				var stats struct {
					TotalChunks int      `json:"total_chunks"`
					Sources     []string `json:"sources"`
				}
				if decodeJSON(resp, &stats) == nil {
					printStatus("Index", "%d chunks from %d sources", stats.TotalChunks, len(stats.Sources))
				}
			}
			if resp, err := c.get("/files"); err == nil {
				var files struct {
					TotalFiles int `json:"total_files"`
				}
				if decodeJSON(resp, &files) == nil {
					printStatus("Documents", "%d", files.TotalFiles)
				}
			}
		}
	}

	printStatus("Documents dir", "%s", cfg.Documents.Dir)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
