package config

import "path/filepath"

type Config struct {
	Server    ServerConfig
	Ollama    OllamaConfig
	Storage   StorageConfig
	Documents DocumentsConfig
	Index     IndexConfig
	Search    SearchConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port     int
	APIToken string
}

type OllamaConfig struct {
	BaseURL    string
	EmbedModel string
}

type StorageConfig struct {
	DataDir string
}

type DocumentsConfig struct {
	Dir            string
	MaxUploadBytes int64
}

type IndexConfig struct {
	CollectionName string
	ChunkSize      int
	ChunkOverlap   int
}

type SearchConfig struct {
	DefaultK int
	MaxK     int
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	dataDir := defaultDataDir()
	return Config{
		Server: ServerConfig{
			Port: 8000,
		},
		Ollama: OllamaConfig{
			BaseURL:    "http://localhost:11434",
			EmbedModel: "nomic-embed-text",
		},
		Storage: StorageConfig{
			DataDir: dataDir,
		},
		Documents: DocumentsConfig{
			// Empty means "derive from the data dir" in loadWith.
			Dir:            "",
			MaxUploadBytes: 100 << 20,
		},
		Index: IndexConfig{
			CollectionName: "manual_chunks",
			ChunkSize:      1500,
			ChunkOverlap:   200,
		},
		Search: SearchConfig{
			DefaultK: 5,
			MaxK:     50,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend and environment
// variables.
//
// On macOS the backend is UserDefaults (domain: com.docsearch.app).
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/docsearch/config.json.
//
// Environment variables (DOCSEARCH_*) override backend values on all platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	// Documents dir tracks the data dir unless set explicitly.
	if cfg.Documents.Dir == "" {
		cfg.Documents.Dir = filepath.Join(cfg.Storage.DataDir, "document_source")
	}

	return cfg, nil
}
