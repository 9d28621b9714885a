package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kInt64
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "DOCSEARCH_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.api_token", typ: kString, env: "DOCSEARCH_API_TOKEN",
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "ollama.base_url", typ: kString, env: "DOCSEARCH_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.embed_model", typ: kString, env: "DOCSEARCH_OLLAMA_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.EmbedModel },
	},
	{
		key: "storage.data_dir", typ: kString, env: "DOCSEARCH_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "documents.dir", typ: kString, env: "DOCSEARCH_DOCUMENTS_DIR",
		apply:   func(cfg *Config, v any) { cfg.Documents.Dir = v.(string) },
		extract: func(cfg Config) any { return cfg.Documents.Dir },
	},
	{
		key: "documents.max_upload_bytes", typ: kInt64, env: "DOCSEARCH_DOCUMENTS_MAX_UPLOAD_BYTES",
		apply:   func(cfg *Config, v any) { cfg.Documents.MaxUploadBytes = v.(int64) },
		extract: func(cfg Config) any { return cfg.Documents.MaxUploadBytes },
	},
	{
		key: "index.collection_name", typ: kString, env: "DOCSEARCH_INDEX_COLLECTION_NAME",
		apply:   func(cfg *Config, v any) { cfg.Index.CollectionName = v.(string) },
		extract: func(cfg Config) any { return cfg.Index.CollectionName },
	},
	{
		key: "index.chunk_size", typ: kInt, env: "DOCSEARCH_INDEX_CHUNK_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Index.ChunkSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Index.ChunkSize },
	},
	{
		key: "index.chunk_overlap", typ: kInt, env: "DOCSEARCH_INDEX_CHUNK_OVERLAP",
		apply:   func(cfg *Config, v any) { cfg.Index.ChunkOverlap = v.(int) },
		extract: func(cfg Config) any { return cfg.Index.ChunkOverlap },
	},
	{
		key: "search.default_k", typ: kInt, env: "DOCSEARCH_SEARCH_DEFAULT_K",
		apply:   func(cfg *Config, v any) { cfg.Search.DefaultK = v.(int) },
		extract: func(cfg Config) any { return cfg.Search.DefaultK },
	},
	{
		key: "search.max_k", typ: kInt, env: "DOCSEARCH_SEARCH_MAX_K",
		apply:   func(cfg *Config, v any) { cfg.Search.MaxK = v.(int) },
		extract: func(cfg Config) any { return cfg.Search.MaxK },
	},
	{
		key: "log.level", typ: kString, env: "DOCSEARCH_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt64:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if i, err := strconv.ParseInt(v, 10, 64); err == nil {
					s.apply(cfg, i)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kInt64:
			if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
