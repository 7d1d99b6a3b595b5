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
	kBool
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.host", typ: kString, env: "QUIZDOC_HOST",
		apply:   func(cfg *Config, v any) { cfg.Server.Host = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Host },
	},
	{
		key: "server.port", typ: kInt, env: "QUIZDOC_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.max_conns", typ: kInt, env: "QUIZDOC_MAX_CONNS",
		apply:   func(cfg *Config, v any) { cfg.Server.MaxConns = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.MaxConns },
	},
	{
		key: "upload.max_bytes", typ: kInt, env: "QUIZDOC_MAX_UPLOAD_BYTES",
		apply:   func(cfg *Config, v any) { cfg.Upload.MaxBytes = v.(int) },
		extract: func(cfg Config) any { return cfg.Upload.MaxBytes },
	},
	{
		key: "llm.provider", typ: kString, env: "QUIZDOC_LLM_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.LLM.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.Provider },
	},
	{
		key: "llm.chat_model", typ: kString, env: "QUIZDOC_CHAT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.LLM.ChatModel = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.ChatModel },
	},
	{
		key: "llm.embed_model", typ: kString, env: "QUIZDOC_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.LLM.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.EmbedModel },
	},
	{
		key: "llm.openrouter_key", typ: kString, env: "QUIZDOC_OPENROUTER_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.LLM.OpenRouterKey = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.OpenRouterKey },
	},
	{
		key: "llm.openrouter_model", typ: kString, env: "QUIZDOC_OPENROUTER_MODEL",
		apply:   func(cfg *Config, v any) { cfg.LLM.OpenRouterModel = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.OpenRouterModel },
	},
	{
		key: "ollama.endpoint", typ: kString, env: "QUIZDOC_OLLAMA_ENDPOINT",
		apply:   func(cfg *Config, v any) { cfg.Ollama.Endpoint = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.Endpoint },
	},
	{
		key: "index.backend", typ: kString, env: "QUIZDOC_INDEX_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Index.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Index.Backend },
	},
	{
		key: "index.dimension", typ: kInt, env: "QUIZDOC_INDEX_DIMENSION",
		apply:   func(cfg *Config, v any) { cfg.Index.Dimension = v.(int) },
		extract: func(cfg Config) any { return cfg.Index.Dimension },
	},
	{
		key: "index.qdrant_url", typ: kString, env: "QUIZDOC_QDRANT_URL",
		apply:   func(cfg *Config, v any) { cfg.Index.QdrantURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Index.QdrantURL },
	},
	{
		key: "index.qdrant_key", typ: kString, env: "QUIZDOC_QDRANT_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Index.QdrantKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Index.QdrantKey },
	},
	{
		key: "chunk.size", typ: kInt, env: "QUIZDOC_CHUNK_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Chunk.Size = v.(int) },
		extract: func(cfg Config) any { return cfg.Chunk.Size },
	},
	{
		key: "chunk.overlap", typ: kInt, env: "QUIZDOC_CHUNK_OVERLAP",
		apply:   func(cfg *Config, v any) { cfg.Chunk.Overlap = v.(int) },
		extract: func(cfg Config) any { return cfg.Chunk.Overlap },
	},
	{
		key: "retrieval.top_k", typ: kInt, env: "QUIZDOC_TOP_K",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.TopK = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.TopK },
	},
	{
		key: "retrieval.rerank", typ: kBool, env: "QUIZDOC_RERANK",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.Rerank = v.(bool) },
		extract: func(cfg Config) any { return cfg.Retrieval.Rerank },
	},
	{
		key: "retrieval.rerank_timeout", typ: kString, env: "QUIZDOC_RERANK_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.RerankTimeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Retrieval.RerankTimeout },
	},
	{
		key: "retrieval.rerank_threshold", typ: kFloat, env: "QUIZDOC_RERANK_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.RerankThreshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Retrieval.RerankThreshold },
	},
	{
		key: "quiz.key_ttl_minutes", typ: kInt, env: "QUIZDOC_QUIZ_TTL_MINUTES",
		apply:   func(cfg *Config, v any) { cfg.Quiz.KeyTTLMinutes = v.(int) },
		extract: func(cfg Config) any { return cfg.Quiz.KeyTTLMinutes },
	},
	{
		key: "quiz.max_pending", typ: kInt, env: "QUIZDOC_QUIZ_MAX_PENDING",
		apply:   func(cfg *Config, v any) { cfg.Quiz.MaxPending = v.(int) },
		extract: func(cfg Config) any { return cfg.Quiz.MaxPending },
	},
	{
		key: "data.dir", typ: kString, env: "QUIZDOC_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "QUIZDOC_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
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
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		case kFloat:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					s.apply(cfg, f)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse float from config key %s=%q: %v. Using default value.\n", s.key, v, err)
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
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
