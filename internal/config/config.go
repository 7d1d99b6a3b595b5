package config

import (
	"fmt"
	"strings"
)

// keychainService namespaces quizdoc secrets in the platform secret store.
const keychainService = "quizdoc"

type Config struct {
	Server    ServerConfig
	Upload    UploadConfig
	LLM       LLMConfig
	Ollama    OllamaConfig
	Index     IndexConfig
	Chunk     ChunkConfig
	Retrieval RetrievalConfig
	Quiz      QuizConfig
	Storage   StorageConfig
	Log       LogConfig
}

type ServerConfig struct {
	Host     string
	Port     int
	MaxConns int
}

type UploadConfig struct {
	MaxBytes int
}

type LLMConfig struct {
	Provider        string // "ollama" or "openrouter"
	ChatModel       string
	EmbedModel      string
	OpenRouterKey   string
	OpenRouterModel string
}

type OllamaConfig struct {
	Endpoint string
}

type IndexConfig struct {
	Backend   string // "sqlite" or "qdrant"
	Dimension int
	QdrantURL string
	QdrantKey string
}

type ChunkConfig struct {
	Size    int
	Overlap int
}

type RetrievalConfig struct {
	TopK            int
	Rerank          bool
	RerankTimeout   string // duration string, e.g. "10s"
	RerankThreshold float64
}

type QuizConfig struct {
	KeyTTLMinutes int
	MaxPending    int
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Host:     "127.0.0.1",
			Port:     8787,
			MaxConns: 256,
		},
		Upload: UploadConfig{
			MaxBytes: 50 << 20,
		},
		LLM: LLMConfig{
			Provider:        "ollama",
			ChatModel:       "llama3.2",
			EmbedModel:      "all-minilm",
			OpenRouterModel: "meta-llama/llama-3.3-70b-instruct",
		},
		Ollama: OllamaConfig{
			Endpoint: "http://localhost:11434",
		},
		Index: IndexConfig{
			Backend:   "sqlite",
			Dimension: 384,
			QdrantURL: "http://localhost:6333",
		},
		Chunk: ChunkConfig{
			Size:    1000,
			Overlap: 200,
		},
		Retrieval: RetrievalConfig{
			TopK:          3,
			RerankTimeout: "10s",
		},
		Quiz: QuizConfig{
			KeyTTLMinutes: 60,
			MaxPending:    1024,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.quizdoc.app) and secrets
// fall back to macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/quizdoc/config.json
// and secrets fall back to a secrets file under the data dir.
//
// Environment variables (QUIZDOC_*) override backend values on all platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), keychainReader{})
}

// keychain abstracts secret-store access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	// Secrets not set via environment fall back to the platform secret store.
	if cfg.LLM.OpenRouterKey == "" {
		if key, err := kc.Get(keychainService, "openrouter_key"); err == nil && key != "" {
			cfg.LLM.OpenRouterKey = key
		}
	}
	if cfg.Index.QdrantKey == "" {
		if key, err := kc.Get(keychainService, "qdrant_key"); err == nil && key != "" {
			cfg.Index.QdrantKey = key
		}
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	switch cfg.LLM.Provider {
	case "ollama":
	case "openrouter":
		if cfg.LLM.OpenRouterKey == "" {
			msg := "missing required config: OpenRouter API key. " +
				"Set it via environment variable QUIZDOC_OPENROUTER_KEY" +
				apiKeyHint()
			return fmt.Errorf("%s", msg)
		}
	default:
		return fmt.Errorf("invalid llm.provider %q: must be ollama or openrouter", cfg.LLM.Provider)
	}

	switch cfg.Index.Backend {
	case "sqlite", "qdrant":
	default:
		return fmt.Errorf("invalid index.backend %q: must be sqlite or qdrant", cfg.Index.Backend)
	}

	if cfg.Chunk.Size <= 0 {
		return fmt.Errorf("chunk.size must be positive, got %d", cfg.Chunk.Size)
	}
	if cfg.Chunk.Overlap < 0 || cfg.Chunk.Overlap >= cfg.Chunk.Size {
		return fmt.Errorf("chunk.overlap must be in [0, chunk.size), got %d", cfg.Chunk.Overlap)
	}

	return nil
}

// keychainReader reads from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainExec(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
