package config

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

// mockKeychain is a test double for the keychain interface.
type mockKeychain struct {
	value string
	err   error
}

func (m mockKeychain) Get(service, account string) (string, error) {
	return m.value, m.err
}

// mapBackend is an in-memory ConfigBackend for tests.
type mapBackend struct {
	data map[string]any
}

func newMapBackend() *mapBackend {
	return &mapBackend{data: make(map[string]any)}
}

func (b *mapBackend) GetString(key string) (string, bool, error) {
	v, ok := b.data[key]
	if !ok {
		return "", false, nil
	}
	return fmt.Sprintf("%v", v), true, nil
}

func (b *mapBackend) GetInt(key string) (int, bool, error) {
	v, ok := b.data[key]
	if !ok {
		return 0, false, nil
	}
	i, isInt := v.(int)
	if !isInt {
		return 0, true, fmt.Errorf("invalid type for %s", key)
	}
	return i, true, nil
}

func (b *mapBackend) SetString(key, val string) error {
	b.data[key] = val
	return nil
}

func (b *mapBackend) SetInt(key string, val int) error {
	b.data[key] = val
	return nil
}

func (b *mapBackend) Delete(key string) error {
	delete(b.data, key)
	return nil
}

// clearEnv blanks every QUIZDOC_* variable the loader consults so ambient
// environment cannot leak into a test. t.Setenv restores on cleanup.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		if s.env != "" {
			t.Setenv(s.env, "")
		}
	}
}

// TestDefaults verifies all default values survive an empty backend.
func TestDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := loadWith(newMapBackend(), mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 8787 {
		t.Errorf("Server.Port = %d, want 8787", cfg.Server.Port)
	}
	if cfg.Server.MaxConns != 256 {
		t.Errorf("Server.MaxConns = %d, want 256", cfg.Server.MaxConns)
	}
	if cfg.Upload.MaxBytes != 50<<20 {
		t.Errorf("Upload.MaxBytes = %d, want %d", cfg.Upload.MaxBytes, 50<<20)
	}
	if cfg.LLM.Provider != "ollama" {
		t.Errorf("LLM.Provider = %q, want %q", cfg.LLM.Provider, "ollama")
	}
	if cfg.LLM.ChatModel != "llama3.2" {
		t.Errorf("LLM.ChatModel = %q, want %q", cfg.LLM.ChatModel, "llama3.2")
	}
	if cfg.LLM.EmbedModel != "all-minilm" {
		t.Errorf("LLM.EmbedModel = %q, want %q", cfg.LLM.EmbedModel, "all-minilm")
	}
	if cfg.Ollama.Endpoint != "http://localhost:11434" {
		t.Errorf("Ollama.Endpoint = %q, want %q", cfg.Ollama.Endpoint, "http://localhost:11434")
	}
	if cfg.Index.Backend != "sqlite" {
		t.Errorf("Index.Backend = %q, want %q", cfg.Index.Backend, "sqlite")
	}
	if cfg.Index.Dimension != 384 {
		t.Errorf("Index.Dimension = %d, want 384", cfg.Index.Dimension)
	}
	if cfg.Chunk.Size != 1000 {
		t.Errorf("Chunk.Size = %d, want 1000", cfg.Chunk.Size)
	}
	if cfg.Chunk.Overlap != 200 {
		t.Errorf("Chunk.Overlap = %d, want 200", cfg.Chunk.Overlap)
	}
	if cfg.Retrieval.TopK != 3 {
		t.Errorf("Retrieval.TopK = %d, want 3", cfg.Retrieval.TopK)
	}
	if cfg.Retrieval.Rerank {
		t.Error("Retrieval.Rerank = true, want false")
	}
	if cfg.Retrieval.RerankTimeout != "10s" {
		t.Errorf("Retrieval.RerankTimeout = %q, want %q", cfg.Retrieval.RerankTimeout, "10s")
	}
	if cfg.Quiz.KeyTTLMinutes != 60 {
		t.Errorf("Quiz.KeyTTLMinutes = %d, want 60", cfg.Quiz.KeyTTLMinutes)
	}
	if cfg.Quiz.MaxPending != 1024 {
		t.Errorf("Quiz.MaxPending = %d, want 1024", cfg.Quiz.MaxPending)
	}
	if cfg.Storage.DataDir == "" {
		t.Error("Storage.DataDir is empty")
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "info")
	}
}

// TestBackendValues verifies stored values override defaults, including
// bool and float keys kept as strings in the backend.
func TestBackendValues(t *testing.T) {
	clearEnv(t)

	b := newMapBackend()
	b.data["server.port"] = 9000
	b.data["llm.chat_model"] = "qwen2.5"
	b.data["chunk.size"] = 800
	b.data["chunk.overlap"] = 80
	b.data["retrieval.rerank"] = "true"
	b.data["retrieval.rerank_threshold"] = "0.35"

	cfg, err := loadWith(b, mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.LLM.ChatModel != "qwen2.5" {
		t.Errorf("LLM.ChatModel = %q, want %q", cfg.LLM.ChatModel, "qwen2.5")
	}
	if cfg.Chunk.Size != 800 {
		t.Errorf("Chunk.Size = %d, want 800", cfg.Chunk.Size)
	}
	if cfg.Chunk.Overlap != 80 {
		t.Errorf("Chunk.Overlap = %d, want 80", cfg.Chunk.Overlap)
	}
	if !cfg.Retrieval.Rerank {
		t.Error("Retrieval.Rerank = false, want true")
	}
	if cfg.Retrieval.RerankThreshold != 0.35 {
		t.Errorf("Retrieval.RerankThreshold = %v, want 0.35", cfg.Retrieval.RerankThreshold)
	}
}

// TestEnvOverride verifies environment variables beat backend values.
func TestEnvOverride(t *testing.T) {
	clearEnv(t)

	b := newMapBackend()
	b.data["server.port"] = 9000

	t.Setenv("QUIZDOC_PORT", "9191")
	t.Setenv("QUIZDOC_CHAT_MODEL", "mistral")
	t.Setenv("QUIZDOC_RERANK", "1")

	cfg, err := loadWith(b, mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 9191 {
		t.Errorf("Server.Port = %d, want 9191", cfg.Server.Port)
	}
	if cfg.LLM.ChatModel != "mistral" {
		t.Errorf("LLM.ChatModel = %q, want %q", cfg.LLM.ChatModel, "mistral")
	}
	if !cfg.Retrieval.Rerank {
		t.Error("Retrieval.Rerank = false, want true")
	}
}

// TestInvalidEnvIgnored verifies an unparseable env value keeps the default
// instead of failing the load.
func TestInvalidEnvIgnored(t *testing.T) {
	clearEnv(t)

	t.Setenv("QUIZDOC_PORT", "not-a-number")

	cfg, err := loadWith(newMapBackend(), mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 8787 {
		t.Errorf("Server.Port = %d, want default 8787", cfg.Server.Port)
	}
}

// TestOpenRouterRequiresKey verifies a clear error when the provider is
// openrouter and no key is found anywhere.
func TestOpenRouterRequiresKey(t *testing.T) {
	clearEnv(t)

	b := newMapBackend()
	b.data["llm.provider"] = "openrouter"

	_, err := loadWith(b, mockKeychain{})
	if err == nil {
		t.Fatal("expected error for missing API key, got nil")
	}
	if got := err.Error(); !strings.Contains(got, "missing required config") {
		t.Errorf("error = %q, want it to contain %q", got, "missing required config")
	}
}

// TestOpenRouterKeyFromEnv verifies the key is picked up from the environment.
func TestOpenRouterKeyFromEnv(t *testing.T) {
	clearEnv(t)

	b := newMapBackend()
	b.data["llm.provider"] = "openrouter"

	t.Setenv("QUIZDOC_OPENROUTER_KEY", "env-key")

	cfg, err := loadWith(b, mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LLM.OpenRouterKey != "env-key" {
		t.Errorf("OpenRouterKey = %q, want %q", cfg.LLM.OpenRouterKey, "env-key")
	}
}

// TestKeychainFallback verifies the secret store is consulted when no key is
// in the backend or environment.
func TestKeychainFallback(t *testing.T) {
	clearEnv(t)

	b := newMapBackend()
	b.data["llm.provider"] = "openrouter"

	kc := mockKeychain{value: "keychain-secret"}
	cfg, err := loadWith(b, kc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LLM.OpenRouterKey != "keychain-secret" {
		t.Errorf("OpenRouterKey = %q, want %q", cfg.LLM.OpenRouterKey, "keychain-secret")
	}
}

// TestKeychainErrorNonFatal verifies a broken secret store does not fail the
// load when the provider does not need a key.
func TestKeychainErrorNonFatal(t *testing.T) {
	clearEnv(t)

	kc := mockKeychain{err: errors.New("no keychain")}
	cfg, err := loadWith(newMapBackend(), kc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LLM.OpenRouterKey != "" {
		t.Errorf("OpenRouterKey = %q, want empty", cfg.LLM.OpenRouterKey)
	}
}

func TestInvalidProvider(t *testing.T) {
	clearEnv(t)

	b := newMapBackend()
	b.data["llm.provider"] = "azure"

	_, err := loadWith(b, mockKeychain{})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if got := err.Error(); !strings.Contains(got, "invalid llm.provider") {
		t.Errorf("error = %q, want it to contain %q", got, "invalid llm.provider")
	}
}

func TestInvalidIndexBackend(t *testing.T) {
	clearEnv(t)

	b := newMapBackend()
	b.data["index.backend"] = "redis"

	_, err := loadWith(b, mockKeychain{})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if got := err.Error(); !strings.Contains(got, "invalid index.backend") {
		t.Errorf("error = %q, want it to contain %q", got, "invalid index.backend")
	}
}

func TestChunkBounds(t *testing.T) {
	clearEnv(t)

	cases := []struct {
		name    string
		size    int
		overlap int
	}{
		{"zero size", 0, 0},
		{"negative overlap", 100, -1},
		{"overlap equals size", 100, 100},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := newMapBackend()
			b.data["chunk.size"] = tc.size
			b.data["chunk.overlap"] = tc.overlap

			if _, err := loadWith(b, mockKeychain{}); err == nil {
				t.Errorf("size=%d overlap=%d: expected error, got nil", tc.size, tc.overlap)
			}
		})
	}
}

// TestSetKeyValidation exercises the error paths that never reach the
// platform backend.
func TestSetKeyValidation(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	if err := SetKey("llm.openrouter_key", "sk-123"); err == nil {
		t.Error("expected error setting a secret, got nil")
	} else if !strings.Contains(err.Error(), "QUIZDOC_OPENROUTER_KEY") {
		t.Errorf("error = %q, want mention of QUIZDOC_OPENROUTER_KEY", err)
	}

	if err := SetKey("no.such.key", "x"); err == nil {
		t.Error("expected error for unknown key, got nil")
	} else if !strings.Contains(err.Error(), "unknown config key") {
		t.Errorf("error = %q, want it to contain %q", err, "unknown config key")
	}

	if err := SetKey("server.port", "abc"); err == nil {
		t.Error("expected error for non-integer port, got nil")
	}
	if err := SetKey("retrieval.rerank", "maybe"); err == nil {
		t.Error("expected error for non-boolean rerank, got nil")
	}
	if err := SetKey("retrieval.rerank_threshold", "high"); err == nil {
		t.Error("expected error for non-float threshold, got nil")
	}
}

// TestShowAllExcludesSecrets verifies ShowAll lists every non-secret key and
// never a secret one.
func TestShowAllExcludesSecrets(t *testing.T) {
	clearEnv(t)

	cfg, err := loadWith(newMapBackend(), mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	infos := ShowAll(cfg)
	if len(infos) == 0 {
		t.Fatal("ShowAll returned no keys")
	}

	seen := make(map[string]KeyInfo, len(infos))
	for _, ki := range infos {
		if ki.Key == "llm.openrouter_key" || ki.Key == "index.qdrant_key" {
			t.Errorf("ShowAll includes secret key %q", ki.Key)
		}
		seen[ki.Key] = ki
	}

	port, ok := seen["server.port"]
	if !ok {
		t.Fatal("ShowAll is missing server.port")
	}
	if port.Value != "8787" {
		t.Errorf("server.port value = %q, want %q", port.Value, "8787")
	}
	if port.EnvVar != "QUIZDOC_PORT" {
		t.Errorf("server.port env = %q, want %q", port.EnvVar, "QUIZDOC_PORT")
	}
}

func TestValidKeys(t *testing.T) {
	keys := ValidKeys()

	want := len(specs) - 2 // two secret keys are excluded
	if len(keys) != want {
		t.Errorf("len(ValidKeys()) = %d, want %d", len(keys), want)
	}
	for _, k := range keys {
		if k == "llm.openrouter_key" || k == "index.qdrant_key" {
			t.Errorf("ValidKeys includes secret key %q", k)
		}
	}
}
