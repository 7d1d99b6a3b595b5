package chat

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/quizdoc/quizdoc/internal/retrieval"
	"github.com/quizdoc/quizdoc/internal/vectorindex"
)

type mockSearcher struct {
	searchFn func(ctx context.Context, sessionID, query string, topK int) ([]retrieval.Chunk, error)
}

func (m *mockSearcher) Search(ctx context.Context, sessionID, query string, topK int) ([]retrieval.Chunk, error) {
	return m.searchFn(ctx, sessionID, query, topK)
}

type mockCompleter struct {
	completeFn func(ctx context.Context, model, prompt string, temperature float64, maxTokens int) (string, error)
}

func (m *mockCompleter) Complete(ctx context.Context, model, prompt string, temperature float64, maxTokens int) (string, error) {
	return m.completeFn(ctx, model, prompt, temperature, maxTokens)
}

// reverseReranker reverses chunk order so reranking is observable.
type reverseReranker struct{}

func (reverseReranker) Rerank(_ context.Context, _ string, chunks []retrieval.Chunk) ([]retrieval.Chunk, error) {
	out := make([]retrieval.Chunk, len(chunks))
	for i, ch := range chunks {
		out[len(chunks)-1-i] = ch
	}
	return out, nil
}

func twoChunks() []retrieval.Chunk {
	return []retrieval.Chunk{
		{ChunkID: 0, Text: "alpha", Score: 0.9},
		{ChunkID: 2, Text: "beta", Score: 0.7},
	}
}

func TestAnswer_PromptShape(t *testing.T) {
	store := &mockSearcher{
		searchFn: func(_ context.Context, _, _ string, _ int) ([]retrieval.Chunk, error) {
			return twoChunks(), nil
		},
	}

	var gotPrompt string
	var gotTemp float64
	var gotMaxTokens int
	llm := &mockCompleter{
		completeFn: func(_ context.Context, _, prompt string, temperature float64, maxTokens int) (string, error) {
			gotPrompt = prompt
			gotTemp = temperature
			gotMaxTokens = maxTokens
			return "The document is about storage.", nil
		},
	}

	a := NewAnswerer(store, llm, "llama3.2", 3, nil)
	ans, err := a.Answer(context.Background(), "sess-1", "What is this about?")
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}

	wantPrompt := "Based on the following context from the document, please answer the question.\n\n" +
		"Context:\nalpha\n\nbeta\n\n" +
		"Question: What is this about?\n\n" +
		"Answer:"
	if gotPrompt != wantPrompt {
		t.Errorf("prompt = %q, want %q", gotPrompt, wantPrompt)
	}
	if gotTemp != 0.7 {
		t.Errorf("temperature = %v, want 0.7", gotTemp)
	}
	if gotMaxTokens != 500 {
		t.Errorf("maxTokens = %d, want 500", gotMaxTokens)
	}

	if ans.Text != "The document is about storage." {
		t.Errorf("answer = %q, want model response", ans.Text)
	}
	wantSources := []string{"Chunk 0", "Chunk 2"}
	if len(ans.Sources) != 2 || ans.Sources[0] != wantSources[0] || ans.Sources[1] != wantSources[1] {
		t.Errorf("sources = %v, want %v", ans.Sources, wantSources)
	}
}

func TestAnswer_DefaultTopK(t *testing.T) {
	var gotTopK int
	store := &mockSearcher{
		searchFn: func(_ context.Context, _, _ string, topK int) ([]retrieval.Chunk, error) {
			gotTopK = topK
			return nil, nil
		},
	}
	llm := &mockCompleter{
		completeFn: func(_ context.Context, _, _ string, _ float64, _ int) (string, error) {
			return "ok", nil
		},
	}

	a := NewAnswerer(store, llm, "llama3.2", 0, nil)
	if _, err := a.Answer(context.Background(), "sess-1", "q"); err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if gotTopK != 3 {
		t.Errorf("topK = %d, want default 3", gotTopK)
	}
}

func TestAnswer_SearchError(t *testing.T) {
	store := &mockSearcher{
		searchFn: func(_ context.Context, _, _ string, _ int) ([]retrieval.Chunk, error) {
			return nil, vectorindex.ErrCollectionNotFound
		},
	}
	llm := &mockCompleter{
		completeFn: func(_ context.Context, _, _ string, _ float64, _ int) (string, error) {
			t.Error("Complete should not be called when search fails")
			return "", nil
		},
	}

	a := NewAnswerer(store, llm, "llama3.2", 3, nil)
	_, err := a.Answer(context.Background(), "no-such-session", "q")
	if !errors.Is(err, vectorindex.ErrCollectionNotFound) {
		t.Fatalf("error = %v, want ErrCollectionNotFound", err)
	}
}

func TestAnswer_GenerationFailureDegrades(t *testing.T) {
	store := &mockSearcher{
		searchFn: func(_ context.Context, _, _ string, _ int) ([]retrieval.Chunk, error) {
			return twoChunks(), nil
		},
	}
	llm := &mockCompleter{
		completeFn: func(_ context.Context, _, _ string, _ float64, _ int) (string, error) {
			return "", errors.New("model offline")
		},
	}

	a := NewAnswerer(store, llm, "llama3.2", 3, nil)
	ans, err := a.Answer(context.Background(), "sess-1", "q")
	if err != nil {
		t.Fatalf("Answer: %v (generation failure must not surface as an error)", err)
	}

	want := "Error generating answer: model offline"
	if ans.Text != want {
		t.Errorf("answer = %q, want %q", ans.Text, want)
	}
	if len(ans.Sources) != 2 {
		t.Errorf("sources = %v, want the retrieved chunk labels", ans.Sources)
	}
}

func TestAnswer_NoChunks(t *testing.T) {
	store := &mockSearcher{
		searchFn: func(_ context.Context, _, _ string, _ int) ([]retrieval.Chunk, error) {
			return nil, nil
		},
	}

	var gotPrompt string
	llm := &mockCompleter{
		completeFn: func(_ context.Context, _, prompt string, _ float64, _ int) (string, error) {
			gotPrompt = prompt
			return "I cannot find that in the document.", nil
		},
	}

	a := NewAnswerer(store, llm, "llama3.2", 3, nil)
	ans, err := a.Answer(context.Background(), "sess-1", "q")
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if len(ans.Sources) != 0 {
		t.Errorf("sources = %v, want none", ans.Sources)
	}
	if !strings.Contains(gotPrompt, "Context:\n\n") {
		t.Errorf("prompt should carry an empty context block, got %q", gotPrompt)
	}
}

func TestAnswer_RerankerReordersSources(t *testing.T) {
	store := &mockSearcher{
		searchFn: func(_ context.Context, _, _ string, _ int) ([]retrieval.Chunk, error) {
			return twoChunks(), nil
		},
	}
	llm := &mockCompleter{
		completeFn: func(_ context.Context, _, _ string, _ float64, _ int) (string, error) {
			return "ok", nil
		},
	}

	a := NewAnswerer(store, llm, "llama3.2", 3, reverseReranker{})
	ans, err := a.Answer(context.Background(), "sess-1", "q")
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}

	want := []string{"Chunk 2", "Chunk 0"}
	if len(ans.Sources) != 2 || ans.Sources[0] != want[0] || ans.Sources[1] != want[1] {
		t.Errorf("sources = %v, want %v (reranked order)", ans.Sources, want)
	}
}
