package chat

import (
	"context"
	"log/slog"

	"github.com/quizdoc/quizdoc/internal/reranking"
	"github.com/quizdoc/quizdoc/internal/retrieval"
)

const (
	answerTemperature = 0.7
	answerMaxTokens   = 500
	defaultTopK       = 3
)

// Completer generates free-form text for a prompt.
type Completer interface {
	Complete(ctx context.Context, model, prompt string, temperature float64, maxTokens int) (string, error)
}

// Searcher finds the chunks most similar to a query within a session.
type Searcher interface {
	Search(ctx context.Context, sessionID, query string, topK int) ([]retrieval.Chunk, error)
}

// Answer is the response to a question about an uploaded document.
type Answer struct {
	Text    string
	Sources []string
}

// Answerer retrieves relevant chunks for a question and asks the chat model
// to answer from them.
type Answerer struct {
	store    Searcher
	llm      Completer
	model    string
	topK     int
	reranker reranking.Reranker
	logger   *slog.Logger
}

// NewAnswerer creates an Answerer. topK controls how many chunks are
// retrieved (default 3 if <= 0). reranker may be nil to skip reranking.
func NewAnswerer(store Searcher, llm Completer, model string, topK int, reranker reranking.Reranker) *Answerer {
	if topK <= 0 {
		topK = defaultTopK
	}
	return &Answerer{
		store:    store,
		llm:      llm,
		model:    model,
		topK:     topK,
		reranker: reranker,
		logger:   slog.Default(),
	}
}

// Answer runs retrieval and generation for one question. Retrieval errors
// are returned to the caller; generation failures degrade into an inline
// error answer so the sources remain visible.
func (a *Answerer) Answer(ctx context.Context, sessionID, question string) (Answer, error) {
	chunks, err := a.store.Search(ctx, sessionID, question, a.topK)
	if err != nil {
		return Answer{}, err
	}

	if a.reranker != nil {
		reranked, err := a.reranker.Rerank(ctx, question, chunks)
		if err != nil {
			a.logger.Warn("reranking failed, keeping retrieval order", "error", err)
		} else {
			chunks = reranked
		}
	}

	sources := sourceLabels(chunks)
	prompt := buildPrompt(chunks, question)

	text, err := a.llm.Complete(ctx, a.model, prompt, answerTemperature, answerMaxTokens)
	if err != nil {
		a.logger.Warn("answer generation failed", "session_id", sessionID, "error", err)
		return Answer{Text: "Error generating answer: " + err.Error(), Sources: sources}, nil
	}

	return Answer{Text: text, Sources: sources}, nil
}
