package retrieval

import (
	"context"

	"github.com/quizdoc/quizdoc/internal/vectorindex"
)

// Chunk is a retrieved document fragment with its similarity score.
type Chunk struct {
	ChunkID int
	Text    string
	Score   float32
}

// Retriever combines query embedding and vector search to find the chunks
// most relevant to a question.
type Retriever struct {
	embedder *Embedder
	index    vectorindex.Index
}

// NewRetriever creates a Retriever backed by the given Embedder and Index.
func NewRetriever(embedder *Embedder, index vectorindex.Index) *Retriever {
	return &Retriever{embedder: embedder, index: index}
}

// Retrieve embeds the query and returns the top-K most similar chunks from
// the named collection.
func (r *Retriever) Retrieve(ctx context.Context, collection, query string, topK int) ([]Chunk, error) {
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	scored, err := r.index.Search(ctx, collection, vec, topK)
	if err != nil {
		return nil, err
	}

	return scoredToChunks(scored), nil
}

func scoredToChunks(scored []vectorindex.ScoredRecord) []Chunk {
	chunks := make([]Chunk, len(scored))
	for i, s := range scored {
		chunks[i] = Chunk{
			ChunkID: s.ChunkID,
			Text:    s.Text,
			Score:   s.Score,
		}
	}
	return chunks
}
