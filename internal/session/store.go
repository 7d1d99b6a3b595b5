package session

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"

	"github.com/quizdoc/quizdoc/internal/chunker"
	"github.com/quizdoc/quizdoc/internal/retrieval"
	"github.com/quizdoc/quizdoc/internal/vectorindex"
)

// collectionPrefix namespaces the vector collection created for each
// upload session.
const collectionPrefix = "pdf_collection_"

// scrollLimit caps how many points are pulled when sampling chunks.
const scrollLimit = 1000

// CollectionName returns the vector collection holding a session's chunks.
func CollectionName(sessionID string) string {
	return collectionPrefix + sessionID
}

// Store manages per-session document collections in the vector index.
type Store struct {
	index     vectorindex.Index
	embedder  *retrieval.Embedder
	retriever *retrieval.Retriever
	splitter  *chunker.Splitter
	dim       int
	logger    *slog.Logger
}

// NewStore creates a Store over the given index. dim is the embedding
// dimension used when creating collections.
func NewStore(index vectorindex.Index, embedder *retrieval.Embedder, splitter *chunker.Splitter, dim int) *Store {
	return &Store{
		index:     index,
		embedder:  embedder,
		retriever: retrieval.NewRetriever(embedder, index),
		splitter:  splitter,
		dim:       dim,
		logger:    slog.Default(),
	}
}

// StoreDocument splits the text into chunks, embeds them and upserts them
// into the session's collection. It returns the number of chunks stored.
func (s *Store) StoreDocument(ctx context.Context, sessionID, text string) (int, error) {
	chunks := s.splitter.Split(text)
	if len(chunks) == 0 {
		return 0, fmt.Errorf("document produced no chunks")
	}

	collection := CollectionName(sessionID)
	if err := s.index.EnsureCollection(ctx, collection, s.dim); err != nil {
		return 0, fmt.Errorf("creating collection %s: %w", collection, err)
	}

	vectors, err := s.embedder.EmbedBatch(ctx, chunks)
	if err != nil {
		return 0, err
	}

	records := make([]vectorindex.Record, len(chunks))
	for i, chunk := range chunks {
		records[i] = vectorindex.Record{
			ID:      uint64(i),
			ChunkID: i,
			Text:    chunk,
			Vector:  vectors[i],
		}
	}

	if err := s.index.Upsert(ctx, collection, records); err != nil {
		return 0, fmt.Errorf("storing chunks: %w", err)
	}

	s.logger.Info("document stored", "session_id", sessionID, "chunks", len(records))
	return len(records), nil
}

// Search returns the chunks most similar to the query.
func (s *Store) Search(ctx context.Context, sessionID, query string, topK int) ([]retrieval.Chunk, error) {
	return s.retriever.Retrieve(ctx, CollectionName(sessionID), query, topK)
}

// RandomChunks returns up to n chunk texts sampled uniformly from the
// session's collection. If the session holds fewer than n chunks, all of
// them are returned.
func (s *Store) RandomChunks(ctx context.Context, sessionID string, n int) ([]string, error) {
	records, err := s.index.Scroll(ctx, CollectionName(sessionID), scrollLimit)
	if err != nil {
		return nil, err
	}

	texts := make([]string, len(records))
	for i, rec := range records {
		texts[i] = rec.Text
	}
	if n >= len(texts) {
		return texts, nil
	}

	sampled := make([]string, 0, n)
	for _, idx := range rand.Perm(len(texts))[:n] {
		sampled = append(sampled, texts[idx])
	}
	return sampled, nil
}

// Delete removes the session's collection. Deleting a session that does
// not exist is not an error.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	if err := s.index.DropCollection(ctx, CollectionName(sessionID)); err != nil {
		return fmt.Errorf("deleting session %s: %w", sessionID, err)
	}
	s.logger.Info("session deleted", "session_id", sessionID)
	return nil
}
