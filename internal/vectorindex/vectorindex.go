package vectorindex

import (
	"context"
	"errors"
)

// ErrCollectionNotFound is returned by Search and Scroll when the named
// collection was never created or has been dropped.
var ErrCollectionNotFound = errors.New("collection not found")

// Index is the interface for collection-scoped vector storage backends.
// The SQLite implementation embeds everything in the local database with
// brute-force cosine search; the Qdrant implementation delegates to a
// Qdrant server over REST. One collection holds the chunks of one
// document session.
type Index interface {
	// EnsureCollection provisions a collection for vectors of the given
	// dimension with a cosine metric. Idempotent.
	EnsureCollection(ctx context.Context, collection string, dim int) error

	// Upsert writes records into the collection, replacing any record
	// with the same ID.
	Upsert(ctx context.Context, collection string, records []Record) error

	// Search returns the topK records most similar to vector, ordered by
	// descending cosine similarity with ties broken by ascending chunk id.
	Search(ctx context.Context, collection string, vector []float32, topK int) ([]ScoredRecord, error)

	// Scroll returns up to limit records without their vectors, exhaustive
	// up to the cap. Order is unspecified.
	Scroll(ctx context.Context, collection string, limit int) ([]Record, error)

	// DropCollection removes the collection and everything in it.
	// Dropping a missing collection is a no-op.
	DropCollection(ctx context.Context, collection string) error
}

// Record is one stored chunk: point id, chunk payload and vector.
// ID and ChunkID both carry the chunk's 0-based insertion index.
type Record struct {
	ID      uint64
	ChunkID int
	Text    string
	Vector  []float32
}

// ScoredRecord is a Record with a similarity score attached.
type ScoredRecord struct {
	Record
	Score float32
}

// sortByScore orders records by score descending, ties by ascending chunk
// id so equal-similarity results are deterministic. Used for small slices.
func sortByScore(results []ScoredRecord) {
	for i := 1; i < len(results); i++ {
		for j := i; j > 0 && less(results[j-1], results[j]); j-- {
			results[j], results[j-1] = results[j-1], results[j]
		}
	}
}

// less reports whether a ranks below b.
func less(a, b ScoredRecord) bool {
	if a.Score != b.Score {
		return a.Score < b.Score
	}
	return a.ChunkID > b.ChunkID
}
