package vectorindex

import (
	"container/heap"
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// Compile-time check that SQLiteIndex implements Index.
var _ Index = (*SQLiteIndex)(nil)

// SQLiteIndex provides collection-scoped vector storage with brute-force
// cosine similarity search backed by SQLite. It is the default backend:
// no external service, one local file, good enough up to tens of
// thousands of chunks per collection.
type SQLiteIndex struct {
	db *sql.DB
}

// NewSQLiteIndex wraps an existing *sql.DB for vector operations.
// The collections and points tables must already exist (created via
// migrations).
func NewSQLiteIndex(db *sql.DB) *SQLiteIndex {
	return &SQLiteIndex{db: db}
}

// EnsureCollection registers the collection if it is not already known.
func (s *SQLiteIndex) EnsureCollection(ctx context.Context, collection string, dim int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO collections (name, dim, created_at) VALUES (?, ?, ?)`,
		collection, dim, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("ensuring collection %s: %w", collection, err)
	}
	return nil
}

// Upsert writes all records in one transaction so a failure never leaves
// the collection with a partial batch.
func (s *SQLiteIndex) Upsert(ctx context.Context, collection string, records []Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning upsert transaction: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO points (collection, id, chunk_id, text, embedding)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("preparing upsert statement: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		blob := encodeFloat32s(r.Vector)
		if _, err := stmt.ExecContext(ctx, collection, r.ID, r.ChunkID, r.Text, blob); err != nil {
			tx.Rollback()
			return fmt.Errorf("upserting point %d: %w", r.ID, err)
		}
	}

	return tx.Commit()
}

// Search scans the collection's vectors and keeps the top-K by cosine
// similarity in a min-heap, then returns them best-first.
func (s *SQLiteIndex) Search(ctx context.Context, collection string, vector []float32, topK int) ([]ScoredRecord, error) {
	if err := s.mustExist(ctx, collection); err != nil {
		return nil, err
	}

	queryNorm := norm(vector)
	if queryNorm == 0 || topK <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chunk_id, text, embedding FROM points WHERE collection = ?`, collection)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}
	defer rows.Close()

	h := &scoredHeap{}
	heap.Init(h)

	// Reusable buffer for decoding embeddings to avoid per-row allocations.
	var buf []float32

	for rows.Next() {
		var r Record
		var blob []byte
		if err := rows.Scan(&r.ID, &r.ChunkID, &r.Text, &blob); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}

		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for point %d: %w", r.ID, err)
		}

		cand := ScoredRecord{Record: r, Score: dotProduct(vector, buf, queryNorm)}
		if h.Len() < topK {
			heap.Push(h, cand)
		} else if less((*h)[0], cand) {
			(*h)[0] = cand
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}

	results := make([]ScoredRecord, h.Len())
	for i := len(results) - 1; i >= 0; i-- {
		results[i] = heap.Pop(h).(ScoredRecord)
	}
	return results, nil
}

// Scroll returns up to limit records without vectors.
func (s *SQLiteIndex) Scroll(ctx context.Context, collection string, limit int) ([]Record, error) {
	if err := s.mustExist(ctx, collection); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chunk_id, text FROM points WHERE collection = ? ORDER BY id LIMIT ?`,
		collection, limit)
	if err != nil {
		return nil, fmt.Errorf("scrolling collection %s: %w", collection, err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.ChunkID, &r.Text); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// DropCollection removes the collection's registration and points.
// Dropping a collection that never existed succeeds.
func (s *SQLiteIndex) DropCollection(ctx context.Context, collection string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM points WHERE collection = ?`, collection); err != nil {
		return fmt.Errorf("dropping points of %s: %w", collection, err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM collections WHERE name = ?`, collection); err != nil {
		return fmt.Errorf("dropping collection %s: %w", collection, err)
	}
	return nil
}

func (s *SQLiteIndex) mustExist(ctx context.Context, collection string) error {
	var dim int
	err := s.db.QueryRowContext(ctx,
		`SELECT dim FROM collections WHERE name = ?`, collection).Scan(&dim)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, collection)
	}
	if err != nil {
		return fmt.Errorf("checking collection %s: %w", collection, err)
	}
	return nil
}

// encodeFloat32s serializes a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32sInto decodes little-endian bytes into the provided buffer,
// reusing it to avoid per-row allocations during search scans.
func decodeFloat32sInto(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	if cap(buf) < n {
		buf = make([]float32, n)
	} else {
		buf = buf[:n]
	}
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return buf, nil
}

// norm returns the L2 norm of a vector.
func norm(v []float32) float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sum))
}

// dotProduct computes cosine similarity as dot(a,b) / (aNorm * bNorm).
// aNorm is the precomputed L2 norm of vector a.
func dotProduct(a, b []float32, aNorm float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot float64
	var bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	bNorm := math.Sqrt(bNormSq)
	if bNorm == 0 {
		return 0
	}
	return float32(dot / (float64(aNorm) * bNorm))
}

// scoredHeap is a min-heap of ScoredRecord: the root is the worst record
// currently kept, so it is the one displaced by a better candidate.
type scoredHeap []ScoredRecord

func (h scoredHeap) Len() int            { return len(h) }
func (h scoredHeap) Less(i, j int) bool  { return less(h[i], h[j]) }
func (h scoredHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *scoredHeap) Push(x interface{}) { *h = append(*h, x.(ScoredRecord)) }
func (h *scoredHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
