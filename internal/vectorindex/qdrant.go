package vectorindex

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const qdrantTimeout = 30 * time.Second

// Compile-time check that QdrantIndex implements Index.
var _ Index = (*QdrantIndex)(nil)

// QdrantIndex talks to a Qdrant server over its REST API. It is the
// backend to pick when sessions outgrow the embedded SQLite index.
type QdrantIndex struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewQdrantIndex creates a client for the Qdrant server at baseURL.
// apiKey may be empty for unsecured local instances.
func NewQdrantIndex(baseURL, apiKey string) *QdrantIndex {
	return &QdrantIndex{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: qdrantTimeout},
	}
}

type qdrantPayload struct {
	Text    string `json:"text"`
	ChunkID int    `json:"chunk_id"`
}

type qdrantPoint struct {
	ID      uint64        `json:"id"`
	Vector  []float32     `json:"vector,omitempty"`
	Payload qdrantPayload `json:"payload"`
}

// EnsureCollection creates the collection with a cosine metric. A conflict
// response means the collection already exists and counts as success.
func (q *QdrantIndex) EnsureCollection(ctx context.Context, collection string, dim int) error {
	if dim <= 0 {
		return fmt.Errorf("invalid dimension %d", dim)
	}
	body := struct {
		Vectors struct {
			Size     int    `json:"size"`
			Distance string `json:"distance"`
		} `json:"vectors"`
	}{}
	body.Vectors.Size = dim
	body.Vectors.Distance = "Cosine"

	err := q.do(ctx, http.MethodPut, "/collections/"+collection, body, nil)
	var se *statusError
	if errors.As(err, &se) && (se.code == http.StatusConflict || strings.Contains(se.msg, "already exists")) {
		return nil
	}
	return err
}

func (q *QdrantIndex) Upsert(ctx context.Context, collection string, records []Record) error {
	points := make([]qdrantPoint, len(records))
	for i, r := range records {
		points[i] = qdrantPoint{
			ID:      r.ID,
			Vector:  r.Vector,
			Payload: qdrantPayload{Text: r.Text, ChunkID: r.ChunkID},
		}
	}
	body := struct {
		Points []qdrantPoint `json:"points"`
	}{Points: points}

	return q.do(ctx, http.MethodPut, "/collections/"+collection+"/points?wait=true", body, nil)
}

func (q *QdrantIndex) Search(ctx context.Context, collection string, vector []float32, topK int) ([]ScoredRecord, error) {
	body := struct {
		Vector      []float32 `json:"vector"`
		Limit       int       `json:"limit"`
		WithPayload bool      `json:"with_payload"`
	}{Vector: vector, Limit: topK, WithPayload: true}

	var resp struct {
		Result []struct {
			ID      uint64        `json:"id"`
			Score   float32       `json:"score"`
			Payload qdrantPayload `json:"payload"`
		} `json:"result"`
	}
	if err := q.do(ctx, http.MethodPost, "/collections/"+collection+"/points/search", body, &resp); err != nil {
		return nil, err
	}

	results := make([]ScoredRecord, 0, len(resp.Result))
	for _, r := range resp.Result {
		results = append(results, ScoredRecord{
			Record: Record{ID: r.ID, ChunkID: r.Payload.ChunkID, Text: r.Payload.Text},
			Score:  r.Score,
		})
	}
	// The server does not promise a tie order; re-sort for determinism.
	sortByScore(results)
	return results, nil
}

func (q *QdrantIndex) Scroll(ctx context.Context, collection string, limit int) ([]Record, error) {
	body := struct {
		Limit       int  `json:"limit"`
		WithPayload bool `json:"with_payload"`
		WithVector  bool `json:"with_vector"`
	}{Limit: limit, WithPayload: true, WithVector: false}

	var resp struct {
		Result struct {
			Points []qdrantPoint `json:"points"`
		} `json:"result"`
	}
	if err := q.do(ctx, http.MethodPost, "/collections/"+collection+"/points/scroll", body, &resp); err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(resp.Result.Points))
	for _, p := range resp.Result.Points {
		records = append(records, Record{ID: p.ID, ChunkID: p.Payload.ChunkID, Text: p.Payload.Text})
	}
	return records, nil
}

// DropCollection deletes the collection; a missing collection is a no-op.
func (q *QdrantIndex) DropCollection(ctx context.Context, collection string) error {
	err := q.do(ctx, http.MethodDelete, "/collections/"+collection, nil, nil)
	if errors.Is(err, ErrCollectionNotFound) {
		return nil
	}
	return err
}

// statusError carries a non-2xx response so callers can branch on the code.
type statusError struct {
	code int
	msg  string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("qdrant: %d: %s", e.code, e.msg)
}

func (q *QdrantIndex) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, q.baseURL+path, rd)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}

	resp, err := q.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrCollectionNotFound
	}
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: %w", method, path,
			&statusError{code: resp.StatusCode, msg: strings.TrimSpace(string(msg))})
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding qdrant response: %w", err)
		}
	}
	return nil
}
