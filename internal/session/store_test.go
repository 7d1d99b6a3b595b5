package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/quizdoc/quizdoc/internal/chunker"
	"github.com/quizdoc/quizdoc/internal/retrieval"
	"github.com/quizdoc/quizdoc/internal/vectorindex"
)

// fakeIndex implements vectorindex.Index and records calls.
type fakeIndex struct {
	ensured   map[string]int
	upserted  map[string][]vectorindex.Record
	dropped   []string
	scrollFn  func(collection string, limit int) ([]vectorindex.Record, error)
	searchFn  func(collection string, vector []float32, topK int) ([]vectorindex.ScoredRecord, error)
	upsertErr error
	ensureErr error
	dropErr   error
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{
		ensured:  make(map[string]int),
		upserted: make(map[string][]vectorindex.Record),
	}
}

func (f *fakeIndex) EnsureCollection(_ context.Context, collection string, dim int) error {
	if f.ensureErr != nil {
		return f.ensureErr
	}
	f.ensured[collection] = dim
	return nil
}

func (f *fakeIndex) Upsert(_ context.Context, collection string, records []vectorindex.Record) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.upserted[collection] = append(f.upserted[collection], records...)
	return nil
}

func (f *fakeIndex) Search(_ context.Context, collection string, vector []float32, topK int) ([]vectorindex.ScoredRecord, error) {
	if f.searchFn != nil {
		return f.searchFn(collection, vector, topK)
	}
	return nil, nil
}

func (f *fakeIndex) Scroll(_ context.Context, collection string, limit int) ([]vectorindex.Record, error) {
	if f.scrollFn != nil {
		return f.scrollFn(collection, limit)
	}
	return nil, nil
}

func (f *fakeIndex) DropCollection(_ context.Context, collection string) error {
	if f.dropErr != nil {
		return f.dropErr
	}
	f.dropped = append(f.dropped, collection)
	return nil
}

// fakeEmbedClient returns a constant-dimension vector for any text.
type fakeEmbedClient struct {
	err error
}

func (f *fakeEmbedClient) Embed(_ context.Context, _ string, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{float32(len(text)), 1, 0}, nil
}

func newTestStore(index *fakeIndex, client retrieval.EmbedClient) *Store {
	embedder := retrieval.NewEmbedder(client, "all-minilm")
	return NewStore(index, embedder, chunker.New(100, 20), 3)
}

func TestCollectionName(t *testing.T) {
	got := CollectionName("abc-123")
	want := "pdf_collection_abc-123"
	if got != want {
		t.Errorf("CollectionName = %q, want %q", got, want)
	}
}

func TestStoreDocument(t *testing.T) {
	index := newFakeIndex()
	store := newTestStore(index, &fakeEmbedClient{})

	text := strings.Repeat("Some sentence about storage engines. ", 12)
	n, err := store.StoreDocument(context.Background(), "sess-1", text)
	if err != nil {
		t.Fatalf("StoreDocument: %v", err)
	}
	if n < 2 {
		t.Fatalf("got %d chunks, want at least 2", n)
	}

	collection := "pdf_collection_sess-1"
	if dim, ok := index.ensured[collection]; !ok || dim != 3 {
		t.Errorf("EnsureCollection(%q) dim = %d, ok = %v; want dim 3", collection, dim, ok)
	}

	records := index.upserted[collection]
	if len(records) != n {
		t.Fatalf("upserted %d records, want %d", len(records), n)
	}
	for i, rec := range records {
		if rec.ID != uint64(i) || rec.ChunkID != i {
			t.Errorf("records[%d] = {ID: %d, ChunkID: %d}, want sequential ids", i, rec.ID, rec.ChunkID)
		}
		if rec.Text == "" {
			t.Errorf("records[%d].Text is empty", i)
		}
		if len(rec.Vector) != 3 {
			t.Errorf("records[%d] vector dim = %d, want 3", i, len(rec.Vector))
		}
	}
}

func TestStoreDocument_EmptyText(t *testing.T) {
	index := newFakeIndex()
	store := newTestStore(index, &fakeEmbedClient{})

	_, err := store.StoreDocument(context.Background(), "sess-1", "")
	if err == nil {
		t.Fatal("expected error for empty document")
	}
	if len(index.ensured) != 0 {
		t.Errorf("EnsureCollection called for empty document")
	}
}

func TestStoreDocument_EmbedFails(t *testing.T) {
	index := newFakeIndex()
	store := newTestStore(index, &fakeEmbedClient{err: errors.New("model offline")})

	_, err := store.StoreDocument(context.Background(), "sess-1", "a short document")
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if len(index.upserted) != 0 {
		t.Errorf("Upsert called despite embedding failure")
	}
}

func TestSearch_UsesSessionCollection(t *testing.T) {
	index := newFakeIndex()
	var gotCollection string
	index.searchFn = func(collection string, _ []float32, topK int) ([]vectorindex.ScoredRecord, error) {
		gotCollection = collection
		return []vectorindex.ScoredRecord{
			{Record: vectorindex.Record{ChunkID: 4, Text: "relevant"}, Score: 0.8},
		}, nil
	}
	store := newTestStore(index, &fakeEmbedClient{})

	chunks, err := store.Search(context.Background(), "sess-9", "what is this about", 3)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if gotCollection != "pdf_collection_sess-9" {
		t.Errorf("searched collection %q, want %q", gotCollection, "pdf_collection_sess-9")
	}
	if len(chunks) != 1 || chunks[0].ChunkID != 4 {
		t.Errorf("chunks = %+v, want single chunk 4", chunks)
	}
}

func TestRandomChunks_FewerThanRequested(t *testing.T) {
	index := newFakeIndex()
	index.scrollFn = func(collection string, limit int) ([]vectorindex.Record, error) {
		if limit != scrollLimit {
			t.Errorf("scroll limit = %d, want %d", limit, scrollLimit)
		}
		return []vectorindex.Record{
			{ChunkID: 0, Text: "first"},
			{ChunkID: 1, Text: "second"},
			{ChunkID: 2, Text: "third"},
		}, nil
	}
	store := newTestStore(index, &fakeEmbedClient{})

	texts, err := store.RandomChunks(context.Background(), "sess-1", 10)
	if err != nil {
		t.Fatalf("RandomChunks: %v", err)
	}
	want := []string{"first", "second", "third"}
	if len(texts) != len(want) {
		t.Fatalf("got %d texts, want %d", len(texts), len(want))
	}
	for i, w := range want {
		if texts[i] != w {
			t.Errorf("texts[%d] = %q, want %q", i, texts[i], w)
		}
	}
}

func TestRandomChunks_Samples(t *testing.T) {
	all := make(map[string]bool)
	var records []vectorindex.Record
	for i := 0; i < 20; i++ {
		text := fmt.Sprintf("chunk %d", i)
		all[text] = true
		records = append(records, vectorindex.Record{ChunkID: i, Text: text})
	}

	index := newFakeIndex()
	index.scrollFn = func(string, int) ([]vectorindex.Record, error) {
		return records, nil
	}
	store := newTestStore(index, &fakeEmbedClient{})

	texts, err := store.RandomChunks(context.Background(), "sess-1", 5)
	if err != nil {
		t.Fatalf("RandomChunks: %v", err)
	}
	if len(texts) != 5 {
		t.Fatalf("got %d texts, want 5", len(texts))
	}

	seen := make(map[string]bool)
	for _, text := range texts {
		if !all[text] {
			t.Errorf("sampled text %q not in source set", text)
		}
		if seen[text] {
			t.Errorf("text %q sampled twice", text)
		}
		seen[text] = true
	}
}

func TestRandomChunks_MissingSession(t *testing.T) {
	index := newFakeIndex()
	index.scrollFn = func(string, int) ([]vectorindex.Record, error) {
		return nil, vectorindex.ErrCollectionNotFound
	}
	store := newTestStore(index, &fakeEmbedClient{})

	_, err := store.RandomChunks(context.Background(), "no-such-session", 5)
	if !errors.Is(err, vectorindex.ErrCollectionNotFound) {
		t.Fatalf("error = %v, want ErrCollectionNotFound", err)
	}
}

func TestDelete(t *testing.T) {
	index := newFakeIndex()
	store := newTestStore(index, &fakeEmbedClient{})

	if err := store.Delete(context.Background(), "sess-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(index.dropped) != 1 || index.dropped[0] != "pdf_collection_sess-1" {
		t.Errorf("dropped = %v, want [pdf_collection_sess-1]", index.dropped)
	}

	// A second delete of the same session is a no-op, not an error.
	if err := store.Delete(context.Background(), "sess-1"); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
}
