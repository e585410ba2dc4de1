package index

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"docchat/internal/repository"
	"docchat/internal/vectorstore"
)

// fakeVectorStore keeps collections and documents in memory and records the
// order of Upsert calls.
type fakeVectorStore struct {
	collections map[string]int
	docs        map[string]map[string]repository.Document
	upserts     int
}

func newFakeVectorStore() *fakeVectorStore {
	return &fakeVectorStore{
		collections: make(map[string]int),
		docs:        make(map[string]map[string]repository.Document),
	}
}

func (f *fakeVectorStore) CreateCollection(_ context.Context, sessionID string, dimension int) error {
	f.collections[sessionID] = dimension
	f.docs[sessionID] = make(map[string]repository.Document)
	return nil
}

func (f *fakeVectorStore) CollectionExists(_ context.Context, sessionID string) (bool, error) {
	_, ok := f.collections[sessionID]
	return ok, nil
}

func (f *fakeVectorStore) DeleteCollection(_ context.Context, sessionID string) error {
	delete(f.collections, sessionID)
	delete(f.docs, sessionID)
	return nil
}

func (f *fakeVectorStore) Upsert(_ context.Context, sessionID string, docs []repository.Document) error {
	f.upserts++
	for _, doc := range docs {
		f.docs[sessionID][doc.ID] = doc
	}
	return nil
}

func (f *fakeVectorStore) Search(_ context.Context, sessionID string, _ []float32, topK int, _ bool) ([]vectorstore.SearchResult, error) {
	var results []vectorstore.SearchResult
	for _, doc := range f.docs[sessionID] {
		results = append(results, vectorstore.SearchResult{Document: doc, Score: 1})
		if len(results) == topK {
			break
		}
	}
	return results, nil
}

func (f *fakeVectorStore) GetByIDs(_ context.Context, sessionID string, ids []string) ([]repository.Document, error) {
	var docs []repository.Document
	for _, id := range ids {
		if doc, ok := f.docs[sessionID][id]; ok {
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

func (f *fakeVectorStore) Count(_ context.Context, sessionID string) (uint64, error) {
	return uint64(len(f.docs[sessionID])), nil
}

// fakeEmbedder returns a fixed-size vector per text.
type fakeEmbedder struct {
	calls int
	fail  bool
}

func (f *fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.fail {
		return nil, fmt.Errorf("embedder unavailable")
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func (f *fakeEmbedder) Dimension() int    { return 3 }
func (f *fakeEmbedder) ModelName() string { return "fake" }

// fakeFingerprints persists fingerprints in memory.
type fakeFingerprints struct {
	stored map[string]map[string]struct{}
}

func newFakeFingerprints() *fakeFingerprints {
	return &fakeFingerprints{stored: make(map[string]map[string]struct{})}
}

func (f *fakeFingerprints) Load(_ context.Context, sessionID string) (map[string]struct{}, error) {
	out := make(map[string]struct{})
	for fp := range f.stored[sessionID] {
		out[fp] = struct{}{}
	}
	return out, nil
}

func (f *fakeFingerprints) Add(_ context.Context, sessionID string, fingerprints []string) error {
	if f.stored[sessionID] == nil {
		f.stored[sessionID] = make(map[string]struct{})
	}
	for _, fp := range fingerprints {
		f.stored[sessionID][fp] = struct{}{}
	}
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint("dropout is 0.1", "paper.pdf")
	b := Fingerprint("dropout is 0.1", "paper.pdf")
	if a != b {
		t.Error("identical content and source must produce identical fingerprints")
	}

	if Fingerprint("dropout is 0.1", "other.pdf") == a {
		t.Error("same content from a different source must be a different fingerprint")
	}
	if Fingerprint("dropout is 0.3", "paper.pdf") == a {
		t.Error("different content from the same source must be a different fingerprint")
	}

	if !strings.Contains(a, "::paper.pdf") {
		t.Errorf("fingerprint should end with the source, got %s", a)
	}
}

func TestLoad_CreatesCollectionOnFirstUse(t *testing.T) {
	ctx := context.Background()
	store := newFakeVectorStore()

	_, err := Load(ctx, "s1", store, &fakeEmbedder{}, newFakeFingerprints(), discardLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if dim, ok := store.collections["s1"]; !ok || dim != 3 {
		t.Errorf("expected collection with dimension 3, got %d (exists=%v)", dim, ok)
	}
}

func TestAddDocuments_DeduplicatesWithinAndAcrossBatches(t *testing.T) {
	ctx := context.Background()
	store := newFakeVectorStore()
	mgr, err := Load(ctx, "s1", store, &fakeEmbedder{}, newFakeFingerprints(), discardLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	doc := repository.Document{Content: "dropout is 0.1", Source: "paper.pdf", Modality: repository.ModalityText}
	other := repository.Document{Content: "eight attention heads", Source: "paper.pdf", Modality: repository.ModalityText}

	added, err := mgr.AddDocuments(ctx, []repository.Document{doc, doc, other})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(added) != 2 {
		t.Fatalf("expected 2 new documents (duplicate in batch skipped), got %d", len(added))
	}
	for _, d := range added {
		if d.ID == "" {
			t.Error("new document should have an assigned ID")
		}
		if len(d.Embedding) == 0 {
			t.Error("new document should carry its embedding")
		}
	}

	// Re-offering the same content is a no-op.
	added, err = mgr.AddDocuments(ctx, []repository.Document{doc, other})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(added) != 0 {
		t.Errorf("expected 0 new documents on re-ingestion, got %d", len(added))
	}
	if store.upserts != 1 {
		t.Errorf("expected a single upsert, got %d", store.upserts)
	}
}

func TestAddDocuments_DedupSurvivesReload(t *testing.T) {
	ctx := context.Background()
	store := newFakeVectorStore()
	prints := newFakeFingerprints()

	mgr, err := Load(ctx, "s1", store, &fakeEmbedder{}, prints, discardLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	doc := repository.Document{Content: "dropout is 0.1", Source: "paper.pdf", Modality: repository.ModalityText}
	if _, err := mgr.AddDocuments(ctx, []repository.Document{doc}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// New manager over the same backing stores, as after a restart.
	reloaded, err := Load(ctx, "s1", store, &fakeEmbedder{}, prints, discardLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	added, err := reloaded.AddDocuments(ctx, []repository.Document{doc})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(added) != 0 {
		t.Errorf("persisted fingerprints should survive reload, got %d new docs", len(added))
	}
}

func TestAddDocuments_EmbedFailureRollsBackClaims(t *testing.T) {
	ctx := context.Background()
	store := newFakeVectorStore()
	emb := &fakeEmbedder{fail: true}

	mgr, err := Load(ctx, "s1", store, emb, newFakeFingerprints(), discardLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	doc := repository.Document{Content: "dropout is 0.1", Source: "paper.pdf", Modality: repository.ModalityText}
	if _, err := mgr.AddDocuments(ctx, []repository.Document{doc}); err == nil {
		t.Fatal("expected ingestion to fail when embedding fails")
	}

	// The failed batch must be retryable.
	emb.fail = false
	added, err := mgr.AddDocuments(ctx, []repository.Document{doc})
	if err != nil {
		t.Fatalf("unexpected error on retry: %v", err)
	}
	if len(added) != 1 {
		t.Errorf("retry after failure should ingest the document, got %d", len(added))
	}
}

func TestAddDocuments_EmbedsCaptionForImages(t *testing.T) {
	ctx := context.Background()
	store := newFakeVectorStore()
	mgr, err := Load(ctx, "s1", store, &fakeEmbedder{}, newFakeFingerprints(), discardLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	img := repository.Document{
		Content:  "figure-1-bytes",
		Source:   "paper.pdf",
		Modality: repository.ModalityImage,
		Caption:  "model architecture diagram",
	}

	texts := embeddingTexts([]repository.Document{img})
	if texts[0] != "model architecture diagram" {
		t.Errorf("image with caption should embed the caption, got %q", texts[0])
	}

	if _, err := mgr.AddDocuments(ctx, []repository.Document{img}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestGetByIDs_SkipsMissing(t *testing.T) {
	ctx := context.Background()
	store := newFakeVectorStore()
	mgr, err := Load(ctx, "s1", store, &fakeEmbedder{}, newFakeFingerprints(), discardLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	added, err := mgr.AddDocuments(ctx, []repository.Document{
		{Content: "dropout is 0.1", Source: "paper.pdf", Modality: repository.ModalityText},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	docs, err := mgr.GetByIDs(ctx, []string{added[0].ID, "gone"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(docs) != 1 || docs[0].ID != added[0].ID {
		t.Errorf("expected only the existing document, got %v", docs)
	}
}
