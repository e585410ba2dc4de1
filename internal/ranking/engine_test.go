package ranking

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"testing"

	"docchat/internal/repository"
	"docchat/internal/vectorstore"
)

type fakeSearcher struct {
	results []vectorstore.SearchResult
	err     error

	lastTopK        int
	lastWithVectors bool
}

func (f *fakeSearcher) Search(_ context.Context, _ []float32, topK int, withVectors bool) ([]vectorstore.SearchResult, error) {
	f.lastTopK = topK
	f.lastWithVectors = withVectors
	if f.err != nil {
		return nil, f.err
	}
	results := f.results
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

type fakeReranker struct {
	scores []float64
	err    error
}

func (f *fakeReranker) Score(_ context.Context, _ string, contents []string) ([]float64, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.scores[:len(contents)], nil
}

func result(id string, score float32, embedding ...float32) vectorstore.SearchResult {
	return vectorstore.SearchResult{
		Document: repository.Document{
			ID:        id,
			Content:   "content of " + id,
			Source:    "doc.pdf",
			Modality:  repository.ModalityText,
			Embedding: embedding,
		},
		Score: score,
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestRetrieve_EmptyIndexReturnsEmptySlice(t *testing.T) {
	engine := NewEngine(Config{SearchType: SearchTypeSimilarity}, nil, testLogger())

	docs, err := engine.Retrieve(context.Background(), &fakeSearcher{}, "anything", []float32{1, 0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if docs == nil || len(docs) != 0 {
		t.Errorf("expected empty non-nil slice, got %v", docs)
	}
}

func TestRetrieve_SearchErrorIsFatal(t *testing.T) {
	engine := NewEngine(Config{SearchType: SearchTypeSimilarity}, nil, testLogger())
	searcher := &fakeSearcher{err: fmt.Errorf("index offline")}

	if _, err := engine.Retrieve(context.Background(), searcher, "q", []float32{1, 0}); err == nil {
		t.Fatal("expected search failure to propagate")
	}
}

func TestRetrieve_MMROversamples(t *testing.T) {
	engine := NewEngine(Config{SearchType: SearchTypeMMR, TopK: 2, FetchK: 5}, nil, testLogger())
	searcher := &fakeSearcher{results: []vectorstore.SearchResult{
		result("a", 0.9, 1, 0.9),
		result("b", 0.8, 1, 0.89),
		result("c", 0.7, 0.9, 1),
	}}

	docs, err := engine.Retrieve(context.Background(), searcher, "q", []float32{1, 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if searcher.lastTopK != 5 {
		t.Errorf("MMR should fetch the oversampled pool, asked for %d", searcher.lastTopK)
	}
	if !searcher.lastWithVectors {
		t.Error("MMR needs stored embeddings for pairwise similarity")
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(docs))
	}
	// "b" is nearly identical to "a"; diversity should prefer "c" second.
	if docs[0].ID != "a" || docs[1].ID != "c" {
		t.Errorf("expected [a c], got [%s %s]", docs[0].ID, docs[1].ID)
	}
}

func TestRetrieve_RerankerOrderDominates(t *testing.T) {
	rer := &fakeReranker{scores: []float64{0.1, 0.9, 0.5}}
	engine := NewEngine(Config{SearchType: SearchTypeSimilarity, TopK: 3, FinalK: 2}, rer, testLogger())
	searcher := &fakeSearcher{results: []vectorstore.SearchResult{
		result("a", 0.9),
		result("b", 0.8),
		result("c", 0.7),
	}}

	docs, err := engine.Retrieve(context.Background(), searcher, "q", []float32{1, 0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(docs) != 2 {
		t.Fatalf("expected FinalK=2 documents, got %d", len(docs))
	}
	if docs[0].ID != "b" || docs[1].ID != "c" {
		t.Errorf("expected reranker order [b c], got [%s %s]", docs[0].ID, docs[1].ID)
	}
}

func TestRetrieve_SimilarityFetchesOversampledPool(t *testing.T) {
	// "d" sits outside TopK by embedding similarity; the reranker must still
	// see it and be able to put it first.
	rer := &fakeReranker{scores: []float64{0.1, 0.2, 0.3, 0.9}}
	engine := NewEngine(Config{SearchType: SearchTypeSimilarity, TopK: 2, FetchK: 4, FinalK: 2}, rer, testLogger())
	searcher := &fakeSearcher{results: []vectorstore.SearchResult{
		result("a", 0.9),
		result("b", 0.8),
		result("c", 0.7),
		result("d", 0.6),
	}}

	docs, err := engine.Retrieve(context.Background(), searcher, "q", []float32{1, 0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if searcher.lastTopK != 4 {
		t.Errorf("similarity should fetch the oversampled pool, asked for %d", searcher.lastTopK)
	}
	if len(docs) != 2 {
		t.Fatalf("expected FinalK=2 documents, got %d", len(docs))
	}
	if docs[0].ID != "d" || docs[1].ID != "c" {
		t.Errorf("expected reranker order [d c], got [%s %s]", docs[0].ID, docs[1].ID)
	}
}

func TestRetrieve_RerankerFailureKeepsVectorOrder(t *testing.T) {
	rer := &fakeReranker{err: fmt.Errorf("model offline")}
	engine := NewEngine(Config{SearchType: SearchTypeSimilarity, TopK: 3, FinalK: 2}, rer, testLogger())
	searcher := &fakeSearcher{results: []vectorstore.SearchResult{
		result("a", 0.9),
		result("b", 0.8),
		result("c", 0.7),
	}}

	docs, err := engine.Retrieve(context.Background(), searcher, "q", []float32{1, 0})
	if err != nil {
		t.Fatalf("reranker failure must not fail retrieval: %v", err)
	}
	if len(docs) != 2 || docs[0].ID != "a" || docs[1].ID != "b" {
		t.Errorf("expected vector order [a b], got %v", docs)
	}
}

func TestMaximalMarginalRelevance_Cardinality(t *testing.T) {
	pool := []vectorstore.SearchResult{
		result("a", 0.9, 1, 0),
		result("b", 0.8, 0, 1),
	}

	if got := maximalMarginalRelevance([]float32{1, 0}, pool, 0.5, 5); len(got) != 2 {
		t.Errorf("k beyond pool size should return the whole pool, got %d", len(got))
	}
	if got := maximalMarginalRelevance([]float32{1, 0}, pool, 0.5, 1); len(got) != 1 {
		t.Errorf("expected exactly 1 result, got %d", len(got))
	}
	if got := maximalMarginalRelevance([]float32{1, 0}, nil, 0.5, 3); got != nil {
		t.Errorf("empty pool should return nil, got %v", got)
	}
}

func TestCheckRelevance_EmptyIndexNotRelevant(t *testing.T) {
	engine := NewEngine(Config{}, nil, testLogger())

	rel, err := engine.CheckRelevance(context.Background(), &fakeSearcher{}, "q", []float32{1, 0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rel.Relevant || rel.Score != 0 {
		t.Errorf("empty index should be (false, 0), got %+v", rel)
	}
}

func TestCheckRelevance_FusedScore(t *testing.T) {
	tests := []struct {
		name        string
		bestSim     float32
		rerankBest  float64
		expectMatch bool
	}{
		{"close match with confident reranker", 0.75, 1.0, true},
		{"distant match with dismissive reranker", 0.0, 0.0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rer := &fakeReranker{scores: []float64{tt.rerankBest}}
			engine := NewEngine(Config{TopKForCheck: 1}, rer, testLogger())
			searcher := &fakeSearcher{results: []vectorstore.SearchResult{result("a", tt.bestSim)}}

			rel, err := engine.CheckRelevance(context.Background(), searcher, "q", []float32{1, 0})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			simIndex := 1 / (1 + (1 - float64(tt.bestSim)))
			simRerank := 1 / (1 + math.Exp(-tt.rerankBest))
			expected := 0.6*simIndex + 0.4*simRerank

			if math.Abs(rel.Score-expected) > 1e-9 {
				t.Errorf("expected fused score %f, got %f", expected, rel.Score)
			}
			if rel.Relevant != tt.expectMatch {
				t.Errorf("expected relevant=%v at score %f", tt.expectMatch, rel.Score)
			}
		})
	}
}

func TestCheckRelevance_NoRerankerThresholdsDistance(t *testing.T) {
	engine := NewEngine(Config{TopKForCheck: 1}, nil, testLogger())

	// Distance 1-0.5=0.5 <= 0.55: relevant.
	searcher := &fakeSearcher{results: []vectorstore.SearchResult{result("a", 0.5)}}
	rel, err := engine.CheckRelevance(context.Background(), searcher, "q", []float32{1, 0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !rel.Relevant {
		t.Error("distance within the score threshold should be relevant")
	}

	// Distance 1-0.3=0.7 > 0.55: not relevant.
	searcher = &fakeSearcher{results: []vectorstore.SearchResult{result("a", 0.3)}}
	rel, err = engine.CheckRelevance(context.Background(), searcher, "q", []float32{1, 0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rel.Relevant {
		t.Error("distance beyond the score threshold should not be relevant")
	}
}

func TestCheckRelevance_RerankerFailureFallsBack(t *testing.T) {
	rer := &fakeReranker{err: fmt.Errorf("model offline")}
	engine := NewEngine(Config{TopKForCheck: 1}, rer, testLogger())
	searcher := &fakeSearcher{results: []vectorstore.SearchResult{result("a", 0.5)}}

	rel, err := engine.CheckRelevance(context.Background(), searcher, "q", []float32{1, 0})
	if err != nil {
		t.Fatalf("reranker failure must not fail the check: %v", err)
	}
	if !rel.Relevant {
		t.Error("fallback should threshold the raw distance")
	}
}
