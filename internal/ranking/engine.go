// Package ranking implements the two-stage retrieval pipeline: an
// oversampled vector search (plain similarity or maximal marginal relevance)
// followed by optional pairwise re-ranking, plus the quick relevance check
// that decides whether a query is grounded in the session's documents at all.
package ranking

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"docchat/internal/repository"
	"docchat/internal/reranker"
	"docchat/internal/vectorstore"
)

// Search strategies for the first stage.
const (
	SearchTypeSimilarity = "similarity"
	SearchTypeMMR        = "mmr"
)

// Searcher is the slice of a session index the engine needs. index.Manager
// satisfies it.
type Searcher interface {
	Search(ctx context.Context, vector []float32, topK int, withVectors bool) ([]vectorstore.SearchResult, error)
}

// Config holds the ranking parameters. Zero values fall back to the
// defaults applied by NewEngine.
type Config struct {
	// SearchType selects the first-stage strategy.
	SearchType string

	// TopK is the number of candidates MMR keeps after diversification.
	TopK int

	// FetchK is the oversampled candidate pool size both strategies fetch.
	FetchK int

	// LambdaMult balances relevance against diversity in MMR.
	// 1 is pure relevance, 0 is pure diversity.
	LambdaMult float64

	// FinalK caps the documents returned after re-ranking.
	FinalK int

	// TopKForCheck is the candidate count for the quick relevance check.
	TopKForCheck int

	// Alpha and Beta weight the index and reranker similarities when fusing
	// the relevance score.
	Alpha float64
	Beta  float64

	// RelevanceThreshold is the fused-score cutoff for relevance.
	RelevanceThreshold float64

	// ScoreThreshold is the raw-distance cutoff used when no reranker is
	// available for the relevance check.
	ScoreThreshold float64
}

func (c *Config) applyDefaults() {
	if c.SearchType == "" {
		c.SearchType = SearchTypeMMR
	}
	if c.TopK <= 0 {
		c.TopK = 10
	}
	if c.FetchK <= 0 {
		c.FetchK = 35
	}
	if c.FetchK < c.TopK {
		c.FetchK = c.TopK
	}
	if c.LambdaMult <= 0 {
		c.LambdaMult = 0.5
	}
	if c.FinalK <= 0 {
		c.FinalK = 6
	}
	if c.TopKForCheck <= 0 {
		c.TopKForCheck = 8
	}
	if c.Alpha <= 0 {
		c.Alpha = 0.6
	}
	if c.Beta <= 0 {
		c.Beta = 0.4
	}
	if c.RelevanceThreshold <= 0 {
		c.RelevanceThreshold = 0.56
	}
	if c.ScoreThreshold <= 0 {
		c.ScoreThreshold = 0.55
	}
}

// Engine runs retrieval and relevance checks against a session index.
// A nil reranker disables the second stage.
type Engine struct {
	cfg      Config
	reranker reranker.Reranker
	logger   *slog.Logger
}

// NewEngine creates a ranking engine.
func NewEngine(cfg Config, rer reranker.Reranker, logger *slog.Logger) *Engine {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{cfg: cfg, reranker: rer, logger: logger}
}

// Retrieve returns the documents most relevant to the query, at most FinalK
// of them. queryVec is the query embedding, computed once by the caller.
//
// Search errors are fatal. Re-ranking errors are not: the engine logs them
// and keeps the first-stage order. An index with no matches yields an empty
// slice, not an error.
func (e *Engine) Retrieve(ctx context.Context, idx Searcher, query string, queryVec []float32) ([]repository.Document, error) {
	candidates, err := e.firstStage(ctx, idx, queryVec)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return []repository.Document{}, nil
	}

	if e.reranker == nil {
		return truncateDocs(candidates, e.cfg.FinalK), nil
	}

	scores, err := e.reranker.Score(ctx, query, contentsOf(candidates))
	if err != nil {
		e.logger.Warn("reranking failed, keeping vector order", "error", err)
		return truncateDocs(candidates, e.cfg.FinalK), nil
	}

	// Reranker order dominates; ties keep the first-stage order.
	order := make([]int, len(candidates))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})

	reranked := make([]vectorstore.SearchResult, len(candidates))
	for i, j := range order {
		reranked[i] = candidates[j]
	}

	return truncateDocs(reranked, e.cfg.FinalK), nil
}

// firstStage fetches candidates, oversampling and diversifying via MMR when
// configured.
func (e *Engine) firstStage(ctx context.Context, idx Searcher, queryVec []float32) ([]vectorstore.SearchResult, error) {
	if e.cfg.SearchType != SearchTypeMMR {
		// Both strategies fetch the oversampled pool so the reranker sees
		// every candidate; plain similarity hands the pool over as-is.
		results, err := idx.Search(ctx, queryVec, e.cfg.FetchK, false)
		if err != nil {
			return nil, fmt.Errorf("similarity search: %w", err)
		}
		return results, nil
	}

	pool, err := idx.Search(ctx, queryVec, e.cfg.FetchK, true)
	if err != nil {
		return nil, fmt.Errorf("mmr candidate search: %w", err)
	}
	return maximalMarginalRelevance(queryVec, pool, e.cfg.LambdaMult, e.cfg.TopK), nil
}

func contentsOf(results []vectorstore.SearchResult) []string {
	contents := make([]string, len(results))
	for i, r := range results {
		contents[i] = r.Document.Content
	}
	return contents
}

func truncateDocs(results []vectorstore.SearchResult, k int) []repository.Document {
	if len(results) > k {
		results = results[:k]
	}
	docs := make([]repository.Document, len(results))
	for i, r := range results {
		docs[i] = r.Document
	}
	return docs
}
