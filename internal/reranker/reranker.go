// Package reranker scores query-document pairs for second-stage ranking.
//
// Reranking evaluates the query together with each candidate's content, which
// separates near-ties that embedding similarity alone cannot. It costs an
// extra model call per query, so the ranking engine and the relevance check
// both treat it as optional and degrade to vector-order results when scoring
// fails.
package reranker

import "context"

// Reranker assigns a relevance score to each (query, content) pair.
//
// Score returns one value per input content, in input order, in the range
// [0, 1]. Scores are comparable within a single call only; callers must not
// persist them or compare across calls.
type Reranker interface {
	Score(ctx context.Context, query string, contents []string) ([]float64, error)
}
