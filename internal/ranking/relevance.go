package ranking

import (
	"context"
	"fmt"
	"math"
)

// Relevance is the outcome of a quick relevance check. Score is the fused
// relevance score; callers may reuse it within the same request but must not
// persist it.
type Relevance struct {
	Relevant bool
	Score    float64
}

// CheckRelevance estimates, cheaply, whether the session's documents can
// ground an answer to the query. It fetches TopKForCheck candidates, folds
// the best index distance into [0,1] via 1/(1+d), and when a reranker is
// available fuses that with the logistic-squashed best reranker score:
//
//	final = Alpha*simIndex + Beta*simReranker
//
// compared against RelevanceThreshold. Without a reranker (or when scoring
// fails) the raw distance is thresholded against ScoreThreshold instead.
// An empty index is never relevant.
func (e *Engine) CheckRelevance(ctx context.Context, idx Searcher, query string, queryVec []float32) (Relevance, error) {
	results, err := idx.Search(ctx, queryVec, e.cfg.TopKForCheck, false)
	if err != nil {
		return Relevance{}, fmt.Errorf("relevance check search: %w", err)
	}
	if len(results) == 0 {
		return Relevance{}, nil
	}

	bestSim := float64(results[0].Score)
	for _, r := range results[1:] {
		if float64(r.Score) > bestSim {
			bestSim = float64(r.Score)
		}
	}

	// The backend reports cosine similarity; the check works on distance.
	rawDist := 1 - bestSim
	simIndex := 1 / (1 + rawDist)

	if e.reranker == nil {
		return e.distanceFallback(rawDist, simIndex), nil
	}

	scores, err := e.reranker.Score(ctx, query, contentsOf(results))
	if err != nil {
		e.logger.Warn("relevance reranking failed, thresholding raw distance", "error", err)
		return e.distanceFallback(rawDist, simIndex), nil
	}

	bestRerank := scores[0]
	for _, s := range scores[1:] {
		if s > bestRerank {
			bestRerank = s
		}
	}
	simRerank := logistic(bestRerank)

	final := e.cfg.Alpha*simIndex + e.cfg.Beta*simRerank
	return Relevance{
		Relevant: final >= e.cfg.RelevanceThreshold,
		Score:    final,
	}, nil
}

func (e *Engine) distanceFallback(rawDist, simIndex float64) Relevance {
	return Relevance{
		Relevant: rawDist <= e.cfg.ScoreThreshold,
		Score:    simIndex,
	}
}

func logistic(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
