package ranking

import (
	"docchat/internal/cache"
	"docchat/internal/vectorstore"
)

// maximalMarginalRelevance greedily selects up to k results from the
// oversampled pool, trading query relevance against redundancy with the
// results already selected:
//
//	score(i) = lambda * sim(query, i) - (1-lambda) * max_j sim(i, selected_j)
//
// Candidates must carry their stored embeddings. Returns min(k, len(pool))
// results.
func maximalMarginalRelevance(queryVec []float32, pool []vectorstore.SearchResult, lambda float64, k int) []vectorstore.SearchResult {
	if k <= 0 || len(pool) == 0 {
		return nil
	}
	if k > len(pool) {
		k = len(pool)
	}

	relevance := make([]float64, len(pool))
	for i, c := range pool {
		relevance[i] = cache.CosineSimilarity(queryVec, c.Document.Embedding)
	}

	selected := make([]int, 0, k)
	picked := make([]bool, len(pool))

	for len(selected) < k {
		bestIdx := -1
		bestScore := 0.0

		for i := range pool {
			if picked[i] {
				continue
			}

			redundancy := 0.0
			for _, j := range selected {
				sim := cache.CosineSimilarity(pool[i].Document.Embedding, pool[j].Document.Embedding)
				if sim > redundancy {
					redundancy = sim
				}
			}

			score := lambda*relevance[i] - (1-lambda)*redundancy
			if bestIdx == -1 || score > bestScore {
				bestIdx = i
				bestScore = score
			}
		}

		picked[bestIdx] = true
		selected = append(selected, bestIdx)
	}

	out := make([]vectorstore.SearchResult, len(selected))
	for i, j := range selected {
		out[i] = pool[j]
	}
	return out
}
