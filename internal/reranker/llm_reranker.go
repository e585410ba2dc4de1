package reranker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"docchat/internal/llm"
)

// Content beyond this many bytes adds tokens without adding signal.
const maxContentBytes = 500

// LLMReranker scores query-document pairs with a single batched LLM call.
// The model sees the query and every candidate together and emits one score
// per candidate as JSON.
type LLMReranker struct {
	llmClient llm.LLM
	model     string
}

// LLMRerankerOption is a functional option for configuring LLMReranker.
type LLMRerankerOption func(*LLMReranker)

// WithModel sets the scoring model.
func WithModel(model string) LLMRerankerOption {
	return func(r *LLMReranker) {
		r.model = model
	}
}

// NewLLMReranker creates an LLM-backed pairwise scorer.
func NewLLMReranker(llmClient llm.LLM, opts ...LLMRerankerOption) *LLMReranker {
	r := &LLMReranker{
		llmClient: llmClient,
		model:     "llama3.2",
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

type pairScore struct {
	DocIndex int     `json:"doc_index"`
	Score    float64 `json:"score"`
}

type scoreResponse struct {
	Scores []pairScore `json:"scores"`
}

// Score rates each content's relevance to the query. Candidates the model
// omits from its output default to 0.5; out-of-range scores are clamped.
func (r *LLMReranker) Score(ctx context.Context, query string, contents []string) ([]float64, error) {
	if len(contents) == 0 {
		return nil, nil
	}

	prompt := r.buildPrompt(query, contents)

	response, err := r.llmClient.Generate(ctx, prompt, llm.GenerateOptions{
		Model:       r.model,
		Temperature: 0.0,
		MaxTokens:   1024,
	})
	if err != nil {
		return nil, fmt.Errorf("rerank scoring failed: %w", err)
	}

	scores, err := parseScores(response, len(contents))
	if err != nil {
		return nil, fmt.Errorf("rerank scoring failed: %w", err)
	}

	return scores, nil
}

func (r *LLMReranker) buildPrompt(query string, contents []string) string {
	var sb strings.Builder

	sb.WriteString("You are a relevance scoring system. Score each document's relevance to the query.\n\n")
	sb.WriteString("Query: ")
	sb.WriteString(query)
	sb.WriteString("\n\n")

	sb.WriteString("Documents to score:\n")
	for i, content := range contents {
		if len(content) > maxContentBytes {
			content = content[:maxContentBytes] + "..."
		}
		sb.WriteString(fmt.Sprintf("[Doc %d]: %s\n\n", i, content))
	}

	sb.WriteString(`Score each document from 0.0 to 1.0 based on relevance to the query.
Output ONLY valid JSON in this exact format:
{"scores": [{"doc_index": 0, "score": 0.9}, {"doc_index": 1, "score": 0.3}, ...]}

Be strict: irrelevant documents should score below 0.3, somewhat relevant 0.3-0.7, highly relevant above 0.7.
Output only JSON, no explanation:`)

	return sb.String()
}

// parseScores extracts per-candidate scores from the model output, tolerating
// markdown code fences around the JSON.
func parseScores(response string, numContents int) ([]float64, error) {
	response = strings.TrimSpace(response)

	if idx := strings.Index(response, "```json"); idx != -1 {
		start := idx + 7
		if end := strings.Index(response[start:], "```"); end != -1 {
			response = response[start : start+end]
		}
	} else if idx := strings.Index(response, "```"); idx != -1 {
		start := idx + 3
		if end := strings.Index(response[start:], "```"); end != -1 {
			response = response[start : start+end]
		}
	}

	var parsed scoreResponse
	if err := json.Unmarshal([]byte(strings.TrimSpace(response)), &parsed); err != nil {
		return nil, fmt.Errorf("parsing score response: %w", err)
	}

	scores := make([]float64, numContents)
	for i := range scores {
		scores[i] = 0.5
	}

	for _, s := range parsed.Scores {
		if s.DocIndex < 0 || s.DocIndex >= numContents {
			continue
		}
		score := s.Score
		if score < 0 {
			score = 0
		}
		if score > 1 {
			score = 1
		}
		scores[s.DocIndex] = score
	}

	return scores, nil
}

// Ensure LLMReranker implements Reranker interface.
var _ Reranker = (*LLMReranker)(nil)
