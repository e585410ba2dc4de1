// Package llm defines the text-generation client used for answer synthesis
// and for pairwise relevance scoring.
package llm

import "context"

// GenerateOptions control a single generation call.
type GenerateOptions struct {
	// Model overrides the client default when non-empty.
	Model string

	// SystemPrompt sets system-level instructions for the model.
	SystemPrompt string

	// Temperature controls sampling randomness. Zero leaves the backend default.
	Temperature float32

	// MaxTokens caps the response length. Zero means no cap.
	MaxTokens int
}

// StreamChunk is one fragment of a streamed response.
type StreamChunk struct {
	// Token contains the generated text fragment.
	Token string

	// Done marks the final chunk of the stream.
	Done bool

	// Error carries a streaming failure. A chunk with a non-nil Error is
	// always the last one delivered.
	Error error
}

// LLM is the generation contract.
type LLM interface {
	// Generate blocks until the full response is available.
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)

	// GenerateStream returns a channel of response chunks. The channel is
	// closed when generation completes, fails, or the context is cancelled.
	GenerateStream(ctx context.Context, prompt string, opts GenerateOptions) (<-chan StreamChunk, error)
}
