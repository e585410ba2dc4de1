// Package service wires the caches, the ranking engine, and the generation
// client into the chat and ingestion flows.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"docchat/internal/cache"
	"docchat/internal/embedder"
	"docchat/internal/index"
	"docchat/internal/llm"
	"docchat/internal/ranking"
	"docchat/internal/repository"
)

// IndexProvider hands out per-session index handles. session.Registry
// satisfies it.
type IndexProvider interface {
	Get(ctx context.Context, sessionID string) (*index.Manager, error)
	Remove(sessionID string)
}

// ChatConfig holds the chat pipeline settings.
type ChatConfig struct {
	// AnswerTTL and RetrievalTTL bound the two cache layers.
	AnswerTTL    time.Duration
	RetrievalTTL time.Duration

	// SemanticThreshold is the cosine cutoff for semantic retrieval-cache
	// hits. Inclusive.
	SemanticThreshold float64

	// HistoryLimit caps how many recent messages are folded into the prompt.
	HistoryLimit int

	// Workers bounds how many requests may run the embed/search/rerank path
	// at once. Cache hits bypass the pool.
	Workers int

	// Model is the generation model.
	Model string
}

func (c *ChatConfig) applyDefaults() {
	if c.AnswerTTL <= 0 {
		c.AnswerTTL = 24 * time.Hour
	}
	if c.RetrievalTTL <= 0 {
		c.RetrievalTTL = 24 * time.Hour
	}
	if c.SemanticThreshold <= 0 {
		c.SemanticThreshold = 0.9
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 10
	}
	if c.Workers <= 0 {
		c.Workers = 8
	}
}

// ChatResponse is the outcome of one chat turn.
type ChatResponse struct {
	Answer string

	// Sources are the documents the answer was grounded in, empty for the
	// plain reasoning path.
	Sources []repository.Document

	// Cached is set when the answer came straight from the answer cache.
	Cached bool

	// Grounded is set when retrieval supplied context for the answer.
	Grounded bool
}

// ChatService runs the cached retrieval-and-generation pipeline.
type ChatService struct {
	cache     cache.Store
	registry  IndexProvider
	engine    *ranking.Engine
	embedder  embedder.Embedder
	llmClient llm.LLM
	sessions  repository.SessionRepository
	messages  repository.MessageRepository
	cfg       ChatConfig
	logger    *slog.Logger

	// sem is the bounded worker pool for the heavy path.
	sem chan struct{}
}

// NewChatService creates the chat pipeline.
func NewChatService(
	store cache.Store,
	registry IndexProvider,
	engine *ranking.Engine,
	emb embedder.Embedder,
	llmClient llm.LLM,
	sessions repository.SessionRepository,
	messages repository.MessageRepository,
	cfg ChatConfig,
	logger *slog.Logger,
) *ChatService {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	return &ChatService{
		cache:     store,
		registry:  registry,
		engine:    engine,
		embedder:  emb,
		llmClient: llmClient,
		sessions:  sessions,
		messages:  messages,
		cfg:       cfg,
		logger:    logger,
		sem:       make(chan struct{}, cfg.Workers),
	}
}

// Chat answers one user query within a session.
//
// The answer cache is consulted first and short-circuits everything else.
// On a miss the query is embedded once; the retrieval cache, the relevance
// check, and the ranking pipeline all reuse that embedding. Queries the
// session's documents cannot ground are answered by the model directly.
func (s *ChatService) Chat(ctx context.Context, sessionID, query string) (*ChatResponse, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query is required")
	}
	if _, err := s.sessions.GetByID(ctx, sessionID); err != nil {
		return nil, fmt.Errorf("looking up session: %w", err)
	}

	norm := cache.Normalize(query)

	if answer, ok := s.cache.LookupAnswer(ctx, sessionID, norm); ok {
		s.recordTurn(ctx, sessionID, query, answer)
		return &ChatResponse{Answer: answer, Cached: true}, nil
	}

	// Everything below embeds, searches, and generates; hold a pool slot.
	select {
	case s.sem <- struct{}{}:
		defer func() { <-s.sem }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	queryVec, err := s.embedder.Embed(ctx, norm)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	mgr, err := s.registry.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("opening session index: %w", err)
	}

	docs, grounded := s.retrieveContext(ctx, mgr, sessionID, norm, queryVec)

	history := s.recentHistory(ctx, sessionID)

	prompt := buildPrompt(query, docs, history, grounded)
	answer, err := s.llmClient.Generate(ctx, prompt, llm.GenerateOptions{
		Model:       s.cfg.Model,
		Temperature: 0.3,
		MaxTokens:   2048,
	})
	if err != nil {
		return nil, fmt.Errorf("generating answer: %w", err)
	}

	s.recordTurn(ctx, sessionID, query, answer)
	s.cache.StoreAnswer(ctx, sessionID, norm, answer, s.cfg.AnswerTTL)

	return &ChatResponse{Answer: answer, Sources: docs, Grounded: grounded}, nil
}

// ChatStream is one streaming chat turn: the grounding metadata is available
// immediately, the answer arrives token by token on Chunks. The channel is
// closed after the final chunk.
type ChatStream struct {
	Sources  []repository.Document
	Cached   bool
	Grounded bool
	Chunks   <-chan llm.StreamChunk
}

// Stream answers one user query within a session, streaming the generated
// tokens. It runs the same cached pipeline as Chat; an answer-cache hit is
// delivered as a single chunk. The worker-pool slot is held until the stream
// finishes.
func (s *ChatService) Stream(ctx context.Context, sessionID, query string) (*ChatStream, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query is required")
	}
	if _, err := s.sessions.GetByID(ctx, sessionID); err != nil {
		return nil, fmt.Errorf("looking up session: %w", err)
	}

	norm := cache.Normalize(query)

	if answer, ok := s.cache.LookupAnswer(ctx, sessionID, norm); ok {
		s.recordTurn(ctx, sessionID, query, answer)
		out := make(chan llm.StreamChunk, 1)
		out <- llm.StreamChunk{Token: answer, Done: true}
		close(out)
		return &ChatStream{Cached: true, Chunks: out}, nil
	}

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	release := func() { <-s.sem }

	queryVec, err := s.embedder.Embed(ctx, norm)
	if err != nil {
		release()
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	mgr, err := s.registry.Get(ctx, sessionID)
	if err != nil {
		release()
		return nil, fmt.Errorf("opening session index: %w", err)
	}

	docs, grounded := s.retrieveContext(ctx, mgr, sessionID, norm, queryVec)
	history := s.recentHistory(ctx, sessionID)
	prompt := buildPrompt(query, docs, history, grounded)

	upstream, err := s.llmClient.GenerateStream(ctx, prompt, llm.GenerateOptions{
		Model:       s.cfg.Model,
		Temperature: 0.3,
		MaxTokens:   2048,
	})
	if err != nil {
		release()
		return nil, fmt.Errorf("generating answer: %w", err)
	}

	out := make(chan llm.StreamChunk)
	go func() {
		defer close(out)
		defer release()

		var sb strings.Builder
		for chunk := range upstream {
			if chunk.Error == nil {
				sb.WriteString(chunk.Token)
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
			if chunk.Error != nil {
				return
			}
		}

		answer := sb.String()
		s.recordTurn(ctx, sessionID, query, answer)
		s.cache.StoreAnswer(ctx, sessionID, norm, answer, s.cfg.AnswerTTL)
	}()

	return &ChatStream{Sources: docs, Grounded: grounded, Chunks: out}, nil
}

// retrieveContext resolves the documents grounding the query: retrieval
// cache first, then the relevance-gated ranking pipeline. It returns no
// documents when the query isn't about the session's corpus. Failures
// degrade to the ungrounded path rather than failing the turn.
func (s *ChatService) retrieveContext(ctx context.Context, mgr *index.Manager, sessionID, norm string, queryVec []float32) ([]repository.Document, bool) {
	if entry, ok := s.cache.LookupRetrieval(ctx, sessionID, norm, queryVec, s.cfg.SemanticThreshold); ok {
		docs, err := mgr.GetByIDs(ctx, entry.DocumentIDs)
		if err != nil {
			s.logger.Warn("resolving cached document IDs failed", "error", err, "session_id", sessionID)
		} else if len(docs) > 0 {
			return docs, true
		}
		// Cached IDs all vanished from the index; fall through and retrieve.
	}

	rel, err := s.engine.CheckRelevance(ctx, mgr, norm, queryVec)
	if err != nil {
		s.logger.Warn("relevance check failed, answering without retrieval", "error", err, "session_id", sessionID)
		return nil, false
	}
	if !rel.Relevant {
		s.logger.Debug("query not grounded in session documents", "session_id", sessionID, "score", rel.Score)
		return nil, false
	}

	docs, err := s.engine.Retrieve(ctx, mgr, norm, queryVec)
	if err != nil {
		s.logger.Warn("retrieval failed, answering without context", "error", err, "session_id", sessionID)
		return nil, false
	}
	if len(docs) == 0 {
		return nil, false
	}

	ids := make([]string, len(docs))
	for i, doc := range docs {
		ids[i] = doc.ID
	}
	s.cache.StoreRetrieval(ctx, sessionID, norm, queryVec, ids, s.cfg.RetrievalTTL)

	return docs, true
}

func (s *ChatService) recentHistory(ctx context.Context, sessionID string) []*repository.Message {
	history, err := s.messages.History(ctx, sessionID, s.cfg.HistoryLimit)
	if err != nil {
		s.logger.Warn("loading chat history failed", "error", err, "session_id", sessionID)
		return nil
	}
	return history
}

// recordTurn persists both sides of the exchange. Persistence failures are
// logged; the user still gets their answer.
func (s *ChatService) recordTurn(ctx context.Context, sessionID, query, answer string) {
	now := time.Now()
	turn := []*repository.Message{
		{ID: uuid.NewString(), SessionID: sessionID, Role: "user", Content: query, CreatedAt: now},
		{ID: uuid.NewString(), SessionID: sessionID, Role: "assistant", Content: answer, CreatedAt: now},
	}
	for _, msg := range turn {
		if err := s.messages.Add(ctx, msg); err != nil {
			s.logger.Warn("persisting chat message failed", "error", err, "session_id", sessionID)
			return
		}
	}
}

const groundedSystemPrompt = `You are a helpful assistant answering questions about the user's documents.
Answer using only the context documents below. If they do not contain the answer, say so.`

const reasoningSystemPrompt = `You are a helpful assistant. Answer the user's question directly.`

// buildPrompt assembles the generation prompt from the retrieved context and
// the recent conversation.
func buildPrompt(query string, docs []repository.Document, history []*repository.Message, grounded bool) string {
	var sb strings.Builder

	if grounded {
		sb.WriteString(groundedSystemPrompt)
	} else {
		sb.WriteString(reasoningSystemPrompt)
	}
	sb.WriteString("\n\n")

	if len(history) > 0 {
		sb.WriteString("## Conversation History\n\n")
		for _, msg := range history {
			sb.WriteString(msg.Role)
			sb.WriteString(": ")
			sb.WriteString(msg.Content)
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	if grounded {
		sb.WriteString("## Context Documents\n\n")
		for i, doc := range docs {
			sb.WriteString(fmt.Sprintf("[Doc %d]", i+1))
			if doc.Source != "" {
				sb.WriteString(fmt.Sprintf(" (Source: %s", doc.Source))
				if doc.Page > 0 {
					sb.WriteString(fmt.Sprintf(", page %d", doc.Page))
				}
				sb.WriteString(")")
			}
			sb.WriteString("\n")
			if doc.Modality == repository.ModalityImage && doc.Caption != "" {
				sb.WriteString("Image: ")
				sb.WriteString(doc.Caption)
			} else {
				sb.WriteString(doc.Content)
			}
			sb.WriteString("\n\n")
		}
	}

	sb.WriteString("## Question\n")
	sb.WriteString(query)
	sb.WriteString("\n\n## Answer (be brief and direct)\n")

	return sb.String()
}
