// Package vectorstore provides interfaces and implementations for per-session vector similarity search.
package vectorstore

import (
	"context"

	"docchat/internal/repository"
)

// SearchResult is one scored candidate from a similarity query. Score is the
// backend's cosine similarity (higher is closer). The document embedding is
// populated only when the search was asked to return vectors.
type SearchResult struct {
	Document repository.Document
	Score    float32
}

// VectorStore defines the interface for per-session vector index storage.
// Each session maps to an isolated collection; once a collection is created
// its embedding dimensionality is fixed.
type VectorStore interface {
	// CreateCollection creates the collection backing a session's index.
	CreateCollection(ctx context.Context, sessionID string, dimension int) error

	// CollectionExists reports whether a session's collection exists.
	CollectionExists(ctx context.Context, sessionID string) (bool, error)

	// DeleteCollection removes a session's collection.
	DeleteCollection(ctx context.Context, sessionID string) error

	// Upsert inserts or overwrites documents. Documents must carry an ID
	// and an embedding of the collection's dimensionality.
	Upsert(ctx context.Context, sessionID string, docs []repository.Document) error

	// Search returns the topK nearest documents to vector. When withVectors
	// is set, each result's document carries its stored embedding.
	Search(ctx context.Context, sessionID string, vector []float32, topK int, withVectors bool) ([]SearchResult, error)

	// GetByIDs returns the documents stored under the given IDs. Missing IDs
	// are simply absent from the result.
	GetByIDs(ctx context.Context, sessionID string, ids []string) ([]repository.Document, error)

	// Count returns the number of documents in a session's collection.
	Count(ctx context.Context, sessionID string) (uint64, error)
}
