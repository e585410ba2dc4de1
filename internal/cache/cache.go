// Package cache implements the per-session answer and retrieval caches.
//
// Two logical caches share one backend:
//
//   - Answer cache: normalized query -> final answer. A hit here
//     short-circuits the whole ranking pipeline.
//   - Retrieval cache: normalized query -> selected document IDs plus the
//     query embedding. Looked up first by exact hash, then by cosine
//     similarity against the session's previous query embeddings.
//
// All keys are derived from the normalized query text and scoped by session,
// so identical queries in different sessions never collide. Store failures
// are soft misses: they are logged and reported as "not cached", never
// surfaced to the caller.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strings"
	"time"
)

// RetrievalEntry is the cached outcome of one full ranking pass.
// Entries are immutable once written; a newer pass for the same key
// overwrites the old entry wholesale.
type RetrievalEntry struct {
	NormQuery   string    `json:"norm_query"`
	Embedding   []float32 `json:"embedding"`
	DocumentIDs []string  `json:"doc_ids"`
}

// Store defines the cache lookup protocol.
//
// Lookups return (zero value, false) on both a genuine miss and a backend
// failure. Writes are best-effort: a failed write costs a future cache hit,
// nothing else.
type Store interface {
	// LookupAnswer checks the answer cache by exact hash only. It never
	// requires an embedding.
	LookupAnswer(ctx context.Context, sessionID, normQuery string) (string, bool)

	// StoreAnswer writes the final answer under (session, query hash) with a TTL.
	StoreAnswer(ctx context.Context, sessionID, normQuery, answer string, ttl time.Duration)

	// LookupRetrieval tries an exact-hash match first, then scans the
	// session's query index for an entry whose stored embedding has cosine
	// similarity >= semanticThreshold with queryEmbedding. The threshold is
	// inclusive. Hashes whose entry has expired are skipped.
	LookupRetrieval(ctx context.Context, sessionID, normQuery string, queryEmbedding []float32, semanticThreshold float64) (*RetrievalEntry, bool)

	// StoreRetrieval writes the entry under its key with a TTL, then adds the
	// query hash to the session's query index and refreshes the index TTL to
	// at least the entry's. The two writes are not transactional: a dangling
	// index hash is skipped at lookup.
	StoreRetrieval(ctx context.Context, sessionID, normQuery string, embedding []float32, docIDs []string, ttl time.Duration)
}

// Normalize canonicalizes raw query text for cache keying: lower-case, trim,
// and collapse internal whitespace runs to single spaces. Idempotent.
func Normalize(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}

// HashQuery returns the hex SHA-256 digest of the normalized query text.
func HashQuery(normQuery string) string {
	sum := sha256.Sum256([]byte(normQuery))
	return hex.EncodeToString(sum[:])
}

// answerKey builds the answer cache key for (session, query hash).
func answerKey(sessionID, queryHash string) string {
	return fmt.Sprintf("ans:%s:%s", sessionID, queryHash)
}

// entryKey builds the retrieval entry key for (session, query hash).
func entryKey(sessionID, queryHash string) string {
	return fmt.Sprintf("retq:%s:%s", sessionID, queryHash)
}

// indexKey builds the key of the set holding a session's query hashes.
func indexKey(sessionID string) string {
	return fmt.Sprintf("ret:index:%s", sessionID)
}

// CosineSimilarity computes cosine similarity between two vectors. It returns
// -1.0 (never a match) when either vector is empty, the lengths differ, or
// either norm is zero.
func CosineSimilarity(u, v []float32) float64 {
	if len(u) == 0 || len(v) == 0 || len(u) != len(v) {
		return -1.0
	}

	var dot, normU, normV float64
	for i := range u {
		a, b := float64(u[i]), float64(v[i])
		dot += a * b
		normU += a * a
		normV += b * b
	}

	if normU == 0 || normV == 0 {
		return -1.0
	}

	return dot / (math.Sqrt(normU) * math.Sqrt(normV))
}
