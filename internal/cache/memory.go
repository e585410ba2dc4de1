package cache

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryStore implements Store on an in-process TTL cache. It is used by
// tests and by single-node deployments that run without Redis; the key
// scheme and lookup protocol match RedisStore exactly.
type MemoryStore struct {
	mu      sync.Mutex
	backend *gocache.Cache
}

// NewMemoryStore creates an in-memory cache store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		backend: gocache.New(gocache.NoExpiration, 5*time.Minute),
	}
}

// LookupAnswer checks the answer cache by exact hash.
func (s *MemoryStore) LookupAnswer(_ context.Context, sessionID, normQuery string) (string, bool) {
	v, ok := s.backend.Get(answerKey(sessionID, HashQuery(normQuery)))
	if !ok {
		return "", false
	}
	answer, ok := v.(string)
	return answer, ok
}

// StoreAnswer writes the final answer with a TTL.
func (s *MemoryStore) StoreAnswer(_ context.Context, sessionID, normQuery, answer string, ttl time.Duration) {
	s.backend.Set(answerKey(sessionID, HashQuery(normQuery)), answer, ttl)
}

// LookupRetrieval implements the exact-then-semantic lookup protocol.
func (s *MemoryStore) LookupRetrieval(_ context.Context, sessionID, normQuery string, queryEmbedding []float32, semanticThreshold float64) (*RetrievalEntry, bool) {
	if v, ok := s.backend.Get(entryKey(sessionID, HashQuery(normQuery))); ok {
		if entry, ok := v.(*RetrievalEntry); ok {
			return entry, true
		}
	}

	hashes := s.indexSnapshot(sessionID)
	if len(hashes) == 0 {
		return nil, false
	}

	var best *RetrievalEntry
	bestSim := -1.0

	for _, h := range hashes {
		v, ok := s.backend.Get(entryKey(sessionID, h))
		if !ok {
			// Stale index hash; the entry expired independently.
			continue
		}
		entry, ok := v.(*RetrievalEntry)
		if !ok {
			continue
		}

		sim := CosineSimilarity(queryEmbedding, entry.Embedding)
		if sim > bestSim {
			bestSim = sim
			best = entry
		}
	}

	if best != nil && bestSim >= semanticThreshold {
		return best, true
	}
	return nil, false
}

// StoreRetrieval writes the entry, then adds its hash to the session index.
func (s *MemoryStore) StoreRetrieval(_ context.Context, sessionID, normQuery string, embedding []float32, docIDs []string, ttl time.Duration) {
	queryHash := HashQuery(normQuery)

	s.backend.Set(entryKey(sessionID, queryHash), &RetrievalEntry{
		NormQuery:   normQuery,
		Embedding:   embedding,
		DocumentIDs: docIDs,
	}, ttl)

	s.mu.Lock()
	defer s.mu.Unlock()

	set := map[string]struct{}{queryHash: {}}
	if v, ok := s.backend.Get(indexKey(sessionID)); ok {
		if existing, ok := v.(map[string]struct{}); ok {
			for h := range existing {
				set[h] = struct{}{}
			}
		}
	}
	s.backend.Set(indexKey(sessionID), set, ttl)
}

func (s *MemoryStore) indexSnapshot(sessionID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.backend.Get(indexKey(sessionID))
	if !ok {
		return nil
	}
	set, ok := v.(map[string]struct{})
	if !ok {
		return nil
	}

	hashes := make([]string, 0, len(set))
	for h := range set {
		hashes = append(hashes, h)
	}
	return hashes
}

// Ensure MemoryStore implements Store
var _ Store = (*MemoryStore)(nil)
