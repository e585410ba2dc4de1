package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on Redis. Entries use SETEX, the per-session
// query index is a SET whose TTL is refreshed on every write.
type RedisStore struct {
	client *redis.Client
	logger *slog.Logger
}

// RedisConfig holds connection settings for the cache backend.
type RedisConfig struct {
	// Addr is the Redis address in "host:port" form.
	Addr string

	// DB is the Redis database number.
	DB int

	// Timeout bounds dial, read, and write operations. Keep this short:
	// a slow cache must degrade to a miss, not stall the request.
	Timeout time.Duration
}

// NewRedisStore creates a Redis-backed cache store.
func NewRedisStore(cfg RedisConfig, logger *slog.Logger) *RedisStore {
	if logger == nil {
		logger = slog.Default()
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		DB:           cfg.DB,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	})

	return &RedisStore{client: client, logger: logger}
}

// Ping verifies connectivity to Redis.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the underlying Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// LookupAnswer checks the answer cache by exact hash.
func (s *RedisStore) LookupAnswer(ctx context.Context, sessionID, normQuery string) (string, bool) {
	key := answerKey(sessionID, HashQuery(normQuery))

	answer, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Warn("answer cache lookup failed", "error", err, "session_id", sessionID)
		}
		return "", false
	}

	s.logger.Debug("answer cache hit", "session_id", sessionID)
	return answer, true
}

// StoreAnswer writes the final answer with a TTL.
func (s *RedisStore) StoreAnswer(ctx context.Context, sessionID, normQuery, answer string, ttl time.Duration) {
	key := answerKey(sessionID, HashQuery(normQuery))

	if err := s.client.SetEx(ctx, key, answer, ttl).Err(); err != nil {
		s.logger.Warn("failed to cache answer", "error", err, "session_id", sessionID)
	}
}

// LookupRetrieval implements the exact-then-semantic lookup protocol.
func (s *RedisStore) LookupRetrieval(ctx context.Context, sessionID, normQuery string, queryEmbedding []float32, semanticThreshold float64) (*RetrievalEntry, bool) {
	queryHash := HashQuery(normQuery)

	// Fast path: exact normalized-text match, no semantic scan.
	raw, err := s.client.Get(ctx, entryKey(sessionID, queryHash)).Result()
	if err == nil {
		entry, ok := decodeEntry(raw, s.logger)
		if ok {
			s.logger.Debug("retrieval cache hit (exact)", "session_id", sessionID)
			return entry, true
		}
	} else if !errors.Is(err, redis.Nil) {
		s.logger.Warn("retrieval cache lookup failed", "error", err, "session_id", sessionID)
		return nil, false
	}

	// Semantic path: scan the session's previous query embeddings.
	hashes, err := s.client.SMembers(ctx, indexKey(sessionID)).Result()
	if err != nil {
		s.logger.Warn("session query index fetch failed", "error", err, "session_id", sessionID)
		return nil, false
	}
	if len(hashes) == 0 {
		s.logger.Debug("retrieval cache miss (no session index)", "session_id", sessionID)
		return nil, false
	}

	var best *RetrievalEntry
	bestSim := -1.0

	for _, h := range hashes {
		raw, err := s.client.Get(ctx, entryKey(sessionID, h)).Result()
		if err != nil {
			// Expired entries leave stale hashes behind; skip them.
			if !errors.Is(err, redis.Nil) {
				s.logger.Warn("retrieval entry fetch failed", "error", err, "session_id", sessionID)
			}
			continue
		}

		entry, ok := decodeEntry(raw, s.logger)
		if !ok {
			continue
		}

		sim := CosineSimilarity(queryEmbedding, entry.Embedding)
		if sim > bestSim {
			bestSim = sim
			best = entry
		}
	}

	// Boundary inclusive: a similarity exactly at the threshold is a hit.
	if best != nil && bestSim >= semanticThreshold {
		s.logger.Debug("retrieval cache hit (semantic)", "session_id", sessionID, "similarity", bestSim)
		return best, true
	}

	s.logger.Debug("retrieval cache miss (semantic)", "session_id", sessionID, "best_similarity", bestSim)
	return nil, false
}

// StoreRetrieval writes the entry, then registers its hash in the session
// query index. A crash between the two leaves a hash with no live entry,
// which LookupRetrieval skips.
func (s *RedisStore) StoreRetrieval(ctx context.Context, sessionID, normQuery string, embedding []float32, docIDs []string, ttl time.Duration) {
	queryHash := HashQuery(normQuery)

	payload, err := json.Marshal(RetrievalEntry{
		NormQuery:   normQuery,
		Embedding:   embedding,
		DocumentIDs: docIDs,
	})
	if err != nil {
		s.logger.Warn("failed to encode retrieval entry", "error", err, "session_id", sessionID)
		return
	}

	if err := s.client.SetEx(ctx, entryKey(sessionID, queryHash), payload, ttl).Err(); err != nil {
		s.logger.Warn("failed to store retrieval entry", "error", err, "session_id", sessionID)
		return
	}

	idx := indexKey(sessionID)
	if err := s.client.SAdd(ctx, idx, queryHash).Err(); err != nil {
		s.logger.Warn("failed to index retrieval entry", "error", err, "session_id", sessionID)
		return
	}
	if err := s.client.Expire(ctx, idx, ttl).Err(); err != nil {
		s.logger.Warn("failed to refresh session index TTL", "error", err, "session_id", sessionID)
	}

	s.logger.Debug("stored retrieval entry",
		"session_id", sessionID,
		"doc_count", len(docIDs),
	)
}

func decodeEntry(raw string, logger *slog.Logger) (*RetrievalEntry, bool) {
	var entry RetrievalEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		logger.Warn("malformed retrieval cache entry", "error", err)
		return nil, false
	}
	return &entry, true
}

// Ensure RedisStore implements Store
var _ Store = (*RedisStore)(nil)
