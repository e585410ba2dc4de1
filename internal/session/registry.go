// Package session tracks the live per-session index handles.
//
// Opening a session index means talking to the vector store and reloading the
// session's fingerprint set, so handles are cached with a sliding TTL and
// rebuilt transparently after eviction. Dropping a handle loses no data;
// everything it holds is reloadable from durable storage.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"docchat/internal/embedder"
	"docchat/internal/index"
	"docchat/internal/repository"
	"docchat/internal/vectorstore"
)

// Registry hands out one index.Manager per session.
type Registry struct {
	mu      sync.Mutex
	handles *gocache.Cache
	ttl     time.Duration

	store        vectorstore.VectorStore
	embedder     embedder.Embedder
	fingerprints repository.FingerprintRepository
	logger       *slog.Logger
}

// NewRegistry creates a registry whose handles expire ttl after their last
// use.
func NewRegistry(ttl time.Duration, store vectorstore.VectorStore, emb embedder.Embedder, fingerprints repository.FingerprintRepository, logger *slog.Logger) *Registry {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Registry{
		handles:      gocache.New(ttl, 10*time.Minute),
		ttl:          ttl,
		store:        store,
		embedder:     emb,
		fingerprints: fingerprints,
		logger:       logger,
	}
}

// Get returns the session's index handle, opening it on first use or after
// expiry. Every call refreshes the handle's TTL. Opens are serialized across
// sessions; they are cheap compared to the embedding and generation calls
// that follow.
func (r *Registry) Get(ctx context.Context, sessionID string) (*index.Manager, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if v, ok := r.handles.Get(sessionID); ok {
		mgr := v.(*index.Manager)
		r.handles.Set(sessionID, mgr, r.ttl)
		return mgr, nil
	}

	mgr, err := index.Load(ctx, sessionID, r.store, r.embedder, r.fingerprints, r.logger)
	if err != nil {
		return nil, fmt.Errorf("opening index for session %s: %w", sessionID, err)
	}

	r.handles.Set(sessionID, mgr, r.ttl)
	r.logger.Debug("opened session index handle", "session_id", sessionID)
	return mgr, nil
}

// Remove drops the session's handle, if any. Used when a session is deleted;
// the caller is responsible for removing the underlying collection.
func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handles.Delete(sessionID)
}
