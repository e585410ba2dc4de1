package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"docchat/internal/ingestion"
	"docchat/internal/repository"
)

// IngestService splits extracted content and feeds it into a session's
// vector index. Ingestion is serialized per session; concurrent calls for
// different sessions proceed independently.
type IngestService struct {
	registry IndexProvider
	splitter *ingestion.Splitter
	sessions repository.SessionRepository
	logger   *slog.Logger

	mu    sync.Mutex
	locks map[string]*sessionLock
}

// sessionLock is a keyed mutex entry, refcounted so idle sessions do not
// accumulate in the locks map.
type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// NewIngestService creates an ingestion service.
func NewIngestService(registry IndexProvider, splitter *ingestion.Splitter, sessions repository.SessionRepository, logger *slog.Logger) *IngestService {
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestService{
		registry: registry,
		splitter: splitter,
		sessions: sessions,
		logger:   logger,
		locks:    make(map[string]*sessionLock),
	}
}

// Ingest validates, splits, and indexes docs for a session, returning how
// many chunks were actually new. Re-submitting the same content is a no-op.
func (s *IngestService) Ingest(ctx context.Context, sessionID string, docs []repository.Document) (int, error) {
	if _, err := s.sessions.GetByID(ctx, sessionID); err != nil {
		return 0, fmt.Errorf("looking up session: %w", err)
	}

	var chunks []repository.Document
	for i, doc := range docs {
		if doc.Content == "" {
			continue
		}
		if doc.Source == "" {
			return 0, fmt.Errorf("document %d is missing a source", i)
		}
		if doc.Modality == "" {
			doc.Modality = repository.ModalityText
		}
		if !doc.Modality.Valid() {
			return 0, fmt.Errorf("document %d has unknown modality %q", i, doc.Modality)
		}
		chunks = append(chunks, s.splitter.Split(doc)...)
	}
	if len(chunks) == 0 {
		return 0, nil
	}

	lock := s.acquireLock(sessionID)
	defer s.releaseLock(sessionID, lock)

	mgr, err := s.registry.Get(ctx, sessionID)
	if err != nil {
		return 0, fmt.Errorf("opening session index: %w", err)
	}

	added, err := mgr.AddDocuments(ctx, chunks)
	if err != nil {
		return 0, fmt.Errorf("indexing documents: %w", err)
	}

	s.logger.Info("ingestion complete",
		"session_id", sessionID,
		"documents", len(docs),
		"chunks", len(chunks),
		"added", len(added),
	)
	return len(added), nil
}

func (s *IngestService) acquireLock(sessionID string) *sessionLock {
	s.mu.Lock()
	lock, ok := s.locks[sessionID]
	if !ok {
		lock = &sessionLock{}
		s.locks[sessionID] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return lock
}

func (s *IngestService) releaseLock(sessionID string, lock *sessionLock) {
	lock.mu.Unlock()

	s.mu.Lock()
	lock.refs--
	if lock.refs == 0 {
		delete(s.locks, sessionID)
	}
	s.mu.Unlock()
}
