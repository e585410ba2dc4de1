package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"docchat/internal/repository"
	"docchat/internal/vectorstore"
)

// SessionService manages chat session lifecycle: durable records, the
// session's vector collection, and the live index handle.
type SessionService struct {
	sessions repository.SessionRepository
	messages repository.MessageRepository
	store    vectorstore.VectorStore
	registry IndexProvider
	logger   *slog.Logger
}

// NewSessionService creates a session lifecycle service.
func NewSessionService(sessions repository.SessionRepository, messages repository.MessageRepository, store vectorstore.VectorStore, registry IndexProvider, logger *slog.Logger) *SessionService {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionService{
		sessions: sessions,
		messages: messages,
		store:    store,
		registry: registry,
		logger:   logger,
	}
}

// Create starts a new session with a generated ID.
func (s *SessionService) Create(ctx context.Context) (*repository.Session, error) {
	session := &repository.Session{
		ID:        uuid.NewString(),
		CreatedAt: time.Now(),
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	s.logger.Info("session created", "session_id", session.ID)
	return session, nil
}

// Get returns a session by ID.
func (s *SessionService) Get(ctx context.Context, id string) (*repository.Session, error) {
	return s.sessions.GetByID(ctx, id)
}

// List returns all sessions.
func (s *SessionService) List(ctx context.Context) ([]*repository.Session, error) {
	return s.sessions.List(ctx)
}

// History returns the most recent messages of a session in chronological
// order.
func (s *SessionService) History(ctx context.Context, id string, limit int) ([]*repository.Message, error) {
	if _, err := s.sessions.GetByID(ctx, id); err != nil {
		return nil, fmt.Errorf("looking up session: %w", err)
	}
	return s.messages.History(ctx, id, limit)
}

// Delete removes a session: its durable record (messages cascade), its
// vector collection, and its live index handle. A missing collection is not
// an error.
func (s *SessionService) Delete(ctx context.Context, id string) error {
	if err := s.sessions.Delete(ctx, id); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}

	s.registry.Remove(id)

	exists, err := s.store.CollectionExists(ctx, id)
	if err != nil {
		return fmt.Errorf("checking session collection: %w", err)
	}
	if exists {
		if err := s.store.DeleteCollection(ctx, id); err != nil {
			return fmt.Errorf("deleting session collection: %w", err)
		}
	}

	s.logger.Info("session deleted", "session_id", id)
	return nil
}
