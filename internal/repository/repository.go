// Package repository defines domain models and data access interfaces for sessions, messages, and ingestion fingerprints.
package repository

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// Modality identifies what kind of content a document carries.
type Modality string

const (
	ModalityText  Modality = "text"
	ModalityTable Modality = "table"
	ModalityImage Modality = "image"
)

// Valid reports whether m is one of the known modalities.
func (m Modality) Valid() bool {
	switch m {
	case ModalityText, ModalityTable, ModalityImage:
		return true
	}
	return false
}

// Document is one indexable unit of ingested content. ID, Content, and
// Source are required for every modality; the remaining fields are
// modality-specific. The vector index owns document storage exclusively;
// every other component only reads.
type Document struct {
	ID       string
	Content  string
	Source   string
	Modality Modality

	// Embedding is populated at ingestion time by the embedding service.
	Embedding []float32

	// Caption describes an image document (modality image only).
	Caption string

	// Page is the 1-based source page the content came from, 0 if unknown.
	Page int
}

// Session represents one chat session with its own document corpus.
type Session struct {
	ID        string
	CreatedAt time.Time
}

// Message is one turn of a chat conversation.
type Message struct {
	ID        string
	SessionID string
	Role      string // "user" or "assistant"
	Content   string
	CreatedAt time.Time
}

// SessionRepository defines operations for session persistence
type SessionRepository interface {
	Create(ctx context.Context, session *Session) error
	GetByID(ctx context.Context, id string) (*Session, error)
	List(ctx context.Context) ([]*Session, error)
	Delete(ctx context.Context, id string) error
}

// MessageRepository defines operations for chat message persistence
type MessageRepository interface {
	Add(ctx context.Context, msg *Message) error

	// History returns the most recent messages for a session in
	// chronological order, capped at limit.
	History(ctx context.Context, sessionID string, limit int) ([]*Message, error)
}

// FingerprintRepository persists the sidecar map of ingestion fingerprints
// for each session's vector index.
type FingerprintRepository interface {
	// Load returns all fingerprints recorded for a session.
	Load(ctx context.Context, sessionID string) (map[string]struct{}, error)

	// Add records fingerprints for a session. Re-adding an existing
	// fingerprint is a no-op.
	Add(ctx context.Context, sessionID string, fingerprints []string) error
}
