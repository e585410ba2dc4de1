// Package index manages one vector index per chat session.
//
// A Manager owns the session's collection in the vector store plus an
// in-memory set of content fingerprints that makes ingestion idempotent. The
// fingerprint set is persisted to durable storage so a restarted process can
// reload it; persistence happens after the vector write, so a crash in
// between re-adds the same content on retry (at-least-once ingestion).
//
// Managers are not safe for concurrent ingestion. Callers serialize
// AddDocuments per session; read paths (Search, GetByIDs, Count) may run
// concurrently with each other.
package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"docchat/internal/embedder"
	"docchat/internal/repository"
	"docchat/internal/vectorstore"
)

// Fingerprint derives the dedup key for a document: the hex SHA-256 of its
// content joined with its source. Same content from a different source is a
// different document.
func Fingerprint(content, source string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:]) + "::" + source
}

// Manager is the per-session vector index handle.
type Manager struct {
	sessionID    string
	store        vectorstore.VectorStore
	embedder     embedder.Embedder
	fingerprints repository.FingerprintRepository
	logger       *slog.Logger

	// seen holds every fingerprint known for this session, loaded at open
	// and extended on each successful ingestion.
	seen map[string]struct{}
}

// Load opens the session's index, creating the collection on first use.
// For an existing collection the persisted fingerprint set is reloaded; a
// fresh collection starts empty. Any failure here is fatal for the session.
func Load(ctx context.Context, sessionID string, store vectorstore.VectorStore, emb embedder.Embedder, fingerprints repository.FingerprintRepository, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}

	exists, err := store.CollectionExists(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("checking collection for session %s: %w", sessionID, err)
	}

	seen := make(map[string]struct{})
	if exists {
		seen, err = fingerprints.Load(ctx, sessionID)
		if err != nil {
			return nil, fmt.Errorf("loading fingerprints for session %s: %w", sessionID, err)
		}
		logger.Debug("reloaded session index", "session_id", sessionID, "fingerprints", len(seen))
	} else {
		if err := store.CreateCollection(ctx, sessionID, emb.Dimension()); err != nil {
			return nil, fmt.Errorf("creating collection for session %s: %w", sessionID, err)
		}
		logger.Info("created session index", "session_id", sessionID, "dimension", emb.Dimension())
	}

	return &Manager{
		sessionID:    sessionID,
		store:        store,
		embedder:     emb,
		fingerprints: fingerprints,
		logger:       logger,
		seen:         seen,
	}, nil
}

// SessionID returns the session this index belongs to.
func (m *Manager) SessionID() string {
	return m.sessionID
}

// AddDocuments ingests docs into the session index and returns only the ones
// that were actually new. Documents whose fingerprint is already known (from
// an earlier call or earlier in the same batch) are skipped. New documents
// get a generated ID when they arrive without one, are embedded in one batch,
// upserted, and only then have their fingerprints persisted.
func (m *Manager) AddDocuments(ctx context.Context, docs []repository.Document) ([]repository.Document, error) {
	fresh := make([]repository.Document, 0, len(docs))
	prints := make([]string, 0, len(docs))

	for _, doc := range docs {
		fp := Fingerprint(doc.Content, doc.Source)
		if _, ok := m.seen[fp]; ok {
			continue
		}
		// Claim the fingerprint now so a duplicate later in this batch is
		// skipped too. Rolled back below if ingestion fails.
		m.seen[fp] = struct{}{}

		if doc.ID == "" {
			doc.ID = uuid.NewString()
		}
		fresh = append(fresh, doc)
		prints = append(prints, fp)
	}

	if len(fresh) == 0 {
		m.logger.Debug("no new documents to ingest", "session_id", m.sessionID, "offered", len(docs))
		return []repository.Document{}, nil
	}

	embeddings, err := m.embedder.EmbedBatch(ctx, embeddingTexts(fresh))
	if err != nil {
		m.rollback(prints)
		return nil, fmt.Errorf("embedding documents for session %s: %w", m.sessionID, err)
	}
	for i := range fresh {
		fresh[i].Embedding = embeddings[i]
	}

	if err := m.store.Upsert(ctx, m.sessionID, fresh); err != nil {
		m.rollback(prints)
		return nil, fmt.Errorf("upserting documents for session %s: %w", m.sessionID, err)
	}

	// Persist after the vector write. A crash here means the next attempt
	// re-embeds and re-upserts the batch, never that indexed content is
	// considered ingested without being searchable.
	if err := m.fingerprints.Add(ctx, m.sessionID, prints); err != nil {
		return nil, fmt.Errorf("persisting fingerprints for session %s: %w", m.sessionID, err)
	}

	m.logger.Info("ingested documents",
		"session_id", m.sessionID,
		"offered", len(docs),
		"added", len(fresh),
	)
	return fresh, nil
}

// Search runs a nearest-neighbour query against the session index.
func (m *Manager) Search(ctx context.Context, vector []float32, topK int, withVectors bool) ([]vectorstore.SearchResult, error) {
	return m.store.Search(ctx, m.sessionID, vector, topK, withVectors)
}

// GetByIDs fetches documents by ID. IDs that no longer exist in the index are
// logged and skipped; the result preserves the order of the found documents.
func (m *Manager) GetByIDs(ctx context.Context, ids []string) ([]repository.Document, error) {
	docs, err := m.store.GetByIDs(ctx, m.sessionID, ids)
	if err != nil {
		return nil, fmt.Errorf("fetching documents for session %s: %w", m.sessionID, err)
	}

	if len(docs) < len(ids) {
		found := make(map[string]struct{}, len(docs))
		for _, doc := range docs {
			found[doc.ID] = struct{}{}
		}
		for _, id := range ids {
			if _, ok := found[id]; !ok {
				m.logger.Warn("cached document missing from index", "session_id", m.sessionID, "doc_id", id)
			}
		}
	}

	return docs, nil
}

// Count returns the number of vectors in the session index.
func (m *Manager) Count(ctx context.Context) (uint64, error) {
	return m.store.Count(ctx, m.sessionID)
}

func (m *Manager) rollback(prints []string) {
	for _, fp := range prints {
		delete(m.seen, fp)
	}
}

// embeddingTexts picks the text embedded for each document: the caption for
// images that carry one, the content otherwise.
func embeddingTexts(docs []repository.Document) []string {
	texts := make([]string, len(docs))
	for i, doc := range docs {
		if doc.Modality == repository.ModalityImage && doc.Caption != "" {
			texts[i] = doc.Caption
		} else {
			texts[i] = doc.Content
		}
	}
	return texts
}
