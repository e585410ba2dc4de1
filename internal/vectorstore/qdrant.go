package vectorstore

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/qdrant/go-client/qdrant"

	"docchat/internal/repository"
)

// QdrantStore implements VectorStore using Qdrant
type QdrantStore struct {
	client *qdrant.Client
}

// NewQdrantStore creates a new Qdrant vector store client
// url should be in format "host:port" (e.g., "localhost:6334")
func NewQdrantStore(ctx context.Context, url string) (*QdrantStore, error) {
	host, portStr, err := net.SplitHostPort(url)
	if err != nil {
		// If no port specified, assume default
		host = url
		portStr = "6334"
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid port in qdrant url: %w", err)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host: host,
		Port: port,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	return &QdrantStore{client: client}, nil
}

// Close closes the Qdrant client connection
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// collectionName returns the collection name for a session
func (s *QdrantStore) collectionName(sessionID string) string {
	return fmt.Sprintf("session_%s", sessionID)
}

// CreateCollection creates a session's collection with cosine distance.
// The dimension is fixed for the collection's lifetime.
func (s *QdrantStore) CreateCollection(ctx context.Context, sessionID string, dimension int) error {
	err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collectionName(sessionID),
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	return nil
}

// CollectionExists checks if a session's collection exists
func (s *QdrantStore) CollectionExists(ctx context.Context, sessionID string) (bool, error) {
	exists, err := s.client.CollectionExists(ctx, s.collectionName(sessionID))
	if err != nil {
		return false, fmt.Errorf("failed to check collection existence: %w", err)
	}

	return exists, nil
}

// DeleteCollection deletes a session's collection
func (s *QdrantStore) DeleteCollection(ctx context.Context, sessionID string) error {
	if err := s.client.DeleteCollection(ctx, s.collectionName(sessionID)); err != nil {
		return fmt.Errorf("failed to delete collection: %w", err)
	}

	return nil
}

// Upsert inserts or overwrites documents in the session's collection
func (s *QdrantStore) Upsert(ctx context.Context, sessionID string, docs []repository.Document) error {
	if len(docs) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, len(docs))
	for i, doc := range docs {
		payload := map[string]*qdrant.Value{
			"content":  qdrant.NewValueString(doc.Content),
			"source":   qdrant.NewValueString(doc.Source),
			"modality": qdrant.NewValueString(string(doc.Modality)),
		}
		if doc.Caption != "" {
			payload["caption"] = qdrant.NewValueString(doc.Caption)
		}
		if doc.Page > 0 {
			payload["page"] = qdrant.NewValueInt(int64(doc.Page))
		}

		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(doc.ID),
			Vectors: qdrant.NewVectors(doc.Embedding...),
			Payload: payload,
		}
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collectionName(sessionID),
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert points: %w", err)
	}

	return nil
}

// Search performs similarity search against a session's collection
func (s *QdrantStore) Search(ctx context.Context, sessionID string, vector []float32, topK int, withVectors bool) ([]SearchResult, error) {
	response, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collectionName(sessionID),
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(topK)),
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(withVectors),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	results := make([]SearchResult, 0, len(response))
	for _, point := range response {
		doc := documentFromPayload(point.Id.GetUuid(), point.Payload)
		if vo := point.Vectors.GetVector(); vo != nil {
			doc.Embedding = vo.Data
		}
		results = append(results, SearchResult{Document: doc, Score: point.Score})
	}

	return results, nil
}

// GetByIDs returns documents by their point IDs; unknown IDs are omitted
func (s *QdrantStore) GetByIDs(ctx context.Context, sessionID string, ids []string) ([]repository.Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = qdrant.NewIDUUID(id)
	}

	points, err := s.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: s.collectionName(sessionID),
		Ids:            pointIDs,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get points by ID: %w", err)
	}

	docs := make([]repository.Document, 0, len(points))
	for _, point := range points {
		docs = append(docs, documentFromPayload(point.Id.GetUuid(), point.Payload))
	}

	return docs, nil
}

// Count returns the exact number of points in a session's collection
func (s *QdrantStore) Count(ctx context.Context, sessionID string) (uint64, error) {
	count, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.collectionName(sessionID),
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count points: %w", err)
	}

	return count, nil
}

// documentFromPayload reconstructs a document from a point's payload
func documentFromPayload(id string, payload map[string]*qdrant.Value) repository.Document {
	doc := repository.Document{ID: id, Modality: repository.ModalityText}

	if payload == nil {
		return doc
	}
	if v, ok := payload["content"]; ok {
		doc.Content = v.GetStringValue()
	}
	if v, ok := payload["source"]; ok {
		doc.Source = v.GetStringValue()
	}
	if v, ok := payload["modality"]; ok {
		if m := repository.Modality(v.GetStringValue()); m.Valid() {
			doc.Modality = m
		}
	}
	if v, ok := payload["caption"]; ok {
		doc.Caption = v.GetStringValue()
	}
	if v, ok := payload["page"]; ok {
		doc.Page = int(v.GetIntegerValue())
	}

	return doc
}

// Ensure QdrantStore implements VectorStore
var _ VectorStore = (*QdrantStore)(nil)
