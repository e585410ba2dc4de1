package postgres

import (
	"context"
	"fmt"

	"docchat/internal/repository"
)

// FingerprintRepo implements repository.FingerprintRepository. It is the
// durable sidecar map that makes ingestion idempotent across restarts.
type FingerprintRepo struct {
	db *DB
}

// NewFingerprintRepo creates a new fingerprint repository
func NewFingerprintRepo(db *DB) *FingerprintRepo {
	return &FingerprintRepo{db: db}
}

// Load returns all fingerprints recorded for a session
func (r *FingerprintRepo) Load(ctx context.Context, sessionID string) (map[string]struct{}, error) {
	query := `SELECT fingerprint FROM ingestion_fingerprints WHERE session_id = $1`

	rows, err := r.db.Pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load fingerprints: %w", err)
	}
	defer rows.Close()

	fingerprints := make(map[string]struct{})
	for rows.Next() {
		var fp string
		if err := rows.Scan(&fp); err != nil {
			return nil, fmt.Errorf("failed to scan fingerprint: %w", err)
		}
		fingerprints[fp] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate fingerprints: %w", err)
	}
	return fingerprints, nil
}

// Add records fingerprints for a session. Conflicts are ignored so the
// write stays idempotent under at-least-once ingestion.
func (r *FingerprintRepo) Add(ctx context.Context, sessionID string, fingerprints []string) error {
	if len(fingerprints) == 0 {
		return nil
	}

	query := `
		INSERT INTO ingestion_fingerprints (session_id, fingerprint)
		VALUES ($1, $2)
		ON CONFLICT (session_id, fingerprint) DO NOTHING
	`
	for _, fp := range fingerprints {
		if _, err := r.db.Pool.Exec(ctx, query, sessionID, fp); err != nil {
			return fmt.Errorf("failed to record fingerprint: %w", err)
		}
	}
	return nil
}

// Ensure FingerprintRepo implements FingerprintRepository
var _ repository.FingerprintRepository = (*FingerprintRepo)(nil)
