package postgres

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
)

// ErrUnknownKey is returned for keys that do not exist or were revoked.
var ErrUnknownKey = errors.New("unknown api key")

// APIKeyRepo resolves API keys to the domain they belong to. Keys are stored
// only as their sha256 hex digest.
type APIKeyRepo struct{ db *sql.DB }

// NewAPIKeyRepo creates a Postgres-backed API key lookup.
func NewAPIKeyRepo(db *sql.DB) *APIKeyRepo { return &APIKeyRepo{db: db} }

// HashKey returns the stored form of a raw API key.
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// DomainForKey returns the domain id owning key.
func (r *APIKeyRepo) DomainForKey(ctx context.Context, key string) (string, error) {
	var domainID string
	err := r.db.QueryRowContext(ctx, `
		SELECT domain_id FROM api_keys WHERE key_hash = $1 AND revoked_at IS NULL
	`, HashKey(key)).Scan(&domainID)
	if err == sql.ErrNoRows {
		return "", ErrUnknownKey
	}
	if err != nil {
		return "", fmt.Errorf("lookup api key: %w", err)
	}
	return domainID, nil
}
