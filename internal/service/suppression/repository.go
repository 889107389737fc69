package suppression

import (
	"context"
	"time"

	"github.com/ignite/txmail/internal/domain"
)

// Repository defines the data access contract for the suppression registry.
type Repository interface {
	// Upsert stores s keyed by (domain, email) in one atomic statement,
	// applying the reason-priority policy. s is updated with the stored row.
	// created is true when no row existed before.
	Upsert(ctx context.Context, s *domain.Suppression) (created bool, err error)

	// Get returns the active entry for an address, or ErrNotFound.
	Get(ctx context.Context, domainID, email string) (*domain.Suppression, error)

	// GetMany returns the active entries among emails, keyed by email.
	GetMany(ctx context.Context, domainID string, emails []string) (map[string]domain.Suppression, error)

	// Remove deletes an entry. Returns ErrNotFound if it doesn't exist.
	Remove(ctx context.Context, domainID, email string) error

	// List returns active entries matching the filter and the total count.
	List(ctx context.Context, domainID string, filter ListFilter) ([]domain.Suppression, int, error)

	// Stats aggregates active entries.
	Stats(ctx context.Context, domainID string) (*Stats, error)

	// DeleteExpired removes entries whose expiry is before now.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// ListFilter controls pagination and filtering for suppression lists.
type ListFilter struct {
	Reason string
	Search string
	Limit  int
	Offset int
}

// Stats is the aggregate view of a domain's active suppressions.
type Stats struct {
	Total       int            `json:"total"`
	ByReason    map[string]int `json:"by_reason"`
	Last24Hours int            `json:"last_24_hours"`
	Last7Days   int            `json:"last_7_days"`
	Last30Days  int            `json:"last_30_days"`
}
