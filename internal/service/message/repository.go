package message

import (
	"context"

	"github.com/ignite/txmail/internal/domain"
)

// Repository defines the data access contract for messages.
type Repository interface {
	// Create inserts a new message.
	Create(ctx context.Context, m *domain.Message) error

	// Get returns a message scoped to a domain, or ErrNotFound.
	Get(ctx context.Context, domainID, id string) (*domain.Message, error)

	// List returns messages matching the filter and the total count.
	List(ctx context.Context, domainID string, filter ListFilter) ([]domain.Message, int, error)

	// Cancel moves a queued/scheduled message to failed. Returns
	// ErrNotFound or ErrNotCancellable.
	Cancel(ctx context.Context, domainID, id string) (*domain.Message, error)

	// Events returns the event log of one message ordered by occurrence.
	Events(ctx context.Context, messageID string) ([]domain.Event, error)
}

// TemplateLookup is the read-only view of template storage. GetTemplate
// returns nil, nil when no template matches.
type TemplateLookup interface {
	GetTemplate(ctx context.Context, domainID, id string) (*domain.Template, error)
}

// SuppressionChecker reports which addresses a domain may not send to.
type SuppressionChecker interface {
	CheckMultiple(ctx context.Context, domainID string, emails []string) (map[string]domain.SuppressionStatus, error)
}

// ListFilter controls pagination and filtering for message lists.
type ListFilter struct {
	Status    string
	Recipient string
	Tag       string
	Limit     int
	Offset    int
}
