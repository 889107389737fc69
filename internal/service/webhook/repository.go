package webhook

import (
	"context"
	"time"

	"github.com/ignite/txmail/internal/domain"
)

// Repository defines the data access contract for webhook endpoints.
type Repository interface {
	Create(ctx context.Context, w *domain.Webhook) error

	// Get returns a webhook scoped to a domain, or ErrNotFound.
	Get(ctx context.Context, domainID, id string) (*domain.Webhook, error)

	List(ctx context.Context, domainID string) ([]domain.Webhook, error)

	// Update persists url, events, description and is_active. When
	// resetFailures is set the failure counter and last error are cleared.
	Update(ctx context.Context, w *domain.Webhook, resetFailures bool) error

	Delete(ctx context.Context, domainID, id string) error

	SetSecret(ctx context.Context, domainID, id, secret string) error

	// Deliveries returns the newest delivery attempts first.
	Deliveries(ctx context.Context, webhookID string, limit int) ([]domain.WebhookDelivery, error)
}

// FanoutRepository hands out events whose webhook delivery is due.
type FanoutRepository interface {
	// ClaimPending locks up to limit due events. Rows stay locked until the
	// batch is committed or rolled back, so concurrent workers never claim
	// the same event.
	ClaimPending(ctx context.Context, limit int) (FanoutBatch, error)
}

// FanoutBatch is one claimed set of events and the transaction holding them.
type FanoutBatch interface {
	Events() []domain.Event

	// Subscribers returns the active webhooks of the event's domain that
	// subscribe to its type and have not yet received it successfully.
	Subscribers(ctx context.Context, e *domain.Event) ([]domain.Webhook, error)

	// RecordDelivery logs an attempt and updates the webhook's failure
	// state. It reports whether the webhook was deactivated by this failure.
	RecordDelivery(ctx context.Context, w *domain.Webhook, e *domain.Event, a Attempt, threshold int) (bool, error)

	MarkSent(ctx context.Context, eventID string) error
	Reschedule(ctx context.Context, eventID string, next time.Time) error

	Commit() error
	Rollback() error
}
