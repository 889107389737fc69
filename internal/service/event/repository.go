package event

import (
	"context"
	"time"

	"github.com/ignite/txmail/internal/domain"
)

// Repository defines the data access contract for the event log.
type Repository interface {
	// Record inserts e and, in the same transaction, advances the message
	// status, sets first-occurrence timestamps, increments daily counters and
	// upserts suppress when non-nil. A duplicate single-fire event still
	// upserts suppress and then returns ErrDuplicate. Engagement events on a
	// message without sent_at return ErrNotSent. Also returns
	// ErrMessageNotFound.
	Record(ctx context.Context, e *domain.Event, suppress *domain.Suppression) error

	// Message returns the message an event refers to, by id or by the
	// transport's message id. Returns ErrMessageNotFound.
	Message(ctx context.Context, id string) (*domain.Message, error)
	MessageByTransportID(ctx context.Context, transportID string) (*domain.Message, error)

	// ByMessage returns a message's events ordered by occurrence.
	ByMessage(ctx context.Context, messageID string) ([]domain.Event, error)

	// CountsByType aggregates events of a domain in [from, to).
	CountsByType(ctx context.Context, domainID string, from, to time.Time) (map[domain.EventType]int64, error)

	// TimeSeries buckets events of one type with date_trunc(period).
	TimeSeries(ctx context.Context, domainID string, t domain.EventType, from, to time.Time, period string) ([]Point, error)
}

// Point is one bucket of a time series.
type Point struct {
	Bucket time.Time `json:"timestamp"`
	Count  int64     `json:"count"`
}
