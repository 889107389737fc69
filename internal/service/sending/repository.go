package sending

import (
	"context"
	"time"

	"github.com/ignite/txmail/internal/domain"
)

// OutcomeKind is the result of one dispatch attempt.
type OutcomeKind int

const (
	// OutcomeSent: the transport accepted the message.
	OutcomeSent OutcomeKind = iota + 1
	// OutcomeSuppressed: every recipient is suppressed; nothing was sent.
	OutcomeSuppressed
	// OutcomeRejected: the transport refused the message permanently.
	OutcomeRejected
	// OutcomeDeferred: a transient failure; the message is retried later.
	OutcomeDeferred
	// OutcomeFailed: retries are exhausted or the message cannot be built.
	OutcomeFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSent:
		return "sent"
	case OutcomeSuppressed:
		return "suppressed"
	case OutcomeRejected:
		return "rejected"
	case OutcomeDeferred:
		return "deferred"
	case OutcomeFailed:
		return "failed"
	}
	return "unknown"
}

// DroppedRecipient is a recipient removed from the envelope by suppression.
type DroppedRecipient struct {
	Email  string
	Reason domain.SuppressionReason
}

// Outcome is everything Finalize needs to persist one attempt.
type Outcome struct {
	Message   *domain.Message
	Kind      OutcomeKind
	Recipient string
	// Dropped lists recipients newly suppressed on this attempt. Recipients
	// already in Message.SuppressedRecipients are not repeated.
	Dropped       []DroppedRecipient
	Result        *domain.SendResult
	Error         string
	NextAttemptAt time.Time
	At            time.Time
}

// Repository claims due messages for dispatch.
type Repository interface {
	// ClaimDue locks up to limit due messages, skipping rows other workers
	// hold. The returned batch owns the claim until Commit or Rollback.
	ClaimDue(ctx context.Context, limit int) (Batch, error)
}

// Batch is one claim transaction.
type Batch interface {
	Messages() []domain.Message

	// ActiveSuppressions returns the unexpired suppressions among emails,
	// read inside the claim transaction.
	ActiveSuppressions(ctx context.Context, domainID string, emails []string) (map[string]domain.Suppression, error)

	// Finalize persists one outcome atomically: the status change, its
	// events and their counters either all apply or none do.
	Finalize(ctx context.Context, o *Outcome) error

	Commit() error
	Rollback() error
}
