package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/txmail/internal/domain"
	"github.com/ignite/txmail/internal/service/event"
	"github.com/ignite/txmail/internal/service/sending"
	"github.com/lib/pq"
)

// DispatchRepo implements sending.Repository against PostgreSQL.
type DispatchRepo struct{ db *sql.DB }

// NewDispatchRepo creates a Postgres-backed dispatch repository.
func NewDispatchRepo(db *sql.DB) *DispatchRepo { return &DispatchRepo{db: db} }

// ClaimDue opens the claim transaction and locks due rows with SKIP LOCKED,
// so N workers polling together each get a disjoint batch. The rows stay
// locked until Commit or Rollback; a crashed worker releases them with its
// connection.
func (r *DispatchRepo) ClaimDue(ctx context.Context, limit int) (sending.Batch, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE status IN ('queued', 'scheduled')
		  AND COALESCE(scheduled_at, queued_at) <= NOW()
		  AND next_attempt_at <= NOW()
		ORDER BY COALESCE(scheduled_at, queued_at), next_attempt_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("claim messages: %w", err)
	}
	defer rows.Close()

	b := &dispatchBatch{tx: tx}
	for rows.Next() {
		var m domain.Message
		if err := scanMessage(rows, &m); err != nil {
			tx.Rollback()
			return nil, fmt.Errorf("scan claimed message: %w", err)
		}
		b.messages = append(b.messages, m)
	}
	if err := rows.Err(); err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("claim messages: %w", err)
	}
	return b, nil
}

type dispatchBatch struct {
	tx       *sql.Tx
	messages []domain.Message
}

func (b *dispatchBatch) Messages() []domain.Message { return b.messages }

func (b *dispatchBatch) ActiveSuppressions(ctx context.Context, domainID string, emails []string) (map[string]domain.Suppression, error) {
	return activeSuppressions(ctx, b.tx, domainID, emails)
}

// Finalize wraps one outcome in a savepoint so a failure rolls back only
// that message; the rest of the batch still commits.
func (b *dispatchBatch) Finalize(ctx context.Context, o *sending.Outcome) error {
	if _, err := b.tx.ExecContext(ctx, `SAVEPOINT finalize`); err != nil {
		return fmt.Errorf("savepoint: %w", err)
	}
	if err := finalize(ctx, b.tx, o); err != nil {
		if _, rbErr := b.tx.ExecContext(ctx, `ROLLBACK TO SAVEPOINT finalize`); rbErr != nil {
			return fmt.Errorf("%v (rollback to savepoint: %w)", err, rbErr)
		}
		return err
	}
	if _, err := b.tx.ExecContext(ctx, `RELEASE SAVEPOINT finalize`); err != nil {
		return fmt.Errorf("release savepoint: %w", err)
	}
	return nil
}

func (b *dispatchBatch) Commit() error   { return b.tx.Commit() }
func (b *dispatchBatch) Rollback() error { return b.tx.Rollback() }

func newDispatchEvent(m *domain.Message, t domain.EventType, recipient string, at time.Time) *domain.Event {
	return &domain.Event{
		ID:         uuid.New().String(),
		MessageID:  m.ID,
		DomainID:   m.DomainID,
		Type:       t,
		Recipient:  recipient,
		OccurredAt: at,
		Category:   m.Category(),
	}
}

// record writes a dispatcher event. A single-fire event that already exists
// means an earlier attempt got this far, which is not an error here.
func record(ctx context.Context, q queryer, e *domain.Event) error {
	err := recordEvent(ctx, q, e, nil)
	if errors.Is(err, event.ErrDuplicate) {
		return nil
	}
	return err
}

func finalize(ctx context.Context, q queryer, o *sending.Outcome) error {
	m := o.Message
	at := o.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	if len(o.Dropped) > 0 {
		emails := make([]string, len(o.Dropped))
		for i, d := range o.Dropped {
			emails[i] = d.Email
		}
		if _, err := q.ExecContext(ctx, `
			UPDATE messages
			SET suppressed_recipients = ARRAY(SELECT DISTINCT unnest(suppressed_recipients || $2::text[])),
			    updated_at = NOW()
			WHERE id = $1
		`, m.ID, pq.Array(emails)); err != nil {
			return fmt.Errorf("record suppressed recipients: %w", err)
		}
		for _, d := range o.Dropped {
			e := newDispatchEvent(m, domain.EventDropped, d.Email, at)
			e.Metadata = map[string]string{"reason": "suppressed", "suppression_reason": string(d.Reason)}
			if err := record(ctx, q, e); err != nil {
				return err
			}
		}
	}

	switch o.Kind {
	case sending.OutcomeSuppressed:
		if _, err := q.ExecContext(ctx, `
			UPDATE messages SET status = 'suppressed', updated_at = NOW()
			WHERE id = $1 AND status IN ('queued', 'scheduled')
		`, m.ID); err != nil {
			return fmt.Errorf("mark suppressed: %w", err)
		}
		return nil

	case sending.OutcomeSent:
		var transportID string
		if o.Result != nil {
			transportID = o.Result.TransportMessageID
			if !o.Result.SentAt.IsZero() {
				at = o.Result.SentAt
			}
		}
		if _, err := q.ExecContext(ctx, `
			UPDATE messages
			SET status = 'sending', transport_message_id = $2, attempts = attempts + 1,
			    last_error = '', updated_at = NOW()
			WHERE id = $1
		`, m.ID, transportID); err != nil {
			return fmt.Errorf("mark sending: %w", err)
		}
		e := newDispatchEvent(m, domain.EventSent, o.Recipient, at)
		if o.Result != nil {
			e.Metadata = map[string]string{"transport": string(o.Result.Transport)}
		}
		return record(ctx, q, e)

	case sending.OutcomeRejected:
		if _, err := q.ExecContext(ctx, `
			UPDATE messages
			SET status = 'sending', attempts = attempts + 1, last_error = $2, updated_at = NOW()
			WHERE id = $1
		`, m.ID, o.Error); err != nil {
			return fmt.Errorf("mark rejected: %w", err)
		}
		e := newDispatchEvent(m, domain.EventBounced, o.Recipient, at)
		e.BounceClass = domain.BounceBlock
		e.SMTPResponse = o.Error
		return record(ctx, q, e)

	case sending.OutcomeDeferred:
		if _, err := q.ExecContext(ctx, `
			UPDATE messages
			SET attempts = attempts + 1, next_attempt_at = $2, last_error = $3, updated_at = NOW()
			WHERE id = $1
		`, m.ID, o.NextAttemptAt, o.Error); err != nil {
			return fmt.Errorf("mark deferred: %w", err)
		}
		e := newDispatchEvent(m, domain.EventDeferred, o.Recipient, at)
		e.SMTPResponse = o.Error
		return record(ctx, q, e)

	case sending.OutcomeFailed:
		if _, err := q.ExecContext(ctx, `
			UPDATE messages
			SET status = 'failed', attempts = attempts + 1, last_error = $2, updated_at = NOW()
			WHERE id = $1
		`, m.ID, o.Error); err != nil {
			return fmt.Errorf("mark failed: %w", err)
		}
		e := newDispatchEvent(m, domain.EventDropped, o.Recipient, at)
		e.Metadata = map[string]string{"reason": o.Error}
		return record(ctx, q, e)
	}
	return fmt.Errorf("finalize: unknown outcome %s", o.Kind)
}
