package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/txmail/internal/domain"
	"github.com/ignite/txmail/internal/service/webhook"
	"github.com/lib/pq"
)

// WebhookRepo implements webhook.Repository and webhook.FanoutRepository
// against PostgreSQL.
type WebhookRepo struct{ db *sql.DB }

// NewWebhookRepo creates a Postgres-backed webhook repository.
func NewWebhookRepo(db *sql.DB) *WebhookRepo { return &WebhookRepo{db: db} }

const webhookColumns = `id, domain_id, url, events, secret, description, is_active, failure_count,
	last_triggered, last_error, created_at, updated_at`

func scanWebhook(sc interface{ Scan(...interface{}) error }, w *domain.Webhook) error {
	var events []string
	err := sc.Scan(&w.ID, &w.DomainID, &w.URL, pq.Array(&events), &w.Secret, &w.Description,
		&w.IsActive, &w.FailureCount, &w.LastTriggered, &w.LastError, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return err
	}
	w.Events = make([]domain.EventType, len(events))
	for i, e := range events {
		w.Events[i] = domain.EventType(e)
	}
	return nil
}

func eventStrings(events []domain.EventType) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = string(e)
	}
	return out
}

func (r *WebhookRepo) Create(ctx context.Context, w *domain.Webhook) error {
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO webhooks (id, domain_id, url, events, secret, description, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`, w.ID, w.DomainID, w.URL, pq.Array(eventStrings(w.Events)), w.Secret, w.Description, w.IsActive,
	).Scan(&w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert webhook: %w", err)
	}
	return nil
}

func (r *WebhookRepo) Get(ctx context.Context, domainID, id string) (*domain.Webhook, error) {
	w := &domain.Webhook{}
	err := scanWebhook(r.db.QueryRowContext(ctx,
		`SELECT `+webhookColumns+` FROM webhooks WHERE id = $1 AND domain_id = $2`, id, domainID), w)
	if err == sql.ErrNoRows {
		return nil, webhook.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get webhook: %w", err)
	}
	return w, nil
}

func (r *WebhookRepo) List(ctx context.Context, domainID string) ([]domain.Webhook, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+webhookColumns+` FROM webhooks WHERE domain_id = $1 ORDER BY created_at`, domainID)
	if err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}
	defer rows.Close()

	out := []domain.Webhook{}
	for rows.Next() {
		var w domain.Webhook
		if err := scanWebhook(rows, &w); err != nil {
			return nil, fmt.Errorf("scan webhook: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (r *WebhookRepo) Update(ctx context.Context, w *domain.Webhook, resetFailures bool) error {
	q := `UPDATE webhooks SET url = $3, events = $4, description = $5, is_active = $6, updated_at = NOW()`
	if resetFailures {
		q += `, failure_count = 0, last_error = ''`
	}
	q += ` WHERE id = $1 AND domain_id = $2 RETURNING failure_count, last_error, updated_at`

	err := r.db.QueryRowContext(ctx, q, w.ID, w.DomainID, w.URL, pq.Array(eventStrings(w.Events)),
		w.Description, w.IsActive).Scan(&w.FailureCount, &w.LastError, &w.UpdatedAt)
	if err == sql.ErrNoRows {
		return webhook.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("update webhook: %w", err)
	}
	return nil
}

func (r *WebhookRepo) Delete(ctx context.Context, domainID, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM webhooks WHERE id = $1 AND domain_id = $2`, id, domainID)
	if err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return webhook.ErrNotFound
	}
	return nil
}

func (r *WebhookRepo) SetSecret(ctx context.Context, domainID, id, secret string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE webhooks SET secret = $3, updated_at = NOW() WHERE id = $1 AND domain_id = $2`,
		id, domainID, secret)
	if err != nil {
		return fmt.Errorf("rotate webhook secret: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return webhook.ErrNotFound
	}
	return nil
}

func (r *WebhookRepo) Deliveries(ctx context.Context, webhookID string, limit int) ([]domain.WebhookDelivery, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, webhook_id, event_id, attempt, status_code, success, error, duration_ms, created_at
		FROM webhook_deliveries
		WHERE webhook_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, webhookID, limit)
	if err != nil {
		return nil, fmt.Errorf("list webhook deliveries: %w", err)
	}
	defer rows.Close()

	out := []domain.WebhookDelivery{}
	for rows.Next() {
		var d domain.WebhookDelivery
		if err := rows.Scan(&d.ID, &d.WebhookID, &d.EventID, &d.Attempt, &d.StatusCode,
			&d.Success, &d.Error, &d.DurationMS, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan webhook delivery: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ClaimPending locks due, unsent events. Rows held by another worker are
// skipped rather than waited on.
func (r *WebhookRepo) ClaimPending(ctx context.Context, limit int) (webhook.FanoutBatch, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT `+eventColumns+`
		FROM events
		WHERE webhook_sent = FALSE AND webhook_next_attempt_at <= NOW()
		ORDER BY webhook_next_attempt_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("claim events: %w", err)
	}
	defer rows.Close()

	b := &fanoutBatch{tx: tx}
	for rows.Next() {
		var e domain.Event
		if err := scanEvent(rows, &e); err != nil {
			tx.Rollback()
			return nil, fmt.Errorf("scan claimed event: %w", err)
		}
		b.events = append(b.events, e)
	}
	if err := rows.Err(); err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("claim events: %w", err)
	}
	return b, nil
}

type fanoutBatch struct {
	tx     *sql.Tx
	events []domain.Event
}

func (b *fanoutBatch) Events() []domain.Event { return b.events }

func (b *fanoutBatch) Subscribers(ctx context.Context, e *domain.Event) ([]domain.Webhook, error) {
	rows, err := b.tx.QueryContext(ctx, `
		SELECT `+webhookColumns+`
		FROM webhooks w
		WHERE w.domain_id = $1 AND w.is_active AND $2 = ANY(w.events)
		  AND NOT EXISTS (
			SELECT 1 FROM webhook_deliveries d
			WHERE d.webhook_id = w.id AND d.event_id = $3 AND d.success)
		ORDER BY w.id
	`, e.DomainID, string(e.Type), e.ID)
	if err != nil {
		return nil, fmt.Errorf("resolve subscribers: %w", err)
	}
	defer rows.Close()

	out := []domain.Webhook{}
	for rows.Next() {
		var w domain.Webhook
		if err := scanWebhook(rows, &w); err != nil {
			return nil, fmt.Errorf("scan subscriber: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (b *fanoutBatch) RecordDelivery(ctx context.Context, w *domain.Webhook, e *domain.Event, a webhook.Attempt, threshold int) (bool, error) {
	_, err := b.tx.ExecContext(ctx, `
		INSERT INTO webhook_deliveries (id, webhook_id, event_id, attempt, status_code, success, error, duration_ms)
		VALUES ($1, $2, $3,
		        (SELECT COUNT(*) + 1 FROM webhook_deliveries WHERE webhook_id = $2 AND event_id = $3),
		        $4, $5, $6, $7)
	`, uuid.New().String(), w.ID, e.ID, a.StatusCode, a.Success, a.Error, a.DurationMS)
	if err != nil {
		return false, fmt.Errorf("insert webhook delivery: %w", err)
	}

	if a.Success {
		if _, err := b.tx.ExecContext(ctx, `
			UPDATE webhooks SET failure_count = 0, last_triggered = NOW(), updated_at = NOW()
			WHERE id = $1
		`, w.ID); err != nil {
			return false, fmt.Errorf("reset webhook failures: %w", err)
		}
		return false, nil
	}

	var active bool
	err = b.tx.QueryRowContext(ctx, `
		UPDATE webhooks
		SET failure_count = failure_count + 1,
		    last_error = $2,
		    is_active = CASE WHEN $3 > 0 AND failure_count + 1 >= $3 THEN FALSE ELSE is_active END,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING is_active
	`, w.ID, a.Error, threshold).Scan(&active)
	if err == sql.ErrNoRows {
		// deleted while the batch was in flight
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("record webhook failure: %w", err)
	}
	return !active, nil
}

func (b *fanoutBatch) MarkSent(ctx context.Context, eventID string) error {
	if _, err := b.tx.ExecContext(ctx, `
		UPDATE events
		SET webhook_sent = TRUE, webhook_sent_at = NOW(), webhook_attempts = webhook_attempts + 1
		WHERE id = $1
	`, eventID); err != nil {
		return fmt.Errorf("mark event delivered: %w", err)
	}
	return nil
}

func (b *fanoutBatch) Reschedule(ctx context.Context, eventID string, next time.Time) error {
	if _, err := b.tx.ExecContext(ctx, `
		UPDATE events
		SET webhook_attempts = webhook_attempts + 1, webhook_next_attempt_at = $2
		WHERE id = $1
	`, eventID, next); err != nil {
		return fmt.Errorf("reschedule event: %w", err)
	}
	return nil
}

func (b *fanoutBatch) Commit() error   { return b.tx.Commit() }
func (b *fanoutBatch) Rollback() error { return b.tx.Rollback() }
