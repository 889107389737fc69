package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ignite/txmail/internal/domain"
	"github.com/ignite/txmail/internal/service/message"
	"github.com/lib/pq"
)

// MessageRepo implements message.Repository against PostgreSQL.
type MessageRepo struct{ db *sql.DB }

// NewMessageRepo creates a Postgres-backed message repository.
func NewMessageRepo(db *sql.DB) *MessageRepo { return &MessageRepo{db: db} }

const messageColumns = `id, domain_id, from_email, from_name, reply_to, to_addrs, cc_addrs, bcc_addrs,
	subject, text_body, html_body, COALESCE(template_id::text, ''), template_data, headers, tags, metadata,
	track_opens, track_clicks, status, suppressed_recipients, attempts, last_error, transport_message_id,
	scheduled_at, queued_at, next_attempt_at, sent_at, delivered_at, opened_at, clicked_at, bounced_at,
	created_at, updated_at`

func scanMessage(sc interface{ Scan(...interface{}) error }, m *domain.Message) error {
	var templateData, headers, metadata []byte
	err := sc.Scan(
		&m.ID, &m.DomainID, &m.FromEmail, &m.FromName, &m.ReplyTo,
		pq.Array(&m.To), pq.Array(&m.CC), pq.Array(&m.BCC),
		&m.Subject, &m.TextBody, &m.HTMLBody, &m.TemplateID, &templateData, &headers,
		pq.Array(&m.Tags), &metadata,
		&m.TrackOpens, &m.TrackClicks, &m.Status, pq.Array(&m.SuppressedRecipients),
		&m.Attempts, &m.LastError, &m.TransportMessageID,
		&m.ScheduledAt, &m.QueuedAt, &m.NextAttemptAt, &m.SentAt, &m.DeliveredAt,
		&m.OpenedAt, &m.ClickedAt, &m.BouncedAt, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if len(templateData) > 0 && string(templateData) != "null" {
		m.TemplateData = json.RawMessage(templateData)
	}
	if len(headers) > 0 {
		if err := json.Unmarshal(headers, &m.Headers); err != nil {
			return fmt.Errorf("decode headers: %w", err)
		}
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &m.Metadata); err != nil {
			return fmt.Errorf("decode metadata: %w", err)
		}
	}
	return nil
}

// jsonMap encodes a string map for a jsonb column, never NULL.
func jsonMap(m map[string]string) []byte {
	if len(m) == 0 {
		return []byte("{}")
	}
	b, _ := json.Marshal(m)
	return b
}

func nullJSON(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

// Create inserts m. A message refused at intake because every recipient is
// suppressed is stored together with one dropped event per recipient.
func (r *MessageRepo) Create(ctx context.Context, m *domain.Message) error {
	if m.Status != domain.StatusSuppressed {
		return insertMessage(ctx, r.db, m)
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()
	if err := insertMessage(ctx, tx, m); err != nil {
		return err
	}
	for _, email := range m.SuppressedRecipients {
		e := newDispatchEvent(m, domain.EventDropped, email, m.QueuedAt)
		e.Metadata = map[string]string{"reason": "suppressed"}
		if err := record(ctx, tx, e); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func insertMessage(ctx context.Context, q queryer, m *domain.Message) error {
	if m.To == nil {
		m.To = []string{}
	}
	err := q.QueryRowContext(ctx, `
		INSERT INTO messages (id, domain_id, from_email, from_name, reply_to, to_addrs, cc_addrs, bcc_addrs,
		                      subject, text_body, html_body, template_id, template_data, headers, tags, metadata,
		                      track_opens, track_clicks, status, scheduled_at, queued_at, next_attempt_at,
		                      suppressed_recipients)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NULLIF($12, '')::uuid, $13, $14, $15, $16,
		        $17, $18, $19, $20, $21, $22, $23)
		RETURNING created_at, updated_at
	`,
		m.ID, m.DomainID, m.FromEmail, m.FromName, m.ReplyTo,
		pq.Array(m.To), pq.Array(nonNil(m.CC)), pq.Array(nonNil(m.BCC)),
		m.Subject, m.TextBody, m.HTMLBody, m.TemplateID, nullJSON(m.TemplateData), jsonMap(m.Headers),
		pq.Array(nonNil(m.Tags)), jsonMap(m.Metadata),
		m.TrackOpens, m.TrackClicks, m.Status, m.ScheduledAt, m.QueuedAt, m.NextAttemptAt,
		pq.Array(nonNil(m.SuppressedRecipients)),
	).Scan(&m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func (r *MessageRepo) Get(ctx context.Context, domainID, id string) (*domain.Message, error) {
	m := &domain.Message{}
	err := scanMessage(r.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = $1 AND domain_id = $2`, id, domainID), m)
	if err == sql.ErrNoRows {
		return nil, message.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return m, nil
}

func (r *MessageRepo) List(ctx context.Context, domainID string, f message.ListFilter) ([]domain.Message, int, error) {
	where := ` WHERE domain_id = $1`
	args := []interface{}{domainID}
	idx := 2

	if f.Status != "" {
		where += fmt.Sprintf(" AND status = $%d", idx)
		args = append(args, f.Status)
		idx++
	}
	if f.Recipient != "" {
		where += fmt.Sprintf(" AND $%d = ANY(to_addrs)", idx)
		args = append(args, f.Recipient)
		idx++
	}
	if f.Tag != "" {
		where += fmt.Sprintf(" AND $%d = ANY(tags)", idx)
		args = append(args, f.Tag)
		idx++
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count messages: %w", err)
	}

	q := `SELECT ` + messageColumns + ` FROM messages` + where +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", idx, idx+1)
	args = append(args, f.Limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	out := []domain.Message{}
	for rows.Next() {
		var m domain.Message
		if err := scanMessage(rows, &m); err != nil {
			return nil, 0, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, total, rows.Err()
}

// Cancel uses a guarded update so a message the dispatcher has already
// claimed and sent can never be rewritten. A row locked by an in-flight
// dispatch waits for that transaction, then re-evaluates the guard.
func (r *MessageRepo) Cancel(ctx context.Context, domainID, id string) (*domain.Message, error) {
	m := &domain.Message{}
	err := scanMessage(r.db.QueryRowContext(ctx, `
		UPDATE messages
		SET status = 'failed', last_error = 'cancelled', updated_at = NOW()
		WHERE id = $1 AND domain_id = $2 AND status IN ('queued', 'scheduled')
		RETURNING `+messageColumns, id, domainID), m)
	if err == nil {
		return m, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("cancel message: %w", err)
	}

	var exists bool
	if err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM messages WHERE id = $1 AND domain_id = $2)`, id, domainID,
	).Scan(&exists); err != nil {
		return nil, fmt.Errorf("cancel message: %w", err)
	}
	if !exists {
		return nil, message.ErrNotFound
	}
	return nil, message.ErrNotCancellable
}

func (r *MessageRepo) Events(ctx context.Context, messageID string) ([]domain.Event, error) {
	return eventsByMessage(ctx, r.db, messageID)
}

// DeleteOlderThan removes terminal messages created before the cutoff. Their
// events go with them through the foreign key cascade.
func (r *MessageRepo) DeleteOlderThan(ctx context.Context, days int) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM messages
		WHERE created_at < NOW() - make_interval(days => $1)
		  AND status NOT IN ('queued', 'scheduled', 'sending')
	`, days)
	if err != nil {
		return 0, fmt.Errorf("delete old messages: %w", err)
	}
	return res.RowsAffected()
}
