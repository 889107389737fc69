package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/txmail/internal/domain"
	"github.com/ignite/txmail/internal/service/event"
)

// EventRepo implements event.Repository against PostgreSQL.
type EventRepo struct{ db *sql.DB }

// NewEventRepo creates a Postgres-backed event repository.
func NewEventRepo(db *sql.DB) *EventRepo { return &EventRepo{db: db} }

const eventColumns = `id, message_id, domain_id, event_type, recipient, occurred_at, category, metadata,
	bounce_class, bounce_code, smtp_response, url, user_agent, ip, country, city, device_type, os, browser,
	webhook_sent, webhook_sent_at, webhook_attempts, created_at`

func scanEvent(sc interface{ Scan(...interface{}) error }, e *domain.Event) error {
	var metadata []byte
	var country, city, deviceType, osName, browser string
	err := sc.Scan(&e.ID, &e.MessageID, &e.DomainID, &e.Type, &e.Recipient, &e.OccurredAt, &e.Category, &metadata,
		&e.BounceClass, &e.BounceCode, &e.SMTPResponse, &e.URL, &e.UserAgent, &e.IP,
		&country, &city, &deviceType, &osName, &browser,
		&e.WebhookSent, &e.WebhookSentAt, &e.WebhookAttempts, &e.CreatedAt)
	if err != nil {
		return err
	}
	if len(metadata) > 0 && string(metadata) != "{}" {
		if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
			return fmt.Errorf("decode event metadata: %w", err)
		}
	}
	if country != "" || city != "" {
		e.Geo = &domain.GeoInfo{Country: country, City: city}
	}
	if deviceType != "" || osName != "" || browser != "" {
		e.Device = &domain.DeviceInfo{Type: deviceType, OS: osName, Browser: browser}
	}
	return nil
}

// firstOccurrenceColumn maps an event to the message timestamp it sets once.
func firstOccurrenceColumn(t domain.EventType) string {
	switch t {
	case domain.EventSent:
		return "sent_at"
	case domain.EventDelivered:
		return "delivered_at"
	case domain.EventOpened:
		return "opened_at"
	case domain.EventClicked:
		return "clicked_at"
	case domain.EventBounced:
		return "bounced_at"
	}
	return ""
}

// recordEvent writes an event and all of its effects using q, which must be
// a transaction: the message row is locked first so concurrent events for
// the same message serialise on it. A duplicate single-fire event still
// applies its suppression before ErrDuplicate is returned, since each
// recipient of a message bounces independently.
func recordEvent(ctx context.Context, q queryer, e *domain.Event, suppress *domain.Suppression) error {
	var (
		status                domain.MessageStatus
		firstOpen, firstClick bool
		wasSent               bool
	)
	err := q.QueryRowContext(ctx, `
		SELECT status, opened_at IS NULL, clicked_at IS NULL, sent_at IS NOT NULL
		FROM messages WHERE id = $1 FOR UPDATE
	`, e.MessageID).Scan(&status, &firstOpen, &firstClick, &wasSent)
	if err == sql.ErrNoRows {
		return event.ErrMessageNotFound
	}
	if err != nil {
		return fmt.Errorf("lock message: %w", err)
	}
	if e.Type.RequiresSend() && !wasSent {
		return fmt.Errorf("%w: %s for a %s message", event.ErrNotSent, e.Type, status)
	}

	var geo domain.GeoInfo
	if e.Geo != nil {
		geo = *e.Geo
	}
	var dev domain.DeviceInfo
	if e.Device != nil {
		dev = *e.Device
	}
	err = q.QueryRowContext(ctx, `
		INSERT INTO events (id, message_id, domain_id, event_type, recipient, occurred_at, category, metadata,
		                    bounce_class, bounce_code, smtp_response, url, user_agent, ip,
		                    country, city, device_type, os, browser)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		ON CONFLICT (message_id, event_type) WHERE event_type IN ('sent', 'delivered', 'bounced') DO NOTHING
		RETURNING created_at
	`,
		e.ID, e.MessageID, e.DomainID, e.Type, e.Recipient, e.OccurredAt, e.Category, jsonMap(e.Metadata),
		e.BounceClass, e.BounceCode, e.SMTPResponse, e.URL, e.UserAgent, e.IP,
		geo.Country, geo.City, dev.Type, dev.OS, dev.Browser,
	).Scan(&e.CreatedAt)
	duplicate := err == sql.ErrNoRows
	if err != nil && !duplicate {
		return fmt.Errorf("insert event: %w", err)
	}

	if suppress != nil {
		if _, err := upsertSuppression(ctx, q, suppress); err != nil {
			return err
		}
	}
	if duplicate {
		return event.ErrDuplicate
	}

	next, changed := domain.Advance(status, e.Type)
	if col := firstOccurrenceColumn(e.Type); col != "" || changed {
		set := "status = $2, updated_at = NOW()"
		args := []interface{}{e.MessageID, next}
		if col != "" {
			set += fmt.Sprintf(", %s = COALESCE(%s, $3)", col, col)
			args = append(args, e.OccurredAt)
		}
		if _, err := q.ExecContext(ctx, `UPDATE messages SET `+set+` WHERE id = $1`, args...); err != nil {
			return fmt.Errorf("advance message: %w", err)
		}
	}

	first := (e.Type == domain.EventOpened && firstOpen) || (e.Type == domain.EventClicked && firstClick)
	for _, m := range domain.MetricsFor(e, first) {
		if err := incrementStat(ctx, q, e.DomainID, e.OccurredAt, e.Category, m); err != nil {
			return err
		}
	}
	return nil
}

func (r *EventRepo) Record(ctx context.Context, e *domain.Event, suppress *domain.Suppression) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	err = recordEvent(ctx, tx, e, suppress)
	if errors.Is(err, event.ErrDuplicate) {
		if cerr := tx.Commit(); cerr != nil {
			return fmt.Errorf("commit: %w", cerr)
		}
		return err
	}
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (r *EventRepo) Message(ctx context.Context, id string) (*domain.Message, error) {
	m := &domain.Message{}
	err := scanMessage(r.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = $1`, id), m)
	if err == sql.ErrNoRows {
		return nil, event.ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return m, nil
}

func (r *EventRepo) MessageByTransportID(ctx context.Context, transportID string) (*domain.Message, error) {
	m := &domain.Message{}
	err := scanMessage(r.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE transport_message_id = $1 LIMIT 1`, transportID), m)
	if err == sql.ErrNoRows {
		return nil, event.ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get message by transport id: %w", err)
	}
	return m, nil
}

func (r *EventRepo) ByMessage(ctx context.Context, messageID string) ([]domain.Event, error) {
	return eventsByMessage(ctx, r.db, messageID)
}

func eventsByMessage(ctx context.Context, q queryer, messageID string) ([]domain.Event, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE message_id = $1 ORDER BY occurred_at, id`, messageID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	out := []domain.Event{}
	for rows.Next() {
		var e domain.Event
		if err := scanEvent(rows, &e); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *EventRepo) CountsByType(ctx context.Context, domainID string, from, to time.Time) (map[domain.EventType]int64, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT event_type, COUNT(*)
		FROM events
		WHERE domain_id = $1 AND occurred_at >= $2 AND occurred_at < $3
		GROUP BY event_type
	`, domainID, from, to)
	if err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}
	defer rows.Close()

	out := make(map[domain.EventType]int64)
	for rows.Next() {
		var t domain.EventType
		var n int64
		if err := rows.Scan(&t, &n); err != nil {
			return nil, fmt.Errorf("scan event count: %w", err)
		}
		out[t] = n
	}
	return out, rows.Err()
}

func (r *EventRepo) TimeSeries(ctx context.Context, domainID string, t domain.EventType, from, to time.Time, period string) ([]event.Point, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT date_trunc($4, occurred_at AT TIME ZONE 'UTC') AS bucket, COUNT(*)
		FROM events
		WHERE domain_id = $1 AND event_type = $2 AND occurred_at >= $3 AND occurred_at < $5
		GROUP BY bucket
		ORDER BY bucket
	`, domainID, t, from, period, to)
	if err != nil {
		return nil, fmt.Errorf("event time series: %w", err)
	}
	defer rows.Close()

	out := []event.Point{}
	for rows.Next() {
		var p event.Point
		if err := rows.Scan(&p.Bucket, &p.Count); err != nil {
			return nil, fmt.Errorf("scan time series: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
