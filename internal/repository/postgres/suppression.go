package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/txmail/internal/domain"
	"github.com/ignite/txmail/internal/service/suppression"
	"github.com/lib/pq"
)

// queryer is satisfied by both *sql.DB and *sql.Tx, so helpers shared by the
// event and dispatch transactions can run inside or outside a transaction.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// SuppressionRepo implements suppression.Repository against PostgreSQL.
type SuppressionRepo struct{ db *sql.DB }

// NewSuppressionRepo creates a Postgres-backed suppression repository.
func NewSuppressionRepo(db *sql.DB) *SuppressionRepo { return &SuppressionRepo{db: db} }

const suppressionColumns = `id, domain_id, email, reason, bounce_class, description, source,
	COALESCE(message_id::text, ''), expires_at, created_at, updated_at`

// keepExisting mirrors domain.Suppression.Supersedes: the stored row is kept
// only while it is active, lasts at least as long as the incoming one and
// outranks it. A permanent entry also beats an expiring entry of the same
// reason, so a soft bounce never shortens a hard bounce.
const keepExisting = `(
	(suppressions.expires_at IS NULL OR suppressions.expires_at > NOW())
	AND (suppressions.expires_at IS NULL
	     OR (EXCLUDED.expires_at IS NOT NULL AND suppressions.expires_at >= EXCLUDED.expires_at))
	AND (suppressions.priority > EXCLUDED.priority
	     OR (suppressions.priority = EXCLUDED.priority
	         AND suppressions.expires_at IS NULL AND EXCLUDED.expires_at IS NOT NULL)))`

var upsertSuppressionSQL = `
	INSERT INTO suppressions (id, domain_id, email, reason, priority, bounce_class,
	                          description, source, message_id, expires_at, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, '')::uuid, $10, NOW(), NOW())
	ON CONFLICT (domain_id, email) DO UPDATE SET
		reason       = CASE WHEN ` + keepExisting + ` THEN suppressions.reason       ELSE EXCLUDED.reason END,
		priority     = CASE WHEN ` + keepExisting + ` THEN suppressions.priority     ELSE EXCLUDED.priority END,
		bounce_class = CASE WHEN ` + keepExisting + ` THEN suppressions.bounce_class ELSE EXCLUDED.bounce_class END,
		description  = CASE WHEN ` + keepExisting + ` THEN suppressions.description  ELSE EXCLUDED.description END,
		source       = CASE WHEN ` + keepExisting + ` THEN suppressions.source       ELSE EXCLUDED.source END,
		message_id   = CASE WHEN ` + keepExisting + ` THEN suppressions.message_id   ELSE EXCLUDED.message_id END,
		expires_at   = CASE WHEN ` + keepExisting + ` THEN suppressions.expires_at   ELSE EXCLUDED.expires_at END,
		created_at   = CASE WHEN ` + keepExisting + ` THEN suppressions.created_at   ELSE NOW() END,
		updated_at   = NOW()
	RETURNING ` + suppressionColumns + `, (xmax = 0) AS inserted`

// upsertSuppression applies the single-active-reason policy in one statement.
// It is shared by the registry API and by event ingestion so both paths obey
// the same priority rules.
func upsertSuppression(ctx context.Context, q queryer, s *domain.Suppression) (bool, error) {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	var inserted bool
	err := q.QueryRowContext(ctx, upsertSuppressionSQL,
		s.ID, s.DomainID, s.Email, s.Reason, s.Reason.Priority(), s.BounceClass,
		s.Description, s.Source, s.MessageID, s.ExpiresAt,
	).Scan(
		&s.ID, &s.DomainID, &s.Email, &s.Reason, &s.BounceClass, &s.Description, &s.Source,
		&s.MessageID, &s.ExpiresAt, &s.CreatedAt, &s.UpdatedAt, &inserted,
	)
	if err != nil {
		return false, fmt.Errorf("upsert suppression: %w", err)
	}
	return inserted, nil
}

func (r *SuppressionRepo) Upsert(ctx context.Context, s *domain.Suppression) (bool, error) {
	return upsertSuppression(ctx, r.db, s)
}

func scanSuppression(sc interface{ Scan(...interface{}) error }, s *domain.Suppression) error {
	return sc.Scan(&s.ID, &s.DomainID, &s.Email, &s.Reason, &s.BounceClass, &s.Description,
		&s.Source, &s.MessageID, &s.ExpiresAt, &s.CreatedAt, &s.UpdatedAt)
}

func (r *SuppressionRepo) Get(ctx context.Context, domainID, email string) (*domain.Suppression, error) {
	s := &domain.Suppression{}
	err := scanSuppression(r.db.QueryRowContext(ctx, `
		SELECT `+suppressionColumns+`
		FROM suppressions
		WHERE domain_id = $1 AND email = $2
		  AND (expires_at IS NULL OR expires_at > NOW())
	`, domainID, email), s)
	if err == sql.ErrNoRows {
		return nil, suppression.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get suppression: %w", err)
	}
	return s, nil
}

func (r *SuppressionRepo) GetMany(ctx context.Context, domainID string, emails []string) (map[string]domain.Suppression, error) {
	return activeSuppressions(ctx, r.db, domainID, emails)
}

// activeSuppressions returns the active entries among emails. The dispatcher
// calls it inside its claim transaction.
func activeSuppressions(ctx context.Context, q queryer, domainID string, emails []string) (map[string]domain.Suppression, error) {
	out := make(map[string]domain.Suppression)
	if len(emails) == 0 {
		return out, nil
	}
	rows, err := q.QueryContext(ctx, `
		SELECT `+suppressionColumns+`
		FROM suppressions
		WHERE domain_id = $1 AND email = ANY($2)
		  AND (expires_at IS NULL OR expires_at > NOW())
	`, domainID, pq.Array(emails))
	if err != nil {
		return nil, fmt.Errorf("lookup suppressions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var s domain.Suppression
		if err := scanSuppression(rows, &s); err != nil {
			return nil, fmt.Errorf("scan suppression: %w", err)
		}
		out[s.Email] = s
	}
	return out, rows.Err()
}

func (r *SuppressionRepo) Remove(ctx context.Context, domainID, email string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM suppressions WHERE domain_id = $1 AND email = $2`,
		domainID, email,
	)
	if err != nil {
		return fmt.Errorf("remove suppression: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return suppression.ErrNotFound
	}
	return nil
}

func (r *SuppressionRepo) List(ctx context.Context, domainID string, f suppression.ListFilter) ([]domain.Suppression, int, error) {
	where := ` WHERE domain_id = $1 AND (expires_at IS NULL OR expires_at > NOW())`
	args := []interface{}{domainID}
	idx := 2

	if f.Reason != "" {
		where += fmt.Sprintf(" AND reason = $%d", idx)
		args = append(args, f.Reason)
		idx++
	}
	if f.Search != "" {
		where += fmt.Sprintf(" AND email LIKE $%d", idx)
		args = append(args, "%"+f.Search+"%")
		idx++
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM suppressions`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count suppressions: %w", err)
	}

	q := `SELECT ` + suppressionColumns + ` FROM suppressions` + where +
		fmt.Sprintf(" ORDER BY created_at DESC, email LIMIT $%d OFFSET $%d", idx, idx+1)
	args = append(args, f.Limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list suppressions: %w", err)
	}
	defer rows.Close()

	out := []domain.Suppression{}
	for rows.Next() {
		var s domain.Suppression
		if err := scanSuppression(rows, &s); err != nil {
			return nil, 0, fmt.Errorf("scan suppression: %w", err)
		}
		out = append(out, s)
	}
	return out, total, rows.Err()
}

func (r *SuppressionRepo) Stats(ctx context.Context, domainID string) (*suppression.Stats, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT reason,
		       COUNT(*),
		       COUNT(*) FILTER (WHERE created_at > NOW() - INTERVAL '24 hours'),
		       COUNT(*) FILTER (WHERE created_at > NOW() - INTERVAL '7 days'),
		       COUNT(*) FILTER (WHERE created_at > NOW() - INTERVAL '30 days')
		FROM suppressions
		WHERE domain_id = $1 AND (expires_at IS NULL OR expires_at > NOW())
		GROUP BY reason
	`, domainID)
	if err != nil {
		return nil, fmt.Errorf("suppression stats: %w", err)
	}
	defer rows.Close()

	st := &suppression.Stats{ByReason: map[string]int{}}
	for rows.Next() {
		var reason string
		var total, d1, d7, d30 int
		if err := rows.Scan(&reason, &total, &d1, &d7, &d30); err != nil {
			return nil, fmt.Errorf("scan suppression stats: %w", err)
		}
		st.ByReason[reason] = total
		st.Total += total
		st.Last24Hours += d1
		st.Last7Days += d7
		st.Last30Days += d30
	}
	return st, rows.Err()
}

func (r *SuppressionRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM suppressions WHERE expires_at IS NOT NULL AND expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired suppressions: %w", err)
	}
	return res.RowsAffected()
}
