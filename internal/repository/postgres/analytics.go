package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ignite/txmail/internal/domain"
	"github.com/ignite/txmail/internal/service/analytics"
)

// incrementSQL holds one fixed upsert per metric. Column names come only
// from domain.Metric.Column, never from callers.
var incrementSQL = func() map[domain.Metric]string {
	out := make(map[domain.Metric]string, len(domain.AllMetrics))
	for _, m := range domain.AllMetrics {
		col := m.Column()
		out[m] = fmt.Sprintf(`
			INSERT INTO daily_stats (domain_id, date, category, %[1]s)
			VALUES ($1, $2, $3, 1)
			ON CONFLICT (domain_id, date, category) DO UPDATE SET %[1]s = daily_stats.%[1]s + 1`, col)
	}
	return out
}()

// incrementStat adds one to a daily counter. The row-level upsert makes
// concurrent increments from many workers safe.
func incrementStat(ctx context.Context, q queryer, domainID string, at time.Time, category string, m domain.Metric) error {
	stmt, ok := incrementSQL[m]
	if !ok {
		return fmt.Errorf("increment stat: unknown metric %d", int(m))
	}
	if category == "" {
		category = domain.DefaultCategory
	}
	day := at.UTC().Format("2006-01-02")
	if _, err := q.ExecContext(ctx, stmt, domainID, day, category); err != nil {
		return fmt.Errorf("increment %s: %w", m, err)
	}
	return nil
}

// AnalyticsRepo implements analytics.Repository against PostgreSQL.
type AnalyticsRepo struct{ db *sql.DB }

// NewAnalyticsRepo creates a Postgres-backed analytics repository.
func NewAnalyticsRepo(db *sql.DB) *AnalyticsRepo { return &AnalyticsRepo{db: db} }

const sumCounters = `
	COALESCE(SUM(sent), 0), COALESCE(SUM(delivered), 0), COALESCE(SUM(bounced), 0),
	COALESCE(SUM(hard_bounced), 0), COALESCE(SUM(soft_bounced), 0),
	COALESCE(SUM(opened), 0), COALESCE(SUM(unique_opened), 0),
	COALESCE(SUM(clicked), 0), COALESCE(SUM(unique_clicked), 0),
	COALESCE(SUM(spam_reports), 0), COALESCE(SUM(unsubscribed), 0),
	COALESCE(SUM(dropped), 0), COALESCE(SUM(deferred), 0)`

func counterDest(c *domain.Counters) []interface{} {
	return []interface{}{
		&c.Sent, &c.Delivered, &c.Bounced, &c.HardBounced, &c.SoftBounced,
		&c.Opened, &c.UniqueOpened, &c.Clicked, &c.UniqueClicked,
		&c.SpamReports, &c.Unsubscribed, &c.Dropped, &c.Deferred,
	}
}

func (r *AnalyticsRepo) Totals(ctx context.Context, domainID string, start, end time.Time, category string) (domain.Counters, error) {
	var c domain.Counters
	q := `SELECT ` + sumCounters + ` FROM daily_stats WHERE domain_id = $1 AND date >= $2::date AND date <= $3::date`
	args := []interface{}{domainID, start, end}
	if category != "" {
		q += ` AND category = $4`
		args = append(args, category)
	}
	if err := r.db.QueryRowContext(ctx, q, args...).Scan(counterDest(&c)...); err != nil {
		return domain.Counters{}, fmt.Errorf("sum daily stats: %w", err)
	}
	return c, nil
}

func (r *AnalyticsRepo) DailySeries(ctx context.Context, domainID string, start, end time.Time, period string) ([]analytics.SeriesPoint, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT date_trunc($4, date::timestamp) AS bucket, `+sumCounters+`
		FROM daily_stats
		WHERE domain_id = $1 AND date >= $2::date AND date <= $3::date
		GROUP BY bucket
		ORDER BY bucket
	`, domainID, start, end, period)
	if err != nil {
		return nil, fmt.Errorf("daily series: %w", err)
	}
	defer rows.Close()

	out := []analytics.SeriesPoint{}
	for rows.Next() {
		var p analytics.SeriesPoint
		if err := rows.Scan(append([]interface{}{&p.Timestamp}, counterDest(&p.Counters)...)...); err != nil {
			return nil, fmt.Errorf("scan daily series: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// HourlySeries cannot count unique opens/clicks cheaply per hour, so those
// columns stay zero in hourly buckets.
func (r *AnalyticsRepo) HourlySeries(ctx context.Context, domainID string, start, end time.Time) ([]analytics.SeriesPoint, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT date_trunc('hour', occurred_at AT TIME ZONE 'UTC') AS bucket,
		       COUNT(*) FILTER (WHERE event_type = 'sent'),
		       COUNT(*) FILTER (WHERE event_type = 'delivered'),
		       COUNT(*) FILTER (WHERE event_type = 'bounced'),
		       COUNT(*) FILTER (WHERE event_type = 'bounced' AND bounce_class = 'hard'),
		       COUNT(*) FILTER (WHERE event_type = 'bounced' AND bounce_class = 'soft'),
		       COUNT(*) FILTER (WHERE event_type = 'opened'),
		       0,
		       COUNT(*) FILTER (WHERE event_type = 'clicked'),
		       0,
		       COUNT(*) FILTER (WHERE event_type = 'spam_report'),
		       COUNT(*) FILTER (WHERE event_type = 'unsubscribed'),
		       COUNT(*) FILTER (WHERE event_type = 'dropped'),
		       COUNT(*) FILTER (WHERE event_type = 'deferred')
		FROM events
		WHERE domain_id = $1 AND occurred_at >= $2 AND occurred_at < $3
		GROUP BY bucket
		ORDER BY bucket
	`, domainID, start, end)
	if err != nil {
		return nil, fmt.Errorf("hourly series: %w", err)
	}
	defer rows.Close()

	out := []analytics.SeriesPoint{}
	for rows.Next() {
		var p analytics.SeriesPoint
		if err := rows.Scan(append([]interface{}{&p.Timestamp}, counterDest(&p.Counters)...)...); err != nil {
			return nil, fmt.Errorf("scan hourly series: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *AnalyticsRepo) Categories(ctx context.Context, domainID string, start, end time.Time) ([]analytics.CategoryStats, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT category, `+sumCounters+`
		FROM daily_stats
		WHERE domain_id = $1 AND date >= $2::date AND date <= $3::date
		GROUP BY category
		ORDER BY SUM(sent) DESC, category
	`, domainID, start, end)
	if err != nil {
		return nil, fmt.Errorf("category stats: %w", err)
	}
	defer rows.Close()

	out := []analytics.CategoryStats{}
	for rows.Next() {
		var c analytics.CategoryStats
		if err := rows.Scan(append([]interface{}{&c.Category}, counterDest(&c.Counters)...)...); err != nil {
			return nil, fmt.Errorf("scan category stats: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *AnalyticsRepo) BounceCodes(ctx context.Context, domainID string, start, end time.Time, limit int) ([]analytics.NameCount, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT bounce_code, COUNT(*) AS n
		FROM events
		WHERE domain_id = $1 AND event_type = 'bounced' AND bounce_code <> ''
		  AND occurred_at >= $2 AND occurred_at < $3
		GROUP BY bounce_code
		ORDER BY n DESC, bounce_code
		LIMIT $4
	`, domainID, start, end, limit)
	if err != nil {
		return nil, fmt.Errorf("bounce codes: %w", err)
	}
	defer rows.Close()

	out := []analytics.NameCount{}
	for rows.Next() {
		var nc analytics.NameCount
		if err := rows.Scan(&nc.Name, &nc.Count); err != nil {
			return nil, fmt.Errorf("scan bounce code: %w", err)
		}
		out = append(out, nc)
	}
	return out, rows.Err()
}

func (r *AnalyticsRepo) Breakdown(ctx context.Context, domainID string, start, end time.Time, dim analytics.Dimension, limit int) ([]analytics.BreakdownRow, error) {
	col := dim.Column()
	if col == "" {
		return nil, fmt.Errorf("breakdown: unknown dimension %d", int(dim))
	}
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %[1]s,
		       COUNT(*) FILTER (WHERE event_type = 'opened') AS opens,
		       COUNT(*) FILTER (WHERE event_type = 'clicked') AS clicks,
		       COUNT(DISTINCT message_id) FILTER (WHERE event_type = 'clicked') AS unique_clicks
		FROM events
		WHERE domain_id = $1 AND event_type IN ('opened', 'clicked') AND %[1]s <> ''
		  AND occurred_at >= $2 AND occurred_at < $3
		GROUP BY %[1]s
		ORDER BY clicks DESC, opens DESC, %[1]s
		LIMIT $4
	`, col), domainID, start, end, limit)
	if err != nil {
		return nil, fmt.Errorf("breakdown by %s: %w", col, err)
	}
	defer rows.Close()

	out := []analytics.BreakdownRow{}
	for rows.Next() {
		var b analytics.BreakdownRow
		if err := rows.Scan(&b.Value, &b.Opens, &b.Clicks, &b.UniqueClicks); err != nil {
			return nil, fmt.Errorf("scan breakdown: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
