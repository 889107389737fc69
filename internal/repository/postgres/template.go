package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ignite/txmail/internal/domain"
)

// TemplateRepo is the read-only template lookup used at dispatch time.
type TemplateRepo struct{ db *sql.DB }

// NewTemplateRepo creates a Postgres-backed template store.
func NewTemplateRepo(db *sql.DB) *TemplateRepo { return &TemplateRepo{db: db} }

// GetTemplate returns nil, nil when the template does not exist for the domain.
func (r *TemplateRepo) GetTemplate(ctx context.Context, domainID, id string) (*domain.Template, error) {
	t := &domain.Template{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, domain_id, subject, html_body, text_body
		FROM templates
		WHERE id::text = $1 AND domain_id = $2
	`, id, domainID).Scan(&t.ID, &t.DomainID, &t.Subject, &t.HTMLBody, &t.TextBody)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}
	return t, nil
}
