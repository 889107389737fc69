package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestHashKey(t *testing.T) {
	// sha256("test")
	want := "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"
	if got := HashKey("test"); got != want {
		t.Errorf("HashKey = %s", got)
	}
}

func TestAPIKeyRepo_DomainForKey(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectQuery("SELECT domain_id FROM api_keys WHERE key_hash = \\$1 AND revoked_at IS NULL").
		WithArgs(HashKey("key-live")).
		WillReturnRows(sqlmock.NewRows([]string{"domain_id"}).AddRow("dom-1"))
	mock.ExpectQuery("FROM api_keys").
		WithArgs(HashKey("key-revoked")).
		WillReturnRows(sqlmock.NewRows([]string{"domain_id"}))

	repo := NewAPIKeyRepo(db)
	got, err := repo.DomainForKey(context.Background(), "key-live")
	if err != nil || got != "dom-1" {
		t.Fatalf("DomainForKey = %q, %v", got, err)
	}
	if _, err := repo.DomainForKey(context.Background(), "key-revoked"); !errors.Is(err, ErrUnknownKey) {
		t.Fatalf("expected ErrUnknownKey, got %v", err)
	}
}

func TestTemplateRepo_MissingIsNil(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectQuery("FROM templates").
		WithArgs("tpl-1", "dom-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "domain_id", "subject", "html_body", "text_body"}))

	tpl, err := NewTemplateRepo(db).GetTemplate(context.Background(), "dom-1", "tpl-1")
	if err != nil || tpl != nil {
		t.Fatalf("expected nil, nil; got %v, %v", tpl, err)
	}
}
