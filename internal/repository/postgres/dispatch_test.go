package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/ignite/txmail/internal/domain"
	"github.com/ignite/txmail/internal/service/sending"
)

var messageCols = []string{"id", "domain_id", "from_email", "from_name", "reply_to", "to_addrs", "cc_addrs",
	"bcc_addrs", "subject", "text_body", "html_body", "template_id", "template_data", "headers", "tags",
	"metadata", "track_opens", "track_clicks", "status", "suppressed_recipients", "attempts", "last_error",
	"transport_message_id", "scheduled_at", "queued_at", "next_attempt_at", "sent_at", "delivered_at",
	"opened_at", "clicked_at", "bounced_at", "created_at", "updated_at"}

func queuedMessageRow(rows *sqlmock.Rows, id string, now time.Time) *sqlmock.Rows {
	return rows.AddRow(id, "dom-1", "noreply@shop.example", "", "", "{a@example.com,b@example.com}", "{}", "{}",
		"Your receipt", "Thanks", "", "", nil, []byte("{}"), "{receipts}", []byte("{}"),
		false, false, "queued", "{}", 0, "", "",
		nil, now, now, nil, nil, nil, nil, nil, now, now)
}

func claimOne(t *testing.T, mock sqlmock.Sqlmock, now time.Time) {
	t.Helper()
	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE SKIP LOCKED").
		WithArgs(50).
		WillReturnRows(queuedMessageRow(sqlmock.NewRows(messageCols), "msg-1", now))
}

func TestDispatchRepo_ClaimAndFinalizeSent(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	now := time.Now().UTC()
	sentAt := now.Add(time.Second)
	claimOne(t, mock, now)
	mock.ExpectExec("^SAVEPOINT finalize").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("SET status = 'sending', transport_message_id = \\$2").
		WithArgs("msg-1", "ses-123").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT status, opened_at IS NULL").
		WithArgs("msg-1").
		WillReturnRows(sqlmock.NewRows([]string{"status", "o", "c", "s"}).AddRow("sending", true, true, false))
	mock.ExpectQuery("INSERT INTO events").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(now))
	mock.ExpectExec("UPDATE messages SET status = \\$2, updated_at = NOW\\(\\), sent_at = COALESCE").
		WithArgs("msg-1", domain.StatusSent, sentAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO daily_stats").
		WithArgs("dom-1", sentAt.Format("2006-01-02"), "receipts").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("RELEASE SAVEPOINT finalize").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	batch, err := NewDispatchRepo(db).ClaimDue(context.Background(), 50)
	if err != nil {
		t.Fatalf("ClaimDue: %v", err)
	}
	msgs := batch.Messages()
	if len(msgs) != 1 || len(msgs[0].To) != 2 || msgs[0].Category() != "receipts" {
		t.Fatalf("unexpected claim: %+v", msgs)
	}

	err = batch.Finalize(context.Background(), &sending.Outcome{
		Message:   &msgs[0],
		Kind:      sending.OutcomeSent,
		Recipient: "a@example.com",
		Result:    &domain.SendResult{TransportMessageID: "ses-123", Transport: domain.TransportSES, SentAt: sentAt},
		At:        now,
	})
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if err := batch.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestDispatchRepo_FinalizeSuppressedRecordsDrops(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	now := time.Now().UTC()
	claimOne(t, mock, now)
	mock.ExpectExec("^SAVEPOINT finalize").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("SET suppressed_recipients").
		WithArgs("msg-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT status").
		WillReturnRows(sqlmock.NewRows([]string{"status", "o", "c", "s"}).AddRow("queued", true, true, false))
	mock.ExpectQuery("INSERT INTO events").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(now))
	mock.ExpectExec("INSERT INTO daily_stats").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("SET status = 'suppressed'").
		WithArgs("msg-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("RELEASE SAVEPOINT finalize").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	batch, err := NewDispatchRepo(db).ClaimDue(context.Background(), 50)
	if err != nil {
		t.Fatalf("ClaimDue: %v", err)
	}
	msg := batch.Messages()[0]
	err = batch.Finalize(context.Background(), &sending.Outcome{
		Message: &msg,
		Kind:    sending.OutcomeSuppressed,
		Dropped: []sending.DroppedRecipient{{Email: "a@example.com", Reason: domain.ReasonBounce}},
		At:      now,
	})
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if err := batch.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestDispatchRepo_FinalizeErrorRollsBackToSavepoint(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	now := time.Now().UTC()
	claimOne(t, mock, now)
	mock.ExpectExec("^SAVEPOINT finalize").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("SET attempts = attempts \\+ 1, next_attempt_at = \\$2").
		WillReturnError(errors.New("connection reset"))
	mock.ExpectExec("ROLLBACK TO SAVEPOINT finalize").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	batch, err := NewDispatchRepo(db).ClaimDue(context.Background(), 50)
	if err != nil {
		t.Fatalf("ClaimDue: %v", err)
	}
	msg := batch.Messages()[0]
	err = batch.Finalize(context.Background(), &sending.Outcome{
		Message:       &msg,
		Kind:          sending.OutcomeDeferred,
		Recipient:     "a@example.com",
		Error:         "throttled",
		NextAttemptAt: now.Add(time.Minute),
		At:            now,
	})
	if err == nil {
		t.Fatal("expected finalize error")
	}
	if err := batch.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestDispatchRepo_ClaimEmpty(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE SKIP LOCKED").
		WillReturnRows(sqlmock.NewRows(messageCols))
	mock.ExpectRollback()

	batch, err := NewDispatchRepo(db).ClaimDue(context.Background(), 10)
	if err != nil {
		t.Fatalf("ClaimDue: %v", err)
	}
	if len(batch.Messages()) != 0 {
		t.Errorf("expected empty batch")
	}
	if err := batch.Rollback(); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
