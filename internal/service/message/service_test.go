package message

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ignite/txmail/internal/domain"
)

type mockRepo struct {
	mu     sync.Mutex
	store  map[string]*domain.Message
	events map[string][]domain.Event
}

func newMockRepo() *mockRepo {
	return &mockRepo{store: map[string]*domain.Message{}, events: map[string][]domain.Event{}}
}

func (m *mockRepo) Create(_ context.Context, msg *domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *msg
	m.store[msg.ID] = &cp
	return nil
}

func (m *mockRepo) Get(_ context.Context, domainID, id string) (*domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.store[id]
	if !ok || msg.DomainID != domainID {
		return nil, ErrNotFound
	}
	cp := *msg
	return &cp, nil
}

func (m *mockRepo) List(_ context.Context, domainID string, f ListFilter) ([]domain.Message, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Message
	for _, msg := range m.store {
		if msg.DomainID == domainID && (f.Status == "" || string(msg.Status) == f.Status) {
			out = append(out, *msg)
		}
	}
	return out, len(out), nil
}

func (m *mockRepo) Cancel(_ context.Context, domainID, id string) (*domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.store[id]
	if !ok || msg.DomainID != domainID {
		return nil, ErrNotFound
	}
	if !msg.Status.IsPending() {
		return nil, ErrNotCancellable
	}
	msg.Status = domain.StatusFailed
	msg.LastError = "cancelled"
	cp := *msg
	return &cp, nil
}

func (m *mockRepo) Events(_ context.Context, messageID string) ([]domain.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.events[messageID], nil
}

type stubTemplates map[string]*domain.Template

func (s stubTemplates) GetTemplate(_ context.Context, _, id string) (*domain.Template, error) {
	return s[id], nil
}

const testDomainID = "dom-001"

func validRequest() *CreateRequest {
	return &CreateRequest{
		From:     "Sender@Example.com",
		To:       []string{"User@Example.com", "user@example.com"},
		Subject:  "Your receipt",
		HTMLBody: "<p>Thanks</p>",
		Tags:     []string{"receipts"},
	}
}

func TestCreate_QueuesValidMessage(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo, nil, nil)

	res, err := svc.Create(context.Background(), testDomainID, validRequest())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if res.Status != domain.StatusQueued {
		t.Errorf("expected queued, got %s", res.Status)
	}

	stored := repo.store[res.MessageID]
	if stored == nil {
		t.Fatal("message not stored")
	}
	if stored.FromEmail != "sender@example.com" {
		t.Errorf("from not normalized: %q", stored.FromEmail)
	}
	if len(stored.To) != 1 || stored.To[0] != "user@example.com" {
		t.Errorf("recipients not normalized/deduplicated: %v", stored.To)
	}
	if !stored.TrackOpens || !stored.TrackClicks {
		t.Error("tracking should default to on")
	}
	if stored.Category() != "receipts" {
		t.Errorf("category = %q", stored.Category())
	}
}

func TestCreate_FutureScheduleIsScheduled(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo, nil, nil)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	req := validRequest()
	at := now.Add(2 * time.Hour)
	req.ScheduledAt = &at

	res, err := svc.Create(context.Background(), testDomainID, req)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if res.Status != domain.StatusScheduled {
		t.Errorf("expected scheduled, got %s", res.Status)
	}
	if !repo.store[res.MessageID].NextAttemptAt.Equal(at) {
		t.Error("next attempt should wait for the schedule")
	}
}

func TestCreate_PastScheduleIsQueued(t *testing.T) {
	svc := NewService(newMockRepo(), nil, nil)
	req := validRequest()
	at := time.Now().Add(-time.Second)
	req.ScheduledAt = &at

	res, err := svc.Create(context.Background(), testDomainID, req)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if res.Status != domain.StatusQueued {
		t.Errorf("expected queued, got %s", res.Status)
	}
}

func TestCreate_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *CreateRequest)
	}{
		{"missing from", func(r *CreateRequest) { r.From = "" }},
		{"bad recipient", func(r *CreateRequest) { r.To = []string{"nope"} }},
		{"no recipients", func(r *CreateRequest) { r.To = nil }},
		{"no subject", func(r *CreateRequest) { r.Subject = " " }},
		{"no content", func(r *CreateRequest) { r.HTMLBody = "" }},
		{"too many tags", func(r *CreateRequest) { r.Tags = make([]string, MaxTags+1) }},
		{"schedule too far", func(r *CreateRequest) {
			at := time.Now().Add(MaxScheduleAhead + time.Hour)
			r.ScheduledAt = &at
		}},
		{"bad template data", func(r *CreateRequest) { r.TemplateData = []byte("{") }},
	}

	svc := NewService(newMockRepo(), nil, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(req)
			_, err := svc.Create(context.Background(), testDomainID, req)
			if !errors.Is(err, ErrInvalidMessage) {
				t.Errorf("expected ErrInvalidMessage, got %v", err)
			}
		})
	}
}

func TestCreate_TemplateMustExist(t *testing.T) {
	tplID := "6f1c7a7e-4c55-4d0b-9d57-3a9a3f3d2b11"
	svc := NewService(newMockRepo(), stubTemplates{tplID: {ID: tplID, Subject: "Hi {{ name }}"}}, nil)

	req := &CreateRequest{From: "a@example.com", To: []string{"b@example.com"}, TemplateID: tplID}
	if _, err := svc.Create(context.Background(), testDomainID, req); err != nil {
		t.Fatalf("Create with template: %v", err)
	}

	req.TemplateID = "0b8e1f0c-8a11-4bb1-8a34-6f0c1e1d2a33"
	if _, err := svc.Create(context.Background(), testDomainID, req); !errors.Is(err, ErrTemplateNotFound) {
		t.Errorf("expected ErrTemplateNotFound, got %v", err)
	}
}

func TestTimeline_EmptyEventsNotNil(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo, nil, nil)

	res, _ := svc.Create(context.Background(), testDomainID, validRequest())
	tl, err := svc.Timeline(context.Background(), testDomainID, res.MessageID)
	if err != nil {
		t.Fatalf("Timeline: %v", err)
	}
	if tl.Events == nil {
		t.Error("events should be an empty slice, not nil")
	}
}

func TestGet_OtherDomainIsNotFound(t *testing.T) {
	svc := NewService(newMockRepo(), nil, nil)
	res, _ := svc.Create(context.Background(), testDomainID, validRequest())

	if _, err := svc.Get(context.Background(), "dom-002", res.MessageID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := svc.Get(context.Background(), testDomainID, "not-a-uuid"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for malformed id, got %v", err)
	}
}

func TestCancel(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	res, _ := svc.Create(ctx, testDomainID, validRequest())
	m, err := svc.Cancel(ctx, testDomainID, res.MessageID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if m.Status != domain.StatusFailed || m.LastError != "cancelled" {
		t.Errorf("unexpected message after cancel: %s %q", m.Status, m.LastError)
	}

	if _, err := svc.Cancel(ctx, testDomainID, res.MessageID); !errors.Is(err, ErrNotCancellable) {
		t.Errorf("second cancel: expected ErrNotCancellable, got %v", err)
	}
}

func TestList_RejectsUnknownStatus(t *testing.T) {
	svc := NewService(newMockRepo(), nil, nil)
	if _, _, err := svc.List(context.Background(), testDomainID, ListFilter{Status: "exploded"}); !errors.Is(err, ErrInvalidMessage) {
		t.Errorf("expected ErrInvalidMessage, got %v", err)
	}
}

type stubSuppressions struct {
	listed map[string]domain.SuppressionReason
	err    error
	calls  int
}

func (s *stubSuppressions) CheckMultiple(_ context.Context, _ string, emails []string) (map[string]domain.SuppressionStatus, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	out := make(map[string]domain.SuppressionStatus, len(emails))
	for _, e := range emails {
		reason, ok := s.listed[e]
		out[e] = domain.SuppressionStatus{Email: e, Suppressed: ok, Reason: reason}
	}
	return out, nil
}

func TestCreate_ReportsSuppressedRecipients(t *testing.T) {
	repo := newMockRepo()
	checker := &stubSuppressions{listed: map[string]domain.SuppressionReason{"cc@example.com": domain.ReasonUnsubscribe}}
	svc := NewService(repo, nil, checker)

	req := validRequest()
	req.CC = []string{"CC@example.com"}
	res, err := svc.Create(context.Background(), testDomainID, req)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if res.Status != domain.StatusQueued {
		t.Errorf("status = %s, want queued while a recipient remains", res.Status)
	}
	if len(res.Rejected) != 1 {
		t.Fatalf("rejected = %+v", res.Rejected)
	}
	want := RejectedRecipient{Email: "cc@example.com", Code: RejectCodeSuppressed, Reason: "unsubscribe"}
	if res.Rejected[0] != want {
		t.Errorf("rejected[0] = %+v, want %+v", res.Rejected[0], want)
	}
}

func TestCreate_AllRecipientsSuppressed(t *testing.T) {
	repo := newMockRepo()
	req := validRequest()
	svc := NewService(repo, nil, &stubSuppressions{listed: map[string]domain.SuppressionReason{"user@example.com": domain.ReasonBounce}})

	res, err := svc.Create(context.Background(), testDomainID, req)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if res.Status != domain.StatusSuppressed {
		t.Fatalf("status = %s, want suppressed", res.Status)
	}
	if len(res.Rejected) != 1 {
		t.Errorf("rejected = %+v", res.Rejected)
	}
	stored := repo.store[res.MessageID]
	if stored.Status != domain.StatusSuppressed || len(stored.SuppressedRecipients) != 1 {
		t.Errorf("stored message: status=%s suppressed=%v", stored.Status, stored.SuppressedRecipients)
	}
}

func TestCreate_SuppressionLookupFailureAcceptsAll(t *testing.T) {
	repo := newMockRepo()
	checker := &stubSuppressions{err: errors.New("db down")}
	svc := NewService(repo, nil, checker)

	res, err := svc.Create(context.Background(), testDomainID, validRequest())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if res.Status != domain.StatusQueued || len(res.Rejected) != 0 || checker.calls != 1 {
		t.Errorf("status=%s rejected=%v calls=%d", res.Status, res.Rejected, checker.calls)
	}
}
