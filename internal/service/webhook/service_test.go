package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ignite/txmail/internal/domain"
)

type mockRepo struct {
	mu       sync.Mutex
	hooks    map[string]domain.Webhook
	resets   int
	delivery []domain.WebhookDelivery
}

func newMockRepo() *mockRepo {
	return &mockRepo{hooks: make(map[string]domain.Webhook)}
}

func (m *mockRepo) Create(_ context.Context, w *domain.Webhook) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks[w.ID] = *w
	return nil
}

func (m *mockRepo) Get(_ context.Context, domainID, id string) (*domain.Webhook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.hooks[id]
	if !ok || w.DomainID != domainID {
		return nil, ErrNotFound
	}
	return &w, nil
}

func (m *mockRepo) List(_ context.Context, domainID string) ([]domain.Webhook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Webhook
	for _, w := range m.hooks {
		if w.DomainID == domainID {
			out = append(out, w)
		}
	}
	return out, nil
}

func (m *mockRepo) Update(_ context.Context, w *domain.Webhook, resetFailures bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.hooks[w.ID]
	if !ok {
		return ErrNotFound
	}
	stored.URL, stored.Events, stored.Description, stored.IsActive = w.URL, w.Events, w.Description, w.IsActive
	if resetFailures {
		m.resets++
		stored.FailureCount = 0
		stored.LastError = ""
	}
	m.hooks[w.ID] = stored
	return nil
}

func (m *mockRepo) Delete(_ context.Context, domainID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.hooks[id]
	if !ok || w.DomainID != domainID {
		return ErrNotFound
	}
	delete(m.hooks, id)
	return nil
}

func (m *mockRepo) SetSecret(_ context.Context, domainID, id, secret string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.hooks[id]
	if !ok || w.DomainID != domainID {
		return ErrNotFound
	}
	w.Secret = secret
	m.hooks[id] = w
	return nil
}

func (m *mockRepo) Deliveries(_ context.Context, webhookID string, limit int) ([]domain.WebhookDelivery, error) {
	return m.delivery, nil
}

func TestCreate_GeneratesSecretAndDedupesEvents(t *testing.T) {
	svc := NewService(newMockRepo(), nil)

	w, err := svc.Create(context.Background(), "dom-1", CreateRequest{
		URL:    "https://hooks.example.com/mail",
		Events: []domain.EventType{domain.EventDelivered, domain.EventBounced, domain.EventDelivered},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !strings.HasPrefix(w.Secret, "whsec_") || len(w.Secret) != len("whsec_")+64 {
		t.Errorf("unexpected secret %q", w.Secret)
	}
	if len(w.Events) != 2 {
		t.Errorf("expected 2 events, got %v", w.Events)
	}
	if !w.IsActive {
		t.Error("new webhook should be active")
	}
}

func TestCreate_Validation(t *testing.T) {
	svc := NewService(newMockRepo(), nil)

	cases := []CreateRequest{
		{URL: "ftp://example.com", Events: []domain.EventType{domain.EventSent}},
		{URL: "not a url", Events: []domain.EventType{domain.EventSent}},
		{URL: "https://example.com"},
		{URL: "https://example.com", Events: []domain.EventType{"exploded"}},
	}
	for _, req := range cases {
		if _, err := svc.Create(context.Background(), "dom-1", req); !errors.Is(err, ErrInvalidWebhook) {
			t.Errorf("%+v: expected ErrInvalidWebhook, got %v", req, err)
		}
	}
}

func TestGetAndList_HideSecret(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo, nil)
	w, _ := svc.Create(context.Background(), "dom-1", CreateRequest{
		URL: "https://example.com/h", Events: []domain.EventType{domain.EventSent},
	})

	got, err := svc.Get(context.Background(), "dom-1", w.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Secret != "" {
		t.Error("Get leaked the secret")
	}
	list, _ := svc.List(context.Background(), "dom-1")
	if len(list) != 1 || list[0].Secret != "" {
		t.Errorf("List leaked the secret or lost the webhook: %+v", list)
	}
	if _, err := svc.Get(context.Background(), "dom-2", w.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("cross-domain Get should be ErrNotFound, got %v", err)
	}
}

func TestUpdate_ReactivationResetsFailures(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo, nil)
	w, _ := svc.Create(context.Background(), "dom-1", CreateRequest{
		URL: "https://example.com/h", Events: []domain.EventType{domain.EventSent},
	})
	stored := repo.hooks[w.ID]
	stored.IsActive = false
	stored.FailureCount = 10
	stored.LastError = "HTTP 500"
	repo.hooks[w.ID] = stored

	active := true
	got, err := svc.Update(context.Background(), "dom-1", w.ID, UpdateRequest{IsActive: &active})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if !got.IsActive || got.FailureCount != 0 {
		t.Errorf("unexpected webhook after reactivation: %+v", got)
	}
	if repo.resets != 1 || repo.hooks[w.ID].FailureCount != 0 {
		t.Error("repository failure counter was not reset")
	}

	desc := "renamed"
	if _, err := svc.Update(context.Background(), "dom-1", w.ID, UpdateRequest{Description: &desc}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if repo.resets != 1 {
		t.Error("a plain update must not reset failures")
	}
}

func TestRotateSecret(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo, nil)
	w, _ := svc.Create(context.Background(), "dom-1", CreateRequest{
		URL: "https://example.com/h", Events: []domain.EventType{domain.EventSent},
	})

	secret, err := svc.RotateSecret(context.Background(), "dom-1", w.ID)
	if err != nil {
		t.Fatalf("RotateSecret: %v", err)
	}
	if secret == w.Secret || repo.hooks[w.ID].Secret != secret {
		t.Error("secret was not rotated")
	}
}

func TestSignAndVerify(t *testing.T) {
	body := []byte(`{"eventId":"e1"}`)
	ts := time.Now().Unix()
	sig := Sign("whsec_abc", ts, body)

	if !strings.HasPrefix(sig, "sha256=") {
		t.Fatalf("unexpected signature format %q", sig)
	}
	if !VerifySignature("whsec_abc", sig, strconv.FormatInt(ts, 10), body, 5*time.Minute) {
		t.Error("valid signature rejected")
	}
	if VerifySignature("whsec_other", sig, strconv.FormatInt(ts, 10), body, 0) {
		t.Error("wrong secret accepted")
	}
	if VerifySignature("whsec_abc", sig, strconv.FormatInt(ts, 10), []byte(`{"eventId":"e2"}`), 0) {
		t.Error("tampered body accepted")
	}
	old := ts - 3600
	if VerifySignature("whsec_abc", Sign("whsec_abc", old, body), strconv.FormatInt(old, 10), body, 5*time.Minute) {
		t.Error("stale timestamp accepted")
	}
}

func TestTest_SendsSignedPayload(t *testing.T) {
	var gotHeaders http.Header
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	repo := newMockRepo()
	svc := NewService(repo, NewDeliverer(srv.Client(), time.Second))
	w, _ := svc.Create(context.Background(), "dom-1", CreateRequest{
		URL: srv.URL, Events: []domain.EventType{domain.EventSent},
	})

	a, err := svc.Test(context.Background(), "dom-1", w.ID)
	if err != nil {
		t.Fatalf("Test: %v", err)
	}
	if !a.Success || a.StatusCode != http.StatusNoContent {
		t.Fatalf("unexpected attempt: %+v", a)
	}
	if gotHeaders.Get(HeaderEvent) != "test" || gotHeaders.Get("User-Agent") != UserAgent {
		t.Errorf("unexpected headers: %v", gotHeaders)
	}
	if !VerifySignature(w.Secret, gotHeaders.Get(HeaderSignature), gotHeaders.Get(HeaderTimestamp), gotBody, time.Minute) {
		t.Error("delivered signature does not verify")
	}
	var p TestPayload
	if err := json.Unmarshal(gotBody, &p); err != nil || p.WebhookID != w.ID {
		t.Errorf("unexpected payload %s", gotBody)
	}
}

func TestDeliver_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := NewDeliverer(srv.Client(), time.Second)
	a := d.Deliver(context.Background(), &domain.Webhook{URL: srv.URL, Secret: "s"}, "sent", "e1", []byte(`{}`))
	if a.Success || a.StatusCode != 500 {
		t.Fatalf("unexpected attempt: %+v", a)
	}
	if !strings.Contains(a.Error, "HTTP 500") || !strings.Contains(a.Error, "boom") {
		t.Errorf("unexpected error text %q", a.Error)
	}
}
