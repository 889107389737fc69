package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/txmail/internal/domain"
	"github.com/ignite/txmail/internal/pkg/logger"
)

const (
	maxDeliveryLimit     = 100
	defaultDeliveryLimit = 20
)

// Service implements webhook endpoint management.
type Service struct {
	repo      Repository
	deliverer *Deliverer
	now       func() time.Time
}

// NewService creates a webhook service.
func NewService(repo Repository, deliverer *Deliverer) *Service {
	if deliverer == nil {
		deliverer = NewDeliverer(nil, 0)
	}
	return &Service{repo: repo, deliverer: deliverer, now: time.Now}
}

// CreateRequest registers a new endpoint.
type CreateRequest struct {
	URL         string             `json:"url"`
	Events      []domain.EventType `json:"events"`
	Description string             `json:"description,omitempty"`
}

// UpdateRequest changes an endpoint. Nil fields are left untouched.
type UpdateRequest struct {
	URL         *string            `json:"url,omitempty"`
	Events      []domain.EventType `json:"events,omitempty"`
	Description *string            `json:"description,omitempty"`
	IsActive    *bool              `json:"isActive,omitempty"`
}

// TestPayload is the synthetic body sent by Test.
type TestPayload struct {
	EventID   string    `json:"eventId"`
	EventType string    `json:"eventType"`
	WebhookID string    `json:"webhookId"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "https" && u.Scheme != "http") {
		return fmt.Errorf("%w: url must be an absolute http(s) URL", ErrInvalidWebhook)
	}
	return nil
}

func normalizeEvents(in []domain.EventType) ([]domain.EventType, error) {
	if len(in) == 0 {
		return nil, fmt.Errorf("%w: at least one event type is required", ErrInvalidWebhook)
	}
	seen := make(map[domain.EventType]bool, len(in))
	out := make([]domain.EventType, 0, len(in))
	for _, t := range in {
		if !t.IsValid() {
			return nil, fmt.Errorf("%w: unknown event type %q", ErrInvalidWebhook, t)
		}
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out, nil
}

// Create registers an endpoint and returns it with its signing secret. The
// secret is only returned here and by RotateSecret.
func (s *Service) Create(ctx context.Context, domainID string, req CreateRequest) (*domain.Webhook, error) {
	if err := validateURL(req.URL); err != nil {
		return nil, err
	}
	events, err := normalizeEvents(req.Events)
	if err != nil {
		return nil, err
	}
	secret, err := GenerateSecret()
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	w := &domain.Webhook{
		ID:          uuid.New().String(),
		DomainID:    domainID,
		URL:         req.URL,
		Events:      events,
		Secret:      secret,
		Description: req.Description,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Create(ctx, w); err != nil {
		return nil, fmt.Errorf("create webhook: %w", err)
	}
	logger.Info("webhook created", "domain_id", domainID, "webhook_id", w.ID, "events", len(events))
	return w, nil
}

// Get returns an endpoint without its secret.
func (s *Service) Get(ctx context.Context, domainID, id string) (*domain.Webhook, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	w, err := s.repo.Get(ctx, domainID, id)
	if err != nil {
		return nil, err
	}
	w.Secret = ""
	return w, nil
}

// List returns every endpoint of a domain without secrets.
func (s *Service) List(ctx context.Context, domainID string) ([]domain.Webhook, error) {
	list, err := s.repo.List(ctx, domainID)
	if err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}
	if list == nil {
		list = []domain.Webhook{}
	}
	for i := range list {
		list[i].Secret = ""
	}
	return list, nil
}

// Update applies a partial change. Setting isActive=true on an inactive
// endpoint is the manual reactivation and clears the failure counter.
func (s *Service) Update(ctx context.Context, domainID, id string, req UpdateRequest) (*domain.Webhook, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	w, err := s.repo.Get(ctx, domainID, id)
	if err != nil {
		return nil, err
	}

	if req.URL != nil {
		if err := validateURL(*req.URL); err != nil {
			return nil, err
		}
		w.URL = *req.URL
	}
	if req.Events != nil {
		events, err := normalizeEvents(req.Events)
		if err != nil {
			return nil, err
		}
		w.Events = events
	}
	if req.Description != nil {
		w.Description = *req.Description
	}
	reactivated := false
	if req.IsActive != nil {
		reactivated = *req.IsActive && !w.IsActive
		w.IsActive = *req.IsActive
	}
	if reactivated {
		w.FailureCount = 0
		w.LastError = ""
	}
	w.UpdatedAt = s.now().UTC()

	if err := s.repo.Update(ctx, w, reactivated); err != nil {
		return nil, fmt.Errorf("update webhook: %w", err)
	}
	if reactivated {
		logger.Info("webhook reactivated", "domain_id", domainID, "webhook_id", id)
	}
	w.Secret = ""
	return w, nil
}

// Delete removes an endpoint and its delivery log.
func (s *Service) Delete(ctx context.Context, domainID, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}
	return s.repo.Delete(ctx, domainID, id)
}

// RotateSecret replaces the signing secret and returns the new one.
func (s *Service) RotateSecret(ctx context.Context, domainID, id string) (string, error) {
	if _, err := uuid.Parse(id); err != nil {
		return "", ErrNotFound
	}
	secret, err := GenerateSecret()
	if err != nil {
		return "", err
	}
	if err := s.repo.SetSecret(ctx, domainID, id, secret); err != nil {
		return "", err
	}
	logger.Info("webhook secret rotated", "domain_id", domainID, "webhook_id", id)
	return secret, nil
}

// Test sends a synthetic signed payload. It records nothing and never
// changes the endpoint's failure state.
func (s *Service) Test(ctx context.Context, domainID, id string) (*Attempt, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	w, err := s.repo.Get(ctx, domainID, id)
	if err != nil {
		return nil, err
	}
	p := TestPayload{
		EventID:   "test_" + uuid.New().String(),
		EventType: "test",
		WebhookID: w.ID,
		Timestamp: s.now().UTC(),
		Message:   "This is a test webhook delivery",
	}
	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode test payload: %w", err)
	}
	a := s.deliverer.Deliver(ctx, w, p.EventType, p.EventID, body)
	return &a, nil
}

// Deliveries returns the delivery log of an endpoint.
func (s *Service) Deliveries(ctx context.Context, domainID, id string, limit int) ([]domain.WebhookDelivery, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	if _, err := s.repo.Get(ctx, domainID, id); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultDeliveryLimit
	}
	if limit > maxDeliveryLimit {
		limit = maxDeliveryLimit
	}
	out, err := s.repo.Deliveries(ctx, id, limit)
	if err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	if out == nil {
		out = []domain.WebhookDelivery{}
	}
	return out, nil
}
