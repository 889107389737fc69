package message

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/txmail/internal/domain"
	"github.com/ignite/txmail/internal/pkg/logger"
	"github.com/ignite/txmail/internal/service/suppression"
)

// Envelope limits.
const (
	MaxTo            = 1000
	MaxCCOrBCC       = 100
	MaxSubjectLen    = 998
	MaxBodyBytes     = 10 << 20
	MaxTags          = 10
	MaxTagLen        = 100
	MaxScheduleAhead = 72 * time.Hour
)

// Service implements message intake and lifecycle reads.
type Service struct {
	repo         Repository
	templates    TemplateLookup
	suppressions SuppressionChecker
	now          func() time.Time
}

// NewService creates a message service. templates may be nil, in which case
// template references are rejected. suppressions may be nil, leaving the
// suppression check to the dispatcher alone.
func NewService(repo Repository, templates TemplateLookup, suppressions SuppressionChecker) *Service {
	return &Service{repo: repo, templates: templates, suppressions: suppressions, now: time.Now}
}

// CreateRequest is the public send request.
type CreateRequest struct {
	From         string            `json:"from"`
	FromName     string            `json:"fromName,omitempty"`
	ReplyTo      string            `json:"replyTo,omitempty"`
	To           []string          `json:"to"`
	CC           []string          `json:"cc,omitempty"`
	BCC          []string          `json:"bcc,omitempty"`
	Subject      string            `json:"subject,omitempty"`
	TextBody     string            `json:"text,omitempty"`
	HTMLBody     string            `json:"html,omitempty"`
	TemplateID   string            `json:"templateId,omitempty"`
	TemplateData json.RawMessage   `json:"templateData,omitempty"`
	Headers      map[string]string `json:"headers,omitempty"`
	Tags         []string          `json:"tags,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	TrackOpens   *bool             `json:"trackOpens,omitempty"`
	TrackClicks  *bool             `json:"trackClicks,omitempty"`
	ScheduledAt  *time.Time        `json:"scheduledAt,omitempty"`
}

// CreateResult is returned to the caller once the message is stored.
// Rejected lists recipients that are on the suppression list; they are
// dropped again at dispatch.
type CreateResult struct {
	MessageID   string               `json:"messageId"`
	Status      domain.MessageStatus `json:"status"`
	ScheduledAt *time.Time           `json:"scheduledAt,omitempty"`
	Rejected    []RejectedRecipient  `json:"rejected,omitempty"`
}

// RejectedRecipient is one recipient the message will not be sent to.
type RejectedRecipient struct {
	Email  string `json:"email"`
	Code   string `json:"code"`
	Reason string `json:"reason,omitempty"`
}

// RejectCodeSuppressed marks a recipient found on the suppression list.
const RejectCodeSuppressed = "suppressed"

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidMessage, fmt.Sprintf(format, args...))
}

func normalizeList(field string, in []string, max int) ([]string, error) {
	if len(in) > max {
		return nil, invalid("%s accepts at most %d addresses", field, max)
	}
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, a := range in {
		n, err := suppression.NormalizeEmail(a)
		if err != nil {
			return nil, invalid("%s: %q is not a valid address", field, a)
		}
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out, nil
}

// Create validates a send request and stores it as queued, or scheduled when
// ScheduledAt is in the future.
func (s *Service) Create(ctx context.Context, domainID string, req *CreateRequest) (*CreateResult, error) {
	from, err := suppression.NormalizeEmail(req.From)
	if err != nil {
		return nil, invalid("from: %q is not a valid address", req.From)
	}
	var replyTo string
	if req.ReplyTo != "" {
		if replyTo, err = suppression.NormalizeEmail(req.ReplyTo); err != nil {
			return nil, invalid("replyTo: %q is not a valid address", req.ReplyTo)
		}
	}
	if len(req.To) == 0 {
		return nil, invalid("at least one recipient is required")
	}
	to, err := normalizeList("to", req.To, MaxTo)
	if err != nil {
		return nil, err
	}
	cc, err := normalizeList("cc", req.CC, MaxCCOrBCC)
	if err != nil {
		return nil, err
	}
	bcc, err := normalizeList("bcc", req.BCC, MaxCCOrBCC)
	if err != nil {
		return nil, err
	}

	if len(req.Subject) > MaxSubjectLen {
		return nil, invalid("subject exceeds %d characters", MaxSubjectLen)
	}
	if len(req.HTMLBody) > MaxBodyBytes || len(req.TextBody) > MaxBodyBytes {
		return nil, invalid("body exceeds %d bytes", MaxBodyBytes)
	}
	if req.TemplateID == "" {
		if strings.TrimSpace(req.Subject) == "" {
			return nil, invalid("subject is required")
		}
		if req.HTMLBody == "" && req.TextBody == "" {
			return nil, invalid("html or text content is required")
		}
	} else {
		if _, err := uuid.Parse(req.TemplateID); err != nil {
			return nil, invalid("templateId must be a UUID")
		}
		if s.templates == nil {
			return nil, ErrTemplateNotFound
		}
		tpl, err := s.templates.GetTemplate(ctx, domainID, req.TemplateID)
		if err != nil {
			return nil, fmt.Errorf("lookup template: %w", err)
		}
		if tpl == nil {
			return nil, ErrTemplateNotFound
		}
	}
	if len(req.TemplateData) > 0 && !json.Valid(req.TemplateData) {
		return nil, invalid("templateData is not valid JSON")
	}

	if len(req.Tags) > MaxTags {
		return nil, invalid("at most %d tags are allowed", MaxTags)
	}
	for _, t := range req.Tags {
		if t == "" || len(t) > MaxTagLen {
			return nil, invalid("tags must be 1-%d characters", MaxTagLen)
		}
	}

	now := s.now().UTC()
	status := domain.StatusQueued
	var scheduledAt *time.Time
	if req.ScheduledAt != nil {
		at := req.ScheduledAt.UTC()
		if at.After(now.Add(MaxScheduleAhead)) {
			return nil, invalid("scheduledAt must be within %s", MaxScheduleAhead)
		}
		if at.After(now) {
			status = domain.StatusScheduled
			scheduledAt = &at
		}
	}

	m := &domain.Message{
		ID:           uuid.New().String(),
		DomainID:     domainID,
		FromEmail:    from,
		FromName:     strings.TrimSpace(req.FromName),
		ReplyTo:      replyTo,
		To:           to,
		CC:           cc,
		BCC:          bcc,
		Subject:      req.Subject,
		TextBody:     req.TextBody,
		HTMLBody:     req.HTMLBody,
		TemplateID:   req.TemplateID,
		TemplateData: req.TemplateData,
		Headers:      req.Headers,
		Tags:         req.Tags,
		Metadata:     req.Metadata,
		TrackOpens:   req.TrackOpens == nil || *req.TrackOpens,
		TrackClicks:  req.TrackClicks == nil || *req.TrackClicks,
		Status:       status,
		ScheduledAt:  scheduledAt,
		QueuedAt:     now,
	}
	if scheduledAt != nil {
		m.NextAttemptAt = *scheduledAt
	} else {
		m.NextAttemptAt = now
	}

	recipients := uniqueRecipients(m)
	rejected := s.suppressedRecipients(ctx, domainID, recipients)
	if len(rejected) > 0 && len(rejected) == len(recipients) {
		m.Status = domain.StatusSuppressed
		m.ScheduledAt = nil
		m.SuppressedRecipients = make([]string, len(rejected))
		for i, r := range rejected {
			m.SuppressedRecipients[i] = r.Email
		}
	}

	if err := s.repo.Create(ctx, m); err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}
	return &CreateResult{MessageID: m.ID, Status: m.Status, ScheduledAt: m.ScheduledAt, Rejected: rejected}, nil
}

func uniqueRecipients(m *domain.Message) []string {
	all := m.Recipients()
	out := all[:0]
	seen := make(map[string]bool, len(all))
	for _, r := range all {
		if !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	return out
}

// suppressedRecipients returns the recipients on the domain's suppression
// list. A failed lookup accepts everyone.
func (s *Service) suppressedRecipients(ctx context.Context, domainID string, recipients []string) []RejectedRecipient {
	if s.suppressions == nil || len(recipients) == 0 {
		return nil
	}
	var rejected []RejectedRecipient
	for start := 0; start < len(recipients); start += suppression.MaxBulk {
		end := start + suppression.MaxBulk
		if end > len(recipients) {
			end = len(recipients)
		}
		chunk := recipients[start:end]
		statuses, err := s.suppressions.CheckMultiple(ctx, domainID, chunk)
		if err != nil {
			logger.Warn("suppression check failed, accepting all recipients", "domain_id", domainID, "error", err)
			return nil
		}
		for _, email := range chunk {
			if st, ok := statuses[email]; ok && st.Suppressed {
				rejected = append(rejected, RejectedRecipient{Email: email, Code: RejectCodeSuppressed, Reason: string(st.Reason)})
			}
		}
	}
	return rejected
}

// Get returns a single message.
func (s *Service) Get(ctx context.Context, domainID, id string) (*domain.Message, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	return s.repo.Get(ctx, domainID, id)
}

// List returns messages matching the filter.
func (s *Service) List(ctx context.Context, domainID string, filter ListFilter) ([]domain.Message, int, error) {
	if filter.Status != "" && !domain.MessageStatus(filter.Status).IsValid() {
		return nil, 0, invalid("unknown status %q", filter.Status)
	}
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Limit > 500 {
		filter.Limit = 500
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	filter.Recipient = strings.ToLower(strings.TrimSpace(filter.Recipient))
	return s.repo.List(ctx, domainID, filter)
}

// Timeline is a message with its ordered event log.
type Timeline struct {
	Message *domain.Message `json:"message"`
	Events  []domain.Event  `json:"events"`
}

// Timeline returns a message and every event recorded for it.
func (s *Service) Timeline(ctx context.Context, domainID, id string) (*Timeline, error) {
	m, err := s.Get(ctx, domainID, id)
	if err != nil {
		return nil, err
	}
	events, err := s.repo.Events(ctx, m.ID)
	if err != nil {
		return nil, fmt.Errorf("message events: %w", err)
	}
	if events == nil {
		events = []domain.Event{}
	}
	return &Timeline{Message: m, Events: events}, nil
}

// Cancel stops a message that has not been handed to the transport yet.
func (s *Service) Cancel(ctx context.Context, domainID, id string) (*domain.Message, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	return s.repo.Cancel(ctx, domainID, id)
}
