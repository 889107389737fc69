package event

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/txmail/internal/domain"
	"github.com/ignite/txmail/internal/pkg/logger"
)

// Periods accepted by GetTimeSeries.
var validPeriods = map[string]bool{"hour": true, "day": true, "week": true, "month": true}

// Service validates, classifies and records events.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates an event service backed by the given repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// IngestRequest is an externally reported event: a transport callback, a
// tracking hit or a feedback-loop notification. Either MessageID or
// TransportMessageID identifies the message.
type IngestRequest struct {
	MessageID          string             `json:"messageId,omitempty"`
	TransportMessageID string             `json:"transportMessageId,omitempty"`
	Type               domain.EventType   `json:"eventType"`
	Recipient          string             `json:"recipient,omitempty"`
	Timestamp          *time.Time         `json:"timestamp,omitempty"`
	BounceType         domain.BounceClass `json:"bounceType,omitempty"`
	BounceCode         string             `json:"bounceCode,omitempty"`
	SMTPResponse       string             `json:"smtpResponse,omitempty"`
	URL                string             `json:"url,omitempty"`
	UserAgent          string             `json:"userAgent,omitempty"`
	IP                 string             `json:"ip,omitempty"`
	Geo                *domain.GeoInfo    `json:"geo,omitempty"`
	Device             *domain.DeviceInfo `json:"device,omitempty"`
	Metadata           map[string]string  `json:"metadata,omitempty"`
}

// IngestResult acknowledges an ingested event. Duplicate is set when a
// single-fire event had already been recorded.
type IngestResult struct {
	EventID   string `json:"eventId,omitempty"`
	Duplicate bool   `json:"duplicate"`
}

// Ingest resolves the message an external event refers to, classifies
// bounces and records it. domainID scopes the lookup; internal callers that
// are already trusted (queue consumers) pass "".
func (s *Service) Ingest(ctx context.Context, domainID string, req *IngestRequest) (*IngestResult, error) {
	if !req.Type.IsValid() {
		return nil, fmt.Errorf("%w: unknown event type %q", ErrInvalidEvent, req.Type)
	}

	var (
		m   *domain.Message
		err error
	)
	switch {
	case req.MessageID != "":
		if _, perr := uuid.Parse(req.MessageID); perr != nil {
			return nil, fmt.Errorf("%w: messageId must be a UUID", ErrInvalidEvent)
		}
		m, err = s.repo.Message(ctx, req.MessageID)
	case req.TransportMessageID != "":
		m, err = s.repo.MessageByTransportID(ctx, req.TransportMessageID)
	default:
		return nil, fmt.Errorf("%w: messageId is required", ErrInvalidEvent)
	}
	if err != nil {
		return nil, err
	}
	if domainID != "" && m.DomainID != domainID {
		return nil, ErrMessageNotFound
	}

	recipient := strings.ToLower(strings.TrimSpace(req.Recipient))
	if recipient == "" {
		recipient = m.PrimaryRecipient()
	} else if !hasRecipient(m, recipient) {
		return nil, fmt.Errorf("%w: %s is not a recipient of this message", ErrInvalidEvent, logger.RedactEmail(recipient))
	}

	e := &domain.Event{
		MessageID:    m.ID,
		DomainID:     m.DomainID,
		Type:         req.Type,
		Recipient:    recipient,
		Category:     m.Category(),
		Metadata:     req.Metadata,
		BounceCode:   req.BounceCode,
		SMTPResponse: req.SMTPResponse,
		URL:          req.URL,
		UserAgent:    req.UserAgent,
		IP:           req.IP,
		Geo:          req.Geo,
		Device:       req.Device,
	}
	if req.Timestamp != nil {
		e.OccurredAt = req.Timestamp.UTC()
	}
	if e.Type == domain.EventBounced || e.Type == domain.EventDeferred {
		e.BounceClass = req.BounceType
		if e.Type == domain.EventBounced && e.BounceClass == "" {
			e.BounceClass = ClassifyBounce(req.BounceCode, req.SMTPResponse)
		}
	}

	err = s.Record(ctx, e)
	if errors.Is(err, ErrDuplicate) {
		return &IngestResult{Duplicate: true}, nil
	}
	if err != nil {
		return nil, err
	}
	return &IngestResult{EventID: e.ID}, nil
}

func hasRecipient(m *domain.Message, email string) bool {
	for _, r := range m.Recipients() {
		if r == email {
			return true
		}
	}
	return false
}

// Record validates e and stores it together with its side effects.
func (s *Service) Record(ctx context.Context, e *domain.Event) error {
	if !e.Type.IsValid() {
		return fmt.Errorf("%w: unknown event type %q", ErrInvalidEvent, e.Type)
	}
	if e.MessageID == "" || e.DomainID == "" {
		return fmt.Errorf("%w: message and domain are required", ErrInvalidEvent)
	}
	if e.Recipient == "" {
		return fmt.Errorf("%w: recipient is required", ErrInvalidEvent)
	}
	switch e.BounceClass {
	case "", domain.BounceHard, domain.BounceSoft, domain.BounceBlock:
	default:
		return fmt.Errorf("%w: unknown bounce type %q", ErrInvalidEvent, e.BounceClass)
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = s.now().UTC()
	}
	if e.Category == "" {
		e.Category = domain.DefaultCategory
	}

	if err := s.repo.Record(ctx, e, SuppressionFor(e)); err != nil {
		if errors.Is(err, ErrDuplicate) || errors.Is(err, ErrMessageNotFound) || errors.Is(err, ErrNotSent) {
			return err
		}
		return fmt.Errorf("record event: %w", err)
	}
	logger.Debug("event recorded", "event_id", e.ID, "type", string(e.Type), "message_id", e.MessageID, "recipient", e.Recipient)
	return nil
}

// ClassifyBounce derives a bounce class from an SMTP code when the reporter
// did not supply one: 5xx is permanent, anything else is treated as soft.
func ClassifyBounce(code, smtpResponse string) domain.BounceClass {
	c := strings.TrimSpace(code)
	if c == "" {
		c = strings.TrimSpace(smtpResponse)
	}
	if len(c) > 0 && c[0] == '5' {
		return domain.BounceHard
	}
	return domain.BounceSoft
}

// SuppressionFor returns the suppression an event implies, or nil. Soft
// bounces suppress temporarily.
func SuppressionFor(e *domain.Event) *domain.Suppression {
	s := &domain.Suppression{
		DomainID:  e.DomainID,
		Email:     e.Recipient,
		MessageID: e.MessageID,
	}
	switch e.Type {
	case domain.EventBounced:
		s.Reason = domain.ReasonBounce
		s.Source = domain.SourceBounce
		s.BounceClass = e.BounceClass
		s.Description = strings.TrimSpace(strings.Join(nonEmpty(e.BounceCode, e.SMTPResponse), " "))
		if e.BounceClass == domain.BounceSoft {
			exp := e.OccurredAt.Add(domain.SoftBounceTTL)
			s.ExpiresAt = &exp
		}
	case domain.EventSpamReport:
		s.Reason = domain.ReasonSpamComplaint
		s.Source = domain.SourceFeedback
	case domain.EventUnsubscribed:
		s.Reason = domain.ReasonUnsubscribe
		s.Source = domain.SourceTracking
	default:
		return nil
	}
	return s
}

func nonEmpty(parts ...string) []string {
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// GetByMessage returns a message's events ordered by occurrence.
func (s *Service) GetByMessage(ctx context.Context, messageID string) ([]domain.Event, error) {
	events, err := s.repo.ByMessage(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("events by message: %w", err)
	}
	if events == nil {
		events = []domain.Event{}
	}
	return events, nil
}

// GetAggregatedCounts returns a count per event type in [from, to). Every
// type is present, zero when nothing happened.
func (s *Service) GetAggregatedCounts(ctx context.Context, domainID string, from, to time.Time) (map[domain.EventType]int64, error) {
	if !to.After(from) {
		return nil, fmt.Errorf("%w: end must be after start", ErrInvalidEvent)
	}
	counts, err := s.repo.CountsByType(ctx, domainID, from, to)
	if err != nil {
		return nil, fmt.Errorf("aggregate events: %w", err)
	}
	out := make(map[domain.EventType]int64, len(domain.AllEventTypes))
	for _, t := range domain.AllEventTypes {
		out[t] = counts[t]
	}
	return out, nil
}

// GetTimeSeries buckets events of one type by period (hour, day, week, month).
func (s *Service) GetTimeSeries(ctx context.Context, domainID string, t domain.EventType, from, to time.Time, period string) ([]Point, error) {
	if !t.IsValid() {
		return nil, fmt.Errorf("%w: unknown event type %q", ErrInvalidEvent, t)
	}
	if !validPeriods[period] {
		return nil, fmt.Errorf("%w: unknown period %q", ErrInvalidEvent, period)
	}
	if !to.After(from) {
		return nil, fmt.Errorf("%w: end must be after start", ErrInvalidEvent)
	}
	points, err := s.repo.TimeSeries(ctx, domainID, t, from, to, period)
	if err != nil {
		return nil, fmt.Errorf("event time series: %w", err)
	}
	if points == nil {
		points = []Point{}
	}
	return points, nil
}
