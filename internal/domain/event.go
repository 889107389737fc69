package domain

import "time"

// EventType enumerates lifecycle occurrences recorded in the event log.
type EventType string

const (
	EventSent         EventType = "sent"
	EventDelivered    EventType = "delivered"
	EventDeferred     EventType = "deferred"
	EventBounced      EventType = "bounced"
	EventDropped      EventType = "dropped"
	EventOpened       EventType = "opened"
	EventClicked      EventType = "clicked"
	EventSpamReport   EventType = "spam_report"
	EventUnsubscribed EventType = "unsubscribed"
)

// AllEventTypes lists every event type a webhook may subscribe to.
var AllEventTypes = []EventType{
	EventSent, EventDelivered, EventDeferred, EventBounced, EventDropped,
	EventOpened, EventClicked, EventSpamReport, EventUnsubscribed,
}

// IsValid returns true for a known event type.
func (t EventType) IsValid() bool {
	for _, e := range AllEventTypes {
		if e == t {
			return true
		}
	}
	return false
}

// SingleFire reports whether at most one event of this type may exist per
// message. Opens and clicks are recorded on every occurrence.
func (t EventType) SingleFire() bool {
	return t == EventSent || t == EventDelivered || t == EventBounced
}

// RequiresSend reports whether the event can only happen after the transport
// accepted the message.
func (t EventType) RequiresSend() bool {
	switch t {
	case EventDelivered, EventOpened, EventClicked, EventSpamReport, EventUnsubscribed:
		return true
	}
	return false
}

// Event is one immutable row of the event log. Only the webhook bookkeeping
// fields change after insert.
type Event struct {
	ID           string            `json:"id"`
	MessageID    string            `json:"message_id"`
	DomainID     string            `json:"domain_id"`
	Type         EventType         `json:"event_type"`
	Recipient    string            `json:"recipient"`
	OccurredAt   time.Time         `json:"timestamp"`
	Category     string            `json:"category,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	BounceClass  BounceClass       `json:"bounce_class,omitempty"`
	BounceCode   string            `json:"bounce_code,omitempty"`
	SMTPResponse string            `json:"smtp_response,omitempty"`
	URL          string            `json:"url,omitempty"`
	UserAgent    string            `json:"user_agent,omitempty"`
	IP           string            `json:"ip,omitempty"`
	Geo          *GeoInfo          `json:"geo,omitempty"`
	Device       *DeviceInfo       `json:"device,omitempty"`

	WebhookSent     bool       `json:"webhook_sent"`
	WebhookSentAt   *time.Time `json:"webhook_sent_at,omitempty"`
	WebhookAttempts int        `json:"-"`
	CreatedAt       time.Time  `json:"created_at"`
}

// GeoInfo is location data that arrives pre-computed with tracking events.
type GeoInfo struct {
	Country string `json:"country,omitempty"`
	City    string `json:"city,omitempty"`
}

// DeviceInfo is client data that arrives pre-computed with tracking events.
type DeviceInfo struct {
	Type    string `json:"type,omitempty"`
	OS      string `json:"os,omitempty"`
	Browser string `json:"browser,omitempty"`
}
