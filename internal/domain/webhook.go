package domain

import "time"

// Webhook is a subscriber endpoint that receives signed event payloads.
type Webhook struct {
	ID            string      `json:"id" db:"id"`
	DomainID      string      `json:"domain_id" db:"domain_id"`
	URL           string      `json:"url" db:"url"`
	Events        []EventType `json:"events" db:"events"`
	Secret        string      `json:"secret,omitempty" db:"secret"`
	Description   string      `json:"description,omitempty" db:"description"`
	IsActive      bool        `json:"is_active" db:"is_active"`
	FailureCount  int         `json:"failure_count" db:"failure_count"`
	LastTriggered *time.Time  `json:"last_triggered,omitempty" db:"last_triggered"`
	LastError     string      `json:"last_error,omitempty" db:"last_error"`
	CreatedAt     time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at" db:"updated_at"`
}

// Subscribes reports whether the webhook wants events of type t.
func (w *Webhook) Subscribes(t EventType) bool {
	for _, e := range w.Events {
		if e == t {
			return true
		}
	}
	return false
}

// WebhookDelivery is one attempt to POST an event to a webhook.
type WebhookDelivery struct {
	ID         string    `json:"id"`
	WebhookID  string    `json:"webhook_id"`
	EventID    string    `json:"event_id"`
	Attempt    int       `json:"attempt"`
	StatusCode int       `json:"status_code,omitempty"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// WebhookPayload is the JSON body delivered to subscribers. Consumers should
// deduplicate on EventID: delivery is at-least-once.
type WebhookPayload struct {
	EventID      string            `json:"eventId"`
	EventType    EventType         `json:"eventType"`
	MessageID    string            `json:"messageId"`
	Recipient    string            `json:"recipient"`
	Timestamp    time.Time         `json:"timestamp"`
	Category     string            `json:"category,omitempty"`
	URL          string            `json:"url,omitempty"`
	BounceClass  BounceClass       `json:"bounceType,omitempty"`
	BounceCode   string            `json:"bounceCode,omitempty"`
	SMTPResponse string            `json:"smtpResponse,omitempty"`
	UserAgent    string            `json:"userAgent,omitempty"`
	IP           string            `json:"ip,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// NewWebhookPayload builds the subscriber payload for an event, carrying only
// the fields relevant to its type.
func NewWebhookPayload(e *Event) WebhookPayload {
	p := WebhookPayload{
		EventID:   e.ID,
		EventType: e.Type,
		MessageID: e.MessageID,
		Recipient: e.Recipient,
		Timestamp: e.OccurredAt.UTC(),
		Category:  e.Category,
		Metadata:  e.Metadata,
	}
	switch e.Type {
	case EventBounced, EventDeferred, EventDropped:
		p.BounceClass = e.BounceClass
		p.BounceCode = e.BounceCode
		p.SMTPResponse = e.SMTPResponse
	case EventClicked:
		p.URL = e.URL
		p.UserAgent = e.UserAgent
		p.IP = e.IP
	case EventOpened:
		p.UserAgent = e.UserAgent
		p.IP = e.IP
	}
	return p
}
