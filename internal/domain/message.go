package domain

import (
	"encoding/json"
	"time"
)

// MessageStatus enumerates the lifecycle states of a transactional message.
type MessageStatus string

const (
	StatusQueued     MessageStatus = "queued"
	StatusScheduled  MessageStatus = "scheduled"
	StatusSending    MessageStatus = "sending"
	StatusSent       MessageStatus = "sent"
	StatusDelivered  MessageStatus = "delivered"
	StatusOpened     MessageStatus = "opened"
	StatusClicked    MessageStatus = "clicked"
	StatusBounced    MessageStatus = "bounced"
	StatusSuppressed MessageStatus = "suppressed"
	StatusFailed     MessageStatus = "failed"
)

// transitions is the legal state graph. Anything not listed is rejected.
var transitions = map[MessageStatus][]MessageStatus{
	StatusQueued:    {StatusScheduled, StatusSending, StatusSuppressed, StatusFailed},
	StatusScheduled: {StatusSending, StatusSuppressed, StatusFailed},
	StatusSending:   {StatusSent, StatusBounced, StatusFailed},
	StatusSent:      {StatusDelivered, StatusOpened, StatusClicked, StatusBounced},
	StatusDelivered: {StatusOpened, StatusClicked},
	StatusOpened:    {StatusClicked},
}

// CanTransition reports whether a message may move from one status to another.
func CanTransition(from, to MessageStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsValid returns true for a known status value.
func (s MessageStatus) IsValid() bool {
	switch s {
	case StatusQueued, StatusScheduled, StatusSending, StatusSent, StatusDelivered,
		StatusOpened, StatusClicked, StatusBounced, StatusSuppressed, StatusFailed:
		return true
	}
	return false
}

// IsTerminal returns true if no further status change is possible.
func (s MessageStatus) IsTerminal() bool {
	return len(transitions[s]) == 0
}

// IsPending returns true while the message has not been handed to the transport.
func (s MessageStatus) IsPending() bool {
	return s == StatusQueued || s == StatusScheduled
}

// Advance returns the status a message should hold after an event of the given
// type is recorded, and whether it changed. Events that would move the message
// backward (a late delivered after opened) leave the status untouched.
func Advance(current MessageStatus, ev EventType) (MessageStatus, bool) {
	var target MessageStatus
	switch ev {
	case EventSent:
		target = StatusSent
	case EventDelivered:
		target = StatusDelivered
	case EventOpened:
		target = StatusOpened
	case EventClicked:
		target = StatusClicked
	case EventBounced:
		target = StatusBounced
	default:
		return current, false
	}
	if !CanTransition(current, target) {
		return current, false
	}
	return target, true
}

// Message is a single transactional email and its lifecycle state.
type Message struct {
	ID                   string            `json:"id" db:"id"`
	DomainID             string            `json:"domain_id" db:"domain_id"`
	FromEmail            string            `json:"from_email" db:"from_email"`
	FromName             string            `json:"from_name,omitempty" db:"from_name"`
	ReplyTo              string            `json:"reply_to,omitempty" db:"reply_to"`
	To                   []string          `json:"to" db:"to_addrs"`
	CC                   []string          `json:"cc,omitempty" db:"cc_addrs"`
	BCC                  []string          `json:"bcc,omitempty" db:"bcc_addrs"`
	Subject              string            `json:"subject" db:"subject"`
	TextBody             string            `json:"text_body,omitempty" db:"text_body"`
	HTMLBody             string            `json:"html_body,omitempty" db:"html_body"`
	TemplateID           string            `json:"template_id,omitempty" db:"template_id"`
	TemplateData         json.RawMessage   `json:"template_data,omitempty" db:"template_data"`
	Headers              map[string]string `json:"headers,omitempty" db:"headers"`
	Tags                 []string          `json:"tags,omitempty" db:"tags"`
	Metadata             map[string]string `json:"metadata,omitempty" db:"metadata"`
	TrackOpens           bool              `json:"track_opens" db:"track_opens"`
	TrackClicks          bool              `json:"track_clicks" db:"track_clicks"`
	Status               MessageStatus     `json:"status" db:"status"`
	SuppressedRecipients []string          `json:"suppressed_recipients,omitempty" db:"suppressed_recipients"`
	Attempts             int               `json:"attempts" db:"attempts"`
	LastError            string            `json:"last_error,omitempty" db:"last_error"`
	TransportMessageID   string            `json:"transport_message_id,omitempty" db:"transport_message_id"`

	ScheduledAt   *time.Time `json:"scheduled_at,omitempty" db:"scheduled_at"`
	QueuedAt      time.Time  `json:"queued_at" db:"queued_at"`
	NextAttemptAt time.Time  `json:"-" db:"next_attempt_at"`
	SentAt        *time.Time `json:"sent_at,omitempty" db:"sent_at"`
	DeliveredAt   *time.Time `json:"delivered_at,omitempty" db:"delivered_at"`
	OpenedAt      *time.Time `json:"opened_at,omitempty" db:"opened_at"`
	ClickedAt     *time.Time `json:"clicked_at,omitempty" db:"clicked_at"`
	BouncedAt     *time.Time `json:"bounced_at,omitempty" db:"bounced_at"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
}

// Recipients returns every envelope address (to, cc, bcc) in order.
func (m *Message) Recipients() []string {
	out := make([]string, 0, len(m.To)+len(m.CC)+len(m.BCC))
	out = append(out, m.To...)
	out = append(out, m.CC...)
	return append(out, m.BCC...)
}

// Category is the analytics bucket of a message: its first tag, or "default".
func (m *Message) Category() string {
	if len(m.Tags) > 0 && m.Tags[0] != "" {
		return m.Tags[0]
	}
	return DefaultCategory
}

// PrimaryRecipient is the address events are attributed to when the caller
// does not name one.
func (m *Message) PrimaryRecipient() string {
	if len(m.To) > 0 {
		return m.To[0]
	}
	if len(m.CC) > 0 {
		return m.CC[0]
	}
	if len(m.BCC) > 0 {
		return m.BCC[0]
	}
	return ""
}

// WithoutRecipients returns a copy of the envelope with the given addresses removed.
func (m *Message) WithoutRecipients(drop map[string]bool) Message {
	cp := *m
	cp.To = filterAddrs(m.To, drop)
	cp.CC = filterAddrs(m.CC, drop)
	cp.BCC = filterAddrs(m.BCC, drop)
	return cp
}

func filterAddrs(addrs []string, drop map[string]bool) []string {
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if !drop[a] {
			out = append(out, a)
		}
	}
	return out
}

// DefaultCategory is used for messages without tags.
const DefaultCategory = "default"
