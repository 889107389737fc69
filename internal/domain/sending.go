package domain

import "time"

// TransportType identifies the delivery transport that accepted a message.
type TransportType string

const (
	TransportSES   TransportType = "ses"
	TransportRelay TransportType = "relay"
	TransportLog   TransportType = "log"
)

// Envelope is the fully-resolved message handed to a transport. By the time
// a message reaches this struct, suppressed recipients are gone and template
// rendering plus tracking injection are complete.
type Envelope struct {
	MessageID   string            `json:"message_id"`
	DomainID    string            `json:"domain_id"`
	FromEmail   string            `json:"from_email"`
	FromName    string            `json:"from_name,omitempty"`
	ReplyTo     string            `json:"reply_to,omitempty"`
	To          []string          `json:"to"`
	CC          []string          `json:"cc,omitempty"`
	BCC         []string          `json:"bcc,omitempty"`
	Subject     string            `json:"subject"`
	HTMLContent string            `json:"html_content,omitempty"`
	TextContent string            `json:"text_content,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Category    string            `json:"category,omitempty"`
}

// SendResult is returned by a transport after it accepted a message.
type SendResult struct {
	TransportMessageID string        `json:"transport_message_id"`
	Transport          TransportType `json:"transport"`
	SentAt             time.Time     `json:"sent_at"`
}

// Template is stored content referenced by a message's template_id.
type Template struct {
	ID       string `json:"id"`
	DomainID string `json:"domain_id"`
	Subject  string `json:"subject"`
	HTMLBody string `json:"html_body"`
	TextBody string `json:"text_body"`
}
