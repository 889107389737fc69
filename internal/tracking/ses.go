package tracking

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ignite/txmail/internal/domain"
	"github.com/ignite/txmail/internal/service/event"
)

// snsEnvelope wraps SES notifications delivered through an SNS topic.
type snsEnvelope struct {
	Type    string `json:"Type"`
	Message string `json:"Message"`
}

type sesRecipient struct {
	EmailAddress   string `json:"emailAddress"`
	Status         string `json:"status"`
	DiagnosticCode string `json:"diagnosticCode"`
}

// sesNotification covers both SES event publishing ("eventType") and the
// older identity notifications ("notificationType").
type sesNotification struct {
	EventType        string `json:"eventType"`
	NotificationType string `json:"notificationType"`
	Mail             struct {
		MessageID   string   `json:"messageId"`
		Destination []string `json:"destination"`
	} `json:"mail"`
	Bounce *struct {
		BounceType        string         `json:"bounceType"`
		BounceSubType     string         `json:"bounceSubType"`
		BouncedRecipients []sesRecipient `json:"bouncedRecipients"`
		Timestamp         time.Time      `json:"timestamp"`
	} `json:"bounce"`
	Complaint *struct {
		ComplainedRecipients  []sesRecipient `json:"complainedRecipients"`
		ComplaintFeedbackType string         `json:"complaintFeedbackType"`
		Timestamp             time.Time      `json:"timestamp"`
	} `json:"complaint"`
	Delivery *struct {
		Recipients   []string  `json:"recipients"`
		SMTPResponse string    `json:"smtpResponse"`
		Timestamp    time.Time `json:"timestamp"`
	} `json:"delivery"`
	DeliveryDelay *struct {
		DelayType         string         `json:"delayType"`
		DelayedRecipients []sesRecipient `json:"delayedRecipients"`
		Timestamp         time.Time      `json:"timestamp"`
	} `json:"deliveryDelay"`
}

var errIgnored = errors.New("notification ignored")

// decodeBody turns one queue message into ingestion requests. It accepts
// tracking hits, raw SES notifications and SNS-wrapped SES notifications.
func decodeBody(body []byte) ([]*event.IngestRequest, error) {
	var env snsEnvelope
	if err := json.Unmarshal(body, &env); err == nil && env.Type == "Notification" && env.Message != "" {
		body = []byte(env.Message)
	}

	var kind struct {
		EventType        string `json:"eventType"`
		NotificationType string `json:"notificationType"`
		EventTypeHit     string `json:"event_type"`
	}
	if err := json.Unmarshal(body, &kind); err != nil {
		return nil, fmt.Errorf("decode queue message: %w", err)
	}

	if kind.EventTypeHit != "" {
		var h Hit
		if err := json.Unmarshal(body, &h); err != nil {
			return nil, fmt.Errorf("decode tracking hit: %w", err)
		}
		return []*event.IngestRequest{h.IngestRequest()}, nil
	}

	var n sesNotification
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, fmt.Errorf("decode SES notification: %w", err)
	}
	return n.ingestRequests()
}

func (n *sesNotification) ingestRequests() ([]*event.IngestRequest, error) {
	kind := n.EventType
	if kind == "" {
		kind = n.NotificationType
	}
	if n.Mail.MessageID == "" {
		return nil, fmt.Errorf("SES %s notification without messageId", kind)
	}
	base := func(t domain.EventType, recipient string, ts time.Time) *event.IngestRequest {
		req := &event.IngestRequest{
			TransportMessageID: n.Mail.MessageID,
			Type:               t,
			Recipient:          strings.ToLower(recipient),
		}
		if !ts.IsZero() {
			req.Timestamp = &ts
		}
		return req
	}

	var out []*event.IngestRequest
	switch kind {
	case "Bounce":
		if n.Bounce == nil {
			return nil, fmt.Errorf("SES bounce notification without bounce object")
		}
		class := sesBounceClass(n.Bounce.BounceType)
		for _, r := range n.Bounce.BouncedRecipients {
			req := base(domain.EventBounced, r.EmailAddress, n.Bounce.Timestamp)
			req.BounceType = class
			req.BounceCode = r.Status
			req.SMTPResponse = r.DiagnosticCode
			req.Metadata = map[string]string{"bounce_sub_type": n.Bounce.BounceSubType}
			out = append(out, req)
		}
	case "Complaint":
		if n.Complaint == nil {
			return nil, fmt.Errorf("SES complaint notification without complaint object")
		}
		for _, r := range n.Complaint.ComplainedRecipients {
			req := base(domain.EventSpamReport, r.EmailAddress, n.Complaint.Timestamp)
			if n.Complaint.ComplaintFeedbackType != "" {
				req.Metadata = map[string]string{"feedback_type": n.Complaint.ComplaintFeedbackType}
			}
			out = append(out, req)
		}
	case "Delivery":
		if n.Delivery == nil {
			return nil, fmt.Errorf("SES delivery notification without delivery object")
		}
		// delivered is single-fire per message; the first recipient stands for all.
		recipient := ""
		if len(n.Delivery.Recipients) > 0 {
			recipient = n.Delivery.Recipients[0]
		}
		req := base(domain.EventDelivered, recipient, n.Delivery.Timestamp)
		req.SMTPResponse = n.Delivery.SMTPResponse
		out = append(out, req)
	case "DeliveryDelay":
		if n.DeliveryDelay == nil {
			return nil, fmt.Errorf("SES delay notification without deliveryDelay object")
		}
		for _, r := range n.DeliveryDelay.DelayedRecipients {
			req := base(domain.EventDeferred, r.EmailAddress, n.DeliveryDelay.Timestamp)
			req.BounceType = domain.BounceSoft
			req.BounceCode = r.Status
			req.SMTPResponse = r.DiagnosticCode
			req.Metadata = map[string]string{"delay_type": n.DeliveryDelay.DelayType}
			out = append(out, req)
		}
	default:
		return nil, errIgnored
	}
	return out, nil
}

// sesBounceClass maps SES bounce types; Undetermined is left for code-based
// classification.
func sesBounceClass(bounceType string) domain.BounceClass {
	switch bounceType {
	case "Permanent":
		return domain.BounceHard
	case "Transient":
		return domain.BounceSoft
	}
	return ""
}
