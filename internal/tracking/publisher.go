package tracking

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/ignite/txmail/internal/domain"
	"github.com/ignite/txmail/internal/pkg/logger"
	"github.com/ignite/txmail/internal/service/event"
)

// Hit is one open, click or unsubscribe recorded by the tracking endpoints.
type Hit struct {
	Type       domain.EventType `json:"event_type"`
	MessageID  string           `json:"message_id"`
	Recipient  string           `json:"recipient"`
	URL        string           `json:"url,omitempty"`
	IPAddress  string           `json:"ip_address"`
	UserAgent  string           `json:"user_agent"`
	DeviceType string           `json:"device_type,omitempty"`
	Timestamp  time.Time        `json:"timestamp"`
}

// IngestRequest converts the hit into an event ingestion request.
func (h Hit) IngestRequest() *event.IngestRequest {
	ts := h.Timestamp
	req := &event.IngestRequest{
		MessageID: h.MessageID,
		Type:      h.Type,
		Recipient: h.Recipient,
		Timestamp: &ts,
		URL:       h.URL,
		UserAgent: h.UserAgent,
		IP:        h.IPAddress,
	}
	if h.DeviceType != "" {
		req.Device = &domain.DeviceInfo{Type: h.DeviceType}
	}
	return req
}

// Sink receives hits from the HTTP handler.
type Sink interface {
	Record(ctx context.Context, h Hit) error
}

// Ingester is the event service entry point hits end up in.
type Ingester interface {
	Ingest(ctx context.Context, domainID string, req *event.IngestRequest) (*event.IngestResult, error)
}

// DirectSink records hits synchronously. Used when no queue is configured.
type DirectSink struct{ ingester Ingester }

// NewDirectSink creates a sink that writes straight to the event log.
func NewDirectSink(ingester Ingester) *DirectSink { return &DirectSink{ingester: ingester} }

func (d *DirectSink) Record(ctx context.Context, h Hit) error {
	_, err := d.ingester.Ingest(ctx, "", h.IngestRequest())
	return err
}

// SQSAPI is the subset of the SQS client used here.
type SQSAPI interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// Publisher sends hits to SQS so the request path never waits on the
// database. Publishing is fire-and-forget.
type Publisher struct {
	client   SQSAPI
	queueURL string
	timeout  time.Duration
}

// NewPublisher creates a Publisher for queueURL.
func NewPublisher(client SQSAPI, queueURL string) *Publisher {
	return &Publisher{client: client, queueURL: queueURL, timeout: 5 * time.Second}
}

func (p *Publisher) Record(_ context.Context, h Hit) error {
	body, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("marshal tracking hit: %w", err)
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()

		_, err := p.client.SendMessage(ctx, &sqs.SendMessageInput{
			QueueUrl:    aws.String(p.queueURL),
			MessageBody: aws.String(string(body)),
		})
		if err != nil {
			logger.Error("tracking: publish to SQS failed", "type", string(h.Type), "message_id", h.MessageID, "error", err)
		}
	}()
	return nil
}
