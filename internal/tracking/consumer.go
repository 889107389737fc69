package tracking

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/ignite/txmail/internal/pkg/logger"
	"github.com/ignite/txmail/internal/service/event"
)

// Consumer drains an SQS queue of tracking hits and SES notifications into
// the event log. Messages are deleted once processed or found to be
// permanently unprocessable; anything else is left for redelivery.
type Consumer struct {
	client   SQSAPI
	queueURL string
	ingester Ingester
	name     string
}

// NewConsumer creates a consumer for queueURL. name labels log lines.
func NewConsumer(client SQSAPI, queueURL string, ingester Ingester, name string) *Consumer {
	return &Consumer{client: client, queueURL: queueURL, ingester: ingester, name: name}
}

// Run polls until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	log.Printf("[SQSConsumer:%s] started (queue=%s)", c.name, c.queueURL)
	defer log.Printf("[SQSConsumer:%s] stopped", c.name)

	for {
		if ctx.Err() != nil {
			return nil
		}
		out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(c.queueURL),
			MaxNumberOfMessages: 10,
			WaitTimeSeconds:     20,
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Error("sqs receive failed", "consumer", c.name, "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(5 * time.Second):
			}
			continue
		}

		for _, msg := range out.Messages {
			if c.handle(ctx, aws.ToString(msg.Body)) {
				c.delete(ctx, msg.ReceiptHandle)
			}
		}
	}
}

// handle reports whether the message should be deleted.
func (c *Consumer) handle(ctx context.Context, body string) bool {
	reqs, err := decodeBody([]byte(body))
	if errors.Is(err, errIgnored) {
		return true
	}
	if err != nil {
		logger.Warn("sqs bad message", "consumer", c.name, "error", err)
		return true
	}

	ok := true
	for _, req := range reqs {
		_, err := c.ingester.Ingest(ctx, "", req)
		switch {
		case err == nil:
		case errors.Is(err, event.ErrMessageNotFound), errors.Is(err, event.ErrInvalidEvent), errors.Is(err, event.ErrNotSent):
			logger.Warn("sqs event dropped", "consumer", c.name, "type", string(req.Type), "error", err)
		default:
			logger.Error("sqs event ingest failed", "consumer", c.name, "type", string(req.Type), "error", err)
			ok = false
		}
	}
	return ok
}

func (c *Consumer) delete(ctx context.Context, handle *string) {
	if _, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: handle,
	}); err != nil {
		logger.Warn("sqs delete failed", "consumer", c.name, "error", err)
	}
}
