package worker

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/txmail/internal/domain"
	"github.com/ignite/txmail/internal/pkg/logger"
)

// LogSender accepts every envelope and only logs it. It is the transport
// for local development and test environments.
type LogSender struct{}

// NewLogSender creates a log-only transport.
func NewLogSender() *LogSender {
	log.Printf("[LogSender] WARNING: messages are logged, not delivered")
	return &LogSender{}
}

// Send implements sending.Sender.
func (LogSender) Send(_ context.Context, env *domain.Envelope) (*domain.SendResult, error) {
	logger.Info("message accepted by log transport",
		"message_id", env.MessageID,
		"recipients", logger.RedactAll(env.To),
		"subject", env.Subject)
	return &domain.SendResult{
		TransportMessageID: "log-" + uuid.New().String(),
		Transport:          domain.TransportLog,
		SentAt:             time.Now().UTC(),
	}, nil
}
