package worker

import (
	"context"
	"fmt"

	"github.com/ignite/txmail/internal/config"
	"github.com/ignite/txmail/internal/service/sending"
)

// NewTransport builds the sender selected by cfg.Transport.Type.
func NewTransport(ctx context.Context, cfg *config.Config) (sending.Sender, error) {
	switch cfg.Transport.Type {
	case "ses":
		return NewSESSender(ctx, SESConfig{
			Region:           cfg.SES.Region,
			AccessKey:        cfg.SES.AccessKey,
			SecretKey:        cfg.SES.SecretKey,
			ConfigurationSet: cfg.SES.ConfigurationSet,
			MaxSendRate:      cfg.SES.MaxSendRate,
		})
	case "relay":
		if cfg.Relay.URL == "" {
			return nil, fmt.Errorf("relay transport requires relay.url")
		}
		return NewRelaySender(RelayConfig{
			URL:        cfg.Relay.URL,
			APIKey:     cfg.Relay.APIKey,
			Timeout:    cfg.Relay.Timeout(),
			MaxRetries: cfg.Relay.MaxRetries,
		}), nil
	case "log", "":
		return NewLogSender(), nil
	default:
		return nil, fmt.Errorf("unknown transport type %q", cfg.Transport.Type)
	}
}
