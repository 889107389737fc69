package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/txmail/internal/domain"
	"github.com/ignite/txmail/internal/pkg/httpretry"
	"github.com/ignite/txmail/internal/pkg/logger"
	"github.com/ignite/txmail/internal/service/sending"
)

// RelayConfig configures the HTTP relay transport.
type RelayConfig struct {
	URL        string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
}

// RelaySender posts envelopes as JSON to an HTTP mail relay. Transient
// failures are retried inside the request; 4xx answers are permanent.
type RelaySender struct {
	url    string
	apiKey string
	client httpretry.HTTPDoer
	now    func() time.Time
}

// NewRelaySender creates a relay sender.
func NewRelaySender(cfg RelayConfig) *RelaySender {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &RelaySender{
		url:    cfg.URL,
		apiKey: cfg.APIKey,
		client: httpretry.NewRetryClient(&http.Client{Timeout: cfg.Timeout}, cfg.MaxRetries),
		now:    time.Now,
	}
}

type relayResponse struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// Send implements sending.Sender.
func (s *RelaySender) Send(ctx context.Context, env *domain.Envelope) (*domain.SendResult, error) {
	body, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build relay request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", env.MessageID)
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("relay request: %w", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var rr relayResponse
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &rr); err != nil {
			logger.Debug("relay response is not JSON", "message_id", env.MessageID, "status", resp.StatusCode, "error", err)
		}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	case resp.StatusCode >= 400 && resp.StatusCode < 500 &&
		resp.StatusCode != http.StatusRequestTimeout && resp.StatusCode != http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: relay returned %d: %s", sending.ErrRejected, resp.StatusCode, relayError(rr, raw))
	default:
		return nil, fmt.Errorf("relay returned %d: %s", resp.StatusCode, relayError(rr, raw))
	}

	id := rr.ID
	if id == "" {
		id = uuid.New().String()
	}
	logger.Debug("relay accepted message", "message_id", env.MessageID, "relay_id", id)
	return &domain.SendResult{
		TransportMessageID: id,
		Transport:          domain.TransportRelay,
		SentAt:             s.now().UTC(),
	}, nil
}

func relayError(rr relayResponse, raw []byte) string {
	if rr.Error != "" {
		return rr.Error
	}
	if len(raw) > 200 {
		raw = raw[:200]
	}
	return string(raw)
}
