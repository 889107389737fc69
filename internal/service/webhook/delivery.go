package webhook

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ignite/txmail/internal/domain"
	"github.com/ignite/txmail/internal/pkg/httpretry"
)

// maxErrorBody bounds how much of a failed response is kept as last_error.
const maxErrorBody = 512

// Attempt is the outcome of one POST to a subscriber.
type Attempt struct {
	StatusCode int           `json:"statusCode,omitempty"`
	Success    bool          `json:"success"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"-"`
	DurationMS int64         `json:"durationMs"`
}

// Deliverer performs single delivery attempts. Retries happen across poll
// cycles, never inside one attempt.
type Deliverer struct {
	client  httpretry.HTTPDoer
	timeout time.Duration
	now     func() time.Time
}

// NewDeliverer creates a Deliverer. A nil client becomes a plain http.Client;
// timeout bounds each request.
func NewDeliverer(client httpretry.HTTPDoer, timeout time.Duration) *Deliverer {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &Deliverer{client: client, timeout: timeout, now: time.Now}
}

// Deliver signs body with the webhook's secret and POSTs it. Only a 2xx
// response counts as success.
func (d *Deliverer) Deliver(ctx context.Context, w *domain.Webhook, eventType, eventID string, body []byte) Attempt {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := d.now()
	ts := start.Unix()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return finish(Attempt{Error: fmt.Sprintf("build request: %v", err)}, start, d.now())
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set(HeaderSignature, Sign(w.Secret, ts, body))
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
	req.Header.Set(HeaderEvent, eventType)
	req.Header.Set(HeaderID, eventID)

	resp, err := d.client.Do(req)
	if err != nil {
		return finish(Attempt{Error: err.Error()}, start, d.now())
	}
	defer resp.Body.Close()

	a := Attempt{StatusCode: resp.StatusCode}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		a.Success = true
		io.Copy(io.Discard, resp.Body)
	} else {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		a.Error = fmt.Sprintf("HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
	return finish(a, start, d.now())
}

func finish(a Attempt, start, end time.Time) Attempt {
	a.Duration = end.Sub(start)
	a.DurationMS = a.Duration.Milliseconds()
	return a
}
