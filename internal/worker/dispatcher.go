package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ignite/txmail/internal/domain"
	"github.com/ignite/txmail/internal/pkg/backoff"
	"github.com/ignite/txmail/internal/pkg/logger"
	"github.com/ignite/txmail/internal/service/sending"
)

// Renderer turns a stored message into a transport envelope.
type Renderer interface {
	Render(ctx context.Context, m *domain.Message) (*domain.Envelope, error)
}

// DispatcherConfig tunes one Dispatcher.
type DispatcherConfig struct {
	PollInterval time.Duration
	BatchSize    int
	Concurrency  int
	SendTimeout  time.Duration
	MaxAttempts  int
	Backoff      backoff.Strategy
}

func (c *DispatcherConfig) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 10
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 30 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.Backoff == nil {
		c.Backoff = backoff.Default()
	}
}

// DispatcherStats is a snapshot of the dispatcher's counters.
type DispatcherStats struct {
	Claimed    int64 `json:"claimed"`
	Sent       int64 `json:"sent"`
	Bounced    int64 `json:"bounced"`
	Suppressed int64 `json:"suppressed"`
	Deferred   int64 `json:"deferred"`
	Failed     int64 `json:"failed"`
}

// Dispatcher moves due messages from queued/scheduled to the transport.
// Any number of dispatchers may poll the same database: the claim
// transaction's row locks are the only coordination between them.
type Dispatcher struct {
	repo     sending.Repository
	renderer Renderer
	sender   sending.Sender
	cfg      DispatcherConfig
	now      func() time.Time

	claimed    int64
	sent       int64
	bounced    int64
	suppressed int64
	deferred   int64
	failed     int64
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(repo sending.Repository, renderer Renderer, sender sending.Sender, cfg DispatcherConfig) *Dispatcher {
	cfg.applyDefaults()
	return &Dispatcher{repo: repo, renderer: renderer, sender: sender, cfg: cfg, now: time.Now}
}

// Stats returns the counters accumulated since start.
func (d *Dispatcher) Stats() DispatcherStats {
	return DispatcherStats{
		Claimed:    atomic.LoadInt64(&d.claimed),
		Sent:       atomic.LoadInt64(&d.sent),
		Bounced:    atomic.LoadInt64(&d.bounced),
		Suppressed: atomic.LoadInt64(&d.suppressed),
		Deferred:   atomic.LoadInt64(&d.deferred),
		Failed:     atomic.LoadInt64(&d.failed),
	}
}

// Run polls until ctx is cancelled. A full batch is followed immediately by
// another claim so a backlog drains without waiting for the ticker.
func (d *Dispatcher) Run(ctx context.Context) error {
	log.Printf("[Dispatcher] started (batch=%d, concurrency=%d, poll=%s)",
		d.cfg.BatchSize, d.cfg.Concurrency, d.cfg.PollInterval)
	defer log.Printf("[Dispatcher] stopped")

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		n, err := d.RunOnce(ctx)
		if err != nil && ctx.Err() == nil {
			logger.Error("dispatch cycle failed", "error", err)
		}
		if ctx.Err() != nil {
			return nil
		}
		if n == d.cfg.BatchSize && err == nil {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce claims and processes a single batch, returning how many messages
// were claimed.
func (d *Dispatcher) RunOnce(ctx context.Context) (int, error) {
	start := d.now()
	batch, err := d.repo.ClaimDue(ctx, d.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("claim due messages: %w", err)
	}
	msgs := batch.Messages()
	if len(msgs) == 0 {
		batch.Rollback()
		return 0, nil
	}
	committed := false
	defer func() {
		if !committed {
			batch.Rollback()
		}
	}()

	atomic.AddInt64(&d.claimed, int64(len(msgs)))
	dispatchClaimed.Add(float64(len(msgs)))

	outcomes, envelopes, err := d.prepare(ctx, batch, msgs)
	if err != nil {
		return len(msgs), err
	}

	var g errgroup.Group
	g.SetLimit(d.cfg.Concurrency)
	for i, env := range envelopes {
		if env == nil {
			continue
		}
		o := outcomes[i]
		env := env
		g.Go(func() error {
			d.send(ctx, o, env)
			return nil
		})
	}
	g.Wait()

	// Finalisation must run even when shutdown interrupted the sends,
	// otherwise accepted messages would be sent again.
	fctx := context.WithoutCancel(ctx)
	for _, o := range outcomes {
		if err := batch.Finalize(fctx, o); err != nil {
			logger.Error("dispatch finalize failed",
				"message_id", o.Message.ID, "outcome", o.Kind.String(), "error", err)
			o.Kind = 0
		}
	}
	if err := batch.Commit(); err != nil {
		return len(msgs), fmt.Errorf("commit dispatch batch: %w", err)
	}
	committed = true

	for _, o := range outcomes {
		d.count(o.Kind)
	}
	dispatchBatchDuration.Observe(d.now().Sub(start).Seconds())
	return len(msgs), nil
}

// prepare applies suppressions and renders every claimed message. It
// returns one outcome per message and an envelope for those still to send.
func (d *Dispatcher) prepare(ctx context.Context, batch sending.Batch, msgs []domain.Message) ([]*sending.Outcome, []*domain.Envelope, error) {
	byDomain := make(map[string][]string)
	for i := range msgs {
		byDomain[msgs[i].DomainID] = append(byDomain[msgs[i].DomainID], msgs[i].Recipients()...)
	}
	active := make(map[string]map[string]domain.Suppression, len(byDomain))
	for domainID, emails := range byDomain {
		s, err := batch.ActiveSuppressions(ctx, domainID, emails)
		if err != nil {
			return nil, nil, fmt.Errorf("check suppressions: %w", err)
		}
		active[domainID] = s
	}

	now := d.now().UTC()
	outcomes := make([]*sending.Outcome, len(msgs))
	envelopes := make([]*domain.Envelope, len(msgs))
	for i := range msgs {
		m := &msgs[i]
		o := &sending.Outcome{Message: m, Recipient: m.PrimaryRecipient(), At: now}
		outcomes[i] = o

		drop := make(map[string]bool)
		for _, r := range m.SuppressedRecipients {
			drop[r] = true
		}
		for _, r := range m.Recipients() {
			s, ok := active[m.DomainID][r]
			if !ok || drop[r] {
				continue
			}
			drop[r] = true
			o.Dropped = append(o.Dropped, sending.DroppedRecipient{Email: r, Reason: s.Reason})
		}

		trimmed := *m
		if len(drop) > 0 {
			trimmed = m.WithoutRecipients(drop)
		}
		if len(trimmed.Recipients()) == 0 {
			o.Kind = sending.OutcomeSuppressed
			continue
		}
		o.Recipient = trimmed.PrimaryRecipient()

		env, err := d.renderer.Render(ctx, &trimmed)
		if err != nil {
			if errors.Is(err, sending.ErrTemplateMissing) || errors.Is(err, sending.ErrRenderFailed) {
				o.Kind = sending.OutcomeFailed
				o.Error = err.Error()
			} else {
				d.retry(o, err)
			}
			continue
		}
		envelopes[i] = env
	}
	return outcomes, envelopes, nil
}

func (d *Dispatcher) send(ctx context.Context, o *sending.Outcome, env *domain.Envelope) {
	sctx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
	defer cancel()

	t0 := time.Now()
	res, err := d.sender.Send(sctx, env)
	switch {
	case err == nil:
		sendDuration.WithLabelValues("accepted").Observe(time.Since(t0).Seconds())
		o.Kind = sending.OutcomeSent
		o.Result = res
	case errors.Is(err, sending.ErrRejected):
		sendDuration.WithLabelValues("rejected").Observe(time.Since(t0).Seconds())
		o.Kind = sending.OutcomeRejected
		o.Error = err.Error()
		logger.Warn("transport rejected message", "message_id", env.MessageID, "error", err)
	default:
		sendDuration.WithLabelValues("error").Observe(time.Since(t0).Seconds())
		d.retry(o, err)
		logger.Warn("transport send failed", "message_id", env.MessageID,
			"attempt", o.Message.Attempts+1, "error", err)
	}
}

// retry defers the message with backoff, or fails it once MaxAttempts is
// reached.
func (d *Dispatcher) retry(o *sending.Outcome, err error) {
	attempt := o.Message.Attempts + 1
	if attempt >= d.cfg.MaxAttempts {
		o.Kind = sending.OutcomeFailed
		o.Error = fmt.Sprintf("giving up after %d attempts: %v", attempt, err)
		return
	}
	o.Kind = sending.OutcomeDeferred
	o.Error = err.Error()
	o.NextAttemptAt = d.now().UTC().Add(d.cfg.Backoff.Delay(attempt))
}

func (d *Dispatcher) count(k sending.OutcomeKind) {
	switch k {
	case sending.OutcomeSent:
		atomic.AddInt64(&d.sent, 1)
	case sending.OutcomeRejected:
		atomic.AddInt64(&d.bounced, 1)
	case sending.OutcomeSuppressed:
		atomic.AddInt64(&d.suppressed, 1)
	case sending.OutcomeDeferred:
		atomic.AddInt64(&d.deferred, 1)
	case sending.OutcomeFailed:
		atomic.AddInt64(&d.failed, 1)
	default:
		return
	}
	dispatchOutcomes.WithLabelValues(k.String()).Inc()
}
