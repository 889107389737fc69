package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ignite/txmail/internal/domain"
	"github.com/ignite/txmail/internal/pkg/backoff"
	"github.com/ignite/txmail/internal/pkg/logger"
	"github.com/ignite/txmail/internal/service/webhook"
)

// WebhookDispatcherConfig tunes the fan-out loop.
type WebhookDispatcherConfig struct {
	PollInterval     time.Duration
	BatchSize        int
	Concurrency      int
	FailureThreshold int
	Backoff          backoff.Strategy
}

// WebhookDispatcher delivers recorded events to subscribed webhooks.
type WebhookDispatcher struct {
	repo      webhook.FanoutRepository
	deliverer *webhook.Deliverer
	cfg       WebhookDispatcherConfig
	now       func() time.Time
}

// NewWebhookDispatcher creates a fan-out worker.
func NewWebhookDispatcher(repo webhook.FanoutRepository, deliverer *webhook.Deliverer, cfg WebhookDispatcherConfig) *WebhookDispatcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 10
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 10
	}
	if cfg.Backoff == nil {
		cfg.Backoff = backoff.Default()
	}
	return &WebhookDispatcher{repo: repo, deliverer: deliverer, cfg: cfg, now: time.Now}
}

// Run polls until ctx is cancelled.
func (w *WebhookDispatcher) Run(ctx context.Context) error {
	log.Printf("[WebhookDispatcher] started (batch=%d, concurrency=%d, threshold=%d)",
		w.cfg.BatchSize, w.cfg.Concurrency, w.cfg.FailureThreshold)
	defer log.Printf("[WebhookDispatcher] stopped")

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		n, err := w.RunOnce(ctx)
		if err != nil && ctx.Err() == nil {
			logger.Error("webhook fan-out cycle failed", "error", err)
		}
		if ctx.Err() != nil {
			return nil
		}
		if n == w.cfg.BatchSize && err == nil {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

type delivery struct {
	event   *domain.Event
	hook    domain.Webhook
	body    []byte
	attempt webhook.Attempt
}

// RunOnce claims one batch of events, delivers them and records the results.
// It returns the number of events claimed.
func (w *WebhookDispatcher) RunOnce(ctx context.Context) (int, error) {
	batch, err := w.repo.ClaimPending(ctx, w.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("claim pending events: %w", err)
	}
	events := batch.Events()
	if len(events) == 0 {
		batch.Rollback()
		return 0, nil
	}
	committed := false
	defer func() {
		if !committed {
			batch.Rollback()
		}
	}()

	var deliveries []*delivery
	pendingByEvent := make(map[string]int, len(events))
	for i := range events {
		e := &events[i]
		subs, err := batch.Subscribers(ctx, e)
		if err != nil {
			return len(events), err
		}
		if len(subs) == 0 {
			continue
		}
		body, err := json.Marshal(domain.NewWebhookPayload(e))
		if err != nil {
			return len(events), fmt.Errorf("encode webhook payload: %w", err)
		}
		for _, s := range subs {
			deliveries = append(deliveries, &delivery{event: e, hook: s, body: body})
		}
		pendingByEvent[e.ID] = len(subs)
	}

	var g errgroup.Group
	g.SetLimit(w.cfg.Concurrency)
	for _, d := range deliveries {
		d := d
		g.Go(func() error {
			d.attempt = w.deliverer.Deliver(ctx, &d.hook, string(d.event.Type), d.event.ID, d.body)
			return nil
		})
	}
	g.Wait()

	// Webhook rows are updated in id order so concurrent batches touching the
	// same webhooks always lock them in the same sequence.
	sort.SliceStable(deliveries, func(i, j int) bool { return deliveries[i].hook.ID < deliveries[j].hook.ID })

	fctx := context.WithoutCancel(ctx)
	for _, d := range deliveries {
		deactivated, err := batch.RecordDelivery(fctx, &d.hook, d.event, d.attempt, w.cfg.FailureThreshold)
		if err != nil {
			return len(events), err
		}
		switch {
		case d.attempt.Success:
			webhookDeliveries.WithLabelValues("success").Inc()
			pendingByEvent[d.event.ID]--
		case deactivated:
			webhookDeliveries.WithLabelValues("failure").Inc()
			webhookDeactivations.Inc()
			pendingByEvent[d.event.ID]--
			logger.Warn("webhook deactivated after repeated failures",
				"webhook_id", d.hook.ID, "domain_id", d.hook.DomainID, "error", d.attempt.Error)
		default:
			webhookDeliveries.WithLabelValues("failure").Inc()
		}
	}

	for i := range events {
		e := &events[i]
		if pendingByEvent[e.ID] <= 0 {
			err = batch.MarkSent(fctx, e.ID)
		} else {
			err = batch.Reschedule(fctx, e.ID, w.now().UTC().Add(w.cfg.Backoff.Delay(e.WebhookAttempts+1)))
		}
		if err != nil {
			return len(events), err
		}
	}

	if err := batch.Commit(); err != nil {
		return len(events), fmt.Errorf("commit fan-out batch: %w", err)
	}
	committed = true
	return len(events), nil
}
