package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/ignite/txmail/internal/domain"
	"github.com/ignite/txmail/internal/pkg/backoff"
	"github.com/ignite/txmail/internal/service/sending"
)

// memStore mimics the claim transaction: a claimed row stays invisible to
// other claimers until its batch commits or rolls back.
type memStore struct {
	mu           sync.Mutex
	order        []string
	msgs         map[string]*domain.Message
	locked       map[string]bool
	suppressions map[string]map[string]domain.Suppression
	committed    []sending.Outcome
}

func newMemStore() *memStore {
	return &memStore{
		msgs:         make(map[string]*domain.Message),
		locked:       make(map[string]bool),
		suppressions: make(map[string]map[string]domain.Suppression),
	}
}

func (s *memStore) add(m domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.Status == "" {
		m.Status = domain.StatusQueued
	}
	if m.QueuedAt.IsZero() {
		m.QueuedAt = time.Now().Add(-time.Second)
	}
	if m.NextAttemptAt.IsZero() {
		m.NextAttemptAt = m.QueuedAt
	}
	s.order = append(s.order, m.ID)
	s.msgs[m.ID] = &m
}

func (s *memStore) suppress(domainID, email string, reason domain.SuppressionReason) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.suppressions[domainID] == nil {
		s.suppressions[domainID] = make(map[string]domain.Suppression)
	}
	s.suppressions[domainID][email] = domain.Suppression{DomainID: domainID, Email: email, Reason: reason}
}

func (s *memStore) get(id string) domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.msgs[id]
}

func (s *memStore) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.msgs {
		if m.Status.IsPending() {
			n++
		}
	}
	return n
}

func (s *memStore) outcomesFor(id string) []sending.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []sending.Outcome
	for _, o := range s.committed {
		if o.Message.ID == id {
			out = append(out, o)
		}
	}
	return out
}

func (s *memStore) ClaimDue(_ context.Context, limit int) (sending.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	b := &memBatch{store: s}
	for _, id := range s.order {
		m := s.msgs[id]
		if s.locked[id] || !m.Status.IsPending() || m.NextAttemptAt.After(now) {
			continue
		}
		due := m.QueuedAt
		if m.ScheduledAt != nil {
			due = *m.ScheduledAt
		}
		if due.After(now) {
			continue
		}
		s.locked[id] = true
		b.msgs = append(b.msgs, *m)
		if len(b.msgs) == limit {
			break
		}
	}
	return b, nil
}

type memBatch struct {
	store   *memStore
	msgs    []domain.Message
	pending []sending.Outcome
	done    bool
}

func (b *memBatch) Messages() []domain.Message { return b.msgs }

func (b *memBatch) ActiveSuppressions(_ context.Context, domainID string, emails []string) (map[string]domain.Suppression, error) {
	b.store.mu.Lock()
	defer b.store.mu.Unlock()
	out := make(map[string]domain.Suppression)
	for _, e := range emails {
		if s, ok := b.store.suppressions[domainID][e]; ok {
			out[e] = s
		}
	}
	return out, nil
}

func (b *memBatch) Finalize(_ context.Context, o *sending.Outcome) error {
	b.pending = append(b.pending, *o)
	return nil
}

func (b *memBatch) Commit() error {
	b.store.mu.Lock()
	defer b.store.mu.Unlock()
	for _, o := range b.pending {
		m := b.store.msgs[o.Message.ID]
		for _, d := range o.Dropped {
			m.SuppressedRecipients = append(m.SuppressedRecipients, d.Email)
		}
		switch o.Kind {
		case sending.OutcomeSent:
			m.Status = domain.StatusSent
			m.Attempts++
			if o.Result != nil {
				m.TransportMessageID = o.Result.TransportMessageID
			}
		case sending.OutcomeSuppressed:
			m.Status = domain.StatusSuppressed
		case sending.OutcomeRejected:
			m.Status = domain.StatusBounced
			m.Attempts++
		case sending.OutcomeDeferred:
			m.Attempts++
			m.NextAttemptAt = o.NextAttemptAt
			m.LastError = o.Error
		case sending.OutcomeFailed:
			m.Status = domain.StatusFailed
			m.Attempts++
			m.LastError = o.Error
		}
		b.store.committed = append(b.store.committed, o)
	}
	b.release()
	return nil
}

func (b *memBatch) Rollback() error {
	if b.done {
		return nil
	}
	b.store.mu.Lock()
	defer b.store.mu.Unlock()
	b.release()
	return nil
}

func (b *memBatch) release() {
	for _, m := range b.msgs {
		delete(b.store.locked, m.ID)
	}
	b.done = true
}

type mockSender struct {
	mu        sync.Mutex
	sends     map[string]int
	envelopes []domain.Envelope
	errFor    map[string]error
	delay     time.Duration
}

func newMockSender() *mockSender {
	return &mockSender{sends: make(map[string]int), errFor: make(map[string]error)}
}

func (m *mockSender) Send(ctx context.Context, env *domain.Envelope) (*domain.SendResult, error) {
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sends[env.MessageID]++
	m.envelopes = append(m.envelopes, *env)
	if err, ok := m.errFor[env.To[0]]; ok {
		return nil, err
	}
	return &domain.SendResult{
		TransportMessageID: "tx-" + env.MessageID,
		Transport:          domain.TransportLog,
		SentAt:             time.Now(),
	}, nil
}

func newTestDispatcher(store *memStore, sender *mockSender) *Dispatcher {
	return NewDispatcher(store, sending.NewRenderer(nil, nil), sender, DispatcherConfig{
		BatchSize:   10,
		Concurrency: 4,
		SendTimeout: time.Second,
		MaxAttempts: 3,
		Backoff:     backoff.Exponential{Base: time.Minute, Max: time.Hour},
	})
}

func testMessage(id string, to ...string) domain.Message {
	return domain.Message{
		ID:        id,
		DomainID:  "dom-1",
		FromEmail: "noreply@shop.example",
		To:        to,
		Subject:   "Your receipt",
		TextBody:  "Thanks for your order",
	}
}

func TestDispatcher_ConcurrentWorkersSendEachMessageOnce(t *testing.T) {
	store := newMemStore()
	sender := newMockSender()
	sender.delay = time.Millisecond

	const total = 200
	for i := 0; i < total; i++ {
		store.add(testMessage(fmt.Sprintf("msg-%03d", i), fmt.Sprintf("user%d@example.com", i)))
	}

	dispatchers := make([]*Dispatcher, 4)
	var wg sync.WaitGroup
	for i := range dispatchers {
		dispatchers[i] = newTestDispatcher(store, sender)
		wg.Add(1)
		go func(d *Dispatcher) {
			defer wg.Done()
			for store.pending() > 0 {
				if _, err := d.RunOnce(context.Background()); err != nil {
					t.Errorf("RunOnce: %v", err)
					return
				}
				runtime.Gosched()
			}
		}(dispatchers[i])
	}
	wg.Wait()

	if len(sender.sends) != total {
		t.Fatalf("expected %d distinct messages sent, got %d", total, len(sender.sends))
	}
	for id, n := range sender.sends {
		if n != 1 {
			t.Errorf("message %s handed to transport %d times", id, n)
		}
	}
	var sent, claimed int64
	for _, d := range dispatchers {
		st := d.Stats()
		sent += st.Sent
		claimed += st.Claimed
	}
	if sent != total || claimed != total {
		t.Errorf("stats: sent=%d claimed=%d", sent, claimed)
	}
}

func TestDispatcher_FullySuppressedNeverReachesTransport(t *testing.T) {
	store := newMemStore()
	sender := newMockSender()
	store.add(testMessage("msg-1", "a@suppressed.example"))
	store.suppress("dom-1", "a@suppressed.example", domain.ReasonBounce)

	d := newTestDispatcher(store, sender)
	if _, err := d.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	if len(sender.sends) != 0 {
		t.Fatalf("suppressed message reached the transport")
	}
	m := store.get("msg-1")
	if m.Status != domain.StatusSuppressed {
		t.Errorf("status = %s", m.Status)
	}
	outs := store.outcomesFor("msg-1")
	if len(outs) != 1 || len(outs[0].Dropped) != 1 || outs[0].Dropped[0].Reason != domain.ReasonBounce {
		t.Errorf("expected one dropped recipient, got %+v", outs)
	}
	if d.Stats().Suppressed != 1 {
		t.Errorf("suppressed stat = %d", d.Stats().Suppressed)
	}
}

func TestDispatcher_PartialSuppressionTrimsEnvelope(t *testing.T) {
	store := newMemStore()
	sender := newMockSender()
	msg := testMessage("msg-1", "a@example.com", "b@example.com")
	msg.CC = []string{"c@example.com"}
	store.add(msg)
	store.suppress("dom-1", "b@example.com", domain.ReasonUnsubscribe)

	d := newTestDispatcher(store, sender)
	if _, err := d.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	if len(sender.envelopes) != 1 {
		t.Fatalf("expected one send, got %d", len(sender.envelopes))
	}
	env := sender.envelopes[0]
	if len(env.To) != 1 || env.To[0] != "a@example.com" || len(env.CC) != 1 {
		t.Errorf("unexpected envelope recipients: to=%v cc=%v", env.To, env.CC)
	}
	m := store.get("msg-1")
	if m.Status != domain.StatusSent || m.TransportMessageID != "tx-msg-1" {
		t.Errorf("unexpected message state: %s %q", m.Status, m.TransportMessageID)
	}
	if len(m.SuppressedRecipients) != 1 || m.SuppressedRecipients[0] != "b@example.com" {
		t.Errorf("suppressed recipients = %v", m.SuppressedRecipients)
	}
}

func TestDispatcher_TransientErrorDefersThenFails(t *testing.T) {
	store := newMemStore()
	sender := newMockSender()
	sender.errFor["a@example.com"] = errors.New("connection reset")
	store.add(testMessage("msg-1", "a@example.com"))

	d := newTestDispatcher(store, sender)
	before := time.Now()
	if _, err := d.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	m := store.get("msg-1")
	if m.Status != domain.StatusQueued || m.Attempts != 1 {
		t.Fatalf("expected deferred queued message, got %s attempts=%d", m.Status, m.Attempts)
	}
	if m.NextAttemptAt.Before(before.Add(59 * time.Second)) {
		t.Errorf("next attempt not backed off: %v", m.NextAttemptAt)
	}

	// A deferred message is not due again until its backoff elapses.
	if n, _ := d.RunOnce(context.Background()); n != 0 {
		t.Fatalf("deferred message claimed early")
	}

	store.mu.Lock()
	store.msgs["msg-1"].NextAttemptAt = time.Now().Add(-time.Second)
	store.msgs["msg-1"].Attempts = 2
	store.mu.Unlock()

	if _, err := d.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	m = store.get("msg-1")
	if m.Status != domain.StatusFailed {
		t.Errorf("expected failed after max attempts, got %s", m.Status)
	}
	st := d.Stats()
	if st.Deferred != 1 || st.Failed != 1 {
		t.Errorf("stats = %+v", st)
	}
}

func TestDispatcher_RejectionBounces(t *testing.T) {
	store := newMemStore()
	sender := newMockSender()
	sender.errFor["a@example.com"] = fmt.Errorf("%w: MessageRejected", sending.ErrRejected)
	store.add(testMessage("msg-1", "a@example.com"))

	d := newTestDispatcher(store, sender)
	if _, err := d.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if m := store.get("msg-1"); m.Status != domain.StatusBounced {
		t.Errorf("status = %s", m.Status)
	}
	outs := store.outcomesFor("msg-1")
	if len(outs) != 1 || outs[0].Kind != sending.OutcomeRejected {
		t.Errorf("outcomes = %+v", outs)
	}
}

func TestDispatcher_MissingTemplateFailsWithoutRetry(t *testing.T) {
	store := newMemStore()
	sender := newMockSender()
	msg := testMessage("msg-1", "a@example.com")
	msg.TemplateID = "tpl-missing"
	store.add(msg)

	d := newTestDispatcher(store, sender)
	if _, err := d.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if len(sender.sends) != 0 {
		t.Fatalf("unrenderable message was sent")
	}
	if m := store.get("msg-1"); m.Status != domain.StatusFailed {
		t.Errorf("status = %s", m.Status)
	}
}

func TestDispatcher_ScheduledInPastIsSent(t *testing.T) {
	store := newMemStore()
	sender := newMockSender()
	past := time.Now().Add(-time.Second)
	future := time.Now().Add(time.Hour)

	due := testMessage("msg-due", "a@example.com")
	due.Status = domain.StatusScheduled
	due.ScheduledAt = &past
	store.add(due)

	later := testMessage("msg-later", "b@example.com")
	later.Status = domain.StatusScheduled
	later.ScheduledAt = &future
	store.add(later)

	d := newTestDispatcher(store, sender)
	n, err := d.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 claimed, got %d", n)
	}
	if m := store.get("msg-due"); m.Status != domain.StatusSent {
		t.Errorf("due message status = %s", m.Status)
	}
	if m := store.get("msg-later"); m.Status != domain.StatusScheduled {
		t.Errorf("future message status = %s", m.Status)
	}
	if outs := store.outcomesFor("msg-due"); len(outs) != 1 || outs[0].Kind != sending.OutcomeSent {
		t.Errorf("expected exactly one sent outcome, got %+v", outs)
	}
}
