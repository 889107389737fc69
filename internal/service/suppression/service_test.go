package suppression

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ignite/txmail/internal/domain"
)

// mockRepo is an in-memory repository that applies the same priority policy
// as the SQL upsert.
type mockRepo struct {
	mu    sync.Mutex
	store map[string]*domain.Suppression // keyed by "domainID:email"
	now   func() time.Time
}

func newMockRepo() *mockRepo {
	return &mockRepo{store: make(map[string]*domain.Suppression), now: time.Now}
}

func (m *mockRepo) key(domainID, email string) string {
	return domainID + ":" + email
}

func (m *mockRepo) Upsert(_ context.Context, s *domain.Suppression) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	k := m.key(s.DomainID, s.Email)
	cur, ok := m.store[k]
	if !ok {
		s.ID = k
		s.CreatedAt, s.UpdatedAt = now, now
		cp := *s
		m.store[k] = &cp
		return true, nil
	}

	keep := cur.Supersedes(s, now)
	if keep {
		cur.UpdatedAt = now
	} else {
		id := cur.ID
		*cur = *s
		cur.ID = id
		cur.CreatedAt, cur.UpdatedAt = now, now
	}
	*s = *cur
	return false, nil
}

func (m *mockRepo) Get(_ context.Context, domainID, email string) (*domain.Suppression, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.store[m.key(domainID, email)]
	if !ok || !s.ActiveAt(m.now()) {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *mockRepo) GetMany(ctx context.Context, domainID string, emails []string) (map[string]domain.Suppression, error) {
	out := map[string]domain.Suppression{}
	for _, e := range emails {
		if s, err := m.Get(ctx, domainID, e); err == nil {
			out[e] = *s
		}
	}
	return out, nil
}

func (m *mockRepo) Remove(_ context.Context, domainID, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := m.key(domainID, email)
	if _, ok := m.store[k]; !ok {
		return ErrNotFound
	}
	delete(m.store, k)
	return nil
}

func (m *mockRepo) List(_ context.Context, domainID string, f ListFilter) ([]domain.Suppression, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []domain.Suppression
	for _, s := range m.store {
		if s.DomainID != domainID || !s.ActiveAt(m.now()) {
			continue
		}
		if f.Reason != "" && string(s.Reason) != f.Reason {
			continue
		}
		if f.Search != "" && !strings.Contains(s.Email, f.Search) {
			continue
		}
		result = append(result, *s)
	}
	return result, len(result), nil
}

func (m *mockRepo) Stats(_ context.Context, domainID string) (*Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := &Stats{ByReason: map[string]int{}}
	for _, s := range m.store {
		if s.DomainID != domainID || !s.ActiveAt(m.now()) {
			continue
		}
		st.Total++
		st.ByReason[string(s.Reason)]++
		if m.now().Sub(s.CreatedAt) < 24*time.Hour {
			st.Last24Hours++
		}
	}
	return st, nil
}

func (m *mockRepo) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, s := range m.store {
		if !s.ActiveAt(now) {
			delete(m.store, k)
			n++
		}
	}
	return n, nil
}

const testDomainID = "dom-001"

func TestAdd_NormalizesAndSuppresses(t *testing.T) {
	svc := NewService(newMockRepo())
	ctx := context.Background()

	entry, created, err := svc.Add(ctx, testDomainID, "  BOUNCE@Example.com ", domain.ReasonBounce,
		AddOptions{Source: domain.SourceBounce, BounceClass: domain.BounceHard})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if !created {
		t.Error("expected created=true for a new address")
	}
	if entry.Email != "bounce@example.com" {
		t.Errorf("email not normalized: %q", entry.Email)
	}

	st, err := svc.IsSuppressed(ctx, testDomainID, "bounce@example.com")
	if err != nil {
		t.Fatalf("IsSuppressed: %v", err)
	}
	if !st.Suppressed || st.Reason != domain.ReasonBounce {
		t.Errorf("expected bounce suppression, got %+v", st)
	}
}

func TestAdd_TwiceLeavesOneRow(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, _, err := svc.Add(ctx, testDomainID, "dup@example.com", domain.ReasonManual, AddOptions{}); err != nil {
			t.Fatalf("Add #%d: %v", i, err)
		}
	}

	_, total, _ := svc.List(ctx, testDomainID, ListFilter{})
	if total != 1 {
		t.Errorf("expected 1 suppression, got %d", total)
	}
}

func TestAdd_LowerPriorityKeepsStrongerReason(t *testing.T) {
	svc := NewService(newMockRepo())
	ctx := context.Background()

	if _, _, err := svc.Add(ctx, testDomainID, "x@example.com", domain.ReasonSpamComplaint, AddOptions{}); err != nil {
		t.Fatalf("Add spam: %v", err)
	}
	entry, created, err := svc.Add(ctx, testDomainID, "x@example.com", domain.ReasonUnsubscribe, AddOptions{})
	if err != nil {
		t.Fatalf("Add unsubscribe: %v", err)
	}
	if created {
		t.Error("expected created=false for an existing address")
	}
	if entry.Reason != domain.ReasonSpamComplaint {
		t.Errorf("expected spam_complaint to win, got %s", entry.Reason)
	}

	st, _ := svc.IsSuppressed(ctx, testDomainID, "x@example.com")
	if st.Reason != domain.ReasonSpamComplaint {
		t.Errorf("IsSuppressed reason = %s", st.Reason)
	}
}

func TestAdd_HigherPriorityOverwrites(t *testing.T) {
	svc := NewService(newMockRepo())
	ctx := context.Background()

	_, _, _ = svc.Add(ctx, testDomainID, "y@example.com", domain.ReasonManual, AddOptions{})
	entry, _, err := svc.Add(ctx, testDomainID, "y@example.com", domain.ReasonBounce, AddOptions{BounceClass: domain.BounceHard})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if entry.Reason != domain.ReasonBounce {
		t.Errorf("expected bounce to replace manual, got %s", entry.Reason)
	}
}

func TestAdd_SoftBounceDoesNotShortenHardBounce(t *testing.T) {
	svc := NewService(newMockRepo())
	ctx := context.Background()

	_, _, _ = svc.Add(ctx, testDomainID, "z@example.com", domain.ReasonBounce, AddOptions{BounceClass: domain.BounceHard})
	exp := time.Now().Add(domain.SoftBounceTTL)
	entry, _, err := svc.Add(ctx, testDomainID, "z@example.com", domain.ReasonBounce,
		AddOptions{BounceClass: domain.BounceSoft, ExpiresAt: &exp})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if entry.ExpiresAt != nil {
		t.Errorf("permanent bounce gained an expiry: %v", entry.ExpiresAt)
	}
}

func TestAdd_UnsubscribeOutlivesSoftBounce(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)
	ctx := context.Background()

	exp := time.Now().Add(domain.SoftBounceTTL)
	if _, _, err := svc.Add(ctx, testDomainID, "w@example.com", domain.ReasonBounce,
		AddOptions{Source: domain.SourceBounce, BounceClass: domain.BounceSoft, ExpiresAt: &exp}); err != nil {
		t.Fatalf("Add soft bounce: %v", err)
	}
	entry, _, err := svc.Add(ctx, testDomainID, "w@example.com", domain.ReasonUnsubscribe, AddOptions{})
	if err != nil {
		t.Fatalf("Add unsubscribe: %v", err)
	}
	if entry.Reason != domain.ReasonUnsubscribe || entry.ExpiresAt != nil {
		t.Errorf("permanent unsubscribe should replace the expiring bounce, got %+v", entry)
	}

	later := time.Now().Add(domain.SoftBounceTTL + 24*time.Hour)
	repo.now = func() time.Time { return later }
	st, err := svc.IsSuppressed(ctx, testDomainID, "w@example.com")
	if err != nil {
		t.Fatalf("IsSuppressed: %v", err)
	}
	if !st.Suppressed || st.Reason != domain.ReasonUnsubscribe {
		t.Errorf("address must stay suppressed after the soft bounce window: %+v", st)
	}
}

func TestAdd_ExpiredEntryIsOverwritten(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)
	ctx := context.Background()

	past := time.Now().Add(-time.Hour)
	_, _, _ = svc.Add(ctx, testDomainID, "old@example.com", domain.ReasonSpamComplaint, AddOptions{ExpiresAt: &past})

	st, _ := svc.IsSuppressed(ctx, testDomainID, "old@example.com")
	if st.Suppressed {
		t.Fatal("expired entry should not suppress")
	}

	entry, _, _ := svc.Add(ctx, testDomainID, "old@example.com", domain.ReasonManual, AddOptions{})
	if entry.Reason != domain.ReasonManual || entry.ExpiresAt != nil {
		t.Errorf("expected manual without expiry, got %s %v", entry.Reason, entry.ExpiresAt)
	}
}

func TestAdd_RejectsInvalidInput(t *testing.T) {
	svc := NewService(newMockRepo())
	ctx := context.Background()

	if _, _, err := svc.Add(ctx, testDomainID, "", domain.ReasonManual, AddOptions{}); !errors.Is(err, ErrInvalidEmail) {
		t.Errorf("empty email: expected ErrInvalidEmail, got %v", err)
	}
	if _, _, err := svc.Add(ctx, testDomainID, "Bob <bob@example.com>", domain.ReasonManual, AddOptions{}); !errors.Is(err, ErrInvalidEmail) {
		t.Errorf("display-name form: expected ErrInvalidEmail, got %v", err)
	}
	if _, _, err := svc.Add(ctx, testDomainID, "a@example.com", "whatever", AddOptions{}); !errors.Is(err, ErrInvalidReason) {
		t.Errorf("bad reason: expected ErrInvalidReason, got %v", err)
	}
}

func TestRemove_NotFound(t *testing.T) {
	svc := NewService(newMockRepo())

	err := svc.Remove(context.Background(), testDomainID, "ghost@example.com")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRemove_DeletesSuppression(t *testing.T) {
	svc := NewService(newMockRepo())
	ctx := context.Background()

	_, _, _ = svc.Add(ctx, testDomainID, "remove@example.com", domain.ReasonManual, AddOptions{})
	if err := svc.Remove(ctx, testDomainID, "Remove@example.com"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	st, _ := svc.IsSuppressed(ctx, testDomainID, "remove@example.com")
	if st.Suppressed {
		t.Error("expected address to no longer be suppressed after Remove()")
	}
}

func TestCheckMultiple(t *testing.T) {
	svc := NewService(newMockRepo())
	ctx := context.Background()

	_, _, _ = svc.Add(ctx, testDomainID, "a@example.com", domain.ReasonUnsubscribe, AddOptions{})

	got, err := svc.CheckMultiple(ctx, testDomainID, []string{"A@example.com", "b@example.com", "not an email"})
	if err != nil {
		t.Fatalf("CheckMultiple: %v", err)
	}
	if !got["a@example.com"].Suppressed {
		t.Error("a@example.com should be suppressed")
	}
	if got["b@example.com"].Suppressed {
		t.Error("b@example.com should not be suppressed")
	}
	if got["not an email"].Suppressed {
		t.Error("invalid address should be reported as not suppressed")
	}
}

func TestBulkAdd_PartialFailure(t *testing.T) {
	svc := NewService(newMockRepo())
	ctx := context.Background()

	_, _, _ = svc.Add(ctx, testDomainID, "exists@example.com", domain.ReasonManual, AddOptions{})

	res, err := svc.BulkAdd(ctx, testDomainID,
		[]string{"new1@example.com", "new2@example.com", "exists@example.com", "broken"},
		domain.ReasonManual, AddOptions{Source: domain.SourceImport})
	if err != nil {
		t.Fatalf("BulkAdd: %v", err)
	}
	if res.Added != 2 || res.Existing != 1 || res.Errored != 1 {
		t.Errorf("unexpected result: %+v", res)
	}
	if len(res.Errors) != 1 || res.Errors[0].Email != "broken" {
		t.Errorf("expected error entry for 'broken', got %+v", res.Errors)
	}
}

func TestBulkRemove_CountsNotFound(t *testing.T) {
	svc := NewService(newMockRepo())
	ctx := context.Background()

	_, _, _ = svc.Add(ctx, testDomainID, "a@example.com", domain.ReasonManual, AddOptions{})

	res, err := svc.BulkRemove(ctx, testDomainID, []string{"a@example.com", "b@example.com"})
	if err != nil {
		t.Fatalf("BulkRemove: %v", err)
	}
	if res.Removed != 1 || res.NotFound != 1 || res.Errored != 0 {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestBulkAdd_RejectsOversizedRequest(t *testing.T) {
	svc := NewService(newMockRepo())
	emails := make([]string, MaxBulk+1)
	if _, err := svc.BulkAdd(context.Background(), testDomainID, emails, domain.ReasonManual, AddOptions{}); !errors.Is(err, ErrTooMany) {
		t.Errorf("expected ErrTooMany, got %v", err)
	}
}

func TestGetStats_AggregatesByReason(t *testing.T) {
	svc := NewService(newMockRepo())
	ctx := context.Background()

	_, _, _ = svc.Add(ctx, testDomainID, "a@example.com", domain.ReasonBounce, AddOptions{})
	_, _, _ = svc.Add(ctx, testDomainID, "b@example.com", domain.ReasonSpamComplaint, AddOptions{})
	_, _, _ = svc.Add(ctx, testDomainID, "c@example.com", domain.ReasonBounce, AddOptions{})
	_, _, _ = svc.Add(ctx, "other-domain", "d@example.com", domain.ReasonBounce, AddOptions{})

	stats, err := svc.GetStats(ctx, testDomainID)
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats.Total != 3 {
		t.Errorf("expected total=3, got %d", stats.Total)
	}
	if stats.ByReason["bounce"] != 2 {
		t.Errorf("expected 2 bounces, got %d", stats.ByReason["bounce"])
	}
	if stats.Last24Hours != 3 {
		t.Errorf("expected 3 in last 24h, got %d", stats.Last24Hours)
	}
}

func TestSweepExpired(t *testing.T) {
	svc := NewService(newMockRepo())
	ctx := context.Background()

	past := time.Now().Add(-time.Minute)
	_, _, _ = svc.Add(ctx, testDomainID, "soft@example.com", domain.ReasonBounce, AddOptions{ExpiresAt: &past})
	_, _, _ = svc.Add(ctx, testDomainID, "keep@example.com", domain.ReasonBounce, AddOptions{})

	n, err := svc.SweepExpired(ctx, time.Now())
	if err != nil {
		t.Fatalf("SweepExpired: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 swept, got %d", n)
	}
}
