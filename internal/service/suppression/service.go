package suppression

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/ignite/txmail/internal/domain"
)

// MaxBulk caps the number of addresses in one bulk request.
const MaxBulk = 1000

// Service implements suppression business logic. It is safe for concurrent use.
type Service struct {
	repo Repository
}

// NewService creates a suppression service backed by the given repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// NormalizeEmail trims and lower-cases an address and rejects anything
// net/mail cannot parse as a bare address.
func NormalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", ErrInvalidEmail
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("%w: %q", ErrInvalidEmail, email)
	}
	return email, nil
}

// AddOptions carries the optional attributes of a suppression entry.
type AddOptions struct {
	Source      domain.SuppressionSource
	Description string
	BounceClass domain.BounceClass
	MessageID   string
	ExpiresAt   *time.Time
}

// Add suppresses an address. If an active entry with a stronger reason
// exists, that reason is kept. created reports whether the address was new.
func (s *Service) Add(ctx context.Context, domainID, email string, reason domain.SuppressionReason, opts AddOptions) (*domain.Suppression, bool, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return nil, false, err
	}
	if !reason.IsValid() {
		return nil, false, fmt.Errorf("%w: %q", ErrInvalidReason, reason)
	}
	if opts.Source == "" {
		opts.Source = domain.SourceAPI
	}

	entry := &domain.Suppression{
		DomainID:    domainID,
		Email:       email,
		Reason:      reason,
		BounceClass: opts.BounceClass,
		Description: opts.Description,
		Source:      opts.Source,
		MessageID:   opts.MessageID,
		ExpiresAt:   opts.ExpiresAt,
	}
	created, err := s.repo.Upsert(ctx, entry)
	if err != nil {
		return nil, false, fmt.Errorf("add suppression: %w", err)
	}
	return entry, created, nil
}

// Remove deletes a suppression entry. Returns ErrNotFound if the address is
// not suppressed.
func (s *Service) Remove(ctx context.Context, domainID, email string) error {
	email, err := NormalizeEmail(email)
	if err != nil {
		return err
	}
	return s.repo.Remove(ctx, domainID, email)
}

// IsSuppressed reports whether an address is currently blocked. Expired
// entries are treated as absent.
func (s *Service) IsSuppressed(ctx context.Context, domainID, email string) (*domain.SuppressionStatus, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return nil, err
	}
	entry, err := s.repo.Get(ctx, domainID, email)
	if errors.Is(err, ErrNotFound) {
		return &domain.SuppressionStatus{Email: email}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("check suppression: %w", err)
	}
	return statusOf(entry), nil
}

// CheckMultiple looks up many addresses in one round trip. Invalid
// addresses are reported as not suppressed.
func (s *Service) CheckMultiple(ctx context.Context, domainID string, emails []string) (map[string]domain.SuppressionStatus, error) {
	if len(emails) > MaxBulk {
		return nil, ErrTooMany
	}
	out := make(map[string]domain.SuppressionStatus, len(emails))
	valid := make([]string, 0, len(emails))
	for _, e := range emails {
		n, err := NormalizeEmail(e)
		if err != nil {
			out[e] = domain.SuppressionStatus{Email: e}
			continue
		}
		valid = append(valid, n)
		out[n] = domain.SuppressionStatus{Email: n}
	}
	if len(valid) == 0 {
		return out, nil
	}

	found, err := s.repo.GetMany(ctx, domainID, valid)
	if err != nil {
		return nil, fmt.Errorf("check suppressions: %w", err)
	}
	for email, entry := range found {
		entry := entry
		out[email] = *statusOf(&entry)
	}
	return out, nil
}

// BulkError describes one address that could not be processed.
type BulkError struct {
	Email string `json:"email"`
	Error string `json:"error"`
}

// BulkResult reports partial success of a bulk operation.
type BulkResult struct {
	Added    int         `json:"added"`
	Existing int         `json:"existing"`
	Removed  int         `json:"removed"`
	NotFound int         `json:"not_found"`
	Errored  int         `json:"errored"`
	Errors   []BulkError `json:"errors"`
}

func (r *BulkResult) fail(email string, err error) {
	r.Errored++
	r.Errors = append(r.Errors, BulkError{Email: email, Error: err.Error()})
}

// BulkAdd suppresses every address with the same reason. One bad address
// does not stop the rest.
func (s *Service) BulkAdd(ctx context.Context, domainID string, emails []string, reason domain.SuppressionReason, opts AddOptions) (*BulkResult, error) {
	if len(emails) > MaxBulk {
		return nil, ErrTooMany
	}
	if !reason.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidReason, reason)
	}

	res := &BulkResult{Errors: []BulkError{}}
	for _, e := range emails {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		_, created, err := s.Add(ctx, domainID, e, reason, opts)
		switch {
		case err != nil:
			res.fail(e, err)
		case created:
			res.Added++
		default:
			res.Existing++
		}
	}
	return res, nil
}

// BulkRemove deletes every listed address that is suppressed.
func (s *Service) BulkRemove(ctx context.Context, domainID string, emails []string) (*BulkResult, error) {
	if len(emails) > MaxBulk {
		return nil, ErrTooMany
	}

	res := &BulkResult{Errors: []BulkError{}}
	for _, e := range emails {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		err := s.Remove(ctx, domainID, e)
		switch {
		case err == nil:
			res.Removed++
		case errors.Is(err, ErrNotFound):
			res.NotFound++
		default:
			res.fail(e, err)
		}
	}
	return res, nil
}

// List returns active suppression entries matching the filter.
func (s *Service) List(ctx context.Context, domainID string, filter ListFilter) ([]domain.Suppression, int, error) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Limit > MaxBulk {
		filter.Limit = MaxBulk
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	filter.Search = strings.ToLower(strings.TrimSpace(filter.Search))
	return s.repo.List(ctx, domainID, filter)
}

// GetStats returns aggregate counts of active entries.
func (s *Service) GetStats(ctx context.Context, domainID string) (*Stats, error) {
	st, err := s.repo.Stats(ctx, domainID)
	if err != nil {
		return nil, fmt.Errorf("suppression stats: %w", err)
	}
	if st.ByReason == nil {
		st.ByReason = map[string]int{}
	}
	return st, nil
}

// SweepExpired deletes entries that expired before now. Expired entries are
// already ignored by lookups; this only reclaims space.
func (s *Service) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	return s.repo.DeleteExpired(ctx, now)
}

func statusOf(e *domain.Suppression) *domain.SuppressionStatus {
	since := e.CreatedAt
	return &domain.SuppressionStatus{
		Email:      e.Email,
		Suppressed: true,
		Reason:     e.Reason,
		Since:      &since,
		ExpiresAt:  e.ExpiresAt,
	}
}
