package domain

import "time"

// SuppressionReason enumerates why an address was suppressed.
type SuppressionReason string

const (
	ReasonBounce        SuppressionReason = "bounce"
	ReasonUnsubscribe   SuppressionReason = "unsubscribe"
	ReasonSpamComplaint SuppressionReason = "spam_complaint"
	ReasonManual        SuppressionReason = "manual"
	ReasonInvalid       SuppressionReason = "invalid"
)

// Priority orders reasons for the single-active-reason model. A lower
// priority Add never replaces an active higher priority reason.
func (r SuppressionReason) Priority() int {
	switch r {
	case ReasonSpamComplaint:
		return 5
	case ReasonBounce:
		return 4
	case ReasonUnsubscribe:
		return 3
	case ReasonInvalid:
		return 2
	case ReasonManual:
		return 1
	}
	return 0
}

// IsValid returns true for a known reason.
func (r SuppressionReason) IsValid() bool { return r.Priority() > 0 }

// SuppressionSource indicates where the suppression signal originated.
type SuppressionSource string

const (
	SourceAPI      SuppressionSource = "api"
	SourceBounce   SuppressionSource = "bounce"
	SourceFeedback SuppressionSource = "feedback_loop"
	SourceTracking SuppressionSource = "tracking_unsubscribe"
	SourceImport   SuppressionSource = "import"
)

// BounceClass separates permanent from temporary delivery failures.
type BounceClass string

const (
	BounceHard  BounceClass = "hard"
	BounceSoft  BounceClass = "soft"
	BounceBlock BounceClass = "block"
)

// SoftBounceTTL is how long a soft-bounce suppression stays active.
const SoftBounceTTL = 7 * 24 * time.Hour

// Suppression is the single active entry for an address on a domain.
type Suppression struct {
	ID          string            `json:"id" db:"id"`
	DomainID    string            `json:"domain_id" db:"domain_id"`
	Email       string            `json:"email" db:"email"`
	Reason      SuppressionReason `json:"reason" db:"reason"`
	BounceClass BounceClass       `json:"bounce_class,omitempty" db:"bounce_class"`
	Description string            `json:"description,omitempty" db:"description"`
	Source      SuppressionSource `json:"source" db:"source"`
	MessageID   string            `json:"message_id,omitempty" db:"message_id"`
	ExpiresAt   *time.Time        `json:"expires_at,omitempty" db:"expires_at"`
	CreatedAt   time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at" db:"updated_at"`
}

// ActiveAt reports whether the entry is still in force at t.
func (s *Suppression) ActiveAt(t time.Time) bool {
	return s.ExpiresAt == nil || s.ExpiresAt.After(t)
}

// Outlasts reports whether s stays in force at least as long as other.
func (s *Suppression) Outlasts(other *Suppression) bool {
	if s.ExpiresAt == nil {
		return true
	}
	return other.ExpiresAt != nil && !s.ExpiresAt.Before(*other.ExpiresAt)
}

// Supersedes reports whether the stored entry s is kept when incoming is
// added for the same address. s wins only while it is active, outranks
// incoming and lasts at least as long, so a stronger but expiring entry
// never hides a weaker permanent one.
func (s *Suppression) Supersedes(incoming *Suppression, now time.Time) bool {
	if !s.ActiveAt(now) || !s.Outlasts(incoming) {
		return false
	}
	if s.Reason.Priority() != incoming.Reason.Priority() {
		return s.Reason.Priority() > incoming.Reason.Priority()
	}
	return s.ExpiresAt == nil && incoming.ExpiresAt != nil
}

// SuppressionStatus is the answer to an is-suppressed lookup.
type SuppressionStatus struct {
	Email      string            `json:"email"`
	Suppressed bool              `json:"suppressed"`
	Reason     SuppressionReason `json:"reason,omitempty"`
	Since      *time.Time        `json:"since,omitempty"`
	ExpiresAt  *time.Time        `json:"expires_at,omitempty"`
}
