package event

import "errors"

// Sentinel errors for the event service layer.
var (
	ErrInvalidEvent    = errors.New("invalid event")
	ErrMessageNotFound = errors.New("message not found")
	// ErrDuplicate is returned when a single-fire event (sent, delivered,
	// bounced) was already recorded for the message. Callers treat it as an
	// acknowledged no-op.
	ErrDuplicate = errors.New("event already recorded")
	// ErrNotSent is returned for engagement events on a message the
	// transport never accepted.
	ErrNotSent = errors.New("message has not been sent")
)
