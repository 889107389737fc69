package analytics

import "errors"

// Sentinel errors for the analytics service layer.
var (
	ErrInvalidRequest = errors.New("invalid analytics request")
)
