package message

import "errors"

// Sentinel errors for the message service layer.
var (
	ErrNotFound         = errors.New("message not found")
	ErrInvalidMessage   = errors.New("invalid message")
	ErrTemplateNotFound = errors.New("template not found")
	ErrNotCancellable   = errors.New("message can no longer be cancelled")
)
