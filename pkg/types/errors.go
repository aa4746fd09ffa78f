package types

import "errors"

// Message validation errors.
var (
	ErrInvalidSessionID = errors.New("session id must be positive")
	ErrInvalidRole      = errors.New("role must be 'user', 'assistant' or 'teacher'")
	ErrEmptyContent     = errors.New("message content cannot be empty")
	ErrContentTooLarge  = errors.New("message content exceeds size limit")
	ErrMissingTimestamp = errors.New("message timestamp is required")
)
