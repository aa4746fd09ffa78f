package websocket

import "errors"

// Connection-related errors.
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrWriteTimeout     = errors.New("write timed out")
	ErrInvalidJSON      = errors.New("invalid JSON data")
)

// Registry-related errors.
var (
	ErrNilConnection = errors.New("connection cannot be nil")
	ErrInvalidScope  = errors.New("connection scope must be a session or a teacher inbox")
)
