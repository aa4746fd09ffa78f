package router

import "errors"

var (
	// ErrRateLimited: the sender exhausted its inbound message budget;
	// the message is dropped before persistence.
	ErrRateLimited = errors.New("message rate limit exceeded")
)
