package auth

import "errors"

// Token verification failures, one per stage of the dual check.
var (
	// ErrMalformedToken: the signature or structure of the presented
	// credential is invalid.
	ErrMalformedToken = errors.New("token is malformed or has an invalid signature")

	// ErrUnknownToken: the credential verified cryptographically but no
	// matching allowlist record exists (or the record names a different
	// principal than the signed payload).
	ErrUnknownToken = errors.New("token is not on the issued-token allowlist")

	// ErrExpiredToken: the credential's validity window has passed.
	ErrExpiredToken = errors.New("token has expired")
)

// Credential registry failures.
var (
	ErrInvalidCredentials = errors.New("invalid username or password")
)
