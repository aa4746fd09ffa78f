package interfaces

import (
	"context"

	"schoolchat/pkg/types"
)

// TokenStore is the durable allowlist of issued tokens. It is the
// stateful half of the dual-check token design: a signature check alone
// would not allow server-side invalidation, and a store lookup alone
// would not prevent forgery. Swapping the allowlist for a revocation
// list only requires a new TokenStore implementation.
type TokenStore interface {
	// SaveToken durably records an issued token.
	SaveToken(ctx context.Context, rec *types.TokenRecord) error

	// LookupToken returns the record for a token value, or
	// ErrTokenNotFound when no record exists.
	LookupToken(ctx context.Context, token string) (*types.TokenRecord, error)
}
