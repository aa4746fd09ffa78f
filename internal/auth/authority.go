// Package auth implements the token authority: issuance and
// verification of bearer credentials bound to a student or teacher
// principal.
//
// Validity is a dual check. Stage one is stateless: the token must
// carry a well-formed, unexpired HMAC signature. Stage two is stateful:
// a matching record must exist on the durable allowlist, and its
// principal must agree with the signed payload. Either stage can be
// replaced independently (for example swapping the allowlist for a
// revocation list) without touching callers.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"schoolchat/pkg/interfaces"
	"schoolchat/pkg/types"
)

// Authority issues and verifies signed, time-bounded credentials.
// Verification has no side effects; issuance is the only mutating
// operation.
type Authority struct {
	secret []byte
	ttl    time.Duration
	tokens interfaces.TokenStore
}

// tokenClaims is the signed payload: principal id in the subject,
// principal type in a private claim, expiry in the registered claim.
type tokenClaims struct {
	PrincipalType string `json:"typ"`
	jwt.RegisteredClaims
}

// NewAuthority creates a token authority with a fixed validity window.
func NewAuthority(secret []byte, ttl time.Duration, tokens interfaces.TokenStore) *Authority {
	return &Authority{
		secret: secret,
		ttl:    ttl,
		tokens: tokens,
	}
}

// Issue generates a signed credential for the principal and durably
// records it on the allowlist. One principal may hold several
// concurrently valid tokens (multi-device). There is no refresh: the
// expiry is fixed at issuance.
func (a *Authority) Issue(ctx context.Context, p types.Principal) (string, time.Time, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(a.ttl)

	claims := tokenClaims{
		PrincipalType: string(p.Type),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.Itoa(p.ID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}

	rec := &types.TokenRecord{
		Token:     token,
		Principal: p,
		ExpiresAt: expiresAt,
	}
	if err := a.tokens.SaveToken(ctx, rec); err != nil {
		return "", time.Time{}, fmt.Errorf("failed to record issued token: %w", err)
	}

	return token, expiresAt, nil
}

// Verify resolves a presented token to its principal. Failure modes,
// in check order: ErrMalformedToken for a bad signature or structure,
// ErrExpiredToken for a lapsed validity window, ErrUnknownToken when no
// matching allowlist record exists or the record disagrees with the
// signed payload.
func (a *Authority) Verify(ctx context.Context, token string) (types.Principal, error) {
	claimed, err := a.verifySignature(token)
	if err != nil {
		return types.Principal{}, err
	}

	rec, err := a.tokens.LookupToken(ctx, token)
	if err != nil {
		if errors.Is(err, interfaces.ErrTokenNotFound) {
			return types.Principal{}, ErrUnknownToken
		}
		return types.Principal{}, fmt.Errorf("token lookup failed: %w", err)
	}

	if time.Now().UTC().After(rec.ExpiresAt) {
		return types.Principal{}, ErrExpiredToken
	}

	// The signed payload must agree with the durable record; a
	// forged-but-plausible token fails here.
	if rec.Principal != claimed {
		return types.Principal{}, ErrUnknownToken
	}

	return claimed, nil
}

// verifySignature is the stateless stage: structure, signature and
// embedded expiry only.
func (a *Authority) verifySignature(token string) (types.Principal, error) {
	var claims tokenClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return types.Principal{}, ErrExpiredToken
		}
		return types.Principal{}, ErrMalformedToken
	}

	id, err := strconv.Atoi(claims.Subject)
	if err != nil {
		return types.Principal{}, ErrMalformedToken
	}

	ptype := types.PrincipalType(claims.PrincipalType)
	if !types.IsValidPrincipalType(ptype) {
		return types.Principal{}, ErrMalformedToken
	}

	return types.Principal{ID: id, Type: ptype}, nil
}
