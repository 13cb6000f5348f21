// Package tokenauth verifies the bearer tokens minted by tokencache.
// It is the gateway-side half of the token contract: signature, expiry,
// issue time, and tenant claim extraction.
package tokenauth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/relaygate/relaygate/internal/errs"
)

// ClockSkewTolerance bounds how far in the future an "issued at" claim
// may sit before it is rejected as not-yet-valid.
const ClockSkewTolerance = 30 * time.Second

// Claim is the verified payload extracted from a token.
type Claim struct {
	Tenant    string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type tokenClaims struct {
	Tenant string `json:"tenant"`
	jwt.RegisteredClaims
}

// Validator verifies tokens signed with a single shared secret.
type Validator struct {
	secret []byte
}

// New creates a Validator. secret must match the signing key used by
// the agents' tokencache.Cache instances.
func New(secret []byte) *Validator {
	return &Validator{secret: secret}
}

// Validate verifies signature, expiry, issue time, and extracts the
// tenant claim. The returned error wraps one of errs.ErrMalformed,
// errs.ErrBadSignature, errs.ErrExpired, errs.ErrNotYetValid, or
// errs.ErrNoTenant — callers should use errors.Is to branch on kind.
func (v *Validator) Validate(raw string) (Claim, error) {
	parsed, err := jwt.ParseWithClaims(raw, &tokenClaims{}, func(t *jwt.Token) (interface{}, error) {
		// Reject "none" and asymmetric algorithm substitution: only
		// accept the HMAC family we actually signed with.
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithLeeway(ClockSkewTolerance), jwt.WithIssuedAt())

	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return Claim{}, fmt.Errorf("%w", errs.ErrExpired)
		case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
			return Claim{}, fmt.Errorf("%w", errs.ErrNotYetValid)
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return Claim{}, fmt.Errorf("%w", errs.ErrBadSignature)
		default:
			return Claim{}, fmt.Errorf("%w: %v", errs.ErrMalformed, err)
		}
	}

	cl, ok := parsed.Claims.(*tokenClaims)
	if !ok || !parsed.Valid {
		return Claim{}, fmt.Errorf("%w", errs.ErrMalformed)
	}

	if cl.Tenant == "" {
		return Claim{}, fmt.Errorf("%w", errs.ErrNoTenant)
	}
	if cl.ExpiresAt == nil || cl.IssuedAt == nil {
		return Claim{}, fmt.Errorf("%w: missing iat/exp", errs.ErrMalformed)
	}

	return Claim{
		Tenant:    cl.Tenant,
		IssuedAt:  cl.IssuedAt.Time,
		ExpiresAt: cl.ExpiresAt.Time,
	}, nil
}
