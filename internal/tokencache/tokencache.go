// Package tokencache mints and caches the short-lived bearer token a
// tenant agent presents to the gateway. It is the agent-side half of
// the token contract implemented on the gateway side by tokenauth.
//
// The design mirrors api/internal/auth.JWTManager's GenerateToken /
// ValidateToken split, trimmed to a minimal claim set (tenant, iat, exp
// only — no session store, no role/groups, since those describe human
// operators, not a machine-to-machine tenant credential) and with a
// default lifetime of five minutes instead of the control plane's
// twenty-four hours.
package tokencache

import (
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/relaygate/relaygate/internal/logger"
)

// Lifetime is how long a minted token remains valid.
const Lifetime = 5 * time.Minute

// RefreshMargin is how long before expiry a cached token is considered
// due for renewal.
const RefreshMargin = 1 * time.Minute

// Claim is the payload carried by a token. The gateway-side validator
// returns its own tokenauth.Claim with the same fields.
type Claim struct {
	Tenant    string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// claims is the JWT-library-facing representation; Claim is the
// public, library-agnostic shape callers actually work with.
type claims struct {
	Tenant string `json:"tenant"`
	jwt.RegisteredClaims
}

// entry is the cached token plus the bookkeeping needed to decide
// whether it is still usable.
type entry struct {
	token           string
	issuedAt        time.Time
	expiresAt       time.Time
	refreshDeadline time.Time
}

func (e *entry) reusable(now time.Time) bool {
	return e != nil && now.Before(e.refreshDeadline)
}

// Cache mints and caches a token for a single fixed tenant. It is safe
// for concurrent use: Get holds the mutex while checking and minting,
// so concurrent callers share one minted token and never see a
// half-written entry.
type Cache struct {
	secret []byte
	tenant string

	mu  sync.Mutex
	cur *entry
}

// New creates a Cache for the given tenant, signing tokens with secret.
// secret must be non-empty; callers are expected to have already
// enforced that JWT_SECRET was present at process startup (a
// ConfigError, not a Cache concern).
func New(tenant string, secret []byte) *Cache {
	return &Cache{tenant: tenant, secret: secret}
}

// Get returns a token valid for at least RefreshMargin, minting a fresh
// one if the cached entry is absent or within its refresh window.
func (c *Cache) Get() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if c.cur.reusable(now) {
		return c.cur.token, nil
	}
	return c.mintLocked(now)
}

// Invalidate drops the cached token. The transport calls this after
// observing a 401, forcing the next Get() to mint a fresh credential.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cur = nil
}

// mintLocked signs a new token and installs it as the current entry.
// Callers must hold c.mu.
func (c *Cache) mintLocked(now time.Time) (string, error) {
	exp := now.Add(Lifetime)
	cl := &claims{
		Tenant: c.tenant,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, cl)
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("mint token: %w", err)
	}

	e := &entry{
		token:           signed,
		issuedAt:        now,
		expiresAt:       exp,
		refreshDeadline: exp.Add(-RefreshMargin),
	}
	c.cur = e

	logger.Component("tokencache").Debug().
		Str("tenant", c.tenant).
		Time("expires_at", exp).
		Msg("minted token")

	return signed, nil
}
