// Package cache implements the optional replay guard: a Redis-backed
// record of tokens already spent, so a captured bearer token cannot be
// replayed against the gateway a second time within its lifetime. It
// is disabled unless a Redis address is configured, and uses the same
// pooled go-redis client setup as the rest of this codebase.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ReplayGuard rejects a (tenant, token) pair it has already seen once.
type ReplayGuard struct {
	client *redis.Client
	ttl    time.Duration
}

// New connects to addr and returns a ready ReplayGuard. Entries expire
// after ttl, which should be at least the token lifetime so a token
// cannot become replayable again before it would have expired anyway.
func New(addr string, ttl time.Duration) (*ReplayGuard, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,

		PoolSize:     10,
		MinIdleConns: 2,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,

		MaxRetries:      3,
		MinRetryBackoff: 8 * time.Millisecond,
		MaxRetryBackoff: 512 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &ReplayGuard{client: client, ttl: ttl}, nil
}

// NewWithClient wraps an already-constructed redis.Client, letting
// callers (and tests) supply their own client without New's
// connectivity check.
func NewWithClient(client *redis.Client, ttl time.Duration) *ReplayGuard {
	return &ReplayGuard{client: client, ttl: ttl}
}

// Close releases the underlying connection pool.
func (g *ReplayGuard) Close() error {
	return g.client.Close()
}

// Reject records (tenant, token) as spent and reports whether it had
// already been recorded before this call — the signal that the
// caller is replaying a token rather than presenting it for the first
// time. A Redis error is returned so the caller can decide whether to
// fail open or closed; the gateway's handler fails open (logs and
// proceeds) since the replay guard is an enrichment, not the primary
// auth boundary.
func (g *ReplayGuard) Reject(ctx context.Context, tenant, token string) (bool, error) {
	key := fmt.Sprintf("relaygate:spent:%s:%s", tenant, token)
	set, err := g.client.SetNX(ctx, key, 1, g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return !set, nil
}
