package memstore

import (
	"context"
	"sync"
	"time"
)

// Claims is the in-memory counterpart of the Redis idempotency claims.
// Expired keys are swept during Claim, at most once per ttl.
type Claims struct {
	mu        sync.Mutex
	ttl       time.Duration
	m         map[string]time.Time
	nextSweep time.Time
}

func NewClaims(ttl time.Duration) *Claims {
	return &Claims{ttl: ttl, m: make(map[string]time.Time)}
}

// Claim reports whether the caller now owns key.
func (c *Claims) Claim(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	if !now.Before(c.nextSweep) {
		for k, exp := range c.m {
			if !now.Before(exp) {
				delete(c.m, k)
			}
		}
		c.nextSweep = now.Add(c.ttl)
	}
	if exp, ok := c.m[key]; ok && now.Before(exp) {
		return false, nil
	}
	c.m[key] = now.Add(c.ttl)
	return true, nil
}

func (c *Claims) Release(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, key)
	return nil
}
