package providers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrNoCredential is returned when a credential source yields nothing.
var ErrNoCredential = errors.New("no credential available")

// DefaultCredentialTTL bounds how long a fetched credential is reused.
const DefaultCredentialTTL = 5 * time.Minute

// CredentialSource fetches a secret, e.g. from config or the environment.
type CredentialSource func(ctx context.Context) (string, error)

// CredentialCache lazily fetches a credential and reuses it until the TTL
// elapses. It replaces ambient package-level key state: each provider owns
// its cache, rotation shows up within a TTL, and Invalidate forces a
// refetch after an auth failure.
type CredentialCache struct {
	mu      sync.Mutex
	source  CredentialSource
	ttl     time.Duration
	value   string
	expires time.Time
	now     func() time.Time
}

// NewCredentialCache wraps a source with TTL caching.
func NewCredentialCache(source CredentialSource, ttl time.Duration) *CredentialCache {
	if ttl <= 0 {
		ttl = DefaultCredentialTTL
	}
	return &CredentialCache{
		source: source,
		ttl:    ttl,
		now:    time.Now,
	}
}

// StaticCredential returns a cache that always yields value.
func StaticCredential(value string) *CredentialCache {
	return NewCredentialCache(func(context.Context) (string, error) {
		return value, nil
	}, time.Hour)
}

// Get returns the cached credential, fetching if absent or expired.
func (c *CredentialCache) Get(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.value != "" && c.now().Before(c.expires) {
		return c.value, nil
	}

	value, err := c.source(ctx)
	if err != nil {
		return "", fmt.Errorf("fetch credential: %w", err)
	}
	if value == "" {
		return "", ErrNoCredential
	}

	c.value = value
	c.expires = c.now().Add(c.ttl)
	return value, nil
}

// Invalidate drops the cached value so the next Get refetches.
func (c *CredentialCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = ""
	c.expires = time.Time{}
}
