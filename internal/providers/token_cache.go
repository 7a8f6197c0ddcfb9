package providers

import (
	"sync"
	"time"
)

// TokenCache holds one bearer token in memory until it expires. Tokens
// are never written to disk.
type TokenCache struct {
	mu        sync.RWMutex
	token     string
	expiresAt time.Time
	now       func() time.Time
}

// NewTokenCache creates a new empty token cache
func NewTokenCache() *TokenCache {
	return &TokenCache{now: time.Now}
}

// Get returns the cached token if it is set and not expired.
func (c *TokenCache) Get() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.token == "" || c.now().After(c.expiresAt) {
		return "", false
	}
	return c.token, true
}

// Set stores a token for ttl, less a 5 second margin so it is refreshed
// before the server rejects it.
func (c *TokenCache) Set(token string, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	buffer := 5 * time.Second
	if ttl > buffer {
		ttl -= buffer
	}
	c.token = token
	c.expiresAt = c.now().Add(ttl)
}

// Clear removes the cached token
func (c *TokenCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.token = ""
	c.expiresAt = time.Time{}
}

// TTL returns the remaining time until the token expires, or 0.
func (c *TokenCache) TTL() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.token == "" {
		return 0
	}
	if remaining := c.expiresAt.Sub(c.now()); remaining > 0 {
		return remaining
	}
	return 0
}
