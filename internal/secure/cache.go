package secure

import "sync"

type cacheKey struct {
	service  string
	username string
}

// Cache holds secrets keyed by (service, username) until they are popped.
//
// Keyring clients often ask for a username first and the password in a
// second call. The first lookup stores the password here and the second
// takes it out, so a plaintext copy never outlives the pair of calls.
type Cache struct {
	mu      sync.Mutex
	entries map[cacheKey]*SecureBuffer
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[cacheKey]*SecureBuffer)}
}

// Put stores secret for (service, username), replacing any earlier entry.
func (c *Cache) Put(service, username, secret string) error {
	buf, err := NewSecureBuffer([]byte(secret))
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey{service, username}
	if old, ok := c.entries[key]; ok {
		old.Destroy()
	}
	c.entries[key] = buf
	return nil
}

// Pop removes and returns the secret for (service, username).
func (c *Cache) Pop(service, username string) (string, bool) {
	c.mu.Lock()
	buf, ok := c.entries[cacheKey{service, username}]
	if ok {
		delete(c.entries, cacheKey{service, username})
	}
	c.mu.Unlock()

	if !ok {
		return "", false
	}
	defer buf.Destroy()

	secret, err := buf.Reveal()
	if err != nil {
		return "", false
	}
	return secret, true
}

// Len returns the number of cached secrets.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Purge destroys every cached secret.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, buf := range c.entries {
		buf.Destroy()
		delete(c.entries, key)
	}
}
