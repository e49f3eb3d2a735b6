package identity

import (
	"context"
	"sync"
	"time"
)

// Cache is a read-through cache of identity lookups. The cached value is the
// in-flight load itself, so concurrent callers for the same uncached key share
// a single store read. A resolved "not found" (nil identity) is cached for the
// TTL; load errors are evicted so the next caller retries.
type Cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]*cacheEntry
	now     func() time.Time
}

type cacheEntry struct {
	done    chan struct{}
	ident   *PhoneIdentity
	err     error
	expires time.Time
}

// NewCache builds a cache whose entries expire ttl after insertion.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		ttl:     ttl,
		entries: make(map[string]*cacheEntry),
		now:     time.Now,
	}
}

// GetOrLoad returns the cached outcome for key, invoking load at most once per
// TTL window no matter how many callers arrive concurrently.
func (c *Cache) GetOrLoad(ctx context.Context, key string, load func(context.Context) (*PhoneIdentity, error)) (*PhoneIdentity, error) {
	c.mu.Lock()
	if entry, ok := c.entries[key]; ok && c.now().Before(entry.expires) {
		c.mu.Unlock()
		select {
		case <-entry.done:
			return entry.ident, entry.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	entry := &cacheEntry{
		done:    make(chan struct{}),
		expires: c.now().Add(c.ttl),
	}
	c.entries[key] = entry
	c.mu.Unlock()

	entry.ident, entry.err = load(ctx)
	close(entry.done)

	if entry.err != nil {
		c.mu.Lock()
		if c.entries[key] == entry {
			delete(c.entries, key)
		}
		c.mu.Unlock()
	}
	return entry.ident, entry.err
}

// Set overwrites the entry for key with a resolved value. Writers call this
// after every successful store write so readers never observe a value staler
// than the latest write performed through this process.
func (c *Cache) Set(key string, ident *PhoneIdentity) {
	done := make(chan struct{})
	close(done)
	entry := &cacheEntry{
		done:    done,
		ident:   ident,
		expires: c.now().Add(c.ttl),
	}
	c.mu.Lock()
	c.entries[key] = entry
	c.mu.Unlock()
}
