// Package cache holds the latest decoded readings of one device.
package cache

import (
	"sync"
	"time"

	"github.com/r0bj/flowerpower-exporter/internal/catalog"
	"github.com/r0bj/flowerpower-exporter/internal/decode"
)

// Entry is a stored reading and when it was decoded.
type Entry struct {
	Value     decode.Value
	UpdatedAt time.Time
}

// Cache maps catalog keys to their last successfully decoded value and
// gates how often a refresh may start.
//
// Readers such as an HTTP scrape may call Get concurrently with Set.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]Entry

	attempted   bool
	lastAttempt time.Time
}

// New returns an empty cache.
func New() *Cache {
	return &Cache{entries: make(map[string]Entry)}
}

// Get returns the value stored for key, or decode.Unknown if none was ever set.
// Keys outside the catalog yield *catalog.UnknownFieldError.
func (c *Cache) Get(key string) (decode.Value, error) {
	e, err := c.Entry(key)
	return e.Value, err
}

// Entry is like Get but also reports when the value was stored.
func (c *Cache) Entry(key string) (Entry, error) {
	if _, err := catalog.Lookup(key); err != nil {
		return Entry{Value: decode.Unknown}, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok {
		return Entry{Value: decode.Unknown}, nil
	}
	return e, nil
}

// Set stores v for key, replacing the previous value.
func (c *Cache) Set(key string, v decode.Value, at time.Time) error {
	if _, err := catalog.Lookup(key); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = Entry{Value: v, UpdatedAt: at}
	return nil
}

// Snapshot returns an entry for every catalog field, Unknown included.
func (c *Cache) Snapshot() map[string]Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]Entry, len(catalog.Keys()))
	for _, key := range catalog.Keys() {
		e, ok := c.entries[key]
		if !ok {
			e = Entry{Value: decode.Unknown}
		}
		out[key] = e
	}
	return out
}

// ShouldRefresh reports whether a refresh may start at now. It returns true
// on the first call and once minInterval has passed since the last attempt
// it allowed; when it returns true, now becomes the last attempt.
func (c *Cache) ShouldRefresh(now time.Time, minInterval time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.attempted && now.Sub(c.lastAttempt) < minInterval {
		return false
	}
	c.attempted = true
	c.lastAttempt = now
	return true
}

// LastAttempt returns when the last allowed refresh started.
// ok is false before the first one.
func (c *Cache) LastAttempt() (t time.Time, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastAttempt, c.attempted
}
