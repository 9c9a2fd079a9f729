package application

import (
	"strings"
	"sync"
	"time"
)

// AvailabilityCache stores recent availability answers keyed by query. Every
// mutating operation invalidates the whole cache and bumps its generation; an
// answer computed under an older generation is never stored.
type AvailabilityCache struct {
	mu         sync.RWMutex
	generation uint64
	now        func() time.Time
	ttl        time.Duration
	maxEntries int
	entries    map[string]availabilityEntry
}

type availabilityEntry struct {
	desks     []Desk
	expiresAt time.Time
}

// NewAvailabilityCache returns a cache. A non-positive ttl disables caching.
func NewAvailabilityCache(ttl time.Duration, maxEntries int, now func() time.Time) *AvailabilityCache {
	if ttl <= 0 {
		return nil
	}
	if maxEntries <= 0 {
		maxEntries = 128
	}
	if now == nil {
		now = time.Now
	}
	return &AvailabilityCache{
		now:        now,
		ttl:        ttl,
		maxEntries: maxEntries,
		entries:    make(map[string]availabilityEntry),
	}
}

// Get returns a copy of the cached desks for key.
func (c *AvailabilityCache) Get(key string) ([]Desk, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if c.now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, false
	}
	return cloneDesks(entry.desks), true
}

// Generation returns the current invalidation generation. Read it before
// loading the data passed to Store.
func (c *AvailabilityCache) Generation() uint64 {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation
}

// Store caches a copy of desks under key unless the cache was invalidated
// after generation was read.
func (c *AvailabilityCache) Store(key string, generation uint64, desks []Desk) {
	if c == nil {
		return
	}
	cloned := cloneDesks(desks)
	expiry := c.now().Add(c.ttl)

	c.mu.Lock()
	defer c.mu.Unlock()

	if generation != c.generation {
		return
	}
	c.cleanupLocked()
	if len(c.entries) >= c.maxEntries {
		c.evictOneLocked()
	}
	c.entries[key] = availabilityEntry{desks: cloned, expiresAt: expiry}
}

// Invalidate drops every entry.
func (c *AvailabilityCache) Invalidate() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.generation++
	c.entries = make(map[string]availabilityEntry)
	c.mu.Unlock()
}

// Len reports the number of live entries.
func (c *AvailabilityCache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *AvailabilityCache) cleanupLocked() {
	now := c.now()
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
		}
	}
}

func (c *AvailabilityCache) evictOneLocked() {
	for key := range c.entries {
		delete(c.entries, key)
		return
	}
}

func cloneDesks(desks []Desk) []Desk {
	if desks == nil {
		return nil
	}
	out := make([]Desk, len(desks))
	for i, d := range desks {
		out[i] = d
		if d.Features != nil {
			out[i].Features = make(map[string]string, len(d.Features))
			for k, v := range d.Features {
				out[i].Features[k] = v
			}
		}
	}
	return out
}

func buildAvailabilityKey(windowStart, windowEnd time.Time, areaID string, deskType DeskType) string {
	builder := strings.Builder{}
	builder.WriteString(windowStart.UTC().Format(time.RFC3339Nano))
	builder.WriteString("|")
	builder.WriteString(windowEnd.UTC().Format(time.RFC3339Nano))
	builder.WriteString("|")
	builder.WriteString(areaID)
	builder.WriteString("|")
	builder.WriteString(string(deskType))
	return builder.String()
}
