package conflict

import (
	"net"
	"sync"
	"time"
)

// ProbeCache caches recent probe verdicts to avoid re-probing the same
// address during rapid re-acquisition. Entries expire after the TTL and
// are dropped lazily on read.
type ProbeCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	ttl     time.Duration
}

type cacheEntry struct {
	clear     bool
	timestamp time.Time
}

// NewProbeCache creates a new probe verdict cache with the given TTL.
func NewProbeCache(ttl time.Duration) *ProbeCache {
	return &ProbeCache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
	}
}

// MarkClear records that an IP was probed and found clear.
func (c *ProbeCache) MarkClear(ip net.IP) {
	c.mark(ip, true)
}

// MarkConflict records that an IP was probed and found in use.
func (c *ProbeCache) MarkConflict(ip net.IP) {
	c.mark(ip, false)
}

func (c *ProbeCache) mark(ip net.IP, clear bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[ip.String()] = cacheEntry{clear: clear, timestamp: time.Now()}
}

// lookup returns the entry for an IP if present and fresh, dropping it
// when expired.
func (c *ProbeCache) lookup(ip net.IP) (cacheEntry, bool) {
	key := ip.String()

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return cacheEntry{}, false
	}
	if time.Since(entry.timestamp) > c.ttl {
		delete(c.entries, key)
		return cacheEntry{}, false
	}
	return entry, true
}

// IsClear reports whether the IP was recently probed and found clear.
func (c *ProbeCache) IsClear(ip net.IP) bool {
	entry, ok := c.lookup(ip)
	return ok && entry.clear
}

// IsConflict reports whether the IP was recently probed and found in use.
func (c *ProbeCache) IsConflict(ip net.IP) bool {
	entry, ok := c.lookup(ip)
	return ok && !entry.clear
}

// Invalidate removes an IP from the cache (e.g., after a decline or release).
func (c *ProbeCache) Invalidate(ip net.IP) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, ip.String())
}

// Cleanup removes expired entries. Call periodically on long-running daemons.
func (c *ProbeCache) Cleanup() {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	for key, entry := range c.entries {
		if now.Sub(entry.timestamp) > c.ttl {
			delete(c.entries, key)
		}
	}
}
