// Package anqp parses and caches ANQP elements (Access Network Query
// Protocol, IEEE 802.11u / Hotspot 2.0). The cache gates query initiation
// per network, detects AP re-provisioning through domain ID changes, and
// evicts expired entries with a periodic sweep.
package anqp

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/athena-provd/athena-provd/internal/metrics"
)

// Entry lifetimes. Zero-domain entries stay short-lived so re-provisioned
// or misconfigured APs are re-queried quickly; unresolved placeholders
// only block duplicate queries for a short grace period.
const (
	lifetimeQualified   = time.Hour
	lifetimeUnqualified = 5 * time.Minute
	pendingGrace        = 15 * time.Second
	recacheAfter        = 5 * time.Minute
	sweepInterval       = time.Minute
)

// Entry is one cached ANQP element set. Entries are replaced wholesale,
// never mutated in place, so a returned entry is safe to read without the
// cache lock.
type Entry struct {
	DomainID      int
	Resolved      bool
	Elements      map[ElementType]Element
	InsertedAt    time.Time
	ExpiresAt     time.Time
	RecacheableAt time.Time
}

func (e *Entry) expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// Cache is a keyed cache of ANQP element sets with domain-ID staleness
// detection. All operations take the one cache mutex; nothing blocks
// under it.
type Cache struct {
	mu      sync.Mutex
	entries map[NetworkKey]*Entry
	logger  *slog.Logger
}

// NewCache creates an empty ANQP cache.
func NewCache(logger *slog.Logger) *Cache {
	return &Cache{
		entries: make(map[NetworkKey]*Entry),
		logger:  logger,
	}
}

// Initiate reports whether a query for the network should be sent now. It
// returns true and installs an unresolved placeholder iff there is no
// entry, the existing resolved entry was provisioned under a different
// domain ID, or the existing entry has expired. Expired entries of any
// kind gate through: an entry past its lifetime already reads as a miss,
// so holding the gate until the sweep removes it would only delay the
// re-query. Otherwise the cache is untouched: a fresh query is already
// in flight or resolved.
func (c *Cache) Initiate(network Network) bool {
	key := network.Key()
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	existing := c.entries[key]
	switch {
	case existing == nil:
	case existing.expired(now):
	case existing.Resolved && existing.DomainID != network.DomainID:
	default:
		return false
	}

	c.entries[key] = &Entry{
		DomainID:   network.DomainID,
		InsertedAt: now,
		ExpiresAt:  now.Add(pendingGrace),
	}
	metrics.ANQPQueriesInitiated.Inc()
	metrics.ANQPCacheEntries.Set(float64(len(c.entries)))
	c.logger.Debug("anqp query gated through", "key", key.String(), "domain_id", network.DomainID)
	return true
}

// Update stores a resolved element set for the network, replacing whatever
// was there. It is a no-op returning false when a resolved entry with the
// same domain ID is not yet past its recache threshold, so static data is
// not re-stored on every scan.
func (c *Cache) Update(network Network, elements map[ElementType]Element) bool {
	key := network.Key()
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	existing := c.entries[key]
	if existing != nil && existing.Resolved &&
		existing.DomainID == network.DomainID && now.Before(existing.RecacheableAt) {
		metrics.ANQPUpdates.WithLabelValues("skipped").Inc()
		return false
	}

	lifetime := lifetimeQualified
	if network.DomainID == 0 {
		lifetime = lifetimeUnqualified
	}
	stored := make(map[ElementType]Element, len(elements))
	for t, el := range elements {
		stored[t] = el
	}
	c.entries[key] = &Entry{
		DomainID:      network.DomainID,
		Resolved:      true,
		Elements:      stored,
		InsertedAt:    now,
		ExpiresAt:     now.Add(lifetime),
		RecacheableAt: now.Add(recacheAfter),
	}
	metrics.ANQPUpdates.WithLabelValues("stored").Inc()
	metrics.ANQPCacheEntries.Set(float64(len(c.entries)))
	c.logger.Debug("anqp cache updated",
		"key", key.String(),
		"domain_id", network.DomainID,
		"elements", len(stored),
		"expires_at", now.Add(lifetime))
	return true
}

// Entry returns the cached element set for the network. Absent,
// unresolved, expired, and domain-ID-mismatched entries all read as
// misses. The returned entry carries its own element map, so callers
// may hold or modify it without touching the cache.
func (c *Cache) Entry(network Network) (*Entry, bool) {
	key := network.Key()
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.entries[key]
	if e == nil || !e.Resolved || e.DomainID != network.DomainID || e.expired(now) {
		metrics.ANQPCacheMisses.Inc()
		return nil, false
	}
	metrics.ANQPCacheHits.Inc()

	elements := make(map[ElementType]Element, len(e.Elements))
	for t, el := range e.Elements {
		elements[t] = el
	}
	out := *e
	out.Elements = elements
	return &out, true
}

// Clear empties the cache unconditionally, e.g. on interface reset.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[NetworkKey]*Entry)
	metrics.ANQPCacheEntries.Set(0)
	c.logger.Debug("anqp cache cleared")
}

// Len returns the number of entries, including unresolved placeholders.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Sweep removes entries expired at now. Keys are snapshotted before
// deletion.
func (c *Cache) Sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]NetworkKey, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}

	removed := 0
	for _, k := range keys {
		if e := c.entries[k]; e != nil && e.expired(now) {
			delete(c.entries, k)
			removed++
		}
	}
	if removed > 0 {
		metrics.ANQPSweepEvictions.Add(float64(removed))
		metrics.ANQPCacheEntries.Set(float64(len(c.entries)))
		c.logger.Debug("anqp cache swept", "removed", removed, "remaining", len(c.entries))
	}
	return removed
}

// Run sweeps the cache every minute until the context is canceled.
func (c *Cache) Run(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			c.Sweep(now)
		}
	}
}
