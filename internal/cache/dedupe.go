// Package cache provides time-limited deduplication of inbound event
// identifiers.
package cache

import (
	"sync"
	"time"
)

// DefaultTTL is how long a seen identifier stays a duplicate.
const DefaultTTL = 60 * time.Minute

// DefaultPruneThreshold is the map size above which expired entries are purged.
const DefaultPruneThreshold = 200

// DedupeCache records recently-seen identifiers and rejects repeats within a
// TTL window. Entries map an identifier to the timestamp it was first
// observed. Expired entries are pruned lazily: only when the map grows past
// the threshold, and then all expired entries go in one pass. The cache is
// shared process-wide across reconnects so a reconnect storm does not
// reprocess recently-seen events.
type DedupeCache struct {
	mu        sync.Mutex
	seen      map[string]int64 // id -> first-observed unix ms
	ttl       time.Duration
	threshold int
}

// DedupeCacheOptions configures the cache. Zero values take the defaults.
type DedupeCacheOptions struct {
	TTL            time.Duration
	PruneThreshold int
}

// NewDedupeCache creates a new deduplication cache.
func NewDedupeCache(opts DedupeCacheOptions) *DedupeCache {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	threshold := opts.PruneThreshold
	if threshold <= 0 {
		threshold = DefaultPruneThreshold
	}

	return &DedupeCache{
		seen:      make(map[string]int64),
		ttl:       ttl,
		threshold: threshold,
	}
}

// Check reports whether id was already seen within the TTL window. On a
// miss it records the identifier at the current time. Empty identifiers are
// never duplicates and are never recorded: events the platform delivered
// without an id bypass deduplication entirely.
func (c *DedupeCache) Check(id string) bool {
	return c.CheckAt(id, time.Now())
}

// CheckAt is Check with an explicit clock, for deterministic tests.
func (c *DedupeCache) CheckAt(id string, now time.Time) bool {
	if id == "" {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	nowMs := now.UnixMilli()

	if first, ok := c.seen[id]; ok && nowMs-first < c.ttl.Milliseconds() {
		return true
	}

	// First observation (or the old entry expired). Record, then purge
	// expired entries only if we crossed the size threshold.
	c.seen[id] = nowMs
	if len(c.seen) > c.threshold {
		c.pruneLocked(nowMs)
	}
	return false
}

// pruneLocked removes every entry older than the TTL in one pass.
func (c *DedupeCache) pruneLocked(nowMs int64) {
	cutoff := nowMs - c.ttl.Milliseconds()
	for id, first := range c.seen {
		if first < cutoff {
			delete(c.seen, id)
		}
	}
}

// Contains reports whether id is currently recorded and unexpired, without
// recording it.
func (c *DedupeCache) Contains(id string) bool {
	return c.ContainsAt(id, time.Now())
}

// ContainsAt is Contains with an explicit clock.
func (c *DedupeCache) ContainsAt(id string, now time.Time) bool {
	if id == "" {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	first, ok := c.seen[id]
	if !ok {
		return false
	}
	return now.UnixMilli()-first < c.ttl.Milliseconds()
}

// Size returns the current number of entries, expired or not.
func (c *DedupeCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

// Clear removes all entries.
func (c *DedupeCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen = make(map[string]int64)
}

// EventDedupeKey builds the deduplication key for an inbound message.
// Messages without a platform id produce an empty key, which bypasses
// deduplication.
func EventDedupeKey(chatID, messageID string) string {
	if messageID == "" {
		return ""
	}
	if chatID == "" {
		return messageID
	}
	return chatID + ":" + messageID
}
