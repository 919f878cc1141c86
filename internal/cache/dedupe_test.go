package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestNewDedupeCache(t *testing.T) {
	t.Run("creates cache with explicit options", func(t *testing.T) {
		c := NewDedupeCache(DedupeCacheOptions{
			TTL:            time.Minute,
			PruneThreshold: 50,
		})
		if c == nil {
			t.Fatal("expected cache to be created")
		}
		if c.ttl != time.Minute {
			t.Errorf("expected TTL %v, got %v", time.Minute, c.ttl)
		}
		if c.threshold != 50 {
			t.Errorf("expected threshold 50, got %d", c.threshold)
		}
	})

	t.Run("applies defaults for zero values", func(t *testing.T) {
		c := NewDedupeCache(DedupeCacheOptions{})
		if c.ttl != DefaultTTL {
			t.Errorf("expected default TTL %v, got %v", DefaultTTL, c.ttl)
		}
		if c.threshold != DefaultPruneThreshold {
			t.Errorf("expected default threshold %d, got %d", DefaultPruneThreshold, c.threshold)
		}
	})
}

func TestDedupeCache_Check(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("returns false for first occurrence", func(t *testing.T) {
		c := NewDedupeCache(DedupeCacheOptions{})
		if c.CheckAt("C1:1000.1", base) {
			t.Error("expected false for first occurrence")
		}
	})

	t.Run("returns true for duplicate within TTL", func(t *testing.T) {
		c := NewDedupeCache(DedupeCacheOptions{})
		c.CheckAt("C1:1000.1", base)
		if !c.CheckAt("C1:1000.1", base.Add(59*time.Minute)) {
			t.Error("expected true for duplicate within TTL")
		}
	})

	t.Run("expired identifier is eligible for reprocessing", func(t *testing.T) {
		c := NewDedupeCache(DedupeCacheOptions{})
		c.CheckAt("C1:1000.1", base)
		if c.CheckAt("C1:1000.1", base.Add(61*time.Minute)) {
			t.Error("expected false after TTL elapsed")
		}
	})

	t.Run("duplicate does not refresh the first-observed timestamp", func(t *testing.T) {
		c := NewDedupeCache(DedupeCacheOptions{})
		c.CheckAt("C1:1000.1", base)
		c.CheckAt("C1:1000.1", base.Add(30*time.Minute)) // duplicate
		// 61 minutes after first observation: expired even though the
		// duplicate arrived halfway through the window.
		if c.CheckAt("C1:1000.1", base.Add(61*time.Minute)) {
			t.Error("expected entry to expire relative to first observation")
		}
	})

	t.Run("empty identifier bypasses deduplication", func(t *testing.T) {
		c := NewDedupeCache(DedupeCacheOptions{})
		if c.CheckAt("", base) {
			t.Error("expected false for empty id")
		}
		if c.CheckAt("", base) {
			t.Error("expected false for repeated empty id")
		}
		if c.Size() != 0 {
			t.Errorf("expected empty id not to be recorded, size %d", c.Size())
		}
	})
}

func TestDedupeCache_LazyPrune(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("no prune at or below threshold", func(t *testing.T) {
		c := NewDedupeCache(DedupeCacheOptions{TTL: time.Minute, PruneThreshold: 10})
		for i := 0; i < 9; i++ {
			c.CheckAt(fmt.Sprintf("id-%d", i), base)
		}
		// All nine entries are long expired, but the tenth insert only
		// reaches the threshold without crossing it, so they stay.
		c.CheckAt("late-0", base.Add(time.Hour))
		if got := c.Size(); got != 10 {
			t.Errorf("expected 10 entries retained at threshold boundary, got %d", got)
		}
	})

	t.Run("crossing threshold purges every expired entry in one pass", func(t *testing.T) {
		c := NewDedupeCache(DedupeCacheOptions{TTL: time.Minute, PruneThreshold: 10})
		for i := 0; i < 10; i++ {
			c.CheckAt(fmt.Sprintf("id-%d", i), base)
		}
		// The 11th insert pushes the map past the threshold; the 10
		// expired entries are purged, keeping only the fresh one.
		c.CheckAt("fresh-0", base.Add(time.Hour))
		if got := c.Size(); got != 1 {
			t.Errorf("expected 1 entry after lazy prune, got %d", got)
		}
		if !c.ContainsAt("fresh-0", base.Add(time.Hour)) {
			t.Error("expected fresh entry to survive the prune")
		}
	})

	t.Run("unexpired entries survive the prune", func(t *testing.T) {
		c := NewDedupeCache(DedupeCacheOptions{TTL: time.Hour, PruneThreshold: 5})
		for i := 0; i < 8; i++ {
			c.CheckAt(fmt.Sprintf("id-%d", i), base)
		}
		if got := c.Size(); got != 8 {
			t.Errorf("expected all unexpired entries retained, got %d", got)
		}
		if !c.CheckAt("id-0", base.Add(time.Minute)) {
			t.Error("expected id-0 to still be a duplicate")
		}
	})
}

func TestDedupeCache_Contains(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	c := NewDedupeCache(DedupeCacheOptions{})
	if c.ContainsAt("C1:1000.1", base) {
		t.Error("expected false before recording")
	}
	c.CheckAt("C1:1000.1", base)
	if !c.ContainsAt("C1:1000.1", base.Add(time.Minute)) {
		t.Error("expected true within TTL")
	}
	if c.ContainsAt("C1:1000.1", base.Add(2*time.Hour)) {
		t.Error("expected false after TTL")
	}
}

func TestDedupeCache_Concurrency(t *testing.T) {
	c := NewDedupeCache(DedupeCacheOptions{})

	var wg sync.WaitGroup
	var mu sync.Mutex
	misses := 0

	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !c.Check("same-id") {
				mu.Lock()
				misses++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if misses != 1 {
		t.Errorf("expected exactly one miss across concurrent checks, got %d", misses)
	}
}

func TestEventDedupeKey(t *testing.T) {
	tests := []struct {
		name      string
		chatID    string
		messageID string
		want      string
	}{
		{"chat and message", "C1", "1000.1", "C1:1000.1"},
		{"message only", "", "1000.1", "1000.1"},
		{"missing message id", "C1", "", ""},
		{"both empty", "", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EventDedupeKey(tt.chatID, tt.messageID); got != tt.want {
				t.Errorf("EventDedupeKey(%q, %q) = %q, want %q", tt.chatID, tt.messageID, got, tt.want)
			}
		})
	}
}
