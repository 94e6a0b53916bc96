package event

import (
	"sync"
	"time"

	"github.com/elliotchance/orderedmap/v3"

	"github.com/alekspetrov/scenarist/internal/timeutil"
)

// DedupCache remembers recent event keys in arrival order. Entries older than
// the TTL are dropped from the front every compactEvery insertions.
type DedupCache struct {
	ttl          time.Duration
	compactEvery int
	clock        timeutil.Clock

	mu       sync.Mutex
	seen     *orderedmap.OrderedMap[string, time.Time]
	inserted int
}

// NewDedupCache creates a DedupCache.
func NewDedupCache(ttl time.Duration, compactEvery int, clock timeutil.Clock) *DedupCache {
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	if compactEvery <= 0 {
		compactEvery = 50
	}
	return &DedupCache{
		ttl:          ttl,
		compactEvery: compactEvery,
		clock:        clock,
		seen:         orderedmap.NewOrderedMap[string, time.Time](),
	}
}

// Seen records e and reports whether an event with the same key arrived
// within the TTL. Events without a dedup key are never duplicates.
func (c *DedupCache) Seen(e Event) bool {
	key := e.DedupKey()
	if key == "" {
		return false
	}
	return c.SeenKey(key)
}

// SeenKey is Seen for a precomputed key.
func (c *DedupCache) SeenKey(key string) bool {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if at, ok := c.seen.Get(key); ok && now.Sub(at) < c.ttl {
		return true
	}

	// re-insert so the key moves to the back of the arrival order
	c.seen.Delete(key)
	c.seen.Set(key, now)
	c.inserted++
	if c.inserted%c.compactEvery == 0 {
		c.compact(now)
	}
	return false
}

// Len returns the number of remembered keys.
func (c *DedupCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seen.Len()
}

func (c *DedupCache) compact(now time.Time) {
	for el := c.seen.Front(); el != nil; {
		if now.Sub(el.Value) < c.ttl {
			return
		}
		next := el.Next()
		c.seen.Delete(el.Key)
		el = next
	}
}
