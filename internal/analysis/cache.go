package analysis

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"
)

// Cache keeps recent analysis results keyed by transcript content, so a
// client reconnecting or re-requesting the same conversation does not
// trigger another provider call. Entries expire after a TTL and the
// least recently used entry is evicted when the cache is full.
type Cache struct {
	maxEntries int
	ttl        time.Duration

	mu    sync.Mutex
	ll    *list.List
	items map[string]*list.Element

	hits      uint64
	misses    uint64
	evictions uint64
}

type cacheEntry struct {
	key       string
	result    *Result
	createdAt time.Time
}

// CacheStats holds a snapshot of cache effectiveness counters.
type CacheStats struct {
	Size       int     `json:"size"`
	MaxEntries int     `json:"max_entries"`
	Hits       uint64  `json:"hits"`
	Misses     uint64  `json:"misses"`
	Evictions  uint64  `json:"evictions"`
	HitRate    float64 `json:"hit_rate"`
}

// NewCache creates a cache holding up to maxEntries results for at most
// ttl each. Both must be positive.
func NewCache(maxEntries int, ttl time.Duration) *Cache {
	if maxEntries <= 0 {
		maxEntries = 100
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Cache{
		maxEntries: maxEntries,
		ttl:        ttl,
		ll:         list.New(),
		items:      make(map[string]*list.Element),
	}
}

// cacheKey normalizes the transcript (lowercase, collapsed whitespace)
// and hashes it, so incidental spacing differences still hit.
func cacheKey(transcript string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(transcript)), " ")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// Get returns the cached result for a transcript, or false when absent
// or expired. Expired entries are removed on access.
func (c *Cache) Get(transcript string) (*Result, bool) {
	key := cacheKey(transcript)

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		c.misses++
		return nil, false
	}
	entry := elem.Value.(*cacheEntry)
	if time.Since(entry.createdAt) > c.ttl {
		c.removeLocked(elem)
		c.misses++
		return nil, false
	}
	c.ll.MoveToFront(elem)
	c.hits++
	return entry.result, true
}

// Put stores a result for a transcript, evicting the least recently used
// entry if the cache is full.
func (c *Cache) Put(transcript string, result *Result) {
	key := cacheKey(transcript)

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		entry := elem.Value.(*cacheEntry)
		entry.result = result
		entry.createdAt = time.Now()
		c.ll.MoveToFront(elem)
		return
	}
	elem := c.ll.PushFront(&cacheEntry{key: key, result: result, createdAt: time.Now()})
	c.items[key] = elem
	for c.ll.Len() > c.maxEntries {
		oldest := c.ll.Back()
		if oldest == nil {
			break
		}
		c.removeLocked(oldest)
		c.evictions++
	}
}

// Invalidate removes the cached result for a transcript, reporting
// whether an entry was present. Retried analyses call this first so the
// provider is consulted again.
func (c *Cache) Invalidate(transcript string) bool {
	key := cacheKey(transcript)

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return false
	}
	c.removeLocked(elem)
	return true
}

// Len returns the number of cached entries. Expired entries still count
// until an access removes them.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// GetStats returns a snapshot of the cache counters.
func (c *Cache) GetStats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := CacheStats{
		Size:       c.ll.Len(),
		MaxEntries: c.maxEntries,
		Hits:       c.hits,
		Misses:     c.misses,
		Evictions:  c.evictions,
	}
	if total := c.hits + c.misses; total > 0 {
		stats.HitRate = float64(c.hits) / float64(total) * 100
	}
	return stats
}

func (c *Cache) removeLocked(elem *list.Element) {
	entry := elem.Value.(*cacheEntry)
	c.ll.Remove(elem)
	delete(c.items, entry.key)
}
