// Package cache implements the in-memory tier of the resource cache:
// an LRU cache with per-entry TTL, prefix invalidation and hit-rate
// statistics. Entries past their TTL are treated as absent on read;
// an optional background sweep reclaims them eagerly.
package cache

import (
	"container/list"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Memory is the process-wide memory cache. Safe for concurrent use.
type Memory struct {
	mu          sync.RWMutex
	items       map[string]*entry
	lruList     *list.List
	maxItems    int
	maxBytes    int64
	currentSize int64

	hits      int64
	misses    int64
	evictions int64
	onEvict   func()

	logger *zap.Logger
}

type entry struct {
	key        string
	value      []byte
	size       int64
	expiresAt  time.Time
	lruElement *list.Element
}

// NewMemory creates a memory cache bounded by item count and byte
// size. A nil logger is replaced with a no-op logger.
func NewMemory(maxItems int, maxBytes int64, logger *zap.Logger) *Memory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Memory{
		items:    make(map[string]*entry),
		lruList:  list.New(),
		maxItems: maxItems,
		maxBytes: maxBytes,
		logger:   logger,
	}
}

// Get returns the cached payload for key, or (nil, false) when absent
// or past its TTL. Expired entries are removed lazily here.
func (c *Memory) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		c.misses++
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		c.removeEntry(e)
		c.misses++
		return nil, false
	}

	c.lruList.MoveToFront(e.lruElement)
	c.hits++

	// Copy out so callers cannot mutate the cached bytes.
	value := make([]byte, len(e.value))
	copy(value, e.value)
	return value, true
}

// Set stores value under key for ttl. Values larger than the whole
// cache budget are skipped; the caller still holds the data it just
// fetched.
func (c *Memory) Set(key string, value []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	size := int64(len(key) + len(value))
	if c.maxBytes > 0 && size > c.maxBytes {
		c.logger.Warn("item too large for memory cache",
			zap.String("key", key),
			zap.Int64("size", size),
			zap.Int64("max_bytes", c.maxBytes))
		return
	}

	if existing, ok := c.items[key]; ok {
		c.removeEntry(existing)
	}

	for c.needsEviction(size) && c.lruList.Len() > 0 {
		oldest := c.lruList.Back()
		if oldest == nil {
			break
		}
		c.removeEntry(oldest.Value.(*entry))
		c.evictions++
		if c.onEvict != nil {
			c.onEvict()
		}
	}

	e := &entry{
		key:       key,
		value:     make([]byte, len(value)),
		size:      size,
		expiresAt: time.Now().Add(ttl),
	}
	copy(e.value, value)
	e.lruElement = c.lruList.PushFront(e)
	c.items[key] = e
	c.currentSize += size
}

func (c *Memory) needsEviction(incoming int64) bool {
	if c.maxBytes > 0 && c.currentSize+incoming > c.maxBytes {
		return true
	}
	return c.maxItems > 0 && len(c.items) >= c.maxItems
}

// SetEvictionHook registers fn to run once per entry evicted to make
// room. Deletes and TTL expiry do not count.
func (c *Memory) SetEvictionHook(fn func()) {
	c.mu.Lock()
	c.onEvict = fn
	c.mu.Unlock()
}

// Delete removes a single key.
func (c *Memory) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.items[key]; ok {
		c.removeEntry(e)
	}
}

// DeleteByPrefix removes every entry whose key starts with prefix and
// returns the number removed. Used for type-wide invalidation.
func (c *Memory) DeleteByPrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var doomed []*entry
	for key, e := range c.items {
		if strings.HasPrefix(key, prefix) {
			doomed = append(doomed, e)
		}
	}
	for _, e := range doomed {
		c.removeEntry(e)
	}
	if len(doomed) > 0 {
		c.logger.Debug("cleared cache entries by prefix",
			zap.String("prefix", prefix),
			zap.Int("count", len(doomed)))
	}
	return len(doomed)
}

// Clear removes all entries.
func (c *Memory) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*entry)
	c.lruList.Init()
	c.currentSize = 0
}

// removeEntry removes an entry. Caller must hold the lock.
func (c *Memory) removeEntry(e *entry) {
	if e.lruElement != nil {
		c.lruList.Remove(e.lruElement)
	}
	delete(c.items, e.key)
	c.currentSize -= e.size
}

// Stats is a point-in-time snapshot of cache effectiveness.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Items     int
	Bytes     int64
	HitRate   float64
}

// GetStats returns current statistics.
func (c *Memory) GetStats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	hitRate := float64(0)
	if total := c.hits + c.misses; total > 0 {
		hitRate = float64(c.hits) / float64(total)
	}
	return Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Items:     len(c.items),
		Bytes:     c.currentSize,
		HitRate:   hitRate,
	}
}

// StartSweep launches a background goroutine that drops expired
// entries every interval, until stop is closed. Lazy expiration on
// read makes this optional; the sweep just bounds memory between
// reads.
func (c *Memory) StartSweep(interval time.Duration, stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.sweepExpired()
			case <-stop:
				return
			}
		}
	}()
}

func (c *Memory) sweepExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	var doomed []*entry
	for _, e := range c.items {
		if now.After(e.expiresAt) {
			doomed = append(doomed, e)
		}
	}
	for _, e := range doomed {
		c.removeEntry(e)
	}
	if len(doomed) > 0 {
		c.logger.Debug("swept expired cache entries", zap.Int("count", len(doomed)))
	}
}
