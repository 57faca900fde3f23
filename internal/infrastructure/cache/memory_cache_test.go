package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_SetGet(t *testing.T) {
	c := NewMemory(10, 1024, nil)

	c.Set("template:t1", []byte(`{"id":"t1"}`), time.Minute)

	got, ok := c.Get("template:t1")
	require.True(t, ok)
	assert.Equal(t, []byte(`{"id":"t1"}`), got)

	_, ok = c.Get("template:missing")
	assert.False(t, ok)
}

func TestMemory_GetReturnsCopy(t *testing.T) {
	c := NewMemory(10, 1024, nil)
	c.Set("k", []byte("abc"), time.Minute)

	got, ok := c.Get("k")
	require.True(t, ok)
	got[0] = 'x'

	again, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, []byte("abc"), again)
}

func TestMemory_TTLExpiry(t *testing.T) {
	c := NewMemory(10, 1024, nil)
	c.Set("k", []byte("v"), 10*time.Millisecond)

	_, ok := c.Get("k")
	require.True(t, ok)

	time.Sleep(20 * time.Millisecond)

	_, ok = c.Get("k")
	assert.False(t, ok, "expired entry must read as absent")
	assert.Equal(t, 0, c.GetStats().Items, "expired entry is removed on read")
}

func TestMemory_LRUEviction(t *testing.T) {
	c := NewMemory(3, 0, nil)
	c.Set("a", []byte("1"), time.Minute)
	c.Set("b", []byte("2"), time.Minute)
	c.Set("c", []byte("3"), time.Minute)

	// Touch "a" so "b" becomes the eviction candidate.
	_, ok := c.Get("a")
	require.True(t, ok)

	c.Set("d", []byte("4"), time.Minute)

	_, ok = c.Get("b")
	assert.False(t, ok, "least recently used entry is evicted")
	for _, key := range []string{"a", "c", "d"} {
		_, ok := c.Get(key)
		assert.True(t, ok, "key %q should survive", key)
	}
	assert.Equal(t, int64(1), c.GetStats().Evictions)
}

func TestMemory_MemoryBoundEviction(t *testing.T) {
	c := NewMemory(0, 64, nil)
	for i := 0; i < 10; i++ {
		c.Set(fmt.Sprintf("key-%d", i), []byte("0123456789"), time.Minute)
	}

	stats := c.GetStats()
	assert.LessOrEqual(t, stats.Bytes, int64(64))
	assert.Greater(t, stats.Evictions, int64(0))
}

func TestMemory_EvictionHookFiresPerEviction(t *testing.T) {
	c := NewMemory(2, 0, nil)
	var fired int
	c.SetEvictionHook(func() { fired++ })

	c.Set("a", []byte("1"), time.Minute)
	c.Set("b", []byte("2"), time.Minute)
	c.Set("c", []byte("3"), time.Minute)
	c.Set("d", []byte("4"), time.Minute)

	assert.Equal(t, 2, fired)
	assert.Equal(t, int64(2), c.GetStats().Evictions)

	// Plain deletes do not count as evictions.
	c.Delete("c")
	assert.Equal(t, 2, fired)
}

func TestMemory_OversizedValueSkipped(t *testing.T) {
	c := NewMemory(10, 8, nil)
	c.Set("big", []byte("way too large for this cache"), time.Minute)

	_, ok := c.Get("big")
	assert.False(t, ok)
}

func TestMemory_DeleteByPrefix(t *testing.T) {
	c := NewMemory(10, 0, nil)
	c.Set("template:t1", []byte("1"), time.Minute)
	c.Set("template:t2", []byte("2"), time.Minute)
	c.Set("category:birthday", []byte("3"), time.Minute)

	removed := c.DeleteByPrefix("template:")
	assert.Equal(t, 2, removed)

	_, ok := c.Get("template:t1")
	assert.False(t, ok)
	_, ok = c.Get("category:birthday")
	assert.True(t, ok)
}

func TestMemory_Clear(t *testing.T) {
	c := NewMemory(10, 0, nil)
	c.Set("a", []byte("1"), time.Minute)
	c.Set("b", []byte("2"), time.Minute)

	c.Clear()

	stats := c.GetStats()
	assert.Equal(t, 0, stats.Items)
	assert.Equal(t, int64(0), stats.Bytes)
}

func TestMemory_Stats(t *testing.T) {
	c := NewMemory(10, 0, nil)
	c.Set("a", []byte("1"), time.Minute)

	c.Get("a")
	c.Get("a")
	c.Get("missing")

	stats := c.GetStats()
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 2.0/3.0, stats.HitRate, 0.001)
}

func TestMemory_Sweep(t *testing.T) {
	c := NewMemory(10, 0, nil)
	c.Set("short", []byte("1"), 5*time.Millisecond)
	c.Set("long", []byte("2"), time.Minute)

	stop := make(chan struct{})
	defer close(stop)
	c.StartSweep(10*time.Millisecond, stop)

	assert.Eventually(t, func() bool {
		return c.GetStats().Items == 1
	}, time.Second, 10*time.Millisecond)
}

func TestMemory_ConcurrentAccess(t *testing.T) {
	c := NewMemory(100, 0, nil)
	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func(n int) {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 200; j++ {
				key := fmt.Sprintf("key-%d", j%20)
				c.Set(key, []byte("v"), time.Minute)
				c.Get(key)
				if j%50 == 0 {
					c.DeleteByPrefix("key-1")
				}
			}
		}(i)
	}
	for i := 0; i < 8; i++ {
		<-done
	}
}
