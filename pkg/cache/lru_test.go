package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("valid parameters", func(t *testing.T) {
		c := New[string, int](100, 5*time.Minute, nil)
		assert.Equal(t, 100, c.maxSize)
		assert.Equal(t, 5*time.Minute, c.ttl)
		assert.NotNil(t, c.clock)
	})

	t.Run("non-positive size uses default", func(t *testing.T) {
		assert.Equal(t, DefaultMaxSize, New[string, int](0, 0, nil).maxSize)
		assert.Equal(t, DefaultMaxSize, New[string, int](-10, 0, nil).maxSize)
	})
}

func TestGetPut(t *testing.T) {
	c := New[string, int](10, 0, nil)

	_, ok := c.Get("a")
	assert.False(t, ok)

	c.Put("a", 1)
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	c.Put("a", 2)
	v, _ = c.Get("a")
	assert.Equal(t, 2, v)
	assert.Equal(t, 1, c.Len())

	c.Remove("a")
	_, ok = c.Get("a")
	assert.False(t, ok)
}

func TestLRUEviction(t *testing.T) {
	c := New[int, string](3, 0, nil)
	c.Put(1, "one")
	c.Put(2, "two")
	c.Put(3, "three")

	// Touch 1 so 2 becomes the least recently used.
	_, ok := c.Get(1)
	require.True(t, ok)

	c.Put(4, "four")
	assert.Equal(t, 3, c.Len())

	_, ok = c.Get(2)
	assert.False(t, ok, "2 should have been evicted")
	for _, k := range []int{1, 3, 4} {
		_, ok := c.Get(k)
		assert.True(t, ok, "key %d", k)
	}
}

func TestTTLExpiration(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := New[string, int](10, time.Second, clock)

	c.Put("a", 1)
	clock.Advance(999 * time.Millisecond)
	_, ok := c.Get("a")
	assert.True(t, ok)

	clock.Advance(time.Millisecond)
	_, ok = c.Get("a")
	assert.False(t, ok, "expired at exactly ttl")
	assert.Zero(t, c.Len(), "expired entry is dropped on access")

	// Put refreshes the deadline.
	c.Put("b", 1)
	clock.Advance(800 * time.Millisecond)
	c.Put("b", 2)
	clock.Advance(800 * time.Millisecond)
	v, ok := c.Get("b")
	assert.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestGetOrCompute(t *testing.T) {
	c := New[string, int](10, 0, nil)
	calls := 0
	compute := func() int {
		calls++
		return 42
	}

	assert.Equal(t, 42, c.GetOrCompute("k", compute))
	assert.Equal(t, 42, c.GetOrCompute("k", compute))
	assert.Equal(t, 1, calls)

	c.Clear()
	assert.Equal(t, 42, c.GetOrCompute("k", compute))
	assert.Equal(t, 2, calls)
}

func TestStats(t *testing.T) {
	c := New[string, int](10, 0, nil)
	c.Put("a", 1)
	c.Get("a")
	c.Get("a")
	c.Get("a")
	c.Get("missing")

	s := c.Stats()
	assert.Equal(t, 1, s.Size)
	assert.Equal(t, 10, s.MaxSize)
	assert.Equal(t, uint64(3), s.Hits)
	assert.Equal(t, uint64(1), s.Misses)
	assert.InDelta(t, 75.0, s.HitRate, 1e-9)

	assert.Zero(t, New[string, int](1, 0, nil).Stats().HitRate)
}

func TestConcurrentAccess(t *testing.T) {
	c := New[int, int](50, time.Minute, nil)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				k := (g*31 + i) % 100
				c.GetOrCompute(k, func() int { return k * 2 })
				if v, ok := c.Get(k); ok {
					assert.Equal(t, k*2, v)
				}
				if i%97 == 0 {
					c.Remove(k)
				}
			}
		}(g)
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Len(), 50)
}
