package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/campuseats/menud/internal/menu"
)

// stepClock advances only when told to, keeping expiry deterministic.
type stepClock struct{ now time.Time }

func (c *stepClock) Now() time.Time { return c.now }

func (c *stepClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func snap(version int64) menu.Snapshot {
	return menu.Snapshot{
		Records: []menu.Record{{ProviderID: "tip", Version: version}},
		Version: version,
	}
}

func newTestCache(capacity int, ttl, grace time.Duration) (*Cache, *stepClock) {
	clk := &stepClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	c := New(Config{Capacity: capacity, TTL: ttl, Grace: grace}, clk, nil)
	return c, clk
}

func TestGetHitAndMiss(t *testing.T) {
	t.Parallel()

	c, _ := newTestCache(4, time.Minute, time.Minute)
	_, ok := c.Get("absent")
	require.False(t, ok)

	c.Put("tip|2024-05-01", snap(3))
	got, ok := c.Get("tip|2024-05-01")
	require.True(t, ok)
	require.Equal(t, int64(3), got.Version)
	require.False(t, got.Stale)
}

func TestTTLExpiry(t *testing.T) {
	t.Parallel()

	c, clk := newTestCache(4, time.Minute, 0)
	c.Put("k", snap(1))

	clk.Advance(59 * time.Second)
	_, ok := c.Get("k")
	require.True(t, ok)

	clk.Advance(2 * time.Second)
	_, ok = c.Get("k")
	require.False(t, ok)
	require.Equal(t, 1, c.Len(), "expired entries stay resident until evicted")
}

func TestGetStaleWithinGrace(t *testing.T) {
	t.Parallel()

	c, clk := newTestCache(4, time.Minute, 30*time.Second)
	c.Put("k", snap(7))

	// Fresh entries come back through GetStale too, unmarked.
	got, ok := c.GetStale("k")
	require.True(t, ok)
	require.False(t, got.Stale)

	clk.Advance(70 * time.Second)
	_, ok = c.Get("k")
	require.False(t, ok)

	got, ok = c.GetStale("k")
	require.True(t, ok)
	require.True(t, got.Stale)
	require.Equal(t, int64(7), got.Version)

	// Past the grace window the entry is gone for good.
	clk.Advance(30 * time.Second)
	_, ok = c.GetStale("k")
	require.False(t, ok)
}

func TestLRUEviction(t *testing.T) {
	t.Parallel()

	c, _ := newTestCache(2, time.Minute, 0)
	c.Put("a", snap(1))
	c.Put("b", snap(2))

	// Touch "a" so "b" becomes the eviction candidate.
	_, ok := c.Get("a")
	require.True(t, ok)

	c.Put("c", snap(3))
	require.Equal(t, 2, c.Len())

	_, ok = c.Get("b")
	require.False(t, ok)
	_, ok = c.Get("a")
	require.True(t, ok)
	_, ok = c.Get("c")
	require.True(t, ok)
}

func TestPutUpdatesInPlace(t *testing.T) {
	t.Parallel()

	c, clk := newTestCache(2, time.Minute, 0)
	c.Put("k", snap(1))
	clk.Advance(50 * time.Second)
	c.Put("k", snap(2))
	require.Equal(t, 1, c.Len())

	// The rewrite restarted the TTL.
	clk.Advance(50 * time.Second)
	got, ok := c.Get("k")
	require.True(t, ok)
	require.Equal(t, int64(2), got.Version)
}

func TestInvalidate(t *testing.T) {
	t.Parallel()

	c, _ := newTestCache(4, time.Minute, time.Minute)
	c.Put("k", snap(1))
	c.Invalidate("k")
	_, ok := c.Get("k")
	require.False(t, ok)
	_, ok = c.GetStale("k")
	require.False(t, ok)

	c.Invalidate("never-seen")
}

func TestCapacityBound(t *testing.T) {
	t.Parallel()

	c, _ := newTestCache(8, time.Minute, 0)
	for i := 0; i < 50; i++ {
		c.Put(fmt.Sprintf("k%d", i), snap(int64(i)))
	}
	require.Equal(t, 8, c.Len())
}
