// Package cache implements the bounded read-through snapshot cache.
//
// Entries carry an independent TTL on top of LRU eviction: an entry past
// its TTL is unusable through Get even if it has not been evicted yet.
// GetStale exposes expired-but-present entries inside a grace window so
// reads keep working through a store outage. Every stale serve is logged.
package cache

import (
	"container/list"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/campuseats/menud/internal/menu"
	"github.com/campuseats/menud/internal/metrics"
)

// Config bounds the cache.
type Config struct {
	Capacity int
	TTL      time.Duration
	Grace    time.Duration
}

type entry struct {
	key       string
	snap      menu.Snapshot
	expiresAt time.Time
}

// Cache is a capacity-bounded LRU of menu snapshots with per-entry TTL.
type Cache struct {
	mu      sync.Mutex
	cfg     Config
	ll      *list.List
	entries map[string]*list.Element
	clock   menu.Clock
	logger  *zap.Logger
}

// New constructs a Cache.
func New(cfg Config, clock menu.Clock, logger *zap.Logger) *Cache {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 256
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		cfg:     cfg,
		ll:      list.New(),
		entries: make(map[string]*list.Element),
		clock:   clock,
		logger:  logger,
	}
}

// Get returns a fresh snapshot or a miss. Expired entries are left in
// place for GetStale; eviction handles them eventually.
func (c *Cache) Get(key string) (menu.Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[key]
	if !ok {
		metrics.ObserveCacheLookup("miss")
		return menu.Snapshot{}, false
	}
	ent := el.Value.(*entry)
	if c.clock.Now().After(ent.expiresAt) {
		metrics.ObserveCacheLookup("expired")
		return menu.Snapshot{}, false
	}
	c.ll.MoveToFront(el)
	metrics.ObserveCacheLookup("hit")
	return ent.snap, true
}

// GetStale returns an expired entry still inside the grace window,
// marked stale. It is the store-outage fallback, never the primary path.
func (c *Cache) GetStale(key string) (menu.Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[key]
	if !ok {
		return menu.Snapshot{}, false
	}
	ent := el.Value.(*entry)
	now := c.clock.Now()
	if now.After(ent.expiresAt.Add(c.cfg.Grace)) {
		return menu.Snapshot{}, false
	}
	snap := ent.snap
	snap.Stale = now.After(ent.expiresAt)
	if snap.Stale {
		metrics.ObserveStaleServe()
		c.logger.Warn("serving stale cache entry",
			zap.String("key", key),
			zap.Time("expired_at", ent.expiresAt),
			zap.Duration("past_expiry", now.Sub(ent.expiresAt)),
		)
	}
	return snap, true
}

// Put stores a snapshot, evicting the least-recently-used entry when full.
func (c *Cache) Put(key string, snap menu.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		ent := el.Value.(*entry)
		ent.snap = snap
		ent.expiresAt = c.clock.Now().Add(c.cfg.TTL)
		c.ll.MoveToFront(el)
		return
	}
	el := c.ll.PushFront(&entry{
		key:       key,
		snap:      snap,
		expiresAt: c.clock.Now().Add(c.cfg.TTL),
	})
	c.entries[key] = el
	for c.ll.Len() > c.cfg.Capacity {
		oldest := c.ll.Back()
		if oldest == nil {
			break
		}
		c.ll.Remove(oldest)
		delete(c.entries, oldest.Value.(*entry).key)
		metrics.ObserveCacheEviction()
	}
}

// Invalidate drops an entry. Safe to call for absent keys.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[key]
	if !ok {
		return
	}
	c.ll.Remove(el)
	delete(c.entries, key)
}

// Len reports the number of resident entries, expired included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}
