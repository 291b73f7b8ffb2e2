// Package query caches named query results and invalidates them in response
// to upstream realtime events.
package query

import (
	"strings"
	"sync"
	"time"

	"pulseboard/internal/models"
)

// Loader produces a fresh result for a cache key.
type Loader func() (any, error)

type entry struct {
	value    any
	loadedAt time.Time
}

// Cache is a read-through cache keyed by query name.
type Cache struct {
	ttl time.Duration

	mu      sync.RWMutex
	entries map[string]entry
}

// NewCache creates a cache. A non-positive ttl disables age-based expiry so
// entries live until invalidated.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		ttl:     ttl,
		entries: make(map[string]entry),
	}
}

// Get returns the cached value for key, loading and storing it on a miss.
func (c *Cache) Get(key string, load Loader) (any, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if ok && !c.expired(e) {
		return e.value, nil
	}

	value, err := load()
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.entries[key] = entry{value: value, loadedAt: time.Now()}
	c.mu.Unlock()
	return value, nil
}

// Invalidate drops the given keys.
func (c *Cache) Invalidate(keys ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range keys {
		delete(c.entries, key)
	}
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache) expired(e entry) bool {
	if c.ttl <= 0 {
		return false
	}
	return time.Since(e.loadedAt) > c.ttl
}

// Rule maps a topic prefix to the query keys it invalidates.
type Rule struct {
	TopicPrefix string
	Keys        []string
}

// Invalidator translates inbound events into cache invalidations. No result
// flows back to the realtime layer.
type Invalidator struct {
	cache *Cache
	rules []Rule
}

// NewInvalidator builds an invalidator over the cache. With no matching rule
// an event invalidates the key named by the first topic segment.
func NewInvalidator(cache *Cache, rules []Rule) *Invalidator {
	return &Invalidator{cache: cache, rules: rules}
}

// Handle is the event sink attached by the realtime provider.
func (inv *Invalidator) Handle(ev models.Event) {
	matched := false
	for _, rule := range inv.rules {
		if strings.HasPrefix(ev.Topic, rule.TopicPrefix) {
			inv.cache.Invalidate(rule.Keys...)
			matched = true
		}
	}
	if matched {
		return
	}
	if key := topicKey(ev.Topic); key != "" {
		inv.cache.Invalidate(key)
	}
}

func topicKey(topic string) string {
	if idx := strings.IndexByte(topic, '.'); idx > 0 {
		return topic[:idx]
	}
	return topic
}
