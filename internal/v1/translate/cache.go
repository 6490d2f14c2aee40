package translate

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/veilchat/backend/go/internal/v1/metrics"
)

const (
	memoryCacheSize = 500
	redisCacheTTL   = 24 * time.Hour
)

// cacheKey derives the lookup key for (text, target language).
func cacheKey(text, target string) string {
	sum := sha256.Sum256([]byte(text))
	return "translate:" + hex.EncodeToString(sum[:]) + ":" + target
}

// memoryCache is a small LRU for hot translations. Safe for concurrent use.
type memoryCache struct {
	mu    sync.Mutex
	max   int
	ll    *list.List
	items map[string]*list.Element
}

type memoryEntry struct {
	key   string
	value string
}

func newMemoryCache(max int) *memoryCache {
	return &memoryCache{
		max:   max,
		ll:    list.New(),
		items: make(map[string]*list.Element),
	}
}

func (m *memoryCache) get(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if el, ok := m.items[key]; ok {
		m.ll.MoveToFront(el)
		return el.Value.(*memoryEntry).value, true
	}
	return "", false
}

func (m *memoryCache) put(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if el, ok := m.items[key]; ok {
		m.ll.MoveToFront(el)
		el.Value.(*memoryEntry).value = value
		return
	}
	m.items[key] = m.ll.PushFront(&memoryEntry{key: key, value: value})
	if m.ll.Len() > m.max {
		oldest := m.ll.Back()
		m.ll.Remove(oldest)
		delete(m.items, oldest.Value.(*memoryEntry).key)
	}
}

func (m *memoryCache) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ll.Len()
}

// tieredCache is the read-through pair of tiers. Redis is optional; with a
// nil client only the memory tier is used. Writes are best-effort.
type tieredCache struct {
	memory *memoryCache
	redis  *redis.Client
}

func newTieredCache(rdb *redis.Client) *tieredCache {
	return &tieredCache{memory: newMemoryCache(memoryCacheSize), redis: rdb}
}

func (c *tieredCache) get(ctx context.Context, text, target string) (string, bool) {
	key := cacheKey(text, target)
	if v, ok := c.memory.get(key); ok {
		metrics.TranslationCache.WithLabelValues("memory", "hit").Inc()
		return v, true
	}
	metrics.TranslationCache.WithLabelValues("memory", "miss").Inc()

	if c.redis != nil {
		if v, err := c.redis.Get(ctx, key).Result(); err == nil {
			metrics.TranslationCache.WithLabelValues("redis", "hit").Inc()
			c.memory.put(key, v)
			return v, true
		}
		metrics.TranslationCache.WithLabelValues("redis", "miss").Inc()
	}
	return "", false
}

func (c *tieredCache) put(ctx context.Context, text, target, translated string) {
	key := cacheKey(text, target)
	c.memory.put(key, translated)
	if c.redis != nil {
		// Best-effort; a failed SET only costs a future provider call.
		c.redis.Set(ctx, key, translated, redisCacheTTL)
	}
}
