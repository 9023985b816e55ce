package cache

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

// LRUCache 结果缓存的进程内一级，容量淘汰交给 golang-lru，过期在读取时检查
type LRUCache struct {
	mu       sync.Mutex // 保护 HitCount 的读改写
	entries  *lru.Cache
	capacity int
	ttl      time.Duration
}

type localEntry struct {
	entry     Entry
	expiresAt time.Time
}

// NewLRUCache creates a local cache. capacity <= 0 falls back to 1;
// ttl <= 0 keeps entries until evicted.
func NewLRUCache(capacity int, ttl time.Duration) *LRUCache {
	if capacity <= 0 {
		capacity = 1
	}
	entries, err := lru.New(capacity)
	if err != nil {
		// 只在 size <= 0 时出错，上面已排除
		panic(err)
	}
	return &LRUCache{entries: entries, capacity: capacity, ttl: ttl}
}

// Get returns a copy of the entry so callers never share mutable state.
func (c *LRUCache) Get(key string) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.entries.Get(key)
	if !ok {
		return nil, false
	}
	le := v.(*localEntry)
	if c.ttl > 0 && time.Now().After(le.expiresAt) {
		c.entries.Remove(key)
		return nil, false
	}

	le.entry.HitCount++
	cp := le.entry
	return &cp, true
}

func (c *LRUCache) Set(key string, entry *Entry) {
	le := &localEntry{entry: *entry}
	if c.ttl > 0 {
		le.expiresAt = time.Now().Add(c.ttl)
	}
	c.mu.Lock()
	c.entries.Add(key, le)
	c.mu.Unlock()
}

func (c *LRUCache) Delete(key string) {
	c.entries.Remove(key)
}

func (c *LRUCache) Clear() {
	c.entries.Purge()
}

// Stats 缓存统计
func (c *LRUCache) Stats() (size int, capacity int) {
	return c.entries.Len(), c.capacity
}
