package signature

import (
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// CacheMetrics 缓存命中统计钩子，由 internal/metrics.Collector 实现。
type CacheMetrics interface {
	RecordCacheHit(cacheType string)
	RecordCacheMiss(cacheType string)
}

const cacheType = "signature"

// DefaultCacheSize is the capacity of DefaultCache.
const DefaultCacheSize = 256

var (
	defaultCacheOnce sync.Once
	defaultCache     *Cache
)

// DefaultCache returns the process-wide signature cache.
func DefaultCache() *Cache {
	defaultCacheOnce.Do(func() {
		defaultCache = NewCache(DefaultCacheSize, nil)
	})
	return defaultCache
}

// Cache 按 DSL 文本缓存解析结果（LRU）。
// 同一 DSL 的并发解析经 singleflight 合并为一次。解析失败不缓存。
type Cache struct {
	entries *lru.Cache
	group   singleflight.Group
	metrics CacheMetrics
	logger  *zap.Logger
}

// NewCache creates a cache holding up to capacity signatures.
func NewCache(capacity int, logger *zap.Logger) *Cache {
	if capacity <= 0 {
		capacity = DefaultCacheSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Cache{logger: logger.With(zap.String("component", "signature_cache"))}
	// capacity > 0，NewWithEvict 不会失败
	c.entries, _ = lru.NewWithEvict(capacity, func(key, _ any) {
		c.logger.Debug("signature evicted", zap.String("dsl", key.(string)))
	})
	return c
}

// SetMetrics installs hit/miss hooks. Not safe to call concurrently with Get.
func (c *Cache) SetMetrics(m CacheMetrics) { c.metrics = m }

// Get returns the parsed signature for dsl, parsing it on a miss.
func (c *Cache) Get(dsl string) (*Signature, error) {
	if v, ok := c.entries.Get(dsl); ok {
		if c.metrics != nil {
			c.metrics.RecordCacheHit(cacheType)
		}
		return v.(*Signature), nil
	}
	if c.metrics != nil {
		c.metrics.RecordCacheMiss(cacheType)
	}

	v, err, shared := c.group.Do(dsl, func() (any, error) {
		sig, err := Parse(dsl)
		if err != nil {
			return nil, err
		}
		c.entries.Add(dsl, sig)
		return sig, nil
	})
	if err != nil {
		c.logger.Debug("signature parse failed", zap.String("dsl", dsl), zap.Error(err))
		return nil, err
	}
	if shared {
		c.logger.Debug("signature parse shared", zap.String("dsl", dsl))
	}
	return v.(*Signature), nil
}

// Len returns the number of cached signatures.
func (c *Cache) Len() int { return c.entries.Len() }
