package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var ErrCacheMiss = errors.New("cache miss")

// Entry 缓存条目
type Entry struct {
	Raw       string    `json:"raw"`
	Reasoning bool      `json:"reasoning,omitempty"` // 回复中包含思维链字段
	Model     string    `json:"model,omitempty"`
	Attempts  int       `json:"attempts"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	HitCount  int       `json:"hit_count"`
}

// Config 缓存配置
type Config struct {
	LocalMaxSize int           // 本地缓存最大条目数
	LocalTTL     time.Duration // 本地缓存 TTL
	RedisTTL     time.Duration // Redis 缓存 TTL
	EnableLocal  bool
	EnableRedis  bool
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		LocalMaxSize: 1000,
		LocalTTL:     5 * time.Minute,
		RedisTTL:     1 * time.Hour,
		EnableLocal:  true,
		EnableRedis:  true,
	}
}

// ResultCache 多级缓存实现
type ResultCache struct {
	local  *LRUCache
	redis  *redis.Client
	config *Config
	logger *zap.Logger
}

// NewResultCache 创建多级缓存。rdb 为 nil 时只使用本地缓存.
func NewResultCache(rdb *redis.Client, config *Config, logger *zap.Logger) *ResultCache {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var local *LRUCache
	if config.EnableLocal {
		local = NewLRUCache(config.LocalMaxSize, config.LocalTTL)
	}

	return &ResultCache{
		local:  local,
		redis:  rdb,
		config: config,
		logger: logger.With(zap.String("component", "result_cache")),
	}
}

// Get 获取缓存
func (c *ResultCache) Get(ctx context.Context, key string) (*Entry, error) {
	// 1. 查本地缓存
	if c.local != nil {
		if entry, ok := c.local.Get(key); ok {
			c.logger.Debug("local cache hit", zap.String("key", key))
			return entry, nil
		}
	}

	// 2. 查 Redis 缓存
	if c.config.EnableRedis && c.redis != nil {
		data, err := c.redis.Get(ctx, key).Bytes()
		if err == nil {
			var entry Entry
			if err := json.Unmarshal(data, &entry); err == nil {
				// 回填本地缓存
				if c.local != nil {
					c.local.Set(key, &entry)
				}
				c.logger.Debug("redis cache hit", zap.String("key", key))
				c.incrementHitCount(ctx, key)
				entry.HitCount++
				return &entry, nil
			}
			c.logger.Warn("corrupt cache entry", zap.String("key", key))
		} else if !errors.Is(err, redis.Nil) {
			c.logger.Warn("redis get error", zap.Error(err))
		}
	}

	return nil, ErrCacheMiss
}

// Set 设置缓存
func (c *ResultCache) Set(ctx context.Context, key string, entry *Entry) error {
	now := time.Now()
	entry.CreatedAt = now
	entry.ExpiresAt = now.Add(c.config.RedisTTL)

	if c.local != nil {
		c.local.Set(key, entry)
	}

	if c.config.EnableRedis && c.redis != nil {
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		if err := c.redis.Set(ctx, key, data, c.config.RedisTTL).Err(); err != nil {
			c.logger.Warn("redis set error", zap.Error(err))
			return err
		}
	}

	c.logger.Debug("cache set", zap.String("key", key))
	return nil
}

// Delete 删除缓存
func (c *ResultCache) Delete(ctx context.Context, key string) error {
	if c.local != nil {
		c.local.Delete(key)
	}
	if c.config.EnableRedis && c.redis != nil {
		if err := c.redis.Del(ctx, key).Err(); err != nil {
			return err
		}
	}
	return nil
}

// hitCountScript 原子地增加命中计数并保留原 TTL
var hitCountScript = redis.NewScript(`
	local data = redis.call('GET', KEYS[1])
	if data then
		local entry = cjson.decode(data)
		entry.hit_count = (entry.hit_count or 0) + 1
		local ttl = redis.call('PTTL', KEYS[1])
		if ttl > 0 then
			redis.call('SET', KEYS[1], cjson.encode(entry), 'PX', ttl)
		end
	end
	return 1
`)

func (c *ResultCache) incrementHitCount(ctx context.Context, key string) {
	if err := hitCountScript.Run(ctx, c.redis, []string{key}).Err(); err != nil && !errors.Is(err, redis.Nil) {
		c.logger.Debug("hit count update failed", zap.Error(err))
	}
}
