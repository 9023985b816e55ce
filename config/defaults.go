// =============================================================================
// 📦 sigflow 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Engine:     DefaultEngineConfig(),
		Tokenizer:  DefaultTokenizerConfig(),
		Cache:      DefaultCacheConfig(),
		AttemptLog: DefaultAttemptLogConfig(),
		Provider:   DefaultProviderConfig(),
		Log:        DefaultLogConfig(),
		Telemetry:  DefaultTelemetryConfig(),
		Metrics:    DefaultMetricsConfig(),
	}
}

// DefaultEngineConfig 返回默认引擎配置
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		MaxAttempts: 3,
		ClassMatch:  "fold",
	}
}

// DefaultTokenizerConfig 返回默认 Token 预算配置（关闭）
func DefaultTokenizerConfig() TokenizerConfig {
	return TokenizerConfig{}
}

// DefaultCacheConfig 返回默认结果缓存配置（关闭）
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		LocalMaxSize: 1000,
		LocalTTL:     5 * time.Minute,
		RedisTTL:     time.Hour,
		Redis:        DefaultRedisConfig(),
	}
}

// DefaultRedisConfig 返回默认 Redis 配置，地址为空表示不使用 Redis
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultAttemptLogConfig 返回默认尝试日志配置（关闭）
func DefaultAttemptLogConfig() AttemptLogConfig {
	return AttemptLogConfig{
		AutoMigrate: true,
		Database:    DefaultDatabaseConfig(),
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "sqlite",
		Name:            "sigflow_attempts.db",
		SSLMode:         "disable",
		MaxOpenConns:    10,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DefaultProviderConfig 返回默认模型调用配置
func DefaultProviderConfig() ProviderConfig {
	return ProviderConfig{
		Timeout:           2 * time.Minute,
		RateLimitBurst:    1,
		RetryInitialDelay: 500 * time.Millisecond,
		RetryMaxDelay:     10 * time.Second,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stderr"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "sigflow",
		SampleRate:   0.1,
	}
}

// DefaultMetricsConfig 返回默认指标配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:   true,
		Namespace: "sigflow",
	}
}
