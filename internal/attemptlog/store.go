package attemptlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/BaSui01/sigflow/config"
	"github.com/BaSui01/sigflow/gen"
)

// ErrClosed 连接池已关闭.
var ErrClosed = errors.New("attempt log is closed")

// QueryMetrics 记录数据库操作耗时，由 internal/metrics.Collector 实现.
type QueryMetrics interface {
	RecordDBQuery(database, operation string, duration time.Duration)
}

// Open 按配置打开 GORM 连接.
func Open(cfg config.DatabaseConfig, logger *zap.Logger) (*gorm.DB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN())
	case "mysql":
		dialector = mysql.Open(cfg.DSN())
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN())
	case "":
		return nil, fmt.Errorf("database driver not configured")
	default:
		return nil, fmt.Errorf("unsupported database driver: %s (supported: sqlite, postgres, mysql)", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	logger.Info("attempt log database connected", zap.String("driver", cfg.Driver))
	return db, nil
}

// PoolConfig 连接池配置
type PoolConfig struct {
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	// 写入遇到死锁、连接重置等错误时的最大重试次数
	MaxWriteRetries int
}

// PoolConfigFrom 从数据库配置中取连接池参数.
func PoolConfigFrom(cfg config.DatabaseConfig) PoolConfig {
	return PoolConfig{
		MaxIdleConns:    cfg.MaxIdleConns,
		MaxOpenConns:    cfg.MaxOpenConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		MaxWriteRetries: 3,
	}
}

// Store 尝试日志存储，实现 gen.AttemptRecorder.
type Store struct {
	db      *gorm.DB
	sqlDB   *sql.DB
	config  PoolConfig
	driver  string
	logger  *zap.Logger
	metrics QueryMetrics

	mu     sync.RWMutex
	closed bool
}

var _ gen.AttemptRecorder = (*Store)(nil)

// StoreOption 配置 Store.
type StoreOption func(*Store)

// WithMetrics 记录每次写入与查询的耗时.
func WithMetrics(m QueryMetrics) StoreOption {
	return func(s *Store) { s.metrics = m }
}

// NewStore 包装 db，配置连接池并迁移表结构.
func NewStore(db *gorm.DB, cfg PoolConfig, logger *zap.Logger, opts ...StoreOption) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	s := &Store{
		db:     db,
		sqlDB:  sqlDB,
		config: cfg,
		driver: db.Dialector.Name(),
		logger: logger.With(zap.String("component", "attempt_log")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Migrate 创建或更新 sigflow_attempts 表.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&Record{}); err != nil {
		return fmt.Errorf("migrate attempt log: %w", err)
	}
	return nil
}

// DB 返回 GORM 实例.
func (s *Store) DB() *gorm.DB {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db
}

// RecordAttempt 写入一条尝试记录，可重试错误按指数退避重写.
func (s *Store) RecordAttempt(ctx context.Context, a gen.Attempt) error {
	rec := FromAttempt(a)
	return s.observe("insert", func() error {
		return s.withRetry(ctx, func(db *gorm.DB) error {
			rec.ID = 0
			return db.Create(&rec).Error
		})
	})
}

// ListByTrace 返回一次 Forward 的全部尝试，按尝试编号排序.
func (s *Store) ListByTrace(ctx context.Context, traceID string) ([]Record, error) {
	var recs []Record
	err := s.observe("select", func() error {
		db, err := s.handle()
		if err != nil {
			return err
		}
		return db.WithContext(ctx).
			Where("trace_id = ?", traceID).
			Order("attempt ASC").
			Find(&recs).Error
	})
	if err != nil {
		return nil, fmt.Errorf("list attempts for %s: %w", traceID, err)
	}
	return recs, nil
}

// CountByOutcome 按结果统计尝试次数.
func (s *Store) CountByOutcome(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		Outcome string
		N       int64
	}
	err := s.observe("select", func() error {
		db, err := s.handle()
		if err != nil {
			return err
		}
		return db.WithContext(ctx).Model(&Record{}).
			Select("outcome, count(*) AS n").
			Group("outcome").
			Scan(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("count attempts: %w", err)
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Outcome] = r.N
	}
	return out, nil
}

// Ping 检查数据库连接.
func (s *Store) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return s.sqlDB.PingContext(ctx)
}

// Stats 返回连接池统计.
func (s *Store) Stats() sql.DBStats {
	return s.sqlDB.Stats()
}

// Close 关闭连接池，重复调用无副作用.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.logger.Info("closing attempt log")
	return s.sqlDB.Close()
}

func (s *Store) handle() (*gorm.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	return s.db, nil
}

func (s *Store) observe(op string, fn func() error) error {
	start := time.Now()
	err := fn()
	if s.metrics != nil {
		s.metrics.RecordDBQuery(s.driver, op, time.Since(start))
	}
	return err
}

// withRetry 执行写入，死锁、序列化失败、连接错误时退避重试.
func (s *Store) withRetry(ctx context.Context, fn func(*gorm.DB) error) error {
	db, err := s.handle()
	if err != nil {
		return err
	}

	retries := s.config.MaxWriteRetries
	var lastErr error
	for i := 0; i <= retries; i++ {
		err := db.WithContext(ctx).Transaction(fn)
		if err == nil {
			return nil
		}
		lastErr = err
		if !isRetryableError(err) || i == retries {
			break
		}

		s.logger.Warn("attempt log write failed, retrying",
			zap.Int("retry", i+1),
			zap.Int("max_retries", retries),
			zap.Error(err),
		)

		backoff := time.Duration(1<<uint(i)) * 50 * time.Millisecond
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return fmt.Errorf("record attempt: %w", lastErr)
}

// isRetryableError 判断数据库错误是否可重试
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	msg := strings.ToLower(err.Error())
	for _, s := range []string{
		"deadlock",
		"serialization failure", "40001",
		"connection reset", "connection refused", "broken pipe",
		"lock timeout", "lock wait timeout",
		"database is locked",
		"bad connection",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
