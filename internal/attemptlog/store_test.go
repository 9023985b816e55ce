package attemptlog

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/BaSui01/sigflow/assertion"
	"github.com/BaSui01/sigflow/config"
	"github.com/BaSui01/sigflow/gen"
	"github.com/BaSui01/sigflow/signature"
	"github.com/BaSui01/sigflow/testutil/mocks"
)

type fakeQueryMetrics struct {
	mu  sync.Mutex
	ops []string
}

func (f *fakeQueryMetrics) RecordDBQuery(database, operation string, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, database+":"+operation)
}

// newSQLiteStore 内存库只能有一个连接，否则每个连接各自一张空库
func newSQLiteStore(t *testing.T, opts ...StoreOption) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	s, err := NewStore(db, PoolConfig{MaxOpenConns: 1, MaxIdleConns: 1}, zaptest.NewLogger(t), opts...)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_RecordAndList(t *testing.T) {
	ctx := context.Background()
	metrics := &fakeQueryMetrics{}
	s := newSQLiteStore(t, WithMetrics(metrics))

	// 乱序写入，读取时按尝试编号排序
	require.NoError(t, s.RecordAttempt(ctx, gen.Attempt{
		TraceID: "t-1", Signature: "q -> a", Number: 2, Outcome: "success",
		Raw: "A: ok", Duration: 30 * time.Millisecond,
	}))
	require.NoError(t, s.RecordAttempt(ctx, gen.Attempt{
		TraceID: "t-1", Signature: "q -> a", Number: 1, Outcome: "validation",
		Feedback: []string{"A: expected a number", "B: missing"},
		Raw:      "A: many",
		Duration: 1500 * time.Millisecond,
	}))
	require.NoError(t, s.RecordAttempt(ctx, gen.Attempt{TraceID: "t-2", Signature: "q -> a", Number: 1, Outcome: "success"}))

	recs, err := s.ListByTrace(ctx, "t-1")
	require.NoError(t, err)
	require.Len(t, recs, 2)

	assert.Equal(t, 1, recs[0].Attempt)
	assert.Equal(t, "validation", recs[0].Outcome)
	assert.Equal(t, []string{"A: expected a number", "B: missing"}, recs[0].Feedback)
	assert.Equal(t, int64(1500), recs[0].DurationMS)
	assert.True(t, recs[0].Failed())

	assert.Equal(t, 2, recs[1].Attempt)
	assert.False(t, recs[1].Failed())
	assert.Empty(t, recs[1].Feedback)
	assert.False(t, recs[1].CreatedAt.IsZero())

	counts, err := s.CountByOutcome(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"success": 2, "validation": 1}, counts)

	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	assert.Equal(t, []string{
		"sqlite:insert", "sqlite:insert", "sqlite:insert",
		"sqlite:select", "sqlite:select",
	}, metrics.ops)
}

func TestStore_ListUnknownTrace(t *testing.T) {
	s := newSQLiteStore(t)
	recs, err := s.ListByTrace(context.Background(), "missing")
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestStore_Close(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, s.Ping(ctx))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	assert.ErrorIs(t, s.Ping(ctx), ErrClosed)
	assert.ErrorIs(t, s.RecordAttempt(ctx, gen.Attempt{TraceID: "x"}), ErrClosed)
	_, err := s.ListByTrace(ctx, "x")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestNewStore_NilDB(t *testing.T) {
	_, err := NewStore(nil, PoolConfig{}, zap.NewNop())
	assert.Error(t, err)
}

func TestStore_PoolSettings(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	s, err := NewStore(db, PoolConfig{MaxOpenConns: 3, MaxIdleConns: 1, ConnMaxLifetime: time.Minute}, nil)
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, 3, s.Stats().MaxOpenConnections)
	assert.Same(t, db, s.DB())
}

// 死锁后重写成功：第一次事务回滚，第二次提交
func TestStore_RetriesRetryableWrite(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: mockDB}), &gorm.Config{})
	require.NoError(t, err)

	s, err := NewStore(db, PoolConfig{MaxWriteRetries: 2}, zaptest.NewLogger(t))
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "sigflow_attempts"`).WillReturnError(errors.New("ERROR: deadlock detected (SQLSTATE 40P01)"))
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "sigflow_attempts"`).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))
	mock.ExpectCommit()

	err = s.RecordAttempt(context.Background(), gen.Attempt{TraceID: "t", Number: 1, Outcome: "success"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_NonRetryableWriteFailsOnce(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: mockDB}), &gorm.Config{})
	require.NoError(t, err)

	s, err := NewStore(db, PoolConfig{MaxWriteRetries: 3}, zap.NewNop())
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "sigflow_attempts"`).WillReturnError(errors.New("value too long for type character varying(64)"))
	mock.ExpectRollback()

	err = s.RecordAttempt(context.Background(), gen.Attempt{TraceID: "t", Number: 1, Outcome: "success"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "value too long")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIsRetryableError(t *testing.T) {
	assert.False(t, isRetryableError(nil))
	assert.True(t, isRetryableError(errors.New("Deadlock found when trying to get lock")))
	assert.True(t, isRetryableError(errors.New("database is locked (5) (SQLITE_BUSY)")))
	assert.True(t, isRetryableError(errors.New("driver: bad connection")))
	assert.False(t, isRetryableError(errors.New("syntax error at or near")))
}

func TestOpen(t *testing.T) {
	db, err := Open(config.DatabaseConfig{Driver: "sqlite", Name: ":memory:"}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, "sqlite", db.Dialector.Name())

	_, err = Open(config.DatabaseConfig{Driver: "oracle"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "oracle")

	_, err = Open(config.DatabaseConfig{}, nil)
	assert.Error(t, err)
}

func TestPoolConfigFrom(t *testing.T) {
	pc := PoolConfigFrom(config.DefaultDatabaseConfig())
	assert.Equal(t, 10, pc.MaxOpenConns)
	assert.Equal(t, 2, pc.MaxIdleConns)
	assert.Equal(t, 5*time.Minute, pc.ConnMaxLifetime)
	assert.Equal(t, 3, pc.MaxWriteRetries)
}

// 生成引擎把每次尝试（含失败的反馈）写入尝试日志
func TestStore_AsGeneratorRecorder(t *testing.T) {
	s := newSQLiteStore(t)

	g, err := gen.New(`question -> answer:number`, gen.WithAttemptRecorder(s))
	require.NoError(t, err)
	g.AddAssert(func(out assertion.Output) assertion.Verdict {
		v, ok := out.Value("answer")
		if !ok {
			return assertion.Indeterminate
		}
		if v.Num() > 10 {
			return assertion.Fail
		}
		return assertion.Pass
	}, "answer must be at most 10")

	model := mocks.NewMockProvider().WithResponses(
		"Answer: lots",
		"Answer: 42",
		"Answer: 7",
	)

	res, err := g.Forward(context.Background(), model, signature.Values{"question": signature.String("how many?")})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Attempts)

	recs, err := s.ListByTrace(context.Background(), res.TraceID)
	require.NoError(t, err)
	require.Len(t, recs, 3)

	assert.Equal(t, "validation", recs[0].Outcome)
	require.Len(t, recs[0].Feedback, 1)
	assert.Contains(t, recs[0].Feedback[0], "Answer")

	assert.Equal(t, "assertion", recs[1].Outcome)
	assert.Equal(t, []string{"answer must be at most 10"}, recs[1].Feedback)
	assert.Equal(t, "Answer: 42", recs[1].Raw)

	assert.Equal(t, "success", recs[2].Outcome)
	assert.Equal(t, "question -> answer:number", recs[2].Signature)
}
