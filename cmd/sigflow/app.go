package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/sigflow/config"
	"github.com/BaSui01/sigflow/gen"
	"github.com/BaSui01/sigflow/internal/attemptlog"
	"github.com/BaSui01/sigflow/internal/metrics"
	"github.com/BaSui01/sigflow/internal/telemetry"
	"github.com/BaSui01/sigflow/internal/tlsutil"
	"github.com/BaSui01/sigflow/llm"
	"github.com/BaSui01/sigflow/llm/cache"
	"github.com/BaSui01/sigflow/llm/middleware"
	"github.com/BaSui01/sigflow/llm/retry"
	"github.com/BaSui01/sigflow/signature"
)

// =============================================================================
// 🧩 运行时组件
// =============================================================================

// app 按配置组装的生成运行时：日志、指标、遥测、尝试日志与结果缓存
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *metrics.Collector
	otel    *telemetry.Providers
	store   *attemptlog.Store
	rdb     *redis.Client
	cache   *cache.ResultCache
	sigs    *signature.Cache
}

// appOption 测试时替换外部依赖
type appOption func(*appOptions)

type appOptions struct {
	telemetry []telemetry.Option
}

func withTelemetryOptions(opts ...telemetry.Option) appOption {
	return func(o *appOptions) { o.telemetry = append(o.telemetry, opts...) }
}

// newApp 初始化各组件。可选组件失败时降级并记录警告，遥测除外
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...appOption) (*app, error) {
	var o appOptions
	for _, opt := range opts {
		opt(&o)
	}

	a := &app{
		cfg:    cfg,
		logger: logger,
		sigs:   signature.NewCache(128, logger),
	}

	if cfg.Metrics.Enabled {
		a.metrics = metrics.NewCollector(cfg.Metrics.Namespace, logger)
		a.sigs.SetMetrics(a.metrics)
	}

	otelProviders, err := telemetry.Init(cfg.Telemetry, logger, o.telemetry...)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	a.otel = otelProviders

	if cfg.AttemptLog.Enabled {
		if err := a.openAttemptLog(ctx); err != nil {
			logger.Warn("attempt log not available", zap.Error(err))
		}
	}

	if cfg.Cache.Enabled {
		a.openCache(ctx)
	}
	return a, nil
}

func (a *app) openAttemptLog(ctx context.Context) error {
	dbCfg := a.cfg.AttemptLog.Database
	db, err := attemptlog.Open(dbCfg, a.logger)
	if err != nil {
		return err
	}
	var storeOpts []attemptlog.StoreOption
	if a.metrics != nil {
		storeOpts = append(storeOpts, attemptlog.WithMetrics(a.metrics))
	}
	store, err := attemptlog.NewStore(db, attemptlog.PoolConfigFrom(dbCfg), a.logger, storeOpts...)
	if err != nil {
		return err
	}
	if a.cfg.AttemptLog.AutoMigrate {
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return err
		}
	}
	a.store = store
	return nil
}

// openCache 本地 LRU 始终可用，Redis 连不上时只用本地缓存
func (a *app) openCache(ctx context.Context) {
	c := a.cfg.Cache
	cacheCfg := &cache.Config{
		LocalMaxSize: c.LocalMaxSize,
		LocalTTL:     c.LocalTTL,
		RedisTTL:     c.RedisTTL,
		EnableLocal:  c.LocalMaxSize > 0,
	}

	if c.Redis.Addr != "" {
		opts := &redis.Options{
			Addr:         c.Redis.Addr,
			Password:     c.Redis.Password,
			DB:           c.Redis.DB,
			PoolSize:     c.Redis.PoolSize,
			MinIdleConns: c.Redis.MinIdleConns,
		}
		if c.Redis.TLS {
			opts.TLSConfig = tlsutil.ClientConfig(c.Redis.Addr, c.Redis.TLSServerName)
		}
		rdb := redis.NewClient(opts)
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			a.logger.Warn("redis not available, using local result cache only",
				zap.String("addr", c.Redis.Addr), zap.Error(err))
			rdb.Close()
		} else {
			a.rdb = rdb
			cacheCfg.EnableRedis = true
		}
	}

	a.cache = cache.NewResultCache(a.rdb, cacheCfg, a.logger)
}

// generatorOptions 把配置与已初始化的组件转换为生成选项
func (a *app) generatorOptions() ([]gen.Option, error) {
	opts, err := gen.OptionsFromConfig(a.cfg)
	if err != nil {
		return nil, err
	}
	opts = append(opts,
		gen.WithLogger(a.logger),
		gen.WithTracer(a.otel.Tracer()),
	)
	if a.metrics != nil {
		opts = append(opts, gen.WithMetrics(a.metrics))
	}
	if a.store != nil {
		opts = append(opts, gen.WithAttemptRecorder(a.store))
	}
	if a.cache != nil {
		opts = append(opts, gen.WithResultCache(a.cache))
	}
	return opts, nil
}

// wrapProvider 按 provider 配置包装中间件：最外层恢复 panic，重试在单次超时之外
func (a *app) wrapProvider(p llm.Provider) llm.Provider {
	pc := a.cfg.Provider
	mws := []middleware.Middleware{
		middleware.Recovery(a.logger),
		middleware.Logging(a.logger),
	}
	if a.metrics != nil {
		mws = append(mws, middleware.Metrics(a.metrics))
	}
	if pc.RateLimitRPS > 0 {
		mws = append(mws, middleware.RateLimit(pc.RateLimitRPS, pc.RateLimitBurst))
	}
	if pc.MaxRetries > 0 {
		policy := retry.DefaultRetryPolicy()
		policy.MaxRetries = pc.MaxRetries
		if pc.RetryInitialDelay > 0 {
			policy.InitialDelay = pc.RetryInitialDelay
		}
		if pc.RetryMaxDelay > 0 {
			policy.MaxDelay = pc.RetryMaxDelay
		}
		mws = append(mws, middleware.TransportRetry(policy, a.logger))
	}
	if pc.Timeout > 0 {
		mws = append(mws, middleware.Timeout(pc.Timeout))
	}
	return middleware.Wrap(p, mws...)
}

// Close 按初始化的逆序释放资源
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close attempt log: %w", err))
		}
	}
	if err := a.otel.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// =============================================================================
// 🚀 run 命令
// =============================================================================

// runReport run 命令的输出
type runReport struct {
	Values    map[string]any `yaml:"values"`
	Reasoning string         `yaml:"reasoning,omitempty"`
	Attempts  int            `yaml:"attempts"`
	Cached    bool           `yaml:"cached,omitempty"`
	TraceID   string         `yaml:"trace_id"`
}

func runGenerate(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dsl := fs.String("dsl", "", "Signature DSL")
	inputsPath := fs.String("inputs", "", "Path to input values (YAML)")
	transcriptPath := fs.String("transcript", "", "Path to scripted model responses (YAML)")
	configPath := fs.String("config", "", "Path to config file")
	metricsFile := fs.String("metrics-file", "", "Write Prometheus metrics to this file after the run")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *dsl == "" || *transcriptPath == "" {
		return &exitError{code: 2, msg: "run: --dsl and --transcript are required"}
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	logger, err := cfg.Log.BuildLogger()
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	ctx := context.Background()
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.Close(shutdownCtx); err != nil {
			logger.Warn("shutdown", zap.Error(err))
		}
	}()

	report, err := a.generate(ctx, *dsl, *inputsPath, *transcriptPath)
	if *metricsFile != "" && a.metrics != nil {
		if werr := prometheus.WriteToTextfile(*metricsFile, prometheus.DefaultGatherer); werr != nil {
			logger.Warn("write metrics file", zap.Error(werr))
		}
	}
	if err != nil {
		return err
	}
	return writeYAML(stdout, report)
}

// generate 解析签名与输入，针对回放的对话记录运行一次 Forward
func (a *app) generate(ctx context.Context, dsl, inputsPath, transcriptPath string) (*runReport, error) {
	sig, err := a.sigs.Get(dsl)
	if err != nil {
		return nil, err
	}
	inputs := signature.Values{}
	if inputsPath != "" {
		if inputs, err = loadInputs(inputsPath, sig); err != nil {
			return nil, err
		}
	}
	t, err := loadTranscript(transcriptPath)
	if err != nil {
		return nil, err
	}

	registry := llm.NewProviderRegistry()
	base, _ := newTranscriptProvider(t)
	registry.Register(a.wrapProvider(base))
	provider, err := registry.Resolve("")
	if err != nil {
		return nil, err
	}

	opts, err := a.generatorOptions()
	if err != nil {
		return nil, err
	}
	g, err := gen.NewFromSignature(sig, opts...)
	if err != nil {
		return nil, err
	}

	res, err := g.Forward(ctx, provider, inputs)
	if err != nil {
		return nil, err
	}
	return &runReport{
		Values:    res.Values.Map(),
		Reasoning: res.Reasoning,
		Attempts:  res.Attempts,
		Cached:    res.Cached,
		TraceID:   res.TraceID,
	}, nil
}
