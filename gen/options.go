package gen

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/sigflow/config"
	"github.com/BaSui01/sigflow/internal/tzdb"
	"github.com/BaSui01/sigflow/llm/cache"
	"github.com/BaSui01/sigflow/llm/tokenizer"
	"github.com/BaSui01/sigflow/signature"
)

// DefaultMaxAttempts 默认总尝试次数（首次 + 重试）.
const DefaultMaxAttempts = 3

const tracerName = "github.com/BaSui01/sigflow/gen"

// Metrics 生成循环的指标接口，由 internal/metrics.Collector 实现.
type Metrics interface {
	RecordGeneration(outcome string, attempts int, duration time.Duration)
	RecordAttemptFailure(reason string)
	RecordFieldError(field string)
	RecordStateTransition(from, to string)
	RecordPromptTokens(n int)
	RecordCacheHit(cacheType string)
	RecordCacheMiss(cacheType string)
}

type nopMetrics struct{}

func (nopMetrics) RecordGeneration(string, int, time.Duration) {}
func (nopMetrics) RecordAttemptFailure(string)                 {}
func (nopMetrics) RecordFieldError(string)                     {}
func (nopMetrics) RecordStateTransition(string, string)        {}
func (nopMetrics) RecordPromptTokens(int)                      {}
func (nopMetrics) RecordCacheHit(string)                       {}
func (nopMetrics) RecordCacheMiss(string)                      {}

// Attempt 一次尝试的内部记录。反馈只进日志与尝试日志，不会出现在 Result 中.
type Attempt struct {
	TraceID   string
	Signature string
	Number    int
	Outcome   string // success, validation, missing, assertion
	Feedback  []string
	Raw       string
	Duration  time.Duration
}

// AttemptRecorder 持久化尝试记录，由 internal/attemptlog.Store 实现.
type AttemptRecorder interface {
	RecordAttempt(ctx context.Context, a Attempt) error
}

// ResultCache 结果缓存，由 llm/cache.ResultCache 实现.
type ResultCache interface {
	Get(ctx context.Context, key string) (*cache.Entry, error)
	Set(ctx context.Context, key string, entry *cache.Entry) error
}

// FieldEvent 字段完成事件，携带到目前为止转换得到的值.
type FieldEvent struct {
	Name    string
	Value   signature.Value
	Err     error // 转换失败时为 *signature.ValidationError 或 *signature.MissingFieldError
	Attempt int
}

// FieldListener 在字段完成时被同步调用，按声明顺序.
type FieldListener func(FieldEvent)

// Options 生成配置.
type Options struct {
	MaxAttempts          int
	MaxAssertionAttempts int // 0 表示与 MaxAttempts 共享预算
	ChainOfThought       bool
	Streaming            bool
	EarlyAssertions      bool
	ClassMatch           signature.ClassMatch
	DisplayZone          *time.Location
	Zones                *tzdb.DB
	Model                string
	Tokenizer            tokenizer.Tokenizer
	MaxPromptTokens      int
	Listeners            []FieldListener

	Logger   *zap.Logger
	Metrics  Metrics
	Tracer   trace.Tracer
	Recorder AttemptRecorder
	Cache    ResultCache
}

// Option configures a Generator at construction, or a single Forward call.
type Option func(*Options)

func defaultOptions() Options {
	return Options{
		MaxAttempts: DefaultMaxAttempts,
		Logger:      zap.NewNop(),
		Metrics:     nopMetrics{},
		Tracer:      otel.Tracer(tracerName),
	}
}

// apply returns a copy of o with opts applied. Listener slices are never shared.
func (o Options) apply(opts []Option) Options {
	o.Listeners = append([]FieldListener(nil), o.Listeners...)
	for _, opt := range opts {
		opt(&o)
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.MaxAssertionAttempts < 0 {
		o.MaxAssertionAttempts = 0
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Metrics == nil {
		o.Metrics = nopMetrics{}
	}
	if o.Tracer == nil {
		o.Tracer = otel.Tracer(tracerName)
	}
	return o
}

func (o Options) coerceOptions() signature.CoerceOptions {
	return signature.CoerceOptions{ClassMatch: o.ClassMatch, Zones: o.Zones}
}

// WithMaxAttempts sets the total attempt budget (first attempt included).
func WithMaxAttempts(n int) Option {
	return func(o *Options) { o.MaxAttempts = n }
}

// WithMaxAssertionAttempts gives assertion failures their own budget.
// Validation failures then count only against MaxAttempts.
func WithMaxAssertionAttempts(n int) Option {
	return func(o *Options) { o.MaxAssertionAttempts = n }
}

// WithChainOfThought prepends a free-text reasoning output.
func WithChainOfThought(enabled bool) Option {
	return func(o *Options) { o.ChainOfThought = enabled }
}

// WithStreaming consumes the model response as a stream.
func WithStreaming(enabled bool) Option {
	return func(o *Options) { o.Streaming = enabled }
}

// WithFieldListener subscribes to field-completion events.
func WithFieldListener(fn FieldListener) Option {
	return func(o *Options) {
		if fn != nil {
			o.Listeners = append(o.Listeners, fn)
		}
	}
}

// WithEarlyAssertions evaluates assertions as each streamed field completes
// and aborts the stream on the first failure.
func WithEarlyAssertions(enabled bool) Option {
	return func(o *Options) { o.EarlyAssertions = enabled }
}

// WithClassMatch sets the class label matching policy.
func WithClassMatch(m signature.ClassMatch) Option {
	return func(o *Options) { o.ClassMatch = m }
}

// WithDisplayZone sets the zone datetimes are rendered in.
func WithDisplayZone(loc *time.Location) Option {
	return func(o *Options) { o.DisplayZone = loc }
}

// WithZoneDB injects the time zone database used for datetime coercion.
func WithZoneDB(db *tzdb.DB) Option {
	return func(o *Options) { o.Zones = db }
}

// WithModel sets the model name stamped on every request.
func WithModel(model string) Option {
	return func(o *Options) { o.Model = model }
}

// WithTokenizer enables prompt token counting and an optional budget.
func WithTokenizer(t tokenizer.Tokenizer, maxPromptTokens int) Option {
	return func(o *Options) {
		o.Tokenizer = t
		o.MaxPromptTokens = maxPromptTokens
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *Options) { o.Logger = logger }
}

func WithMetrics(m Metrics) Option {
	return func(o *Options) { o.Metrics = m }
}

func WithTracer(t trace.Tracer) Option {
	return func(o *Options) { o.Tracer = t }
}

func WithAttemptRecorder(r AttemptRecorder) Option {
	return func(o *Options) { o.Recorder = r }
}

func WithResultCache(c ResultCache) Option {
	return func(o *Options) { o.Cache = c }
}

// OptionsFromConfig converts the engine and tokenizer sections.
func OptionsFromConfig(cfg *config.Config) ([]Option, error) {
	e := cfg.Engine
	match, err := signature.ParseClassMatch(e.ClassMatch)
	if err != nil {
		return nil, err
	}

	opts := []Option{
		WithMaxAttempts(e.MaxAttempts),
		WithMaxAssertionAttempts(e.MaxAssertionAttempts),
		WithChainOfThought(e.ChainOfThought),
		WithStreaming(e.Stream),
		WithEarlyAssertions(e.EarlyAssertions),
		WithClassMatch(match),
		WithModel(e.Model),
	}

	if e.DisplayZone != "" {
		loc, err := tzdb.Default().Resolve(e.DisplayZone)
		if err != nil {
			return nil, fmt.Errorf("engine.display_zone: %w", err)
		}
		opts = append(opts, WithDisplayZone(loc))
	}

	if cfg.Tokenizer.Enabled {
		model := cfg.Tokenizer.Model
		if model == "" {
			model = e.Model
		}
		opts = append(opts, WithTokenizer(tokenizer.ForModel(model), cfg.Tokenizer.MaxPromptTokens))
	}
	return opts, nil
}
