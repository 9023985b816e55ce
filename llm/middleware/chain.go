package middleware

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/sigflow/llm"
	"github.com/BaSui01/sigflow/llm/retry"
	"github.com/BaSui01/sigflow/types"
)

// Handler 处理一个同步请求.
type Handler func(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error)

// StreamHandler 处理一个流式请求.
type StreamHandler func(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error)

// Middleware 包裹一个 Model 并添加额外功能.
type Middleware func(next llm.Model) llm.Model

// model 由两个处理函数组成的 Model.
type model struct {
	completion Handler
	stream     StreamHandler
}

func (m model) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	return m.completion(ctx, req)
}

func (m model) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	return m.stream(ctx, req)
}

// Func builds a middleware from per-call decorators. Either may be nil,
// in which case that half of the model passes through unchanged.
func Func(completion func(Handler) Handler, stream func(StreamHandler) StreamHandler) Middleware {
	return func(next llm.Model) llm.Model {
		m := model{completion: next.Completion, stream: next.Stream}
		if completion != nil {
			m.completion = completion(m.completion)
		}
		if stream != nil {
			m.stream = stream(m.stream)
		}
		return m
	}
}

// Chain 表示中间件链.
type Chain struct {
	middlewares []Middleware
	mu          sync.RWMutex
}

// NewChain 创建新的中间件链.
func NewChain(middlewares ...Middleware) *Chain {
	return &Chain{middlewares: middlewares}
}

// Use 将中间件添加到链尾.
func (c *Chain) Use(m Middleware) *Chain {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.middlewares = append(c.middlewares, m)
	return c
}

// UseFront 在链的前部添加中间件.
func (c *Chain) UseFront(m Middleware) *Chain {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.middlewares = append([]Middleware{m}, c.middlewares...)
	return c
}

// Then 用链中的所有中间件包裹 m，第一个中间件位于最外层.
func (c *Chain) Then(m llm.Model) llm.Model {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for i := len(c.middlewares) - 1; i >= 0; i-- {
		m = c.middlewares[i](m)
	}
	return m
}

// Len 返回链中的中间件数量.
func (c *Chain) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.middlewares)
}

type namedModel struct {
	llm.Model
	name string
}

func (n namedModel) Name() string { return n.name }

// Wrap applies middlewares to p and keeps its name.
func Wrap(p llm.Provider, middlewares ...Middleware) llm.Provider {
	return namedModel{Model: NewChain(middlewares...).Then(p), name: p.Name()}
}

// IsTransient reports whether err is a model error flagged retryable.
func IsTransient(err error) bool {
	var llmErr *llm.Error
	return errors.As(err, &llmErr) && llmErr.Retryable
}

// 内置中间件

// Logging 记录请求/响应详情.
func Logging(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "model"))

	return Func(
		func(next Handler) Handler {
			return func(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
				start := time.Now()
				fields := callFields(ctx, req)
				logger.Debug("model request", append(fields,
					zap.String("model", req.Model),
					zap.Int("messages", len(req.Messages)))...)

				resp, err := next(ctx, req)
				if err != nil {
					logger.Warn("model request failed", append(fields,
						zap.Duration("duration", time.Since(start)),
						zap.Error(err))...)
					return resp, err
				}
				logger.Debug("model response", append(fields,
					zap.Int("tokens", resp.Usage.TotalTokens),
					zap.Duration("duration", time.Since(start)))...)
				return resp, nil
			}
		},
		func(next StreamHandler) StreamHandler {
			return func(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
				fields := callFields(ctx, req)
				logger.Debug("model stream", append(fields, zap.String("model", req.Model))...)
				ch, err := next(ctx, req)
				if err != nil {
					logger.Warn("model stream failed", append(fields, zap.Error(err))...)
				}
				return ch, err
			}
		},
	)
}

// callFields 请求上的 trace ID 优先，其次取 ctx 中引擎写入的值
func callFields(ctx context.Context, req *llm.ChatRequest) []zap.Field {
	traceID := req.TraceID
	if traceID == "" {
		traceID, _ = types.TraceID(ctx)
	}
	fields := make([]zap.Field, 0, 6)
	fields = append(fields, zap.String("trace_id", traceID))
	if n, ok := types.Attempt(ctx); ok {
		fields = append(fields, zap.Int("attempt", n))
	}
	return fields
}

func timeoutError(d time.Duration, cause error) *llm.Error {
	return &llm.Error{
		Code:      llm.ErrUpstreamTimeout,
		Message:   fmt.Sprintf("model call timed out after %s", d),
		Retryable: true,
		Cause:     cause,
	}
}

// Timeout 对请求添加超时，超时以 ErrUpstreamTimeout 报告.
// 流式请求的超时覆盖整个流，超时后投递一个带错误的块并关闭通道.
func Timeout(d time.Duration) Middleware {
	return Func(
		func(next Handler) Handler {
			return func(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
				tctx, cancel := context.WithTimeout(ctx, d)
				defer cancel()
				resp, err := next(tctx, req)
				if err != nil && ctx.Err() == nil && errors.Is(tctx.Err(), context.DeadlineExceeded) {
					return nil, timeoutError(d, err)
				}
				return resp, err
			}
		},
		func(next StreamHandler) StreamHandler {
			return func(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
				tctx, cancel := context.WithTimeout(ctx, d)
				in, err := next(tctx, req)
				if err != nil {
					cancel()
					if ctx.Err() == nil && errors.Is(tctx.Err(), context.DeadlineExceeded) {
						return nil, timeoutError(d, err)
					}
					return nil, err
				}

				out := make(chan llm.StreamChunk)
				go func() {
					defer cancel()
					defer close(out)
					// 上游可能因超时先关闭通道，两条路径都要报告超时
					reportTimeout := func() {
						if ctx.Err() != nil || !errors.Is(tctx.Err(), context.DeadlineExceeded) {
							return
						}
						select {
						case out <- llm.StreamChunk{Err: timeoutError(d, tctx.Err())}:
						case <-ctx.Done():
						}
					}
					for {
						select {
						case chunk, ok := <-in:
							if !ok {
								reportTimeout()
								return
							}
							select {
							case out <- chunk:
							case <-ctx.Done():
								return
							}
						case <-tctx.Done():
							reportTimeout()
							return
						}
					}
				}()
				return out, nil
			}
		},
	)
}

// BlockingRateLimiter 阻塞式限流器，超出速率时等待.
type BlockingRateLimiter interface {
	Wait(ctx context.Context) error
}

// RateLimit 使用令牌桶限制请求速率（同步与流式共享同一个桶）.
func RateLimit(rps float64, burst int) Middleware {
	if burst <= 0 {
		burst = 1
	}
	return RateLimitWith(rate.NewLimiter(rate.Limit(rps), burst))
}

// RateLimitWith 使用给定的限流器.
func RateLimitWith(limiter BlockingRateLimiter) Middleware {
	wait := func(ctx context.Context) error {
		if err := limiter.Wait(ctx); err != nil {
			return &llm.Error{Code: llm.ErrRateLimited, Message: "rate limit wait aborted", Cause: err}
		}
		return nil
	}
	return Func(
		func(next Handler) Handler {
			return func(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
				if err := wait(ctx); err != nil {
					return nil, err
				}
				return next(ctx, req)
			}
		},
		func(next StreamHandler) StreamHandler {
			return func(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
				if err := wait(ctx); err != nil {
					return nil, err
				}
				return next(ctx, req)
			}
		},
	)
}

// TransportRetry 按退避策略重试可重试的传输错误（IsTransient）.
// 流式请求只重试建立连接的调用，已开始投递的流不会重放.
func TransportRetry(policy retry.RetryPolicy, logger *zap.Logger) Middleware {
	if policy.ShouldRetry == nil {
		policy.ShouldRetry = IsTransient
	}
	backoff := retry.NewBackoff(policy, logger)

	return Func(
		func(next Handler) Handler {
			return func(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
				return retry.DoWithResult(ctx, backoff, func() (*llm.ChatResponse, error) {
					return next(ctx, req)
				})
			}
		},
		func(next StreamHandler) StreamHandler {
			return func(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
				return retry.DoWithResult(ctx, backoff, func() (<-chan llm.StreamChunk, error) {
					return next(ctx, req)
				})
			}
		},
	)
}

// MetricsCollector 定义模型调用指标接口，由 internal/metrics.Collector 实现.
type MetricsCollector interface {
	RecordModelRequest(model string, duration time.Duration, success bool)
}

// Metrics 收集同步请求的耗时与成功率.
func Metrics(collector MetricsCollector) Middleware {
	return Func(func(next Handler) Handler {
		return func(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			collector.RecordModelRequest(req.Model, time.Since(start), err == nil)
			return resp, err
		}
	}, nil)
}

// Recovery 把模型实现中的 panic 转为 ErrUpstreamError.
func Recovery(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	recovered := func(r any) error {
		logger.Error("model panic recovered", zap.Any("panic", r))
		return &llm.Error{Code: llm.ErrUpstreamError, Message: fmt.Sprintf("model panicked: %v", r)}
	}
	return Func(
		func(next Handler) Handler {
			return func(ctx context.Context, req *llm.ChatRequest) (resp *llm.ChatResponse, err error) {
				defer func() {
					if r := recover(); r != nil {
						resp, err = nil, recovered(r)
					}
				}()
				return next(ctx, req)
			}
		},
		func(next StreamHandler) StreamHandler {
			return func(ctx context.Context, req *llm.ChatRequest) (ch <-chan llm.StreamChunk, err error) {
				defer func() {
					if r := recover(); r != nil {
						ch, err = nil, recovered(r)
					}
				}()
				return next(ctx, req)
			}
		},
	)
}
