package gen

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/sigflow/assertion"
	"github.com/BaSui01/sigflow/extract"
	"github.com/BaSui01/sigflow/llm"
	"github.com/BaSui01/sigflow/llm/cache"
	"github.com/BaSui01/sigflow/prompt"
	"github.com/BaSui01/sigflow/signature"
	"github.com/BaSui01/sigflow/types"
)

const resultCacheType = "result"

// attemptOutcome 一次尝试的结论。reason 为空表示成功.
type attemptOutcome struct {
	values    signature.Values // 不含 reasoning
	reasoning string
	raw       string
	errs      []error
	failure   *assertion.Failure
	reason    string
	cached    bool
	duration  time.Duration
}

// feedback 把失败转成注入下一次渲染的纠正说明.
func (o *attemptOutcome) feedback() []string {
	if o.failure != nil {
		return []string{o.failure.Message}
	}
	lines := make([]string, 0, len(o.errs))
	for _, err := range o.errs {
		var fe interface{ Feedback() string }
		if errors.As(err, &fe) {
			lines = append(lines, fe.Feedback())
		} else {
			lines = append(lines, err.Error())
		}
	}
	return lines
}

// fieldResults 收集字段完成时的转换结果，并在流式模式下执行提前断言.
// replay 模式用于校验缓存条目：不通知监听器、不记录状态转换与指标，
// 事件暂存在 events 中，命中后再统一派发.
type fieldResults struct {
	run     *run
	values  signature.Values
	errs    map[string]error
	done    map[string]bool
	early   *assertion.Failure
	checkAt bool
	replay  bool
	events  []FieldEvent
}

func (r *run) newFieldResults() *fieldResults {
	return &fieldResults{
		run:     r,
		values:  make(signature.Values),
		errs:    make(map[string]error),
		done:    make(map[string]bool),
		checkAt: r.opts.Streaming && r.opts.EarlyAssertions && r.gen.asserts.Len() > 0,
	}
}

func (fr *fieldResults) onComplete(c extract.Completion) {
	r := fr.run
	name := c.Field.Name()
	v, err := r.resolve(c.Field, c.Raw)
	fr.done[name] = true
	if err != nil {
		fr.errs[name] = err
	} else {
		fr.values[name] = v
	}

	ev := FieldEvent{Name: name, Value: v, Err: err, Attempt: r.attempt}
	if fr.replay {
		fr.events = append(fr.events, ev)
		return
	}
	for _, fn := range r.opts.Listeners {
		fn(ev)
	}

	if fr.checkAt && fr.early == nil && name != prompt.ReasoningField {
		if f := r.gen.asserts.Check(assertion.NewOutput(fr.declared())); f != nil {
			fr.early = f
			r.logger.Debug("early assertion failed, aborting stream",
				zap.String("field", name),
				zap.String("assertion", f.Message),
			)
		}
	}
}

func (fr *fieldResults) transition(to State) {
	if !fr.replay {
		fr.run.transition(to)
	}
}

func (fr *fieldResults) fieldError(name string) {
	if !fr.replay {
		fr.run.opts.Metrics.RecordFieldError(name)
	}
}

// declared returns the successfully coerced values without the reasoning field.
func (fr *fieldResults) declared() signature.Values {
	out := make(signature.Values, len(fr.values))
	for k, v := range fr.values {
		if k != prompt.ReasoningField {
			out[k] = v
		}
	}
	return out
}

// resolve coerces a completed field. Blank text is an absent value: Null for
// optional fields, a MissingFieldError otherwise.
func (r *run) resolve(f signature.Field, raw string) (signature.Value, error) {
	if strings.TrimSpace(raw) == "" {
		if f.IsOptional() {
			return signature.Null(), nil
		}
		return signature.Value{}, signature.NewMissingFieldError(f)
	}
	v, verr := signature.Coerce(f, raw, r.opts.coerceOptions())
	if verr != nil {
		return signature.Value{}, verr
	}
	return v, nil
}

func (r *run) runAttempt(ctx context.Context, feedback []string) (*attemptOutcome, error) {
	start := time.Now()
	ctx, span := r.opts.Tracer.Start(ctx, "gen.attempt", trace.WithAttributes(
		attribute.Int("sigflow.attempt", r.attempt),
		attribute.Int("sigflow.feedback_lines", len(feedback)),
	))
	defer span.End()
	ctx = types.WithAttempt(ctx, r.attempt)

	req, err := r.renderer.Render(r.sig, r.inputs, feedback)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "render")
		return nil, err
	}
	if req.Tokens > 0 {
		r.opts.Metrics.RecordPromptTokens(req.Tokens)
	}

	chat := req.ChatRequest(r.opts.Model)
	chat.TraceID = r.traceID
	chat.Metadata = map[string]string{"attempt": strconv.Itoa(r.attempt)}

	if r.attempt == 1 && r.opts.Cache != nil {
		if out := r.lookupCache(ctx, chat); out != nil {
			span.SetAttributes(attribute.Bool("sigflow.cache_hit", true))
			return out, nil
		}
	}

	fr := r.newFieldResults()
	ex := extract.New(r.sig.Outputs(), extract.WithListener(fr.onComplete), extract.WithContext(ctx))

	r.transition(StateAwaitingResponse)
	if r.opts.Streaming {
		err = r.stream(ctx, chat, ex, fr)
	} else {
		err = r.complete(ctx, chat, ex)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "model")
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, newTransportError(err, r.attempt)
	}

	out := r.evaluate(ex, fr)
	out.duration = time.Since(start)
	if out.reason != "" {
		span.SetAttributes(attribute.String("sigflow.failure", out.reason))
	}
	return out, nil
}

func (r *run) complete(ctx context.Context, chat *llm.ChatRequest, ex *extract.Extractor) error {
	resp, err := r.model.Completion(ctx, chat)
	if err != nil {
		return err
	}
	text, err := llm.Text(resp)
	if err != nil {
		return err
	}
	r.transition(StateExtracting)
	ex.Write(text)
	ex.Finish()
	return nil
}

// stream 按到达顺序把增量交给抽取器。提前断言失败时取消上游并停止消费.
func (r *run) stream(ctx context.Context, chat *llm.ChatRequest, ex *extract.Extractor, fr *fieldResults) error {
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ch, err := r.model.Stream(sctx, chat)
	if err != nil {
		return err
	}
	r.transition(StateExtracting)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case chunk, ok := <-ch:
			// select 在 ctx 与已排队的增量之间随机选择；上游也可能因取消而关闭通道
			if err := ctx.Err(); err != nil {
				return err
			}
			if !ok {
				ex.Finish()
				return nil
			}
			if chunk.Err != nil {
				return chunk.Err
			}
			ex.Write(chunk.Delta.Content)
			if fr.early != nil {
				return nil
			}
		}
	}
}

// evaluate validates every output field and then runs the assertions.
func (r *run) evaluate(ex *extract.Extractor, fr *fieldResults) *attemptOutcome {
	out := &attemptOutcome{raw: ex.Raw()}
	if v, ok := fr.values[prompt.ReasoningField]; ok && !v.IsNull() {
		out.reasoning = v.Str()
	}

	if fr.early != nil {
		fr.transition(StateAsserting)
		out.values = fr.declared()
		out.failure = fr.early
		out.errs = []error{fr.early}
		out.reason = reasonAssertion
		return out
	}

	fr.transition(StateValidating)
	values := make(signature.Values)
	for _, f := range r.sig.Outputs() {
		name := f.Name()
		switch {
		case fr.errs[name] != nil:
			out.errs = append(out.errs, fr.errs[name])
			fr.fieldError(name)
		case fr.done[name]:
			if name != prompt.ReasoningField {
				values[name] = fr.values[name]
			}
		case f.IsOptional():
			if name != prompt.ReasoningField {
				values[name] = signature.Null()
			}
		default:
			out.errs = append(out.errs, signature.NewMissingFieldError(f))
			fr.fieldError(name)
		}
	}
	out.values = values

	if len(out.errs) > 0 {
		out.reason = reasonValidation
		if countMissing(out.errs) == len(out.errs) {
			out.reason = reasonMissing
		}
		return out
	}

	fr.transition(StateAsserting)
	if f := r.gen.asserts.Check(assertion.NewOutput(values)); f != nil {
		out.failure = f
		out.errs = []error{f}
		out.reason = reasonAssertion
	}
	return out
}

func countMissing(errs []error) int {
	n := 0
	for _, err := range errs {
		var merr *signature.MissingFieldError
		if errors.As(err, &merr) {
			n++
		}
	}
	return n
}

// lookupCache 命中且重新抽取、转换与断言全部通过时返回结果，否则按未命中处理.
func (r *run) lookupCache(ctx context.Context, chat *llm.ChatRequest) *attemptOutcome {
	r.cacheKey = cache.RequestKey(chat, "class_match="+r.opts.ClassMatch.String())
	entry, err := r.opts.Cache.Get(ctx, r.cacheKey)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			r.logger.Warn("result cache lookup failed", zap.Error(err))
		}
		r.opts.Metrics.RecordCacheMiss(resultCacheType)
		return nil
	}

	fr := r.newFieldResults()
	fr.checkAt = false
	fr.replay = true
	ex := extract.New(r.sig.Outputs(), extract.WithListener(fr.onComplete))
	ex.Write(entry.Raw)
	ex.Finish()

	out := r.evaluate(ex, fr)
	if out.reason != "" {
		r.logger.Info("cached result no longer valid, ignoring", zap.String("reason", out.reason))
		r.opts.Metrics.RecordCacheMiss(resultCacheType)
		return nil
	}
	r.opts.Metrics.RecordCacheHit(resultCacheType)
	for _, ev := range fr.events {
		for _, fn := range r.opts.Listeners {
			fn(ev)
		}
	}
	out.cached = true
	return out
}

func (r *run) storeResult(ctx context.Context, out *attemptOutcome) {
	if r.opts.Cache == nil || r.cacheKey == "" {
		return
	}
	entry := &cache.Entry{
		Raw:       out.raw,
		Reasoning: r.opts.ChainOfThought,
		Model:     r.opts.Model,
		Attempts:  r.attempt,
	}
	if err := r.opts.Cache.Set(ctx, r.cacheKey, entry); err != nil {
		r.logger.Warn("failed to store result", zap.Error(err))
	}
}
