package gen

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/sigflow/assertion"
	"github.com/BaSui01/sigflow/llm"
	"github.com/BaSui01/sigflow/prompt"
	"github.com/BaSui01/sigflow/signature"
	"github.com/BaSui01/sigflow/types"
)

// Generator 绑定一个签名与一组断言。构造后可被多个 goroutine 并发调用 Forward.
type Generator struct {
	sig     *signature.Signature
	asserts *assertion.Engine
	opts    Options
}

// New parses dsl through the shared signature cache and builds a generator.
func New(dsl string, opts ...Option) (*Generator, error) {
	sig, err := signature.DefaultCache().Get(dsl)
	if err != nil {
		return nil, err
	}
	return NewFromSignature(sig, opts...)
}

// NewFromSignature builds a generator for an already parsed signature.
func NewFromSignature(sig *signature.Signature, opts ...Option) (*Generator, error) {
	if sig == nil {
		return nil, errors.New("gen: nil signature")
	}
	g := &Generator{
		sig:     sig,
		asserts: assertion.NewEngine(),
		opts:    defaultOptions().apply(opts),
	}
	if g.opts.ChainOfThought {
		if _, err := withReasoning(sig); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// Signature returns the bound signature.
func (g *Generator) Signature() *signature.Signature { return g.sig }

// AddAssert registers a semantic rule. message becomes the corrective
// feedback of the next attempt when the rule fails.
func (g *Generator) AddAssert(pred assertion.Predicate, message string) {
	g.asserts.Add(pred, message)
}

// AddRequire registers fn as a rule that stays indeterminate until every
// named output field is present.
func (g *Generator) AddRequire(message string, fn func(assertion.Output) bool, fields ...string) {
	g.asserts.Add(assertion.Require(fields, fn), message)
}

// Assertions returns the number of registered rules.
func (g *Generator) Assertions() int { return g.asserts.Len() }

func withReasoning(sig *signature.Signature) (*signature.Signature, error) {
	field := signature.NewField(prompt.ReasoningField, signature.TypeString, signature.AsOptional())
	cot, err := sig.WithOutputPrefix(field)
	if err != nil {
		return nil, fmt.Errorf("chain of thought: %w", err)
	}
	return cot, nil
}

// Forward runs the generation loop for inputs against model. opts override
// the generator's options for this call only.
func (g *Generator) Forward(ctx context.Context, model llm.Model, inputs signature.Values, opts ...Option) (*Result, error) {
	o := g.opts.apply(opts)
	start := time.Now()
	traceID := uuid.New().String()

	ctx, span := o.Tracer.Start(ctx, "gen.Forward", trace.WithAttributes(
		attribute.String("sigflow.trace_id", traceID),
		attribute.String("sigflow.signature", g.sig.String()),
		attribute.Int("sigflow.max_attempts", o.MaxAttempts),
		attribute.Bool("sigflow.streaming", o.Streaming),
	))
	defer span.End()
	ctx = types.WithSignature(types.WithTraceID(ctx, traceID), g.sig.String())

	r := &run{
		gen:     g,
		opts:    o,
		model:   model,
		inputs:  inputs,
		traceID: traceID,
		state:   StateRendering,
		logger: o.Logger.With(
			zap.String("component", "generator"),
			zap.String("trace_id", traceID),
		),
		renderer: prompt.Renderer{
			DisplayZone:     o.DisplayZone,
			Tokenizer:       o.Tokenizer,
			MaxPromptTokens: o.MaxPromptTokens,
		},
	}

	res, outcome, err := r.forward(ctx)
	o.Metrics.RecordGeneration(outcome, r.attempt, time.Since(start))
	span.SetAttributes(
		attribute.String("sigflow.outcome", outcome),
		attribute.Int("sigflow.attempts", r.attempt),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		return nil, err
	}
	span.SetStatus(codes.Ok, "")
	return res, nil
}

// run 单次 Forward 的私有状态，不与其他请求共享.
type run struct {
	gen      *Generator
	opts     Options
	model    llm.Model
	inputs   signature.Values
	sig      *signature.Signature // 含 reasoning 字段（思维链模式）
	renderer prompt.Renderer
	traceID  string
	logger   *zap.Logger

	state    State
	attempt  int
	cacheKey string
}

func (r *run) forward(ctx context.Context) (*Result, string, error) {
	if r.model == nil {
		return nil, outcomeInvalidInput, errors.New("gen: nil model")
	}
	if err := signature.ValidateInputs(r.gen.sig, r.inputs); err != nil {
		r.logger.Debug("inputs rejected", zap.Error(err))
		return nil, outcomeInvalidInput, err
	}

	r.sig = r.gen.sig
	if r.opts.ChainOfThought {
		cot, err := withReasoning(r.gen.sig)
		if err != nil {
			return nil, outcomeInvalidInput, err
		}
		r.sig = cot
	}

	var (
		feedback           []string
		validationFailures int
		assertionFailures  int
	)
	for r.attempt = 1; ; r.attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, outcomeCanceled, r.canceled(err)
		}
		if r.attempt > 1 {
			r.transition(StateRendering)
		}

		out, err := r.runAttempt(ctx, feedback)
		if err != nil {
			outcome, terr := r.terminal(ctx, err)
			return nil, outcome, terr
		}
		if out.cached {
			r.transition(StateDone)
			r.logger.Debug("served from result cache")
			return r.result(out, 0), outcomeCached, nil
		}
		r.record(ctx, out)

		if out.reason == "" {
			r.transition(StateDone)
			r.storeResult(ctx, out)
			r.logger.Debug("generation succeeded", zap.Int("attempts", r.attempt))
			return r.result(out, r.attempt), outcomeSuccess, nil
		}

		r.opts.Metrics.RecordAttemptFailure(out.reason)
		feedback = out.feedback()

		var exhausted bool
		switch {
		case out.reason == reasonAssertion:
			assertionFailures++
			exhausted = r.attempt >= r.opts.MaxAttempts
			if r.opts.MaxAssertionAttempts > 0 {
				exhausted = assertionFailures >= r.opts.MaxAssertionAttempts
			}
		default:
			validationFailures++
			exhausted = r.attempt >= r.opts.MaxAttempts
			if r.opts.MaxAssertionAttempts > 0 {
				exhausted = validationFailures >= r.opts.MaxAttempts
			}
		}

		if exhausted {
			r.transition(StateFailed)
			gerr := &GenerationError{Attempts: r.attempt, Errors: out.errs, TraceID: r.traceID}
			if out.failure != nil {
				gerr.Assertion = out.failure.Message
			}
			r.logger.Warn("generation failed, retry budget exhausted",
				zap.Int("attempts", r.attempt),
				zap.String("reason", out.reason),
				zap.Strings("errors", feedback),
			)
			return nil, outcomeFailed, gerr
		}

		r.logger.Info("attempt failed, retrying with feedback",
			zap.Int("attempt", r.attempt),
			zap.String("reason", out.reason),
			zap.Strings("feedback", feedback),
		)
		r.transition(StateRetrying)
	}
}

// terminal classifies an error that ends the loop without a retry.
func (r *run) terminal(ctx context.Context, err error) (string, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return outcomeCanceled, r.canceled(ctxErr)
	}
	r.transition(StateFailed)

	var te *TransportError
	if errors.As(err, &te) {
		r.logger.Warn("model invocation failed",
			zap.Int("attempt", r.attempt),
			zap.Bool("timeout", te.Timeout),
			zap.Error(te.Err),
		)
		return outcomeTransport, te
	}
	r.logger.Warn("attempt aborted", zap.Int("attempt", r.attempt), zap.Error(err))
	return outcomeRenderError, err
}

func (r *run) canceled(err error) error {
	r.logger.Debug("generation canceled", zap.Int("attempt", r.attempt), zap.Error(err))
	return fmt.Errorf("generation canceled on attempt %d: %w", r.attempt, err)
}

func (r *run) result(out *attemptOutcome, attempts int) *Result {
	values := make(signature.Values, len(out.values))
	for _, f := range r.gen.sig.Outputs() {
		if v, ok := out.values[f.Name()]; ok {
			values[f.Name()] = v
		} else {
			values[f.Name()] = signature.Null()
		}
	}
	return &Result{
		Values:    values.Clone(),
		Raw:       out.raw,
		Reasoning: out.reasoning,
		Attempts:  attempts,
		TraceID:   r.traceID,
		Cached:    out.cached,
	}
}

func (r *run) record(ctx context.Context, out *attemptOutcome) {
	if r.opts.Recorder == nil {
		return
	}
	outcome := out.reason
	if outcome == "" {
		outcome = outcomeSuccess
	}
	a := Attempt{
		TraceID:   r.traceID,
		Signature: r.gen.sig.String(),
		Number:    r.attempt,
		Outcome:   outcome,
		Feedback:  out.feedback(),
		Raw:       out.raw,
		Duration:  out.duration,
	}
	if err := r.opts.Recorder.RecordAttempt(ctx, a); err != nil {
		r.logger.Warn("failed to record attempt", zap.Int("attempt", r.attempt), zap.Error(err))
	}
}
