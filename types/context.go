package types

import "context"

// contextKey is used for storing values in context.Context.
type contextKey string

const (
	keyTraceID   contextKey = "trace_id"
	keyAttempt   contextKey = "attempt"
	keySignature contextKey = "signature"
)

// WithTraceID adds trace ID to context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, keyTraceID, traceID)
}

// TraceID extracts trace ID from context.
func TraceID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyTraceID).(string)
	return v, ok && v != ""
}

// WithAttempt records the 1-based generation attempt number.
func WithAttempt(ctx context.Context, attempt int) context.Context {
	return context.WithValue(ctx, keyAttempt, attempt)
}

// Attempt extracts the generation attempt number from context.
func Attempt(ctx context.Context) (int, bool) {
	v, ok := ctx.Value(keyAttempt).(int)
	return v, ok && v > 0
}

// WithSignature adds the canonical signature text to context.
func WithSignature(ctx context.Context, sig string) context.Context {
	return context.WithValue(ctx, keySignature, sig)
}

// Signature extracts the canonical signature text from context.
func Signature(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keySignature).(string)
	return v, ok && v != ""
}
