package reqctx

import (
	"context"
)

type ctxKeyTraceID struct{}

var traceIDKey = ctxKeyTraceID{}

// WithTraceID сохраняет trace_id в контексте (используется HTTP middleware;
// command service пробрасывает его в wire-событие)
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceIDFromContext возвращает trace_id из контекста, если он был установлен
func TraceIDFromContext(ctx context.Context) (string, bool) {
	traceID, ok := ctx.Value(traceIDKey).(string)
	return traceID, ok
}
