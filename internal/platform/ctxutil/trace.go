package ctxutil

import (
	"context"

	"github.com/google/uuid"
)

// Default returns context.Background() when ctx is nil.
func Default(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

type traceDataKey struct{}

type TraceData struct {
	TraceID   string
	RequestID string
}

func WithTraceData(ctx context.Context, td *TraceData) context.Context {
	return context.WithValue(ctx, traceDataKey{}, td)
}

func GetTraceData(ctx context.Context) *TraceData {
	val := ctx.Value(traceDataKey{})
	if td, ok := val.(*TraceData); ok {
		return td
	}
	return nil
}

// RequestID returns the request id from the context, or "N/A" when absent.
func RequestID(ctx context.Context) string {
	if td := GetTraceData(ctx); td != nil && td.RequestID != "" {
		return td.RequestID
	}
	return "N/A"
}

// EnsureRequestID returns a context that carries a request id, minting one
// when the incoming context has none.
func EnsureRequestID(ctx context.Context) context.Context {
	if td := GetTraceData(ctx); td != nil && td.RequestID != "" {
		return ctx
	}
	return WithTraceData(ctx, &TraceData{RequestID: uuid.NewString()})
}
