// Package ctxkeys carries request-scoped correlation data through a
// context.Context, for components that only see a ctx (not the full
// unified.RequestContext) but still need to tag their log lines with the
// request they belong to — internal/dispatcher's HTTP attempts, in
// particular, since Dispatch's ctx is the one thing every retry/failover
// step already threads through.
package ctxkeys

import "context"

type contextKey string

const requestIDKey contextKey = "request_id"

// WithRequestID attaches a request ID to ctx.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestID returns the request ID attached by WithRequestID, if any.
func RequestID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(requestIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
