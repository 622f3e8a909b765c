// Package context carries request-scoped values between the HTTP layer
// and everything that logs on its behalf, without leaking http types
// inward.
package context

import "context"

type requestIDKey struct{}

// WithRequestID tags ctx with the id assigned at ingress.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// GetRequestID returns the request id, or "" outside a request (the
// sweeper, the reaper, and consumer loops run on background contexts).
func GetRequestID(ctx context.Context) string {
	v := ctx.Value(requestIDKey{})
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
