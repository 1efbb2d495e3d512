package invocation

import "context"

type contextKey struct{}

// WithID returns a context carrying the invocation id for one top-level
// action execution. Use ID(ctx) to retrieve it. When the request has no
// id, do not call WithID.
func WithID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, contextKey{}, id)
}

// ID returns the invocation id from the context, or empty string if not
// set.
func ID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v := ctx.Value(contextKey{})
	if v == nil {
		return ""
	}
	s, _ := v.(string)
	return s
}
