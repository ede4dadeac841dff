package tools

import "context"

// RequestContext carries the origin of the turn being processed so
// side-effecting tools (message, spawn, cron) know which channel and chat
// to act on. The agent loop injects it into ctx before dispatching.
type RequestContext struct {
	Channel    string
	ChatID     string
	SessionKey string
}

type requestCtxKey struct{}

// WithRequest attaches the per-turn request context.
func WithRequest(ctx context.Context, rc RequestContext) context.Context {
	return context.WithValue(ctx, requestCtxKey{}, rc)
}

// RequestFrom extracts the per-turn request context, if any.
func RequestFrom(ctx context.Context) (RequestContext, bool) {
	rc, ok := ctx.Value(requestCtxKey{}).(RequestContext)
	return rc, ok
}
