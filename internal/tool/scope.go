package tool

import "context"

// Scope identifies the exchange a tool call belongs to. The agent loop
// attaches it to the context passed to Execute; tools read it from there
// and keep no per-exchange fields of their own.
type Scope struct {
	Channel    string
	ChatID     string
	SessionKey string
}

type scopeKey struct{}

func WithScope(ctx context.Context, s Scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, s)
}

// ScopeFrom returns the exchange scope on ctx, if any.
func ScopeFrom(ctx context.Context) (Scope, bool) {
	s, ok := ctx.Value(scopeKey{}).(Scope)
	return s, ok
}
