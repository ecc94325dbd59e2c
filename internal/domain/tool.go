package domain

import "context"

// Tool is the interface for agent capabilities (exec, file ops, web, etc).
// Implementations must not keep per-exchange state; the exchange scope
// travels on ctx.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any
	Execute(ctx context.Context, args map[string]any) (string, error)
}
