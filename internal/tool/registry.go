package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"

	"github.com/samber/lo"

	"conduit/internal/domain"
)

// ErrDuplicateTool is returned by Register when the name is already taken.
var ErrDuplicateTool = errors.New("tool already registered")

// Registry holds all available tools and executes them.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]domain.Tool
	logger *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:  make(map[string]domain.Tool),
		logger: logger,
	}
}

// Register adds t. Names are unique; a second registration under the same
// name fails with ErrDuplicateTool.
func (r *Registry) Register(t domain.Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := t.Name()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, name)
	}
	r.tools[name] = t
	r.logger.Debug("registered tool", "name", name)
	return nil
}

// MustRegister is Register for startup wiring; it panics on a duplicate.
func (r *Registry) MustRegister(tools ...domain.Tool) {
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
}

func (r *Registry) Get(name string) domain.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Execute runs one tool call. It never returns an error: unknown tools,
// tool errors and panics all become a failed ToolResult the model can read.
func (r *Registry) Execute(ctx context.Context, call domain.ToolCall) (result domain.ToolResult) {
	result = domain.ToolResult{CallID: call.ID, Name: call.Name}

	t := r.Get(call.Name)
	if t == nil {
		result.Content = fmt.Sprintf("Error: unknown tool %q (available: %v)", call.Name, r.Names())
		return result
	}

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("tool panic", "tool", call.Name, "panic", p, "stack", string(debug.Stack()))
			result.Content = fmt.Sprintf("Error: tool %s panicked: %v", call.Name, p)
			result.OK = false
		}
	}()

	if r.logger.Enabled(ctx, slog.LevelDebug) {
		if argsJSON, err := json.Marshal(call.Arguments); err == nil {
			r.logger.Debug("tool arguments", "tool", call.Name, "args", string(argsJSON))
		}
	}

	args := call.Arguments
	if args == nil {
		args = map[string]any{}
	}
	out, err := t.Execute(ctx, args)
	if err != nil {
		result.Content = fmt.Sprintf("Error: %s", err.Error())
		if out != "" {
			result.Content += "\n" + out
		}
		return result
	}
	result.Content = out
	result.OK = true
	return result
}

// Definitions returns tool definitions sorted by name so prompts are stable.
func (r *Registry) Definitions() []domain.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]domain.ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, domain.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := lo.Keys(r.tools)
	sort.Strings(names)
	return names
}

// Subset returns a new registry holding the tools that pass f. The tool
// instances are shared with r.
func (r *Registry) Subset(f *Filter) *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sub := NewRegistry(r.logger)
	for name, t := range r.tools {
		if f.IsAllowed(name) {
			sub.tools[name] = t
		}
	}
	return sub
}
