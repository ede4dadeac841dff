// Package tools defines the Tool interface, the name-keyed registry the
// agent dispatches through, and the built-in tool implementations.
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/quietloop/fennec/internal/providers"
)

// Tool is one capability the LLM can invoke. Execute returns the text fed
// back to the model; an error is also fed back, stringified by the registry.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any // JSON schema for the arguments object
	Execute(ctx context.Context, args map[string]any) (string, error)
}

// Registry maps tool names to implementations. Safe for concurrent use:
// external tool servers register and unregister while the agent runs.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Names are unique; a duplicate is an error.
func (r *Registry) Register(t Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := t.Name()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}
	r.tools[name] = t
	return nil
}

// Unregister removes a tool by name. Unknown names are a no-op.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	delete(r.tools, name)
	r.mu.Unlock()
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions returns all tools in the OpenAI-compatible schema, ordered by
// name so the prompt is stable across calls.
func (r *Registry) Definitions() []providers.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	defs := make([]providers.ToolDefinition, 0, len(names))
	for _, name := range names {
		t := r.tools[name]
		defs = append(defs, providers.ToolDefinition{
			Type: "function",
			Function: providers.ToolFunctionSchema{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return defs
}

// Execute dispatches one tool call and always returns result text: unknown
// tools, tool errors and panics inside a tool body all come back as
// "Error: ..." strings so the agent loop can feed them to the LLM.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (result string) {
	t, ok := r.Get(name)
	if !ok {
		return fmt.Sprintf("Error: unknown tool %q", name)
	}

	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("tool panicked", "tool", name, "panic", rec)
			result = fmt.Sprintf("Error: tool %s panicked: %v", name, rec)
		}
	}()

	out, err := t.Execute(ctx, args)
	if err != nil {
		return "Error: " + err.Error()
	}
	return out
}
