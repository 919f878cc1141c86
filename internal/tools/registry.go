// Package tools holds the local tool registry the agent runner exposes
// to the model. Tools are declared on the request; when the model calls
// one, the runner executes it here and feeds the result back.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MaxParamsSize caps tool input JSON to keep a misbehaving stream from
// buffering unbounded arguments.
const MaxParamsSize = 1 << 20

// Tool is one callable capability.
type Tool interface {
	// Name returns the function-calling name (alphanumeric, underscores).
	Name() string

	// Description tells the model when to use the tool.
	Description() string

	// Schema returns the JSON Schema for the tool's parameters.
	Schema() json.RawMessage

	// Execute runs the tool. params match Schema.
	Execute(ctx context.Context, params json.RawMessage) (string, error)
}

// Registry is a thread-safe name-indexed tool collection. List returns
// tools in registration order so declarations stay stable across runs.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool, replacing any previous tool of the same name.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := tool.Name()
	if _, exists := r.tools[name]; !exists {
		r.order = append(r.order, name)
	}
	r.tools[name] = tool
}

// Get returns the named tool.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// List returns all tools in registration order.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Execute runs a tool by name. Unknown tools and oversized params return
// an error rather than panicking into the model's lap.
func (r *Registry) Execute(ctx context.Context, name string, params json.RawMessage) (string, error) {
	if len(params) > MaxParamsSize {
		return "", fmt.Errorf("tool %s: params exceed %d bytes", name, MaxParamsSize)
	}

	tool, ok := r.Get(name)
	if !ok {
		return "", fmt.Errorf("tool not found: %s", name)
	}
	return tool.Execute(ctx, params)
}
