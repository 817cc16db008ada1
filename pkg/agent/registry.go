package agent

import (
	"context"
	"sort"
	"sync"
)

// AgentTool is a single callable capability the loop can hand to a
// provider and later invoke on its behalf.
type AgentTool interface {
	Name() string
	Description() string
	ParametersSchema() map[string]any
	Execute(ctx context.Context, arguments map[string]any) (any, error)
}

// ToolRegistry is a name-keyed catalog of AgentTools. Registration is
// last-writer-wins; iteration order is always the sorted tool name so the
// provider-facing tool list and prompt text stay deterministic across
// calls.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]AgentTool
}

// NewToolRegistry builds an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]AgentTool)}
}

// Register adds or replaces the tool under its own name.
func (r *ToolRegistry) Register(tool AgentTool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
}

// Get looks up a tool by name.
func (r *ToolRegistry) Get(name string) (AgentTool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns every registered tool name, sorted.
func (r *ToolRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ToolSchema is the provider-facing description of one tool: its name,
// description, and JSON-Schema parameters.
type ToolSchema struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ListSchemas returns every registered tool's schema, sorted by name.
func (r *ToolRegistry) ListSchemas() []ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ToolSchema, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, ToolSchema{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.ParametersSchema(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
