package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/chavruta/chavruta/pkg/logger"
)

// VisibilityContext carries the request attributes visibility filters may
// inspect when deciding whether a tool is offered to the LLM.
type VisibilityContext struct {
	Channel   string
	ChatID    string
	UserID    string
	UserRoles []string
}

// VisibilityFilter returns true when the tool should be visible in the given
// context. Tools without a filter are always visible.
type VisibilityFilter func(ctx VisibilityContext) bool

// Registry holds the tool set and the hook chain the orchestrator executes
// through.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	filters map[string]VisibilityFilter
	hooks   []ToolHook
}

func NewRegistry() *Registry {
	return &Registry{
		tools:   make(map[string]Tool),
		filters: make(map[string]VisibilityFilter),
	}
}

func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
	delete(r.filters, tool.Name())
}

// RegisterWithFilter registers a tool whose visibility depends on context.
func (r *Registry) RegisterWithFilter(tool Tool, filter VisibilityFilter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
	if filter != nil {
		r.filters[tool.Name()] = filter
	} else {
		delete(r.filters, tool.Name())
	}
}

// AddHook appends a hook. Hooks run in registration order; the first
// BeforeExecute error blocks the call.
func (r *Registry) AddHook(hook ToolHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, hook)
}

func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Execute runs one tool call through the hook chain. It never panics across
// the boundary; unknown tools and blocked calls come back as error results.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) *ToolResult {
	tool, ok := r.Get(name)
	if !ok {
		logger.ErrorCF("tool", "Tool not found", map[string]any{"tool": name})
		return ErrorResult(fmt.Sprintf("tool %q not found", name)).WithError(fmt.Errorf("tool not found"))
	}

	r.mu.RLock()
	hooks := append([]ToolHook(nil), r.hooks...)
	r.mu.RUnlock()

	for _, hook := range hooks {
		if err := hook.BeforeExecute(ctx, name, args); err != nil {
			logger.WarnCF("tool", "Tool call blocked by hook",
				map[string]any{"tool": name, "reason": err.Error()})
			return ErrorResult(err.Error()).WithError(err)
		}
	}

	start := time.Now()
	result := tool.Execute(ctx, args)
	duration := time.Since(start)

	for _, hook := range hooks {
		hook.AfterExecute(ctx, name, args, result)
	}

	if result.IsError {
		logger.ErrorCF("tool", "Tool execution failed",
			map[string]any{
				"tool":        name,
				"duration_ms": duration.Milliseconds(),
				"error":       result.ForLLM,
			})
	} else {
		logger.InfoCF("tool", "Tool execution completed",
			map[string]any{
				"tool":          name,
				"duration_ms":   duration.Milliseconds(),
				"result_length": len(result.ForLLM),
			})
	}
	return result
}

// sortedToolNames keeps definition order deterministic; unstable ordering
// would invalidate the LLM's prompt prefix cache between calls.
func (r *Registry) sortedToolNames() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) GetDefinitions() []map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sorted := r.sortedToolNames()
	definitions := make([]map[string]any, 0, len(sorted))
	for _, name := range sorted {
		definitions = append(definitions, ToolToSchema(r.tools[name]))
	}
	return definitions
}

// GetDefinitionsForContext returns definitions for the tools visible in ctx.
func (r *Registry) GetDefinitionsForContext(ctx VisibilityContext) []map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sorted := r.sortedToolNames()
	definitions := make([]map[string]any, 0, len(sorted))
	for _, name := range sorted {
		filter, hasFilter := r.filters[name]
		if !hasFilter || filter(ctx) {
			definitions = append(definitions, ToolToSchema(r.tools[name]))
		}
	}
	return definitions
}

// List returns all registered tool names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedToolNames()
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}
