// Package tool defines the side-effecting operations planner strategies
// may invoke, and the registry strategies resolve them from.
//
// Tools take and return loosely typed maps because their inputs come from
// either hard-coded strategy logic or LLM output; each tool validates its
// own input and returns ExecutionError for anything malformed.
package tool

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// ErrUnknownTool is returned by Registry.Lookup for unregistered names.
var ErrUnknownTool = errors.New("tool: unknown tool")

// Context carries the identity scope a tool call executes under.
// Tools must never touch rows outside TenantID.
type Context struct {
	TenantID uuid.UUID
	ActorID  string
	RunID    uuid.UUID
}

// Tool is a single named operation the planner can invoke.
type Tool interface {
	// Name returns the stable identifier strategies and event logs use.
	Name() string
	// Call executes the tool. Input keys are tool-specific; the returned
	// map becomes the tool_result output.
	Call(ctx context.Context, tc Context, input map[string]any) (map[string]any, error)
}

// ExecutionError is a classified tool failure. Reason is a stable
// machine-readable token recorded in error events; Message is for humans.
type ExecutionError struct {
	Reason  string
	Message string
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("tool: %s: %s", e.Reason, e.Message)
}

// Execerr builds an ExecutionError.
func Execerr(reason, format string, args ...any) *ExecutionError {
	return &ExecutionError{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// Registry maps tool names to implementations. Safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool, replacing any existing tool with the same name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Lookup resolves a tool by name.
func (r *Registry) Lookup(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}
	return t, nil
}

// Names returns the registered tool names in sorted order.
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
