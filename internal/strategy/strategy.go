// Package strategy implements the pluggable planner algorithms that turn
// a goal into an ordered sequence of tool calls.
//
// All variants share one contract: emit a tool_call event before invoking
// a tool and a tool_result event after it returns, issue calls
// sequentially, and propagate tool failures unless the variant has an
// explicit recovery path. Strategies never touch run status; that belongs
// to the coordinator.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gearbox-ai/gearbox/internal/model"
	"github.com/gearbox-ai/gearbox/internal/tool"
)

// ErrUnknownStrategy is returned by Registry.Lookup for unregistered
// planner kinds. The coordinator rejects such requests before creating
// a run.
var ErrUnknownStrategy = errors.New("strategy: unknown strategy")

// EmitFunc appends one event to the run's log. Implementations swallow
// write failures, so strategies call it without checking for errors.
type EmitFunc func(kind model.EventKind, payload any)

// Strategy is one planner algorithm.
type Strategy interface {
	// Kind returns the discriminator callers select this strategy by.
	Kind() string
	// Run executes the goal. Returning nil marks the run succeeded;
	// returning an error marks it failed.
	Run(ctx context.Context, goal string, runCtx map[string]any, tc tool.Context, emit EmitFunc) error
}

// Registry maps planner kinds to strategies. Built once at startup.
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{strategies: make(map[string]Strategy)}
}

// Register adds a strategy, replacing any existing one of the same kind.
func (r *Registry) Register(s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[s.Kind()] = s
}

// Lookup resolves a strategy by kind.
func (r *Registry) Lookup(kind string) (Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, kind)
	}
	return s, nil
}

// Kinds returns the registered kinds in sorted order.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.strategies))
	for kind := range r.strategies {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// callTool performs one bracketed tool invocation: tool_call event,
// invocation, then tool_result event on success. A failed call emits no
// result event; the failure either propagates or is handled by the
// calling strategy.
func callTool(ctx context.Context, tools *tool.Registry, name string, input map[string]any, tc tool.Context, emit EmitFunc) (map[string]any, error) {
	t, err := tools.Lookup(name)
	if err != nil {
		return nil, err
	}

	emit(model.EventToolCall, model.ToolCallPayload{ToolName: name, Input: input})

	start := time.Now()
	out, err := t.Call(ctx, tc, input)
	if err != nil {
		return nil, err
	}

	emit(model.EventToolResult, model.ToolResultPayload{
		ToolName:   name,
		Output:     out,
		DurationMs: time.Since(start).Milliseconds(),
	})
	return out, nil
}

// stringContext reads an optional string value from the run context.
func stringContext(runCtx map[string]any, key string) string {
	if runCtx == nil {
		return ""
	}
	if s, ok := runCtx[key].(string); ok {
		return s
	}
	return ""
}
