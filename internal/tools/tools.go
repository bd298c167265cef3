// Package tools implements the Tool Dispatcher: a registry mapping
// tool names to schema-validated handlers, each returning a normalized
// result envelope the Agent Loop forwards to the model and, when it
// carries a UI command, to the client.
package tools

import (
	"context"
	"fmt"
	"sort"

	"github.com/taskvoice/taskvoice/internal/history"
	"github.com/taskvoice/taskvoice/internal/llm"
	"github.com/taskvoice/taskvoice/internal/task"
)

// Deps is the set of store handles every handler may reach into. It is
// passed explicitly rather than closed over at registration time so a
// single Registry can serve multiple sessions sharing the same stores.
type Deps struct {
	Tasks   *task.Store
	History *history.Store
}

// Handler consumes validated tool arguments and returns the normalized
// envelope. Handlers never return an error for invalid input or a
// failed mutation — both are reported inside the envelope with
// Success=false, per the dispatcher's never-raise contract. Handlers
// have no error return; only Registry.Dispatch returns an error, for an
// unknown tool name.
type Handler func(ctx context.Context, deps Deps, args map[string]any) Envelope

// Tool is one registered entry: its wire-visible schema plus the
// handler that executes it.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
	Handler     Handler
}

// Registry holds every registered tool, keyed by name.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry builds a registry with every tool specified for this
// assistant already registered.
func NewRegistry() *Registry {
	r := &Registry{tools: make(map[string]Tool)}
	r.registerBuiltins()
	return r
}

// Register adds or replaces a tool.
func (r *Registry) Register(t Tool) {
	r.tools[t.Name] = t
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Schemas returns every registered tool in the OpenAI-style
// function-wrapper dialect the LLM Adapter expects on Request.Tools,
// ordered by name. The order must be stable across calls: the Anthropic
// provider marks the last tool in this slice as the prompt-cache
// breakpoint for the static tools block, and a map-iteration order would
// move that breakpoint on every request and defeat caching entirely.
func (r *Registry) Schemas() []llm.ToolSchema {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	schemas := make([]llm.ToolSchema, 0, len(names))
	for _, name := range names {
		t := r.tools[name]
		schemas = append(schemas, llm.ToolSchema{
			Type: "function",
			Function: llm.FunctionSchema{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return schemas
}

// Dispatch runs the named tool against args. An unknown tool name is
// the one case Dispatch surfaces as a Go error rather than a failed
// envelope: it indicates the model was offered a tool the registry
// never advertised, which is a wiring bug, not a model mistake.
func (r *Registry) Dispatch(ctx context.Context, deps Deps, name string, args map[string]any) (Envelope, error) {
	t, ok := r.tools[name]
	if !ok {
		return Envelope{}, fmt.Errorf("dispatch: unknown tool %q", name)
	}
	return t.Handler(ctx, deps, args), nil
}
