package taskruntime

import (
	"context"
	"fmt"

	"newsrun/internal/domain/entity"
)

// Handler is a task body: a named function mapping (args, kwargs) to a
// JSON-serializable result (spec §4.1's execution contract).
type Handler func(ctx context.Context, args, kwargs map[string]any) (any, error)

// TaskSpec is one entry in the static registry: the task name plus its
// default routing and retry policy. Submit callers may override queue,
// priority and not-before per call; the spec's canonical policies live
// here as defaults so call sites don't repeat them.
type TaskSpec struct {
	Name     string
	Queue    entity.QueueClass
	Priority int
	Retry    RetryPolicy
	Handler  Handler
}

// Registry is the static task-name → handler map populated at process
// start (spec §4.1: "Workers resolve the name from a static registry
// populated at process start"). It is a total function over known
// names; an unregistered name is a dead-letter candidate rather than a
// dispatch error, per the "tagged variant over job payloads" redesign
// note in spec.md §9.
type Registry struct {
	specs map[string]TaskSpec
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{specs: make(map[string]TaskSpec)}
}

// Register adds spec to the registry. Calling Register twice for the
// same name overwrites the earlier entry; callers should only do this
// once per name at process start.
func (r *Registry) Register(spec TaskSpec) {
	if spec.Handler == nil {
		panic(fmt.Sprintf("taskruntime: task %q registered with nil handler", spec.Name))
	}
	r.specs[spec.Name] = spec
}

// Lookup resolves name to its TaskSpec.
func (r *Registry) Lookup(name string) (TaskSpec, bool) {
	spec, ok := r.specs[name]
	return spec, ok
}

// Names returns every registered task name, for diagnostics.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.specs))
	for name := range r.specs {
		out = append(out, name)
	}
	return out
}
