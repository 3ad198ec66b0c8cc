// Package workflow models processing pipelines as validated DAGs of
// task nodes and executes them one parameter set at a time.
package workflow

import "context"

// Task is one unit of work. Inputs are the outputs of the node's
// predecessors in declaration order; params carry the per-execution
// arguments injected for the node.
type Task interface {
	Execute(ctx context.Context, inputs []any, params map[string]any) (any, error)
}

// TaskFunc adapts a function to the Task interface
type TaskFunc func(ctx context.Context, inputs []any, params map[string]any) (any, error)

// Execute calls the wrapped function
func (f TaskFunc) Execute(ctx context.Context, inputs []any, params map[string]any) (any, error) {
	return f(ctx, inputs, params)
}
