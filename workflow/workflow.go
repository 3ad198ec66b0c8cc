package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/c360/geopatch/errors"
	"github.com/c360/geopatch/patch"
)

// Workflow is a validated DAG of nodes in a fixed topological order
type Workflow struct {
	order []*Node
	byUID map[string]*Node
}

// New validates the DAG spanned by the given nodes (including their
// transitive inputs) and fixes a topological order with ties broken by
// node creation order.
func New(nodes ...*Node) (*Workflow, error) {
	if len(nodes) == 0 {
		return nil, errors.Validation(errors.ErrInvalidFeatureData, "a workflow needs at least one node")
	}

	all := map[string]*Node{}
	var collect func(n *Node) error
	collect = func(n *Node) error {
		if existing, ok := all[n.uid]; ok {
			if existing != n {
				return errors.Validation(errors.ErrDuplicateNode, "two distinct nodes share UID %s", n.uid)
			}
			return nil
		}
		all[n.uid] = n
		for _, in := range n.inputs {
			if err := collect(in); err != nil {
				return err
			}
		}
		return nil
	}
	seen := map[*Node]bool{}
	for _, n := range nodes {
		if seen[n] {
			return nil, errors.Validation(errors.ErrDuplicateNode, "node %s listed twice", n)
		}
		seen[n] = true
		if err := collect(n); err != nil {
			return nil, err
		}
	}

	order, err := topologicalOrder(all)
	if err != nil {
		return nil, err
	}
	return &Workflow{order: order, byUID: all}, nil
}

// topologicalOrder is Kahn's algorithm picking ready nodes in node
// creation order, so declaration order breaks ties deterministically
func topologicalOrder(all map[string]*Node) ([]*Node, error) {
	indegree := map[*Node]int{}
	dependents := map[*Node][]*Node{}
	for _, n := range all {
		indegree[n] += 0
		for _, in := range n.inputs {
			indegree[n]++
			dependents[in] = append(dependents[in], n)
		}
	}

	var ready []*Node
	for n, deg := range indegree {
		if deg == 0 {
			ready = append(ready, n)
		}
	}
	sortBySeq(ready)

	var order []*Node
	for len(ready) > 0 {
		n := ready[0]
		ready = ready[1:]
		order = append(order, n)
		released := false
		for _, dep := range dependents[n] {
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = append(ready, dep)
				released = true
			}
		}
		if released {
			sortBySeq(ready)
		}
	}
	if len(order) != len(all) {
		return nil, errors.Validation(errors.ErrCyclicWorkflow, "workflow graph contains a cycle")
	}
	return order, nil
}

func sortBySeq(nodes []*Node) {
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].seq < nodes[j].seq })
}

// Nodes returns the topological execution order
func (w *Workflow) Nodes() []*Node { return append([]*Node(nil), w.order...) }

// NodeByUID resolves a node of this workflow
func (w *Workflow) NodeByUID(uid string) (*Node, bool) {
	n, ok := w.byUID[uid]
	return n, ok
}

// OutputNodes lists the nodes wrapping an OutputTask
func (w *Workflow) OutputNodes() []*Node {
	var out []*Node
	for _, n := range w.order {
		if _, ok := n.task.(*OutputTask); ok {
			out = append(out, n)
		}
	}
	return out
}

// ExecuteOptions tunes one workflow execution
type ExecuteOptions struct {
	// Params carries per-node arguments for this execution
	Params map[*Node]map[string]any
	// Logger receives node lifecycle events; nil uses the default
	Logger *slog.Logger
	// StrictTemporal records a temporal-dimension inconsistency on a
	// node's patch output as that node's failure
	StrictTemporal bool
}

// Execute runs every node once in topological order. A failing node
// marks its transitive dependents failed without running them;
// independent branches keep going. Node errors never abort the
// execution, with one exception: an interrupt (context cancellation or
// ErrInterrupted from a task) stops the run immediately and is
// returned alongside the partial results.
func (w *Workflow) Execute(ctx context.Context, opts ExecuteOptions) (*Results, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	results := newResults(w)
	outputs := map[*Node]any{}

	for _, n := range w.order {
		nr := results.Nodes[n.uid]

		if err := ctx.Err(); err != nil {
			results.finish()
			return results, errors.Wrap(errors.Join(errors.ErrInterrupted, err), "workflow execution")
		}

		if blockedBy := w.failedInput(results, n); blockedBy != nil {
			nr.Status = StatusFailed
			nr.Err = errors.Validation(errors.ErrUpstreamFailed, "input node %s failed", blockedBy)
			logger.Warn("node skipped after upstream failure",
				slog.String("node", n.String()), slog.String("failed_input", blockedBy.String()))
			continue
		}

		inputs := make([]any, len(n.inputs))
		for i, in := range n.inputs {
			inputs[i] = outputs[in]
		}

		nr.Status = StatusRunning
		nr.Start = time.Now()
		logger.Info("node started", slog.String("node", n.String()))

		value, err := runNode(ctx, n, inputs, opts.Params[n])
		nr.End = time.Now()

		if err == nil && opts.StrictTemporal {
			err = temporalCheck(value)
		}

		if err != nil {
			nr.Status = StatusFailed
			nr.Err = err
			if results.ErrorNode == "" {
				results.ErrorNode = n.uid
			}
			if errors.IsInterrupt(err) {
				results.finish()
				return results, errors.Wrap(err, fmt.Sprintf("node %s", n.Name()))
			}
			logger.Error("node failed", slog.String("node", n.String()), slog.Any("error", err))
			continue
		}

		nr.Status = StatusDone
		outputs[n] = value
		if out, ok := n.task.(*OutputTask); ok {
			results.Outputs[out.name] = value
		}
		logger.Info("node finished",
			slog.String("node", n.String()),
			slog.Duration("duration", nr.End.Sub(nr.Start)))
	}

	results.finish()
	return results, nil
}

// runNode executes a task with panic isolation
func runNode(ctx context.Context, n *Node, inputs []any, params map[string]any) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			if rErr, ok := r.(error); ok && errors.IsInterrupt(rErr) {
				err = rErr
				return
			}
			err = errors.Validation(errors.ErrInvalidFeatureData, "node %s panicked: %v", n.Name(), r)
		}
	}()
	return n.task.Execute(ctx, inputs, params)
}

// temporalCheck escalates temporal inconsistencies on patch outputs
func temporalCheck(value any) error {
	p, ok := value.(*patch.Patch)
	if !ok {
		return nil
	}
	issues := p.TemporalIssues()
	if len(issues) == 0 {
		return nil
	}
	return errors.Validation(errors.ErrTemporalMismatch,
		"feature %s has %d frames for %d timestamps",
		issues[0].Feature, issues[0].Frames, p.TimeLen())
}

// failedInput returns the first failed direct input of n; transitive
// failures propagate because skipped nodes are themselves marked failed
func (w *Workflow) failedInput(results *Results, n *Node) *Node {
	for _, in := range n.inputs {
		if results.Nodes[in.uid].Status == StatusFailed {
			return in
		}
	}
	return nil
}
