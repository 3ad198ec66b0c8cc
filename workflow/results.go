package workflow

import "time"

// Status is the lifecycle state of one node within one execution
type Status int

const (
	// StatusPending means the node has not started
	StatusPending Status = iota
	// StatusRunning means the node is executing
	StatusRunning
	// StatusDone means the node finished successfully
	StatusDone
	// StatusFailed means the node errored or was skipped after an
	// upstream failure
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusDone:
		return "done"
	default:
		return "failed"
	}
}

// NodeResult records one node's outcome within one execution
type NodeResult struct {
	Status Status
	Err    error
	Start  time.Time
	End    time.Time
}

// Results is the outcome of one workflow execution
type Results struct {
	Start time.Time
	End   time.Time
	// Nodes maps node UID to its result
	Nodes map[string]*NodeResult
	// Outputs holds the values of output nodes, keyed by output name
	Outputs map[string]any
	// ErrorNode is the UID of the first failed node, empty on success
	ErrorNode string
}

func newResults(w *Workflow) *Results {
	out := &Results{
		Start:   time.Now(),
		Nodes:   make(map[string]*NodeResult, len(w.order)),
		Outputs: map[string]any{},
	}
	for _, n := range w.order {
		out.Nodes[n.uid] = &NodeResult{Status: StatusPending}
	}
	return out
}

func (r *Results) finish() { r.End = time.Now() }

// Succeeded reports whether every node finished successfully
func (r *Results) Succeeded() bool { return r.ErrorNode == "" }

// Error returns the error of the first failed node, nil on success
func (r *Results) Error() error {
	if r.ErrorNode == "" {
		return nil
	}
	return r.Nodes[r.ErrorNode].Err
}
