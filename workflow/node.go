package workflow

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// nodeSeq orders nodes by creation, which breaks topological ties
var nodeSeq int64

// Node wires one task into a workflow: its predecessors' outputs become
// the task's positional inputs. Nodes are identified by a UID and are
// safe to share between workflows.
type Node struct {
	task   Task
	inputs []*Node
	name   string
	uid    string
	seq    int64
}

// NewNode wraps a task with its input nodes. An empty name falls back
// to a generated one.
func NewNode(task Task, name string, inputs ...*Node) *Node {
	uid := uuid.NewString()
	if name == "" {
		name = fmt.Sprintf("node-%s", uid[:8])
	}
	return &Node{
		task:   task,
		inputs: append([]*Node(nil), inputs...),
		name:   name,
		uid:    uid,
		seq:    atomic.AddInt64(&nodeSeq, 1),
	}
}

// Task returns the wrapped task
func (n *Node) Task() Task { return n.task }

// Name returns the display name of the node
func (n *Node) Name() string { return n.name }

// UID returns the unique identifier of the node
func (n *Node) UID() string { return n.uid }

// Inputs returns the predecessor nodes in declaration order
func (n *Node) Inputs() []*Node { return append([]*Node(nil), n.inputs...) }

func (n *Node) String() string {
	return fmt.Sprintf("%s(%s)", n.name, n.uid[:8])
}
