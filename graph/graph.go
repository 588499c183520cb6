// Package graph executes a DAG of nodes with conditional edges. A Runner
// drives the walk through a middleware onion and a transformer chain, with
// optional checkpointing, idempotent re-runs and suspend/resume for
// human-in-the-loop nodes.
package graph

import (
	"context"
	"fmt"

	"github.com/no-ai-labs/spice-go/result"
	"github.com/no-ai-labs/spice-go/runtime"
)

// State keys the runner maintains inside NodeContext.State.
const (
	StatePrevious     = "_previous"
	StateHitlResponse = "_hitl_response"
)

// NodeContext carries the mutable state of one run. State is owned by a
// single run; nodes of the same run never execute concurrently, so no
// locking is needed.
type NodeContext struct {
	RunID   string
	GraphID string
	State   map[string]any
	Exec    runtime.ExecutionContext
}

// Previous returns the output of the most recently completed node, or the
// run input for the entry node.
func (nc *NodeContext) Previous() any {
	return nc.State[StatePrevious]
}

// WaitingSignal describes a human-in-the-loop suspension raised by a node.
type WaitingSignal struct {
	ToolCallID    string
	Prompt        string
	Options       []string
	AllowFreeText bool
	SelectionType string
}

// NodeResult is the output of one node execution. A non-nil Waiting field
// suspends the run instead of advancing it.
type NodeResult struct {
	Data     any
	Metadata map[string]any
	Waiting  *WaitingSignal
}

// Node is an executable vertex of a graph.
type Node interface {
	ID() string
	Run(ctx context.Context, nc *NodeContext) result.Result[NodeResult]
}

// EdgeCondition gates an edge on the completed node's result.
type EdgeCondition func(NodeResult) bool

// Edge connects two nodes. Edges from the same node are evaluated in
// declared order and the first match is taken.
type Edge struct {
	From      string
	To        string
	Condition EdgeCondition
}

// Graph is a validated, immutable DAG. Build one with a Builder.
type Graph struct {
	id    string
	entry string
	nodes map[string]Node
	edges map[string][]Edge
}

// ID returns the graph id.
func (g *Graph) ID() string { return g.id }

// Entry returns the entry node id.
func (g *Graph) Entry() string { return g.entry }

// Node looks up a node by id.
func (g *Graph) Node(id string) (Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// EdgesFrom returns the declared outgoing edges of a node.
func (g *Graph) EdgesFrom(id string) []Edge {
	return g.edges[id]
}

// Builder assembles a graph. Validation happens in Build, so wiring
// mistakes fail deterministically before the first run.
type Builder struct {
	id    string
	entry string
	nodes []Node
	edges []Edge
}

// NewBuilder starts a graph definition.
func NewBuilder(id string) *Builder {
	return &Builder{id: id}
}

// AddNode appends a node. Duplicate ids are rejected at Build.
func (b *Builder) AddNode(n Node) *Builder {
	b.nodes = append(b.nodes, n)
	return b
}

// AddEdge appends an unconditional edge.
func (b *Builder) AddEdge(from, to string) *Builder {
	b.edges = append(b.edges, Edge{From: from, To: to})
	return b
}

// AddConditionalEdge appends an edge gated on the source node's result.
func (b *Builder) AddConditionalEdge(from, to string, cond EdgeCondition) *Builder {
	b.edges = append(b.edges, Edge{From: from, To: to, Condition: cond})
	return b
}

// SetEntry names the entry node.
func (b *Builder) SetEntry(id string) *Builder {
	b.entry = id
	return b
}

// Build validates the definition and returns the graph.
func (b *Builder) Build() (*Graph, *result.Error) {
	if b.id == "" {
		return nil, result.Configuration("graph id is empty", "id")
	}
	if len(b.nodes) == 0 {
		return nil, result.Configuration("graph has no nodes", "nodes").WithContext("graph", b.id)
	}

	nodes := make(map[string]Node, len(b.nodes))
	for _, n := range b.nodes {
		if n == nil || n.ID() == "" {
			return nil, result.Configuration("node without id", "nodes").WithContext("graph", b.id)
		}
		if _, dup := nodes[n.ID()]; dup {
			return nil, result.Configuration("duplicate node id", "nodes").
				WithContext("graph", b.id, "node", n.ID())
		}
		nodes[n.ID()] = n
	}

	entry := b.entry
	if entry == "" {
		entry = b.nodes[0].ID()
	}
	if _, ok := nodes[entry]; !ok {
		return nil, result.Configuration("entry node not found", "entry").
			WithContext("graph", b.id, "node", entry)
	}

	edges := make(map[string][]Edge)
	for _, e := range b.edges {
		if _, ok := nodes[e.From]; !ok {
			return nil, result.Configuration("edge from unknown node", "edges").
				WithContext("graph", b.id, "node", e.From)
		}
		if _, ok := nodes[e.To]; !ok {
			return nil, result.Configuration("edge to unknown node", "edges").
				WithContext("graph", b.id, "node", e.To)
		}
		edges[e.From] = append(edges[e.From], e)
	}

	if err := checkAcyclic(entry, edges); err != nil {
		return nil, err.WithContext("graph", b.id)
	}

	return &Graph{id: b.id, entry: entry, nodes: nodes, edges: edges}, nil
}

func checkAcyclic(entry string, edges map[string][]Edge) *result.Error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int)
	var visit func(id string) *result.Error
	visit = func(id string) *result.Error {
		color[id] = gray
		for _, e := range edges[id] {
			switch color[e.To] {
			case gray:
				return result.Configuration(fmt.Sprintf("cycle through node %q", e.To), "edges")
			case white:
				if err := visit(e.To); err != nil {
					return err
				}
			}
		}
		color[id] = black
		return nil
	}
	return visit(entry)
}
