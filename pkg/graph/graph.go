// Package graph builds executable dependency graphs from workflow node
// and edge lists. The graph is immutable once built: the engine reads
// dependency sets and topological order from it but never mutates it
// during execution.
package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/haldane/stepflow/pkg/errors"
	"github.com/haldane/stepflow/pkg/workflow"
)

// ExecutionNode pairs a workflow node with its computed adjacency:
// Dependencies are the upstream node ids that must complete first, and
// Dependents are the downstream node ids unlocked by this node.
type ExecutionNode struct {
	Node         *workflow.Node
	Dependencies map[string]bool
	Dependents   map[string]bool
}

// Graph is an immutable dependency graph over a workflow's nodes.
type Graph struct {
	nodes map[string]*ExecutionNode

	// order preserves the definition order of node ids so traversals
	// stay deterministic.
	order []string

	// dangling holds edges skipped by the dangling-edges build option.
	dangling []workflow.Edge
}

// buildOptions carries optional Build behavior.
type buildOptions struct {
	allowDanglingEdges bool
}

// BuildOption customizes graph construction.
type BuildOption func(*buildOptions)

// WithDanglingEdgesAllowed records-and-skips edges that reference unknown
// node ids instead of failing the build. Engine-level callers are strict;
// this option exists for tooling that inspects partially specified
// definitions.
func WithDanglingEdgesAllowed() BuildOption {
	return func(o *buildOptions) {
		o.allowDanglingEdges = true
	}
}

// Build computes the adjacency structure for the given nodes and edges.
// Every edge must reference declared node ids; an unknown reference fails
// with a GraphError of kind unknown_reference unless dangling edges are
// explicitly allowed. Cycles are not detected here: TopoSort reports them
// on its single traversal.
func Build(nodes []workflow.Node, edges []workflow.Edge, opts ...BuildOption) (*Graph, error) {
	options := buildOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	g := &Graph{
		nodes: make(map[string]*ExecutionNode, len(nodes)),
		order: make([]string, 0, len(nodes)),
	}

	for i := range nodes {
		node := &nodes[i]
		if node.ID == "" {
			return nil, &errors.ValidationError{
				Field:      "nodes",
				Message:    "node ID is required",
				Suggestion: "add an 'id' field to each node",
			}
		}
		if _, exists := g.nodes[node.ID]; exists {
			return nil, &errors.ValidationError{
				Field:      "nodes",
				Message:    fmt.Sprintf("duplicate node ID: %s", node.ID),
				Suggestion: "ensure each node has a unique ID",
			}
		}
		g.nodes[node.ID] = &ExecutionNode{
			Node:         node,
			Dependencies: make(map[string]bool),
			Dependents:   make(map[string]bool),
		}
		g.order = append(g.order, node.ID)
	}

	for _, edge := range edges {
		source, sourceOK := g.nodes[edge.Source]
		target, targetOK := g.nodes[edge.Target]

		if !sourceOK || !targetOK {
			if options.allowDanglingEdges {
				g.dangling = append(g.dangling, edge)
				continue
			}
			missing := edge.Source
			if sourceOK {
				missing = edge.Target
			}
			return nil, &errors.GraphError{
				Kind:   errors.KindUnknownReference,
				NodeID: missing,
				Detail: fmt.Sprintf("edge %s -> %s references an undefined node", edge.Source, edge.Target),
			}
		}

		target.Dependencies[edge.Source] = true
		source.Dependents[edge.Target] = true
	}

	return g, nil
}

// Node returns the execution node with the given id, or nil when absent.
func (g *Graph) Node(id string) *ExecutionNode {
	return g.nodes[id]
}

// Len returns the number of nodes in the graph.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// NodeIDs returns all node ids in definition order.
func (g *Graph) NodeIDs() []string {
	ids := make([]string, len(g.order))
	copy(ids, g.order)
	return ids
}

// DanglingEdges returns the edges skipped under WithDanglingEdgesAllowed.
func (g *Graph) DanglingEdges() []workflow.Edge {
	return g.dangling
}

// TopoSort returns the node ids in dependency order: every node appears
// after all of its dependencies. The sort is a depth-first traversal with
// a visiting marker; reaching a node already marked visiting means the
// edge set contains a cycle, reported as a GraphError of kind cycle with
// the offending chain in the detail.
//
// Node order is deterministic: ties are broken by definition order, and
// dependency sets are walked in sorted id order.
func (g *Graph) TopoSort() ([]string, error) {
	visited := make(map[string]bool, len(g.nodes))
	visiting := make(map[string]bool)
	sorted := make([]string, 0, len(g.nodes))

	// stack tracks the current DFS chain for cycle reporting.
	var stack []string

	var visit func(id string) error
	visit = func(id string) error {
		if visited[id] {
			return nil
		}
		if visiting[id] {
			return &errors.GraphError{
				Kind:   errors.KindCycle,
				NodeID: id,
				Detail: cycleDetail(stack, id),
			}
		}

		visiting[id] = true
		stack = append(stack, id)

		deps := sortedIDs(g.nodes[id].Dependencies)
		for _, dep := range deps {
			if err := visit(dep); err != nil {
				return err
			}
		}

		stack = stack[:len(stack)-1]
		delete(visiting, id)
		visited[id] = true
		sorted = append(sorted, id)
		return nil
	}

	for _, id := range g.order {
		if err := visit(id); err != nil {
			return nil, err
		}
	}

	return sorted, nil
}

// cycleDetail renders the portion of the DFS chain that forms the cycle.
func cycleDetail(stack []string, repeated string) string {
	start := 0
	for i, id := range stack {
		if id == repeated {
			start = i
			break
		}
	}
	chain := append(append([]string{}, stack[start:]...), repeated)
	return strings.Join(chain, " -> ")
}

// sortedIDs returns the set's keys in sorted order.
func sortedIDs(set map[string]bool) []string {
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
