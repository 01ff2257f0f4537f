package hierarchy

import (
	"github.com/rpattn/hierflat/internal/domain"
)

// Graph is a validated hierarchy: one root, every parent resolvable, no
// cycles. It is never modified after Build returns.
type Graph struct {
	nodes map[string]domain.Node
	// order keeps node ids in first-seen input order.
	order    []string
	children map[string][]string
	root     string
}

// Root returns the id of the unique root node.
func (g *Graph) Root() string { return g.root }

// Len returns the number of distinct nodes.
func (g *Graph) Len() int { return len(g.order) }

// Node returns the node stored under id.
func (g *Graph) Node(id string) (domain.Node, bool) {
	node, ok := g.nodes[id]
	return node, ok
}

// IDs returns every node id in first-seen order.
func (g *Graph) IDs() []string {
	return append([]string(nil), g.order...)
}

// Children returns the direct children of id in first-seen order.
func (g *Graph) Children(id string) []string {
	return append([]string(nil), g.children[id]...)
}

// IsLeaf reports whether id has no children.
func (g *Graph) IsLeaf(id string) bool {
	return len(g.children[id]) == 0
}

// Build ingests nodes and validates the resulting hierarchy. Checks run in a
// fixed order: conflicting parents while ingesting, then the root count,
// then dangling parents, then cycles.
func Build(nodes []domain.Node) (*Graph, error) {
	graph := &Graph{
		nodes:    make(map[string]domain.Node, len(nodes)),
		order:    make([]string, 0, len(nodes)),
		children: make(map[string][]string),
	}

	// First pass: index nodes by id.
	for _, node := range nodes {
		existing, exists := graph.nodes[node.ID]
		if !exists {
			graph.nodes[node.ID] = node
			graph.order = append(graph.order, node.ID)
			continue
		}
		if existing.HasParent != node.HasParent || existing.ParentID != node.ParentID {
			return nil, &domain.ConflictingParentError{
				ID:     node.ID,
				First:  describeParent(existing),
				Second: describeParent(node),
			}
		}
		// Same id, same parent: the first record wins.
	}

	var roots []string
	for _, id := range graph.order {
		if graph.nodes[id].IsRoot() {
			roots = append(roots, id)
		}
	}
	switch len(roots) {
	case 0:
		return nil, &domain.MissingRootError{}
	case 1:
		graph.root = roots[0]
	default:
		return nil, &domain.MultipleRootsError{IDs: roots}
	}

	for _, id := range graph.order {
		node := graph.nodes[id]
		if node.IsRoot() {
			continue
		}
		if _, ok := graph.nodes[node.ParentID]; !ok {
			return nil, &domain.DanglingParentError{ChildID: id, ParentID: node.ParentID}
		}
	}

	if err := graph.detectCycles(); err != nil {
		return nil, err
	}

	// Second pass: link children, preserving first-seen order.
	for _, id := range graph.order {
		node := graph.nodes[id]
		if node.HasParent {
			graph.children[node.ParentID] = append(graph.children[node.ParentID], id)
		}
	}

	return graph, nil
}

const (
	unvisited = iota
	ascending
	settled
)

// detectCycles walks parent links from every node. A node met again while
// its own ascent is still open is part of a cycle.
func (g *Graph) detectCycles() error {
	state := make(map[string]int, len(g.order))

	for _, start := range g.order {
		if state[start] != unvisited {
			continue
		}

		var path []string
		position := make(map[string]int)
		current := start
	ascent:
		for {
			switch state[current] {
			case ascending:
				cycle := append([]string(nil), path[position[current]:]...)
				return &domain.CycleDetectedError{Path: cycle}
			case settled:
				break ascent
			}
			state[current] = ascending
			position[current] = len(path)
			path = append(path, current)

			node := g.nodes[current]
			if node.IsRoot() {
				break
			}
			current = node.ParentID
		}

		for _, id := range path {
			state[id] = settled
		}
	}
	return nil
}

func describeParent(node domain.Node) string {
	if node.IsRoot() {
		return "<none>"
	}
	return node.ParentID
}
