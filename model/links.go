package model

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Links derives the graph's edges from input values of the form
// [nodeID, outputIndex]. Edges are returned in node order, then input-key order.
func (g *Graph) Links() []Edge {
	var edges []Edge
	for _, id := range g.Order {
		n := g.Nodes[id]
		if n == nil {
			continue
		}
		keys := make([]string, 0, len(n.Inputs))
		for k := range n.Inputs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			from, idx, ok := linkRef(n.Inputs[k])
			if !ok {
				continue
			}
			edges = append(edges, Edge{FromNode: from, FromOutput: idx, ToNode: id, ToInput: k})
		}
	}
	return edges
}

func linkRef(v any) (ID, int, bool) {
	arr, ok := v.([]any)
	if !ok || len(arr) != 2 {
		return "", 0, false
	}
	from, ok := arr[0].(string)
	if !ok {
		return "", 0, false
	}
	switch x := arr[1].(type) {
	case json.Number:
		i, err := x.Int64()
		if err != nil {
			return "", 0, false
		}
		return ID(from), int(i), true
	case float64:
		return ID(from), int(x), true
	case int:
		return ID(from), x, true
	}
	return "", 0, false
}

// Validate checks that every link points at an existing node and that the
// graph is acyclic. Problems are reported as *ParseError.
func (g *Graph) Validate() error {
	edges := g.Links()
	for _, e := range edges {
		if _, ok := g.Nodes[e.FromNode]; !ok {
			return &ParseError{
				Path:   g.Path,
				Reason: fmt.Sprintf("node %q input %q references missing node %q", e.ToNode, e.ToInput, e.FromNode),
			}
		}
	}
	order := topo(g, edges)
	if len(order) != len(g.Nodes) {
		return &ParseError{Path: g.Path, Reason: "graph contains a cycle"}
	}
	return nil
}

// topo is Kahn's algorithm over the graph, seeded in document order.
func topo(g *Graph, edges []Edge) (order []ID) {
	indeg := map[ID]int{}
	out := map[ID][]ID{}
	for id := range g.Nodes {
		indeg[id] = 0
	}
	for _, e := range edges {
		out[e.FromNode] = append(out[e.FromNode], e.ToNode)
		indeg[e.ToNode]++
	}
	q := []ID{}
	for _, id := range g.Order {
		if _, ok := g.Nodes[id]; ok && indeg[id] == 0 {
			q = append(q, id)
		}
	}
	for len(q) > 0 {
		v := q[0]
		q = q[1:]
		order = append(order, v)
		for _, u := range out[v] {
			indeg[u]--
			if indeg[u] == 0 {
				q = append(q, u)
			}
		}
	}
	return order
}

// ExecutionOrder returns a topological order of the nodes, or nil if the
// graph has a cycle.
func (g *Graph) ExecutionOrder() []ID {
	order := topo(g, g.Links())
	if len(order) != len(g.Nodes) {
		return nil
	}
	return order
}
