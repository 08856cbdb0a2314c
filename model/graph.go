package model

import (
	"bytes"
	"encoding/json"
)

// DefaultSamplerClass is the class_type SetSeed looks for unless the graph
// says otherwise.
const DefaultSamplerClass = "KSampler"

// Graph is an editable workflow: node id to node record, with the template's
// document order kept so that "first match" lookups are deterministic.
type Graph struct {
	// Path is provenance only.
	Path string
	// SamplerClass is the class_type whose seed SetSeed rewrites.
	SamplerClass string

	Nodes map[ID]*Node
	Order []ID
}

// NewGraph returns an empty graph.
func NewGraph(path string) *Graph {
	return &Graph{
		Path:         path,
		SamplerClass: DefaultSamplerClass,
		Nodes:        map[ID]*Node{},
	}
}

// Add inserts or replaces a node. New ids are appended to the order.
func (g *Graph) Add(id ID, n *Node) {
	if _, ok := g.Nodes[id]; !ok {
		g.Order = append(g.Order, id)
	}
	if n.Inputs == nil {
		n.Inputs = map[string]any{}
	}
	g.Nodes[id] = n
}

// Node looks up a node by id.
func (g *Graph) Node(id ID) (*Node, bool) {
	n, ok := g.Nodes[id]
	return n, ok
}

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.Nodes) }

// SetInput creates or overwrites inputs[key] on the given node. No other key
// is touched.
func (g *Graph) SetInput(id ID, key string, v any) error {
	n, ok := g.Nodes[id]
	if !ok {
		return &NodeNotFoundError{NodeID: id}
	}
	if n.Inputs == nil {
		n.Inputs = map[string]any{}
	}
	n.Inputs[key] = v
	return nil
}

// SetImageInput points the node's image input at an uploaded asset.
func (g *Graph) SetImageInput(id ID, assetRef string) error {
	return g.SetInput(id, "image", assetRef)
}

// SetTextPrompt sets the node's prompt input.
func (g *Graph) SetTextPrompt(id ID, text string) error {
	return g.SetInput(id, "prompt", text)
}

// SetSeed sets inputs.seed on the sampler node. If the template holds more
// than one sampler, the first in document order wins.
func (g *Graph) SetSeed(seed int64) error {
	class := g.SamplerClass
	if class == "" {
		class = DefaultSamplerClass
	}
	id, ok := g.FindNodeByClassName(class)
	if !ok {
		return &NodeNotFoundError{ClassType: class}
	}
	return g.SetInput(id, "seed", seed)
}

// FindNodeByClassName returns the first node, in document order, whose
// class_type equals name.
func (g *Graph) FindNodeByClassName(name string) (ID, bool) {
	for _, id := range g.Order {
		if n := g.Nodes[id]; n != nil && n.ClassType == name {
			return id, true
		}
	}
	return "", false
}

// FindAllByClassName returns every node with the given class_type in
// document order.
func (g *Graph) FindAllByClassName(name string) []ID {
	var out []ID
	for _, id := range g.Order {
		if n := g.Nodes[id]; n != nil && n.ClassType == name {
			out = append(out, id)
		}
	}
	return out
}

// MarshalJSON encodes the graph as the engine expects it, preserving the
// node order of the template.
func (g *Graph) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true
	for _, id := range g.Order {
		n, ok := g.Nodes[id]
		if !ok {
			continue
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false
		k, _ := json.Marshal(string(id))
		buf.Write(k)
		buf.WriteByte(':')
		b, err := n.MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(b)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
