// Package comfy reads and writes workflow templates in the engine's API
// format: a JSON object mapping node ids to {inputs, class_type, _meta}.
package comfy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/Tsinling0525/rivulet-gen/model"
)

// Load reads a template file into a graph.
func Load(path string) (*model.Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &model.ParseError{Path: path, Reason: "read template", Err: err}
	}
	return Parse(data, path)
}

// Parse decodes a template. Node order follows the document so that
// first-match lookups are stable.
func Parse(data []byte, path string) (*model.Graph, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, &model.ParseError{Path: path, Reason: "invalid JSON", Err: err}
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, &model.ParseError{Path: path, Reason: "document is not an object"}
	}

	g := model.NewGraph(path)
	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return nil, &model.ParseError{Path: path, Reason: "invalid JSON", Err: err}
		}
		key, _ := kt.(string)

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, &model.ParseError{Path: path, Reason: "invalid JSON", Err: err}
		}
		if key == "nodes" && bytes.HasPrefix(bytes.TrimSpace(raw), []byte("[")) {
			return nil, &model.ParseError{Path: path, Reason: "UI-format workflow, export it in API format"}
		}

		id := model.ID(key)
		if _, dup := g.Nodes[id]; dup {
			return nil, &model.ParseError{Path: path, Reason: fmt.Sprintf("duplicate node %q", key)}
		}
		var n model.Node
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, &model.ParseError{Path: path, Reason: fmt.Sprintf("node %q", key), Err: err}
		}
		g.Add(id, &n)
	}
	if _, err := dec.Token(); err != nil {
		return nil, &model.ParseError{Path: path, Reason: "invalid JSON", Err: err}
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, &model.ParseError{Path: path, Reason: "trailing data after document"}
	}
	if g.Len() == 0 {
		return nil, &model.ParseError{Path: path, Reason: "template has no nodes"}
	}
	return g, nil
}

// Marshal encodes the graph with indentation, for writing templates back out.
func Marshal(g *model.Graph) ([]byte, error) {
	compact, err := g.MarshalJSON()
	if err != nil {
		return nil, err
	}
	var out bytes.Buffer
	if err := json.Indent(&out, compact, "", "  "); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
