package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"sort"
)

// Node is one record of a workflow graph. Only ClassType is interpreted by
// the client; Inputs is patched surgically and everything else is carried
// through untouched.
type Node struct {
	ClassType string
	Inputs    map[string]any
	Meta      map[string]any

	// keys the client does not model, re-emitted verbatim
	extra map[string]json.RawMessage
}

const (
	keyInputs    = "inputs"
	keyClassType = "class_type"
	keyMeta      = "_meta"
)

// UnmarshalJSON decodes a node record. Numbers in inputs and metadata are
// kept as json.Number so that untouched values survive re-serialization.
func (n *Node) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		return errors.New("node record is null")
	}

	ct, ok := raw[keyClassType]
	if !ok {
		return errors.New("missing class_type")
	}
	if err := json.Unmarshal(ct, &n.ClassType); err != nil {
		return errors.New("class_type is not a string")
	}
	if n.ClassType == "" {
		return errors.New("empty class_type")
	}

	n.Inputs = map[string]any{}
	if in, ok := raw[keyInputs]; ok {
		m, err := decodeObject(in)
		if err != nil {
			return errors.New("inputs is not an object")
		}
		if m != nil {
			n.Inputs = m
		}
	}
	if meta, ok := raw[keyMeta]; ok {
		m, err := decodeObject(meta)
		if err != nil {
			return errors.New("_meta is not an object")
		}
		n.Meta = m
	}

	delete(raw, keyClassType)
	delete(raw, keyInputs)
	delete(raw, keyMeta)
	if len(raw) > 0 {
		n.extra = raw
	}
	return nil
}

func decodeObject(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	return m, nil
}

// MarshalJSON emits inputs, class_type, _meta, then unmodelled keys in
// lexical order.
func (n *Node) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	write := func(key string, v any) error {
		if buf.Len() > 1 {
			buf.WriteByte(',')
		}
		k, _ := json.Marshal(key)
		buf.Write(k)
		buf.WriteByte(':')
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		buf.Write(b)
		return nil
	}

	inputs := n.Inputs
	if inputs == nil {
		inputs = map[string]any{}
	}
	if err := write(keyInputs, inputs); err != nil {
		return nil, err
	}
	if err := write(keyClassType, n.ClassType); err != nil {
		return nil, err
	}
	if n.Meta != nil {
		if err := write(keyMeta, n.Meta); err != nil {
			return nil, err
		}
	}

	keys := make([]string, 0, len(n.extra))
	for k := range n.extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := write(k, n.extra[k]); err != nil {
			return nil, err
		}
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Title returns the _meta.title of the node, if any.
func (n *Node) Title() string {
	if n.Meta == nil {
		return ""
	}
	t, _ := n.Meta["title"].(string)
	return t
}
