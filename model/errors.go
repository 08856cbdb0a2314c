package model

import "fmt"

// ParseError reports a template that is not a valid mapping of node records.
type ParseError struct {
	Path   string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	msg := "parse workflow"
	if e.Path != "" {
		msg += " " + e.Path
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ParseError) Unwrap() error { return e.Err }

// NodeNotFoundError reports a patch whose target node does not exist.
// Exactly one of NodeID or ClassType is set.
type NodeNotFoundError struct {
	NodeID    ID
	ClassType string
}

func (e *NodeNotFoundError) Error() string {
	if e.ClassType != "" {
		return fmt.Sprintf("no node with class_type %q", e.ClassType)
	}
	return fmt.Sprintf("node %q not found", e.NodeID)
}
