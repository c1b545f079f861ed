package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Workflow is the artifact schema the validating backend accepts.
type Workflow struct {
	Name        string                     `json:"name" yaml:"name"`
	Nodes       []WorkflowNode             `json:"nodes" yaml:"nodes"`
	Connections map[string]NodeConnections `json:"connections" yaml:"connections"`
	Active      bool                       `json:"active" yaml:"active"`
}

// WorkflowNode is a single step. TypeVersion is fractional for some node
// types (e.g. 4.2), hence float64.
type WorkflowNode struct {
	ID          string         `json:"id" yaml:"id"`
	Name        string         `json:"name" yaml:"name"`
	Type        string         `json:"type" yaml:"type"`
	TypeVersion float64        `json:"typeVersion" yaml:"typeVersion"`
	Position    [2]int         `json:"position" yaml:"position,flow"`
	Parameters  map[string]any `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	Credentials map[string]any `json:"credentials,omitempty" yaml:"credentials,omitempty"`
}

// NodeConnections lists a source node's outgoing edges per output index.
type NodeConnections struct {
	Main [][]Connection `json:"main" yaml:"main"`
}

// Connection is one edge into a target node.
type Connection struct {
	Node  string `json:"node" yaml:"node"`
	Type  string `json:"type" yaml:"type"`
	Index int    `json:"index" yaml:"index"`
}

// Validate runs the structural checks a candidate must pass before being
// submitted: named, at least one node, and every connection endpoint must
// reference a declared node.
func (w *Workflow) Validate() error {
	if strings.TrimSpace(w.Name) == "" {
		return E(CodeInvalidArgument, "workflow.validate", "workflow name is required", ErrSchemaMismatch)
	}
	if len(w.Nodes) == 0 {
		return E(CodeInvalidArgument, "workflow.validate", "workflow has no nodes", ErrSchemaMismatch)
	}

	known := make(map[string]struct{}, len(w.Nodes))
	for _, node := range w.Nodes {
		if strings.TrimSpace(node.Name) == "" {
			return E(CodeInvalidArgument, "workflow.validate", "node name is required", ErrSchemaMismatch)
		}
		if strings.TrimSpace(node.Type) == "" {
			return E(CodeInvalidArgument, "workflow.validate",
				fmt.Sprintf("node %q has no type", node.Name), ErrSchemaMismatch)
		}
		known[node.Name] = struct{}{}
	}

	for source, conns := range w.Connections {
		if _, ok := known[source]; !ok {
			return E(CodeInvalidArgument, "workflow.validate",
				fmt.Sprintf("connection source %q is not a declared node", source), ErrSchemaMismatch)
		}
		for _, branch := range conns.Main {
			for _, conn := range branch {
				if _, ok := known[conn.Node]; !ok {
					return E(CodeInvalidArgument, "workflow.validate",
						fmt.Sprintf("connection target %q is not a declared node", conn.Node), ErrSchemaMismatch)
				}
			}
		}
	}
	return nil
}

// ParseWorkflow decodes generated text into a validated workflow. Models
// tend to wrap JSON in markdown fences; those are stripped first. Any decode
// or structural failure maps to ErrSchemaMismatch so the repair loop can
// treat it like a validator rejection.
func ParseWorkflow(text string) (Workflow, error) {
	payload := stripFences(text)
	if strings.TrimSpace(payload) == "" {
		return Workflow{}, E(CodeInvalidArgument, "workflow.parse", "empty generation output", ErrSchemaMismatch)
	}

	var workflow Workflow
	decoder := json.NewDecoder(strings.NewReader(payload))
	if err := decoder.Decode(&workflow); err != nil {
		return Workflow{}, E(CodeInvalidArgument, "workflow.parse",
			fmt.Sprintf("invalid JSON: %v", err), ErrSchemaMismatch)
	}
	if err := workflow.Validate(); err != nil {
		return Workflow{}, err
	}
	return workflow, nil
}

func stripFences(text string) string {
	trimmed := strings.TrimSpace(text)
	if idx := strings.Index(trimmed, "```json"); idx >= 0 {
		trimmed = trimmed[idx+len("```json"):]
	} else if idx := strings.Index(trimmed, "```"); idx >= 0 {
		trimmed = trimmed[idx+len("```"):]
	} else {
		return trimmed
	}
	if end := strings.Index(trimmed, "```"); end >= 0 {
		trimmed = trimmed[:end]
	}
	return strings.TrimSpace(trimmed)
}
