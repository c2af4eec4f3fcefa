// Package workflow provides workflow definition primitives.
//
// Workflow definitions follow a concise YAML format describing a directed
// acyclic graph of processing nodes joined by edges. The version field is
// optional and defaults to "1.0". Definitions are declarative only: parsing
// and validation live here, while scheduling and execution live in the
// engine package, which consumes the node and edge lists.
package workflow

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/haldane/stepflow/pkg/errors"
)

// ExecutionMode selects how the engine schedules a workflow's nodes.
type ExecutionMode string

const (
	// ModeSequential executes nodes one at a time in topological order.
	ModeSequential ExecutionMode = "sequential"

	// ModeParallel executes every dependency-satisfied node concurrently,
	// batch by batch.
	ModeParallel ExecutionMode = "parallel"

	// ModeHybrid walks topological order but runs bursts of parallel-marked
	// nodes concurrently.
	ModeHybrid ExecutionMode = "hybrid"
)

// IsValid returns true if the mode is a recognized execution mode.
func (m ExecutionMode) IsValid() bool {
	switch m {
	case ModeSequential, ModeParallel, ModeHybrid:
		return true
	}
	return false
}

// NodeMode declares how a single node participates in hybrid scheduling.
type NodeMode string

const (
	// NodeModeConsecutive runs the node alone at its topological position.
	NodeModeConsecutive NodeMode = "consecutive"

	// NodeModeParallel allows the node to join a concurrent burst with
	// other parallel-marked, dependency-satisfied nodes.
	NodeModeParallel NodeMode = "parallel"
)

// IsValid returns true if the mode is a recognized node mode.
func (m NodeMode) IsValid() bool {
	switch m {
	case NodeModeConsecutive, NodeModeParallel:
		return true
	}
	return false
}

// ErrorPolicy selects how the engine reacts to a failed node.
type ErrorPolicy string

const (
	// ErrorPolicyStop fails the whole execution on the first node failure.
	ErrorPolicyStop ErrorPolicy = "stop"

	// ErrorPolicyContinue records the failure and keeps scheduling;
	// dependents resolve input from whatever upstream output exists.
	ErrorPolicyContinue ErrorPolicy = "continue"
)

// IsValid returns true if the policy is a recognized error policy.
func (p ErrorPolicy) IsValid() bool {
	switch p {
	case ErrorPolicyStop, ErrorPolicyContinue:
		return true
	}
	return false
}

// SourceType identifies where a node input source pulls data from.
type SourceType string

const (
	// SourceTypePreviousNode pulls the cached output of an upstream node.
	SourceTypePreviousNode SourceType = "previous_node"

	// SourceTypeDataset pulls a named dataset through the source resolver.
	SourceTypeDataset SourceType = "dataset"

	// SourceTypeDocument pulls a document through the source resolver.
	SourceTypeDocument SourceType = "document"

	// SourceTypeSegment pulls a document segment through the source resolver.
	SourceTypeSegment SourceType = "segment"

	// SourceTypeFile pulls a local file through the source resolver.
	SourceTypeFile SourceType = "file"

	// SourceTypeAPI pulls an external endpoint through the source resolver.
	SourceTypeAPI SourceType = "api"
)

// DefaultVersion is the definition schema version applied when omitted.
const DefaultVersion = "1.0"

// Default retry configuration values.
const (
	// DefaultRetryBackoffBase is the base backoff duration in seconds.
	DefaultRetryBackoffBase = 1

	// DefaultRetryBackoffMultiplier is the exponential backoff multiplier.
	DefaultRetryBackoffMultiplier = 2.0
)

// Definition represents a YAML-based workflow definition.
// It defines the node graph, scheduling mode, and error policy of a
// workflow that can be loaded from a YAML file and executed by the engine.
//
// The Version field is optional and defaults to "1.0", allowing minimal
// definitions that only declare a name, nodes, and edges.
type Definition struct {
	// Name is the workflow identifier
	Name string `yaml:"name" json:"name"`

	// Description provides human-readable context about the workflow
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// Version tracks the definition schema version (optional, defaults to "1.0")
	Version string `yaml:"version,omitempty" json:"version,omitempty"`

	// Mode selects the scheduling strategy (sequential, parallel, hybrid).
	// Defaults to sequential.
	Mode ExecutionMode `yaml:"mode,omitempty" json:"mode,omitempty"`

	// ErrorPolicy selects failure handling (stop, continue). Defaults to stop.
	ErrorPolicy ErrorPolicy `yaml:"error_policy,omitempty" json:"error_policy,omitempty"`

	// Inputs are workflow-level input values made available to node
	// conditions and steps
	Inputs map[string]any `yaml:"inputs,omitempty" json:"inputs,omitempty"`

	// Nodes are the processing units of the workflow
	Nodes []Node `yaml:"nodes" json:"nodes"`

	// Edges wire node outputs to node inputs (source runs before target)
	Edges []Edge `yaml:"edges" json:"edges"`
}

// Node represents a single processing unit in a workflow graph.
type Node struct {
	// ID is the unique node identifier within this workflow
	ID string `yaml:"id" json:"id"`

	// Name is a human-readable node name (optional, defaults to ID)
	Name string `yaml:"name,omitempty" json:"name,omitempty"`

	// Type names the registered step implementation to run
	Type string `yaml:"type" json:"type"`

	// Config carries step-specific configuration passed verbatim to the
	// step implementation
	Config map[string]any `yaml:"config,omitempty" json:"config,omitempty"`

	// ExecutionMode declares hybrid-mode participation (consecutive,
	// parallel). Defaults to consecutive. Ignored outside hybrid mode.
	ExecutionMode NodeMode `yaml:"execution_mode,omitempty" json:"execution_mode,omitempty"`

	// Disabled excludes the node from execution entirely: no snapshot,
	// no cache entry, dependents behave as if it produced nothing
	Disabled bool `yaml:"disabled,omitempty" json:"disabled,omitempty"`

	// Condition is an optional boolean expression evaluated against the
	// workflow inputs and completed node outputs; false skips the node
	// like a disabled one
	Condition string `yaml:"condition,omitempty" json:"condition,omitempty"`

	// InputSources declare where the node's input comes from. When empty,
	// one previous_node source per incoming edge is synthesized.
	InputSources []InputSource `yaml:"input_sources,omitempty" json:"input_sources,omitempty"`

	// OnError overrides the workflow error policy for this node's failures
	OnError ErrorPolicy `yaml:"on_error,omitempty" json:"on_error,omitempty"`

	// Retry configures retry behavior for this node. Nil means a single
	// attempt.
	Retry *RetryPolicy `yaml:"retry,omitempty" json:"retry,omitempty"`

	// Timeout sets the maximum execution time for this node in seconds.
	// Zero means no node-level deadline.
	Timeout int `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// Edge represents a directed dependency between two nodes: Source must
// complete before Target runs, and Target may consume Source's output.
type Edge struct {
	// Source is the upstream node id
	Source string `yaml:"source" json:"source"`

	// Target is the downstream node id
	Target string `yaml:"target" json:"target"`
}

// InputSource declares one origin of a node's input value. Multiple
// sources fold together under the engine's merge rule in declaration order.
type InputSource struct {
	// Type identifies the source kind (previous_node, dataset, document,
	// segment, file, api)
	Type SourceType `yaml:"type" json:"type"`

	// NodeID names the upstream node for previous_node sources
	NodeID string `yaml:"node_id,omitempty" json:"node_id,omitempty"`

	// Ref identifies the external resource for non-previous_node sources
	// (dataset name, file path, endpoint URL)
	Ref string `yaml:"ref,omitempty" json:"ref,omitempty"`

	// Filters keeps only array elements whose fields match every listed
	// key/value pair, applied before merging
	Filters map[string]any `yaml:"filters,omitempty" json:"filters,omitempty"`

	// Selector is an optional jq expression applied to the fetched value
	// before merging
	Selector string `yaml:"selector,omitempty" json:"selector,omitempty"`

	// Options carries source-type-specific settings passed to the
	// source resolver
	Options map[string]any `yaml:"options,omitempty" json:"options,omitempty"`
}

// RetryPolicy configures retry behavior for a node.
type RetryPolicy struct {
	// MaxAttempts is the maximum number of attempts including the first
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`

	// BackoffBase is the base duration for exponential backoff (in seconds)
	BackoffBase int `yaml:"backoff_base,omitempty" json:"backoff_base,omitempty"`

	// BackoffMultiplier is the exponential backoff multiplier
	BackoffMultiplier float64 `yaml:"backoff_multiplier,omitempty" json:"backoff_multiplier,omitempty"`
}

// ParseDefinition parses a workflow definition from YAML bytes.
func ParseDefinition(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to parse workflow definition: %w", err)
	}

	def.ApplyDefaults()

	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("invalid workflow definition: %w", err)
	}

	return &def, nil
}

// LoadFile reads and parses a workflow definition from a YAML file.
func LoadFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow file: %w", err)
	}
	def, err := ParseDefinition(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return def, nil
}

// ApplyDefaults applies default values to workflow and node fields.
func (d *Definition) ApplyDefaults() {
	if d.Version == "" {
		d.Version = DefaultVersion
	}
	if d.Mode == "" {
		d.Mode = ModeSequential
	}
	if d.ErrorPolicy == "" {
		d.ErrorPolicy = ErrorPolicyStop
	}

	for i := range d.Nodes {
		node := &d.Nodes[i]

		if node.Name == "" {
			node.Name = node.ID
		}

		if node.ExecutionMode == "" {
			node.ExecutionMode = NodeModeConsecutive
		}

		// Fill retry backoff defaults when a retry policy is declared
		if node.Retry != nil {
			if node.Retry.BackoffBase == 0 {
				node.Retry.BackoffBase = DefaultRetryBackoffBase
			}
			if node.Retry.BackoffMultiplier == 0 {
				node.Retry.BackoffMultiplier = DefaultRetryBackoffMultiplier
			}
		}
	}
}

// Validate checks if the workflow definition is valid.
func (d *Definition) Validate() error {
	if d.Name == "" {
		return &errors.ValidationError{
			Field:      "name",
			Message:    "workflow name is required",
			Suggestion: "add a descriptive name for the workflow",
		}
	}

	if !d.Mode.IsValid() {
		return &errors.ValidationError{
			Field:      "mode",
			Message:    fmt.Sprintf("unknown execution mode: %s", d.Mode),
			Suggestion: "use one of: sequential, parallel, hybrid",
		}
	}

	if !d.ErrorPolicy.IsValid() {
		return &errors.ValidationError{
			Field:      "error_policy",
			Message:    fmt.Sprintf("unknown error policy: %s", d.ErrorPolicy),
			Suggestion: "use one of: stop, continue",
		}
	}

	if len(d.Nodes) == 0 {
		return &errors.ValidationError{
			Field:      "nodes",
			Message:    "workflow must have at least one node",
			Suggestion: "add at least one node to the workflow definition",
		}
	}

	// Validate node IDs are unique
	nodeIDs := make(map[string]bool)
	for i := range d.Nodes {
		node := &d.Nodes[i]
		if node.ID == "" {
			return &errors.ValidationError{
				Field:      "id",
				Message:    "node ID is required",
				Suggestion: "add an 'id' field to each node",
			}
		}
		if nodeIDs[node.ID] {
			return &errors.ValidationError{
				Field:      "id",
				Message:    fmt.Sprintf("duplicate node ID: %s", node.ID),
				Suggestion: "ensure each node has a unique ID",
			}
		}
		nodeIDs[node.ID] = true

		if err := node.Validate(); err != nil {
			return fmt.Errorf("invalid node %s: %w", node.ID, err)
		}
	}

	// Validate edges reference existing nodes
	for _, edge := range d.Edges {
		if edge.Source == "" || edge.Target == "" {
			return &errors.ValidationError{
				Field:      "edges",
				Message:    "edge source and target are required",
				Suggestion: "give every edge both a source and a target node id",
			}
		}
		if !nodeIDs[edge.Source] {
			return &errors.ValidationError{
				Field:      "edges",
				Message:    fmt.Sprintf("edge references unknown source node: %s", edge.Source),
				Suggestion: "edges may only reference declared node ids",
			}
		}
		if !nodeIDs[edge.Target] {
			return &errors.ValidationError{
				Field:      "edges",
				Message:    fmt.Sprintf("edge references unknown target node: %s", edge.Target),
				Suggestion: "edges may only reference declared node ids",
			}
		}
	}

	return nil
}

// Validate checks if the node definition is valid.
func (n *Node) Validate() error {
	if n.Type == "" {
		return &errors.ValidationError{
			Field:      "type",
			Message:    "node type is required",
			Suggestion: "set 'type' to a registered step type",
		}
	}

	if !n.ExecutionMode.IsValid() {
		return &errors.ValidationError{
			Field:      "execution_mode",
			Message:    fmt.Sprintf("unknown execution mode: %s", n.ExecutionMode),
			Suggestion: "use one of: consecutive, parallel",
		}
	}

	if n.OnError != "" && !n.OnError.IsValid() {
		return &errors.ValidationError{
			Field:      "on_error",
			Message:    fmt.Sprintf("unknown error policy: %s", n.OnError),
			Suggestion: "use one of: stop, continue",
		}
	}

	if n.Timeout < 0 {
		return &errors.ValidationError{
			Field:      "timeout",
			Message:    "timeout must not be negative",
			Suggestion: "set timeout to a positive duration in seconds, or omit it",
		}
	}

	if n.Retry != nil {
		if err := n.Retry.Validate(); err != nil {
			return err
		}
	}

	for i := range n.InputSources {
		if err := n.InputSources[i].Validate(); err != nil {
			return err
		}
	}

	return nil
}

// Validate checks if the retry policy is valid.
func (r *RetryPolicy) Validate() error {
	if r.MaxAttempts < 1 {
		return &errors.ValidationError{
			Field:      "retry.max_attempts",
			Message:    "max_attempts must be at least 1",
			Suggestion: "set max_attempts to 1 or more, or remove the retry block",
		}
	}
	if r.BackoffBase < 0 {
		return &errors.ValidationError{
			Field:      "retry.backoff_base",
			Message:    "backoff_base must not be negative",
			Suggestion: "set backoff_base to a duration in seconds",
		}
	}
	return nil
}

// Validate checks if the input source declaration is valid.
func (s *InputSource) Validate() error {
	switch s.Type {
	case SourceTypePreviousNode:
		if s.NodeID == "" {
			return &errors.ValidationError{
				Field:      "input_sources.node_id",
				Message:    "previous_node sources require a node_id",
				Suggestion: "name the upstream node this source reads from",
			}
		}
	case SourceTypeDataset, SourceTypeDocument, SourceTypeSegment, SourceTypeFile, SourceTypeAPI:
		if s.Ref == "" {
			return &errors.ValidationError{
				Field:      "input_sources.ref",
				Message:    fmt.Sprintf("%s sources require a ref", s.Type),
				Suggestion: "set 'ref' to the resource identifier for this source",
			}
		}
	case "":
		return &errors.ValidationError{
			Field:      "input_sources.type",
			Message:    "input source type is required",
			Suggestion: "set 'type' to previous_node, dataset, document, segment, file, or api",
		}
	default:
		return &errors.ValidationError{
			Field:      "input_sources.type",
			Message:    fmt.Sprintf("unknown input source type: %s", s.Type),
			Suggestion: "use one of: previous_node, dataset, document, segment, file, api",
		}
	}
	return nil
}

// NodeByID returns the node with the given id, or nil when absent.
func (d *Definition) NodeByID(id string) *Node {
	for i := range d.Nodes {
		if d.Nodes[i].ID == id {
			return &d.Nodes[i]
		}
	}
	return nil
}
