// Copyright 2025 Casey Haldane
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package errors

import (
	"fmt"
	"time"
)

// GraphErrorKind classifies structural failures of a workflow graph.
type GraphErrorKind string

const (
	// KindCycle indicates the edge set induces a directed cycle, so no
	// topological order exists.
	KindCycle GraphErrorKind = "cycle"

	// KindDeadlock indicates the scheduler could not find a runnable node
	// while unexecuted nodes remain.
	KindDeadlock GraphErrorKind = "deadlock"

	// KindUnknownReference indicates an edge names a node id that does not
	// appear in the node list.
	KindUnknownReference GraphErrorKind = "unknown_reference"
)

// GraphError represents a structural problem with a workflow graph.
// Graph errors are always fatal to an execution: no valid schedule exists.
type GraphError struct {
	// Kind identifies the structural failure class
	Kind GraphErrorKind

	// NodeID is the node involved in the failure, when known
	NodeID string

	// Detail is the human-readable error description
	Detail string
}

// Error implements the error interface.
func (e *GraphError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("graph error (%s) at node %s: %s", e.Kind, e.NodeID, e.Detail)
	}
	return fmt.Sprintf("graph error (%s): %s", e.Kind, e.Detail)
}

// StepNotFoundError indicates a node declares a step type the registry
// cannot resolve.
type StepNotFoundError struct {
	// Type is the step type that could not be resolved
	Type string
}

// Error implements the error interface.
func (e *StepNotFoundError) Error() string {
	return fmt.Sprintf("step type not registered: %s", e.Type)
}

// StepExecutionError wraps an error returned by a step implementation.
// Per-node failures are recorded on the node snapshot; the error only
// aborts the execution when the error policy is "stop".
type StepExecutionError struct {
	// NodeID is the node whose step failed
	NodeID string

	// StepType is the declared type of the failing node
	StepType string

	// Cause is the underlying error from the step implementation
	Cause error
}

// Error implements the error interface.
func (e *StepExecutionError) Error() string {
	return fmt.Sprintf("node %s (%s) failed: %v", e.NodeID, e.StepType, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *StepExecutionError) Unwrap() error {
	return e.Cause
}

// ValidationError represents definition or input validation failures.
// Use this for invalid definitions, malformed data, or constraint violations.
type ValidationError struct {
	// Field identifies which input field failed validation
	Field string

	// Message is the human-readable error description
	Message string

	// Suggestion provides actionable guidance for fixing the error
	Suggestion string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// NotFoundError represents a resource not found error.
// Use this when a requested resource does not exist.
type NotFoundError struct {
	// Resource is the type of resource (e.g., "execution", "workflow", "output")
	Resource string

	// ID is the identifier that was not found
	ID string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ConfigError represents configuration problems.
// Use this for configuration file errors, missing settings, or invalid config values.
type ConfigError struct {
	// Key is the configuration key that has the problem (e.g., "store.path", "engine.mode")
	Key string

	// Reason explains what's wrong with the configuration
	Reason string

	// Cause is the underlying error (e.g., file read error, parse error)
	Cause error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("config error at %s: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("config error: %s", e.Reason)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// TimeoutError represents operation timeouts.
// Use this when a node exceeds its configured deadline.
type TimeoutError struct {
	// Operation describes what timed out (e.g., "node execution", "store write")
	Operation string

	// Duration is how long the operation ran before timing out
	Duration time.Duration

	// Cause is the underlying error (if any)
	Cause error
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %v", e.Operation, e.Duration)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *TimeoutError) Unwrap() error {
	return e.Cause
}
