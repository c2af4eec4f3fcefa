package engine

import (
	"time"

	"github.com/haldane/stepflow/pkg/workflow"
)

// ExecutionStatus represents the lifecycle state of a workflow execution.
type ExecutionStatus string

// Execution statuses
const (
	StatusPending   ExecutionStatus = "pending"
	StatusRunning   ExecutionStatus = "running"
	StatusCompleted ExecutionStatus = "completed"
	StatusFailed    ExecutionStatus = "failed"
	StatusCancelled ExecutionStatus = "cancelled"
)

// Valid statuses for validation
var validStatuses = map[ExecutionStatus]bool{
	StatusPending:   true,
	StatusRunning:   true,
	StatusCompleted: true,
	StatusFailed:    true,
	StatusCancelled: true,
}

// IsValid checks if a status is valid.
func (s ExecutionStatus) IsValid() bool {
	return validStatuses[s]
}

// IsTerminal returns true if the status is terminal (no further transitions).
func (s ExecutionStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// NodeStatus represents the recorded outcome of a single node.
type NodeStatus string

// Node statuses. Snapshots are written after a node finishes, so only
// settled outcomes appear here.
const (
	NodeStatusCompleted NodeStatus = "completed"
	NodeStatusFailed    NodeStatus = "failed"
	NodeStatusSkipped   NodeStatus = "skipped"
)

// NodeSnapshot records exactly what one node consumed and produced.
// Input and Output are stored as resolved and returned, without
// truncation, so an execution can be replayed or debugged from its
// snapshots alone.
type NodeSnapshot struct {
	NodeID      string      `json:"node_id"`
	NodeName    string      `json:"node_name"`
	StepType    string      `json:"step_type"`
	Status      NodeStatus  `json:"status"`
	StartedAt   time.Time   `json:"started_at"`
	CompletedAt time.Time   `json:"completed_at"`
	DurationMs  int64       `json:"duration_ms"`
	Attempts    int         `json:"attempts"`
	Input       any         `json:"input"`
	Output      any         `json:"output,omitempty"`
	Metrics     NodeMetrics `json:"metrics"`
	Error       string      `json:"error,omitempty"`
}

// ExecutionMetrics aggregates per-node accounting over a whole execution.
type ExecutionMetrics struct {
	// NodesCompleted counts nodes that finished successfully
	NodesCompleted int `json:"nodes_completed"`

	// NodesFailed counts nodes that failed (after retries)
	NodesFailed int `json:"nodes_failed"`

	// NodesSkipped counts disabled nodes and false-condition skips
	NodesSkipped int `json:"nodes_skipped"`

	// TotalItems is the sum of items processed across all nodes
	TotalItems int `json:"total_items"`

	// TotalDurationMs is the execution's wall-clock duration
	TotalDurationMs int64 `json:"total_duration_ms"`

	// PeakMemoryDeltaBytes is the largest per-node heap growth observed
	PeakMemoryDeltaBytes int64 `json:"peak_memory_delta_bytes"`

	// DataThroughput is items per second over the whole execution
	DataThroughput float64 `json:"data_throughput"`
}

// CancellationInfo records who cancelled an execution, why, and when.
type CancellationInfo struct {
	Reason string    `json:"reason"`
	Actor  string    `json:"actor"`
	At     time.Time `json:"at"`
}

// ExecutionRecord is the persistent trace of one workflow execution:
// status, node snapshots in completion order, aggregate metrics, and
// cancellation metadata. Records are persisted incrementally, so a
// concurrent reader observes partial progress.
type ExecutionRecord struct {
	ID           string                 `json:"id"`
	WorkflowName string                 `json:"workflow_name"`
	Mode         workflow.ExecutionMode `json:"mode"`
	Status       ExecutionStatus        `json:"status"`
	Snapshots    []NodeSnapshot         `json:"snapshots"`
	Metrics      ExecutionMetrics       `json:"metrics"`
	Error        string                 `json:"error,omitempty"`
	Cancellation *CancellationInfo      `json:"cancellation,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
	StartedAt    *time.Time             `json:"started_at,omitempty"`
	CompletedAt  *time.Time             `json:"completed_at,omitempty"`
}

// NewExecutionRecord creates a pending record for a workflow execution.
func NewExecutionRecord(id, workflowName string, mode workflow.ExecutionMode) *ExecutionRecord {
	now := time.Now()
	return &ExecutionRecord{
		ID:           id,
		WorkflowName: workflowName,
		Mode:         mode,
		Status:       StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Snapshot returns the snapshot for the given node id, or nil when the
// node has not been recorded yet.
func (r *ExecutionRecord) Snapshot(nodeID string) *NodeSnapshot {
	for i := range r.Snapshots {
		if r.Snapshots[i].NodeID == nodeID {
			return &r.Snapshots[i]
		}
	}
	return nil
}
