package engine

import (
	"context"
	"log/slog"
	"time"
)

// SnapshotRecorder persists per-node execution records incrementally,
// so a concurrent reader can inspect partial progress and the output of
// a completed node survives the process.
//
// The recorder is the only writer of a snapshot's input and output
// after the node completes; a stub snapshot created by an earlier
// durable cache write is replaced wholesale by the completed one.
type SnapshotRecorder struct {
	store  Store
	logger *slog.Logger
}

// NewSnapshotRecorder creates a recorder writing through the given
// store.
func NewSnapshotRecorder(store Store, logger *slog.Logger) *SnapshotRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &SnapshotRecorder{store: store, logger: logger}
}

// Record appends a node snapshot to the execution record, replacing a
// stub left by a durable cache write. Input and output are stored
// exactly as resolved and produced; truncation for display is a
// read-side concern.
//
// The write survives the caller's context: a node that finished while
// the execution was being cancelled is still recorded.
func (r *SnapshotRecorder) Record(ctx context.Context, executionID string, snap NodeSnapshot) error {
	return r.store.UpdateExecution(context.WithoutCancel(ctx), executionID, func(rec *ExecutionRecord) error {
		rec.UpdatedAt = time.Now()
		for i := range rec.Snapshots {
			if rec.Snapshots[i].NodeID == snap.NodeID {
				rec.Snapshots[i] = snap
				return nil
			}
		}
		rec.Snapshots = append(rec.Snapshots, snap)
		return nil
	})
}

// RecordMetrics writes the running aggregate metrics onto the execution
// record.
func (r *SnapshotRecorder) RecordMetrics(ctx context.Context, executionID string, metrics ExecutionMetrics) error {
	return r.store.UpdateExecution(context.WithoutCancel(ctx), executionID, func(rec *ExecutionRecord) error {
		rec.UpdatedAt = time.Now()
		rec.Metrics = metrics
		return nil
	})
}
