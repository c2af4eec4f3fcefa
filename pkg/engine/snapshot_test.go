package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haldane/stepflow/pkg/workflow"
)

func newRecorderFixture(t *testing.T) (*SnapshotRecorder, *MemoryStore) {
	t.Helper()

	store := NewMemoryStore()
	rec := NewExecutionRecord("exec-1", "pipeline", workflow.ModeSequential)
	require.NoError(t, store.SaveExecution(context.Background(), rec))

	return NewSnapshotRecorder(store, testLogger()), store
}

func TestSnapshotRecorderRecord(t *testing.T) {
	ctx := context.Background()

	t.Run("appends snapshots in completion order", func(t *testing.T) {
		recorder, store := newRecorderFixture(t)

		for _, nodeID := range []string{"fetch", "sort"} {
			snap := NodeSnapshot{
				NodeID:   nodeID,
				StepType: "transform",
				Status:   NodeStatusCompleted,
				Input:    []any{"in"},
				Output:   []any{"out"},
			}
			require.NoError(t, recorder.Record(ctx, "exec-1", snap))
		}

		rec, err := store.FindExecution(ctx, "exec-1")
		require.NoError(t, err)
		require.Len(t, rec.Snapshots, 2)
		assert.Equal(t, "fetch", rec.Snapshots[0].NodeID)
		assert.Equal(t, "sort", rec.Snapshots[1].NodeID)
	})

	t.Run("partial progress is observable", func(t *testing.T) {
		recorder, store := newRecorderFixture(t)

		snap := NodeSnapshot{NodeID: "fetch", Status: NodeStatusCompleted}
		require.NoError(t, recorder.Record(ctx, "exec-1", snap))

		rec, err := store.FindExecution(ctx, "exec-1")
		require.NoError(t, err)
		assert.Len(t, rec.Snapshots, 1, "reader should see the first node before the run finishes")
	})

	t.Run("replaces stub left by a durable cache write", func(t *testing.T) {
		recorder, store := newRecorderFixture(t)

		require.NoError(t, store.UpdateExecution(ctx, "exec-1", func(rec *ExecutionRecord) error {
			rec.Snapshots = append(rec.Snapshots, NodeSnapshot{
				NodeID:   "fetch",
				StepType: "transform",
				Output:   []any{"raw"},
			})
			return nil
		}))

		started := time.Now()
		snap := NodeSnapshot{
			NodeID:     "fetch",
			NodeName:   "Fetch",
			StepType:   "transform",
			Status:     NodeStatusCompleted,
			StartedAt:  started,
			Input:      []any{"in"},
			Output:     map[string]any{"items": []any{"formatted"}},
			DurationMs: 5,
		}
		require.NoError(t, recorder.Record(ctx, "exec-1", snap))

		rec, err := store.FindExecution(ctx, "exec-1")
		require.NoError(t, err)
		require.Len(t, rec.Snapshots, 1, "stub must be replaced, not duplicated")
		assert.Equal(t, NodeStatusCompleted, rec.Snapshots[0].Status)
		assert.Equal(t, map[string]any{"items": []any{"formatted"}}, rec.Snapshots[0].Output)
	})

	t.Run("refetching a snapshot returns identical data", func(t *testing.T) {
		recorder, store := newRecorderFixture(t)

		snap := NodeSnapshot{
			NodeID: "fetch",
			Status: NodeStatusCompleted,
			Input:  []any{map[string]any{"id": 1}},
			Output: []any{map[string]any{"id": 1, "seen": true}},
		}
		require.NoError(t, recorder.Record(ctx, "exec-1", snap))

		first, err := store.FindExecution(ctx, "exec-1")
		require.NoError(t, err)
		second, err := store.FindExecution(ctx, "exec-1")
		require.NoError(t, err)

		assert.Equal(t, first.Snapshot("fetch").Input, second.Snapshot("fetch").Input)
		assert.Equal(t, first.Snapshot("fetch").Output, second.Snapshot("fetch").Output)
	})

	t.Run("unknown execution fails", func(t *testing.T) {
		recorder, _ := newRecorderFixture(t)

		err := recorder.Record(ctx, "no-such-exec", NodeSnapshot{NodeID: "fetch"})
		assert.Error(t, err)
	})
}

func TestSnapshotRecorderRecordMetrics(t *testing.T) {
	ctx := context.Background()
	recorder, store := newRecorderFixture(t)

	metrics := ExecutionMetrics{
		NodesCompleted:  3,
		TotalItems:      42,
		TotalDurationMs: 120,
		DataThroughput:  350,
	}
	require.NoError(t, recorder.RecordMetrics(ctx, "exec-1", metrics))

	rec, err := store.FindExecution(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, metrics, rec.Metrics)
}
