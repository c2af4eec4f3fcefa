package engine

import (
	"sync"
	"time"
)

// MetricsAggregator accumulates execution-wide metrics as node
// snapshots arrive. It is safe for use from a parallel batch.
type MetricsAggregator struct {
	mu      sync.Mutex
	started time.Time
	metrics ExecutionMetrics
}

// NewMetricsAggregator starts the execution clock.
func NewMetricsAggregator() *MetricsAggregator {
	return &MetricsAggregator{started: time.Now()}
}

// Observe folds one finished node into the running totals.
func (a *MetricsAggregator) Observe(snap *NodeSnapshot) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch snap.Status {
	case NodeStatusCompleted:
		a.metrics.NodesCompleted++
	case NodeStatusFailed:
		a.metrics.NodesFailed++
	case NodeStatusSkipped:
		a.metrics.NodesSkipped++
	}

	a.metrics.TotalItems += snap.Metrics.ItemsProcessed
	if snap.Metrics.MemoryDeltaBytes > a.metrics.PeakMemoryDeltaBytes {
		a.metrics.PeakMemoryDeltaBytes = snap.Metrics.MemoryDeltaBytes
	}
}

// Snapshot returns the totals so far, with the duration still running.
func (a *MetricsAggregator) Snapshot() ExecutionMetrics {
	a.mu.Lock()
	defer a.mu.Unlock()

	m := a.metrics
	m.TotalDurationMs = time.Since(a.started).Milliseconds()
	return m
}

// Finish fixes the total duration and derives throughput as items per
// second over the whole execution. Sub-millisecond executions report
// zero throughput rather than dividing by zero.
func (a *MetricsAggregator) Finish() ExecutionMetrics {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.metrics.TotalDurationMs = time.Since(a.started).Milliseconds()
	if a.metrics.TotalDurationMs > 0 {
		a.metrics.DataThroughput = float64(a.metrics.TotalItems) / (float64(a.metrics.TotalDurationMs) / 1000.0)
	}
	return a.metrics
}
