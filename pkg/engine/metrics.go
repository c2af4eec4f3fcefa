package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// executionsTotal tracks finished executions by terminal status
	executionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stepflow_executions_total",
			Help: "Total workflow executions by terminal status",
		},
		[]string{"status"},
	)

	// nodesTotal tracks executed nodes by outcome
	nodesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stepflow_nodes_total",
			Help: "Total executed nodes by outcome",
		},
		[]string{"status"},
	)

	// nodeDuration tracks per-node execution time by step type
	nodeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stepflow_node_duration_seconds",
			Help:    "Node execution duration in seconds by step type",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"step_type"},
	)

	// cacheEntries tracks in-memory output cache entries
	cacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "stepflow_cache_entries",
			Help: "Current in-memory output cache entries",
		},
	)

	// cacheEvictions tracks memory-tier FIFO evictions
	cacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stepflow_cache_evictions_total",
			Help: "Total output cache entries evicted from the memory tier",
		},
	)

	// cacheWriteConflicts tracks durable writes skipped by shape inspection
	cacheWriteConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stepflow_cache_write_conflicts_total",
			Help: "Total durable cache writes skipped to protect formatted output",
		},
	)
)

// recordExecution increments the execution counter for a terminal status
func recordExecution(status ExecutionStatus) {
	executionsTotal.WithLabelValues(string(status)).Inc()
}

// recordNode increments the node counter for an outcome
func recordNode(status NodeStatus) {
	nodesTotal.WithLabelValues(string(status)).Inc()
}

// observeNodeDuration records a node execution duration
func observeNodeDuration(stepType string, seconds float64) {
	nodeDuration.WithLabelValues(stepType).Observe(seconds)
}

// setCacheEntries updates the cache entry gauge
func setCacheEntries(n int) {
	cacheEntries.Set(float64(n))
}

// recordCacheEviction increments the eviction counter
func recordCacheEviction() {
	cacheEvictions.Inc()
}

// recordCacheWriteConflict increments the write-conflict counter
func recordCacheWriteConflict() {
	cacheWriteConflicts.Inc()
}
