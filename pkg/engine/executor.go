package engine

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/haldane/stepflow/internal/log"
	"github.com/haldane/stepflow/pkg/engine/expression"
	"github.com/haldane/stepflow/pkg/engine/shape"
	"github.com/haldane/stepflow/pkg/errors"
	"github.com/haldane/stepflow/pkg/workflow"
)

// nodeOutcome is the settled result of one node: its recorded status
// and, for failures, the error the mode loop weighs against the error
// policy.
type nodeOutcome struct {
	nodeID string
	status NodeStatus
	err    error
}

// runNode executes one node end to end: condition check, input
// resolution, step execution with retries, output caching, snapshot,
// and metrics. Failures are recorded on the snapshot and returned in
// the outcome so the mode loop can apply the stop policy.
func (s *Scheduler) runNode(ctx context.Context, ex *execState, node *workflow.Node) nodeOutcome {
	logger := log.WithNodeContext(s.logger, ex.id, node.ID)

	ctx, span := s.tracer.Start(ctx, "engine.node", trace.WithAttributes(
		attribute.String("node.id", node.ID),
		attribute.String("node.type", node.Type),
	))
	defer span.End()

	if node.Condition != "" {
		pass, err := s.evaluator.Evaluate(node.Condition, s.conditionEnv(ctx, ex))
		if err != nil {
			cause := errors.Wrapf(err, "node %s: evaluating condition %q", node.ID, node.Condition)
			return s.finishNode(ctx, ex, node, failedSnapshot(node, time.Now(), 0, cause), cause, span)
		}
		if !pass {
			logger.Info("condition false, skipping node")
			now := time.Now()
			snap := NodeSnapshot{
				NodeID:      node.ID,
				NodeName:    node.Name,
				StepType:    node.Type,
				Status:      NodeStatusSkipped,
				StartedAt:   now,
				CompletedAt: now,
			}
			if err := s.emitter.EmitNodeSkipped(ctx, ex.id, node.ID, "condition evaluated to false"); err != nil {
				logger.Warn("event listener failed", log.Error(err))
			}
			return s.finishNode(ctx, ex, node, snap, nil, span)
		}
	}

	started := time.Now()

	deps := orderedDeps(ex, node.ID)
	input, err := s.resolver.Resolve(ctx, ex.id, node, deps)
	if err != nil {
		cause := errors.Wrapf(err, "node %s: resolving input", node.ID)
		return s.finishNode(ctx, ex, node, failedSnapshot(node, started, 0, cause), cause, span)
	}
	log.Trace(logger, "resolved node input", log.Attr("input", input))

	if err := s.emitter.EmitNodeStarted(ctx, ex.id, node.ID, node.Type); err != nil {
		logger.Warn("event listener failed", log.Error(err))
	}
	logger.Info("node started", log.String(log.StepTypeKey, node.Type))

	step, err := s.registry.New(node.Type)
	if err != nil {
		cause := errors.Wrapf(err, "node %s", node.ID)
		return s.finishNode(ctx, ex, node, failedSnapshot(node, started, 0, cause), cause, span)
	}

	result, attempts, execErr := s.executeWithRetry(ctx, ex, node, step, input)
	completed := time.Now()

	if execErr != nil {
		cause := &errors.StepExecutionError{
			NodeID:   node.ID,
			StepType: node.Type,
			Cause:    execErr,
		}
		snap := failedSnapshot(node, started, attempts, cause)
		snap.Input = input
		snap.CompletedAt = completed
		snap.DurationMs = completed.Sub(started).Milliseconds()
		if result != nil {
			snap.Metrics = result.Metrics
		}
		return s.finishNode(ctx, ex, node, snap, cause, span)
	}

	raw := result.Output
	log.Trace(logger, "raw step output", log.Attr("output", raw))
	if err := s.cache.Store(ctx, ex.id, node.ID, raw, node.Type); err != nil {
		cause := errors.Wrapf(err, "node %s: caching output", node.ID)
		snap := failedSnapshot(node, started, attempts, cause)
		snap.Input = input
		return s.finishNode(ctx, ex, node, snap, cause, span)
	}

	output := step.FormatOutput(raw, input)
	if output == nil {
		output = raw
	}

	snap := NodeSnapshot{
		NodeID:      node.ID,
		NodeName:    node.Name,
		StepType:    node.Type,
		Status:      NodeStatusCompleted,
		StartedAt:   started,
		CompletedAt: completed,
		DurationMs:  completed.Sub(started).Milliseconds(),
		Attempts:    attempts,
		Input:       input,
		Output:      output,
		Metrics:     fillMetrics(result.Metrics, raw, started, completed),
	}
	return s.finishNode(ctx, ex, node, snap, nil, span)
}

// finishNode records the snapshot, folds it into the aggregate metrics,
// persists the running totals, and emits the matching event. Event and
// metric persistence failures are logged, never propagated; the
// snapshot write itself is load-bearing and converts a completed node
// into a failed one.
func (s *Scheduler) finishNode(ctx context.Context, ex *execState, node *workflow.Node, snap NodeSnapshot, cause error, span trace.Span) nodeOutcome {
	logger := log.WithNodeContext(s.logger, ex.id, node.ID)

	if err := s.recorder.Record(ctx, ex.id, snap); err != nil {
		logger.Error("recording snapshot failed", log.Error(err))
		if snap.Status == NodeStatusCompleted {
			cause = errors.Wrapf(err, "node %s: recording snapshot", node.ID)
			snap.Status = NodeStatusFailed
			snap.Error = cause.Error()
		}
	}

	ex.agg.Observe(&snap)
	if err := s.recorder.RecordMetrics(ctx, ex.id, ex.agg.Snapshot()); err != nil {
		logger.Warn("persisting metrics failed", log.Error(err))
	}

	recordNode(snap.Status)
	if snap.Status != NodeStatusSkipped {
		observeNodeDuration(node.Type, float64(snap.DurationMs)/1000.0)
	}

	switch snap.Status {
	case NodeStatusCompleted:
		span.SetStatus(codes.Ok, "")
		logger.Info("node completed",
			log.Int64(log.DurationKey, snap.DurationMs),
			log.Int("items", snap.Metrics.ItemsProcessed),
			log.Int("attempts", snap.Attempts))
		if err := s.emitter.EmitNodeCompleted(ctx, ex.id, &snap); err != nil {
			logger.Warn("event listener failed", log.Error(err))
		}
		return nodeOutcome{nodeID: node.ID, status: snap.Status}

	case NodeStatusFailed:
		span.RecordError(cause)
		span.SetStatus(codes.Error, snap.Error)
		logger.Error("node failed",
			log.String("error", snap.Error),
			log.Int("attempts", snap.Attempts))
		if err := s.emitter.EmitNodeFailed(ctx, ex.id, &snap); err != nil {
			logger.Warn("event listener failed", log.Error(err))
		}
		return nodeOutcome{nodeID: node.ID, status: snap.Status, err: cause}

	default:
		span.SetStatus(codes.Ok, "skipped")
		return nodeOutcome{nodeID: node.ID, status: snap.Status}
	}
}

// executeWithRetry runs the step, retrying retryable failures per the
// node's retry policy with exponential backoff. It reports the number
// of attempts made.
func (s *Scheduler) executeWithRetry(ctx context.Context, ex *execState, node *workflow.Node, step Step, input any) (*StepResult, int, error) {
	maxAttempts := 1
	backoff := time.Duration(workflow.DefaultRetryBackoffBase) * time.Second
	multiplier := workflow.DefaultRetryBackoffMultiplier
	if node.Retry != nil {
		maxAttempts = node.Retry.MaxAttempts
		backoff = time.Duration(node.Retry.BackoffBase) * time.Second
		multiplier = node.Retry.BackoffMultiplier
	}

	ec := &ExecutionContext{
		ExecutionID:  ex.id,
		WorkflowName: ex.def.Name,
		NodeID:       node.ID,
		Inputs:       ex.inputs,
		Logger:       log.WithNodeContext(s.logger, ex.id, node.ID),
		Outputs: func(ctx context.Context, nodeID string) (any, bool) {
			return s.cache.Get(ctx, ex.id, nodeID)
		},
	}

	var lastErr error
	var lastResult *StepResult

	for attempt := 1; ; attempt++ {
		result, err := s.executeOnce(ctx, node, step, input, ec)
		if err == nil {
			return result, attempt, nil
		}

		lastErr = err
		lastResult = result

		if attempt >= maxAttempts || !errors.Retryable(err) {
			if attempt > 1 {
				return lastResult, attempt, fmt.Errorf("step failed after %d attempts: %w", attempt, lastErr)
			}
			return lastResult, attempt, lastErr
		}

		s.logger.Warn("node attempt failed, retrying",
			log.String(log.ExecutionIDKey, ex.id),
			log.String(log.NodeIDKey, node.ID),
			log.Int("attempt", attempt),
			log.Duration("backoff", backoff.Milliseconds()),
			log.Error(err))

		select {
		case <-ctx.Done():
			return lastResult, attempt, ctx.Err()
		case <-time.After(backoff):
			backoff = time.Duration(float64(backoff) * multiplier)
		}
	}
}

// executeOnce runs a single attempt, applying the node's timeout and
// measuring the heap delta when the step does not report one.
func (s *Scheduler) executeOnce(ctx context.Context, node *workflow.Node, step Step, input any, ec *ExecutionContext) (*StepResult, error) {
	if node.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(node.Timeout)*time.Second)
		defer cancel()
	}

	var before runtime.MemStats
	runtime.ReadMemStats(&before)

	result, err := step.Execute(ctx, input, node.Config, ec)

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return result, &errors.TimeoutError{
				Operation: "node " + node.ID,
				Duration:  time.Duration(node.Timeout) * time.Second,
				Cause:     err,
			}
		}
		return result, err
	}
	if result == nil {
		return nil, fmt.Errorf("step %s returned no result", node.Type)
	}
	if !result.Success {
		if result.Err != "" {
			return result, fmt.Errorf("%s", result.Err)
		}
		return result, fmt.Errorf("step %s reported failure", node.Type)
	}

	if result.Metrics.MemoryDeltaBytes == 0 {
		var after runtime.MemStats
		runtime.ReadMemStats(&after)
		result.Metrics.MemoryDeltaBytes = int64(after.HeapAlloc) - int64(before.HeapAlloc)
	}

	return result, nil
}

// conditionEnv assembles the expression context from workflow inputs
// and the outputs of every settled node that produced one.
func (s *Scheduler) conditionEnv(ctx context.Context, ex *execState) map[string]any {
	nodes := make(map[string]any)
	for nodeID := range ex.settled {
		if value, ok := s.cache.Get(ctx, ex.id, nodeID); ok {
			nodes[nodeID] = value
		}
	}
	return expression.BuildContext(ex.inputs, nodes)
}

// orderedDeps lists a node's dependencies in definition order, so merge
// results are deterministic.
func orderedDeps(ex *execState, nodeID string) []string {
	depSet := ex.graph.Node(nodeID).Dependencies
	if len(depSet) == 0 {
		return nil
	}
	deps := make([]string, 0, len(depSet))
	for _, id := range ex.graph.NodeIDs() {
		if depSet[id] {
			deps = append(deps, id)
		}
	}
	return deps
}

// failedSnapshot builds the snapshot for a node that failed before or
// during execution.
func failedSnapshot(node *workflow.Node, started time.Time, attempts int, cause error) NodeSnapshot {
	now := time.Now()
	return NodeSnapshot{
		NodeID:      node.ID,
		NodeName:    node.Name,
		StepType:    node.Type,
		Status:      NodeStatusFailed,
		StartedAt:   started,
		CompletedAt: now,
		DurationMs:  now.Sub(started).Milliseconds(),
		Attempts:    attempts,
		Error:       cause.Error(),
	}
}

// fillMetrics backfills engine-side measurements for anything the step
// did not report itself.
func fillMetrics(reported NodeMetrics, output any, started, completed time.Time) NodeMetrics {
	m := reported
	if m.ItemsProcessed == 0 {
		m.ItemsProcessed = shape.ItemCount(output)
	}
	if m.BytesProcessed == 0 {
		m.BytesProcessed = shape.ByteSize(output)
	}
	if m.DurationMs == 0 {
		m.DurationMs = completed.Sub(started).Milliseconds()
	}
	return m
}
