package engine

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/haldane/stepflow/internal/log"
	"github.com/haldane/stepflow/pkg/engine/expression"
	"github.com/haldane/stepflow/pkg/errors"
	"github.com/haldane/stepflow/pkg/graph"
	"github.com/haldane/stepflow/pkg/workflow"
)

// DefaultMaxParallel bounds concurrent node executions in a parallel or
// hybrid batch.
const DefaultMaxParallel = 4

// SchedulerConfig wires a Scheduler's collaborators. Registry, Store,
// Cache, Resolver, and Recorder are required; the rest default.
type SchedulerConfig struct {
	Registry  Registry
	Store     Store
	Cache     *OutputCache
	Resolver  *InputResolver
	Recorder  *SnapshotRecorder
	Emitter   *EventEmitter
	Evaluator *expression.Evaluator
	Logger    *slog.Logger
	Tracer    trace.Tracer

	// MaxParallel bounds batch fan-out. Zero means DefaultMaxParallel.
	MaxParallel int
}

// Scheduler orchestrates one workflow execution at a time: it walks the
// graph under the configured mode, feeds each eligible node through the
// InputResolver, executes it via the StepRegistry, stores output in the
// OutputCache, and records a snapshot. It owns the execution's status
// transitions.
type Scheduler struct {
	registry  Registry
	store     Store
	cache     *OutputCache
	resolver  *InputResolver
	recorder  *SnapshotRecorder
	emitter   *EventEmitter
	evaluator *expression.Evaluator
	logger    *slog.Logger
	tracer    trace.Tracer

	maxParallel int
}

// NewScheduler creates a scheduler from the given configuration.
func NewScheduler(cfg SchedulerConfig) (*Scheduler, error) {
	switch {
	case cfg.Registry == nil:
		return nil, &errors.ValidationError{Field: "registry", Message: "step registry is required"}
	case cfg.Store == nil:
		return nil, &errors.ValidationError{Field: "store", Message: "durable store is required"}
	case cfg.Cache == nil:
		return nil, &errors.ValidationError{Field: "cache", Message: "output cache is required"}
	case cfg.Resolver == nil:
		return nil, &errors.ValidationError{Field: "resolver", Message: "input resolver is required"}
	case cfg.Recorder == nil:
		return nil, &errors.ValidationError{Field: "recorder", Message: "snapshot recorder is required"}
	}

	if cfg.Emitter == nil {
		cfg.Emitter = NewEventEmitter(false)
	}
	if cfg.Evaluator == nil {
		cfg.Evaluator = expression.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer("stepflow/engine")
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = DefaultMaxParallel
	}

	return &Scheduler{
		registry:    cfg.Registry,
		store:       cfg.Store,
		cache:       cfg.Cache,
		resolver:    cfg.Resolver,
		recorder:    cfg.Recorder,
		emitter:     cfg.Emitter,
		evaluator:   cfg.Evaluator,
		logger:      cfg.Logger,
		tracer:      cfg.Tracer,
		maxParallel: cfg.MaxParallel,
	}, nil
}

// execState carries one run's mutable scheduling state. settled is
// mutated only between dispatches, never during a batch.
type execState struct {
	id      string
	def     *workflow.Definition
	graph   *graph.Graph
	inputs  map[string]any
	agg     *MetricsAggregator
	settled map[string]bool
}

// run executes the workflow graph under the definition's mode. The
// record must already be persisted with status running. A non-nil
// return is fatal to the execution; per-node failures under the
// continue policy are recorded without surfacing here.
func (s *Scheduler) run(ctx context.Context, ex *execState) error {
	order, err := ex.graph.TopoSort()
	if err != nil {
		return err
	}

	switch ex.def.Mode {
	case workflow.ModeParallel:
		return s.runParallel(ctx, ex)
	case workflow.ModeHybrid:
		return s.runHybrid(ctx, ex, order)
	default:
		return s.runSequential(ctx, ex, order)
	}
}

// runSequential walks the topological order one node at a time.
func (s *Scheduler) runSequential(ctx context.Context, ex *execState, order []string) error {
	for _, nodeID := range order {
		if cancelled, err := s.isCancelled(ctx, ex.id); err != nil {
			return err
		} else if cancelled {
			s.logger.Info("cancellation observed, stopping dispatch",
				log.String(log.ExecutionIDKey, ex.id))
			return nil
		}

		node := ex.graph.Node(nodeID).Node
		if node.Disabled {
			ex.settled[nodeID] = true
			s.logger.Debug("skipping disabled node",
				log.String(log.ExecutionIDKey, ex.id),
				log.String(log.NodeIDKey, nodeID))
			continue
		}

		outcome := s.runNode(ctx, ex, node)
		ex.settled[nodeID] = true

		if outcome.err != nil && s.effectivePolicy(ex.def, node) == workflow.ErrorPolicyStop {
			return outcome.err
		}
	}
	return nil
}

// runParallel repeatedly computes the ready set (pending nodes whose
// dependencies are all settled) and executes each set as one bounded
// concurrent batch. An empty ready set with nodes still pending means
// no valid schedule exists.
func (s *Scheduler) runParallel(ctx context.Context, ex *execState) error {
	pending := make(map[string]bool)
	for _, nodeID := range ex.graph.NodeIDs() {
		node := ex.graph.Node(nodeID).Node
		if node.Disabled {
			ex.settled[nodeID] = true
			continue
		}
		pending[nodeID] = true
	}

	for len(pending) > 0 {
		if cancelled, err := s.isCancelled(ctx, ex.id); err != nil {
			return err
		} else if cancelled {
			s.logger.Info("cancellation observed, stopping dispatch",
				log.String(log.ExecutionIDKey, ex.id))
			return nil
		}

		ready := s.readySet(ex, pending)
		if len(ready) == 0 {
			return &errors.GraphError{
				Kind:   errors.KindDeadlock,
				Detail: "no runnable nodes among: " + strings.Join(sortedKeys(pending), ", "),
			}
		}

		outcomes := s.runBatch(ctx, ex, ready)

		var firstErr error
		for _, outcome := range outcomes {
			ex.settled[outcome.nodeID] = true
			delete(pending, outcome.nodeID)
			if outcome.err != nil && firstErr == nil {
				node := ex.graph.Node(outcome.nodeID).Node
				if s.effectivePolicy(ex.def, node) == workflow.ErrorPolicyStop {
					firstErr = outcome.err
				}
			}
		}
		if firstErr != nil {
			return firstErr
		}
	}
	return nil
}

// runHybrid walks the topological order; consecutive nodes run alone,
// while a parallel-declared node pulls every pending, dependency-
// satisfied, parallel-declared node into one concurrent batch with it.
func (s *Scheduler) runHybrid(ctx context.Context, ex *execState, order []string) error {
	for _, nodeID := range order {
		if ex.settled[nodeID] {
			continue
		}

		if cancelled, err := s.isCancelled(ctx, ex.id); err != nil {
			return err
		} else if cancelled {
			s.logger.Info("cancellation observed, stopping dispatch",
				log.String(log.ExecutionIDKey, ex.id))
			return nil
		}

		node := ex.graph.Node(nodeID).Node
		if node.Disabled {
			ex.settled[nodeID] = true
			continue
		}

		if node.ExecutionMode != workflow.NodeModeParallel {
			outcome := s.runNode(ctx, ex, node)
			ex.settled[nodeID] = true
			if outcome.err != nil && s.effectivePolicy(ex.def, node) == workflow.ErrorPolicyStop {
				return outcome.err
			}
			continue
		}

		frontier := s.parallelFrontier(ex, order, nodeID)
		outcomes := s.runBatch(ctx, ex, frontier)

		var firstErr error
		for _, outcome := range outcomes {
			ex.settled[outcome.nodeID] = true
			if outcome.err != nil && firstErr == nil {
				failed := ex.graph.Node(outcome.nodeID).Node
				if s.effectivePolicy(ex.def, failed) == workflow.ErrorPolicyStop {
					firstErr = outcome.err
				}
			}
		}
		if firstErr != nil {
			return firstErr
		}
	}
	return nil
}

// parallelFrontier collects the batch for a parallel-declared node:
// every pending node at or after it in topological order that declares
// parallel mode and whose dependencies are already settled. Nodes that
// depend on a frontier member stay out, so batch members never depend
// on each other.
func (s *Scheduler) parallelFrontier(ex *execState, order []string, startID string) []*workflow.Node {
	var frontier []*workflow.Node
	started := false
	for _, nodeID := range order {
		if nodeID == startID {
			started = true
		}
		if !started || ex.settled[nodeID] {
			continue
		}
		node := ex.graph.Node(nodeID).Node
		if node.Disabled || node.ExecutionMode != workflow.NodeModeParallel {
			continue
		}
		if s.depsSettled(ex, nodeID) {
			frontier = append(frontier, node)
		}
	}
	return frontier
}

// readySet returns pending nodes whose dependencies are all settled, in
// definition order.
func (s *Scheduler) readySet(ex *execState, pending map[string]bool) []*workflow.Node {
	var ready []*workflow.Node
	for _, nodeID := range ex.graph.NodeIDs() {
		if !pending[nodeID] {
			continue
		}
		if s.depsSettled(ex, nodeID) {
			ready = append(ready, ex.graph.Node(nodeID).Node)
		}
	}
	return ready
}

func (s *Scheduler) depsSettled(ex *execState, nodeID string) bool {
	for dep := range ex.graph.Node(nodeID).Dependencies {
		if !ex.settled[dep] {
			return false
		}
	}
	return true
}

// runBatch executes a batch concurrently with bounded fan-out and joins
// before returning. Outcomes are applied by the caller, so sibling
// nodes never observe each other's completion mid-batch.
func (s *Scheduler) runBatch(ctx context.Context, ex *execState, batch []*workflow.Node) []nodeOutcome {
	if len(batch) == 1 {
		return []nodeOutcome{s.runNode(ctx, ex, batch[0])}
	}

	sem := make(chan struct{}, s.maxParallel)
	results := make(chan nodeOutcome, len(batch))

	var wg sync.WaitGroup
	for _, node := range batch {
		wg.Add(1)
		go func(n *workflow.Node) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results <- s.runNode(ctx, ex, n)
		}(node)
	}

	wg.Wait()
	close(results)

	outcomes := make([]nodeOutcome, 0, len(batch))
	for outcome := range results {
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

// isCancelled reports whether the execution has been cancelled
// out-of-band. Checked at node boundaries only; in-flight nodes always
// finish and are recorded.
func (s *Scheduler) isCancelled(ctx context.Context, executionID string) (bool, error) {
	if ctx.Err() != nil {
		// Caller gave up; mark the record so readers see why dispatch
		// stopped.
		err := s.store.UpdateExecution(context.WithoutCancel(ctx), executionID, func(rec *ExecutionRecord) error {
			if rec.Status.IsTerminal() {
				return nil
			}
			now := time.Now()
			rec.Status = StatusCancelled
			rec.UpdatedAt = now
			rec.CompletedAt = &now
			rec.Cancellation = &CancellationInfo{
				Reason: "context cancelled",
				Actor:  "engine",
				At:     now,
			}
			return nil
		})
		return true, err
	}

	rec, err := s.store.FindExecution(ctx, executionID)
	if err != nil {
		return false, errors.Wrap(err, "checking cancellation")
	}
	return rec.Status == StatusCancelled, nil
}

// effectivePolicy resolves the error policy for a node, preferring a
// node-level override.
func (s *Scheduler) effectivePolicy(def *workflow.Definition, node *workflow.Node) workflow.ErrorPolicy {
	if node.OnError != "" {
		return node.OnError
	}
	if def.ErrorPolicy != "" {
		return def.ErrorPolicy
	}
	return workflow.ErrorPolicyStop
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
