package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/haldane/stepflow/internal/log"
	"github.com/haldane/stepflow/pkg/engine/expression"
	"github.com/haldane/stepflow/pkg/errors"
	"github.com/haldane/stepflow/pkg/graph"
	"github.com/haldane/stepflow/pkg/workflow"
)

// Engine is the public entry point for executing workflow definitions.
// It owns the wiring between the scheduler, the output cache, the input
// resolver, and the durable store; one Engine serves many executions.
type Engine struct {
	registry Registry
	store    Store

	logger      *slog.Logger
	tracer      trace.Tracer
	emitter     *EventEmitter
	evaluator   *expression.Evaluator
	maxParallel int
	cacheCfg    CacheConfig
	sources     map[workflow.SourceType]SourceResolver

	cache     *OutputCache
	resolver  *InputResolver
	recorder  *SnapshotRecorder
	scheduler *Scheduler
	sm        *StateMachine
}

// New creates an engine over the given step registry and durable store.
//
// Example:
//
//	registry := engine.NewMapRegistry()
//	store := engine.NewMemoryStore()
//	eng, err := engine.New(registry, store, engine.WithLogger(logger))
func New(registry Registry, store Store, opts ...Option) (*Engine, error) {
	if registry == nil {
		return nil, &errors.ValidationError{
			Field:      "registry",
			Message:    "step registry is required",
			Suggestion: "pass a registry with the step types your workflows use",
		}
	}
	if store == nil {
		return nil, &errors.ValidationError{
			Field:      "store",
			Message:    "durable store is required",
			Suggestion: "pass a Store implementation (NewMemoryStore for single runs)",
		}
	}

	e := &Engine{
		registry:    registry,
		store:       store,
		logger:      slog.Default(),
		tracer:      otel.Tracer("stepflow/engine"),
		emitter:     NewEventEmitter(false),
		evaluator:   expression.New(),
		maxParallel: DefaultMaxParallel,
		sources:     make(map[workflow.SourceType]SourceResolver),
	}

	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}

	e.cache = NewOutputCache(store, e.logger, e.cacheCfg)
	e.resolver = NewInputResolver(e.cache, e.logger)
	for sourceType, resolver := range e.sources {
		if err := e.resolver.RegisterSource(sourceType, resolver); err != nil {
			return nil, err
		}
	}
	e.recorder = NewSnapshotRecorder(store, e.logger)
	e.sm = NewStateMachine(Hooks{})

	scheduler, err := NewScheduler(SchedulerConfig{
		Registry:    registry,
		Store:       store,
		Cache:       e.cache,
		Resolver:    e.resolver,
		Recorder:    e.recorder,
		Emitter:     e.emitter,
		Evaluator:   e.evaluator,
		Logger:      e.logger,
		Tracer:      e.tracer,
		MaxParallel: e.maxParallel,
	})
	if err != nil {
		return nil, err
	}
	e.scheduler = scheduler

	return e, nil
}

// Events returns the engine's event emitter for listener registration.
func (e *Engine) Events() *EventEmitter {
	return e.emitter
}

// Execute runs a workflow definition to a terminal status and returns
// the persisted execution record. inputs overlay the definition's
// declared inputs, later wins. The returned error is non-nil when the
// execution failed; the record is returned either way once one was
// persisted.
func (e *Engine) Execute(ctx context.Context, def *workflow.Definition, inputs map[string]any) (*ExecutionRecord, error) {
	if def == nil {
		return nil, &errors.ValidationError{
			Field:      "definition",
			Message:    "workflow definition is required",
			Suggestion: "load a definition with workflow.LoadFile or build one in code",
		}
	}
	def.ApplyDefaults()
	if err := def.Validate(); err != nil {
		return nil, err
	}

	g, err := graph.Build(def.Nodes, def.Edges)
	if err != nil {
		return nil, err
	}

	executionID := "exec-" + uuid.New().String()
	logger := log.WithExecutionContext(e.logger, executionID, def.Name)

	ctx, span := e.tracer.Start(ctx, "engine.execute", trace.WithAttributes(
		attribute.String("execution.id", executionID),
		attribute.String("workflow.name", def.Name),
		attribute.String("workflow.mode", string(def.Mode)),
		attribute.Int("workflow.nodes", len(def.Nodes)),
	))
	defer span.End()

	rec := NewExecutionRecord(executionID, def.Name, def.Mode)
	if err := e.store.SaveExecution(ctx, rec); err != nil {
		return nil, errors.Wrap(err, "persisting execution record")
	}
	if err := e.sm.Transition(rec, StatusRunning); err != nil {
		return nil, err
	}
	if err := e.store.SaveExecution(ctx, rec); err != nil {
		return nil, errors.Wrap(err, "persisting execution record")
	}
	if err := e.emitter.EmitExecutionStatus(ctx, rec); err != nil {
		logger.Warn("event listener failed", log.Error(err))
	}
	logger.Info("execution started",
		log.String("mode", string(def.Mode)),
		log.Int("nodes", len(def.Nodes)))

	ex := &execState{
		id:      executionID,
		def:     def,
		graph:   g,
		inputs:  mergeInputs(def.Inputs, inputs),
		agg:     NewMetricsAggregator(),
		settled: make(map[string]bool, len(def.Nodes)),
	}

	runErr := e.scheduler.run(ctx, ex)

	final, finErr := e.finalize(ctx, ex, runErr)
	if finErr != nil {
		span.RecordError(finErr)
		span.SetStatus(codes.Error, finErr.Error())
		return nil, finErr
	}

	if err := e.emitter.EmitExecutionStatus(ctx, final); err != nil {
		logger.Warn("event listener failed", log.Error(err))
	}
	recordExecution(final.Status)
	e.cache.Cleanup(executionID)

	switch final.Status {
	case StatusFailed:
		span.RecordError(runErr)
		span.SetStatus(codes.Error, final.Error)
		logger.Error("execution failed",
			log.String("error", final.Error),
			log.Int64(log.DurationKey, final.Metrics.TotalDurationMs))
	case StatusCancelled:
		span.SetStatus(codes.Ok, "cancelled")
		logger.Info("execution cancelled",
			log.Int("nodes_completed", final.Metrics.NodesCompleted))
	default:
		span.SetStatus(codes.Ok, "")
		logger.Info("execution completed",
			log.Int64(log.DurationKey, final.Metrics.TotalDurationMs),
			log.Int("nodes_completed", final.Metrics.NodesCompleted),
			log.Int("nodes_skipped", final.Metrics.NodesSkipped))
	}

	return final, runErr
}

// finalize settles the record's terminal status and aggregate metrics.
// It runs even when the caller's context is cancelled, so the record
// never sticks in running.
func (e *Engine) finalize(ctx context.Context, ex *execState, runErr error) (*ExecutionRecord, error) {
	ctx = context.WithoutCancel(ctx)

	err := e.store.UpdateExecution(ctx, ex.id, func(rec *ExecutionRecord) error {
		rec.Metrics = ex.agg.Finish()
		if rec.Status.IsTerminal() {
			// Cancelled out-of-band while the scheduler was draining.
			return nil
		}
		if runErr != nil {
			rec.Error = runErr.Error()
			return e.sm.Transition(rec, StatusFailed)
		}
		return e.sm.Transition(rec, StatusCompleted)
	})
	if err != nil {
		return nil, errors.Wrap(err, "finalizing execution record")
	}

	return e.store.FindExecution(ctx, ex.id)
}

// Cancel flips an execution to cancelled out-of-band. The scheduler
// observes the flip at the next node boundary: in-flight nodes finish
// and are recorded, nothing new is dispatched. Cancelling a terminal
// execution fails with a ValidationError.
func (e *Engine) Cancel(ctx context.Context, executionID, reason, actor string) error {
	if actor == "" {
		actor = "user"
	}

	err := e.store.UpdateExecution(ctx, executionID, func(rec *ExecutionRecord) error {
		if err := e.sm.Transition(rec, StatusCancelled); err != nil {
			return err
		}
		rec.Cancellation = &CancellationInfo{
			Reason: reason,
			Actor:  actor,
			At:     time.Now(),
		}
		return nil
	})
	if err != nil {
		return err
	}

	// The run loop emits the cancelled event when it observes the flip,
	// so cancellation produces exactly one terminal event.
	e.logger.Info("execution cancelled",
		log.String(log.ExecutionIDKey, executionID),
		log.String("reason", reason),
		log.String("actor", actor))
	return nil
}

// ValidateDefinition statically checks a definition against this
// engine's registry: structural validation, acyclicity, registered step
// types, per-step config validation, and condition syntax.
func (e *Engine) ValidateDefinition(def *workflow.Definition) error {
	if def == nil {
		return &errors.ValidationError{
			Field:      "definition",
			Message:    "workflow definition is required",
			Suggestion: "load a definition with workflow.LoadFile or build one in code",
		}
	}
	def.ApplyDefaults()
	if err := def.Validate(); err != nil {
		return err
	}

	g, err := graph.Build(def.Nodes, def.Edges)
	if err != nil {
		return err
	}
	if _, err := g.TopoSort(); err != nil {
		return err
	}

	nodeIDs := g.NodeIDs()
	for i := range def.Nodes {
		node := &def.Nodes[i]

		result, err := e.registry.ValidateConfig(node.Type, node.Config)
		if err != nil {
			return errors.Wrapf(err, "node %s", node.ID)
		}
		if result != nil && !result.Valid {
			return &errors.ValidationError{
				Field:      fmt.Sprintf("nodes[%s].config", node.ID),
				Message:    strings.Join(result.Errors, "; "),
				Suggestion: "fix the step configuration for this node",
			}
		}

		if node.Condition != "" {
			if err := e.evaluator.Validate(node.Condition); err != nil {
				return errors.Wrapf(err, "node %s", node.ID)
			}
			if err := expression.ValidateNodeReferences(node.Condition, nodeIDs); err != nil {
				return errors.Wrapf(err, "node %s", node.ID)
			}
		}
	}

	return nil
}

// mergeInputs overlays call-site inputs on the definition's declared
// inputs, later wins.
func mergeInputs(defaults, overrides map[string]any) map[string]any {
	merged := make(map[string]any, len(defaults)+len(overrides))
	for k, v := range defaults {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return merged
}
