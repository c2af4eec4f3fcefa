package engine

import (
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/haldane/stepflow/pkg/workflow"
)

// Option is a functional option for Engine construction.
type Option func(*Engine) error

// WithLogger sets a custom structured logger.
// If not set, logs go to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		e.logger = logger
		return nil
	}
}

// WithTracer sets the tracer used for execution and node spans.
// If not set, spans go through the global otel tracer provider, which
// is a no-op unless telemetry is bootstrapped.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) error {
		if tracer == nil {
			return fmt.Errorf("tracer cannot be nil")
		}
		e.tracer = tracer
		return nil
	}
}

// WithEmitter replaces the default synchronous event emitter, for
// callers that want async fan-out or a pre-wired listener set.
func WithEmitter(emitter *EventEmitter) Option {
	return func(e *Engine) error {
		if emitter == nil {
			return fmt.Errorf("emitter cannot be nil")
		}
		e.emitter = emitter
		return nil
	}
}

// WithMaxParallel bounds concurrent node executions within a batch.
//
// Example:
//
//	eng, err := engine.New(registry, store, engine.WithMaxParallel(8))
func WithMaxParallel(max int) Option {
	return func(e *Engine) error {
		if max < 1 {
			return fmt.Errorf("max parallel must be at least 1, got %d", max)
		}
		e.maxParallel = max
		return nil
	}
}

// WithCacheConfig tunes the output cache's memory-tier thresholds.
func WithCacheConfig(cfg CacheConfig) Option {
	return func(e *Engine) error {
		e.cacheCfg = cfg
		return nil
	}
}

// WithSourceResolver registers a resolver for an external input source
// type (dataset, document, segment, file, api). The previous_node type
// is built in and cannot be replaced.
//
// Example:
//
//	eng, err := engine.New(registry, store,
//		engine.WithSourceResolver(workflow.SourceTypeDataset, datasets))
func WithSourceResolver(sourceType workflow.SourceType, resolver SourceResolver) Option {
	return func(e *Engine) error {
		if resolver == nil {
			return fmt.Errorf("source resolver cannot be nil")
		}
		e.sources[sourceType] = resolver
		return nil
	}
}
