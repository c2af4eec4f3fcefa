package engine

import (
	"context"
	"log/slog"
	"reflect"

	"github.com/haldane/stepflow/internal/jq"
	"github.com/haldane/stepflow/internal/log"
	"github.com/haldane/stepflow/pkg/engine/shape"
	"github.com/haldane/stepflow/pkg/errors"
	"github.com/haldane/stepflow/pkg/workflow"
)

// SourceResolver resolves a non-previous_node input source (dataset,
// document, segment, file, api). Implementations are external
// collaborators; the InputResolver dispatches to them by source type
// and folds their results in with the standard merge rule.
type SourceResolver interface {
	Resolve(ctx context.Context, source workflow.InputSource) (any, error)
}

// InputResolver produces the single input value for a node from its
// declared input sources. A node without explicit sources receives one
// synthesized previous_node source per structural dependency.
type InputResolver struct {
	cache   *OutputCache
	jq      *jq.Executor
	logger  *slog.Logger
	sources map[workflow.SourceType]SourceResolver
}

// NewInputResolver creates an input resolver reading upstream outputs
// from the given cache.
func NewInputResolver(cache *OutputCache, logger *slog.Logger) *InputResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &InputResolver{
		cache:   cache,
		jq:      jq.NewExecutor(0, 0),
		logger:  logger,
		sources: make(map[workflow.SourceType]SourceResolver),
	}
}

// RegisterSource installs a collaborator for a non-previous_node source
// type. Registering SourceTypePreviousNode is rejected, since the
// resolver owns that path.
func (r *InputResolver) RegisterSource(sourceType workflow.SourceType, resolver SourceResolver) error {
	if sourceType == workflow.SourceTypePreviousNode {
		return &errors.ValidationError{
			Field:   "source_type",
			Message: "previous_node sources are resolved internally",
		}
	}
	if resolver == nil {
		return &errors.ValidationError{
			Field:   "source_type",
			Message: "resolver cannot be nil",
		}
	}
	r.sources[sourceType] = resolver
	return nil
}

// Resolve assembles the input value for a node. dependencies is the
// node's upstream ids in definition order, used when the node declares
// no explicit sources. The result is never nil: a node whose sources
// all come up empty receives an empty array.
func (r *InputResolver) Resolve(ctx context.Context, executionID string, node *workflow.Node, dependencies []string) (any, error) {
	sources := node.InputSources
	if len(sources) == 0 {
		sources = synthesizeSources(dependencies)
	}

	var resolved any
	set := false

	for _, source := range sources {
		value, found, err := r.resolveSource(ctx, executionID, source)
		if err != nil {
			return nil, err
		}
		if !found {
			r.logger.Debug("input source produced nothing",
				log.String(log.ExecutionIDKey, executionID),
				log.String(log.NodeIDKey, node.ID),
				log.String("source_type", string(source.Type)))
			continue
		}

		resolved = r.merge(executionID, node.ID, resolved, set, value)
		set = true
	}

	if !set {
		return []any{}, nil
	}
	return resolved, nil
}

// synthesizeSources builds one previous_node source per structural
// dependency, preserving order.
func synthesizeSources(dependencies []string) []workflow.InputSource {
	sources := make([]workflow.InputSource, 0, len(dependencies))
	for _, dep := range dependencies {
		sources = append(sources, workflow.InputSource{
			Type:   workflow.SourceTypePreviousNode,
			NodeID: dep,
		})
	}
	return sources
}

// resolveSource fetches one source's value and applies its filters and
// selector. found is false when the source contributes nothing: an
// upstream that never produced output, or a filtered-out object.
func (r *InputResolver) resolveSource(ctx context.Context, executionID string, source workflow.InputSource) (any, bool, error) {
	var value any

	switch source.Type {
	case workflow.SourceTypePreviousNode:
		fetched, ok := r.cache.Get(ctx, executionID, source.NodeID)
		if !ok {
			return nil, false, nil
		}
		value = fetched

	default:
		external, ok := r.sources[source.Type]
		if !ok {
			return nil, false, &errors.ValidationError{
				Field:   "input_sources",
				Message: "no resolver registered for source type " + string(source.Type),
			}
		}
		fetched, err := external.Resolve(ctx, source)
		if err != nil {
			return nil, false, errors.Wrapf(err, "resolving %s source", source.Type)
		}
		value = fetched
	}

	if len(source.Filters) > 0 {
		filtered, keep := applyFilters(value, source.Filters)
		if !keep {
			return nil, false, nil
		}
		value = filtered
	}

	if source.Selector != "" {
		selected, err := r.jq.Execute(ctx, source.Selector, value)
		if err != nil {
			return nil, false, errors.Wrapf(err, "selector %q", source.Selector)
		}
		value = selected
	}

	return value, true, nil
}

// applyFilters applies a field predicate: every filter key/value pair
// must match. Arrays keep matching object elements; a single object is
// kept or dropped whole; other shapes pass through untouched.
func applyFilters(value any, filters map[string]any) (any, bool) {
	switch v := value.(type) {
	case []any:
		filtered := make([]any, 0, len(v))
		for _, item := range v {
			obj, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if matchesFilters(obj, filters) {
				filtered = append(filtered, item)
			}
		}
		return filtered, true

	case map[string]any:
		if matchesFilters(v, filters) {
			return value, true
		}
		return nil, false

	default:
		return value, true
	}
}

func matchesFilters(obj map[string]any, filters map[string]any) bool {
	for key, want := range filters {
		got, ok := obj[key]
		if !ok || !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}

// merge folds one source value into the running input:
//
//  1. unset running value adopts the new value verbatim;
//  2. both sides interpretable as arrays with either non-empty:
//     concatenate;
//  3. both non-nil objects: shallow merge, new keys win;
//  4. otherwise wrap both in a two-element array. The wrap is a last
//     resort for mismatched shapes and is logged as unexpected.
func (r *InputResolver) merge(executionID, nodeID string, running any, set bool, next any) any {
	if !set {
		return next
	}

	runningArr, runningOK := shape.ExtractArray(running)
	nextArr, nextOK := shape.ExtractArray(next)
	if runningOK && nextOK && (len(runningArr) > 0 || len(nextArr) > 0) {
		merged := make([]any, 0, len(runningArr)+len(nextArr))
		merged = append(merged, runningArr...)
		merged = append(merged, nextArr...)
		return merged
	}

	if runningObj, ok := shape.AsObject(running); ok {
		if nextObj, ok := shape.AsObject(next); ok {
			return shape.ShallowMerge(runningObj, nextObj)
		}
	}

	r.logger.Warn("unexpected input shapes, wrapping into array",
		log.String(log.ExecutionIDKey, executionID),
		log.String(log.NodeIDKey, nodeID),
		log.String("running_shape", shape.Of(running).String()),
		log.String("next_shape", shape.Of(next).String()))
	return []any{running, next}
}
