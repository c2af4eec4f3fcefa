// Package steps provides the builtin step catalogue: the data-plumbing
// step types a stepflow build registers before loading workflow
// definitions. Each step implements engine.Step; heavier dependencies
// (compiled jq programs, compiled predicates) are shared across step
// instances through the factories wired by RegisterAll.
package steps

import (
	"fmt"

	"github.com/haldane/stepflow/internal/jq"
	"github.com/haldane/stepflow/pkg/engine"
)

// Builtin step type names.
const (
	TypeTransform = "transform"
	TypeFilter    = "filter"
	TypeDedupe    = "dedupe"
	TypeMerge     = "merge"
	TypeTemplate  = "template"
	TypeDelay     = "delay"
)

// RegisterAll registers the builtin catalogue on the registry. The jq
// executor and predicate cache are shared across all instances the
// factories produce, so expressions compile once per process.
func RegisterAll(reg *engine.MapRegistry) error {
	jqExec := jq.NewExecutor(0, 0)
	predicates := newPredicateCache()

	factories := map[string]engine.StepFactory{
		TypeTransform: func() engine.Step { return NewTransform(jqExec) },
		TypeFilter:    func() engine.Step { return NewFilter(predicates) },
		TypeDedupe:    func() engine.Step { return NewDedupe() },
		TypeMerge:     func() engine.Step { return NewMerge() },
		TypeTemplate:  func() engine.Step { return NewTemplate() },
		TypeDelay:     func() engine.Step { return NewDelay() },
	}

	for stepType, factory := range factories {
		if err := reg.Register(stepType, factory); err != nil {
			return fmt.Errorf("registering builtin step %s: %w", stepType, err)
		}
	}
	return nil
}

// stringOption reads a string config value. Returns false when the key is
// absent or holds a non-string.
func stringOption(config map[string]any, key string) (string, bool) {
	v, ok := config[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// boolOption reads a bool config value, defaulting to false.
func boolOption(config map[string]any, key string) bool {
	v, ok := config[key].(bool)
	return ok && v
}

// asInt64 converts the numeric types YAML and JSON decoding produce.
func asInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case float64:
		return int64(n), nil
	case float32:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("expected number, got %T", v)
	}
}

func validResult() *engine.ValidationResult {
	return &engine.ValidationResult{Valid: true}
}

func invalidResult(errs ...string) *engine.ValidationResult {
	return &engine.ValidationResult{Valid: false, Errors: errs}
}
