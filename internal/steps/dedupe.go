package steps

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/haldane/stepflow/pkg/engine"
)

// Dedupe removes duplicate items from the input, keeping the first
// occurrence in order. With config.key set, object items are compared by
// that property; items without the property (and non-object items) are
// always kept. Without a key, whole items are compared by their JSON
// encoding.
type Dedupe struct{}

// NewDedupe creates a dedupe step.
func NewDedupe() *Dedupe {
	return &Dedupe{}
}

// Type returns the registered step type name.
func (s *Dedupe) Type() string { return TypeDedupe }

// Execute drops duplicate items.
func (s *Dedupe) Execute(ctx context.Context, input any, config map[string]any, ec *engine.ExecutionContext) (*engine.StepResult, error) {
	key, hasKey := stringOption(config, "key")

	items := asItems(input)
	seen := make(map[string]bool, len(items))
	kept := make([]any, 0, len(items))

	for i, item := range items {
		identity, comparable, err := itemIdentity(item, key, hasKey && key != "")
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		if !comparable {
			kept = append(kept, item)
			continue
		}
		if seen[identity] {
			continue
		}
		seen[identity] = true
		kept = append(kept, item)
	}

	return &engine.StepResult{
		Success: true,
		Output:  kept,
		Metrics: engine.NodeMetrics{ItemsProcessed: len(items)},
	}, nil
}

// FormatOutput returns the deduplicated items unchanged.
func (s *Dedupe) FormatOutput(result any, originalInput any) any {
	return result
}

// Validate checks the optional key config.
func (s *Dedupe) Validate(config map[string]any) *engine.ValidationResult {
	if v, ok := config["key"]; ok {
		if _, isString := v.(string); !isString {
			return invalidResult(fmt.Sprintf("key must be a string, got %T", v))
		}
	}
	return validResult()
}

// itemIdentity derives the comparison identity for an item: the keyed
// property's JSON encoding in key mode, the whole item's encoding
// otherwise. comparable is false when key mode cannot apply to the item.
func itemIdentity(item any, key string, keyed bool) (identity string, comparable bool, err error) {
	value := item
	if keyed {
		obj, ok := item.(map[string]any)
		if !ok {
			return "", false, nil
		}
		value, ok = obj[key]
		if !ok {
			return "", false, nil
		}
	}

	// JSON encoding sorts object keys, so equal values encode equally.
	encoded, err := json.Marshal(value)
	if err != nil {
		return "", false, fmt.Errorf("cannot derive identity: %w", err)
	}
	return string(encoded), true, nil
}
