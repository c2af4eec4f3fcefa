package engine

import (
	"fmt"
	"sort"
	"sync"

	"github.com/haldane/stepflow/pkg/errors"
)

// Registry resolves step type names to step implementations. The engine
// holds exactly one registry per instance, injected at construction; there
// is no ambient global registration.
type Registry interface {
	// Has reports whether the step type is registered.
	Has(stepType string) bool

	// New constructs a fresh step instance for the type. Unknown types
	// fail with StepNotFoundError.
	New(stepType string) (Step, error)

	// Types returns all registered type names, sorted.
	Types() []string

	// ValidateConfig validates a config block against the step type
	// without executing it.
	ValidateConfig(stepType string, config map[string]any) (*ValidationResult, error)
}

// StepFactory constructs a step instance. Factories run once per node
// execution, so steps may keep per-run state in their receiver.
type StepFactory func() Step

// MapRegistry is the standard Registry implementation: a mutex-guarded
// map of type names to factories. Registration happens at startup;
// lookups happen concurrently during parallel execution.
type MapRegistry struct {
	mu        sync.RWMutex
	factories map[string]StepFactory
}

// NewMapRegistry creates an empty registry.
func NewMapRegistry() *MapRegistry {
	return &MapRegistry{
		factories: make(map[string]StepFactory),
	}
}

// Register adds a step factory under the given type name.
// Registering a duplicate type fails.
func (r *MapRegistry) Register(stepType string, factory StepFactory) error {
	if stepType == "" {
		return &errors.ValidationError{
			Field:      "step_type",
			Message:    "step type name is required",
			Suggestion: "register the step under a non-empty type name",
		}
	}
	if factory == nil {
		return &errors.ValidationError{
			Field:      "factory",
			Message:    fmt.Sprintf("nil factory for step type %s", stepType),
			Suggestion: "pass a function that constructs the step",
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[stepType]; exists {
		return &errors.ValidationError{
			Field:      "step_type",
			Message:    fmt.Sprintf("step type already registered: %s", stepType),
			Suggestion: "each step type may only be registered once",
		}
	}

	r.factories[stepType] = factory
	return nil
}

// MustRegister is Register that panics on error, for startup wiring of
// the builtin catalogue.
func (r *MapRegistry) MustRegister(stepType string, factory StepFactory) {
	if err := r.Register(stepType, factory); err != nil {
		panic(err)
	}
}

// Has reports whether the step type is registered.
func (r *MapRegistry) Has(stepType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[stepType]
	return ok
}

// New constructs a fresh step instance for the type.
func (r *MapRegistry) New(stepType string) (Step, error) {
	r.mu.RLock()
	factory, ok := r.factories[stepType]
	r.mu.RUnlock()

	if !ok {
		return nil, &errors.StepNotFoundError{Type: stepType}
	}
	return factory(), nil
}

// Types returns all registered type names, sorted.
func (r *MapRegistry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// ValidateConfig validates a config block against the step type.
func (r *MapRegistry) ValidateConfig(stepType string, config map[string]any) (*ValidationResult, error) {
	step, err := r.New(stepType)
	if err != nil {
		return nil, err
	}
	return step.Validate(config), nil
}
