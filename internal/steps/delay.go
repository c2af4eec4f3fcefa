package steps

import (
	"context"
	"fmt"
	"time"

	"github.com/haldane/stepflow/pkg/engine"
	"github.com/haldane/stepflow/pkg/errors"
)

// MaxDelay caps the configurable pause so a typo cannot stall a workflow
// for hours.
const MaxDelay = 5 * time.Minute

// Delay pauses execution for a configured duration and passes its input
// through unchanged. Used to pace workflows against rate-limited
// downstream systems.
type Delay struct{}

// NewDelay creates a delay step.
func NewDelay() *Delay {
	return &Delay{}
}

// Type returns the registered step type name.
func (s *Delay) Type() string { return TypeDelay }

// Execute sleeps for the configured duration, honoring context
// cancellation, then passes the input through.
func (s *Delay) Execute(ctx context.Context, input any, config map[string]any, ec *engine.ExecutionContext) (*engine.StepResult, error) {
	pause, err := delayDuration(config)
	if err != nil {
		return nil, err
	}

	select {
	case <-time.After(pause):
	case <-ctx.Done():
		return nil, fmt.Errorf("delay interrupted: %w", ctx.Err())
	}

	return &engine.StepResult{
		Success: true,
		Output:  input,
	}, nil
}

// FormatOutput returns the passed-through input unchanged.
func (s *Delay) FormatOutput(result any, originalInput any) any {
	return result
}

// Validate checks the duration config without sleeping.
func (s *Delay) Validate(config map[string]any) *engine.ValidationResult {
	if _, err := delayDuration(config); err != nil {
		return invalidResult(err.Error())
	}
	return validResult()
}

// delayDuration reads the pause length from config: either duration (a Go
// duration string such as "250ms") or milliseconds (a number).
func delayDuration(config map[string]any) (time.Duration, error) {
	var pause time.Duration

	if v, ok := config["duration"]; ok {
		str, isString := v.(string)
		if !isString {
			return 0, &errors.ValidationError{
				Field:      "duration",
				Message:    fmt.Sprintf("duration must be a string, got %T", v),
				Suggestion: "use a Go duration string such as \"250ms\" or \"5s\"",
			}
		}
		parsed, err := time.ParseDuration(str)
		if err != nil {
			return 0, &errors.ValidationError{
				Field:      "duration",
				Message:    fmt.Sprintf("invalid duration: %s", str),
				Suggestion: "use a Go duration string such as \"250ms\" or \"5s\"",
			}
		}
		pause = parsed
	} else if v, ok := config["milliseconds"]; ok {
		ms, err := asInt64(v)
		if err != nil {
			return 0, &errors.ValidationError{
				Field:      "milliseconds",
				Message:    fmt.Sprintf("invalid milliseconds: %s", err),
				Suggestion: "provide milliseconds as a number",
			}
		}
		pause = time.Duration(ms) * time.Millisecond
	} else {
		return 0, &errors.ValidationError{
			Field:      "duration",
			Message:    "delay requires a duration",
			Suggestion: "set config.duration (\"250ms\") or config.milliseconds (250)",
		}
	}

	if pause <= 0 {
		return 0, &errors.ValidationError{
			Field:      "duration",
			Message:    "duration must be positive",
			Suggestion: "provide a duration greater than zero",
		}
	}
	if pause > MaxDelay {
		return 0, &errors.ValidationError{
			Field:      "duration",
			Message:    fmt.Sprintf("duration %v exceeds maximum %v", pause, MaxDelay),
			Suggestion: fmt.Sprintf("reduce the delay to at most %v", MaxDelay),
		}
	}
	return pause, nil
}
