package steps

import (
	"context"
	"fmt"
	"strings"
	"text/template"

	"github.com/haldane/stepflow/pkg/engine"
	"github.com/haldane/stepflow/pkg/errors"
)

// Template renders a text/template against the node input and workflow
// inputs, producing a string. Referencing a missing key fails the render
// rather than emitting "<no value>".
type Template struct{}

// NewTemplate creates a template step.
func NewTemplate() *Template {
	return &Template{}
}

// Type returns the registered step type name.
func (s *Template) Type() string { return TypeTemplate }

// Execute renders config.template with the input in scope.
//
// The data available to the template:
//
//	{{.input}}     the resolved node input
//	{{.inputs}}    the workflow-level inputs
//	{{.node}}      the node id
//	{{.workflow}}  the workflow name
//	{{.execution}} the execution id
func (s *Template) Execute(ctx context.Context, input any, config map[string]any, ec *engine.ExecutionContext) (*engine.StepResult, error) {
	source, ok := stringOption(config, "template")
	if !ok || source == "" {
		return nil, &errors.ValidationError{
			Field:      "template",
			Message:    "template requires a template string",
			Suggestion: "set config.template, e.g. \"processed {{len .input}} records\"",
		}
	}

	tmpl, err := template.New("node").Option("missingkey=error").Parse(source)
	if err != nil {
		return nil, &errors.ValidationError{
			Field:      "template",
			Message:    fmt.Sprintf("failed to parse template: %s", err),
			Suggestion: "check template syntax",
		}
	}

	data := map[string]any{
		"input": input,
	}
	if ec != nil {
		data["inputs"] = ec.Inputs
		data["node"] = ec.NodeID
		data["workflow"] = ec.WorkflowName
		data["execution"] = ec.ExecutionID
	}

	var buf strings.Builder
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("rendering template: %w", err)
	}

	rendered := buf.String()
	return &engine.StepResult{
		Success: true,
		Output:  rendered,
		Metrics: engine.NodeMetrics{BytesProcessed: len(rendered)},
	}, nil
}

// FormatOutput returns the rendered string unchanged.
func (s *Template) FormatOutput(result any, originalInput any) any {
	return result
}

// Validate parses the configured template without rendering it.
func (s *Template) Validate(config map[string]any) *engine.ValidationResult {
	source, ok := stringOption(config, "template")
	if !ok || source == "" {
		return invalidResult("template is required and must be a string")
	}
	if _, err := template.New("node").Parse(source); err != nil {
		return invalidResult(fmt.Sprintf("invalid template: %s", err))
	}
	return validResult()
}
