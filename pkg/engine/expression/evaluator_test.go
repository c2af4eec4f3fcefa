package expression

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluator_ArrayMembership(t *testing.T) {
	e := New()
	ctx := map[string]any{
		"inputs": map[string]any{
			"regions": []any{"eu", "us"},
			"tags":    []any{"go", "etl", "workflow"},
		},
	}

	tests := []struct {
		name string
		expr string
		want bool
	}{
		{
			name: "in operator finds element in array",
			expr: `"eu" in inputs.regions`,
			want: true,
		},
		{
			name: "in operator returns false for missing element",
			expr: `"apac" in inputs.regions`,
			want: false,
		},
		{
			name: "has function finds element",
			expr: `has(inputs.regions, "us")`,
			want: true,
		},
		{
			name: "has function returns false for missing",
			expr: `has(inputs.regions, "apac")`,
			want: false,
		},
		{
			name: "includes is alias for has",
			expr: `includes(inputs.tags, "etl")`,
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Evaluate(tt.expr, ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluator_Comparisons(t *testing.T) {
	e := New()
	ctx := map[string]any{
		"inputs": map[string]any{
			"mode":    "strict",
			"count":   5,
			"enabled": true,
		},
		"nodes": map[string]any{
			"fetch": map[string]any{"total": 12},
		},
	}

	tests := []struct {
		name string
		expr string
		want bool
	}{
		{
			name: "string equality true",
			expr: `inputs.mode == "strict"`,
			want: true,
		},
		{
			name: "string equality false",
			expr: `inputs.mode == "lenient"`,
			want: false,
		},
		{
			name: "numeric comparison",
			expr: `inputs.count > 3`,
			want: true,
		},
		{
			name: "node output field comparison",
			expr: `nodes.fetch.total >= 10`,
			want: true,
		},
		{
			name: "boolean negation",
			expr: `!inputs.enabled`,
			want: false,
		},
		{
			name: "boolean conjunction",
			expr: `inputs.mode == "strict" && inputs.count > 0`,
			want: true,
		},
		{
			name: "boolean disjunction",
			expr: `inputs.mode == "lenient" || inputs.enabled`,
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Evaluate(tt.expr, ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluator_EmptyExpression(t *testing.T) {
	e := New()

	got, err := e.Evaluate("", map[string]any{})
	require.NoError(t, err)
	assert.True(t, got, "empty condition defaults to true")
}

func TestEvaluator_Length(t *testing.T) {
	e := New()
	ctx := map[string]any{
		"inputs": map[string]any{
			"items": []any{1, 2, 3},
			"name":  "stepflow",
			"empty": []any{},
		},
	}

	tests := []struct {
		name string
		expr string
		want bool
	}{
		{
			name: "length of array",
			expr: `length(inputs.items) == 3`,
			want: true,
		},
		{
			name: "length of string",
			expr: `length(inputs.name) == 8`,
			want: true,
		},
		{
			name: "empty array has zero length",
			expr: `length(inputs.empty) == 0`,
			want: true,
		},
		{
			name: "length of undefined variable is zero",
			expr: `length(inputs.missing) == 0`,
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Evaluate(tt.expr, ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluator_Errors(t *testing.T) {
	e := New()
	ctx := map[string]any{
		"inputs": map[string]any{"count": 5},
	}

	t.Run("syntax error", func(t *testing.T) {
		_, err := e.Evaluate(`inputs.count >`, ctx)
		assert.Error(t, err)
	})

	t.Run("non-boolean result", func(t *testing.T) {
		_, err := e.Evaluate(`inputs.count + 1`, ctx)
		assert.Error(t, err)
	})
}

func TestEvaluator_Cache(t *testing.T) {
	e := New()
	ctx := map[string]any{
		"inputs": map[string]any{"count": 5},
	}

	for i := 0; i < 3; i++ {
		_, err := e.Evaluate(`inputs.count > 0`, ctx)
		require.NoError(t, err)
	}
	_, err := e.Evaluate(`inputs.count > 1`, ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, e.CacheSize())

	e.ClearCache()
	assert.Equal(t, 0, e.CacheSize())
}

func TestBuildContext(t *testing.T) {
	t.Run("wraps inputs and nodes", func(t *testing.T) {
		inputs := map[string]any{"mode": "strict"}
		nodes := map[string]any{"fetch": []any{"a"}}

		ctx := BuildContext(inputs, nodes)

		assert.Equal(t, inputs, ctx["inputs"])
		assert.Equal(t, nodes, ctx["nodes"])
	})

	t.Run("exposes inputs at top level", func(t *testing.T) {
		ctx := BuildContext(map[string]any{"mode": "strict"}, nil)

		assert.Equal(t, "strict", ctx["mode"])
	})

	t.Run("reserved keys are not shadowed", func(t *testing.T) {
		ctx := BuildContext(map[string]any{"nodes": "sneaky"}, map[string]any{"fetch": 1})

		assert.Equal(t, map[string]any{"fetch": 1}, ctx["nodes"])
	})

	t.Run("nil maps become empty", func(t *testing.T) {
		ctx := BuildContext(nil, nil)

		assert.Equal(t, map[string]any{}, ctx["inputs"])
		assert.Equal(t, map[string]any{}, ctx["nodes"])
	})
}
