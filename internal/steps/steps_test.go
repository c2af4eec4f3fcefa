package steps

import (
	"testing"

	"github.com/haldane/stepflow/pkg/engine"
)

func TestRegisterAll(t *testing.T) {
	t.Run("registers the catalogue", func(t *testing.T) {
		reg := engine.NewMapRegistry()
		if err := RegisterAll(reg); err != nil {
			t.Fatalf("RegisterAll() error = %v", err)
		}

		want := []string{TypeDedupe, TypeDelay, TypeFilter, TypeMerge, TypeTemplate, TypeTransform}
		got := reg.Types()
		if len(got) != len(want) {
			t.Fatalf("Types() = %v, want %v", got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("Types()[%d] = %v, want %v", i, got[i], want[i])
			}
		}
	})

	t.Run("instances report their type", func(t *testing.T) {
		reg := engine.NewMapRegistry()
		if err := RegisterAll(reg); err != nil {
			t.Fatalf("RegisterAll() error = %v", err)
		}

		for _, stepType := range reg.Types() {
			step, err := reg.New(stepType)
			if err != nil {
				t.Fatalf("New(%s) error = %v", stepType, err)
			}
			if step.Type() != stepType {
				t.Errorf("Type() = %v, want %v", step.Type(), stepType)
			}
		}
	})

	t.Run("fails on an occupied registry", func(t *testing.T) {
		reg := engine.NewMapRegistry()
		reg.MustRegister(TypeTransform, func() engine.Step { return NewTransform(nil) })

		if err := RegisterAll(reg); err == nil {
			t.Fatal("RegisterAll() should fail when a builtin type is taken")
		}
	})
}
