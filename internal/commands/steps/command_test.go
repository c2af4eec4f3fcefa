// Copyright 2025 Casey Haldane
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package steps

import (
	"bytes"
	"sort"
	"strings"
	"testing"

	builtins "github.com/haldane/stepflow/internal/steps"
)

func TestStepsCommand_ListsBuiltins(t *testing.T) {
	cmd := NewCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	lines := strings.Fields(out.String())
	want := []string{
		builtins.TypeDedupe,
		builtins.TypeDelay,
		builtins.TypeFilter,
		builtins.TypeMerge,
		builtins.TypeTemplate,
		builtins.TypeTransform,
	}
	if len(lines) != len(want) {
		t.Fatalf("expected %d step types, got %d: %v", len(want), len(lines), lines)
	}
	if !sort.StringsAreSorted(lines) {
		t.Errorf("expected sorted output, got %v", lines)
	}
	for i, typ := range want {
		if lines[i] != typ {
			t.Errorf("line %d: expected %q, got %q", i, typ, lines[i])
		}
	}
}

func TestStepsCommand_RejectsArgs(t *testing.T) {
	cmd := NewCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"extra"})

	if err := cmd.Execute(); err == nil {
		t.Fatal("expected error for unexpected argument")
	}
}
