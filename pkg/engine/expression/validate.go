package expression

import (
	"fmt"
	"regexp"
	"strings"
)

// exprNodePattern matches nodes.id references in expr-lang syntax.
// Node ids allow alphanumerics, underscore, and hyphen.
var exprNodePattern = regexp.MustCompile(`\bnodes\.([a-zA-Z_][a-zA-Z0-9_-]*)`)

// ValidateNodeReferences checks that every node ID referenced by an
// expression exists in the workflow. Used during workflow validation so
// a typo in a condition fails before execution, not during it.
//
// Example:
//
//	err := ValidateNodeReferences(`nodes.fetch.total > 0`, []string{"fetch", "sort"})
//	// Returns nil (fetch exists)
func ValidateNodeReferences(expression string, knownNodeIDs []string) error {
	if expression == "" {
		return nil
	}

	referenced := extractNodeReferences(expression)
	if len(referenced) == 0 {
		return nil
	}

	known := make(map[string]bool, len(knownNodeIDs))
	for _, id := range knownNodeIDs {
		known[id] = true
	}

	var missing []string
	for _, id := range referenced {
		if !known[id] {
			missing = append(missing, id)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("expression references unknown node(s): %s", strings.Join(missing, ", "))
	}

	return nil
}

// extractNodeReferences returns the unique node IDs an expression
// mentions, in first-appearance order.
func extractNodeReferences(expression string) []string {
	matches := exprNodePattern.FindAllStringSubmatch(expression, -1)

	seen := make(map[string]bool)
	var ids []string
	for _, m := range matches {
		if len(m) < 2 || seen[m[1]] {
			continue
		}
		seen[m[1]] = true
		ids = append(ids, m[1])
	}
	return ids
}
