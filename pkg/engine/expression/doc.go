// Package expression provides condition expression evaluation for
// workflow nodes.
//
// It uses the expr-lang/expr library to evaluate boolean expressions
// that determine whether a node executes. Expressions support:
//
//   - Variable access: inputs.name, nodes.node_id.total
//   - Comparisons: ==, !=, <, >, <=, >=
//   - Boolean logic: &&, ||, !
//   - Membership: "value" in array (built-in operator)
//   - Custom functions: has(array, element), includes(array, element),
//     length(collection)
//
// Example expressions:
//
//	"eu" in inputs.regions
//	has(inputs.regions, "eu")
//	inputs.mode == "strict" && length(nodes.fetch) > 0
//	!inputs.dry_run
//
// The evaluator caches compiled expressions for performance.
//
// Note: the expr library uses "contains" as a string operator (for
// substring matching), so use "in" or "has()" for array membership.
package expression
