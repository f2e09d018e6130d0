// Package pipeline implements the rule-based transform pipeline.
//
// A RuleTable is an ordered list of categories, each pairing a path predicate
// with a chain of stages. Resolution is a linear scan: the first matching
// category wins and chains are never merged.
//
// INVARIANTS:
//   - Category order NEVER changes after NewRuleTable
//   - Adjacent stages agree on Kind (checked once, at construction)
//   - A chain only ever sees its own asset; stages never read sibling assets
//
// The external toolchain hook (RunExternalBuild) lives here too because its
// completion must happen-before any chain execution.
package pipeline
