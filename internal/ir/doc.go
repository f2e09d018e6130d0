// Package ir provides the canonical representation of a build definition.
//
// This package contains type definitions plus the canonical JSON and hashing
// helpers used for fingerprints. All other internal packages import ir; ir
// imports nothing internal.
//
// Key design constraints:
//   - Slice order is meaningful everywhere (rules, entries, pages)
//   - All JSON/YAML tags use snake_case
//   - Paths are slash-separated and relative to the project root
package ir
