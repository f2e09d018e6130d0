// Package harness runs build scenarios as executable contract tests.
//
// A scenario describes a project, a build definition, a mode and a fake
// external toolchain. The harness builds it in memory and checks the outcome
// and the published tree against the scenario's expectations.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: pacman_dev
//	description: "Dev build of the two page pacman site"
//	mode: dev
//	definition: |
//	  entries:
//	    - {name: index, source: index.js}
//	  pages:
//	    - {template: index.html, title: Pacman}
//	files:
//	  src/index.html: "<html><head></head><body></body></html>"
//	  src/index.js: "console.log('index');"
//	external:
//	  code: 0
//	  outputs:
//	    gopher/pacman.go.js: "var game;"
//	expect:
//	  error: none
//	assertions:
//	  - type: file_exists
//	    path: index.js
//	  - type: file_contains
//	    path: index.html
//	    text: 'src="/index.js"'
//
// # Assertion Types
//
//   - file_exists: path is in the published tree
//   - file_absent: path is not in the published tree
//   - file_contains: the file contains text
//   - file_not_contains: the file does not contain text
//   - file_count: the tree holds exactly count files
//   - text_order: texts appear in the file in the given order
//
// Paths may use [hash] in place of a content fingerprint, so prod scenarios
// can name fingerprinted files.
//
// # Deterministic Runs
//
// Every scenario builds into a fresh in-memory project and records its build
// in an in-memory history store with a deterministic clock and build IDs.
// Snapshots written by RunWithGolden are stable across runs.
package harness
