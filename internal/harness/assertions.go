package harness

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/roach88/pagebuild/internal/ir"
)

// hashPlaceholder stands for a content fingerprint in assertion paths.
const hashPlaceholder = "[hash]"

var fingerprintPattern = regexp.MustCompile(fmt.Sprintf(`\.[0-9a-f]{%d}\.`, ir.FingerprintLen))

// AssertionError is returned when an assertion fails.
// It includes the published file list to help debug the failure.
type AssertionError struct {
	Type     string   // Assertion type for categorization
	Expected string   // Human-readable expected outcome
	Actual   string   // Human-readable actual outcome
	Files    []string // Published paths, sorted
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nPublished files:\n")
	for _, f := range e.Files {
		fmt.Fprintf(&buf, "  %s\n", f)
	}
	return buf.String()
}

// EvaluateAssertions runs every assertion against the published tree and
// returns the failure messages.
func EvaluateAssertions(files map[string]string, assertions []Assertion) []string {
	var failures []string
	for i, a := range assertions {
		if err := evaluateAssertion(files, a); err != nil {
			failures = append(failures, fmt.Sprintf("assertion %d: %s", i, err.Error()))
		}
	}
	return failures
}

func evaluateAssertion(files map[string]string, a Assertion) error {
	switch a.Type {
	case AssertFileExists:
		return assertFileExists(files, a)
	case AssertFileAbsent:
		return assertFileAbsent(files, a)
	case AssertFileContains:
		return assertFileContains(files, a, true)
	case AssertFileNotContains:
		return assertFileContains(files, a, false)
	case AssertFileCount:
		return assertFileCount(files, a)
	case AssertTextOrder:
		return assertTextOrder(files, a)
	default:
		return fmt.Errorf("unknown assertion type: %s", a.Type)
	}
}

// lookup finds the file a path names. A path with [hash] matches any
// fingerprint in that position.
func lookup(files map[string]string, name string) (string, string, bool) {
	if !strings.Contains(name, hashPlaceholder) {
		contents, ok := files[name]
		return name, contents, ok
	}
	pattern := regexp.QuoteMeta(name)
	pattern = strings.ReplaceAll(pattern, regexp.QuoteMeta(hashPlaceholder), fmt.Sprintf("[0-9a-f]{%d}", ir.FingerprintLen))
	re := regexp.MustCompile("^" + pattern + "$")
	for _, p := range sortedPaths(files) {
		if re.MatchString(p) {
			return p, files[p], true
		}
	}
	return "", "", false
}

func assertFileExists(files map[string]string, a Assertion) error {
	if _, _, ok := lookup(files, a.Path); ok {
		return nil
	}
	return &AssertionError{
		Type:     AssertFileExists,
		Expected: fmt.Sprintf("%s to be published", a.Path),
		Actual:   "not found",
		Files:    sortedPaths(files),
	}
}

func assertFileAbsent(files map[string]string, a Assertion) error {
	found, _, ok := lookup(files, a.Path)
	if !ok {
		return nil
	}
	return &AssertionError{
		Type:     AssertFileAbsent,
		Expected: fmt.Sprintf("%s not to be published", a.Path),
		Actual:   fmt.Sprintf("found %s", found),
		Files:    sortedPaths(files),
	}
}

func assertFileContains(files map[string]string, a Assertion, want bool) error {
	typ := AssertFileContains
	if !want {
		typ = AssertFileNotContains
	}
	found, contents, ok := lookup(files, a.Path)
	if !ok {
		return &AssertionError{
			Type:     typ,
			Expected: fmt.Sprintf("%s to be published", a.Path),
			Actual:   "not found",
			Files:    sortedPaths(files),
		}
	}
	if strings.Contains(contents, a.Text) == want {
		return nil
	}
	expected := fmt.Sprintf("%s to contain %q", found, a.Text)
	if !want {
		expected = fmt.Sprintf("%s not to contain %q", found, a.Text)
	}
	return &AssertionError{
		Type:     typ,
		Expected: expected,
		Actual:   excerpt(contents),
		Files:    sortedPaths(files),
	}
}

func assertFileCount(files map[string]string, a Assertion) error {
	if len(files) == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertFileCount,
		Expected: fmt.Sprintf("%d published files", a.Count),
		Actual:   fmt.Sprintf("%d published files", len(files)),
		Files:    sortedPaths(files),
	}
}

// assertTextOrder checks that texts appear in the file in order. Other
// content may sit between them.
func assertTextOrder(files map[string]string, a Assertion) error {
	found, contents, ok := lookup(files, a.Path)
	if !ok {
		return &AssertionError{
			Type:     AssertTextOrder,
			Expected: fmt.Sprintf("%s to be published", a.Path),
			Actual:   "not found",
			Files:    sortedPaths(files),
		}
	}

	offset := 0
	for i, text := range a.Texts {
		idx := strings.Index(contents[offset:], text)
		if idx < 0 {
			actual := fmt.Sprintf("%q not found after %q", text, a.Texts[max(i-1, 0)])
			if i == 0 || !strings.Contains(contents, text) {
				actual = fmt.Sprintf("%q not found", text)
			}
			return &AssertionError{
				Type:     AssertTextOrder,
				Expected: fmt.Sprintf("%s to contain %s in order", found, strings.Join(quoteAll(a.Texts), ", ")),
				Actual:   actual,
				Files:    sortedPaths(files),
			}
		}
		offset += idx + len(text)
	}
	return nil
}

// normalizePath replaces content fingerprints with [hash].
func normalizePath(p string) string {
	return fingerprintPattern.ReplaceAllString(p, "."+hashPlaceholder+".")
}

func sortedPaths(files map[string]string) []string {
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

func quoteAll(texts []string) []string {
	out := make([]string, len(texts))
	for i, t := range texts {
		out[i] = fmt.Sprintf("%q", t)
	}
	return out
}

func excerpt(s string) string {
	const limit = 200
	if len(s) > limit {
		return fmt.Sprintf("%q...", s[:limit])
	}
	return fmt.Sprintf("%q", s)
}
