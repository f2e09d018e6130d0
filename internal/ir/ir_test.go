package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonicalBasic(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected string
	}{
		{"string", "hello", `"hello"`},
		{"empty string", "", `""`},
		{"int", 42, "42"},
		{"int64", int64(-100), "-100"},
		{"bool", true, "true"},
		{"empty array", []any{}, "[]"},
		{"string slice", []string{"a", "b"}, `["a","b"]`},
		{"empty object", map[string]any{}, "{}"},
		{"no html escape", "<script>&", `"<script>&"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := MarshalCanonical(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

func TestMarshalCanonicalSortedKeys(t *testing.T) {
	obj := map[string]any{
		"zebra": 1,
		"alpha": map[string]any{"b": 1, "a": 2},
		"beta":  3,
	}

	result, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":{"a":2,"b":1},"beta":3,"zebra":1}`, string(result))
}

func TestMarshalCanonicalRejectsFloatsAndNull(t *testing.T) {
	_, err := MarshalCanonical(1.5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "floats are forbidden")

	_, err = MarshalCanonical(map[string]any{"a": nil})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "null is forbidden")
}

func TestMarshalCanonicalNFC(t *testing.T) {
	// e + combining acute accent normalizes to the precomposed form.
	decomposed, err := MarshalCanonical("e\u0301")
	require.NoError(t, err)
	composed, err := MarshalCanonical("\u00e9")
	require.NoError(t, err)
	assert.Equal(t, composed, decomposed)
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint([]byte("body{}"))
	b := Fingerprint([]byte("body{}"))
	c := Fingerprint([]byte("body{ }"))

	assert.Len(t, a, FingerprintLen)
	assert.Equal(t, a, b, "fingerprint must be deterministic")
	assert.NotEqual(t, a, c)
	assert.Len(t, ContentHash([]byte("x")), 64)
}

func TestDefinitionHashIgnoresOptionKeyOrder(t *testing.T) {
	mk := func(opts map[string]any) *BuildDef {
		d := &BuildDef{
			Entries: []EntryPoint{{Name: "index", Source: "index.js"}},
			Rules: []RuleSpec{{
				Test:   `\.css$`,
				Stages: []StageSpec{{Name: "prefix", Options: opts}},
			}},
		}
		d.Normalize()
		return d
	}

	h1, err := DefinitionHash(mk(map[string]any{"browsers": []any{"chrome49"}, "vendors": []any{"webkit", "ms"}}))
	require.NoError(t, err)
	h2, err := DefinitionHash(mk(map[string]any{"vendors": []any{"webkit", "ms"}, "browsers": []any{"chrome49"}}))
	require.NoError(t, err)
	h3, err := DefinitionHash(mk(map[string]any{"browsers": []any{"ie11"}}))
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, h3)
}

func TestDefinitionHashAcceptsFloatOptions(t *testing.T) {
	d := &BuildDef{Rules: []RuleSpec{{
		Test:   `\.png$`,
		Stages: []StageSpec{{Name: "url", Options: map[string]any{"limit": 8192.0, "ratio": 0.5}}},
	}}}
	_, err := DefinitionHash(d)
	require.NoError(t, err)
}

func TestNormalizeDefaults(t *testing.T) {
	d := &BuildDef{Pages: []PageSpec{{Template: "index.html"}, {Template: "app.html", Filename: "app.html"}}}
	d.Normalize()

	assert.Equal(t, DefaultSourceDir, d.SourceDir)
	assert.Equal(t, DefaultPublishDir, d.PublishDir)
	assert.Equal(t, DefaultAssetsDir, d.Assets.Dir)
	assert.Equal(t, DefaultPublicPath, d.Assets.PublicPath)
	assert.Equal(t, DefaultStylesheet, d.Stylesheet)
	assert.Equal(t, "index.html", d.Pages[0].Filename)
	assert.Equal(t, "app.html", d.Pages[1].Filename)
}

func TestPageSpecExcludes(t *testing.T) {
	p := PageSpec{Exclude: []string{"index"}}
	assert.True(t, p.Excludes("index"))
	assert.False(t, p.Excludes("app"))
	assert.False(t, PageSpec{}.Excludes("index"))
}
