package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainContent    = "pagebuild/content/v1"
	DomainDefinition = "pagebuild/definition/v1"
)

// FingerprintLen is the number of hex characters used in output file names.
const FingerprintLen = 8

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ContentHash is the full hex digest of a file's contents.
func ContentHash(data []byte) string {
	return hashWithDomain(DomainContent, data)
}

// Fingerprint is the short content hash embedded in prod file names.
func Fingerprint(data []byte) string {
	return ContentHash(data)[:FingerprintLen]
}

// DefinitionHash identifies a build definition independent of key order.
func DefinitionHash(d *BuildDef) (string, error) {
	canonical, err := MarshalCanonical(d.canonicalMap())
	if err != nil {
		return "", fmt.Errorf("DefinitionHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainDefinition, canonical), nil
}

func (d *BuildDef) canonicalMap() map[string]any {
	entries := make([]any, len(d.Entries))
	for i, e := range d.Entries {
		entries[i] = map[string]any{"name": e.Name, "source": e.Source}
	}

	rules := make([]any, len(d.Rules))
	for i, r := range d.Rules {
		stages := make([]any, len(r.Stages))
		for j, s := range r.Stages {
			stages[j] = map[string]any{"name": s.Name, "options": canonicalOptions(s.Options)}
		}
		rules[i] = map[string]any{"test": r.Test, "exclude": r.Exclude, "stages": stages}
	}

	pages := make([]any, len(d.Pages))
	for i, p := range d.Pages {
		pages[i] = map[string]any{
			"template": p.Template,
			"title":    p.Title,
			"filename": p.Filename,
			"exclude":  append([]string{}, p.Exclude...),
		}
	}

	m := map[string]any{
		"source":     d.SourceDir,
		"publish":    d.PublishDir,
		"entries":    entries,
		"rules":      rules,
		"pages":      pages,
		"stylesheet": d.Stylesheet,
		"assets": map[string]any{
			"dir":         d.Assets.Dir,
			"public_path": d.Assets.PublicPath,
		},
	}
	if d.External != nil {
		m["external"] = map[string]any{
			"command":    append([]string{}, d.External.Command...),
			"dir":        d.External.Dir,
			"output":     d.External.Output,
			"publish_as": d.External.PublishAs,
			"timeout":    d.External.Timeout.String(),
		}
	}
	return m
}

// canonicalOptions converts option values into canonical-JSON-safe values.
// Floats are rendered as strings since canonical JSON forbids them.
func canonicalOptions(opts map[string]any) map[string]any {
	out := make(map[string]any, len(opts))
	for k, v := range opts {
		out[k] = canonicalValue(v)
	}
	return out
}

func canonicalValue(v any) any {
	switch val := v.(type) {
	case nil:
		return ""
	case float64:
		if val == float64(int64(val)) {
			return int64(val)
		}
		return fmt.Sprintf("%g", val)
	case float32:
		return canonicalValue(float64(val))
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = canonicalValue(e)
		}
		return out
	case map[string]any:
		return canonicalOptions(val)
	case string, bool, int, int64, []string:
		return val
	default:
		return fmt.Sprintf("%v", val)
	}
}
