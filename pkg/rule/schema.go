package rule

import (
	"encoding/json"
	"fmt"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/apkscan/apkscan/pkg/types"
)

// Schema identifies one of the four recognized rule-file layouts.
type Schema int

const (
	// SchemaNative is a list of mappings each carrying pattern/id/name.
	SchemaNative Schema = iota
	// SchemaPatternsDB is the secrets-patterns-db layout: a mapping with a
	// "patterns" list of {pattern: {name, regex, confidence}}.
	SchemaPatternsDB
	// SchemaGitleaks is the gitleaks layout: a mapping with a "rules" list
	// of {id, regex, secretGroup?, keywords?, ...}.
	SchemaGitleaks
	// SchemaSimple is any other mapping of name -> pattern or [patterns].
	SchemaSimple
)

func (s Schema) String() string {
	switch s {
	case SchemaNative:
		return "native"
	case SchemaPatternsDB:
		return "secrets-patterns-db"
	case SchemaGitleaks:
		return "gitleaks"
	default:
		return "simple"
	}
}

// decodeRuleFile parses file contents by trying decoders in order: JSON,
// YAML, TOML. The first decode whose top-level value is a container (list or
// mapping) wins; scalar decodes are rejected so a TOML document is not
// swallowed as a YAML plain scalar.
func decodeRuleFile(data []byte) (any, error) {
	var v any
	if err := json.Unmarshal(data, &v); err == nil && isContainer(v) {
		return v, nil
	}
	v = nil
	if err := yaml.Unmarshal(data, &v); err == nil && isContainer(v) {
		return v, nil
	}
	v = nil
	if err := toml.Unmarshal(data, &v); err == nil && isContainer(v) {
		return v, nil
	}
	return nil, fmt.Errorf("not valid JSON, YAML, or TOML with a container top level")
}

func isContainer(v any) bool {
	switch v.(type) {
	case []any, map[string]any:
		return true
	}
	return false
}

// detectSchema inspects the decoded tree and picks one of the four schemas.
func detectSchema(v any) Schema {
	switch t := v.(type) {
	case []any:
		return SchemaNative
	case map[string]any:
		if _, ok := t["patterns"].([]any); ok {
			return SchemaPatternsDB
		}
		if _, ok := t["rules"].([]any); ok {
			return SchemaGitleaks
		}
	}
	return SchemaSimple
}

// normalize converts a decoded rule tree into locators keyed by raw pattern
// string. A malformed locator is skipped with a warning; it never fails the
// whole file.
func normalize(v any, schema Schema) []*types.SecretLocator {
	switch schema {
	case SchemaNative:
		return normalizeNative(v.([]any))
	case SchemaPatternsDB:
		return normalizePatternsDB(v.(map[string]any)["patterns"].([]any))
	case SchemaGitleaks:
		return normalizeGitleaks(v.(map[string]any)["rules"].([]any))
	default:
		return normalizeSimple(v.(map[string]any))
	}
}

func normalizeNative(items []any) []*types.SecretLocator {
	var locators []*types.SecretLocator
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			warnf("native locator is not a mapping, skipping")
			continue
		}
		raw, ok := m["pattern"].(string)
		if !ok {
			warnf("native locator %v has no pattern, skipping", m["id"])
			continue
		}
		loc, err := newLocator(raw, stringField(m, "id"), stringField(m, "name"), groupField(m["secret_group"]))
		if err != nil {
			warnf("skipping locator %v: %v", m["id"], err)
			continue
		}
		if d := stringField(m, "description"); d != "" {
			loc.Description = d
		}
		if c := stringField(m, "confidence"); c != "" {
			loc.Confidence = c
		}
		if s := stringField(m, "severity"); s != "" {
			loc.Severity = s
		}
		loc.Tags = stringListField(m["tags"])
		locators = append(locators, loc)
	}
	return locators
}

func normalizePatternsDB(items []any) []*types.SecretLocator {
	var locators []*types.SecretLocator
	for _, item := range items {
		wrapper, ok := item.(map[string]any)
		if !ok {
			warnf("patterns entry is not a mapping, skipping")
			continue
		}
		m, ok := wrapper["pattern"].(map[string]any)
		if !ok {
			warnf("patterns entry has no pattern mapping, skipping")
			continue
		}
		raw, ok := m["regex"].(string)
		if !ok {
			warnf("pattern %v has no regex, skipping", m["name"])
			continue
		}
		name := stringField(m, "name")
		loc, err := newLocator(raw, kebabCase(name), name, types.SecretGroup{})
		if err != nil {
			warnf("skipping pattern %q: %v", name, err)
			continue
		}
		if c := stringField(m, "confidence"); c != "" {
			loc.Confidence = c
		}
		locators = append(locators, loc)
	}
	return locators
}

func normalizeGitleaks(items []any) []*types.SecretLocator {
	var locators []*types.SecretLocator
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			warnf("gitleaks rule is not a mapping, skipping")
			continue
		}
		raw, ok := m["regex"].(string)
		if !ok {
			warnf("gitleaks rule %v has no regex, skipping", m["id"])
			continue
		}
		id := stringField(m, "id")
		// entropy and allowlist are validity classification; discarded.
		loc, err := newLocator(raw, id, titleCase(id), groupField(m["secretGroup"]))
		if err != nil {
			warnf("skipping gitleaks rule %q: %v", id, err)
			continue
		}
		if d := stringField(m, "description"); d != "" {
			loc.Description = d
		}
		loc.Tags = stringListField(m["keywords"])
		locators = append(locators, loc)
	}
	return locators
}

func normalizeSimple(m map[string]any) []*types.SecretLocator {
	var locators []*types.SecretLocator
	for name, v := range m {
		var patterns []string
		switch t := v.(type) {
		case string:
			patterns = []string{t}
		case []any:
			for _, p := range t {
				s, ok := p.(string)
				if !ok {
					warnf("pattern for %q is not a string, skipping", name)
					continue
				}
				patterns = append(patterns, s)
			}
		default:
			warnf("value for %q is neither string nor list, skipping", name)
			continue
		}

		for i, raw := range patterns {
			id, display := kebabCase(name), name
			if i > 0 {
				id = fmt.Sprintf("%s-%d", id, i)
				display = fmt.Sprintf("%s %d", display, i)
			}
			loc, err := newLocator(raw, id, display, types.SecretGroup{})
			if err != nil {
				warnf("skipping %q: %v", name, err)
				continue
			}
			locators = append(locators, loc)
		}
	}
	return locators
}

// newLocator compiles the pattern, validates the secret group against it,
// and synthesizes a missing id or name from the other.
func newLocator(raw, id, name string, group types.SecretGroup) (*types.SecretLocator, error) {
	re, err := compilePattern(raw)
	if err != nil {
		return nil, err
	}
	if err := group.Validate(re); err != nil {
		return nil, err
	}
	if id == "" && name == "" {
		return nil, fmt.Errorf("locator has neither id nor name")
	}
	if id == "" {
		id = kebabCase(name)
	}
	if name == "" {
		name = titleCase(id)
	}
	return &types.SecretLocator{
		ID:          id,
		Name:        name,
		Pattern:     re,
		RawPattern:  raw,
		SecretGroup: group,
		Description: types.NoDescription,
		Confidence:  types.UnknownConfidence,
		Severity:    types.UnknownSeverity,
	}, nil
}

// kebabCase converts "AWS Access Token" to "aws-access-token".
func kebabCase(name string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), " ", "-"))
}

// titleCase converts "gcp-api-key" to "Gcp Api Key".
func titleCase(id string) string {
	words := strings.Split(id, "-")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func stringListField(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// groupField converts a decoded secret_group value to a SecretGroup.
// JSON numbers arrive as float64, TOML as int64, and either format may name
// a group with a string.
func groupField(v any) types.SecretGroup {
	switch t := v.(type) {
	case float64:
		return types.ByNumber(int(t))
	case int64:
		return types.ByNumber(int(t))
	case int:
		return types.ByNumber(t)
	case string:
		return types.ByName(t)
	}
	return types.SecretGroup{}
}
