// internal/rules/document.go
package rules

/*
 * Rule document shapes as they come off the YAML parser.
 *
 * Condition and action subtrees stay untyped (map[string]any / []any) until
 * resolution so the resolver can walk and rewrite $ref nodes and ${vars.*}
 * markers structurally. Compile() turns the resolved trees into the closed
 * typed model in compile.go.
 */

// Document is one parsed rules file: the shared refs block, the ordered rule
// list, and optional per-instance variable overrides.
type Document struct {
	Refs      RefsBlock           `yaml:"refs"`
	Rules     []RawRule           `yaml:"rules"`
	Instances map[string]Instance `yaml:"instances"`
}

// RefsBlock holds the named reusable pieces rules can reference: typed
// variables, condition groups, and action sequences.
type RefsBlock struct {
	Vars       map[string]any `yaml:"vars"`
	Conditions map[string]any `yaml:"conditions"`
	Actions    map[string]any `yaml:"actions"`
}

// Instance carries per-instance overrides. Only refs.vars may be overridden;
// the merge is single-level by variable name.
type Instance struct {
	Refs struct {
		Vars map[string]any `yaml:"vars"`
	} `yaml:"refs"`
}

// RawRule is one rule as authored: subtrees untyped, markers unresolved.
type RawRule struct {
	Name        string `yaml:"name"`
	Enabled     *bool  `yaml:"enabled"`
	StopOnMatch bool   `yaml:"stop_on_match"`
	Context     string `yaml:"context"`
	Conditions  any    `yaml:"conditions"`
	Actions     any    `yaml:"actions"`
}

// IsEnabled reports whether the rule participates in runs.
// An omitted enabled key means enabled.
func (r *RawRule) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}
