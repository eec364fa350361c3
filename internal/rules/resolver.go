// internal/rules/resolver.go
package rules

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/qbtrules/qbtrules/internal/types"
)

/*
 * Reference and variable resolution.
 *
 * Two phases, in order:
 *   1. Structural expansion: every {$ref: group.name} node is replaced by a
 *      deep copy of the named entry from the refs block. Expansion recurses
 *      into the copied value, so references may contain further references;
 *      the active expansion path doubles as the cycle detector.
 *   2. Variable substitution: ${vars.name} markers in string values are
 *      replaced. A marker that is the whole string takes the variable's
 *      typed value; a marker embedded in a longer string is stringified and
 *      spliced, each marker independently.
 *
 * Expansion runs first because an expanded block may itself contain
 * unresolved markers. Context rules: inside a rule's conditions subtree
 * only conditions.* references are legal, inside actions only actions.*.
 * A reference in a list position whose target is itself a list is spliced
 * into the surrounding list, so a named action sequence drops into a rule's
 * actions without double nesting.
 *
 * The resolver never mutates its inputs; every rule comes back as a fresh
 * structure. Construct one resolver per run (instance overrides are
 * run-wide constants) and discard it afterwards.
 */

const refKey = "$ref"

var varMarker = regexp.MustCompile(`\$\{vars\.([A-Za-z0-9_]+)\}`)

var refGroups = []string{"conditions", "actions"}

// Resolver expands references and substitutes variables for one run.
type Resolver struct {
	refs RefsBlock
	vars map[string]any
}

// NewResolver builds a resolver with instance overrides applied. The merge
// is single-level: an instance variable shadows the global of the same name,
// untouched globals pass through. An empty instanceID means globals only.
func NewResolver(refs RefsBlock, instanceID string, instances map[string]Instance) (*Resolver, error) {
	vars := make(map[string]any, len(refs.Vars))
	for name, value := range refs.Vars {
		vars[name] = value
	}

	if instanceID != "" {
		instance, ok := instances[instanceID]
		if !ok {
			return nil, &UnknownInstanceError{Instance: instanceID, Available: sortedKeys(instances)}
		}
		for name, value := range instance.Refs.Vars {
			vars[name] = value
		}
	}

	return &Resolver{refs: refs, vars: vars}, nil
}

// Vars exposes the merged variable map, primarily for validation tooling.
func (r *Resolver) Vars() map[string]any {
	return r.vars
}

// ResolveRule returns a copy of the rule with every reference expanded and
// every variable substituted. The input rule is not modified.
func (r *Resolver) ResolveRule(rule *RawRule) (*RawRule, error) {
	out := *rule

	conditions, err := r.expand(deepCopy(rule.Conditions), "conditions", "conditions", nil)
	if err != nil {
		return nil, err
	}
	actions, err := r.expand(deepCopy(rule.Actions), "actions", "actions", nil)
	if err != nil {
		return nil, err
	}

	if out.Conditions, err = r.substitute(conditions, "conditions"); err != nil {
		return nil, err
	}
	if out.Actions, err = r.substitute(actions, "actions"); err != nil {
		return nil, err
	}

	ctxValue, err := r.substitute(rule.Context, "context")
	if err != nil {
		return nil, err
	}
	if s, ok := ctxValue.(string); ok {
		out.Context = s
	} else {
		out.Context = fmt.Sprint(ctxValue)
	}

	return &out, nil
}

// expand walks the tree replacing $ref nodes. allowedGroup restricts which
// refs group may be referenced at this position; path is the active
// expansion chain used for cycle detection.
func (r *Resolver) expand(node any, allowedGroup, loc string, path []string) (any, error) {
	switch n := node.(type) {
	case map[string]any:
		if refValue, isRef := n[refKey]; isRef {
			return r.expandRef(n, refValue, allowedGroup, loc, path)
		}
		out := make(map[string]any, len(n))
		for key, value := range n {
			expanded, err := r.expand(value, allowedGroup, loc+"."+key, path)
			if err != nil {
				return nil, err
			}
			out[key] = expanded
		}
		return out, nil

	case []any:
		out := make([]any, 0, len(n))
		for i, elem := range n {
			elemLoc := fmt.Sprintf("%s[%d]", loc, i)
			_, wasRef := refNode(elem)
			expanded, err := r.expand(elem, allowedGroup, elemLoc, path)
			if err != nil {
				return nil, err
			}
			// A reference to a named sequence splices into its parent list.
			if spliced, ok := expanded.([]any); ok && wasRef {
				out = append(out, spliced...)
			} else {
				out = append(out, expanded)
			}
		}
		return out, nil

	default:
		return node, nil
	}
}

// expandRef resolves one $ref node: validates the path, the group, the
// usage context, and the cycle invariant, then recursively expands a deep
// copy of the target.
func (r *Resolver) expandRef(node map[string]any, refValue any, allowedGroup, loc string, path []string) (any, error) {
	ref, ok := refValue.(string)
	if !ok {
		return nil, &RefError{Ref: fmt.Sprint(refValue), Location: loc, Reason: "$ref value must be a string"}
	}
	if len(node) > 1 {
		return nil, &RefError{Ref: ref, Location: loc, Reason: "$ref must be the only key in its mapping"}
	}

	group, name, ok := strings.Cut(ref, ".")
	if !ok || group == "" || name == "" {
		return nil, &RefError{Ref: ref, Location: loc, Reason: "want \"group.name\""}
	}

	var entries map[string]any
	switch group {
	case "conditions":
		entries = r.refs.Conditions
	case "actions":
		entries = r.refs.Actions
	default:
		return nil, &UnknownGroupError{Ref: ref, Location: loc, Group: group, Known: refGroups}
	}
	if group != allowedGroup {
		return nil, &RefTypeMismatchError{Ref: ref, Location: loc,
			Expected: []string{allowedGroup}, Actual: group}
	}

	target, ok := entries[name]
	if !ok {
		return nil, &UnknownRefError{Ref: ref, Location: loc, Group: group, Name: name,
			Available: sortedKeys(entries)}
	}

	for _, ancestor := range path {
		if ancestor == ref {
			return nil, &CycleError{Chain: append(append([]string{}, path...), ref)}
		}
	}
	if len(path) >= types.MaxRefExpansionDepth {
		return nil, &CycleError{Chain: append(append([]string{}, path...), ref)}
	}

	return r.expand(deepCopy(target), allowedGroup, loc, append(path, ref))
}

// refNode reports whether elem is a reference node and returns its path.
func refNode(elem any) (string, bool) {
	m, ok := elem.(map[string]any)
	if !ok {
		return "", false
	}
	ref, ok := m[refKey].(string)
	return ref, ok
}

// substitute walks the tree replacing ${vars.*} markers in string values.
func (r *Resolver) substitute(node any, loc string) (any, error) {
	switch n := node.(type) {
	case string:
		return r.substituteString(n, loc)

	case map[string]any:
		out := make(map[string]any, len(n))
		for key, value := range n {
			substituted, err := r.substitute(value, loc+"."+key)
			if err != nil {
				return nil, err
			}
			out[key] = substituted
		}
		return out, nil

	case []any:
		out := make([]any, 0, len(n))
		for i, elem := range n {
			substituted, err := r.substitute(elem, fmt.Sprintf("%s[%d]", loc, i))
			if err != nil {
				return nil, err
			}
			out = append(out, substituted)
		}
		return out, nil

	default:
		return node, nil
	}
}

// substituteString resolves markers in one string. A whole-string marker
// preserves the variable's type; embedded markers interpolate as text.
func (r *Resolver) substituteString(s, loc string) (any, error) {
	if m := varMarker.FindStringSubmatch(s); m != nil && m[0] == s {
		value, ok := r.vars[m[1]]
		if !ok {
			return nil, &UnknownVariableError{Name: m[1], Location: loc, Available: sortedKeys(r.vars)}
		}
		return deepCopy(value), nil
	}

	var substErr error
	out := varMarker.ReplaceAllStringFunc(s, func(marker string) string {
		name := varMarker.FindStringSubmatch(marker)[1]
		value, ok := r.vars[name]
		if !ok {
			if substErr == nil {
				substErr = &UnknownVariableError{Name: name, Location: loc, Available: sortedKeys(r.vars)}
			}
			return marker
		}
		return stringify(value)
	})
	if substErr != nil {
		return nil, substErr
	}
	return out, nil
}

// stringify renders a variable for string interpolation.
func stringify(v any) string {
	switch value := v.(type) {
	case string:
		return value
	case float64:
		// Trim the ".0" YAML puts on whole floats; "ratio 1" reads better
		// than "ratio 1.000000" in interpolated tags and categories.
		if value == float64(int64(value)) {
			return fmt.Sprintf("%d", int64(value))
		}
		return fmt.Sprintf("%g", value)
	default:
		return fmt.Sprint(value)
	}
}

// deepCopy clones the YAML-shaped tree so expansion and substitution never
// alias the refs block or the source rule.
func deepCopy(node any) any {
	switch n := node.(type) {
	case map[string]any:
		out := make(map[string]any, len(n))
		for key, value := range n {
			out[key] = deepCopy(value)
		}
		return out
	case []any:
		out := make([]any, len(n))
		for i, elem := range n {
			out[i] = deepCopy(elem)
		}
		return out
	default:
		return node
	}
}
