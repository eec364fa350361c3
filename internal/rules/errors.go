// internal/rules/errors.go
package rules

import (
	"fmt"
	"sort"
	"strings"
)

/*
 * Typed resolution and compilation errors.
 *
 * Every schema-level failure carries enough context to fix the rule file
 * without reading engine source: the offending reference or field, the
 * dotted location inside the rule where it occurred, and (where a closed
 * set exists) the valid alternatives. All of these are fatal for a run and
 * surface before any torrent is touched.
 */

// RefError reports a structurally invalid reference node: a malformed path,
// a non-string $ref value, or sibling keys next to $ref.
type RefError struct {
	Ref      string
	Location string
	Reason   string
}

func (e *RefError) Error() string {
	return fmt.Sprintf("invalid reference %q at %s: %s", e.Ref, e.Location, e.Reason)
}

// UnknownGroupError reports a $ref whose group is not a known refs group.
type UnknownGroupError struct {
	Ref      string
	Location string
	Group    string
	Known    []string
}

func (e *UnknownGroupError) Error() string {
	return fmt.Sprintf("unknown reference group %q in %q at %s (known groups: %s)",
		e.Group, e.Ref, e.Location, strings.Join(e.Known, ", "))
}

// UnknownRefError reports a $ref naming an entry absent from its group.
type UnknownRefError struct {
	Ref       string
	Location  string
	Group     string
	Name      string
	Available []string
}

func (e *UnknownRefError) Error() string {
	if len(e.Available) == 0 {
		return fmt.Sprintf("unknown reference %q at %s: refs.%s defines no entries", e.Ref, e.Location, e.Group)
	}
	return fmt.Sprintf("unknown reference %q at %s: refs.%s has no %q (available: %s)",
		e.Ref, e.Location, e.Group, e.Name, strings.Join(e.Available, ", "))
}

// RefTypeMismatchError reports a reference used outside its permitted
// subtree, e.g. a conditions.* reference inside a rule's actions.
type RefTypeMismatchError struct {
	Ref      string
	Location string
	Expected []string
	Actual   string
}

func (e *RefTypeMismatchError) Error() string {
	return fmt.Sprintf("reference %q at %s: expected a %s reference here, got %s",
		e.Ref, e.Location, strings.Join(e.Expected, " or "), e.Actual)
}

// CycleError reports a reference chain that revisits one of its own
// ancestors during expansion.
type CycleError struct {
	Chain []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("circular reference: %s", strings.Join(e.Chain, " -> "))
}

// UnknownVariableError reports a ${vars.*} marker naming an undefined
// variable after instance overrides were applied.
type UnknownVariableError struct {
	Name      string
	Location  string
	Available []string
}

func (e *UnknownVariableError) Error() string {
	if len(e.Available) == 0 {
		return fmt.Sprintf("unknown variable %q at %s: no variables defined", e.Name, e.Location)
	}
	return fmt.Sprintf("unknown variable %q at %s (available: %s)",
		e.Name, e.Location, strings.Join(e.Available, ", "))
}

// UnknownInstanceError reports a run requesting overrides from an instance
// the document does not declare.
type UnknownInstanceError struct {
	Instance  string
	Available []string
}

func (e *UnknownInstanceError) Error() string {
	return fmt.Sprintf("unknown instance %q (available: %s)",
		e.Instance, strings.Join(e.Available, ", "))
}

// CompileError reports a resolved rule that does not fit the typed rule
// model: unknown operator or action type, missing or mistyped params,
// malformed field path.
type CompileError struct {
	Rule         string
	Location     string
	Reason       string
	Alternatives []string
}

func (e *CompileError) Error() string {
	msg := fmt.Sprintf("rule %q: %s at %s", e.Rule, e.Reason, e.Location)
	if len(e.Alternatives) > 0 {
		msg += fmt.Sprintf(" (valid: %s)", strings.Join(e.Alternatives, ", "))
	}
	return msg
}

// sortedKeys returns the map's keys sorted, for stable error messages.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
