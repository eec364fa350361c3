// internal/rules/operators.go
package rules

import (
	"sort"
	"strings"
)

/*
 * Operator vocabulary and comparison logic.
 *
 * Fifteen operators in a closed enum, dispatched via switch in the
 * evaluator's compareScalar.
 * Equality handles float64/int/int64 mixing for YAML/JSON compatibility;
 * ordering operators are numeric-only; string and membership operators
 * reject mismatched types by returning false, never erroring, so one odd
 * torrent cannot abort a run.
 *
 * Time (older_than/newer_than) and size (larger_than/smaller_than) operators
 * compare against pre-parsed values stored on the compiled condition; see
 * compile.go.
 */

// Operator identifies one comparison in the condition vocabulary.
type Operator int

const (
	OpUnspecified Operator = iota
	OpEq
	OpNeq
	OpGt
	OpLt
	OpGte
	OpLte
	OpContains
	OpNotContains
	OpMatches
	OpIn
	OpNotIn
	OpOlderThan
	OpNewerThan
	OpLargerThan
	OpSmallerThan
)

var operatorNames = map[string]Operator{
	"==":           OpEq,
	"!=":           OpNeq,
	">":            OpGt,
	"<":            OpLt,
	">=":           OpGte,
	"<=":           OpLte,
	"contains":     OpContains,
	"not_contains": OpNotContains,
	"matches":      OpMatches,
	"in":           OpIn,
	"not_in":       OpNotIn,
	"older_than":   OpOlderThan,
	"newer_than":   OpNewerThan,
	"larger_than":  OpLargerThan,
	"smaller_than": OpSmallerThan,
}

// ParseOperator maps the rule-file spelling to the enum.
func ParseOperator(s string) (Operator, bool) {
	op, ok := operatorNames[s]
	return op, ok
}

// OperatorNames returns every valid spelling, sorted, for error messages.
func OperatorNames() []string {
	names := make([]string, 0, len(operatorNames))
	for name := range operatorNames {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// String returns the rule-file spelling of the operator.
func (op Operator) String() string {
	for name, o := range operatorNames {
		if o == op {
			return name
		}
	}
	return "unspecified"
}

// Negated reports whether the operator asserts absence of a match.
// Negated operators evaluate to true against an absent field, and invert
// the any-element result over collection fields.
func (op Operator) Negated() bool {
	switch op {
	case OpNeq, OpNotIn, OpNotContains:
		return true
	default:
		return false
	}
}

// positive returns the non-negated counterpart used for element-wise
// matching; non-negated operators return themselves.
func (op Operator) positive() Operator {
	switch op {
	case OpNeq:
		return OpEq
	case OpNotIn:
		return OpIn
	case OpNotContains:
		return OpContains
	default:
		return op
	}
}

// compareEqual performs equality comparison with numeric type coercion.
// Handles float64/int/int64 mixing from YAML and JSON decoding.
func compareEqual(a, b any) bool {
	if na, nb, ok := asNumbers(a, b); ok {
		return na == nb
	}
	return a == b
}

// compareNumeric performs three-way numeric comparison (-1/0/1).
// The ok result is false for incomparable types.
func compareNumeric(a, b any) (int, bool) {
	na, nb, ok := asNumbers(a, b)
	if !ok {
		return 0, false
	}
	switch {
	case na < nb:
		return -1, true
	case na > nb:
		return 1, true
	default:
		return 0, true
	}
}

// asNumbers attempts to convert both values to float64 for numeric comparison.
func asNumbers(a, b any) (float64, float64, bool) {
	na, oka := toFloat64(a)
	nb, okb := toFloat64(b)
	return na, nb, oka && okb
}

// toFloat64 converts value to float64 if it's a numeric type.
// Handles float64, int, int64 from YAML and JSON unmarshaling.
func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

// compareContains checks substring membership (both must be strings).
func compareContains(value, needle any) bool {
	vs, ok1 := value.(string)
	ns, ok2 := needle.(string)
	if !ok1 || !ok2 {
		return false
	}
	return strings.Contains(vs, ns)
}

// compareIn checks if value exists in set using equality semantics.
func compareIn(value any, set []any) bool {
	for _, elem := range set {
		if compareEqual(value, elem) {
			return true
		}
	}
	return false
}
