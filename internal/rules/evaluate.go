// internal/rules/evaluate.go
package rules

import (
	"context"
	"time"

	"github.com/qbtrules/qbtrules/internal/types"
)

/*
 * Condition tree evaluation.
 *
 * A group's present members (all/any/none) are evaluated independently and
 * the group passes only if every present member passes. Absent or empty
 * members pass vacuously, which makes an empty `any` true rather than
 * false.
 *
 * Absence policy: a field that resolved to "absent" satisfies the negated
 * operators (!=, not_in, not_contains) and fails every other operator.
 *
 * Collection fields ([]any from the field resolver) use any-element
 * semantics: the positive form of the operator is applied per element and
 * the leaf is true iff at least one element matches; negated operators
 * invert that, so not_contains over trackers means "no tracker contains".
 *
 * Errors returned from here are transport-fatal only; type mismatches and
 * missing fields are non-matches, never errors.
 */

// evaluator walks compiled condition trees for one run.
type evaluator struct {
	cache *runCache
	now   func() time.Time
}

// Matches reports whether the torrent satisfies the condition group.
func (e *evaluator) Matches(ctx context.Context, t *types.Torrent, group *ConditionGroup) (bool, error) {
	for _, node := range group.All {
		ok, err := e.matchNode(ctx, t, &node)
		if err != nil || !ok {
			return false, err
		}
	}

	if len(group.Any) > 0 {
		matched := false
		for _, node := range group.Any {
			ok, err := e.matchNode(ctx, t, &node)
			if err != nil {
				return false, err
			}
			if ok {
				matched = true
				break
			}
		}
		if !matched {
			return false, nil
		}
	}

	for _, node := range group.None {
		ok, err := e.matchNode(ctx, t, &node)
		if err != nil || ok {
			return false, err
		}
	}

	return true, nil
}

func (e *evaluator) matchNode(ctx context.Context, t *types.Torrent, node *ConditionNode) (bool, error) {
	if node.Group != nil {
		return e.Matches(ctx, t, node.Group)
	}
	return e.matchLeaf(ctx, t, node.Leaf)
}

func (e *evaluator) matchLeaf(ctx context.Context, t *types.Torrent, cond *Condition) (bool, error) {
	value, absent, err := e.cache.Resolve(ctx, t, cond.Group, cond.Property)
	if err != nil {
		return false, err
	}
	if absent {
		return cond.Op.Negated(), nil
	}

	positive := cond.Op.positive()

	if elements, isCollection := value.([]any); isCollection {
		matched := false
		for _, elem := range elements {
			if e.compareScalar(cond, positive, elem) {
				matched = true
				break
			}
		}
		if cond.Op.Negated() {
			return !matched, nil
		}
		return matched, nil
	}

	matched := e.compareScalar(cond, positive, value)
	if cond.Op.Negated() {
		return !matched, nil
	}
	return matched, nil
}

// compareScalar applies the positive form of the operator to one scalar.
// Type mismatches return false.
func (e *evaluator) compareScalar(cond *Condition, op Operator, value any) bool {
	switch op {
	case OpEq:
		return compareEqual(value, cond.Value)
	case OpGt:
		c, ok := compareNumeric(value, cond.Value)
		return ok && c > 0
	case OpLt:
		c, ok := compareNumeric(value, cond.Value)
		return ok && c < 0
	case OpGte:
		c, ok := compareNumeric(value, cond.Value)
		return ok && c >= 0
	case OpLte:
		c, ok := compareNumeric(value, cond.Value)
		return ok && c <= 0
	case OpContains:
		return compareContains(value, cond.Value)
	case OpMatches:
		s, ok := value.(string)
		return ok && cond.pattern.MatchString(s)
	case OpIn:
		return compareIn(value, cond.set)
	case OpOlderThan:
		ts, ok := toFloat64(value)
		if !ok || ts <= 0 {
			return false
		}
		return e.now().Unix()-int64(ts) > int64(cond.dur.Seconds())
	case OpNewerThan:
		ts, ok := toFloat64(value)
		if !ok || ts <= 0 {
			return false
		}
		return e.now().Unix()-int64(ts) < int64(cond.dur.Seconds())
	case OpLargerThan:
		n, ok := toFloat64(value)
		return ok && int64(n) > cond.size
	case OpSmallerThan:
		n, ok := toFloat64(value)
		return ok && int64(n) < cond.size
	default:
		return false
	}
}
