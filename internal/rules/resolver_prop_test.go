package rules

import (
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/qbtrules/qbtrules/internal/types"
)

// Property-based test: resolution never crashes
func TestResolveRule_PropertyNeverCrashes(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("resolution never panics regardless of ref chain shape", prop.ForAll(
		func(chainLen int, closeCycle bool, spliceList bool) bool {
			// Build a ref chain c0 -> c1 -> ... -> leaf, optionally closed
			// into a cycle at the end.
			conditions := map[string]any{}
			for i := 0; i < chainLen; i++ {
				next := fmt.Sprintf("conditions.c%d", i+1)
				conditions[fmt.Sprintf("c%d", i)] = map[string]any{"$ref": next}
			}
			if closeCycle && chainLen > 0 {
				conditions[fmt.Sprintf("c%d", chainLen)] = map[string]any{"$ref": "conditions.c0"}
			} else {
				var leaf any = map[string]any{
					"all": []any{map[string]any{"field": "info.ratio", "operator": ">", "value": 1}},
				}
				if spliceList {
					leaf = []any{leaf}
				}
				conditions[fmt.Sprintf("c%d", chainLen)] = leaf
			}

			resolver, err := NewResolver(RefsBlock{Conditions: conditions}, "", nil)
			if err != nil {
				return false
			}

			defer func() {
				if r := recover(); r != nil {
					t.Errorf("ResolveRule panicked: %v", r)
				}
			}()

			raw := &RawRule{
				Name:       "chain",
				Conditions: map[string]any{"all": []any{map[string]any{"$ref": "conditions.c0"}}},
				Actions:    []any{map[string]any{"type": "stop"}},
			}
			resolved, err := resolver.ResolveRule(raw)

			// Deep chains and cycles must error, never hang or panic.
			if closeCycle || chainLen >= types.MaxRefExpansionDepth {
				return err != nil
			}
			return err == nil && resolved != nil
		},
		gen.IntRange(0, 40),
		gen.Bool(),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

// Property-based test: resolved output carries no markers
func TestResolveRule_PropertyNoResidualMarkers(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("no ${vars.*} marker survives resolution", prop.ForAll(
		func(ratio float64, label string, embed bool) bool {
			refs := RefsBlock{Vars: map[string]any{
				"threshold": ratio,
				"label":     label,
			}}
			resolver, err := NewResolver(refs, "", nil)
			if err != nil {
				return false
			}

			var tag any = "${vars.label}"
			if embed {
				tag = "pre-${vars.label}-post"
			}
			raw := &RawRule{
				Name: "subst",
				Conditions: map[string]any{"all": []any{
					map[string]any{"field": "info.ratio", "operator": ">=", "value": "${vars.threshold}"},
				}},
				Actions: []any{map[string]any{"type": "add_tag", "tag": tag}},
			}

			resolved, err := resolver.ResolveRule(raw)
			if err != nil {
				return false
			}
			return assertNoMarkers(resolved.Conditions) == nil &&
				assertNoMarkers(resolved.Actions) == nil
		},
		gen.Float64Range(0, 100),
		gen.RegexMatch(`[a-z]{1,12}`),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

// Property-based test: resolution is deterministic
func TestResolveRule_PropertyDeterminism(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("resolving the same rule twice yields the same shape", prop.ForAll(
		func(seed int) bool {
			resolver, err := NewResolver(testRefs(), "", nil)
			if err != nil {
				return false
			}
			raw := &RawRule{
				Name:       "twice",
				Conditions: map[string]any{"all": []any{map[string]any{"$ref": "conditions.seeded"}}},
				Actions:    []any{map[string]any{"$ref": "actions.cleanup"}},
			}

			first, err1 := resolver.ResolveRule(raw)
			second, err2 := resolver.ResolveRule(raw)
			if err1 != nil || err2 != nil {
				return false
			}
			return fmt.Sprintf("%#v", first) == fmt.Sprintf("%#v", second)
		},
		gen.Int(),
	))

	properties.TestingRun(t)
}

// Property-based test: unit parser arithmetic
func TestParseUnits_Properties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("bare byte counts parse to themselves", prop.ForAll(
		func(n int64) bool {
			got, err := ParseSize(fmt.Sprintf("%d", n))
			return err == nil && got == n
		},
		gen.Int64Range(0, 1<<50),
	))

	properties.Property("days and hours agree", prop.ForAll(
		func(days int) bool {
			byDays, err1 := ParseRelativeDuration(fmt.Sprintf("%d days", days))
			byHours, err2 := ParseRelativeDuration(fmt.Sprintf("%d hours", days*24))
			return err1 == nil && err2 == nil &&
				byDays == byHours && byDays == time.Duration(days)*24*time.Hour
		},
		gen.IntRange(1, 10000),
	))

	properties.TestingRun(t)
}
