package rules

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
)

func testRefs() RefsBlock {
	return RefsBlock{
		Vars: map[string]any{
			"min_ratio": 1.0,
			"trackers":  []any{"tracker-a", "tracker-b"},
			"label":     "archive",
		},
		Conditions: map[string]any{
			"seeded": map[string]any{
				"all": []any{
					map[string]any{"field": "info.ratio", "operator": ">=", "value": "${vars.min_ratio}"},
				},
			},
			"nested": map[string]any{
				"any": []any{
					map[string]any{"$ref": "conditions.seeded"},
				},
			},
		},
		Actions: map[string]any{
			"cleanup": []any{
				map[string]any{"type": "add_tag", "tag": "${vars.label}"},
				map[string]any{"type": "stop"},
			},
		},
	}
}

func TestResolveRule_ExpandsConditionRef(t *testing.T) {
	resolver, err := NewResolver(testRefs(), "", nil)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}

	rule := &RawRule{
		Name:       "seeded",
		Conditions: map[string]any{"$ref": "conditions.seeded"},
		Actions:    []any{map[string]any{"type": "stop"}},
	}

	resolved, err := resolver.ResolveRule(rule)
	if err != nil {
		t.Fatalf("ResolveRule: %v", err)
	}

	conditions, ok := resolved.Conditions.(map[string]any)
	if !ok {
		t.Fatalf("conditions not a map: %T", resolved.Conditions)
	}
	all, ok := conditions["all"].([]any)
	if !ok || len(all) != 1 {
		t.Fatalf("unexpected all member: %#v", conditions["all"])
	}
	leaf := all[0].(map[string]any)
	if got := leaf["value"]; got != 1.0 {
		t.Errorf("variable should keep its float type, got %T(%v)", got, got)
	}
}

func TestResolveRule_SplicesActionSequence(t *testing.T) {
	resolver, err := NewResolver(testRefs(), "", nil)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}

	rule := &RawRule{
		Name:       "splice",
		Conditions: map[string]any{"all": []any{}},
		Actions: []any{
			map[string]any{"$ref": "actions.cleanup"},
			map[string]any{"type": "recheck"},
		},
	}

	resolved, err := resolver.ResolveRule(rule)
	if err != nil {
		t.Fatalf("ResolveRule: %v", err)
	}

	actions := resolved.Actions.([]any)
	if len(actions) != 3 {
		t.Fatalf("expected referenced sequence spliced to 3 actions, got %d: %#v", len(actions), actions)
	}
	first := actions[0].(map[string]any)
	if first["tag"] != "archive" {
		t.Errorf("expected interpolated tag \"archive\", got %v", first["tag"])
	}
	if actions[2].(map[string]any)["type"] != "recheck" {
		t.Errorf("trailing literal action lost: %#v", actions[2])
	}
}

func TestResolveRule_WholeValuePreservesListType(t *testing.T) {
	resolver, _ := NewResolver(testRefs(), "", nil)

	rule := &RawRule{
		Name: "list",
		Conditions: map[string]any{
			"all": []any{
				map[string]any{"field": "trackers.url", "operator": "in", "value": "${vars.trackers}"},
			},
		},
		Actions: []any{map[string]any{"type": "stop"}},
	}

	resolved, err := resolver.ResolveRule(rule)
	if err != nil {
		t.Fatalf("ResolveRule: %v", err)
	}

	leaf := resolved.Conditions.(map[string]any)["all"].([]any)[0].(map[string]any)
	want := []any{"tracker-a", "tracker-b"}
	if !reflect.DeepEqual(leaf["value"], want) {
		t.Errorf("whole-value variable should stay a list, got %#v", leaf["value"])
	}
}

func TestResolveRule_EmbeddedMarkersInterpolate(t *testing.T) {
	resolver, _ := NewResolver(testRefs(), "", nil)

	rule := &RawRule{
		Name:       "interp",
		Conditions: map[string]any{"all": []any{}},
		Actions: []any{
			map[string]any{"type": "set_category", "category": "${vars.label}-ratio-${vars.min_ratio}"},
		},
	}

	resolved, err := resolver.ResolveRule(rule)
	if err != nil {
		t.Fatalf("ResolveRule: %v", err)
	}

	action := resolved.Actions.([]any)[0].(map[string]any)
	if action["category"] != "archive-ratio-1" {
		t.Errorf("embedded markers should interpolate independently, got %v", action["category"])
	}
}

func TestResolveRule_Errors(t *testing.T) {
	tests := []struct {
		name    string
		rule    RawRule
		errType any
	}{
		{
			name: "unknown group",
			rule: RawRule{
				Name:       "r",
				Conditions: map[string]any{"$ref": "variables.seeded"},
				Actions:    []any{map[string]any{"type": "stop"}},
			},
			errType: &UnknownGroupError{},
		},
		{
			name: "unknown reference",
			rule: RawRule{
				Name:       "r",
				Conditions: map[string]any{"$ref": "conditions.missing"},
				Actions:    []any{map[string]any{"type": "stop"}},
			},
			errType: &UnknownRefError{},
		},
		{
			name: "condition ref inside actions",
			rule: RawRule{
				Name:       "r",
				Conditions: map[string]any{"all": []any{}},
				Actions:    []any{map[string]any{"$ref": "conditions.seeded"}},
			},
			errType: &RefTypeMismatchError{},
		},
		{
			name: "action ref inside conditions",
			rule: RawRule{
				Name:       "r",
				Conditions: map[string]any{"$ref": "actions.cleanup"},
				Actions:    []any{map[string]any{"type": "stop"}},
			},
			errType: &RefTypeMismatchError{},
		},
		{
			name: "unknown variable",
			rule: RawRule{
				Name: "r",
				Conditions: map[string]any{
					"all": []any{
						map[string]any{"field": "info.ratio", "operator": ">=", "value": "${vars.nope}"},
					},
				},
				Actions: []any{map[string]any{"type": "stop"}},
			},
			errType: &UnknownVariableError{},
		},
		{
			name: "malformed ref path",
			rule: RawRule{
				Name:       "r",
				Conditions: map[string]any{"$ref": "seeded"},
				Actions:    []any{map[string]any{"type": "stop"}},
			},
			errType: &RefError{},
		},
		{
			name: "ref with sibling keys",
			rule: RawRule{
				Name:       "r",
				Conditions: map[string]any{"$ref": "conditions.seeded", "extra": true},
				Actions:    []any{map[string]any{"type": "stop"}},
			},
			errType: &RefError{},
		},
	}

	resolver, _ := NewResolver(testRefs(), "", nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := resolver.ResolveRule(&tt.rule)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			target := reflect.New(reflect.TypeOf(tt.errType)).Interface()
			if !errors.As(err, target) {
				t.Errorf("expected %T, got %T: %v", tt.errType, err, err)
			}
		})
	}
}

func TestResolveRule_UnknownRefListsAvailable(t *testing.T) {
	resolver, _ := NewResolver(testRefs(), "", nil)
	rule := &RawRule{
		Name:       "r",
		Conditions: map[string]any{"$ref": "conditions.missing"},
		Actions:    []any{map[string]any{"type": "stop"}},
	}

	_, err := resolver.ResolveRule(rule)
	var refErr *UnknownRefError
	if !errors.As(err, &refErr) {
		t.Fatalf("expected UnknownRefError, got %v", err)
	}
	if !reflect.DeepEqual(refErr.Available, []string{"nested", "seeded"}) {
		t.Errorf("available names should be sorted, got %v", refErr.Available)
	}
}

func TestResolveRule_CycleDetection(t *testing.T) {
	refs := testRefs()
	refs.Conditions["a"] = map[string]any{"all": []any{map[string]any{"$ref": "conditions.b"}}}
	refs.Conditions["b"] = map[string]any{"all": []any{map[string]any{"$ref": "conditions.a"}}}

	resolver, _ := NewResolver(refs, "", nil)
	rule := &RawRule{
		Name:       "cyclic",
		Conditions: map[string]any{"$ref": "conditions.a"},
		Actions:    []any{map[string]any{"type": "stop"}},
	}

	_, err := resolver.ResolveRule(rule)
	var cycleErr *CycleError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("expected CycleError, got %v", err)
	}
	if len(cycleErr.Chain) < 3 || cycleErr.Chain[len(cycleErr.Chain)-1] != "conditions.a" {
		t.Errorf("cycle chain should end where it started, got %v", cycleErr.Chain)
	}
}

func TestResolveRule_SelfReferenceIsCycle(t *testing.T) {
	refs := testRefs()
	refs.Conditions["self"] = map[string]any{"all": []any{map[string]any{"$ref": "conditions.self"}}}

	resolver, _ := NewResolver(refs, "", nil)
	rule := &RawRule{
		Name:       "self",
		Conditions: map[string]any{"$ref": "conditions.self"},
		Actions:    []any{map[string]any{"type": "stop"}},
	}

	var cycleErr *CycleError
	if _, err := resolver.ResolveRule(rule); !errors.As(err, &cycleErr) {
		t.Fatalf("expected CycleError, got %v", err)
	}
}

func TestNewResolver_InstanceOverrides(t *testing.T) {
	instances := map[string]Instance{}
	inst := Instance{}
	inst.Refs.Vars = map[string]any{"min_ratio": 2.0}
	instances["vm2"] = inst

	resolver, err := NewResolver(testRefs(), "vm2", instances)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	if got := resolver.Vars()["min_ratio"]; got != 2.0 {
		t.Errorf("instance override should shadow global, got %v", got)
	}
	if got := resolver.Vars()["label"]; got != "archive" {
		t.Errorf("untouched globals should pass through, got %v", got)
	}
}

func TestNewResolver_UnknownInstance(t *testing.T) {
	_, err := NewResolver(testRefs(), "nope", map[string]Instance{"vm1": {}})
	var instErr *UnknownInstanceError
	if !errors.As(err, &instErr) {
		t.Fatalf("expected UnknownInstanceError, got %v", err)
	}
}

func TestResolveRule_InputNotMutated(t *testing.T) {
	resolver, _ := NewResolver(testRefs(), "", nil)
	rule := &RawRule{
		Name:       "immutable",
		Conditions: map[string]any{"$ref": "conditions.seeded"},
		Actions:    []any{map[string]any{"type": "add_tag", "tag": "${vars.label}"}},
	}

	if _, err := resolver.ResolveRule(rule); err != nil {
		t.Fatalf("ResolveRule: %v", err)
	}

	if _, stillRef := rule.Conditions.(map[string]any)["$ref"]; !stillRef {
		t.Error("source rule conditions were mutated")
	}
	if rule.Actions.([]any)[0].(map[string]any)["tag"] != "${vars.label}" {
		t.Error("source rule actions were mutated")
	}
}

func TestResolveRule_FixedPoint(t *testing.T) {
	resolver, _ := NewResolver(testRefs(), "", nil)
	rule := &RawRule{
		Name:       "fixed-point",
		Conditions: map[string]any{"$ref": "conditions.nested"},
		Actions:    []any{map[string]any{"$ref": "actions.cleanup"}},
	}

	resolved, err := resolver.ResolveRule(rule)
	if err != nil {
		t.Fatalf("ResolveRule: %v", err)
	}

	for _, tree := range []any{resolved.Conditions, resolved.Actions} {
		if err := assertNoMarkers(tree); err != nil {
			t.Error(err)
		}
	}
}

// assertNoMarkers walks a resolved tree checking the fixed-point property.
func assertNoMarkers(node any) error {
	switch n := node.(type) {
	case map[string]any:
		if _, ok := n[refKey]; ok {
			return fmt.Errorf("resolved tree still contains $ref: %#v", n)
		}
		for _, v := range n {
			if err := assertNoMarkers(v); err != nil {
				return err
			}
		}
	case []any:
		for _, v := range n {
			if err := assertNoMarkers(v); err != nil {
				return err
			}
		}
	case string:
		if strings.Contains(n, "${") {
			return fmt.Errorf("resolved tree still contains marker: %q", n)
		}
	}
	return nil
}
