package rules

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/qbtrules/qbtrules/internal/types"
)

func cond(field, op string, value any) map[string]any {
	return map[string]any{"field": field, "operator": op, "value": value}
}

// matchAll compiles to a vacuously-true condition group.
func matchAll() map[string]any {
	return map[string]any{"all": []any{}}
}

func ruleDoc(rules ...RawRule) *Document {
	return &Document{Rules: rules}
}

func seededTorrents() []types.Torrent {
	return []types.Torrent{
		{Hash: "aaa", Attrs: map[string]any{"name": "first", "state": "stalledUP", "ratio": 2.0, "category": "linux"}},
		{Hash: "bbb", Attrs: map[string]any{"name": "second", "state": "downloading", "ratio": 0.1, "category": "linux"}},
		{Hash: "ccc", Attrs: map[string]any{"name": "third", "state": "stalledUP", "ratio": 3.0, "category": "movies"}},
	}
}

func TestRun_MatchesAndExecutes(t *testing.T) {
	client := newFakeClient(seededTorrents()...)
	doc := ruleDoc(RawRule{
		Name:       "stop-seeded",
		Conditions: map[string]any{"all": []any{cond("info.ratio", ">=", 2)}},
		Actions:    []any{map[string]any{"type": "stop"}, map[string]any{"type": "add_tag", "tag": "seeded"}},
	})

	result, err := NewRunner(client, doc, false, zerolog.Nop()).Run(context.Background(), types.ExecutionContext{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.TotalTorrents != 3 || result.Processed != 3 {
		t.Errorf("population: %+v", result)
	}
	if result.RulesMatched != 2 {
		t.Errorf("RulesMatched = %d", result.RulesMatched)
	}
	if result.ActionsExecuted != 4 || result.ActionsSkipped != 0 || result.Errors != 0 {
		t.Errorf("tally: %+v", result)
	}

	want := []string{"stop:aaa", "add_tags:aaa:[seeded]", "stop:ccc", "add_tags:ccc:[seeded]"}
	if len(client.actions) != len(want) {
		t.Fatalf("calls = %v, want %v", client.actions, want)
	}
	for i, call := range want {
		if client.actions[i] != call {
			t.Errorf("call[%d] = %q, want %q", i, client.actions[i], call)
		}
	}
}

func TestRun_SchemaErrorBeforeSideEffects(t *testing.T) {
	client := newFakeClient(seededTorrents()...)
	doc := ruleDoc(
		RawRule{
			Name:       "fine",
			Conditions: map[string]any{"all": []any{cond("info.ratio", ">=", 0)}},
			Actions:    []any{map[string]any{"type": "stop"}},
		},
		RawRule{
			Name:       "broken",
			Conditions: map[string]any{"all": []any{cond("info.ratio", "~=", 0)}},
			Actions:    []any{map[string]any{"type": "stop"}},
		},
	)

	_, err := NewRunner(client, doc, false, zerolog.Nop()).Run(context.Background(), types.ExecutionContext{})
	var compileErr *CompileError
	if !errors.As(err, &compileErr) {
		t.Fatalf("expected CompileError, got %v", err)
	}
	if len(client.actions) != 0 {
		t.Errorf("side effects before compile failure: %v", client.actions)
	}
}

func TestRun_UnresolvedRefFailsWholeRun(t *testing.T) {
	client := newFakeClient(seededTorrents()...)
	doc := &Document{
		Rules: []RawRule{{
			Name:       "refs-missing",
			Conditions: map[string]any{"all": []any{map[string]any{"$ref": "conditions.nope"}}},
			Actions:    []any{map[string]any{"type": "stop"}},
		}},
	}

	_, err := NewRunner(client, doc, false, zerolog.Nop()).Run(context.Background(), types.ExecutionContext{})
	var refErr *UnknownRefError
	if !errors.As(err, &refErr) {
		t.Fatalf("expected UnknownRefError, got %v", err)
	}
	if len(client.actions) != 0 {
		t.Errorf("side effects before resolution failure: %v", client.actions)
	}
}

func TestRun_StopOnMatchTerminatesEntity(t *testing.T) {
	client := newFakeClient(seededTorrents()...)
	doc := ruleDoc(
		RawRule{
			Name:        "first-pass",
			StopOnMatch: true,
			Conditions:  map[string]any{"all": []any{cond("info.ratio", ">=", 2)}},
			Actions:     []any{map[string]any{"type": "add_tag", "tag": "first"}},
		},
		RawRule{
			Name:       "second-pass",
			Conditions: map[string]any{"all": []any{cond("info.ratio", ">=", 0)}},
			Actions:    []any{map[string]any{"type": "add_tag", "tag": "second"}},
		},
	)

	result, err := NewRunner(client, doc, false, zerolog.Nop()).Run(context.Background(), types.ExecutionContext{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// aaa and ccc match the stop_on_match rule; only bbb reaches the second.
	if result.RulesMatched != 3 {
		t.Errorf("RulesMatched = %d", result.RulesMatched)
	}
	for _, call := range client.actions {
		if strings.HasPrefix(call, "add_tags:aaa:[second") || strings.HasPrefix(call, "add_tags:ccc:[second") {
			t.Errorf("terminated torrent reached a later rule: %v", client.actions)
		}
	}
	if result.Processed != 3 {
		t.Errorf("terminated torrents still count as processed, got %d", result.Processed)
	}
}

func TestRun_DeleteTerminatesEntity(t *testing.T) {
	client := newFakeClient(seededTorrents()...)
	doc := ruleDoc(
		RawRule{
			Name:       "purge",
			Conditions: map[string]any{"all": []any{cond("info.ratio", ">=", 3)}},
			Actions:    []any{map[string]any{"type": "delete_torrent"}},
		},
		RawRule{
			Name:       "tag-everything",
			Conditions: matchAll(),
			Actions:    []any{map[string]any{"type": "add_tag", "tag": "seen"}},
		},
	)

	_, err := NewRunner(client, doc, false, zerolog.Nop()).Run(context.Background(), types.ExecutionContext{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, call := range client.actions {
		if strings.HasPrefix(call, "add_tags:ccc") {
			t.Errorf("deleted torrent acted on by a later rule: %v", client.actions)
		}
	}
}

func TestRun_ContextFilter(t *testing.T) {
	client := newFakeClient(seededTorrents()...)
	doc := ruleDoc(
		RawRule{
			Name:       "nightly-only",
			Context:    "nightly",
			Conditions: matchAll(),
			Actions:    []any{map[string]any{"type": "add_tag", "tag": "nightly"}},
		},
		RawRule{
			Name:       "always",
			Conditions: matchAll(),
			Actions:    []any{map[string]any{"type": "add_tag", "tag": "always"}},
		},
	)

	result, err := NewRunner(client, doc, false, zerolog.Nop()).Run(context.Background(),
		types.ExecutionContext{Context: "hourly"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.RulesMatched != 3 {
		t.Errorf("only the unscoped rule should apply, got %d matches", result.RulesMatched)
	}
	for _, call := range client.actions {
		if strings.Contains(call, "nightly") {
			t.Errorf("context-scoped rule ran outside its context: %v", client.actions)
		}
	}
}

func TestRun_DisabledRuleSkipped(t *testing.T) {
	client := newFakeClient(seededTorrents()...)
	disabled := false
	doc := ruleDoc(RawRule{
		Name:       "off",
		Enabled:    &disabled,
		Conditions: matchAll(),
		Actions:    []any{map[string]any{"type": "stop"}},
	})

	result, err := NewRunner(client, doc, false, zerolog.Nop()).Run(context.Background(), types.ExecutionContext{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.RulesMatched != 0 || len(client.actions) != 0 {
		t.Errorf("disabled rule ran: %+v %v", result, client.actions)
	}
}

func TestRun_SingleHashScope(t *testing.T) {
	client := newFakeClient(seededTorrents()...)
	doc := ruleDoc(RawRule{
		Name:       "tag",
		Conditions: matchAll(),
		Actions:    []any{map[string]any{"type": "add_tag", "tag": "t"}},
	})

	result, err := NewRunner(client, doc, false, zerolog.Nop()).Run(context.Background(),
		types.ExecutionContext{Hash: "bbb"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.TotalTorrents != 1 || result.Processed != 1 {
		t.Errorf("population: %+v", result)
	}
	if len(client.actions) != 1 || client.actions[0] != "add_tags:bbb:[t]" {
		t.Errorf("calls = %v", client.actions)
	}
}

func TestRun_InstanceOverrideChangesOutcome(t *testing.T) {
	doc := &Document{
		Refs: RefsBlock{Vars: map[string]any{"min_ratio": 5.0}},
		Instances: map[string]Instance{
			"lenient": {Refs: struct {
				Vars map[string]any `yaml:"vars"`
			}{Vars: map[string]any{"min_ratio": 1.0}}},
		},
		Rules: []RawRule{{
			Name:       "retire",
			Conditions: map[string]any{"all": []any{cond("info.ratio", ">=", "${vars.min_ratio}")}},
			Actions:    []any{map[string]any{"type": "add_tag", "tag": "retire"}},
		}},
	}

	client := newFakeClient(seededTorrents()...)
	result, err := NewRunner(client, doc, false, zerolog.Nop()).Run(context.Background(), types.ExecutionContext{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.RulesMatched != 0 {
		t.Errorf("global threshold 5.0 should match nothing, got %d", result.RulesMatched)
	}

	client = newFakeClient(seededTorrents()...)
	result, err = NewRunner(client, doc, false, zerolog.Nop()).Run(context.Background(),
		types.ExecutionContext{Instance: "lenient"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.RulesMatched != 2 {
		t.Errorf("lenient threshold 1.0 should match two torrents, got %d", result.RulesMatched)
	}
}

func TestRun_DryRunTally(t *testing.T) {
	client := newFakeClient(seededTorrents()...)
	doc := ruleDoc(RawRule{
		Name:       "stop-seeded",
		Conditions: map[string]any{"all": []any{cond("info.ratio", ">=", 2)}},
		Actions:    []any{map[string]any{"type": "stop"}},
	})

	result, err := NewRunner(client, doc, true, zerolog.Nop()).Run(context.Background(), types.ExecutionContext{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.DryRun {
		t.Error("result should carry the dry-run flag")
	}
	if result.ActionsExecuted != 2 {
		t.Errorf("dry run should report would-execute counts, got %d", result.ActionsExecuted)
	}
	if len(client.actions) != 0 {
		t.Errorf("dry run issued calls: %v", client.actions)
	}
}

func TestRun_ActionErrorsAggregated(t *testing.T) {
	client := newFakeClient(seededTorrents()...)
	client.failActions["recheck"] = errors.New("busy")
	doc := ruleDoc(RawRule{
		Name:       "recheck-all",
		Conditions: matchAll(),
		Actions:    []any{map[string]any{"type": "recheck"}},
	})

	result, err := NewRunner(client, doc, false, zerolog.Nop()).Run(context.Background(), types.ExecutionContext{})
	if err != nil {
		t.Fatalf("per-action failures must not abort the run: %v", err)
	}
	if result.Errors != 3 || result.ActionsExecuted != 0 {
		t.Errorf("tally: %+v", result)
	}
}

func TestRun_ListFailureIsFatal(t *testing.T) {
	client := newFakeClient()
	client.listErr = errors.New("api down")
	doc := ruleDoc(RawRule{
		Name:       "noop",
		Conditions: matchAll(),
		Actions:    []any{map[string]any{"type": "stop"}},
	})

	_, err := NewRunner(client, doc, false, zerolog.Nop()).Run(context.Background(), types.ExecutionContext{})
	if err == nil {
		t.Fatal("expected the listing failure to surface")
	}
}

func TestRun_Cancellation(t *testing.T) {
	client := newFakeClient(seededTorrents()...)
	doc := ruleDoc(RawRule{
		Name:       "noop",
		Conditions: matchAll(),
		Actions:    []any{map[string]any{"type": "add_tag", "tag": "t"}},
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewRunner(client, doc, false, zerolog.Nop()).Run(ctx, types.ExecutionContext{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(client.actions) != 0 {
		t.Errorf("cancelled run issued calls: %v", client.actions)
	}
}

func TestValidateDocument_IncludesDisabled(t *testing.T) {
	disabled := false
	doc := ruleDoc(RawRule{
		Name:       "off-and-broken",
		Enabled:    &disabled,
		Conditions: map[string]any{"all": []any{cond("info.ratio", "~=", 0)}},
		Actions:    []any{map[string]any{"type": "stop"}},
	})

	_, err := ValidateDocument(doc)
	if err == nil {
		t.Fatal("validation must compile disabled rules too")
	}
}
