// internal/rules/compile.go
package rules

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/qbtrules/qbtrules/internal/types"
)

/*
 * Rule compilation and validation.
 *
 * Compiles a fully-resolved RawRule (no $ref nodes, no ${...} markers) into
 * the closed typed model: exhaustively-checked operator and action enums,
 * pre-parsed regex patterns, durations, and byte sizes.
 *
 * Why compile-time validation: every schema error must surface before any
 * torrent is touched. The runner compiles the whole rule set up front and
 * aborts on the first failure, so a typo in rule 7 never leaves rules 1-6
 * half-applied.
 */

// Rule is a fully compiled, validated rule ready for evaluation.
type Rule struct {
	Name        string
	Enabled     bool
	StopOnMatch bool
	Context     string
	Conditions  ConditionGroup
	Actions     []Action
}

// ConditionGroup combines up to three member lists. An absent or empty
// member is vacuously satisfied; the group passes iff every present member
// passes.
type ConditionGroup struct {
	All  []ConditionNode
	Any  []ConditionNode
	None []ConditionNode
}

// ConditionNode is either a nested group or a leaf condition, never both.
type ConditionNode struct {
	Group *ConditionGroup
	Leaf  *Condition
}

// Condition is one compiled leaf comparison. The pattern, duration, and
// size fields are pre-parsed forms of Value for the operators that need
// them; they are nil/zero for every other operator.
type Condition struct {
	Field    string // original dotted path, for logs and errors
	Group    string
	Property string
	Op       Operator
	Value    any

	pattern *regexp.Regexp
	dur     time.Duration
	size    int64
	set     []any
}

// ActionType identifies one action in the closed vocabulary.
type ActionType int

const (
	ActionUnspecified ActionType = iota
	ActionStop
	ActionStart
	ActionForceStart
	ActionRecheck
	ActionReannounce
	ActionDeleteTorrent
	ActionSetCategory
	ActionAddTag
	ActionRemoveTag
	ActionSetTags
	ActionSetUploadLimit
	ActionSetDownloadLimit
	ActionSetShareLimits
	ActionIncreasePriority
	ActionDecreasePriority
	ActionTopPriority
	ActionBottomPriority
)

var actionNames = map[string]ActionType{
	"stop":               ActionStop,
	"start":              ActionStart,
	"force_start":        ActionForceStart,
	"recheck":            ActionRecheck,
	"reannounce":         ActionReannounce,
	"delete_torrent":     ActionDeleteTorrent,
	"set_category":       ActionSetCategory,
	"add_tag":            ActionAddTag,
	"remove_tag":         ActionRemoveTag,
	"set_tags":           ActionSetTags,
	"set_upload_limit":   ActionSetUploadLimit,
	"set_download_limit": ActionSetDownloadLimit,
	"set_share_limits":   ActionSetShareLimits,
	"increase_priority":  ActionIncreasePriority,
	"decrease_priority":  ActionDecreasePriority,
	"top_priority":       ActionTopPriority,
	"bottom_priority":    ActionBottomPriority,
}

// String returns the rule-file spelling of the action type.
func (t ActionType) String() string {
	for name, at := range actionNames {
		if at == t {
			return name
		}
	}
	return "unspecified"
}

// Idempotent reports whether the action checks current state before
// issuing. Idempotent actions are skipped when the torrent is already in
// the target state.
func (t ActionType) Idempotent() bool {
	switch t {
	case ActionStop, ActionStart, ActionSetCategory, ActionAddTag, ActionRemoveTag:
		return true
	default:
		return false
	}
}

// actionTypeNames returns every valid action spelling, sorted.
func actionTypeNames() []string {
	names := make([]string, 0, len(actionNames))
	for name := range actionNames {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Action is one compiled action with its typed parameters. Only the fields
// relevant to Type are populated.
type Action struct {
	Type      ActionType
	Category  string
	Tag       string
	Tags      []string
	KeepFiles bool

	// Limit is bytes/sec for the rate-limit actions; -1 means unlimited.
	Limit int64

	// Share limits; -2 means "use the global setting", per the WebUI API.
	RatioLimit               float64
	SeedingTimeLimit         int64
	InactiveSeedingTimeLimit int64
}

// Compile validates a resolved rule and produces the typed form.
func Compile(raw *RawRule) (*Rule, error) {
	if raw.Name == "" {
		return nil, &CompileError{Rule: "(unnamed)", Location: "name", Reason: "rule name is required"}
	}
	if len(raw.Name) > types.MaxRuleNameLength {
		return nil, &CompileError{Rule: raw.Name, Location: "name", Reason: "rule name too long"}
	}

	rule := &Rule{
		Name:        raw.Name,
		Enabled:     raw.IsEnabled(),
		StopOnMatch: raw.StopOnMatch,
		Context:     raw.Context,
	}

	condMap, ok := raw.Conditions.(map[string]any)
	if !ok || len(condMap) == 0 {
		return nil, &CompileError{Rule: raw.Name, Location: "conditions",
			Reason: "conditions must be a mapping with at least one of all/any/none"}
	}
	group, err := compileGroup(raw.Name, "conditions", condMap)
	if err != nil {
		return nil, err
	}
	rule.Conditions = *group

	actionList, ok := raw.Actions.([]any)
	if !ok || len(actionList) == 0 {
		return nil, &CompileError{Rule: raw.Name, Location: "actions",
			Reason: "actions must be a non-empty sequence"}
	}
	rule.Actions = make([]Action, 0, len(actionList))
	for i, elem := range actionList {
		loc := fmt.Sprintf("actions[%d]", i)
		action, err := compileAction(raw.Name, loc, elem)
		if err != nil {
			return nil, err
		}
		rule.Actions = append(rule.Actions, *action)
	}

	return rule, nil
}

var groupMembers = []string{"all", "any", "none"}

// compileGroup builds a ConditionGroup from a resolved mapping, rejecting
// unknown member keys.
func compileGroup(ruleName, loc string, m map[string]any) (*ConditionGroup, error) {
	group := &ConditionGroup{}
	for key, val := range m {
		var target *[]ConditionNode
		switch key {
		case "all":
			target = &group.All
		case "any":
			target = &group.Any
		case "none":
			target = &group.None
		default:
			return nil, &CompileError{Rule: ruleName, Location: loc,
				Reason: fmt.Sprintf("unknown condition group key %q", key), Alternatives: groupMembers}
		}

		list, ok := val.([]any)
		if !ok {
			if val == nil {
				continue
			}
			return nil, &CompileError{Rule: ruleName, Location: loc + "." + key,
				Reason: "group member must be a sequence"}
		}
		for i, elem := range list {
			node, err := compileNode(ruleName, fmt.Sprintf("%s.%s[%d]", loc, key, i), elem)
			if err != nil {
				return nil, err
			}
			*target = append(*target, *node)
		}
	}
	return group, nil
}

// compileNode dispatches between nested groups and leaf conditions.
// A mapping with a "field" key is a leaf; one with all/any/none is a group.
func compileNode(ruleName, loc string, elem any) (*ConditionNode, error) {
	m, ok := elem.(map[string]any)
	if !ok {
		return nil, &CompileError{Rule: ruleName, Location: loc, Reason: "condition must be a mapping"}
	}

	if _, isLeaf := m["field"]; isLeaf {
		cond, err := compileCondition(ruleName, loc, m)
		if err != nil {
			return nil, err
		}
		return &ConditionNode{Leaf: cond}, nil
	}

	for _, key := range groupMembers {
		if _, isGroup := m[key]; isGroup {
			group, err := compileGroup(ruleName, loc, m)
			if err != nil {
				return nil, err
			}
			return &ConditionNode{Group: group}, nil
		}
	}

	return nil, &CompileError{Rule: ruleName, Location: loc,
		Reason: "condition must have a field or one of all/any/none"}
}

// compileCondition validates one leaf: known field group, known operator,
// operator-appropriate value, and pre-parses pattern/duration/size values.
func compileCondition(ruleName, loc string, m map[string]any) (*Condition, error) {
	field, _ := m["field"].(string)
	group, property, ok := strings.Cut(field, ".")
	if !ok || group == "" || property == "" {
		return nil, &CompileError{Rule: ruleName, Location: loc,
			Reason: fmt.Sprintf("malformed field path %q: want group.property", field)}
	}
	if fieldTier(group) == tierUnknown {
		return nil, &CompileError{Rule: ruleName, Location: loc,
			Reason: fmt.Sprintf("unknown field group %q in %q", group, field), Alternatives: fieldGroupNames()}
	}

	opStr, ok := m["operator"].(string)
	if !ok {
		return nil, &CompileError{Rule: ruleName, Location: loc, Reason: "operator is required"}
	}
	op, ok := ParseOperator(opStr)
	if !ok {
		return nil, &CompileError{Rule: ruleName, Location: loc,
			Reason: fmt.Sprintf("unknown operator %q", opStr), Alternatives: OperatorNames()}
	}

	for key := range m {
		switch key {
		case "field", "operator", "value":
		default:
			return nil, &CompileError{Rule: ruleName, Location: loc,
				Reason: fmt.Sprintf("unknown condition key %q", key),
				Alternatives: []string{"field", "operator", "value"}}
		}
	}

	cond := &Condition{Field: field, Group: group, Property: property, Op: op, Value: m["value"]}

	switch op {
	case OpMatches:
		pat, ok := cond.Value.(string)
		if !ok {
			return nil, &CompileError{Rule: ruleName, Location: loc,
				Reason: "matches requires a string pattern value"}
		}
		re, err := regexp.Compile(pat)
		if err != nil {
			return nil, &CompileError{Rule: ruleName, Location: loc,
				Reason: fmt.Sprintf("invalid pattern %q: %v", pat, err)}
		}
		cond.pattern = re

	case OpOlderThan, OpNewerThan:
		s, ok := cond.Value.(string)
		if !ok {
			return nil, &CompileError{Rule: ruleName, Location: loc,
				Reason: fmt.Sprintf("%s requires a duration string like \"30 days\"", op)}
		}
		dur, err := ParseRelativeDuration(s)
		if err != nil {
			return nil, &CompileError{Rule: ruleName, Location: loc, Reason: err.Error()}
		}
		cond.dur = dur

	case OpLargerThan, OpSmallerThan:
		switch v := cond.Value.(type) {
		case string:
			size, err := ParseSize(v)
			if err != nil {
				return nil, &CompileError{Rule: ruleName, Location: loc, Reason: err.Error()}
			}
			cond.size = size
		default:
			n, ok := toFloat64(v)
			if !ok {
				return nil, &CompileError{Rule: ruleName, Location: loc,
					Reason: fmt.Sprintf("%s requires a size string or byte count", op)}
			}
			cond.size = int64(n)
		}

	case OpIn, OpNotIn:
		set, ok := cond.Value.([]any)
		if !ok {
			return nil, &CompileError{Rule: ruleName, Location: loc,
				Reason: fmt.Sprintf("%s requires a list value", op)}
		}
		cond.set = set
	}

	return cond, nil
}

// compileAction validates one action mapping and extracts typed params.
func compileAction(ruleName, loc string, elem any) (*Action, error) {
	m, ok := elem.(map[string]any)
	if !ok {
		return nil, &CompileError{Rule: ruleName, Location: loc, Reason: "action must be a mapping"}
	}

	typeStr, ok := m["type"].(string)
	if !ok {
		return nil, &CompileError{Rule: ruleName, Location: loc, Reason: "action type is required"}
	}
	at, ok := actionNames[typeStr]
	if !ok {
		return nil, &CompileError{Rule: ruleName, Location: loc,
			Reason: fmt.Sprintf("unknown action type %q", typeStr), Alternatives: actionTypeNames()}
	}

	action := &Action{Type: at, RatioLimit: -2, SeedingTimeLimit: -2, InactiveSeedingTimeLimit: -2}

	switch at {
	case ActionSetCategory:
		cat, ok := m["category"].(string)
		if !ok {
			return nil, &CompileError{Rule: ruleName, Location: loc,
				Reason: "set_category requires a category string"}
		}
		action.Category = cat

	case ActionAddTag, ActionRemoveTag:
		tag, ok := m["tag"].(string)
		if !ok || tag == "" {
			return nil, &CompileError{Rule: ruleName, Location: loc,
				Reason: fmt.Sprintf("%s requires a tag string", typeStr)}
		}
		action.Tag = tag

	case ActionSetTags:
		tags, err := toStringList(m["tags"])
		if err != nil {
			return nil, &CompileError{Rule: ruleName, Location: loc,
				Reason: "set_tags requires a tags list of strings"}
		}
		action.Tags = tags

	case ActionDeleteTorrent:
		if v, present := m["keep_files"]; present {
			keep, ok := v.(bool)
			if !ok {
				return nil, &CompileError{Rule: ruleName, Location: loc,
					Reason: "keep_files must be a boolean"}
			}
			action.KeepFiles = keep
		}

	case ActionSetUploadLimit, ActionSetDownloadLimit:
		limit, err := parseLimit(m["limit"])
		if err != nil {
			return nil, &CompileError{Rule: ruleName, Location: loc,
				Reason: fmt.Sprintf("%s: %v", typeStr, err)}
		}
		action.Limit = limit

	case ActionSetShareLimits:
		if v, present := m["ratio_limit"]; present {
			n, ok := toFloat64(v)
			if !ok {
				return nil, &CompileError{Rule: ruleName, Location: loc,
					Reason: "ratio_limit must be a number"}
			}
			action.RatioLimit = n
		}
		if v, present := m["seeding_time_limit"]; present {
			n, ok := toFloat64(v)
			if !ok {
				return nil, &CompileError{Rule: ruleName, Location: loc,
					Reason: "seeding_time_limit must be a number of minutes"}
			}
			action.SeedingTimeLimit = int64(n)
		}
		if v, present := m["inactive_seeding_time_limit"]; present {
			n, ok := toFloat64(v)
			if !ok {
				return nil, &CompileError{Rule: ruleName, Location: loc,
					Reason: "inactive_seeding_time_limit must be a number of minutes"}
			}
			action.InactiveSeedingTimeLimit = int64(n)
		}
	}

	return action, nil
}

// parseLimit accepts a bytes/sec number, a size string ("1 MB"), or -1 for
// unlimited.
func parseLimit(v any) (int64, error) {
	switch limit := v.(type) {
	case string:
		return ParseSize(limit)
	case nil:
		return 0, fmt.Errorf("limit is required")
	default:
		n, ok := toFloat64(limit)
		if !ok {
			return 0, fmt.Errorf("limit must be a number or size string")
		}
		if n < -1 {
			return 0, fmt.Errorf("limit must be >= -1")
		}
		return int64(n), nil
	}
}

// toStringList converts a []any of strings into []string.
func toStringList(v any) ([]string, error) {
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("not a list")
	}
	out := make([]string, 0, len(list))
	for _, elem := range list {
		s, ok := elem.(string)
		if !ok {
			return nil, fmt.Errorf("not a string: %v", elem)
		}
		out = append(out, s)
	}
	return out, nil
}
