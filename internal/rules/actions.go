// internal/rules/actions.go
package rules

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/qbtrules/qbtrules/internal/types"
)

/*
 * Action dispatch.
 *
 * Actions run strictly in list order against one torrent. Idempotent
 * actions (stop, start, set_category, add_tag, remove_tag) check the
 * torrent's current attributes first and are recorded as skipped when the
 * torrent is already in the target state. One action's failure is recorded
 * and the rest of the list still runs; only connectivity/auth failures
 * abort.
 *
 * Executed actions update the torrent's preloaded attributes in place so
 * later rules in the same run observe the new state. Dry-run mode performs
 * the idempotency checks and reports what would happen, but issues nothing
 * and mutates nothing.
 *
 * A successful delete_torrent ends the list early: there is nothing left
 * to act on.
 */

// Outcome classifies the result of one dispatched action.
type Outcome int

const (
	OutcomeExecuted Outcome = iota
	OutcomeSkipped
	OutcomeErrored
)

func (o Outcome) String() string {
	switch o {
	case OutcomeExecuted:
		return "executed"
	case OutcomeSkipped:
		return "skipped"
	default:
		return "errored"
	}
}

// ActionResult records the outcome of one action against one torrent.
type ActionResult struct {
	Type    ActionType
	Outcome Outcome
	Err     error
}

// dispatcher applies compiled actions through the transport client.
type dispatcher struct {
	client Client
	dryRun bool
	log    zerolog.Logger
}

// Apply dispatches the action list against one torrent. deleted reports
// whether the torrent was removed from the managed application; err is
// non-nil only for transport-fatal failures.
func (d *dispatcher) Apply(ctx context.Context, t *types.Torrent, actions []Action) (results []ActionResult, deleted bool, err error) {
	results = make([]ActionResult, 0, len(actions))

	for i := range actions {
		action := &actions[i]

		if action.Type.Idempotent() && d.inTargetState(t, action) {
			d.log.Debug().Str("hash", string(t.Hash)).Stringer("action", action.Type).
				Msg("already in target state, skipping")
			results = append(results, ActionResult{Type: action.Type, Outcome: OutcomeSkipped})
			continue
		}

		if d.dryRun {
			d.log.Info().Str("hash", string(t.Hash)).Stringer("action", action.Type).
				Msg("dry run, would execute")
			results = append(results, ActionResult{Type: action.Type, Outcome: OutcomeExecuted})
			continue
		}

		if err := d.issue(ctx, t, action); err != nil {
			if fatalTransport(err) {
				return results, false, err
			}
			d.log.Warn().Err(err).Str("hash", string(t.Hash)).Stringer("action", action.Type).
				Msg("action failed")
			results = append(results, ActionResult{Type: action.Type, Outcome: OutcomeErrored, Err: err})
			continue
		}

		results = append(results, ActionResult{Type: action.Type, Outcome: OutcomeExecuted})
		d.applyToAttrs(t, action)

		if action.Type == ActionDeleteTorrent {
			return results, true, nil
		}
	}

	return results, false, nil
}

// inTargetState answers the idempotency check against the live attributes.
func (d *dispatcher) inTargetState(t *types.Torrent, action *Action) bool {
	switch action.Type {
	case ActionStop:
		return isStopped(torrentState(t))
	case ActionStart:
		return !isStopped(torrentState(t))
	case ActionSetCategory:
		category, _ := t.Attrs["category"].(string)
		return category == action.Category
	case ActionAddTag:
		return hasTag(t, action.Tag)
	case ActionRemoveTag:
		return !hasTag(t, action.Tag)
	default:
		return false
	}
}

// issue performs the transport call for one action.
func (d *dispatcher) issue(ctx context.Context, t *types.Torrent, action *Action) error {
	switch action.Type {
	case ActionStop:
		return d.client.Stop(ctx, t.Hash)
	case ActionStart:
		return d.client.Start(ctx, t.Hash)
	case ActionForceStart:
		return d.client.ForceStart(ctx, t.Hash, true)
	case ActionRecheck:
		return d.client.Recheck(ctx, t.Hash)
	case ActionReannounce:
		return d.client.Reannounce(ctx, t.Hash)
	case ActionDeleteTorrent:
		return d.client.Delete(ctx, t.Hash, action.KeepFiles)
	case ActionSetCategory:
		return d.client.SetCategory(ctx, t.Hash, action.Category)
	case ActionAddTag:
		return d.client.AddTags(ctx, t.Hash, []string{action.Tag})
	case ActionRemoveTag:
		return d.client.RemoveTags(ctx, t.Hash, []string{action.Tag})
	case ActionSetTags:
		return d.setTags(ctx, t, action.Tags)
	case ActionSetUploadLimit:
		return d.client.SetUploadLimit(ctx, t.Hash, action.Limit)
	case ActionSetDownloadLimit:
		return d.client.SetDownloadLimit(ctx, t.Hash, action.Limit)
	case ActionSetShareLimits:
		return d.client.SetShareLimits(ctx, t.Hash, action.RatioLimit,
			action.SeedingTimeLimit, action.InactiveSeedingTimeLimit)
	case ActionIncreasePriority:
		return d.client.IncreasePriority(ctx, t.Hash)
	case ActionDecreasePriority:
		return d.client.DecreasePriority(ctx, t.Hash)
	case ActionTopPriority:
		return d.client.TopPriority(ctx, t.Hash)
	case ActionBottomPriority:
		return d.client.BottomPriority(ctx, t.Hash)
	default:
		return nil
	}
}

// setTags replaces the tag set: remove what the target set lacks, add what
// it is missing. The WebUI API has no single replace endpoint.
func (d *dispatcher) setTags(ctx context.Context, t *types.Torrent, target []string) error {
	current := currentTags(t)

	want := make(map[string]bool, len(target))
	for _, tag := range target {
		want[tag] = true
	}

	var remove []string
	for _, tag := range current {
		if !want[tag] {
			remove = append(remove, tag)
		}
	}
	have := make(map[string]bool, len(current))
	for _, tag := range current {
		have[tag] = true
	}
	var add []string
	for _, tag := range target {
		if !have[tag] {
			add = append(add, tag)
		}
	}

	if len(remove) > 0 {
		if err := d.client.RemoveTags(ctx, t.Hash, remove); err != nil {
			return err
		}
	}
	if len(add) > 0 {
		if err := d.client.AddTags(ctx, t.Hash, add); err != nil {
			return err
		}
	}
	return nil
}

// applyToAttrs mirrors an executed action into the preloaded attributes.
func (d *dispatcher) applyToAttrs(t *types.Torrent, action *Action) {
	if t.Attrs == nil {
		t.Attrs = make(map[string]any)
	}
	switch action.Type {
	case ActionStop:
		if strings.HasSuffix(torrentState(t), "UP") {
			t.Attrs["state"] = "stoppedUP"
		} else {
			t.Attrs["state"] = "stoppedDN"
		}
	case ActionStart:
		if strings.HasSuffix(torrentState(t), "UP") {
			t.Attrs["state"] = "stalledUP"
		} else {
			t.Attrs["state"] = "stalledDN"
		}
	case ActionForceStart:
		t.Attrs["state"] = "forcedUP"
	case ActionSetCategory:
		t.Attrs["category"] = action.Category
	case ActionAddTag:
		tags := currentTags(t)
		for _, tag := range tags {
			if tag == action.Tag {
				return
			}
		}
		t.Attrs["tags"] = strings.Join(append(tags, action.Tag), ", ")
	case ActionRemoveTag:
		tags := currentTags(t)
		kept := tags[:0]
		for _, tag := range tags {
			if tag != action.Tag {
				kept = append(kept, tag)
			}
		}
		t.Attrs["tags"] = strings.Join(kept, ", ")
	case ActionSetTags:
		t.Attrs["tags"] = strings.Join(action.Tags, ", ")
	case ActionSetUploadLimit:
		t.Attrs["up_limit"] = action.Limit
	case ActionSetDownloadLimit:
		t.Attrs["dl_limit"] = action.Limit
	case ActionSetShareLimits:
		t.Attrs["ratio_limit"] = action.RatioLimit
		t.Attrs["seeding_time_limit"] = action.SeedingTimeLimit
	}
}

func torrentState(t *types.Torrent) string {
	state, _ := t.Attrs["state"].(string)
	return state
}

// isStopped recognizes both the v5 "stopped*" and the older "paused*"
// state names.
func isStopped(state string) bool {
	return strings.HasPrefix(state, "stopped") || strings.HasPrefix(state, "paused")
}

func hasTag(t *types.Torrent, tag string) bool {
	for _, have := range currentTags(t) {
		if have == tag {
			return true
		}
	}
	return false
}

func currentTags(t *types.Torrent) []string {
	elems := SplitTags(t.Attrs["tags"])
	out := make([]string, 0, len(elems))
	for _, e := range elems {
		if s, ok := e.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
