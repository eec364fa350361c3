// internal/rules/runner.go
package rules

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/qbtrules/qbtrules/internal/types"
)

/*
 * Run orchestration.
 *
 * A run is two phases. Phase one resolves and compiles every enabled rule
 * up front, so schema and reference errors abort before any torrent is
 * touched. Phase two lists the population and walks rules in file order;
 * per rule, every still-eligible torrent is evaluated and, on match,
 * receives the rule's actions.
 *
 * stop_on_match terminates a torrent for the rules after the matching one;
 * a deleted torrent is terminated the same way. Evaluation is strictly
 * sequential: stop_on_match removal must be deterministic in file order,
 * and executed actions must be visible to later rules through the shared
 * per-run field cache. Cancellation is cooperative, checked between rules
 * and between torrents; an in-flight action list completes.
 */

// Runner executes one rule set against one qBittorrent instance.
// Construct a fresh Runner per run; the field cache it owns must never be
// shared between runs.
type Runner struct {
	client    Client
	refs      RefsBlock
	rules     []RawRule
	instances map[string]Instance
	dryRun    bool
	log       zerolog.Logger
	now       func() time.Time
}

// NewRunner builds a runner over a parsed rules document.
func NewRunner(client Client, doc *Document, dryRun bool, log zerolog.Logger) *Runner {
	return &Runner{
		client:    client,
		refs:      doc.Refs,
		rules:     doc.Rules,
		instances: doc.Instances,
		dryRun:    dryRun,
		log:       log,
		now:       time.Now,
	}
}

// Run resolves, compiles, and executes the rule set. The returned error is
// fatal (schema failure, connectivity, auth, or cancellation); per-action
// failures are aggregated in the result instead.
func (r *Runner) Run(ctx context.Context, ec types.ExecutionContext) (*types.RunResult, error) {
	compiled, err := r.compileAll(ec)
	if err != nil {
		return nil, err
	}

	torrents, err := r.client.Torrents(ctx, ec.Hash)
	if err != nil {
		return nil, err
	}

	result := &types.RunResult{TotalTorrents: len(torrents), DryRun: r.dryRun}
	cache := newRunCache(r.client, r.log)
	eval := &evaluator{cache: cache, now: r.now}
	dispatch := &dispatcher{client: r.client, dryRun: r.dryRun, log: r.log}

	terminated := make(map[types.Hash]bool)
	processed := make(map[types.Hash]bool)

	for _, rule := range compiled {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if rule.Context != "" && rule.Context != ec.Context {
			r.log.Debug().Str("rule", rule.Name).Str("context", ec.Context).
				Msg("rule context does not apply, skipping")
			continue
		}

		for i := range torrents {
			if err := ctx.Err(); err != nil {
				return result, err
			}
			t := &torrents[i]
			if terminated[t.Hash] {
				continue
			}
			processed[t.Hash] = true

			matched, err := eval.Matches(ctx, t, &rule.Conditions)
			if err != nil {
				return result, err
			}
			if !matched {
				continue
			}

			result.RulesMatched++
			r.log.Info().Str("rule", rule.Name).Str("hash", string(t.Hash)).
				Str("name", t.Name()).Msg("rule matched")

			outcomes, deleted, err := dispatch.Apply(ctx, t, rule.Actions)
			for _, outcome := range outcomes {
				switch outcome.Outcome {
				case OutcomeExecuted:
					result.ActionsExecuted++
				case OutcomeSkipped:
					result.ActionsSkipped++
				case OutcomeErrored:
					result.Errors++
				}
			}
			if err != nil {
				return result, err
			}

			if deleted || rule.StopOnMatch {
				terminated[t.Hash] = true
			}
		}
	}

	result.Processed = len(processed)
	r.log.Info().Int("total", result.TotalTorrents).Int("matched", result.RulesMatched).
		Int("executed", result.ActionsExecuted).Int("skipped", result.ActionsSkipped).
		Int("errors", result.Errors).Bool("dry_run", result.DryRun).Msg("run complete")
	return result, nil
}

// compileAll resolves and compiles the enabled rules, preserving file order.
// Any failure is returned as-is: these are the schema errors that must
// surface before side effects.
func (r *Runner) compileAll(ec types.ExecutionContext) ([]*Rule, error) {
	resolver, err := NewResolver(r.refs, ec.Instance, r.instances)
	if err != nil {
		return nil, err
	}

	compiled := make([]*Rule, 0, len(r.rules))
	for i := range r.rules {
		raw := &r.rules[i]
		if !raw.IsEnabled() {
			continue
		}
		resolved, err := resolver.ResolveRule(raw)
		if err != nil {
			return nil, err
		}
		rule, err := Compile(resolved)
		if err != nil {
			return nil, err
		}
		compiled = append(compiled, rule)
	}
	return compiled, nil
}

// ValidateDocument resolves and compiles every rule, enabled or not,
// without touching any torrent. Used by the validate command and the
// hot-reload path to reject a broken rules file before it replaces a
// working one.
func ValidateDocument(doc *Document) ([]*Rule, error) {
	resolver, err := NewResolver(doc.Refs, "", doc.Instances)
	if err != nil {
		return nil, err
	}

	compiled := make([]*Rule, 0, len(doc.Rules))
	for i := range doc.Rules {
		resolved, err := resolver.ResolveRule(&doc.Rules[i])
		if err != nil {
			return nil, err
		}
		rule, err := Compile(resolved)
		if err != nil {
			return nil, err
		}
		compiled = append(compiled, rule)
	}
	return compiled, nil
}
