// Package types provides domain models shared across qbt-rules components.
//
// Zero-dependency design: types.go and errors.go use only the standard
// library so the rules engine, queue, and transport packages can share
// vocabulary without import cycles. ID utilities in ids.go import uuid but
// are isolated for selective inclusion.
package types

// Hash identifies a torrent by its info-hash (40 lowercase hex chars for v1).
// String alias enables type safety while keeping JSON string serialization.
type Hash string

// JobID identifies a queued run request.
type JobID string

// Torrent is one managed entity: the info-hash plus the preloaded attribute
// set returned by the torrent listing. Lazily-fetched field groups
// (properties, trackers, files, peers, webseeds) are not stored here; they
// live in the per-run field cache so two concurrent runs never share state.
type Torrent struct {
	Hash  Hash
	Attrs map[string]any
}

// Name returns the display name from the preloaded attributes, if present.
func (t *Torrent) Name() string {
	if s, ok := t.Attrs["name"].(string); ok {
		return s
	}
	return ""
}

// ExecutionContext selects what a run operates on: the run context label
// used for rule eligibility, an optional single-torrent filter, and an
// optional instance identifier selecting variable overrides.
type ExecutionContext struct {
	Context  string
	Hash     Hash
	Instance string
}

// RunResult aggregates the statistics of one rule run.
type RunResult struct {
	TotalTorrents   int  `json:"total_torrents"`
	Processed       int  `json:"torrents_processed"`
	RulesMatched    int  `json:"rules_matched"`
	ActionsExecuted int  `json:"actions_executed"`
	ActionsSkipped  int  `json:"actions_skipped"`
	Errors          int  `json:"errors"`
	DryRun          bool `json:"dry_run"`
}

// Resource limits enforced by the rule engine to keep rule files and runs
// bounded. Values mirror what the configuration loader accepts.
const (
	// MaxRefExpansionDepth caps nested $ref expansion. Combined with cycle
	// detection this bounds resolver recursion on hostile rule files.
	MaxRefExpansionDepth = 32

	// MaxRuleNameLength keeps rule names usable in logs and error paths.
	MaxRuleNameLength = 256

	// MaxListJobsLimit caps the page size of job listings.
	MaxListJobsLimit = 100
)
