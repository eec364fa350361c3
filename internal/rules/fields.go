// internal/rules/fields.go
package rules

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"github.com/qbtrules/qbtrules/internal/types"
)

/*
 * Field resolution with per-run caching.
 *
 * Field paths are group.property. Groups fall into three cost tiers:
 *
 *   preloaded        info                           free, comes with the listing
 *   lazy-per-entity  properties trackers files      one fetch per torrent per run
 *                    peers webseeds
 *   lazy-global      transfer app                   one fetch per run, shared
 *
 * trackers/files/peers/webseeds are collection groups: resolving a property
 * yields one value per element ([]any), and the evaluator applies
 * any-element semantics. Tracker listings include qBittorrent's "** [DHT] **"
 * style pseudo entries; those are filtered before projection.
 *
 * A runCache belongs to exactly one run and is never shared. Fetch failures
 * other than connectivity/auth degrade to "field absent" and the run
 * continues; connectivity and auth errors abort the run.
 */

type fieldTierClass int

const (
	tierUnknown fieldTierClass = iota
	tierPreloaded
	tierPerEntity
	tierGlobal
)

var fieldGroups = map[string]fieldTierClass{
	"info":       tierPreloaded,
	"properties": tierPerEntity,
	"trackers":   tierPerEntity,
	"files":      tierPerEntity,
	"peers":      tierPerEntity,
	"webseeds":   tierPerEntity,
	"transfer":   tierGlobal,
	"app":        tierGlobal,
}

// collectionGroups yield one sub-record per element rather than a flat map.
var collectionGroups = map[string]bool{
	"trackers": true,
	"files":    true,
	"peers":    true,
	"webseeds": true,
}

func fieldTier(group string) fieldTierClass {
	return fieldGroups[group]
}

func fieldGroupNames() []string {
	return sortedKeys(fieldGroups)
}

// runCache owns the lazily-fetched field groups for one run.
type runCache struct {
	client Client
	log    zerolog.Logger

	props       map[types.Hash]map[string]any
	collections map[types.Hash]map[string][]map[string]any
	global      map[string]map[string]any
	failed      map[string]bool // group keys whose fetch already failed this run
}

func newRunCache(client Client, log zerolog.Logger) *runCache {
	return &runCache{
		client:      client,
		log:         log,
		props:       make(map[types.Hash]map[string]any),
		collections: make(map[types.Hash]map[string][]map[string]any),
		global:      make(map[string]map[string]any),
		failed:      make(map[string]bool),
	}
}

// Resolve returns the field value for a torrent. absent is true when the
// group fetch yielded nothing or the property is missing; err is non-nil
// only for connectivity/auth failures, which are fatal for the run.
func (c *runCache) Resolve(ctx context.Context, t *types.Torrent, group, property string) (value any, absent bool, err error) {
	switch fieldTier(group) {
	case tierPreloaded:
		return preloadedField(t, property)

	case tierPerEntity:
		if collectionGroups[group] {
			return c.collectionField(ctx, t.Hash, group, property)
		}
		record, err := c.properties(ctx, t.Hash)
		if err != nil {
			return nil, true, err
		}
		return recordField(record, property)

	case tierGlobal:
		record, err := c.globalGroup(ctx, group)
		if err != nil {
			return nil, true, err
		}
		return recordField(record, property)

	default:
		// Compile rejects unknown groups; reaching here means a stale cache
		// key, treat as absent.
		return nil, true, nil
	}
}

// preloadedField reads from the torrent's listing attributes. The tags
// attribute is a comma-joined string upstream; present it as a collection.
func preloadedField(t *types.Torrent, property string) (any, bool, error) {
	value, ok := t.Attrs[property]
	if !ok || value == nil {
		return nil, true, nil
	}
	if property == "tags" {
		tags := SplitTags(value)
		if len(tags) == 0 {
			return nil, true, nil
		}
		return tags, false, nil
	}
	return value, false, nil
}

func recordField(record map[string]any, property string) (any, bool, error) {
	if record == nil {
		return nil, true, nil
	}
	value, ok := record[property]
	if !ok || value == nil {
		return nil, true, nil
	}
	return value, false, nil
}

// properties fetches and caches the scalar properties group for one torrent.
func (c *runCache) properties(ctx context.Context, hash types.Hash) (map[string]any, error) {
	if record, ok := c.props[hash]; ok {
		return record, nil
	}
	record, err := c.client.Properties(ctx, hash)
	if err != nil {
		if fatalTransport(err) {
			return nil, err
		}
		c.log.Warn().Err(err).Str("hash", string(hash)).Msg("properties fetch failed, treating fields as absent")
		record = nil
	}
	c.props[hash] = record
	return record, nil
}

// collectionField fetches, caches, filters, and projects a collection group.
func (c *runCache) collectionField(ctx context.Context, hash types.Hash, group, property string) (any, bool, error) {
	byGroup, ok := c.collections[hash]
	if !ok {
		byGroup = make(map[string][]map[string]any)
		c.collections[hash] = byGroup
	}

	elements, ok := byGroup[group]
	if !ok {
		var err error
		switch group {
		case "trackers":
			elements, err = c.client.Trackers(ctx, hash)
			elements = filterPseudoTrackers(elements)
		case "files":
			elements, err = c.client.Files(ctx, hash)
		case "peers":
			elements, err = c.client.Peers(ctx, hash)
		case "webseeds":
			elements, err = c.client.Webseeds(ctx, hash)
		}
		if err != nil {
			if fatalTransport(err) {
				return nil, true, err
			}
			c.log.Warn().Err(err).Str("hash", string(hash)).Str("group", group).
				Msg("field group fetch failed, treating fields as absent")
			elements = nil
		}
		byGroup[group] = elements
	}

	values := make([]any, 0, len(elements))
	for _, elem := range elements {
		if v, ok := elem[property]; ok && v != nil {
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		return nil, true, nil
	}
	return values, false, nil
}

// globalGroup fetches and caches a run-wide group (transfer, app).
// A failed fetch is not retried within the run.
func (c *runCache) globalGroup(ctx context.Context, group string) (map[string]any, error) {
	if record, ok := c.global[group]; ok {
		return record, nil
	}
	if c.failed[group] {
		return nil, nil
	}

	var record map[string]any
	var err error
	switch group {
	case "transfer":
		record, err = c.client.TransferInfo(ctx)
	case "app":
		record, err = c.client.AppPreferences(ctx)
	}
	if err != nil {
		if fatalTransport(err) {
			return nil, err
		}
		c.log.Warn().Err(err).Str("group", group).Msg("global group fetch failed, treating fields as absent")
		c.failed[group] = true
		return nil, nil
	}

	c.global[group] = record
	return record, nil
}

// filterPseudoTrackers drops DHT/PeX/LSD pseudo entries, recognizable by
// their "** [DHT] **" style url.
func filterPseudoTrackers(trackers []map[string]any) []map[string]any {
	out := trackers[:0]
	for _, tracker := range trackers {
		if url, ok := tracker["url"].(string); ok && strings.HasPrefix(url, "**") {
			continue
		}
		out = append(out, tracker)
	}
	return out
}

// fatalTransport reports whether the error must abort the whole run.
func fatalTransport(err error) bool {
	return errors.Is(err, types.ErrConnection) || errors.Is(err, types.ErrAuthentication)
}

// SplitTags converts qBittorrent's comma-joined tag attribute into a
// collection. Accepts a string or an existing list.
func SplitTags(v any) []any {
	switch tags := v.(type) {
	case string:
		if strings.TrimSpace(tags) == "" {
			return nil
		}
		parts := strings.Split(tags, ",")
		out := make([]any, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	case []any:
		return tags
	case []string:
		out := make([]any, len(tags))
		for i, t := range tags {
			out[i] = t
		}
		return out
	default:
		return nil
	}
}
