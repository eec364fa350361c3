// internal/rules/client.go
package rules

import (
	"context"

	"github.com/qbtrules/qbtrules/internal/types"
)

/*
 * Transport boundary consumed by the engine.
 *
 * The engine never talks HTTP itself; everything it needs from qBittorrent
 * comes through this interface. internal/qbt provides the production
 * implementation; tests use an in-memory fake.
 *
 * Error contract: connectivity and authentication failures must wrap
 * types.ErrConnection / types.ErrAuthentication so the runner can abort the
 * whole run. Any other error from a field fetch is treated as "field
 * absent"; from an action it is counted and the run continues.
 */

// Client is the qBittorrent surface the rules engine depends on.
type Client interface {
	// Torrents lists the torrent population with preloaded attributes.
	// A non-empty hash restricts the listing to that torrent.
	Torrents(ctx context.Context, hash types.Hash) ([]types.Torrent, error)

	// Per-torrent lazy field groups.
	Properties(ctx context.Context, hash types.Hash) (map[string]any, error)
	Trackers(ctx context.Context, hash types.Hash) ([]map[string]any, error)
	Files(ctx context.Context, hash types.Hash) ([]map[string]any, error)
	Peers(ctx context.Context, hash types.Hash) ([]map[string]any, error)
	Webseeds(ctx context.Context, hash types.Hash) ([]map[string]any, error)

	// Global lazy field groups.
	TransferInfo(ctx context.Context) (map[string]any, error)
	AppPreferences(ctx context.Context) (map[string]any, error)

	// Actions.
	Stop(ctx context.Context, hash types.Hash) error
	Start(ctx context.Context, hash types.Hash) error
	ForceStart(ctx context.Context, hash types.Hash, on bool) error
	Recheck(ctx context.Context, hash types.Hash) error
	Reannounce(ctx context.Context, hash types.Hash) error
	Delete(ctx context.Context, hash types.Hash, keepFiles bool) error
	SetCategory(ctx context.Context, hash types.Hash, category string) error
	AddTags(ctx context.Context, hash types.Hash, tags []string) error
	RemoveTags(ctx context.Context, hash types.Hash, tags []string) error
	SetUploadLimit(ctx context.Context, hash types.Hash, limit int64) error
	SetDownloadLimit(ctx context.Context, hash types.Hash, limit int64) error
	SetShareLimits(ctx context.Context, hash types.Hash, ratio float64, seedingTime, inactiveSeedingTime int64) error
	IncreasePriority(ctx context.Context, hash types.Hash) error
	DecreasePriority(ctx context.Context, hash types.Hash) error
	TopPriority(ctx context.Context, hash types.Hash) error
	BottomPriority(ctx context.Context, hash types.Hash) error
}
