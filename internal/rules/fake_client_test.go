package rules

import (
	"context"
	"fmt"

	"github.com/qbtrules/qbtrules/internal/types"
)

// fakeClient is the in-memory transport used by the engine tests. It
// records every action call and counts field-group fetches so tests can
// assert on caching behavior.
type fakeClient struct {
	torrents []types.Torrent
	props    map[types.Hash]map[string]any
	trackers map[types.Hash][]map[string]any
	files    map[types.Hash][]map[string]any
	peers    map[types.Hash][]map[string]any
	webseeds map[types.Hash][]map[string]any
	transfer map[string]any
	app      map[string]any

	listErr  error
	fetchErr error

	propsCalls    int
	trackersCalls int
	transferCalls int

	actions     []string
	failActions map[string]error
}

func newFakeClient(torrents ...types.Torrent) *fakeClient {
	return &fakeClient{
		torrents:    torrents,
		props:       map[types.Hash]map[string]any{},
		trackers:    map[types.Hash][]map[string]any{},
		files:       map[types.Hash][]map[string]any{},
		peers:       map[types.Hash][]map[string]any{},
		webseeds:    map[types.Hash][]map[string]any{},
		failActions: map[string]error{},
	}
}

func (f *fakeClient) Torrents(_ context.Context, hash types.Hash) ([]types.Torrent, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	if hash == "" {
		return f.torrents, nil
	}
	for _, t := range f.torrents {
		if t.Hash == hash {
			return []types.Torrent{t}, nil
		}
	}
	return nil, nil
}

func (f *fakeClient) Properties(_ context.Context, hash types.Hash) (map[string]any, error) {
	f.propsCalls++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.props[hash], nil
}

func (f *fakeClient) Trackers(_ context.Context, hash types.Hash) ([]map[string]any, error) {
	f.trackersCalls++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.trackers[hash], nil
}

func (f *fakeClient) Files(_ context.Context, hash types.Hash) ([]map[string]any, error) {
	return f.files[hash], nil
}

func (f *fakeClient) Peers(_ context.Context, hash types.Hash) ([]map[string]any, error) {
	return f.peers[hash], nil
}

func (f *fakeClient) Webseeds(_ context.Context, hash types.Hash) ([]map[string]any, error) {
	return f.webseeds[hash], nil
}

func (f *fakeClient) TransferInfo(context.Context) (map[string]any, error) {
	f.transferCalls++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.transfer, nil
}

func (f *fakeClient) AppPreferences(context.Context) (map[string]any, error) {
	return f.app, nil
}

func (f *fakeClient) record(name string, hash types.Hash, args ...any) error {
	call := fmt.Sprintf("%s:%s", name, hash)
	for _, arg := range args {
		call += fmt.Sprintf(":%v", arg)
	}
	f.actions = append(f.actions, call)
	return f.failActions[name]
}

func (f *fakeClient) Stop(_ context.Context, h types.Hash) error  { return f.record("stop", h) }
func (f *fakeClient) Start(_ context.Context, h types.Hash) error { return f.record("start", h) }
func (f *fakeClient) ForceStart(_ context.Context, h types.Hash, on bool) error {
	return f.record("force_start", h, on)
}
func (f *fakeClient) Recheck(_ context.Context, h types.Hash) error { return f.record("recheck", h) }
func (f *fakeClient) Reannounce(_ context.Context, h types.Hash) error {
	return f.record("reannounce", h)
}
func (f *fakeClient) Delete(_ context.Context, h types.Hash, keepFiles bool) error {
	return f.record("delete", h, keepFiles)
}
func (f *fakeClient) SetCategory(_ context.Context, h types.Hash, category string) error {
	return f.record("set_category", h, category)
}
func (f *fakeClient) AddTags(_ context.Context, h types.Hash, tags []string) error {
	return f.record("add_tags", h, tags)
}
func (f *fakeClient) RemoveTags(_ context.Context, h types.Hash, tags []string) error {
	return f.record("remove_tags", h, tags)
}
func (f *fakeClient) SetUploadLimit(_ context.Context, h types.Hash, limit int64) error {
	return f.record("set_upload_limit", h, limit)
}
func (f *fakeClient) SetDownloadLimit(_ context.Context, h types.Hash, limit int64) error {
	return f.record("set_download_limit", h, limit)
}
func (f *fakeClient) SetShareLimits(_ context.Context, h types.Hash, ratio float64, seeding, inactive int64) error {
	return f.record("set_share_limits", h, ratio, seeding, inactive)
}
func (f *fakeClient) IncreasePriority(_ context.Context, h types.Hash) error {
	return f.record("increase_priority", h)
}
func (f *fakeClient) DecreasePriority(_ context.Context, h types.Hash) error {
	return f.record("decrease_priority", h)
}
func (f *fakeClient) TopPriority(_ context.Context, h types.Hash) error {
	return f.record("top_priority", h)
}
func (f *fakeClient) BottomPriority(_ context.Context, h types.Hash) error {
	return f.record("bottom_priority", h)
}
