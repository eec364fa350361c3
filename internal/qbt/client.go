// internal/qbt/client.go
package qbt

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/qbtrules/qbtrules/internal/types"
)

/*
 * qBittorrent WebUI API v2 client.
 *
 * Cookie-based session auth: login happens lazily on the first call and is
 * retried once when the server answers 403 (expired SID). Network-level
 * failures wrap types.ErrConnection and a rejected login wraps
 * types.ErrAuthentication, both fatal at the run level; any other non-200
 * answer becomes an APIError, which the action dispatcher treats as
 * non-fatal.
 *
 * Endpoint names follow qBittorrent 5.x (torrents/stop, torrents/start).
 */

// Config carries the connection settings for one qBittorrent instance.
type Config struct {
	URL      string
	Username string
	Password string
	Timeout  time.Duration
}

// APIError is a non-auth, non-connectivity rejection from the WebUI API.
type APIError struct {
	Endpoint string
	Status   int
	Body     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("qbittorrent %s: status %d: %s", e.Endpoint, e.Status, e.Body)
}

// Client talks to one qBittorrent WebUI. Safe for use by one run at a time;
// the session mutex only guards the login handshake.
type Client struct {
	base     *url.URL
	http     *http.Client
	username string
	password string
	log      zerolog.Logger

	mu       sync.Mutex
	loggedIn bool
}

// New builds a client; no connection is made until the first call.
func New(cfg Config, log zerolog.Logger) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.URL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid qbittorrent url %q: %w", cfg.URL, err)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		base:     base,
		http:     &http.Client{Jar: jar, Timeout: timeout},
		username: cfg.Username,
		password: cfg.Password,
		log:      log,
	}, nil
}

// login performs the auth handshake and stores the SID cookie in the jar.
func (c *Client) login(ctx context.Context) error {
	form := url.Values{"username": {c.username}, "password": {c.password}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.base.String()+"/api/v2/auth/login", strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrConnection, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if resp.StatusCode != http.StatusOK || !strings.HasPrefix(string(body), "Ok") {
		return fmt.Errorf("%w: login rejected (status %d)", types.ErrAuthentication, resp.StatusCode)
	}

	c.log.Debug().Str("url", c.base.String()).Msg("authenticated with qbittorrent")
	return nil
}

// ensureLogin authenticates at most once per session.
func (c *Client) ensureLogin(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loggedIn {
		return nil
	}
	if err := c.login(ctx); err != nil {
		return err
	}
	c.loggedIn = true
	return nil
}

// call issues one API request, re-authenticating once on 403.
func (c *Client) call(ctx context.Context, method, endpoint string, params url.Values) ([]byte, error) {
	if err := c.ensureLogin(ctx); err != nil {
		return nil, err
	}

	for attempt := 0; ; attempt++ {
		body, status, err := c.do(ctx, method, endpoint, params)
		if err != nil {
			return nil, err
		}

		switch {
		case status == http.StatusOK:
			return body, nil
		case status == http.StatusForbidden && attempt == 0:
			// Session expired; re-login once and retry.
			c.mu.Lock()
			c.loggedIn = false
			c.mu.Unlock()
			if err := c.ensureLogin(ctx); err != nil {
				return nil, err
			}
		case status == http.StatusForbidden:
			return nil, fmt.Errorf("%w: session rejected", types.ErrAuthentication)
		default:
			return nil, &APIError{Endpoint: endpoint, Status: status, Body: strings.TrimSpace(string(body))}
		}
	}
}

func (c *Client) do(ctx context.Context, method, endpoint string, params url.Values) ([]byte, int, error) {
	target := c.base.String() + "/api/v2/" + endpoint

	var req *http.Request
	var err error
	if method == http.MethodGet {
		if len(params) > 0 {
			target += "?" + params.Encode()
		}
		req, err = http.NewRequestWithContext(ctx, method, target, nil)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, target, strings.NewReader(params.Encode()))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return nil, 0, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", types.ErrConnection, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", types.ErrConnection, err)
	}
	return body, resp.StatusCode, nil
}

// getJSON issues a GET and decodes the JSON response into out.
func (c *Client) getJSON(ctx context.Context, endpoint string, params url.Values, out any) error {
	body, err := c.call(ctx, http.MethodGet, endpoint, params)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("qbittorrent %s: malformed response: %w", endpoint, err)
	}
	return nil
}

// Version returns the application version string.
func (c *Client) Version(ctx context.Context) (string, error) {
	body, err := c.call(ctx, http.MethodGet, "app/version", nil)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(body)), nil
}

// Torrents lists the population with preloaded attributes. A non-empty
// hash restricts the listing to that torrent.
func (c *Client) Torrents(ctx context.Context, hash types.Hash) ([]types.Torrent, error) {
	params := url.Values{}
	if hash != "" {
		params.Set("hashes", string(hash))
	}

	var raw []map[string]any
	if err := c.getJSON(ctx, "torrents/info", params, &raw); err != nil {
		return nil, err
	}

	torrents := make([]types.Torrent, 0, len(raw))
	for _, attrs := range raw {
		h, _ := attrs["hash"].(string)
		if h == "" {
			continue
		}
		torrents = append(torrents, types.Torrent{Hash: types.Hash(h), Attrs: attrs})
	}
	return torrents, nil
}

// Properties fetches the torrents/properties group for one torrent.
func (c *Client) Properties(ctx context.Context, hash types.Hash) (map[string]any, error) {
	var props map[string]any
	err := c.getJSON(ctx, "torrents/properties", hashParams(hash), &props)
	return props, err
}

// Trackers lists tracker entries, DHT/PeX/LSD pseudo entries included.
func (c *Client) Trackers(ctx context.Context, hash types.Hash) ([]map[string]any, error) {
	var trackers []map[string]any
	err := c.getJSON(ctx, "torrents/trackers", hashParams(hash), &trackers)
	return trackers, err
}

// Files lists the content files of one torrent.
func (c *Client) Files(ctx context.Context, hash types.Hash) ([]map[string]any, error) {
	var files []map[string]any
	err := c.getJSON(ctx, "torrents/files", hashParams(hash), &files)
	return files, err
}

// Peers lists connected peers. The sync endpoint keys peers by address;
// the address is folded into each record as "connection".
func (c *Client) Peers(ctx context.Context, hash types.Hash) ([]map[string]any, error) {
	var payload struct {
		Peers map[string]map[string]any `json:"peers"`
	}
	if err := c.getJSON(ctx, "sync/torrentPeers", hashParams(hash), &payload); err != nil {
		return nil, err
	}

	peers := make([]map[string]any, 0, len(payload.Peers))
	for addr, peer := range payload.Peers {
		if peer == nil {
			peer = map[string]any{}
		}
		peer["connection"] = addr
		peers = append(peers, peer)
	}
	return peers, nil
}

// Webseeds lists HTTP seeds of one torrent.
func (c *Client) Webseeds(ctx context.Context, hash types.Hash) ([]map[string]any, error) {
	var seeds []map[string]any
	err := c.getJSON(ctx, "torrents/webseeds", hashParams(hash), &seeds)
	return seeds, err
}

// TransferInfo fetches the global transfer statistics.
func (c *Client) TransferInfo(ctx context.Context) (map[string]any, error) {
	var info map[string]any
	err := c.getJSON(ctx, "transfer/info", nil, &info)
	return info, err
}

// AppPreferences fetches the application preferences.
func (c *Client) AppPreferences(ctx context.Context) (map[string]any, error) {
	var prefs map[string]any
	err := c.getJSON(ctx, "app/preferences", nil, &prefs)
	return prefs, err
}

func (c *Client) Stop(ctx context.Context, hash types.Hash) error {
	return c.action(ctx, "torrents/stop", hashesParams(hash))
}

func (c *Client) Start(ctx context.Context, hash types.Hash) error {
	return c.action(ctx, "torrents/start", hashesParams(hash))
}

func (c *Client) ForceStart(ctx context.Context, hash types.Hash, on bool) error {
	params := hashesParams(hash)
	params.Set("value", strconv.FormatBool(on))
	return c.action(ctx, "torrents/setForceStart", params)
}

func (c *Client) Recheck(ctx context.Context, hash types.Hash) error {
	return c.action(ctx, "torrents/recheck", hashesParams(hash))
}

func (c *Client) Reannounce(ctx context.Context, hash types.Hash) error {
	return c.action(ctx, "torrents/reannounce", hashesParams(hash))
}

func (c *Client) Delete(ctx context.Context, hash types.Hash, keepFiles bool) error {
	params := hashesParams(hash)
	params.Set("deleteFiles", strconv.FormatBool(!keepFiles))
	return c.action(ctx, "torrents/delete", params)
}

func (c *Client) SetCategory(ctx context.Context, hash types.Hash, category string) error {
	params := hashesParams(hash)
	params.Set("category", category)
	return c.action(ctx, "torrents/setCategory", params)
}

func (c *Client) AddTags(ctx context.Context, hash types.Hash, tags []string) error {
	params := hashesParams(hash)
	params.Set("tags", strings.Join(tags, ","))
	return c.action(ctx, "torrents/addTags", params)
}

func (c *Client) RemoveTags(ctx context.Context, hash types.Hash, tags []string) error {
	params := hashesParams(hash)
	params.Set("tags", strings.Join(tags, ","))
	return c.action(ctx, "torrents/removeTags", params)
}

func (c *Client) SetUploadLimit(ctx context.Context, hash types.Hash, limit int64) error {
	params := hashesParams(hash)
	params.Set("limit", strconv.FormatInt(limit, 10))
	return c.action(ctx, "torrents/setUploadLimit", params)
}

func (c *Client) SetDownloadLimit(ctx context.Context, hash types.Hash, limit int64) error {
	params := hashesParams(hash)
	params.Set("limit", strconv.FormatInt(limit, 10))
	return c.action(ctx, "torrents/setDownloadLimit", params)
}

func (c *Client) SetShareLimits(ctx context.Context, hash types.Hash, ratio float64, seedingTime, inactiveSeedingTime int64) error {
	params := hashesParams(hash)
	params.Set("ratioLimit", strconv.FormatFloat(ratio, 'f', -1, 64))
	params.Set("seedingTimeLimit", strconv.FormatInt(seedingTime, 10))
	params.Set("inactiveSeedingTimeLimit", strconv.FormatInt(inactiveSeedingTime, 10))
	return c.action(ctx, "torrents/setShareLimits", params)
}

func (c *Client) IncreasePriority(ctx context.Context, hash types.Hash) error {
	return c.action(ctx, "torrents/increasePrio", hashesParams(hash))
}

func (c *Client) DecreasePriority(ctx context.Context, hash types.Hash) error {
	return c.action(ctx, "torrents/decreasePrio", hashesParams(hash))
}

func (c *Client) TopPriority(ctx context.Context, hash types.Hash) error {
	return c.action(ctx, "torrents/topPrio", hashesParams(hash))
}

func (c *Client) BottomPriority(ctx context.Context, hash types.Hash) error {
	return c.action(ctx, "torrents/bottomPrio", hashesParams(hash))
}

func (c *Client) action(ctx context.Context, endpoint string, params url.Values) error {
	_, err := c.call(ctx, http.MethodPost, endpoint, params)
	return err
}

func hashParams(hash types.Hash) url.Values {
	return url.Values{"hash": {string(hash)}}
}

func hashesParams(hash types.Hash) url.Values {
	return url.Values{"hashes": {string(hash)}}
}
