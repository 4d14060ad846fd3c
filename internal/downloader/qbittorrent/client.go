// Package qbittorrent implements downloader.Client against the qBittorrent
// Web API v2.
package qbittorrent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/tinoosan/magnetron/internal/data"
	"github.com/tinoosan/magnetron/internal/downloadcfg"
	"github.com/tinoosan/magnetron/internal/downloader"
	"github.com/tinoosan/magnetron/internal/settings"
)

const cookieName = "SID"

// unknownState is reported for native states the mapping does not know.
const unknownState = data.TorrentPaused

// errAuth marks a rejected login.
var errAuth = errors.New("qbittorrent: login rejected")

// Client talks to one qBittorrent instance. The session cookie from the
// first login is cached and re-sent on every call; login runs again only
// when the cached cookie is empty.
type Client struct {
	baseURL  string
	username string
	password string
	http     *http.Client

	mu  sync.Mutex
	sid string
}

var _ downloader.Client = (*Client)(nil)

// New builds a client. hc may be nil, in which case a client with
// downloader.DefaultTimeout is used.
func New(cfg settings.DownloaderConfig, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: downloader.DefaultTimeout}
	}
	return &Client{
		baseURL:  cfg.BaseURL(),
		username: cfg.Username,
		password: cfg.Password,
		http:     hc,
	}
}

func (c *Client) Name() data.DownloaderName { return data.QBittorrent }

// session returns the cached SID, logging in when there is none.
func (c *Client) session(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sid != "" {
		return c.sid, nil
	}
	form := url.Values{"username": {c.username}, "password": {c.password}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v2/auth/login", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	// qBittorrent rejects logins whose Referer does not match its host.
	req.Header.Set("Referer", c.baseURL)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("qbittorrent: login: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
	if resp.StatusCode == http.StatusForbidden {
		return "", fmt.Errorf("%w: client banned this address after failed logins", errAuth)
	}
	if resp.StatusCode != http.StatusOK || strings.TrimSpace(string(body)) == "Fails." {
		return "", fmt.Errorf("%w (http %d)", errAuth, resp.StatusCode)
	}
	for _, ck := range resp.Cookies() {
		if ck.Name == cookieName && ck.Value != "" {
			c.sid = ck.Value
			return c.sid, nil
		}
	}
	return "", fmt.Errorf("%w: no session cookie in response", errAuth)
}

func (c *Client) forget() {
	c.mu.Lock()
	c.sid = ""
	c.mu.Unlock()
}

// statusError is a non-2xx answer from an authenticated endpoint.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("qbittorrent http %d", e.code)
	}
	return fmt.Sprintf("qbittorrent http %d: %s", e.code, e.body)
}

// do issues an authenticated request. form is sent url-encoded for POST and
// as the query string for GET.
func (c *Client) do(ctx context.Context, method, path string, form url.Values) (body []byte, err error) {
	done := downloader.Track(data.QBittorrent, path)
	defer func() { done(err) }()

	sid, err := c.session(ctx)
	if err != nil {
		return nil, err
	}
	var req *http.Request
	if method == http.MethodGet {
		u := c.baseURL + path
		if len(form) > 0 {
			u += "?" + form.Encode()
		}
		req, err = http.NewRequestWithContext(ctx, method, u, nil)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path, strings.NewReader(form.Encode()))
		if req != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return nil, err
	}
	req.Header.Set("Referer", c.baseURL)
	req.AddCookie(&http.Cookie{Name: cookieName, Value: sid})

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("qbittorrent: %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if resp.StatusCode == http.StatusForbidden {
		// The session expired server side; the next call logs in again.
		c.forget()
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(b))}
	}
	return b, nil
}

func unavailable(err error) error {
	return &data.UnavailableError{Msg: "qbittorrent unavailable", Configured: true, Err: err}
}

// AddTorrent: POST /api/v2/torrents/add (urls, savepath, category, tags)
func (c *Client) AddTorrent(ctx context.Context, link string, opts downloadcfg.AddOptions) (downloader.Result, error) {
	form := url.Values{"urls": {link}}
	if opts.SavePath != "" {
		form.Set("savepath", opts.SavePath)
	}
	if opts.Category != "" {
		form.Set("category", opts.Category)
	}
	if len(opts.Tags) > 0 {
		form.Set("tags", strings.Join(opts.Tags, ","))
	}
	b, err := c.do(ctx, http.MethodPost, "/api/v2/torrents/add", form)
	if err != nil {
		var se *statusError
		if errors.As(err, &se) && se.code != http.StatusForbidden {
			return downloader.Result{Success: false, Message: se.Error()}, nil
		}
		return downloader.Result{}, unavailable(err)
	}
	if strings.TrimSpace(string(b)) == "Fails." {
		return downloader.Result{Success: false, Message: "qBittorrent rejected the torrent"}, nil
	}
	return downloader.Result{Success: true, Message: "torrent added to qBittorrent"}, nil
}

type qbTorrent struct {
	Hash        string  `json:"hash"`
	Name        string  `json:"name"`
	Size        int64   `json:"size"`
	Progress    float64 `json:"progress"`
	State       string  `json:"state"`
	DlSpeed     int64   `json:"dlspeed"`
	UpSpeed     int64   `json:"upspeed"`
	ETA         int64   `json:"eta"`
	SavePath    string  `json:"save_path"`
	ContentPath string  `json:"content_path"`
}

func (c *Client) GetTorrents(ctx context.Context) ([]data.Torrent, error) {
	b, err := c.do(ctx, http.MethodGet, "/api/v2/torrents/info", nil)
	if err != nil {
		return nil, unavailable(err)
	}
	var raw []qbTorrent
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, unavailable(fmt.Errorf("qbittorrent: decode torrents: %w", err))
	}
	out := make([]data.Torrent, 0, len(raw))
	for _, t := range raw {
		out = append(out, data.Torrent{
			Hash:          strings.ToLower(t.Hash),
			Name:          t.Name,
			Size:          t.Size,
			Progress:      t.Progress,
			Status:        MapState(t.State),
			DownloadSpeed: t.DlSpeed,
			UploadSpeed:   t.UpSpeed,
			ETA:           t.ETA,
			SavePath:      t.SavePath,
			ContentPath:   t.ContentPath,
		})
	}
	return out, nil
}

func (c *Client) GetStats(ctx context.Context) data.TransferStats {
	b, err := c.do(ctx, http.MethodGet, "/api/v2/transfer/info", nil)
	if err != nil {
		return data.TransferStats{}
	}
	var info struct {
		DlSpeed int64 `json:"dl_info_speed"`
		UpSpeed int64 `json:"up_info_speed"`
		DlData  int64 `json:"dl_info_data"`
		UpData  int64 `json:"up_info_data"`
	}
	if err := json.Unmarshal(b, &info); err != nil {
		return data.TransferStats{}
	}
	return data.TransferStats{
		DownloadSpeed:   info.DlSpeed,
		UploadSpeed:     info.UpSpeed,
		TotalDownloaded: info.DlData,
		TotalUploaded:   info.UpData,
	}
}

func (c *Client) TestConnection(ctx context.Context) downloader.Result {
	b, err := c.do(ctx, http.MethodGet, "/api/v2/app/version", nil)
	if err != nil {
		return downloader.Result{Success: false, Message: err.Error()}
	}
	return downloader.Result{Success: true, Message: "qBittorrent " + strings.TrimSpace(string(b))}
}

// MapState translates a qBittorrent torrent state into the shared vocabulary.
func MapState(state string) data.TorrentStatus {
	switch state {
	case "downloading", "forcedDL", "metaDL", "forcedMetaDL", "allocating", "queuedDL":
		return data.TorrentDownloading
	case "uploading", "forcedUP", "stalledUP", "queuedUP":
		return data.TorrentSeeding
	case "stalledDL":
		return data.TorrentStalled
	case "pausedDL", "pausedUP", "stoppedDL", "stoppedUP":
		return data.TorrentPaused
	case "checkingDL", "checkingUP", "checkingResumeData", "moving":
		return data.TorrentChecking
	case "error", "missingFiles":
		return data.TorrentError
	default:
		return unknownState
	}
}
