// Package transmission implements downloader.Client against the
// Transmission JSON-RPC interface.
package transmission

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path"
	"strings"
	"sync"

	"github.com/tinoosan/magnetron/internal/data"
	"github.com/tinoosan/magnetron/internal/downloadcfg"
	"github.com/tinoosan/magnetron/internal/downloader"
	"github.com/tinoosan/magnetron/internal/settings"
)

// unknownState is reported for native status codes the mapping does not know.
const unknownState = data.TorrentError

type Client struct {
	rpcURL   string
	username string
	password string
	http     *http.Client

	mu        sync.Mutex
	sessionID string
}

var _ downloader.Client = (*Client)(nil)

// New builds a client for cfg. hc may be nil.
func New(cfg settings.DownloaderConfig, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: downloader.DefaultTimeout}
	}
	return &Client{
		rpcURL:   cfg.BaseURL() + "/transmission/rpc",
		username: cfg.Username,
		password: cfg.Password,
		http:     hc,
	}
}

func (c *Client) Name() data.DownloaderName { return data.Transmission }

func (c *Client) session() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *Client) setSession(id string) {
	c.mu.Lock()
	c.sessionID = id
	c.mu.Unlock()
}

func unavailable(err error) error {
	return &data.UnavailableError{Msg: "transmission unavailable", Configured: true, Err: err}
}

type addArgs struct {
	Filename    string   `json:"filename"`
	DownloadDir string   `json:"download-dir,omitempty"`
	Labels      []string `json:"labels,omitempty"`
}

// AddTorrent: torrent-add {filename, download-dir, labels}. Category has no
// Transmission equivalent and is sent as an extra label.
func (c *Client) AddTorrent(ctx context.Context, link string, opts downloadcfg.AddOptions) (downloader.Result, error) {
	args := addArgs{Filename: link, DownloadDir: opts.SavePath}
	if opts.Category != "" {
		args.Labels = append(args.Labels, opts.Category)
	}
	args.Labels = append(args.Labels, opts.Tags...)

	raw, err := c.call(ctx, "torrent-add", args)
	if err != nil {
		var re *rpcError
		if errors.As(err, &re) {
			return downloader.Result{Success: false, Message: re.Result}, nil
		}
		return downloader.Result{}, unavailable(err)
	}
	var out struct {
		Added     *struct{ Name string } `json:"torrent-added"`
		Duplicate *struct{ Name string } `json:"torrent-duplicate"`
	}
	_ = json.Unmarshal(raw, &out)
	if out.Duplicate != nil {
		return downloader.Result{Success: true, Message: "torrent already in Transmission"}, nil
	}
	return downloader.Result{Success: true, Message: "torrent added to Transmission"}, nil
}

var torrentFields = []string{
	"hashString", "name", "totalSize", "percentDone", "status", "error",
	"rateDownload", "rateUpload", "eta", "downloadDir",
}

type trTorrent struct {
	HashString   string  `json:"hashString"`
	Name         string  `json:"name"`
	TotalSize    int64   `json:"totalSize"`
	PercentDone  float64 `json:"percentDone"`
	Status       int     `json:"status"`
	Error        int     `json:"error"`
	RateDownload int64   `json:"rateDownload"`
	RateUpload   int64   `json:"rateUpload"`
	ETA          int64   `json:"eta"`
	DownloadDir  string  `json:"downloadDir"`
}

func (c *Client) GetTorrents(ctx context.Context) ([]data.Torrent, error) {
	raw, err := c.call(ctx, "torrent-get", map[string]any{"fields": torrentFields})
	if err != nil {
		return nil, unavailable(err)
	}
	var out struct {
		Torrents []trTorrent `json:"torrents"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, unavailable(err)
	}
	ts := make([]data.Torrent, 0, len(out.Torrents))
	for _, t := range out.Torrents {
		status := MapStatus(t.Status)
		if t.Error != 0 {
			status = data.TorrentError
		}
		ts = append(ts, data.Torrent{
			Hash:          strings.ToLower(t.HashString),
			Name:          t.Name,
			Size:          t.TotalSize,
			Progress:      t.PercentDone,
			Status:        status,
			DownloadSpeed: t.RateDownload,
			UploadSpeed:   t.RateUpload,
			ETA:           t.ETA,
			SavePath:      t.DownloadDir,
			ContentPath:   path.Join(t.DownloadDir, t.Name),
		})
	}
	return ts, nil
}

func (c *Client) GetStats(ctx context.Context) data.TransferStats {
	raw, err := c.call(ctx, "session-stats", nil)
	if err != nil {
		return data.TransferStats{}
	}
	var s struct {
		DownloadSpeed int64 `json:"downloadSpeed"`
		UploadSpeed   int64 `json:"uploadSpeed"`
		Cumulative    struct {
			Downloaded int64 `json:"downloadedBytes"`
			Uploaded   int64 `json:"uploadedBytes"`
		} `json:"cumulative-stats"`
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		return data.TransferStats{}
	}
	return data.TransferStats{
		DownloadSpeed:   s.DownloadSpeed,
		UploadSpeed:     s.UploadSpeed,
		TotalDownloaded: s.Cumulative.Downloaded,
		TotalUploaded:   s.Cumulative.Uploaded,
	}
}

func (c *Client) TestConnection(ctx context.Context) downloader.Result {
	raw, err := c.call(ctx, "session-get", map[string]any{"fields": []string{"version"}})
	if err != nil {
		return downloader.Result{Success: false, Message: err.Error()}
	}
	var s struct {
		Version string `json:"version"`
	}
	_ = json.Unmarshal(raw, &s)
	return downloader.Result{Success: true, Message: strings.TrimSpace("Transmission " + s.Version)}
}

// MapStatus translates Transmission's numeric torrent status:
// 0 stopped, 1 check queued, 2 checking, 3 download queued, 4 downloading,
// 5 seed queued, 6 seeding.
func MapStatus(code int) data.TorrentStatus {
	switch code {
	case 0:
		return data.TorrentPaused
	case 1, 2:
		return data.TorrentChecking
	case 3, 4:
		return data.TorrentDownloading
	case 5, 6:
		return data.TorrentSeeding
	default:
		return unknownState
	}
}
