// Package downloadertest provides an in-memory downloader.Client for tests.
package downloadertest

import (
	"context"
	"sync"

	"github.com/tinoosan/magnetron/internal/data"
	"github.com/tinoosan/magnetron/internal/downloadcfg"
	"github.com/tinoosan/magnetron/internal/downloader"
)

// Fake records added URLs and serves a fixed torrent list. AddFn, when set,
// decides the outcome of each add.
type Fake struct {
	Backend  data.DownloaderName
	Torrents []data.Torrent
	Stats    data.TransferStats
	ListErr  error
	AddFn    func(url string) (downloader.Result, error)

	mu    sync.Mutex
	added []string
	opts  []downloadcfg.AddOptions
}

var _ downloader.Client = (*Fake)(nil)

func (f *Fake) Name() data.DownloaderName {
	if f.Backend == "" {
		return data.QBittorrent
	}
	return f.Backend
}

func (f *Fake) AddTorrent(ctx context.Context, url string, opts downloadcfg.AddOptions) (downloader.Result, error) {
	if f.AddFn != nil {
		res, err := f.AddFn(url)
		if err == nil && res.Success {
			f.record(url, opts)
		}
		return res, err
	}
	f.record(url, opts)
	return downloader.Result{Success: true, Message: "ok"}, nil
}

func (f *Fake) record(url string, opts downloadcfg.AddOptions) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, url)
	f.opts = append(f.opts, opts)
}

// Added returns the URLs accepted so far, in call order.
func (f *Fake) Added() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.added...)
}

// Options returns the options passed with each accepted add.
func (f *Fake) Options() []downloadcfg.AddOptions {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]downloadcfg.AddOptions(nil), f.opts...)
}

func (f *Fake) GetTorrents(ctx context.Context) ([]data.Torrent, error) {
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	return append([]data.Torrent(nil), f.Torrents...), nil
}

func (f *Fake) GetStats(ctx context.Context) data.TransferStats { return f.Stats }

func (f *Fake) TestConnection(ctx context.Context) downloader.Result {
	return downloader.Result{Success: f.ListErr == nil, Message: string(f.Name())}
}

// Provider is a downloader.Provider returning fixed values.
type Provider struct {
	Client downloader.Client
	Err    error
}

func (p Provider) ActiveClient(ctx context.Context) (downloader.Client, error) {
	return p.Client, p.Err
}
var _ downloader.Provider = Provider{}
