package downloader

import (
	"context"
	"time"

	"github.com/tinoosan/magnetron/internal/data"
	"github.com/tinoosan/magnetron/internal/downloadcfg"
)

// DefaultTimeout bounds every call to a downloader backend.
const DefaultTimeout = 8 * time.Second

// Result is the uniform outcome of an add or a connection test.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Client is the capability set every downloader backend implements.
type Client interface {
	Name() data.DownloaderName
	// AddTorrent submits a magnet or torrent URL. A refusal by a reachable
	// client is reported as Result{Success: false}; transport and auth
	// failures are returned as errors.
	AddTorrent(ctx context.Context, url string, opts downloadcfg.AddOptions) (Result, error)
	GetTorrents(ctx context.Context) ([]data.Torrent, error)
	// GetStats never fails: any error yields zero stats.
	GetStats(ctx context.Context) data.TransferStats
	TestConnection(ctx context.Context) Result
}

// Provider resolves the backend to use for one operation.
type Provider interface {
	ActiveClient(ctx context.Context) (Client, error)
}
