// Package backends maps a stored downloader configuration to its client.
package backends

import (
	"fmt"
	"net/http"
	"time"

	"github.com/tinoosan/magnetron/internal/data"
	"github.com/tinoosan/magnetron/internal/downloader"
	"github.com/tinoosan/magnetron/internal/downloader/qbittorrent"
	"github.com/tinoosan/magnetron/internal/downloader/transmission"
	"github.com/tinoosan/magnetron/internal/settings"
)

// Factory returns a downloader.Factory whose clients share one HTTP client
// with the given timeout (downloader.DefaultTimeout when zero).
func Factory(timeout time.Duration) downloader.Factory {
	if timeout <= 0 {
		timeout = downloader.DefaultTimeout
	}
	hc := &http.Client{Timeout: timeout}
	return func(cfg settings.DownloaderConfig) (downloader.Client, error) {
		switch cfg.Name {
		case data.QBittorrent:
			return qbittorrent.New(cfg, hc), nil
		case data.Transmission:
			return transmission.New(cfg, hc), nil
		}
		return nil, fmt.Errorf("unsupported downloader %q", cfg.Name)
	}
}
