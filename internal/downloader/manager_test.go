package downloader_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/tinoosan/magnetron/internal/data"
	"github.com/tinoosan/magnetron/internal/downloader"
	"github.com/tinoosan/magnetron/internal/downloader/downloadertest"
	"github.com/tinoosan/magnetron/internal/settings"
)

func fakeFactory(built *[]settings.DownloaderConfig) downloader.Factory {
	return func(cfg settings.DownloaderConfig) (downloader.Client, error) {
		*built = append(*built, cfg)
		return &downloadertest.Fake{Backend: cfg.Name}, nil
	}
}

func quietLog() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestActiveClient(t *testing.T) {
	tests := []struct {
		name    string
		cfgs    []settings.DownloaderConfig
		want    data.DownloaderName
		wantErr string
	}{
		{
			name: "falls back to transmission",
			cfgs: []settings.DownloaderConfig{
				{Name: data.QBittorrent, Enabled: false, Host: "qb"},
				{Name: data.Transmission, Enabled: true, Host: "x"},
			},
			want: data.Transmission,
		},
		{
			name: "qbittorrent wins when both enabled",
			cfgs: []settings.DownloaderConfig{
				{Name: data.Transmission, Enabled: true, Host: "tr"},
				{Name: data.QBittorrent, Enabled: true, Host: "qb"},
			},
			want: data.QBittorrent,
		},
		{
			name: "enabled without host is skipped",
			cfgs: []settings.DownloaderConfig{
				{Name: data.QBittorrent, Enabled: true},
				{Name: data.Transmission, Enabled: true, Host: "tr"},
			},
			want: data.Transmission,
		},
		{
			name: "both disabled",
			cfgs: []settings.DownloaderConfig{
				{Name: data.QBittorrent, Host: "qb"},
				{Name: data.Transmission, Host: "tr"},
			},
			wantErr: "no downloader enabled",
		},
		{
			name:    "nothing stored",
			wantErr: "no downloader configured",
		},
		{
			name:    "invalid entry ignored",
			cfgs:    []settings.DownloaderConfig{{Name: data.QBittorrent, Enabled: true, Host: "qb", Port: -1}},
			wantErr: "no downloader configured",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var built []settings.DownloaderConfig
			m := downloader.NewManager(settings.NewMemoryStore(tt.cfgs...), fakeFactory(&built), quietLog())
			c, err := m.ActiveClient(context.Background())
			if tt.wantErr != "" {
				if !errors.Is(err, data.ErrDownloaderUnavailable) {
					t.Fatalf("expected ErrDownloaderUnavailable, got %v", err)
				}
				if !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("error %q does not mention %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ActiveClient: %v", err)
			}
			if c.Name() != tt.want {
				t.Fatalf("got %s want %s", c.Name(), tt.want)
			}
		})
	}
}

func TestActiveClientWarnsOnMultipleEnabled(t *testing.T) {
	var buf bytes.Buffer
	store := settings.NewMemoryStore(
		settings.DownloaderConfig{Name: data.QBittorrent, Enabled: true, Host: "qb"},
		settings.DownloaderConfig{Name: data.Transmission, Enabled: true, Host: "tr"},
	)
	var built []settings.DownloaderConfig
	m := downloader.NewManager(store, fakeFactory(&built), slog.New(slog.NewTextHandler(&buf, nil)))
	if _, err := m.ActiveClient(context.Background()); err != nil {
		t.Fatalf("ActiveClient: %v", err)
	}
	if !strings.Contains(buf.String(), "multiple downloaders enabled") {
		t.Fatalf("expected warning, log was %q", buf.String())
	}
}

func TestActiveClientRereadsSettings(t *testing.T) {
	store := settings.NewMemoryStore(settings.DownloaderConfig{Name: data.QBittorrent, Enabled: true, Host: "qb"})
	var built []settings.DownloaderConfig
	m := downloader.NewManager(store, fakeFactory(&built), quietLog())
	ctx := context.Background()

	c, _ := m.ActiveClient(ctx)
	if c.Name() != data.QBittorrent {
		t.Fatalf("got %s", c.Name())
	}
	_ = store.SaveDownloaderConfig(ctx, settings.DownloaderConfig{Name: data.QBittorrent, Enabled: false, Host: "qb"})
	_ = store.SaveDownloaderConfig(ctx, settings.DownloaderConfig{Name: data.Transmission, Enabled: true, Host: "tr"})
	c, _ = m.ActiveClient(ctx)
	if c.Name() != data.Transmission {
		t.Fatalf("settings change not picked up, got %s", c.Name())
	}
	if len(built) != 2 {
		t.Fatalf("expected a fresh client per call, built %d", len(built))
	}
}

func TestClientFor(t *testing.T) {
	store := settings.NewMemoryStore(settings.DownloaderConfig{Name: data.Transmission, Host: "tr"})
	var built []settings.DownloaderConfig
	m := downloader.NewManager(store, fakeFactory(&built), quietLog())
	ctx := context.Background()

	c, err := m.ClientFor(ctx, data.Transmission)
	if err != nil || c.Name() != data.Transmission {
		t.Fatalf("ClientFor(transmission) = %v, %v", c, err)
	}
	if _, err := m.ClientFor(ctx, data.QBittorrent); !errors.Is(err, data.ErrDownloaderUnavailable) {
		t.Fatalf("expected unavailable for unconfigured backend, got %v", err)
	}
	if _, err := m.ClientFor(ctx, "deluge"); !errors.Is(err, data.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestFactoryError(t *testing.T) {
	store := settings.NewMemoryStore(settings.DownloaderConfig{Name: data.QBittorrent, Enabled: true, Host: "qb"})
	m := downloader.NewManager(store, func(settings.DownloaderConfig) (downloader.Client, error) {
		return nil, errors.New("boom")
	}, quietLog())
	_, err := m.ActiveClient(context.Background())
	var ue *data.UnavailableError
	if !errors.As(err, &ue) || !ue.Configured {
		t.Fatalf("expected configured UnavailableError, got %v", err)
	}
}
