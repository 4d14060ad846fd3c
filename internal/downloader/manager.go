package downloader

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tinoosan/magnetron/internal/data"
	"github.com/tinoosan/magnetron/internal/settings"
)

// Factory builds a client for one stored backend configuration.
type Factory func(cfg settings.DownloaderConfig) (Client, error)

// Manager resolves the active backend from settings on every call. Clients
// are never cached, so edits take effect on the next call.
type Manager struct {
	store   settings.Store
	factory Factory
	log     *slog.Logger
}

var _ Provider = (*Manager)(nil)

func NewManager(store settings.Store, factory Factory, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{store: store, factory: factory, log: log}
}

func (m *Manager) load(ctx context.Context) ([]settings.DownloaderConfig, error) {
	cfgs, err := m.store.DownloaderConfigs(ctx)
	if err != nil {
		return nil, &data.UnavailableError{Msg: "could not load downloader settings", Err: err}
	}
	return settings.Usable(m.log, cfgs), nil
}

// ActiveClient returns a client for the first backend, in
// data.DownloaderPriority order, that is enabled and has a host.
func (m *Manager) ActiveClient(ctx context.Context) (Client, error) {
	cfgs, err := m.load(ctx)
	if err != nil {
		return nil, err
	}
	var (
		candidates []settings.DownloaderConfig
		configured bool
	)
	for _, name := range data.DownloaderPriority {
		cfg, ok := settings.Find(cfgs, name)
		if !ok || !cfg.Configured() {
			continue
		}
		configured = true
		if cfg.Enabled {
			candidates = append(candidates, cfg)
		}
	}
	if len(candidates) == 0 {
		if !configured {
			return nil, &data.UnavailableError{Msg: "no downloader configured"}
		}
		return nil, &data.UnavailableError{Msg: "no downloader enabled"}
	}
	if len(candidates) > 1 {
		names := make([]data.DownloaderName, 0, len(candidates))
		for _, c := range candidates {
			names = append(names, c.Name)
		}
		m.log.Warn("multiple downloaders enabled, using the first", "enabled", names, "using", candidates[0].Name)
	}
	return m.build(candidates[0])
}

// ClientFor builds a client for name regardless of its enabled flag. Used by
// the settings connection test.
func (m *Manager) ClientFor(ctx context.Context, name data.DownloaderName) (Client, error) {
	if !name.Valid() {
		return nil, data.Invalid("unknown downloader %q", name)
	}
	cfgs, err := m.load(ctx)
	if err != nil {
		return nil, err
	}
	cfg, ok := settings.Find(cfgs, name)
	if !ok || !cfg.Configured() {
		return nil, &data.UnavailableError{Msg: fmt.Sprintf("%s is not configured", name)}
	}
	return m.build(cfg)
}

func (m *Manager) build(cfg settings.DownloaderConfig) (Client, error) {
	c, err := m.factory(cfg)
	if err != nil {
		return nil, &data.UnavailableError{Msg: fmt.Sprintf("could not create %s client", cfg.Name), Configured: true, Err: err}
	}
	return c, nil
}
