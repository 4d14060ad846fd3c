package v1

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/tinoosan/magnetron/internal/data"
	"github.com/tinoosan/magnetron/internal/downloader"
	"github.com/tinoosan/magnetron/internal/settings"
)

// ClientResolver builds a client for one named backend.
type ClientResolver interface {
	ClientFor(ctx context.Context, name data.DownloaderName) (downloader.Client, error)
}

type SettingsHandler struct {
	l       *slog.Logger
	store   settings.Store
	clients ClientResolver
}

func NewSettingsHandler(l *slog.Logger, store settings.Store, clients ClientResolver) *SettingsHandler {
	return &SettingsHandler{l: l, store: store, clients: clients}
}

// GetDownloaders lists stored downloader entries with passwords hidden.
func (h *SettingsHandler) GetDownloaders(w http.ResponseWriter, r *http.Request) {
	cfgs, err := h.store.DownloaderConfigs(r.Context())
	if err != nil {
		writeError(w, h.l, err)
		return
	}
	out := make([]settings.DownloaderConfig, 0, len(cfgs))
	for _, c := range cfgs {
		out = append(out, c.Redacted())
	}
	writeJSON(w, http.StatusOK, out)
}

// PutDownloader replaces the entry named in the path. An omitted password
// keeps the stored one.
func (h *SettingsHandler) PutDownloader(w http.ResponseWriter, r *http.Request) {
	var cfg settings.DownloaderConfig
	if !decodeBody(w, r, &cfg) {
		return
	}
	cfg.Name = data.DownloaderName(strings.ToLower(mux.Vars(r)["name"]))
	cfg.Host = strings.TrimSpace(cfg.Host)
	if err := cfg.Validate(); err != nil {
		writeError(w, h.l, err)
		return
	}
	if cfg.Password == "" || cfg.Password == settings.RedactedPassword {
		cfgs, err := h.store.DownloaderConfigs(r.Context())
		if err != nil {
			writeError(w, h.l, err)
			return
		}
		if cur, ok := settings.Find(cfgs, cfg.Name); ok {
			cfg.Password = cur.Password
		}
	}
	if err := h.store.SaveDownloaderConfig(r.Context(), cfg); err != nil {
		writeError(w, h.l, err)
		return
	}
	h.l.Info("downloader settings saved", "name", cfg.Name, "enabled", cfg.Enabled, "default", cfg.IsDefault)
	writeJSON(w, http.StatusOK, cfg.Redacted())
}

// TestDownloader checks reachability and credentials of one backend.
func (h *SettingsHandler) TestDownloader(w http.ResponseWriter, r *http.Request) {
	name := data.DownloaderName(strings.ToLower(mux.Vars(r)["name"]))
	client, err := h.clients.ClientFor(r.Context(), name)
	if err != nil {
		writeError(w, h.l, err)
		return
	}
	writeJSON(w, http.StatusOK, client.TestConnection(r.Context()))
}

func (h *SettingsHandler) GetRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.store.DownloadRules(r.Context())
	if err != nil {
		writeError(w, h.l, err)
		return
	}
	writeJSON(w, http.StatusOK, rulesView{DownloadMagnetImmediately: rules.Immediate()})
}

func (h *SettingsHandler) PutRules(w http.ResponseWriter, r *http.Request) {
	var rules settings.DownloadRules
	if !decodeBody(w, r, &rules) {
		return
	}
	if err := h.store.SaveDownloadRules(r.Context(), rules); err != nil {
		writeError(w, h.l, err)
		return
	}
	writeJSON(w, http.StatusOK, rulesView{DownloadMagnetImmediately: rules.Immediate()})
}

// rulesView reports effective values rather than the stored optionals.
type rulesView struct {
	DownloadMagnetImmediately bool `json:"downloadMagnetImmediately"`
}
