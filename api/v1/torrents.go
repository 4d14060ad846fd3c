package v1

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/tinoosan/magnetron/internal/data"
	"github.com/tinoosan/magnetron/internal/downloadcfg"
	"github.com/tinoosan/magnetron/internal/downloader"
	"github.com/tinoosan/magnetron/internal/magnet"
)

// TorrentHandler talks to the active downloader directly.
type TorrentHandler struct {
	l        *slog.Logger
	provider downloader.Provider
	defaults downloadcfg.AddOptions
}

func NewTorrentHandler(l *slog.Logger, p downloader.Provider, defaults downloadcfg.AddOptions) *TorrentHandler {
	return &TorrentHandler{l: l, provider: p, defaults: defaults}
}

type addTorrentBody struct {
	URL      string   `json:"url"`
	SavePath string   `json:"savePath,omitempty"`
	Category string   `json:"category,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}

func validTorrentURL(s string) bool {
	return magnet.IsMagnet(s) || strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// AddTorrent answers 200 with the client's result, 409 when no downloader
// is usable and 502 when the client refused the torrent or failed.
func (h *TorrentHandler) AddTorrent(w http.ResponseWriter, r *http.Request) {
	var body addTorrentBody
	if !decodeBody(w, r, &body) {
		return
	}
	body.URL = strings.TrimSpace(body.URL)
	if !validTorrentURL(body.URL) {
		badRequest(w, ErrURLShape)
		return
	}
	client, err := h.provider.ActiveClient(r.Context())
	if err != nil {
		writeError(w, h.l, err)
		return
	}
	opts := downloadcfg.AddOptions{SavePath: body.SavePath, Category: body.Category, Tags: body.Tags}.Merge(h.defaults)
	res, err := client.AddTorrent(r.Context(), body.URL, opts)
	if err != nil {
		writeError(w, h.l, err)
		return
	}
	if !res.Success {
		markErr(w, &data.UpstreamError{Op: "add torrent", Err: errString(res.Message)})
		writeJSON(w, http.StatusBadGateway, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *TorrentHandler) GetTorrents(w http.ResponseWriter, r *http.Request) {
	client, err := h.provider.ActiveClient(r.Context())
	if err != nil {
		writeError(w, h.l, err)
		return
	}
	ts, err := client.GetTorrents(r.Context())
	if err != nil {
		writeError(w, h.l, err)
		return
	}
	if ts == nil {
		ts = []data.Torrent{}
	}
	writeJSON(w, http.StatusOK, ts)
}

// GetStats degrades to zero stats when no downloader is usable.
func (h *TorrentHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	client, err := h.provider.ActiveClient(r.Context())
	if err != nil {
		h.l.Debug("stats without downloader", "err", err)
		writeJSON(w, http.StatusOK, data.TransferStats{})
		return
	}
	writeJSON(w, http.StatusOK, client.GetStats(r.Context()))
}

type errString string

func (e errString) Error() string { return string(e) }
