package v1

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/gorilla/mux"

	"github.com/tinoosan/magnetron/internal/data"
	"github.com/tinoosan/magnetron/internal/service"
)

type MovieHandler struct {
	l      *slog.Logger
	movies service.Movies
	limit  int
	// base outlives the request that triggers a refresh.
	base       context.Context
	refreshing atomic.Bool
}

func NewMovieHandler(base context.Context, l *slog.Logger, movies service.Movies, refreshLimit int) *MovieHandler {
	return &MovieHandler{l: l, movies: movies, limit: refreshLimit, base: base}
}

func (h *MovieHandler) GetMovie(w http.ResponseWriter, r *http.Request) {
	m, err := h.movies.Get(r.Context(), mux.Vars(r)["code"])
	if err != nil {
		writeError(w, h.l, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// subscribeBody carries optional catalog fields for a movie not yet stored.
type subscribeBody struct {
	Title   string               `json:"title,omitempty"`
	Cover   string               `json:"cover,omitempty"`
	Magnets []data.CatalogMagnet `json:"magnets,omitempty"`
}

func (h *MovieHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var body subscribeBody
	if r.ContentLength != 0 && !decodeBody(w, r, &body) {
		return
	}
	m, err := h.movies.Subscribe(r.Context(), data.Movie{
		Code:    mux.Vars(r)["code"],
		Title:   body.Title,
		Cover:   body.Cover,
		Magnets: body.Magnets,
	})
	if err != nil {
		writeError(w, h.l, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *MovieHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	m, err := h.movies.Unsubscribe(r.Context(), mux.Vars(r)["code"])
	if err != nil {
		writeError(w, h.l, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// RefreshDetails starts a throttled catalog refresh in the background and
// answers 202. A refresh already in flight yields 409.
func (h *MovieHandler) RefreshDetails(w http.ResponseWriter, r *http.Request) {
	if !h.refreshing.CompareAndSwap(false, true) {
		writeError(w, h.l, &data.ConflictError{Msg: "a detail refresh is already running"})
		return
	}
	go func() {
		defer h.refreshing.Store(false)
		if _, err := h.movies.FillMissingDetails(h.base, h.limit); err != nil {
			h.l.Warn("detail refresh failed", "err", err)
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}
