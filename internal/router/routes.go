package router

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	v1 "github.com/tinoosan/magnetron/api/v1"
	"github.com/tinoosan/magnetron/internal/auth"
	"github.com/tinoosan/magnetron/internal/downloadcfg"
	"github.com/tinoosan/magnetron/internal/downloader"
	"github.com/tinoosan/magnetron/internal/images"
	"github.com/tinoosan/magnetron/internal/progress"
	"github.com/tinoosan/magnetron/internal/service"
	"github.com/tinoosan/magnetron/internal/settings"
)

// Pinger reports whether the store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Downloaders resolves the active backend and named backends.
type Downloaders interface {
	downloader.Provider
	v1.ClientResolver
}

// Deps are the collaborators the routes are built from.
type Deps struct {
	Documents  service.Documents
	Movies     service.Movies
	Settings   settings.Store
	Downloads  Downloaders
	Dispatcher v1.Dispatcher
	Registry   *progress.Registry
	Images     *images.Store
	Store      Pinger

	AddDefaults    downloadcfg.AddOptions
	AllowedOrigins []string
	RefreshLimit   int
	// Base is the context background work started by handlers runs under.
	Base context.Context
}

// New sets up the application routes and required middleware.
func New(logger *slog.Logger, d Deps) *mux.Router {
	if d.Base == nil {
		d.Base = context.Background()
	}

	r := mux.NewRouter()
	r.Use(v1.RequestID)
	r.Use(v1.AccessLog(logger))
	r.Use(auth.Middleware)

	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ok")); err != nil {
			logger.Error("write healthz response", "err", err)
		}
	}).Methods("GET")
	r.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := d.Store.Ping(ctx); err != nil {
			logger.Warn("readiness check failed", "err", err)
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	}).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	downloads := v1.NewDownloadHandler(logger, d.Documents, d.Settings, d.Dispatcher, d.Images)
	torrents := v1.NewTorrentHandler(logger, d.Downloads, d.AddDefaults)
	events := v1.NewEventsHandler(d.Registry, d.AllowedOrigins)
	movies := v1.NewMovieHandler(d.Base, logger, d.Movies, d.RefreshLimit)
	cfg := v1.NewSettingsHandler(logger, d.Settings, d.Downloads)

	// GETs
	get := r.Methods("GET").Subrouter()
	get.HandleFunc("/download", downloads.GetDocuments)
	get.HandleFunc("/download/{id:[0-9]+}", downloads.GetDocument)
	get.HandleFunc("/download/torrents", torrents.GetTorrents)
	get.HandleFunc("/download/stats", torrents.GetStats)
	get.HandleFunc("/download/events/{taskId}", events.Stream)
	get.HandleFunc("/download/events/{taskId}/ws", events.Socket)
	get.HandleFunc("/movies/{code}", movies.GetMovie)
	get.HandleFunc("/settings/downloaders", cfg.GetDownloaders)
	get.HandleFunc("/settings/rules", cfg.GetRules)

	// POSTs
	post := r.Methods("POST").Subrouter()
	post.HandleFunc("/download", downloads.CreateDocument)
	post.HandleFunc("/download/torrents", torrents.AddTorrent)
	post.HandleFunc("/movies/details/refresh", movies.RefreshDetails)
	post.HandleFunc("/movies/{code}/subscribe", movies.Subscribe)
	post.HandleFunc("/settings/downloaders/{name}/test", cfg.TestDownloader)

	// PUTs
	put := r.Methods("PUT").Subrouter()
	put.HandleFunc("/download/{id:[0-9]+}", downloads.UpdateDocument)
	put.HandleFunc("/settings/downloaders/{name}", cfg.PutDownloader)
	put.HandleFunc("/settings/rules", cfg.PutRules)

	// DELETEs
	del := r.Methods("DELETE").Subrouter()
	del.HandleFunc("/download/{id:[0-9]+}", downloads.DeleteDocument)
	del.HandleFunc("/movies/{code}/subscribe", movies.Unsubscribe)

	if d.Images != nil {
		r.PathPrefix("/uploads/").Handler(d.Images.Handler()).Methods("GET")
	}
	return r
}
