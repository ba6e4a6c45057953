// Package server is the JSON transport in front of the entry store: the
// hand-off point for the fetcher and the query surface for a presentation
// client, plus a stream of change notifications.
package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/jdholdren/brief/internal/notify"
	"github.com/jdholdren/brief/internal/reconcile"
	"github.com/jdholdren/brief/internal/serverutil"
	"github.com/jdholdren/brief/internal/sqlite"
)

type (
	// Server serves the store over HTTP.
	Server struct {
		*http.Server

		repo       *sqlite.Repo
		reconciler *reconcile.Reconciler
		bus        *notify.Bus
	}

	Config struct {
		Port       int
		CorsOrigin string
	}
)

func NewServer(config Config, repo *sqlite.Repo, reconciler *reconcile.Reconciler, bus *notify.Bus) *Server {
	r := serverutil.ErrRouter{Router: mux.NewRouter()}

	srvr := Server{
		repo:       repo,
		reconciler: reconciler,
		bus:        bus,
		Server: &http.Server{
			Addr:        fmt.Sprintf(":%d", config.Port),
			ReadTimeout: 5 * time.Second,
			// Handlers other than the event stream finish well within this.
			WriteTimeout: 30 * time.Second,
		},
	}

	var handler http.Handler = r
	if config.CorsOrigin != "" {
		handler = handlers.CORS(
			handlers.AllowedOrigins([]string{config.CorsOrigin}),
			handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions}),
			handlers.AllowedHeaders([]string{"content-type"}),
		)(r)
	}
	srvr.Handler = handler

	r.Use(serverutil.AccessLogMiddleware) // Log everything

	// Fetcher hand-off
	r.HandleFuncE("/v1/feeds/{feedID}/update", srvr.postFeedUpdate).Methods(http.MethodPost)
	r.HandleFuncE("/v1/feeds/{feedID}/loading", srvr.postFeedLoading).Methods(http.MethodPost)
	r.HandleFuncE("/v1/feeds/{feedID}/error", srvr.postFeedError).Methods(http.MethodPost)

	// Feed list
	r.HandleFuncE("/v1/feeds", srvr.getFeeds).Methods(http.MethodGet)
	r.HandleFuncE("/v1/feeds/{feedID}", srvr.getFeed).Methods(http.MethodGet)
	r.HandleFuncE("/v1/feeds/{feedID}/options", srvr.putFeedOptions).Methods(http.MethodPut)
	r.HandleFuncE("/v1/home-folder", srvr.putHomeFolder).Methods(http.MethodPut)
	r.HandleFuncE("/v1/sync", srvr.postSync).Methods(http.MethodPost)

	// Entries
	r.HandleFuncE("/v1/entries/query", srvr.postEntriesQuery).Methods(http.MethodPost)
	r.HandleFuncE("/v1/entries/list", srvr.postEntriesList).Methods(http.MethodPost)
	r.HandleFuncE("/v1/entries/count", srvr.postEntriesCount).Methods(http.MethodPost)
	r.HandleFuncE("/v1/entries/mark-read", srvr.postMarkRead).Methods(http.MethodPost)
	r.HandleFuncE("/v1/entries/delete", srvr.postDelete).Methods(http.MethodPost)
	r.HandleFuncE("/v1/entries/star", srvr.postStar).Methods(http.MethodPost)

	// Maintenance
	r.HandleFuncE("/v1/purge", srvr.postPurge).Methods(http.MethodPost)
	r.HandleFuncE("/v1/compact", srvr.postCompact).Methods(http.MethodPost)

	r.HandleFuncE("/v1/events", srvr.getEvents).Methods(http.MethodGet)

	slog.Debug("configured server", "port", config.Port)

	return &srvr
}
