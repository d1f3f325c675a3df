package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"lunastream/handlers"
	"lunastream/internal/metrics"
)

// Deps carries the wired handlers and the auth surfaces the middleware
// needs. Everything is constructed in main and passed down.
type Deps struct {
	Auth      *handlers.AuthHandler
	Library   *handlers.LibraryHandler
	Stream    *handlers.StreamHandler
	Subtitles *handlers.SubtitlesHandler
	Watch     *handlers.WatchHandler
	Network   *handlers.NetworkHandler
	Admin     *handlers.AdminHandler

	Verifier TokenVerifier
	Users    UserLookup
}

// NewRouter builds the full route table. Layout:
//
//	/health, /metrics        unauthenticated
//	/api/auth/...            unauthenticated (register, login)
//	/api/...                 token required
//	/api/admin/...           token + admin flag required
func NewRouter(d Deps) *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods("GET")
	router.Handle("/metrics", metrics.Handler()).Methods("GET")

	apiRouter := router.PathPrefix("/api").Subrouter()
	apiRouter.Use(corsMiddleware, metrics.Middleware)

	// CORS preflight for every API route; corsMiddleware writes the headers.
	apiRouter.PathPrefix("/").Methods("OPTIONS").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	apiRouter.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods("GET")

	// Authentication endpoints stay open; everything else needs a token.
	apiRouter.HandleFunc("/auth/register", d.Auth.Register).Methods("POST")
	apiRouter.HandleFunc("/auth/login", d.Auth.Login).Methods("POST")

	protected := apiRouter.NewRoute().Subrouter()
	protected.Use(authMiddleware(d.Verifier))

	protected.HandleFunc("/auth/verify", d.Auth.Verify).Methods("GET")

	// Library browsing and scanning
	protected.HandleFunc("/library/movies", d.Library.Movies).Methods("GET")
	protected.HandleFunc("/library/tvshows", d.Library.TvShows).Methods("GET")
	protected.HandleFunc("/library/tvshow/{id:[0-9]+}", d.Library.TvShowDetail).Methods("GET")
	protected.HandleFunc("/library/episode/{id:[0-9]+}/next", d.Library.NextEpisode).Methods("GET")
	protected.HandleFunc("/library/episode/{id:[0-9]+}/previous", d.Library.PreviousEpisode).Methods("GET")
	protected.HandleFunc("/library/search", d.Library.Search).Methods("GET")
	protected.HandleFunc("/library/item/{id:[0-9]+}", d.Library.Item).Methods("GET")
	protected.HandleFunc("/library/scan", d.Library.Scan).Methods("POST")
	protected.HandleFunc("/library/scan/progress", d.Library.ScanProgress).Methods("GET")

	// Streaming
	protected.HandleFunc("/stream/{id:[0-9]+}/direct", d.Stream.Direct).Methods("GET", "HEAD")
	protected.HandleFunc("/stream/{id:[0-9]+}/info", d.Stream.Info).Methods("GET")
	protected.HandleFunc("/stream/{id:[0-9]+}/qualities", d.Stream.Qualities).Methods("GET")
	protected.HandleFunc("/stream/{id:[0-9]+}/transcode", d.Stream.Transcode).Methods("GET")
	protected.HandleFunc("/stream/{id:[0-9]+}/pretranscode", d.Stream.Pretranscode).Methods("POST")
	protected.HandleFunc("/stream/{id:[0-9]+}/hls/manifest.m3u8", d.Stream.HLSManifest).Methods("GET")
	protected.HandleFunc("/stream/{id:[0-9]+}/hls/{variant}/{segment}", d.Stream.HLSSegment).Methods("GET")
	protected.HandleFunc("/stream/{id:[0-9]+}/hls/{segment}", d.Stream.HLSSegment).Methods("GET")

	// Subtitles
	protected.HandleFunc("/subtitles/media/{id:[0-9]+}", d.Subtitles.ListForMedia).Methods("GET")
	protected.HandleFunc("/subtitles/{id:[0-9]+}", d.Subtitles.Serve).Methods("GET")

	// Watch tracking
	protected.HandleFunc("/watch/progress", d.Watch.UpdateProgress).Methods("POST")
	protected.HandleFunc("/watch/progress/{id:[0-9]+}", d.Watch.GetProgress).Methods("GET")
	protected.HandleFunc("/watch/mark-watched/{id:[0-9]+}", d.Watch.MarkWatched).Methods("POST")
	protected.HandleFunc("/watch/mark-unwatched/{id:[0-9]+}", d.Watch.MarkUnwatched).Methods("DELETE")
	protected.HandleFunc("/watch/reset/{id:[0-9]+}", d.Watch.Reset).Methods("POST")
	protected.HandleFunc("/watch/continue-watching", d.Watch.ContinueWatching).Methods("GET")
	protected.HandleFunc("/watch/recently-watched", d.Watch.RecentlyWatched).Methods("GET")
	protected.HandleFunc("/watch/history", d.Watch.History).Methods("GET")
	protected.HandleFunc("/watch/stats", d.Watch.Stats).Methods("GET")

	// Remote sources
	protected.HandleFunc("/network/sources", d.Network.List).Methods("GET")
	protected.HandleFunc("/network/sources", d.Network.Create).Methods("POST")
	protected.HandleFunc("/network/sources/{id:[0-9]+}", d.Network.Update).Methods("PUT")
	protected.HandleFunc("/network/sources/{id:[0-9]+}", d.Network.Delete).Methods("DELETE")
	protected.HandleFunc("/network/sources/{id:[0-9]+}/test", d.Network.Test).Methods("POST")
	protected.HandleFunc("/network/sources/{id:[0-9]+}/browse", d.Network.Browse).Methods("GET")
	protected.HandleFunc("/network/discover", d.Network.Discover).Methods("POST")

	// Administration
	admin := protected.PathPrefix("/admin").Subrouter()
	admin.Use(adminMiddleware(d.Users))
	admin.HandleFunc("/users", d.Admin.ListUsers).Methods("GET")
	admin.HandleFunc("/users/{id:[0-9]+}", d.Admin.DeleteUser).Methods("DELETE")
	admin.HandleFunc("/media", d.Admin.ListMedia).Methods("GET")
	admin.HandleFunc("/media/{id:[0-9]+}", d.Admin.DeleteMedia).Methods("DELETE")
	admin.HandleFunc("/stats", d.Admin.LibraryStats).Methods("GET")
	admin.HandleFunc("/dashboard", d.Admin.Dashboard).Methods("GET")
	admin.HandleFunc("/cache", d.Admin.CacheStats).Methods("GET")
	admin.HandleFunc("/cache", d.Admin.ClearCache).Methods("DELETE")

	return router
}
