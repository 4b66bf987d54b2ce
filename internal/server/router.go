package server

import (
	"net/http"
	"path/filepath"

	"github.com/meridianweb/siteops/internal/cache"
	"github.com/meridianweb/siteops/internal/metrics"
	"github.com/meridianweb/siteops/internal/sitemap"
)

// RouterOptions carries everything the route table composes: the cache
// middleware wrapping the API, the metrics handler, and the static directory
// holding the generated sitemap artifacts.
type RouterOptions struct {
	API             http.Handler
	AuthMiddleware  func(http.Handler) http.Handler
	CacheMiddleware *cache.Middleware
	Store           *cache.Store
	Metrics         *metrics.Recorder
	StaticDir       string
}

// NewRouter assembles the daemon's HTTP surface. The cache middleware wraps
// only the API subtree; health, metrics, and the sitemap artifacts are
// always served live.
func NewRouter(opts RouterOptions) http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET /healthz", healthHandler(opts.Store))
	if opts.Metrics != nil {
		mux.Handle("GET /metrics", opts.Metrics.Handler())
	}
	if opts.StaticDir != "" {
		mux.HandleFunc("GET /"+sitemap.SitemapFile, serveArtifact(opts.StaticDir, sitemap.SitemapFile, "application/xml"))
		mux.HandleFunc("GET /"+sitemap.RobotsFile, serveArtifact(opts.StaticDir, sitemap.RobotsFile, "text/plain; charset=utf-8"))
	}

	api := opts.API
	if api != nil {
		if opts.CacheMiddleware != nil {
			api = opts.CacheMiddleware.Wrap(api)
		}
		if opts.AuthMiddleware != nil {
			api = opts.AuthMiddleware(api)
		}
		mux.Handle("/api/", api)
	}

	return mux
}

// healthHandler reports liveness plus the cache store counters for the admin
// dashboard's stats widget.
func healthHandler(store *cache.Store) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload := map[string]any{"status": "ok"}
		if store != nil {
			stats := store.Stats()
			payload["cache"] = map[string]any{
				"entries":   stats.Entries,
				"hits":      stats.Hits,
				"misses":    stats.Misses,
				"evictions": stats.Evictions,
			}
		}
		writeJSON(w, http.StatusOK, payload)
	})
}

func serveArtifact(dir, name, contentType string) http.HandlerFunc {
	path := filepath.Join(dir, name)
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", contentType)
		http.ServeFile(w, r, path)
	}
}
