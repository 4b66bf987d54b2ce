package server

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gavv/httpexpect/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/meridianweb/siteops/internal/auth"
	"github.com/meridianweb/siteops/internal/cache"
	"github.com/meridianweb/siteops/internal/config"
	"github.com/meridianweb/siteops/internal/content"
	"github.com/meridianweb/siteops/internal/metrics"
)

type routerFixture struct {
	db      *gorm.DB
	store   *cache.Store
	handler http.Handler
}

func newRouterFixture(t *testing.T, staticDir string) *routerFixture {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)

	db, err := content.Open(config.DatabaseConfig{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "content.db")})
	require.NoError(t, err)
	require.NoError(t, content.AutoMigrate(db))
	repo := content.NewRepository(db)

	cfg := config.DefaultConfig()
	store := cache.NewStore(time.Duration(cfg.Cache.DefaultTTLSeconds) * time.Second)
	policy, err := cache.NewPolicy(cfg.Cache, logger)
	require.NoError(t, err)
	recorder := metrics.NewRecorder(prometheus.NewRegistry())

	handler := NewRouter(RouterOptions{
		API:             NewAPI(repo, logger).Handler(),
		AuthMiddleware:  auth.HeaderMiddleware(cfg.Auth.SubjectHeader, cfg.Auth.RoleHeader),
		CacheMiddleware: cache.NewMiddleware(store, policy, logger, recorder),
		Store:           store,
		Metrics:         recorder,
		StaticDir:       staticDir,
	})
	return &routerFixture{db: db, store: store, handler: handler}
}

func (f *routerFixture) expect(t *testing.T) *httpexpect.Expect {
	srv := httptest.NewServer(f.handler)
	t.Cleanup(srv.Close)
	return httpexpect.Default(t, srv.URL)
}

func (f *routerFixture) seedBlog(t *testing.T, slug string, published bool) {
	t.Helper()
	post := content.BlogPost{Title: slug, Slug: slug, Published: published}
	require.NoError(t, f.db.Create(&post).Error)
}

func TestHealthzReportsCacheStats(t *testing.T) {
	f := newRouterFixture(t, "")
	e := f.expect(t)

	body := e.GET("/healthz").
		Expect().
		Status(http.StatusOK).
		JSON().Object()
	body.HasValue("status", "ok")
	body.Value("cache").Object().Value("entries").Number().IsEqual(0)
}

func TestMetricsEndpointServesRegistry(t *testing.T) {
	f := newRouterFixture(t, "")
	e := f.expect(t)

	e.GET("/metrics").
		Expect().
		Status(http.StatusOK).
		Body().Contains("go_goroutines")
}

func TestSitemapArtifactsServedFromStaticDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sitemap.xml"), []byte("<urlset/>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "robots.txt"), []byte("User-agent: *\n"), 0o644))

	f := newRouterFixture(t, dir)
	e := f.expect(t)

	e.GET("/sitemap.xml").
		Expect().
		Status(http.StatusOK).
		HasContentType("application/xml").
		Body().Contains("<urlset/>")
	e.GET("/robots.txt").
		Expect().
		Status(http.StatusOK).
		Body().Contains("User-agent")
}

func TestBlogListAndDetail(t *testing.T) {
	f := newRouterFixture(t, "")
	f.seedBlog(t, "steel-framing", true)
	f.seedBlog(t, "hidden-draft", false)
	e := f.expect(t)

	list := e.GET("/api/blogs").
		Expect().
		Status(http.StatusOK).
		JSON().Array()
	list.Length().IsEqual(1)
	list.Value(0).Object().HasValue("slug", "steel-framing")

	e.GET("/api/blogs/steel-framing").
		Expect().
		Status(http.StatusOK).
		JSON().Object().HasValue("title", "steel-framing")

	e.GET("/api/blogs/hidden-draft").
		Expect().
		Status(http.StatusNotFound).
		JSON().Object().HasValue("error", "not found")
}

func TestStatsCountsPublishedDocuments(t *testing.T) {
	f := newRouterFixture(t, "")
	f.seedBlog(t, "one", true)
	f.seedBlog(t, "two", true)
	e := f.expect(t)

	stats := e.GET("/api/stats").
		Expect().
		Status(http.StatusOK).
		JSON().Object()
	stats.HasValue("blogs", 2)
	stats.HasValue("projects", 0)
	stats.HasValue("team", 0)
}

func TestRepeatedAnonymousRequestIsServedFromCache(t *testing.T) {
	f := newRouterFixture(t, "")
	f.seedBlog(t, "cached-post", true)
	e := f.expect(t)

	first := e.GET("/api/blogs").
		Expect().
		Status(http.StatusOK)
	first.Header("X-Cache").IsEqual("MISS")
	firstBody := first.Body().Raw()

	// Mutate underneath the cache; the second response must still be the
	// stored copy, byte for byte.
	f.seedBlog(t, "published-after-fill", true)

	second := e.GET("/api/blogs").
		Expect().
		Status(http.StatusOK)
	second.Header("X-Cache").IsEqual("HIT")
	second.Body().IsEqual(firstBody)

	require.Equal(t, 1, f.store.Len())
}

func TestAuthenticatedRequestBypassesCache(t *testing.T) {
	f := newRouterFixture(t, "")
	f.seedBlog(t, "admin-view", true)
	e := f.expect(t)

	e.GET("/api/blogs").
		WithHeader("X-Auth-Subject", "u-102").
		WithHeader("X-Auth-Role", "admin").
		Expect().
		Status(http.StatusOK).
		Header("X-Cache").IsEqual("BYPASS")

	require.Equal(t, 0, f.store.Len())

	// The bypassed request must not have poisoned the anonymous path.
	e.GET("/api/blogs").
		Expect().
		Status(http.StatusOK).
		Header("X-Cache").IsEqual("MISS")
}

func TestQueryStringsKeySeparateEntries(t *testing.T) {
	f := newRouterFixture(t, "")
	f.seedBlog(t, "entry", true)
	e := f.expect(t)

	e.GET("/api/blogs").WithQuery("page", "1").
		Expect().
		Status(http.StatusOK).
		Header("X-Cache").IsEqual("MISS")
	e.GET("/api/blogs").WithQuery("page", "2").
		Expect().
		Status(http.StatusOK).
		Header("X-Cache").IsEqual("MISS")

	require.Equal(t, 2, f.store.Len())
}

func TestNotFoundResponsesAreNeverCached(t *testing.T) {
	f := newRouterFixture(t, "")
	e := f.expect(t)

	for range 2 {
		e.GET("/api/blogs/missing").
			Expect().
			Status(http.StatusNotFound).
			Header("X-Cache").IsEqual("MISS")
	}
	require.Equal(t, 0, f.store.Len())
}
