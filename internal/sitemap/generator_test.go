package sitemap

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/meridianweb/siteops/internal/config"
	"github.com/meridianweb/siteops/internal/content"
)

func testSitemapConfig(dir string) config.SitemapConfig {
	return config.SitemapConfig{
		BaseURL:   "https://meridianweb.example/",
		OutputDir: dir,
		StaticRoutes: []config.StaticRouteConfig{
			{Path: "/", Priority: "1.0", ChangeFreq: "daily"},
			{Path: "/about", Priority: "0.8", ChangeFreq: "monthly"},
		},
	}
}

func testRepository(t *testing.T) (*content.Repository, *gorm.DB) {
	t.Helper()
	db, err := content.Open(config.DatabaseConfig{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "content.db")})
	require.NoError(t, err)
	require.NoError(t, content.AutoMigrate(db))
	return content.NewRepository(db), db
}

func seedPost(t *testing.T, db *gorm.DB, slug string, published bool, updatedAt time.Time) {
	t.Helper()
	post := content.BlogPost{Title: slug, Slug: slug, Published: published}
	require.NoError(t, db.Create(&post).Error)
	require.NoError(t, db.Model(&post).UpdateColumn("updated_at", updatedAt).Error)
}

func TestRunWritesSitemapAndRobots(t *testing.T) {
	dir := t.TempDir()
	repo, db := testRepository(t)
	seedPost(t, db, "foundations-guide", true, time.Date(2026, 2, 14, 8, 0, 0, 0, time.UTC))
	seedPost(t, db, "unpublished-draft", false, time.Date(2026, 2, 15, 8, 0, 0, 0, time.UTC))

	g := NewGenerator(testSitemapConfig(dir), repo, slog.New(slog.DiscardHandler))
	result := g.Run(context.Background())
	require.True(t, result.Success, result.Message)
	require.Equal(t, 3, result.URLCount) // 2 static routes + 1 published post

	raw, err := os.ReadFile(filepath.Join(dir, SitemapFile))
	require.NoError(t, err)
	doc := string(raw)
	require.Contains(t, doc, `<?xml version="1.0" encoding="UTF-8"?>`)
	require.Contains(t, doc, `xmlns="http://www.sitemaps.org/schemas/sitemap/0.9"`)
	require.Contains(t, doc, "<loc>https://meridianweb.example/</loc>")
	require.Contains(t, doc, "<loc>https://meridianweb.example/about</loc>")
	require.Contains(t, doc, "<loc>https://meridianweb.example/blog/foundations-guide</loc>")
	require.Contains(t, doc, "<lastmod>2026-02-14</lastmod>")
	require.NotContains(t, doc, "unpublished-draft")

	robots, err := os.ReadFile(filepath.Join(dir, RobotsFile))
	require.NoError(t, err)
	require.Contains(t, string(robots), "Sitemap: https://meridianweb.example/sitemap.xml")
}

func TestRunIsDeterministic(t *testing.T) {
	dir := t.TempDir()
	repo, db := testRepository(t)
	seedPost(t, db, "beta", true, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	seedPost(t, db, "alpha", true, time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC))

	g := NewGenerator(testSitemapConfig(dir), repo, slog.New(slog.DiscardHandler))
	require.True(t, g.Run(context.Background()).Success)
	first, err := os.ReadFile(filepath.Join(dir, SitemapFile))
	require.NoError(t, err)

	require.True(t, g.Run(context.Background()).Success)
	second, err := os.ReadFile(filepath.Join(dir, SitemapFile))
	require.NoError(t, err)
	require.Equal(t, first, second)

	// Slugs come out sorted regardless of insert order.
	alphaAt := bytes.Index(first, []byte("/blog/alpha"))
	betaAt := bytes.Index(first, []byte("/blog/beta"))
	require.GreaterOrEqual(t, alphaAt, 0)
	require.Less(t, alphaAt, betaAt)
}

func TestRunFailsWithoutRepository(t *testing.T) {
	g := NewGenerator(testSitemapConfig(t.TempDir()), nil, slog.New(slog.DiscardHandler))
	result := g.Run(context.Background())
	require.False(t, result.Success)
	require.Contains(t, result.Message, "content database unavailable")
}

func TestRunSkipsBrokenCollection(t *testing.T) {
	dir := t.TempDir()
	repo, db := testRepository(t)
	seedPost(t, db, "still-here", true, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, db.Migrator().DropTable(&content.Project{}))

	g := NewGenerator(testSitemapConfig(dir), repo, slog.New(slog.DiscardHandler))
	result := g.Run(context.Background())
	require.True(t, result.Success, result.Message)
	require.Equal(t, 3, result.URLCount)
}

func TestEnsureRobotsNeverOverwrites(t *testing.T) {
	dir := t.TempDir()
	custom := []byte("User-agent: *\nDisallow: /private\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, RobotsFile), custom, 0o644))

	created, err := EnsureRobots(dir, "https://meridianweb.example")
	require.NoError(t, err)
	require.False(t, created)

	got, err := os.ReadFile(filepath.Join(dir, RobotsFile))
	require.NoError(t, err)
	require.Equal(t, custom, got)
}

func TestRunReplacesExistingSitemap(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, SitemapFile), []byte("stale"), 0o644))

	repo, _ := testRepository(t)
	g := NewGenerator(testSitemapConfig(dir), repo, slog.New(slog.DiscardHandler))
	require.True(t, g.Run(context.Background()).Success)

	got, err := os.ReadFile(filepath.Join(dir, SitemapFile))
	require.NoError(t, err)
	require.NotContains(t, string(got), "stale")

	// No temp files left behind.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, entry := range entries {
		require.NotContains(t, entry.Name(), ".sitemap-")
	}
}
