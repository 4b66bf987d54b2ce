// Package sitemap regenerates the public sitemap.xml and the companion
// robots.txt from the static route table plus the live content collections.
package sitemap

import (
	"context"
	"encoding/xml"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/meridianweb/siteops/internal/config"
	"github.com/meridianweb/siteops/internal/content"
)

// SitemapFile is the artifact name under the public static directory.
const SitemapFile = "sitemap.xml"

const xmlns = "http://www.sitemaps.org/schemas/sitemap/0.9"

// Result is the structured outcome of one generation pass.
type Result struct {
	Success  bool
	Message  string
	URLCount int
}

type urlEntry struct {
	Loc        string `xml:"loc"`
	LastMod    string `xml:"lastmod,omitempty"`
	ChangeFreq string `xml:"changefreq,omitempty"`
	Priority   string `xml:"priority,omitempty"`
}

type urlSet struct {
	XMLName xml.Name   `xml:"urlset"`
	XMLNS   string     `xml:"xmlns,attr"`
	URLs    []urlEntry `xml:"url"`
}

// Generator aggregates every public URL into a single consistent document.
// The output is rebuilt from scratch on each run; unchanged data yields
// byte-identical XML because routes and collections are emitted in a fixed
// order with slugs sorted.
type Generator struct {
	cfg    config.SitemapConfig
	repo   *content.Repository
	logger *slog.Logger
}

// NewGenerator wires the generator to its content source. repo may be nil
// when the database never came up; Run then reports failure instead of
// panicking.
func NewGenerator(cfg config.SitemapConfig, repo *content.Repository, logger *slog.Logger) *Generator {
	return &Generator{cfg: cfg, repo: repo, logger: logger}
}

// Run regenerates sitemap.xml, atomically replacing the previous file, and
// lays down a default robots.txt when none exists. A single collection's
// query failure degrades to a warning; only a missing database or an
// unwritable output directory fails the whole pass.
func (g *Generator) Run(ctx context.Context) Result {
	if g.repo == nil {
		return Result{Message: "sitemap: content database unavailable"}
	}

	base := strings.TrimRight(g.cfg.BaseURL, "/")
	entries := make([]urlEntry, 0, len(g.cfg.StaticRoutes))
	for _, route := range g.cfg.StaticRoutes {
		entries = append(entries, urlEntry{
			Loc:        base + route.Path,
			ChangeFreq: route.ChangeFreq,
			Priority:   route.Priority,
		})
	}

	for _, collection := range content.Collections() {
		select {
		case <-ctx.Done():
			return Result{Message: fmt.Sprintf("sitemap: canceled: %v", ctx.Err())}
		default:
		}
		slugs, err := g.repo.PublishedSlugs(ctx, collection)
		if err != nil {
			// One absent or broken collection must not block the others.
			g.logger.Warn("collection skipped", slog.String("collection", collection.Name), slog.Any("error", err))
			continue
		}
		for _, entry := range slugs {
			entries = append(entries, urlEntry{
				Loc:        base + collection.BasePath + "/" + entry.Slug,
				LastMod:    entry.UpdatedAt.UTC().Format(time.DateOnly),
				ChangeFreq: "weekly",
				Priority:   "0.7",
			})
		}
	}

	document, err := xml.MarshalIndent(urlSet{XMLNS: xmlns, URLs: entries}, "", "  ")
	if err != nil {
		return Result{Message: fmt.Sprintf("sitemap: encode: %v", err)}
	}
	payload := append([]byte(xml.Header), document...)
	payload = append(payload, '\n')

	if err := os.MkdirAll(g.cfg.OutputDir, 0o755); err != nil {
		return Result{Message: fmt.Sprintf("sitemap: create output dir: %v", err)}
	}
	if err := writeAtomic(filepath.Join(g.cfg.OutputDir, SitemapFile), payload); err != nil {
		return Result{Message: fmt.Sprintf("sitemap: write: %v", err)}
	}

	created, err := EnsureRobots(g.cfg.OutputDir, g.cfg.BaseURL)
	if err != nil {
		g.logger.Warn("robots generation failed", slog.Any("error", err))
	} else if created {
		g.logger.Info("robots.txt created", slog.String("dir", g.cfg.OutputDir))
	}

	g.logger.Info("sitemap generated", slog.Int("urls", len(entries)))
	return Result{Success: true, URLCount: len(entries), Message: fmt.Sprintf("sitemap: %d urls", len(entries))}
}

// writeAtomic publishes the document via temp-file-then-rename so a
// concurrent reader sees the old document or the new one, never a partial
// write.
func writeAtomic(path string, payload []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".sitemap-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}()
	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}
