package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config holds every option consumed by the operational subsystem: the HTTP
// lifecycle, the response cache, the scheduler, and the maintenance jobs it
// drives.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Cache    CacheConfig    `koanf:"cache"`
	Schedule ScheduleConfig `koanf:"schedule"`
	Backup   BackupConfig   `koanf:"backup"`
	Sitemap  SitemapConfig  `koanf:"sitemap"`
	Auth     AuthConfig     `koanf:"auth"`
}

// ServerConfig collects the bootstrap knobs owned by the HTTP lifecycle.
type ServerConfig struct {
	Listen  ListenConfig  `koanf:"listen"`
	Logging LoggingConfig `koanf:"logging"`
}

// ListenConfig instructs the HTTP listener about bind address and port.
type ListenConfig struct {
	Address string `koanf:"address"`
	Port    int    `koanf:"port"`
}

// LoggingConfig expresses log level and output format.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// DatabaseConfig names the content database the sitemap generator and the
// public read endpoints query.
type DatabaseConfig struct {
	Driver string `koanf:"driver"`
	DSN    string `koanf:"dsn"`
}

// CacheConfig governs the in-memory response cache and its bypass policy.
type CacheConfig struct {
	Enabled              bool              `koanf:"enabled"`
	DefaultTTLSeconds    int               `koanf:"defaultTTLSeconds"`
	SweepIntervalSeconds int               `koanf:"sweepIntervalSeconds"`
	BypassAuthenticated  bool              `koanf:"bypassAuthenticated"`
	PrivilegedRoles      []string          `koanf:"privilegedRoles"`
	RulesFile            string            `koanf:"rulesFile"`
	Rules                []CacheRuleConfig `koanf:"rules"`
}

// CacheRuleConfig marks a route subtree cacheable and chooses its TTL class.
// BypassWhen is an optional CEL expression over the request; when it yields
// true the request skips the cache entirely.
type CacheRuleConfig struct {
	PathPrefix string `koanf:"pathPrefix"`
	TTLSeconds int    `koanf:"ttlSeconds"`
	BypassWhen string `koanf:"bypassWhen"`
}

// TTL converts the rule's TTL class into a duration, falling back to the
// store-wide default when unset.
func (r CacheRuleConfig) TTL(fallback time.Duration) time.Duration {
	if r.TTLSeconds > 0 {
		return time.Duration(r.TTLSeconds) * time.Second
	}
	return fallback
}

// ScheduleConfig owns the cron strings for the three maintenance jobs.
type ScheduleConfig struct {
	CacheFlush JobConfig `koanf:"cacheFlush"`
	Backup     JobConfig `koanf:"backup"`
	Sitemap    JobConfig `koanf:"sitemap"`
}

// JobConfig describes a single scheduled job. AllowOverlap opts a job out of
// the default skip-if-running protection.
type JobConfig struct {
	Cron         string `koanf:"cron"`
	Enabled      bool   `koanf:"enabled"`
	AllowOverlap bool   `koanf:"allowOverlap"`
}

// BackupConfig drives the database dump job. ArgsTemplate is rendered with
// {{ .Output }} and {{ .DSN }} so any dump utility can be wired in without
// code changes.
type BackupConfig struct {
	Directory           string   `koanf:"directory"`
	Tool                string   `koanf:"tool"`
	ArgsTemplate        string   `koanf:"argsTemplate"`
	DSN                 string   `koanf:"dsn"`
	Retention           int      `koanf:"retention"`
	TimeoutSeconds      int      `koanf:"timeoutSeconds"`
	BenignStderrMarkers []string `koanf:"benignStderrMarkers"`
}

// SitemapConfig drives sitemap/robots generation.
type SitemapConfig struct {
	BaseURL      string              `koanf:"baseURL"`
	OutputDir    string              `koanf:"outputDir"`
	StaticRoutes []StaticRouteConfig `koanf:"staticRoutes"`
}

// StaticRouteConfig is one fixed public page emitted into the sitemap.
type StaticRouteConfig struct {
	Path       string `koanf:"path"`
	Priority   string `koanf:"priority"`
	ChangeFreq string `koanf:"changeFreq"`
}

// AuthConfig names the trusted reverse-proxy headers carrying the resolved
// principal. Authentication itself happens upstream; these headers are only
// consumed as a signal.
type AuthConfig struct {
	SubjectHeader string `koanf:"subjectHeader"`
	RoleHeader    string `koanf:"roleHeader"`
}

// DefaultConfig returns the documented defaults applied before file and
// environment overrides.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Listen:  ListenConfig{Address: "0.0.0.0", Port: 8080},
			Logging: LoggingConfig{Level: "info", Format: "json"},
		},
		Database: DatabaseConfig{Driver: "postgres"},
		Cache: CacheConfig{
			Enabled:              true,
			DefaultTTLSeconds:    600,
			SweepIntervalSeconds: 60,
			BypassAuthenticated:  true,
			PrivilegedRoles:      []string{"admin"},
			Rules: []CacheRuleConfig{
				{PathPrefix: "/api/services", TTLSeconds: 3600},
				{PathPrefix: "/api/team", TTLSeconds: 3600},
				{PathPrefix: "/api/blogs", TTLSeconds: 600},
				{PathPrefix: "/api/projects", TTLSeconds: 600},
				{PathPrefix: "/api/stats", TTLSeconds: 60},
			},
		},
		Schedule: ScheduleConfig{
			CacheFlush: JobConfig{Cron: "0 */6 * * *", Enabled: true},
			Backup:     JobConfig{Cron: "30 2 * * *", Enabled: true},
			Sitemap:    JobConfig{Cron: "0 3 * * *", Enabled: true},
		},
		Backup: BackupConfig{
			Directory:           "backups",
			Tool:                "pg_dump",
			ArgsTemplate:        "--format=custom --no-owner --file={{ .Output }} {{ .DSN }}",
			Retention:           7,
			TimeoutSeconds:      900,
			BenignStderrMarkers: []string{"done dumping"},
		},
		Sitemap: SitemapConfig{
			BaseURL:   "http://localhost:8080",
			OutputDir: "public",
			StaticRoutes: []StaticRouteConfig{
				{Path: "/", Priority: "1.0", ChangeFreq: "daily"},
				{Path: "/about", Priority: "0.8", ChangeFreq: "monthly"},
				{Path: "/services", Priority: "0.9", ChangeFreq: "weekly"},
				{Path: "/projects", Priority: "0.9", ChangeFreq: "weekly"},
				{Path: "/blog", Priority: "0.8", ChangeFreq: "daily"},
				{Path: "/contact", Priority: "0.6", ChangeFreq: "yearly"},
			},
		},
		Auth: AuthConfig{
			SubjectHeader: "X-Auth-Subject",
			RoleHeader:    "X-Auth-Role",
		},
	}
}

// Validate rejects configurations the subsystem cannot run with. It runs on
// the merged snapshot, after defaults, file, and environment layers.
func (c Config) Validate() error {
	if c.Server.Listen.Port <= 0 || c.Server.Listen.Port > 65535 {
		return fmt.Errorf("config: listen port %d out of range", c.Server.Listen.Port)
	}
	if c.Cache.DefaultTTLSeconds <= 0 {
		return errors.New("config: cache defaultTTLSeconds must be positive")
	}
	if c.Cache.SweepIntervalSeconds <= 0 {
		return errors.New("config: cache sweepIntervalSeconds must be positive")
	}
	for i, rule := range c.Cache.Rules {
		if !strings.HasPrefix(rule.PathPrefix, "/") {
			return fmt.Errorf("config: cache rule %d: pathPrefix %q must start with /", i, rule.PathPrefix)
		}
	}
	if c.Backup.Retention < 1 {
		return errors.New("config: backup retention must be at least 1")
	}
	if c.Backup.Tool == "" {
		return errors.New("config: backup tool must be set")
	}
	if c.Sitemap.BaseURL != "" {
		parsed, err := url.Parse(c.Sitemap.BaseURL)
		if err != nil || !parsed.IsAbs() {
			return fmt.Errorf("config: sitemap baseURL %q is not an absolute URL", c.Sitemap.BaseURL)
		}
	}
	return nil
}

// BackupDSN resolves the connection string the dump utility should use,
// falling back to the content database DSN.
func (c Config) BackupDSN() string {
	if c.Backup.DSN != "" {
		return c.Backup.DSN
	}
	return c.Database.DSN
}
