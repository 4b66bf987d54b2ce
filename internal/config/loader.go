package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Loader hydrates the runtime configuration while respecting env > file >
// default precedence.
type Loader struct {
	envPrefix string
	files     []string
}

// NewLoader prepares a config hydrator that honors the env-first contract
// before touching files or defaults.
func NewLoader(envPrefix string, files ...string) *Loader {
	return &Loader{
		envPrefix: envPrefix,
		files:     files,
	}
}

// Load assembles the effective snapshot so the composition root can make
// decisions using the documented precedence rules. When the cache rules file
// is configured its contents replace the inline rule list.
func (l *Loader) Load(ctx context.Context) (Config, error) {
	defaultCfg := DefaultConfig()
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(structToMap(defaultCfg), "."), nil); err != nil {
		return Config{}, fmt.Errorf("config: load defaults: %w", err)
	}

	for _, path := range l.files {
		if path == "" {
			continue
		}
		select {
		case <-ctx.Done():
			return Config{}, ctx.Err()
		default:
		}
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("config: file %s not found", path)
			}
			return Config{}, fmt.Errorf("config: stat %s: %w", path, err)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("config: load file %s: %w", path, err)
		}
	}

	if l.envPrefix != "" {
		canonical := map[string]string{
			"cache.defaultttlseconds":    "cache.defaultTTLSeconds",
			"cache.sweepintervalseconds": "cache.sweepIntervalSeconds",
			"cache.bypassauthenticated":  "cache.bypassAuthenticated",
			"cache.privilegedroles":      "cache.privilegedRoles",
			"cache.rulesfile":            "cache.rulesFile",
			"schedule.cacheflush.cron":   "schedule.cacheFlush.cron",
			"backup.argstemplate":        "backup.argsTemplate",
			"backup.timeoutseconds":      "backup.timeoutSeconds",
			"backup.benignstderrmarkers": "backup.benignStderrMarkers",
			"sitemap.baseurl":            "sitemap.baseURL",
			"sitemap.outputdir":          "sitemap.outputDir",
			"auth.subjectheader":         "auth.subjectHeader",
			"auth.roleheader":            "auth.roleHeader",
		}
		transform := func(s string) string {
			// Double underscores signal a nested path (CACHE__RULES_FILE ->
			// cache.rulesfile); single underscores are removed afterwards.
			key := strings.TrimPrefix(s, l.envPrefix+"_")
			key = strings.ReplaceAll(key, "__", ".")
			key = strings.ReplaceAll(key, "_", "")
			lower := strings.ToLower(key)
			if mapped, ok := canonical[lower]; ok {
				return mapped
			}
			return lower
		}
		if err := k.Load(env.Provider(l.envPrefix, ".", transform), nil); err != nil {
			return Config{}, fmt.Errorf("config: load env: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}

	if cfg.Cache.RulesFile != "" {
		rules, err := LoadCacheRules(cfg.Cache.RulesFile)
		if err != nil {
			return Config{}, err
		}
		cfg.Cache.Rules = rules
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadCacheRules reads the standalone cache rules document. Keeping the rules
// in their own file lets operators retune TTL classes without restarting; the
// watcher reloads this file on change.
func LoadCacheRules(path string) ([]CacheRuleConfig, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("config: load cache rules %s: %w", path, err)
	}
	var doc struct {
		Rules []CacheRuleConfig `koanf:"rules"`
	}
	if err := k.Unmarshal("", &doc); err != nil {
		return nil, fmt.Errorf("config: unmarshal cache rules %s: %w", path, err)
	}
	for i, rule := range doc.Rules {
		if !strings.HasPrefix(rule.PathPrefix, "/") {
			return nil, fmt.Errorf("config: cache rules %s: rule %d pathPrefix %q must start with /", path, i, rule.PathPrefix)
		}
	}
	return doc.Rules, nil
}

// structToMap converts DefaultConfig into a map for the koanf confmap provider.
func structToMap(cfg Config) map[string]any {
	rules := make([]map[string]any, 0, len(cfg.Cache.Rules))
	for _, rule := range cfg.Cache.Rules {
		rules = append(rules, map[string]any{
			"pathPrefix": rule.PathPrefix,
			"ttlSeconds": rule.TTLSeconds,
			"bypassWhen": rule.BypassWhen,
		})
	}
	routes := make([]map[string]any, 0, len(cfg.Sitemap.StaticRoutes))
	for _, route := range cfg.Sitemap.StaticRoutes {
		routes = append(routes, map[string]any{
			"path":       route.Path,
			"priority":   route.Priority,
			"changeFreq": route.ChangeFreq,
		})
	}
	job := func(j JobConfig) map[string]any {
		return map[string]any{
			"cron":         j.Cron,
			"enabled":      j.Enabled,
			"allowOverlap": j.AllowOverlap,
		}
	}
	return map[string]any{
		"server": map[string]any{
			"listen": map[string]any{
				"address": cfg.Server.Listen.Address,
				"port":    cfg.Server.Listen.Port,
			},
			"logging": map[string]any{
				"level":  cfg.Server.Logging.Level,
				"format": cfg.Server.Logging.Format,
			},
		},
		"database": map[string]any{
			"driver": cfg.Database.Driver,
			"dsn":    cfg.Database.DSN,
		},
		"cache": map[string]any{
			"enabled":              cfg.Cache.Enabled,
			"defaultTTLSeconds":    cfg.Cache.DefaultTTLSeconds,
			"sweepIntervalSeconds": cfg.Cache.SweepIntervalSeconds,
			"bypassAuthenticated":  cfg.Cache.BypassAuthenticated,
			"privilegedRoles":      cfg.Cache.PrivilegedRoles,
			"rulesFile":            cfg.Cache.RulesFile,
			"rules":                rules,
		},
		"schedule": map[string]any{
			"cacheFlush": job(cfg.Schedule.CacheFlush),
			"backup":     job(cfg.Schedule.Backup),
			"sitemap":    job(cfg.Schedule.Sitemap),
		},
		"backup": map[string]any{
			"directory":           cfg.Backup.Directory,
			"tool":                cfg.Backup.Tool,
			"argsTemplate":        cfg.Backup.ArgsTemplate,
			"dsn":                 cfg.Backup.DSN,
			"retention":           cfg.Backup.Retention,
			"timeoutSeconds":      cfg.Backup.TimeoutSeconds,
			"benignStderrMarkers": cfg.Backup.BenignStderrMarkers,
		},
		"sitemap": map[string]any{
			"baseURL":      cfg.Sitemap.BaseURL,
			"outputDir":    cfg.Sitemap.OutputDir,
			"staticRoutes": routes,
		},
		"auth": map[string]any{
			"subjectHeader": cfg.Auth.SubjectHeader,
			"roleHeader":    cfg.Auth.RoleHeader,
		},
	}
}
