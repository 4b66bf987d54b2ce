// Command siteopsd runs the operational core of the marketing-site API: the
// cached public read surface, and the scheduled maintenance jobs (cache
// flush, database backup, sitemap regeneration).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/meridianweb/siteops/internal/auth"
	"github.com/meridianweb/siteops/internal/backup"
	"github.com/meridianweb/siteops/internal/cache"
	"github.com/meridianweb/siteops/internal/config"
	"github.com/meridianweb/siteops/internal/content"
	"github.com/meridianweb/siteops/internal/logging"
	"github.com/meridianweb/siteops/internal/metrics"
	"github.com/meridianweb/siteops/internal/schedule"
	"github.com/meridianweb/siteops/internal/server"
	"github.com/meridianweb/siteops/internal/sitemap"
)

func main() {
	var (
		configFile = flag.String("config", "", "path to configuration file")
		envPrefix  = flag.String("env-prefix", "SITEOPS", "environment variable prefix")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loader := config.NewLoader(*envPrefix, *configFile)
	cfg, err := loader.Load(ctx)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Server.Logging)
	if err != nil {
		log.Fatalf("failed to configure logger: %v", err)
	}

	promRegistry := prometheus.NewRegistry()
	recorder := metrics.NewRecorder(promRegistry)

	var repo *content.Repository
	if cfg.Database.DSN != "" {
		db, err := content.Open(cfg.Database)
		if err != nil {
			logger.Error("content database unavailable", slog.Any("error", err))
		} else {
			repo = content.NewRepository(db)
		}
	} else {
		logger.Warn("no database DSN configured, content endpoints and sitemap disabled")
	}

	store := cache.NewStore(time.Duration(cfg.Cache.DefaultTTLSeconds) * time.Second)
	store.StartJanitor(ctx, time.Duration(cfg.Cache.SweepIntervalSeconds)*time.Second, logger, func(_, remaining int) {
		recorder.SetCacheEntries(remaining)
	})

	var cacheMiddleware *cache.Middleware
	var policy *cache.Policy
	if cfg.Cache.Enabled {
		policy, err = cache.NewPolicy(cfg.Cache, logger)
		if err != nil {
			logger.Error("cache policy setup failed", slog.Any("error", err))
			os.Exit(1)
		}
		cacheMiddleware = cache.NewMiddleware(store, policy, logger, recorder)
	}

	var rulesWatcher *config.RulesWatcher
	if policy != nil && cfg.Cache.RulesFile != "" {
		watcher, err := config.WatchCacheRules(ctx, cfg.Cache.RulesFile, func(rules []config.CacheRuleConfig) {
			if err := policy.Reload(rules); err != nil {
				logger.Error("cache rules reload failed", slog.Any("error", err))
				return
			}
			// Retuned TTL classes only apply to fresh entries, so drop the
			// old ones.
			store.FlushAll()
			logger.Info("cache rules reloaded", slog.Int("rules", len(rules)))
		}, func(err error) {
			if err != nil {
				logger.Error("cache rules watcher error", slog.Any("error", err))
			}
		})
		if err != nil {
			logger.Error("cache rules watcher setup failed", slog.Any("error", err))
		} else {
			rulesWatcher = watcher
			defer rulesWatcher.Stop()
		}
	}

	backupManager, err := backup.NewManager(cfg.Backup, cfg.BackupDSN(), backup.NewExecRunner(), logger.With(slog.String("job", "backup")), recorder)
	if err != nil {
		logger.Error("backup manager setup failed", slog.Any("error", err))
		os.Exit(1)
	}
	generator := sitemap.NewGenerator(cfg.Sitemap, repo, logger.With(slog.String("job", "sitemap")))

	scheduler, err := schedule.New(logger, recorder)
	if err != nil {
		logger.Error("scheduler setup failed", slog.Any("error", err))
		os.Exit(1)
	}
	for _, job := range maintenanceJobs(cfg.Schedule, store, recorder, backupManager, generator) {
		if err := scheduler.Register(job.name, job.cfg, job.action); err != nil {
			logger.Error("job registration failed", slog.String("job", job.name), slog.Any("error", err))
			os.Exit(1)
		}
	}
	scheduler.Start(ctx)
	defer func() {
		if err := scheduler.Shutdown(30 * time.Second); err != nil {
			logger.Error("scheduler shutdown failed", slog.Any("error", err))
		}
	}()

	var api *server.API
	if repo != nil {
		api = server.NewAPI(repo, logger)
	}
	routerOpts := server.RouterOptions{
		AuthMiddleware:  auth.HeaderMiddleware(cfg.Auth.SubjectHeader, cfg.Auth.RoleHeader),
		CacheMiddleware: cacheMiddleware,
		Store:           store,
		Metrics:         recorder,
		StaticDir:       cfg.Sitemap.OutputDir,
	}
	if api != nil {
		routerOpts.API = api.Handler()
	}

	srv, err := server.New(cfg, logger, server.NewRouter(routerOpts))
	if err != nil {
		logger.Error("unable to construct server", slog.Any("error", err))
		os.Exit(1)
	}

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server terminated unexpectedly", slog.Any("error", err))
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger.Info("server shutdown complete")
}

type maintenanceJob struct {
	name   string
	cfg    config.JobConfig
	action schedule.Action
}

// maintenanceJobs builds the scheduled job table. The backup and sitemap
// actions translate a failed Result into an error so the scheduler records
// the outcome; neither can panic the process.
func maintenanceJobs(cfg config.ScheduleConfig, store *cache.Store, recorder *metrics.Recorder, backupManager *backup.Manager, generator *sitemap.Generator) []maintenanceJob {
	return []maintenanceJob{
		{"cache_flush", cfg.CacheFlush, func(context.Context) error {
			store.FlushAll()
			recorder.SetCacheEntries(0)
			return nil
		}},
		{"backup", cfg.Backup, func(jobCtx context.Context) error {
			if result := backupManager.Run(jobCtx); !result.Success {
				return errors.New(result.Message)
			}
			return nil
		}},
		{"sitemap", cfg.Sitemap, func(jobCtx context.Context) error {
			if result := generator.Run(jobCtx); !result.Success {
				return errors.New(result.Message)
			}
			return nil
		}},
	}
}
