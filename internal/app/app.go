// Package app provides the main application bootstrap and runtime orchestration.
//
// The App type wires together all dependencies and exposes methods to run
// different operational modes:
//
//   - Worker mode: scheduler loop driving fetch, enrichment, digest and backup tasks
//   - API mode: read/control HTTP API and health endpoints only
//   - Fetch mode: one fetch-and-enrich cycle, then exit
//   - Digest mode: build and deliver today's digest, then exit
//
// Worker and API modes can run side by side; the scheduler claims tasks
// through conditional updates, so extra replicas never double-run a task.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/lueurxax/news-aggregator/internal/api"
	"github.com/lueurxax/news-aggregator/internal/categories"
	"github.com/lueurxax/news-aggregator/internal/core/domain"
	"github.com/lueurxax/news-aggregator/internal/core/llm"
	"github.com/lueurxax/news-aggregator/internal/extract"
	"github.com/lueurxax/news-aggregator/internal/ingest/sources"
	"github.com/lueurxax/news-aggregator/internal/ingest/telegramapi"
	"github.com/lueurxax/news-aggregator/internal/ingest/telegramweb"
	"github.com/lueurxax/news-aggregator/internal/output/digest"
	"github.com/lueurxax/news-aggregator/internal/output/telegrambot"
	"github.com/lueurxax/news-aggregator/internal/platform/config"
	"github.com/lueurxax/news-aggregator/internal/platform/filecache"
	"github.com/lueurxax/news-aggregator/internal/platform/httpclient"
	"github.com/lueurxax/news-aggregator/internal/platform/observability"
	"github.com/lueurxax/news-aggregator/internal/platform/worker"
	"github.com/lueurxax/news-aggregator/internal/process/enrichment"
	"github.com/lueurxax/news-aggregator/internal/process/pipeline"
	"github.com/lueurxax/news-aggregator/internal/schedule"
	db "github.com/lueurxax/news-aggregator/internal/storage"
)

const (
	cacheCleanupInterval  = time.Hour
	queueStatsInterval    = 5 * time.Minute
	backupFilenameLayout  = "20060102_150405"
	backupFilenamePrefix  = "newsagg_"
	taskConfigRunProc     = "run_processing"
	taskConfigSendTg      = "send_telegram"
	taskConfigBackupDir   = "backup_dir"
	taskConfigKeepDays    = "keep_days"
)

// App holds the application dependencies and provides methods to run different modes.
type App struct {
	cfg      *config.Config
	database *db.DB
	logger   *zerolog.Logger
}

// services is the fully wired processing stack shared by all modes.
type services struct {
	cache    *filecache.Cache
	sources  *sources.Manager
	enricher *enrichment.Processor
	digests  *digest.Builder
	pipeline *pipeline.Pipeline
	api      *api.Server
}

// New creates a new App instance with the given dependencies.
func New(cfg *config.Config, database *db.DB, logger *zerolog.Logger) *App {
	return &App{
		cfg:      cfg,
		database: database,
		logger:   logger,
	}
}

// build wires the processing stack. Telegram fetchers are registered here
// because they carry heavier dependencies than the built-in ones.
func (a *App) build() (*services, error) {
	cache, err := filecache.New(a.cfg.CacheDir, a.logger)
	if err != nil {
		return nil, fmt.Errorf("file cache init: %w", err)
	}

	ai := llm.New(a.cfg, cache, *a.logger)
	client := httpclient.New(a.cfg.WebFetchRPS, a.cfg.HTTPTimeout, a.logger)
	extractor := extract.New(a.cfg, client, ai, a.database, *a.logger)
	cats := categories.New(a.database, a.logger)

	registry := sources.NewRegistry(sources.Deps{
		Config:    a.cfg,
		Client:    client,
		Extractor: extractor,
		AI:        ai,
		DB:        a.database,
		Logger:    *a.logger,
	})

	registry.Register(domain.SourceTypeTelegram, telegramweb.NewFetcher)

	if a.cfg.TelegramAPIConfigured() {
		registry.Register(domain.SourceTypeTelegramAPI, telegramapi.NewFetcher)
	} else {
		a.logger.Info().Msg("MTProto credentials absent, telegram_api sources disabled")
	}

	manager := sources.NewManager(registry, a.database, a.cfg, *a.logger)
	enricher := enrichment.New(a.cfg, a.database, ai, extractor, *a.logger)
	digests := digest.New(a.cfg, a.database, ai, cats, *a.logger)

	var sender pipeline.DigestSender

	if a.cfg.BotConfigured() {
		bot, err := telegrambot.New(a.cfg, *a.logger)
		if err != nil {
			return nil, fmt.Errorf("telegram bot init: %w", err)
		}

		sender = bot
	} else {
		a.logger.Info().Msg("bot token or target chat absent, digest delivery disabled")
	}

	pl := pipeline.New(a.cfg, a.database, manager, enricher, digests, sender, *a.logger)

	return &services{
		cache:    cache,
		sources:  manager,
		enricher: enricher,
		digests:  digests,
		pipeline: pl,
		api:      api.New(a.cfg, a.database, pl, cats, *a.logger),
	}, nil
}

// RunWorker runs the scheduler together with the API server and a
// maintenance loop for the shared cache and queue stats.
func (a *App) RunWorker(ctx context.Context) error {
	a.logger.Info().Msg("Starting worker mode")

	svc, err := a.build()
	if err != nil {
		return err
	}

	sched := schedule.New(a.cfg, a.database, *a.logger)
	a.registerTasks(sched, svc)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.startHealthServer(ctx, svc)
	})

	g.Go(func() error {
		return sched.Run(ctx)
	})

	g.Go(func() error {
		return a.runMaintenance(ctx, svc)
	})

	return g.Wait()
}

// RunAPI serves the read/control API without running the scheduler.
// Manual triggers (process run, digest send) still work in this mode.
func (a *App) RunAPI(ctx context.Context) error {
	a.logger.Info().Msg("Starting API mode")

	svc, err := a.build()
	if err != nil {
		return err
	}

	return a.startHealthServer(ctx, svc)
}

// RunFetch executes one fetch-and-enrich cycle and exits. With all set it
// ignores fetch intervals and pulls every enabled source.
func (a *App) RunFetch(ctx context.Context, all bool) error {
	a.logger.Info().Bool("all_sources", all).Msg("Starting fetch mode")

	svc, err := a.build()
	if err != nil {
		return err
	}

	if !all {
		report, err := svc.pipeline.RunFullCycle(ctx)
		if err != nil {
			return fmt.Errorf("fetch cycle: %w", err)
		}

		a.logger.Info().
			Int("fetched", report.ArticlesFetched).
			Int("processed", report.ArticlesProcessed).
			Int("filtered", report.ArticlesFiltered).
			Int("api_calls", report.APICalls).
			Msg("fetch cycle finished")

		return nil
	}

	fetched, err := svc.sources.FetchFromAllSources(ctx)
	if err != nil {
		return fmt.Errorf("fetch all sources: %w", err)
	}

	report, err := svc.enricher.EnrichBacklog(ctx, a.cfg.EnrichLimit)
	if err != nil {
		return fmt.Errorf("enrich backlog: %w", err)
	}

	a.logger.Info().
		Int("fetched", fetched).
		Int("processed", report.Processed).
		Int("enriched", report.Enriched).
		Msg("full fetch finished")

	return nil
}

// RunDigest builds and delivers today's digest once, then exits.
func (a *App) RunDigest(ctx context.Context) error {
	a.logger.Info().Msg("Starting digest mode")

	svc, err := a.build()
	if err != nil {
		return err
	}

	if err := svc.pipeline.SendTelegramDigest(ctx); err != nil {
		if errors.Is(err, digest.ErrEmptyDigest) {
			a.logger.Info().Msg("no content for digest, nothing sent")

			return nil
		}

		return fmt.Errorf("digest send: %w", err)
	}

	return nil
}

func (a *App) startHealthServer(ctx context.Context, svc *services) error {
	srv := observability.NewServerWithAPI(a.database, a.cfg.HealthPort, svc.api.Handler(), a.logger)

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("health server start: %w", err)
	}

	return nil
}

// registerTasks binds the schedule_settings task names to their handlers.
func (a *App) registerTasks(sched *schedule.Scheduler, svc *services) {
	sched.Register(domain.TaskNewsProcessing, func(ctx context.Context, _ *domain.ScheduleSetting) error {
		report, err := svc.pipeline.RunFullCycle(ctx)
		if err != nil {
			return err
		}

		a.logger.Info().
			Int("fetched", report.ArticlesFetched).
			Int("processed", report.ArticlesProcessed).
			Int("filtered", report.ArticlesFiltered).
			Int("api_calls", report.APICalls).
			Int("errors", len(report.Errors)).
			Msg("scheduled processing finished")

		return nil
	})

	sched.Register(domain.TaskTelegramDigest, func(ctx context.Context, task *domain.ScheduleSetting) error {
		return a.runDigestTask(ctx, svc, task)
	})

	sched.Register(domain.TaskDailySummaries, func(ctx context.Context, _ *domain.ScheduleSetting) error {
		return svc.pipeline.GenerateDailySummaries(ctx, time.Now(), false)
	})

	sched.Register(domain.TaskBackup, func(ctx context.Context, task *domain.ScheduleSetting) error {
		return a.runBackup(ctx, task)
	})
}

// runDigestTask honors the per-task config flags: run_processing triggers a
// processing cycle first so the digest covers fresh articles, send_telegram
// (default true) controls the actual delivery.
func (a *App) runDigestTask(ctx context.Context, svc *services, task *domain.ScheduleSetting) error {
	if taskConfigBool(task.TaskConfig, taskConfigRunProc, false) {
		if _, err := svc.pipeline.RunFullCycle(ctx); err != nil {
			a.logger.Error().Err(err).Msg("pre-digest processing failed, building digest anyway")
		}
	}

	if !taskConfigBool(task.TaskConfig, taskConfigSendTg, true) {
		// Summaries are still generated so the digest is ready for a
		// manual send.
		return svc.digests.EnsureDailySummaries(ctx, time.Now(), false)
	}

	if err := svc.pipeline.SendTelegramDigest(ctx); err != nil {
		if errors.Is(err, digest.ErrEmptyDigest) {
			a.logger.Info().Msg("no content for scheduled digest")

			return nil
		}

		return err
	}

	return nil
}

// runMaintenance runs the background housekeeping tickers: expired cache
// entries and periodic queue stats for operators tailing the logs.
func (a *App) runMaintenance(ctx context.Context, svc *services) error {
	return worker.TickerLoop(ctx, worker.TickerConfig{
		Name: "maintenance",
		Tasks: []worker.TickerTask{
			{
				Name:     "cache-cleanup",
				Interval: cacheCleanupInterval,
				Run: func(_ context.Context) {
					removed, err := svc.cache.CleanupExpired()
					if err != nil {
						a.logger.Warn().Err(err).Msg("cache cleanup failed")

						return
					}

					if removed > 0 {
						a.logger.Info().Int("removed", removed).Msg("expired cache entries removed")
					}
				},
			},
			{
				Name:     "queue-stats",
				Interval: queueStatsInterval,
				Run: func(_ context.Context) {
					a.logger.Debug().Interface("queue", a.database.Queue.Stats()).Msg("db queue stats")
				},
			},
		},
		Logger: a.logger,
	})
}

// runBackup shells out to pg_dump and prunes dumps older than the retention
// window. Directory and retention can be overridden per task.
func (a *App) runBackup(ctx context.Context, task *domain.ScheduleSetting) error {
	dir := a.cfg.BackupDir
	if v, ok := task.TaskConfig[taskConfigBackupDir].(string); ok && v != "" {
		dir = v
	}

	keepDays := a.cfg.BackupKeepDays
	if v, ok := taskConfigInt(task.TaskConfig, taskConfigKeepDays); ok {
		keepDays = v
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("backup dir: %w", err)
	}

	name := backupFilenamePrefix + time.Now().UTC().Format(backupFilenameLayout) + ".sql"
	path := filepath.Join(dir, name)

	cmd := exec.CommandContext(ctx, "pg_dump", "--no-owner", "--dbname", a.cfg.PostgresDSN, "--file", path)

	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("pg_dump: %w: %s", err, strings.TrimSpace(string(out)))
	}

	a.logger.Info().Str("path", path).Msg("database backup written")

	a.pruneBackups(dir, keepDays)

	return nil
}

// pruneBackups removes dump files past the retention window. Failures are
// logged, not returned: a stale dump must never fail the backup task.
func (a *App) pruneBackups(dir string, keepDays int) {
	if keepDays <= 0 {
		return
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		a.logger.Warn().Err(err).Str("dir", dir).Msg("reading backup dir failed")

		return
	}

	cutoff := time.Now().AddDate(0, 0, -keepDays)

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), backupFilenamePrefix) {
			continue
		}

		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}

		if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil {
			a.logger.Warn().Err(err).Str("file", entry.Name()).Msg("removing old backup failed")
		} else {
			a.logger.Info().Str("file", entry.Name()).Msg("old backup removed")
		}
	}
}

func taskConfigBool(cfg map[string]any, key string, def bool) bool {
	v, ok := cfg[key].(bool)
	if !ok {
		return def
	}

	return v
}

// taskConfigInt reads a numeric task config value. JSON round-trips numbers
// as float64, but literal ints are accepted too.
func taskConfigInt(cfg map[string]any, key string) (int, bool) {
	switch v := cfg[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	default:
		return 0, false
	}
}
