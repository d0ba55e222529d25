package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/lueurxax/news-aggregator/internal/app"
	"github.com/lueurxax/news-aggregator/internal/platform/config"
	"github.com/lueurxax/news-aggregator/internal/platform/dbqueue"
	db "github.com/lueurxax/news-aggregator/internal/storage"
)

func main() {
	mode := flag.String("mode", "worker", "Service mode (worker, api, fetch, digest)")
	all := flag.Bool("all", false, "Fetch mode: pull every enabled source, ignoring fetch intervals")

	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := newLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.NewWithOptions(ctx, cfg.PostgresDSN, dbOptions(cfg), &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer database.Close()

	database.Start(ctx)

	if err := database.Migrate(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to run migrations")
	}

	if result, err := database.RunDataMigrations(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to run data migrations")
	} else {
		logger.Info().Interface("result", result).Msg("data migrations applied")
	}

	application := app.New(cfg, database, &logger)

	if err := runMode(ctx, application, *mode, *all); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info().Msg("application stopped")
			return
		}

		logger.Fatal().Err(err).Msg("application error")
	}
}

func runMode(ctx context.Context, application *app.App, mode string, all bool) error {
	switch mode {
	case "worker":
		return application.RunWorker(ctx)
	case "api":
		return application.RunAPI(ctx)
	case "fetch":
		return application.RunFetch(ctx, all)
	case "digest":
		return application.RunDigest(ctx)
	default:
		log.Fatalf("Usage: %s --mode=[worker|api|fetch|digest]", os.Args[0])

		return nil
	}
}

func dbOptions(cfg *config.Config) db.Options {
	return db.Options{
		Pool: db.PoolOptions{
			MaxConns:          cfg.DBMaxConnections,
			MinConns:          cfg.DBMinConnections,
			MaxConnIdleTime:   cfg.DBMaxConnIdleTime,
			MaxConnLifetime:   cfg.DBMaxConnLifetime,
			HealthCheckPeriod: cfg.DBHealthCheckPeriod,
		},
		Queue: dbqueue.Options{
			QueueSize:    cfg.DBQueueSize,
			ReadWorkers:  cfg.DBQueueReadWorkers,
			WriteWorkers: cfg.DBQueueWriteWorkers,
			ReadConns:    cfg.DBQueueReadConns,
			WriteConns:   cfg.DBQueueWriteConns,
			ReadTimeout:  cfg.DBQueueReadTimeout,
			WriteTimeout: cfg.DBQueueWriteTimeout,
		},
	}
}

func newLogger(appEnv string) zerolog.Logger {
	if appEnv == "local" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	}

	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}
