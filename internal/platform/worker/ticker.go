package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	logFieldWorker = "worker"
	logFieldTask   = "task"
)

// TickerTask is one periodic job inside a TickerLoop.
type TickerTask struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context)
}

// TickerConfig configures a multi-task ticker loop.
type TickerConfig struct {
	// Name identifies the worker for logging.
	Name string

	// Tasks each run on their own ticker. Tasks without a Run func or a
	// positive interval are skipped.
	Tasks []TickerTask

	// OnStart is called once when the loop starts.
	OnStart func(ctx context.Context)

	// OnStop is called once when the loop exits.
	OnStop func()

	// Logger for the worker.
	Logger *zerolog.Logger
}

// TickerLoop runs each task on its own goroutine and ticker, blocking
// until the context is canceled. Every runnable task fires once on start.
func TickerLoop(ctx context.Context, cfg TickerConfig) error {
	logger := nopIfNil(cfg.Logger)
	logger.Info().Str(logFieldWorker, cfg.Name).Msg("ticker loop started")

	if cfg.OnStart != nil {
		cfg.OnStart(ctx)
	}

	defer func() {
		if cfg.OnStop != nil {
			cfg.OnStop()
		}

		logger.Info().Str(logFieldWorker, cfg.Name).Msg("ticker loop stopped")
	}()

	var wg sync.WaitGroup

	for i := range cfg.Tasks {
		task := cfg.Tasks[i]
		if task.Run == nil || task.Interval <= 0 {
			continue
		}

		wg.Add(1)

		go func() {
			defer wg.Done()
			runTaskTicker(ctx, task, logger)
		}()
	}

	wg.Wait()
	<-ctx.Done()

	return fmt.Errorf("ticker loop %s: %w", cfg.Name, ctx.Err())
}

func runTaskTicker(ctx context.Context, task TickerTask, logger *zerolog.Logger) {
	logger.Debug().Str(logFieldTask, task.Name).Msg("initial run")
	task.Run(ctx)

	ticker := time.NewTicker(task.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logger.Debug().Str(logFieldTask, task.Name).Msg("ticker fired")
			task.Run(ctx)
		}
	}
}

// SingleTickerConfig configures a loop with one periodic callback.
type SingleTickerConfig struct {
	// Name identifies the worker for logging.
	Name string

	// Interval is the ticker interval.
	Interval time.Duration

	// OnTick is called when the ticker fires.
	OnTick func(ctx context.Context)

	// RunOnStart runs OnTick immediately when starting.
	RunOnStart bool

	// OnStart is called once when the loop starts.
	OnStart func(ctx context.Context)

	// OnStop is called once when the loop exits.
	OnStop func()

	// Logger for the worker.
	Logger *zerolog.Logger
}

// SingleTickerLoop drives one callback on a fixed interval until the
// context is canceled. This is the shape of the scheduler poll loop.
func SingleTickerLoop(ctx context.Context, cfg SingleTickerConfig) error {
	logger := nopIfNil(cfg.Logger)
	logger.Info().Str(logFieldWorker, cfg.Name).Msg("ticker started")

	if cfg.OnStart != nil {
		cfg.OnStart(ctx)
	}

	defer func() {
		if cfg.OnStop != nil {
			cfg.OnStop()
		}

		logger.Info().Str(logFieldWorker, cfg.Name).Msg("ticker stopped")
	}()

	if cfg.RunOnStart && cfg.OnTick != nil {
		cfg.OnTick(ctx)
	}

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("ticker %s: %w", cfg.Name, ctx.Err())
		case <-ticker.C:
			if cfg.OnTick != nil {
				cfg.OnTick(ctx)
			}
		}
	}
}

func nopIfNil(logger *zerolog.Logger) *zerolog.Logger {
	if logger == nil {
		nop := zerolog.Nop()

		return &nop
	}

	return logger
}
