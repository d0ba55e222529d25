// Package schedule dispatches recurring tasks from the schedule_settings
// table: a one-minute loop claims due rows, runs the registered handler,
// and stores the recomputed next run.
package schedule

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lueurxax/news-aggregator/internal/core/domain"
	"github.com/lueurxax/news-aggregator/internal/platform/config"
	"github.com/lueurxax/news-aggregator/internal/platform/observability"
	"github.com/lueurxax/news-aggregator/internal/platform/worker"
	db "github.com/lueurxax/news-aggregator/internal/storage"
)

// Handler executes one scheduled task. The task's stored config is passed
// through so handlers can honor per-task flags.
type Handler func(ctx context.Context, task *domain.ScheduleSetting) error

// Scheduler drives the dispatch loop.
type Scheduler struct {
	cfg      *config.Config
	db       *db.DB
	handlers map[string]Handler
	logger   zerolog.Logger

	wg sync.WaitGroup
}

func New(cfg *config.Config, database *db.DB, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		db:       database,
		handlers: make(map[string]Handler),
		logger:   logger.With().Str("component", "scheduler").Logger(),
	}
}

// Register binds a handler to a task name. Tasks without a handler are
// skipped with a warning.
func (s *Scheduler) Register(taskName string, h Handler) {
	s.handlers[taskName] = h
}

// Run blocks until the context is canceled. Running flags left over from a
// crashed instance are cleared once at startup so their tasks become
// claimable again.
func (s *Scheduler) Run(ctx context.Context) error {
	if n, err := s.db.ResetRunningTasks(ctx); err != nil {
		s.logger.Error().Err(err).Msg("resetting stale running flags failed")
	} else if n > 0 {
		s.logger.Warn().Int64("tasks", n).Msg("cleared stale running flags")
	}

	tick := s.cfg.SchedulerTick
	if tick <= 0 {
		tick = time.Minute
	}

	s.logger.Info().Dur("tick", tick).Msg("scheduler started")

	err := worker.SingleTickerLoop(ctx, worker.SingleTickerConfig{
		Name:     "scheduler",
		Interval: tick,
		OnTick:   s.dispatch,
		Logger:   &s.logger,
	})

	// Let in-flight tasks drain before returning.
	s.wg.Wait()

	return err
}

// dispatch claims and launches every due task. Claiming is a conditional
// update, so concurrent instances never double-run a task.
func (s *Scheduler) dispatch(ctx context.Context) {
	now := time.Now().UTC()

	due, err := s.db.DueScheduledTasks(ctx, now)
	if err != nil {
		s.logger.Error().Err(err).Msg("loading due tasks failed")

		return
	}

	for i := range due {
		task := due[i]

		handler, ok := s.handlers[task.TaskName]
		if !ok {
			s.logger.Warn().Str("task", task.TaskName).Msg("no handler registered, skipping")
			s.deferTask(ctx, &task, now)

			continue
		}

		claimed, err := s.db.ClaimScheduledTask(ctx, task.ID, now)
		if err != nil {
			s.logger.Error().Err(err).Str("task", task.TaskName).Msg("claiming task failed")

			continue
		}

		if !claimed {
			continue
		}

		s.wg.Add(1)

		go func() {
			defer s.wg.Done()
			s.runTask(ctx, &task, handler)
		}()
	}
}

// runTask executes the handler and always releases the task with a fresh
// next run, success or not.
func (s *Scheduler) runTask(ctx context.Context, task *domain.ScheduleSetting, handler Handler) {
	started := time.Now()
	logger := s.logger.With().Str("task", task.TaskName).Logger()

	logger.Info().Msg("task started")

	// A panicking handler is logged and released like a failed run; it
	// must never take the dispatch loop down with it.
	err := func() error {
		defer worker.RecoverPanic(&logger, task.TaskName)

		return handler(ctx, task)
	}()

	status := "ok"
	if err != nil {
		status = "error"

		logger.Error().Err(err).Dur("elapsed", time.Since(started)).Msg("task failed")
	} else {
		logger.Info().Dur("elapsed", time.Since(started)).Msg("task finished")
	}

	observability.ScheduledTaskRuns.WithLabelValues(task.TaskName, status).Inc()

	next, nerr := NextRun(task, time.Now())
	if nerr != nil {
		logger.Error().Err(nerr).Msg("next run computation failed")

		next = time.Now().UTC().Add(time.Hour)
	}

	if err := s.db.FinishScheduledTask(ctx, task.ID, next); err != nil {
		logger.Error().Err(err).Msg("releasing task failed")

		return
	}

	logger.Debug().Time("next_run", next).Msg("next run stored")
}

// deferTask pushes a handlerless task forward so it stops showing up as
// due every tick.
func (s *Scheduler) deferTask(ctx context.Context, task *domain.ScheduleSetting, now time.Time) {
	next, err := NextRun(task, now)
	if err != nil {
		next = now.Add(time.Hour)
	}

	if err := s.db.SetNextRun(ctx, task.ID, next); err != nil {
		s.logger.Error().Err(err).Str("task", task.TaskName).Msg("deferring task failed")
	}
}
