// Package scheduler creates recurring background tasks on cron
// schedules: the periodic crawl batch and the failed-URL retry sweep.
package scheduler

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/jonesrussell/newsbrief/internal/domain"
	"github.com/jonesrussell/newsbrief/internal/logger"
	"github.com/jonesrussell/newsbrief/internal/taskengine"
)

// Config holds the cron expressions for recurring tasks. Empty
// expressions disable the corresponding schedule.
type Config struct {
	CrawlSchedule string `mapstructure:"crawl_schedule" yaml:"crawl_schedule"`
	RetrySchedule string `mapstructure:"retry_schedule" yaml:"retry_schedule"`
}

// DefaultConfig returns the default schedules: crawl every 15 minutes,
// retry sweep hourly.
func DefaultConfig() Config {
	return Config{
		CrawlSchedule: "*/15 * * * *",
		RetrySchedule: "0 * * * *",
	}
}

// Scheduler triggers recurring tasks through the task engine. Each tick
// creates and starts a fresh task, so scheduled runs show up in task
// history and stream like any other task.
type Scheduler struct {
	engine *taskengine.Engine
	logger logger.Logger
	config Config

	cron *cron.Cron
	ctx  context.Context
}

// New creates a scheduler. ctx bounds the lifetime of tasks the
// scheduler spawns.
func New(ctx context.Context, engine *taskengine.Engine, log logger.Logger, cfg Config) *Scheduler {
	return &Scheduler{
		engine: engine,
		logger: log,
		config: cfg,
		cron:   cron.New(),
		ctx:    ctx,
	}
}

// Start registers the configured schedules and starts the cron loop.
func (s *Scheduler) Start() error {
	if s.config.CrawlSchedule != "" {
		if _, err := s.cron.AddFunc(s.config.CrawlSchedule, func() {
			s.spawn(domain.TaskTypeCrawlPending, "Scheduled crawl", domain.JSONBMap{})
		}); err != nil {
			return fmt.Errorf("add crawl schedule: %w", err)
		}
	}

	if s.config.RetrySchedule != "" {
		if _, err := s.cron.AddFunc(s.config.RetrySchedule, func() {
			s.spawn(domain.TaskTypeRetryFailed, "Scheduled retry sweep", domain.JSONBMap{})
		}); err != nil {
			return fmt.Errorf("add retry schedule: %w", err)
		}
	}

	s.cron.Start()
	s.logger.Info("scheduler started",
		logger.String("crawl_schedule", s.config.CrawlSchedule),
		logger.String("retry_schedule", s.config.RetrySchedule),
	)
	return nil
}

// Stop stops the cron loop. Already-running tasks keep going; the task
// engine's own shutdown waits for them.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// spawn creates and starts one task, logging rather than propagating:
// a failed tick must not take the scheduler down.
func (s *Scheduler) spawn(taskType, title string, params domain.JSONBMap) {
	task, err := s.engine.Create(s.ctx, taskType, title, params)
	if err != nil {
		s.logger.Error("create scheduled task", logger.Error(err), logger.String("task_type", taskType))
		return
	}

	if err := s.engine.Start(s.ctx, task.ID); err != nil {
		s.logger.Error("start scheduled task", logger.Error(err), logger.String("task_id", task.ID))
		return
	}

	s.logger.Info("scheduled task started",
		logger.String("task_id", task.ID),
		logger.String("task_type", taskType),
	)
}
