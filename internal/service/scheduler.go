package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ifuryst/reposter/internal/config"
	"github.com/ifuryst/reposter/internal/models"
)

// Scheduler wakes up on a fixed tick and runs every task that is due.
// Scheduled tasks are scanned first, then one-time tasks.
type Scheduler struct {
	config   *config.SchedulerConfig
	db       *gorm.DB
	executor *TaskExecutor
	logger   *zap.Logger
	now      func() time.Time

	ticker    *time.Ticker
	stopCh    chan struct{}
	doneCh    chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

func NewScheduler(cfg *config.SchedulerConfig, db *gorm.DB, executor *TaskExecutor, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		config:   cfg,
		db:       db,
		executor: executor,
		logger:   logger,
		now:      time.Now,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	var err error
	s.startOnce.Do(func() {
		err = s.start(ctx)
	})
	return err
}

func (s *Scheduler) start(ctx context.Context) error {
	if !s.config.IsEnabled() {
		s.logger.Info("Scheduler is disabled")
		close(s.doneCh)
		return nil
	}
	if s.config.TickInterval <= 0 {
		close(s.doneCh)
		return fmt.Errorf("invalid tick interval %s", s.config.TickInterval)
	}

	s.logger.Info("Starting scheduler", zap.Duration("tick_interval", s.config.TickInterval))
	s.ticker = time.NewTicker(s.config.TickInterval)

	go func() {
		defer close(s.doneCh)

		s.logger.Info("Running initial tick")
		s.Tick(ctx)

		for {
			select {
			case <-s.ticker.C:
				s.Tick(ctx)
			case <-s.stopCh:
				s.logger.Info("Scheduler stopped")
				return
			case <-ctx.Done():
				s.logger.Info("Scheduler context cancelled")
				return
			}
		}
	}()

	return nil
}

// Stop waits for the tick in progress to finish.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		if s.ticker != nil {
			s.ticker.Stop()
		}
		close(s.stopCh)
		started := true
		s.startOnce.Do(func() { started = false })
		if started {
			<-s.doneCh
		}
		s.logger.Info("Scheduler shutdown completed")
	})
}

// Tick runs every due task once and returns how many were started.
func (s *Scheduler) Tick(ctx context.Context) int {
	start := s.now()
	executed := 0

	scheduled, err := s.dueScheduled(ctx, start)
	if err != nil {
		s.logger.Error("Failed to load due scheduled tasks", zap.Error(err))
	}
	executed += s.runAll(ctx, scheduled)

	oneTime, err := s.dueOneTime(ctx, start)
	if err != nil {
		s.logger.Error("Failed to load due one-time tasks", zap.Error(err))
	}
	executed += s.runAll(ctx, oneTime)

	if executed > 0 {
		s.logger.Info("Tick completed",
			zap.Int("executed", executed),
			zap.Duration("duration", time.Since(start)))
	}
	return executed
}

func (s *Scheduler) dueScheduled(ctx context.Context, now time.Time) ([]models.PublishTask, error) {
	var tasks []models.PublishTask
	err := s.db.WithContext(ctx).
		Where("kind = ? AND schedule_active = ?", models.TaskKindScheduled, true).
		Where("stats_next_execution_at IS NOT NULL AND stats_next_execution_at <= ?", now.UTC()).
		Order("stats_next_execution_at ASC").
		Find(&tasks).Error
	return tasks, err
}

func (s *Scheduler) dueOneTime(ctx context.Context, now time.Time) ([]models.PublishTask, error) {
	var tasks []models.PublishTask
	err := s.db.WithContext(ctx).
		Where("kind = ? AND one_time_executed = ?", models.TaskKindOneTime, false).
		Where("one_time_scheduled_at IS NOT NULL AND one_time_scheduled_at <= ?", now.UTC()).
		Order("one_time_scheduled_at ASC").
		Find(&tasks).Error
	return tasks, err
}

func (s *Scheduler) runAll(ctx context.Context, tasks []models.PublishTask) int {
	executed := 0
	for i := range tasks {
		if ctx.Err() != nil {
			return executed
		}
		if s.run(ctx, &tasks[i]) {
			executed++
		}
	}
	return executed
}

func (s *Scheduler) run(ctx context.Context, task *models.PublishTask) (ok bool) {
	logger := s.logger.With(zap.Uint("task_id", task.ID), zap.String("kind", string(task.Kind)))
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Recovered from panic while executing task", zap.Any("panic", r), zap.Stack("stack"))
			ok = false
		}
	}()

	res, err := s.executor.Run(ctx, task)
	if err != nil {
		if errors.Is(err, ErrTaskRunning) {
			logger.Warn("Task is still running, skipping")
		} else {
			logger.Error("Task execution failed", zap.Error(err))
		}
		return false
	}

	logger.Info("Scheduled execution finished",
		zap.String("run_id", res.RunID),
		zap.Int("success_count", res.SuccessCount),
		zap.Int("fail_count", res.FailCount))
	return true
}
