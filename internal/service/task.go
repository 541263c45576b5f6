package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/ifuryst/reposter/internal/models"
	"github.com/ifuryst/reposter/internal/service/generator"
)

type TaskFilter struct {
	Kind     models.TaskKind
	Page     int
	PageSize int
}

// TaskService is the CRUD side of publish tasks. Execution lives in
// TaskExecutor.
type TaskService struct {
	db         *gorm.DB
	generators *generator.Registry
	location   *time.Location
	logger     *zap.Logger
	now        func() time.Time
}

func NewTaskService(db *gorm.DB, generators *generator.Registry, location *time.Location, logger *zap.Logger) *TaskService {
	if location == nil {
		location = time.UTC
	}
	return &TaskService{
		db:         db,
		generators: generators,
		location:   location,
		logger:     logger,
		now:        time.Now,
	}
}

func (s *TaskService) Create(ctx context.Context, in *models.PublishTask) (*models.PublishTask, error) {
	task := *in
	task.ID = 0
	task.Stats = models.TaskStatistics{}
	task.Schedule.ExecutionCount = 0
	task.OneTime.Executed = false
	if task.Kind == models.TaskKindScheduled {
		task.Schedule.Active = true
	}

	if err := s.Validate(&task); err != nil {
		return nil, err
	}
	if err := s.plan(&task); err != nil {
		return nil, err
	}

	if err := s.db.WithContext(ctx).Create(&task).Error; err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	s.logger.Info("Task created",
		zap.Uint("task_id", task.ID),
		zap.String("kind", string(task.Kind)),
		zap.Stringp("next_execution_at", formatTime(task.Stats.NextExecutionAt)))
	return &task, nil
}

func (s *TaskService) Get(ctx context.Context, id uint) (*models.PublishTask, error) {
	var task models.PublishTask
	if err := s.db.WithContext(ctx).First(&task, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return &task, nil
}

func (s *TaskService) List(ctx context.Context, filter TaskFilter) ([]models.PublishTask, int64, error) {
	page, pageSize := filter.Page, filter.PageSize
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}

	tx := s.db.WithContext(ctx).Model(&models.PublishTask{})
	if filter.Kind != "" {
		tx = tx.Where("kind = ?", filter.Kind)
	}

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count tasks: %w", err)
	}

	var tasks []models.PublishTask
	if err := tx.Order("id DESC").Offset((page - 1) * pageSize).Limit(pageSize).Find(&tasks).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list tasks: %w", err)
	}
	return tasks, total, nil
}

// Update replaces the editable fields of a task. Counters, the executed
// flag and the creation time are kept.
func (s *TaskService) Update(ctx context.Context, id uint, in *models.PublishTask) (*models.PublishTask, error) {
	existing, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	task := *in
	task.ID = existing.ID
	task.CreatedAt = existing.CreatedAt
	task.Stats = existing.Stats
	task.Schedule.ExecutionCount = existing.Schedule.ExecutionCount
	task.OneTime.Executed = existing.OneTime.Executed

	if err := s.Validate(&task); err != nil {
		return nil, err
	}
	if err := s.plan(&task); err != nil {
		return nil, err
	}

	if err := s.db.WithContext(ctx).Save(&task).Error; err != nil {
		return nil, fmt.Errorf("failed to update task: %w", err)
	}

	s.logger.Info("Task updated", zap.Uint("task_id", task.ID))
	return &task, nil
}

func (s *TaskService) Delete(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Delete(&models.PublishTask{}, id)
	if res.Error != nil {
		return fmt.Errorf("failed to delete task: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrTaskNotFound
	}
	s.logger.Info("Task deleted", zap.Uint("task_id", id))
	return nil
}

// Validate checks a task and fills in defaults. Every problem wraps
// ErrInvalidTask.
func (s *TaskService) Validate(task *models.PublishTask) error {
	task.Name = strings.TrimSpace(task.Name)

	switch task.Kind {
	case models.TaskKindScheduled:
		if _, err := ParseSchedule(task.Schedule.Expression); err != nil {
			return err
		}
		if task.Schedule.ExecutionLimit < 0 {
			return fmt.Errorf("%w: execution_limit must not be negative", ErrInvalidTask)
		}
	case models.TaskKindOneTime:
		if task.OneTime.ScheduledAt == nil {
			return fmt.Errorf("%w: scheduled_at is required for one-time tasks", ErrInvalidTask)
		}
		at := task.OneTime.ScheduledAt.UTC()
		task.OneTime.ScheduledAt = &at
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidTask, task.Kind)
	}

	destinations := make(datatypes.JSONSlice[string], 0, len(task.Destinations))
	for _, d := range task.Destinations {
		if d = strings.TrimSpace(d); d != "" {
			destinations = append(destinations, d)
		}
	}
	task.Destinations = destinations
	if len(task.Destinations) == 0 {
		return fmt.Errorf("%w: at least one destination is required", ErrInvalidTask)
	}

	if task.UsesGenerator() {
		if err := s.generators.Validate(task.GeneratorID, task.GeneratorParams); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidTask, err)
		}
	} else {
		if len(task.Sources) == 0 {
			return fmt.Errorf("%w: sources are required when no generator is set", ErrInvalidTask)
		}
		if task.ItemsPerRun < 0 {
			return fmt.Errorf("%w: items_per_run must not be negative", ErrInvalidTask)
		}
		if task.ItemsPerRun == 0 {
			task.ItemsPerRun = 1
		}
	}

	switch task.Customization.TextPosition {
	case "":
		task.Customization.TextPosition = models.TextAfter
	case models.TextBefore, models.TextAfter:
	default:
		return fmt.Errorf("%w: text_position must be %q or %q", ErrInvalidTask, models.TextBefore, models.TextAfter)
	}

	return nil
}

// plan sets the next execution time from the schedule.
func (s *TaskService) plan(task *models.PublishTask) error {
	switch task.Kind {
	case models.TaskKindScheduled:
		if !task.Schedule.Active {
			task.Stats.NextExecutionAt = nil
			return nil
		}
		next, err := NextRun(task.Schedule.Expression, s.now(), s.location)
		if err != nil {
			return err
		}
		task.Stats.NextExecutionAt = &next
	case models.TaskKindOneTime:
		if task.OneTime.Executed {
			task.Stats.NextExecutionAt = nil
			return nil
		}
		task.Stats.NextExecutionAt = task.OneTime.ScheduledAt
	}
	return nil
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}
