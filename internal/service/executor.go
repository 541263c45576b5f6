package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/avast/retry-go"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ifuryst/reposter/internal/config"
	"github.com/ifuryst/reposter/internal/models"
	"github.com/ifuryst/reposter/internal/service/customize"
	"github.com/ifuryst/reposter/internal/service/generator"
	"github.com/ifuryst/reposter/internal/service/ledger"
	"github.com/ifuryst/reposter/internal/service/publisher"
)

// ExecutionResult counts the history records written by one run.
type ExecutionResult struct {
	RunID        string `json:"run_id"`
	SuccessCount int    `json:"success_count"`
	FailCount    int    `json:"fail_count"`
}

// TaskExecutor runs one task to completion. Destinations and items are
// handled one after another; a failure is recorded and the run moves on.
type TaskExecutor struct {
	db         *gorm.DB
	ledger     *ledger.Ledger
	selector   *CandidateSelector
	publisher  *publisher.Publisher
	generators *generator.Registry
	cfg        config.ExecutorConfig
	location   *time.Location
	logger     *zap.Logger
	now        func() time.Time

	mu      sync.Mutex
	running map[uint]struct{}
}

func NewTaskExecutor(
	db *gorm.DB,
	ledger *ledger.Ledger,
	selector *CandidateSelector,
	publisher *publisher.Publisher,
	generators *generator.Registry,
	cfg *config.ExecutorConfig,
	location *time.Location,
	logger *zap.Logger,
) *TaskExecutor {
	if location == nil {
		location = time.UTC
	}
	execCfg := *cfg
	if execCfg.GeneratorAttempts == 0 {
		execCfg.GeneratorAttempts = 1
	}
	return &TaskExecutor{
		db:         db,
		ledger:     ledger,
		selector:   selector,
		publisher:  publisher,
		generators: generators,
		cfg:        execCfg,
		location:   location,
		logger:     logger,
		now:        time.Now,
		running:    make(map[uint]struct{}),
	}
}

// Execute loads the task and runs it now, whatever its schedule says.
func (e *TaskExecutor) Execute(ctx context.Context, taskID uint) (*ExecutionResult, error) {
	var task models.PublishTask
	if err := e.db.WithContext(ctx).First(&task, taskID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to load task: %w", err)
	}
	return e.Run(ctx, &task)
}

// Run executes task once and folds the outcome into its statistics.
func (e *TaskExecutor) Run(ctx context.Context, task *models.PublishTask) (*ExecutionResult, error) {
	if !e.acquire(task.ID) {
		return nil, ErrTaskRunning
	}
	defer e.release(task.ID)

	res := &ExecutionResult{RunID: uuid.NewString()}
	logger := e.logger.With(zap.Uint("task_id", task.ID), zap.String("run_id", res.RunID))
	start := e.now()

	logger.Info("Executing task",
		zap.String("kind", string(task.Kind)),
		zap.String("generator", task.GeneratorID),
		zap.Strings("destinations", task.Destinations))

	if task.UsesGenerator() {
		e.runGenerator(ctx, task, res, logger)
	} else {
		e.runSelection(ctx, task, res, logger)
	}

	update := ledger.StatsUpdate{
		Success:   res.SuccessCount,
		Fail:      res.FailCount,
		NextRunAt: e.nextRun(task, logger),
	}
	if _, err := e.ledger.UpdateTaskStatistics(ctx, task.ID, update); err != nil {
		logger.Error("Failed to update task statistics", zap.Error(err))
	}

	logger.Info("Task executed",
		zap.Int("success_count", res.SuccessCount),
		zap.Int("fail_count", res.FailCount),
		zap.Duration("duration", time.Since(start)))
	return res, nil
}

func (e *TaskExecutor) IsRunning(taskID uint) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.running[taskID]
	return ok
}

func (e *TaskExecutor) acquire(taskID uint) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.running[taskID]; ok {
		return false
	}
	e.running[taskID] = struct{}{}
	return true
}

func (e *TaskExecutor) release(taskID uint) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.running, taskID)
}

// runGenerator calls the generator once and retries the whole publish per
// destination, picking the credential again on every attempt. Permission
// errors are not retried.
func (e *TaskExecutor) runGenerator(ctx context.Context, task *models.PublishTask, res *ExecutionResult, logger *zap.Logger) {
	content, genErr := e.generators.Generate(ctx, task.GeneratorID, task.GeneratorParams)
	if genErr != nil {
		logger.Error("Generator failed", zap.String("generator", task.GeneratorID), zap.Error(genErr))
	}
	opts := publisher.OptionsFromTask(task)

	for _, destination := range task.Destinations {
		if genErr != nil {
			e.recordFailure(ctx, task, res, destination, nil, genErr)
			continue
		}

		e.guard(logger, destination, func(err error) {
			e.recordFailure(ctx, task, res, destination, nil, err)
		}, func() {
			err := retry.Do(
				func() error {
					_, err := e.publisher.PublishGenerated(ctx, content, destination, opts)
					return err
				},
				retry.Context(ctx),
				retry.Attempts(e.cfg.GeneratorAttempts),
				retry.Delay(e.cfg.GeneratorRetryDelay),
				retry.DelayType(retry.FixedDelay),
				retry.RetryIf(func(err error) bool {
					return !errors.Is(err, publisher.ErrPermission)
				}),
				retry.LastErrorOnly(true),
				retry.OnRetry(func(n uint, err error) {
					logger.Warn("Generated publish failed, retrying",
						zap.String("destination", destination),
						zap.Uint("attempt", n+1),
						zap.Error(err))
				}),
			)
			if err != nil {
				e.recordFailure(ctx, task, res, destination, nil, err)
				return
			}
			res.SuccessCount++
		})
	}
}

func (e *TaskExecutor) runSelection(ctx context.Context, task *models.PublishTask, res *ExecutionResult, logger *zap.Logger) {
	for _, destination := range task.Destinations {
		e.guard(logger, destination, func(err error) {
			e.recordFailure(ctx, task, res, destination, nil, err)
		}, func() {
			e.runDestination(ctx, task, destination, res, logger.With(zap.String("destination", destination)))
		})
	}
}

func (e *TaskExecutor) runDestination(ctx context.Context, task *models.PublishTask, destination string, res *ExecutionResult, logger *zap.Logger) {
	if _, err := e.publisher.Credentials().Resolve(ctx); err != nil {
		logger.Warn("No usable credential, skipping destination", zap.Error(err))
		e.recordFailure(ctx, task, res, destination, nil, err)
		return
	}

	items, err := e.selector.Select(ctx, SelectRequest{
		Origins:     task.Sources,
		Count:       task.ItemsPerRun,
		MinRank:     task.MinRank,
		Destination: destination,
	})
	if err != nil {
		e.recordFailure(ctx, task, res, destination, nil, err)
		return
	}
	if len(items) == 0 {
		logger.Info("No eligible candidates")
		e.recordFailure(ctx, task, res, destination, nil, ErrNoCandidates)
		return
	}

	for i := range items {
		item := &items[i]
		e.guard(logger, destination, func(err error) {
			e.recordFailure(ctx, task, res, destination, item, err)
		}, func() {
			prepared := customize.Prepare(*item, task.Pre, task.Customization)
			opts := publisher.OptionsFromTask(task)
			opts.AddedMedia = prepared.AddedMedia

			if _, err := e.publisher.PublishItem(ctx, &prepared.Item, destination, opts); err != nil {
				logger.Warn("Failed to publish item", zap.Uint("item_id", item.ID), zap.Error(err))
				e.recordFailure(ctx, task, res, destination, item, err)
				return
			}
			res.SuccessCount++
		})
	}
}

func (e *TaskExecutor) recordFailure(ctx context.Context, task *models.PublishTask, res *ExecutionResult, destination string, item *models.CandidateItem, cause error) {
	taskID := task.ID
	rec := models.HistoryRecord{
		DestinationID: destination,
		TaskID:        &taskID,
		Status:        models.HistoryFailed,
		ErrorMessage:  cause.Error(),
		PublishedAt:   e.now(),
	}
	if item != nil {
		itemID := item.ID
		rec.ItemID = &itemID
		rec.SourceItemID = item.SourceItemID
		rec.OriginID = item.OriginID
	} else if task.UsesGenerator() {
		rec.SourceItemID = "generator:" + task.GeneratorID
	}

	e.ledger.Record(ctx, rec)
	res.FailCount++
}

// guard runs fn and turns a panic into onPanic.
func (e *TaskExecutor) guard(logger *zap.Logger, destination string, onPanic func(error), fn func()) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			logger.Error("Recovered from panic during publish",
				zap.String("destination", destination),
				zap.Error(err),
				zap.Stack("stack"))
			onPanic(err)
		}
	}()
	fn()
}

func (e *TaskExecutor) nextRun(task *models.PublishTask, logger *zap.Logger) *time.Time {
	if task.Kind != models.TaskKindScheduled {
		return nil
	}
	next, err := NextRun(task.Schedule.Expression, e.now(), e.location)
	if err != nil {
		logger.Error("Failed to compute next execution", zap.String("expression", task.Schedule.Expression), zap.Error(err))
		return nil
	}
	return &next
}
