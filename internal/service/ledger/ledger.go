// Package ledger is the append-only publish history. It is also the source of
// truth for which items were already published to which destination.
package ledger

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ifuryst/reposter/internal/models"
	"github.com/ifuryst/reposter/pkg/util"
)

const maxErrorMessage = 2000

type Ledger struct {
	db     *gorm.DB
	logger *zap.Logger
	now    func() time.Time
}

func New(db *gorm.DB, logger *zap.Logger) *Ledger {
	return &Ledger{
		db:     db,
		logger: logger,
		now:    time.Now,
	}
}

// StatsUpdate is the outcome of one task run.
type StatsUpdate struct {
	Success   int
	Fail      int
	NextRunAt *time.Time
}

// Record appends entry and returns the stored row. It never fails: when the
// write does not go through, the returned record has a zero ID and an error
// message saying so.
func (l *Ledger) Record(ctx context.Context, entry models.HistoryRecord) *models.HistoryRecord {
	entry.ID = 0
	if entry.PublishedAt.IsZero() {
		entry.PublishedAt = l.now()
	}
	entry.ErrorMessage = util.Truncate(entry.ErrorMessage, maxErrorMessage)

	err := l.db.WithContext(ctx).Create(&entry).Error
	if err == nil {
		return &entry
	}

	fields := []zap.Field{
		zap.String("destination", entry.DestinationID),
		zap.String("status", string(entry.Status)),
		zap.Error(err),
	}
	if entry.ItemID != nil {
		fields = append(fields, zap.Uint("item_id", *entry.ItemID))
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		l.logger.Warn("Success already recorded for item and destination", fields...)
	} else {
		l.logger.Error("Failed to record history", fields...)
	}

	placeholder := entry
	placeholder.ID = 0
	placeholder.ErrorMessage = util.Truncate("failed to record: "+err.Error(), maxErrorMessage)
	return &placeholder
}

// SuccessfulItemIDs lists every item with a success record for destinationID.
func (l *Ledger) SuccessfulItemIDs(ctx context.Context, destinationID string) ([]uint, error) {
	var ids []uint
	err := l.db.WithContext(ctx).Model(&models.HistoryRecord{}).
		Where("destination_id = ? AND status = ? AND item_id IS NOT NULL", destinationID, models.HistorySuccess).
		Pluck("item_id", &ids).Error
	return ids, errors.WithStack(err)
}

func (l *Ledger) HasSuccess(ctx context.Context, itemID uint, destinationID string) (bool, error) {
	var n int64
	err := l.db.WithContext(ctx).Model(&models.HistoryRecord{}).
		Where("item_id = ? AND destination_id = ? AND status = ?", itemID, destinationID, models.HistorySuccess).
		Count(&n).Error
	if err != nil {
		return false, errors.WithStack(err)
	}
	return n > 0, nil
}

func (l *Ledger) ListByTask(ctx context.Context, taskID uint, page, pageSize int) ([]models.HistoryRecord, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize
	tx := l.db.WithContext(ctx).Model(&models.HistoryRecord{}).Where("task_id = ?", taskID)

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, 0, errors.WithStack(err)
	}
	var records []models.HistoryRecord
	err := tx.Order("published_at DESC").
		Order("id DESC").
		Offset(offset).
		Limit(pageSize).
		Find(&records).Error
	return records, total, errors.WithStack(err)
}

func (l *Ledger) ListByItem(ctx context.Context, itemID uint) ([]models.HistoryRecord, error) {
	var records []models.HistoryRecord
	err := l.db.WithContext(ctx).
		Where("item_id = ?", itemID).
		Order("published_at DESC").
		Order("id DESC").
		Find(&records).Error
	return records, errors.WithStack(err)
}

// MarkItemPublished appends marker to the item's published-to list unless the
// destination is already there.
func (l *Ledger) MarkItemPublished(ctx context.Context, itemID uint, marker models.PublishedMarker) error {
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var item models.CandidateItem
		if err := tx.Select("id", "published_to").First(&item, itemID).Error; err != nil {
			return errors.Wrapf(err, "failed find item %d", itemID)
		}
		if item.PublishedToDestination(marker.DestinationID) {
			return nil
		}
		item.PublishedTo = append(item.PublishedTo, marker)
		return errors.WithStack(tx.Model(&models.CandidateItem{}).
			Where("id = ?", itemID).
			Update("published_to", item.PublishedTo).Error)
	})
}

// UpdateTaskStatistics folds a run into the task's counters and moves its
// schedule forward. A scheduled task that reaches a positive execution limit
// is deactivated; a one-time task is marked executed.
func (l *Ledger) UpdateTaskStatistics(ctx context.Context, taskID uint, u StatsUpdate) (*models.PublishTask, error) {
	var task models.PublishTask
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&task, taskID).Error; err != nil {
			return errors.Wrapf(err, "failed find task %d", taskID)
		}

		updates := map[string]interface{}{
			"stats_total_runs":        gorm.Expr("stats_total_runs + ?", 1),
			"stats_total_published":   gorm.Expr("stats_total_published + ?", u.Success),
			"stats_total_failed":      gorm.Expr("stats_total_failed + ?", u.Fail),
			"stats_last_execution_at": l.now(),
		}

		switch task.Kind {
		case models.TaskKindOneTime:
			updates["one_time_executed"] = true
			updates["stats_next_execution_at"] = nil
		default:
			updates["schedule_execution_count"] = gorm.Expr("schedule_execution_count + ?", 1)
			if u.NextRunAt != nil {
				updates["stats_next_execution_at"] = *u.NextRunAt
			} else {
				updates["stats_next_execution_at"] = nil
			}
			limit := task.Schedule.ExecutionLimit
			if limit > 0 && task.Schedule.ExecutionCount+1 >= limit {
				updates["schedule_active"] = false
				updates["stats_next_execution_at"] = nil
			}
		}

		if err := tx.Model(&models.PublishTask{}).Where("id = ?", taskID).Updates(updates).Error; err != nil {
			return errors.Wrapf(err, "failed update statistics of task %d", taskID)
		}
		var fresh models.PublishTask
		if err := tx.First(&fresh, taskID).Error; err != nil {
			return errors.WithStack(err)
		}
		task = fresh
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &task, nil
}
