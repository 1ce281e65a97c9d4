package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"mlsrelay/internal/domain"
)

type DeliveryTaskStore struct{ db *gorm.DB }

func (s *Store) DeliveryTasks() *DeliveryTaskStore { return &DeliveryTaskStore{db: s.DB} }

func (d *DeliveryTaskStore) Enqueue(ctx context.Context, task *domain.DeliveryTask) error {
	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}
	if task.Status == "" {
		task.Status = domain.TaskPending
	}
	if task.NextAttemptAt.IsZero() {
		task.NextAttemptAt = time.Now().UTC()
	}
	return d.db.WithContext(ctx).Create(task).Error
}

// ClaimDue reserves a batch of due pending tasks for one worker run. Rows
// locked by a concurrent run are skipped, and the lease stamp keeps a crashed
// claimant from parking a task forever.
func (d *DeliveryTaskStore) ClaimDue(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]domain.DeliveryTask, error) {
	var tasks []domain.DeliveryTask
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ? AND next_attempt_at <= ? AND (locked_until IS NULL OR locked_until < ?)",
				domain.TaskPending, now, now).
			Order("next_attempt_at ASC, created_at ASC").
			Limit(limit).
			Find(&tasks).Error
		if err != nil {
			return err
		}
		if len(tasks) == 0 {
			return nil
		}
		ids := make([]uuid.UUID, 0, len(tasks))
		for _, t := range tasks {
			ids = append(ids, t.ID)
		}
		until := now.Add(lease)
		return tx.
			Model(&domain.DeliveryTask{}).
			Where("id IN ?", ids).
			Update("locked_until", until).Error
	})
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

func (d *DeliveryTaskStore) MarkDelivered(ctx context.Context, id uuid.UUID, attempts int) error {
	return d.db.WithContext(ctx).
		Model(&domain.DeliveryTask{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":       domain.TaskDelivered,
			"attempts":     attempts,
			"locked_until": nil,
			"last_error":   nil,
		}).Error
}

func (d *DeliveryTaskStore) Reschedule(ctx context.Context, id uuid.UUID, attempts int, nextAttemptAt time.Time, lastErr string) error {
	return d.db.WithContext(ctx).
		Model(&domain.DeliveryTask{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":          domain.TaskPending,
			"attempts":        attempts,
			"next_attempt_at": nextAttemptAt,
			"locked_until":    nil,
			"last_error":      lastErr,
		}).Error
}

func (d *DeliveryTaskStore) MarkDead(ctx context.Context, id uuid.UUID, attempts int, lastErr string) error {
	return d.db.WithContext(ctx).
		Model(&domain.DeliveryTask{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":       domain.TaskDead,
			"attempts":     attempts,
			"locked_until": nil,
			"last_error":   lastErr,
		}).Error
}

func (d *DeliveryTaskStore) Get(ctx context.Context, id uuid.UUID) (*domain.DeliveryTask, error) {
	var task domain.DeliveryTask
	if err := d.db.WithContext(ctx).First(&task, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &task, nil
}
