package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/dispatch-backend/internal/logger"
	"github.com/yungbote/dispatch-backend/internal/types"
)

type ScheduleRepo interface {
	Create(ctx context.Context, tx *gorm.DB, schedule *types.Schedule) (*types.Schedule, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Schedule, error)
	List(ctx context.Context, tx *gorm.DB, limit, offset int) ([]*types.Schedule, int64, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
	FindDue(ctx context.Context, tx *gorm.DB, now time.Time, limit int) ([]*types.Schedule, error)
	MarkFired(ctx context.Context, tx *gorm.DB, id uuid.UUID, firedAt time.Time, nextRunAt time.Time) error
	AdvanceNextRun(ctx context.Context, tx *gorm.DB, id uuid.UUID, nextRunAt time.Time) error
}

type scheduleRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewScheduleRepo(db *gorm.DB, baseLog *logger.Logger) ScheduleRepo {
	return &scheduleRepo{
		db:  db,
		log: baseLog.With("repo", "ScheduleRepo"),
	}
}

func (r *scheduleRepo) Create(ctx context.Context, tx *gorm.DB, schedule *types.Schedule) (*types.Schedule, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if schedule == nil {
		return nil, nil
	}
	if err := transaction.WithContext(ctx).Create(schedule).Error; err != nil {
		return nil, err
	}
	return schedule, nil
}

func (r *scheduleRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Schedule, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var schedule types.Schedule
	err := transaction.WithContext(ctx).Where("id = ?", id).First(&schedule).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &schedule, nil
}

func (r *scheduleRepo) List(ctx context.Context, tx *gorm.DB, limit, offset int) ([]*types.Schedule, int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	q := transaction.WithContext(ctx).Model(&types.Schedule{})
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var out []*types.Schedule
	if err := q.Order("created_at DESC").Limit(limit).Offset(offset).Find(&out).Error; err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (r *scheduleRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return transaction.WithContext(ctx).
		Model(&types.Schedule{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *scheduleRepo) Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	res := transaction.WithContext(ctx).Where("id = ?", id).Delete(&types.Schedule{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return types.ErrNotFound
	}
	return nil
}

func (r *scheduleRepo) FindDue(ctx context.Context, tx *gorm.DB, now time.Time, limit int) ([]*types.Schedule, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Schedule
	err := transaction.WithContext(ctx).
		Where("enabled = ? AND next_run_at IS NOT NULL AND next_run_at <= ?", true, now).
		Order("next_run_at ASC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *scheduleRepo) MarkFired(ctx context.Context, tx *gorm.DB, id uuid.UUID, firedAt time.Time, nextRunAt time.Time) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Model(&types.Schedule{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"last_run_at": firedAt,
			"next_run_at": nextRunAt,
			"run_count":   gorm.Expr("run_count + 1"),
			"updated_at":  time.Now(),
		}).Error
}

// AdvanceNextRun moves the fire time forward without recording a run. Used
// when job creation failed: skipping one firing beats replaying it forever.
func (r *scheduleRepo) AdvanceNextRun(ctx context.Context, tx *gorm.DB, id uuid.UUID, nextRunAt time.Time) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Model(&types.Schedule{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"next_run_at": nextRunAt,
			"updated_at":  time.Now(),
		}).Error
}
