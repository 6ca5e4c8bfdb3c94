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

type DeadLetterStats struct {
	Total    int64      `json:"total"`
	OldestAt *time.Time `json:"oldest_at,omitempty"`
	NewestAt *time.Time `json:"newest_at,omitempty"`
}

type DeadLetterRepo interface {
	Insert(ctx context.Context, tx *gorm.DB, entry *types.DeadLetterJob) (*types.DeadLetterJob, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.DeadLetterJob, error)
	List(ctx context.Context, tx *gorm.DB, limit, offset int) ([]*types.DeadLetterJob, int64, error)
	Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
	Stats(ctx context.Context, tx *gorm.DB) (DeadLetterStats, error)
}

type deadLetterRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDeadLetterRepo(db *gorm.DB, baseLog *logger.Logger) DeadLetterRepo {
	return &deadLetterRepo{
		db:  db,
		log: baseLog.With("repo", "DeadLetterRepo"),
	}
}

func (r *deadLetterRepo) Insert(ctx context.Context, tx *gorm.DB, entry *types.DeadLetterJob) (*types.DeadLetterJob, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if entry == nil {
		return nil, nil
	}
	if entry.FailedAt.IsZero() {
		entry.FailedAt = time.Now()
	}
	if err := transaction.WithContext(ctx).Create(entry).Error; err != nil {
		return nil, err
	}
	return entry, nil
}

func (r *deadLetterRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.DeadLetterJob, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var entry types.DeadLetterJob
	err := transaction.WithContext(ctx).Where("id = ?", id).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *deadLetterRepo) List(ctx context.Context, tx *gorm.DB, limit, offset int) ([]*types.DeadLetterJob, int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	q := transaction.WithContext(ctx).Model(&types.DeadLetterJob{})
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var out []*types.DeadLetterJob
	if err := q.Order("failed_at DESC").Limit(limit).Offset(offset).Find(&out).Error; err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (r *deadLetterRepo) Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	res := transaction.WithContext(ctx).Where("id = ?", id).Delete(&types.DeadLetterJob{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return types.ErrNotFound
	}
	return nil
}

func (r *deadLetterRepo) Stats(ctx context.Context, tx *gorm.DB) (DeadLetterStats, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out DeadLetterStats
	if err := transaction.WithContext(ctx).Model(&types.DeadLetterJob{}).Count(&out.Total).Error; err != nil {
		return DeadLetterStats{}, err
	}
	if out.Total == 0 {
		return out, nil
	}
	type bounds struct {
		Oldest time.Time
		Newest time.Time
	}
	var b bounds
	err := transaction.WithContext(ctx).
		Model(&types.DeadLetterJob{}).
		Select("MIN(failed_at) as oldest, MAX(failed_at) as newest").
		Scan(&b).Error
	if err != nil {
		return DeadLetterStats{}, err
	}
	out.OldestAt = &b.Oldest
	out.NewestAt = &b.Newest
	return out, nil
}
