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

type WorkerRepo interface {
	Register(ctx context.Context, tx *gorm.DB, worker *types.Worker) (*types.Worker, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Worker, error)
	List(ctx context.Context, tx *gorm.DB) ([]*types.Worker, error)
	Heartbeat(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
	MarkStopped(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
	FindStale(ctx context.Context, tx *gorm.DB, cutoff time.Time) ([]*types.Worker, error)
	AdjustActiveJobs(ctx context.Context, tx *gorm.DB, id uuid.UUID, delta int) error
	IncrementProcessed(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
	IncrementFailed(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
	CountActive(ctx context.Context, tx *gorm.DB) (int64, error)
}

type workerRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewWorkerRepo(db *gorm.DB, baseLog *logger.Logger) WorkerRepo {
	return &workerRepo{
		db:  db,
		log: baseLog.With("repo", "WorkerRepo"),
	}
}

func (r *workerRepo) Register(ctx context.Context, tx *gorm.DB, worker *types.Worker) (*types.Worker, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if worker == nil {
		return nil, nil
	}
	now := time.Now()
	if worker.Status == "" {
		worker.Status = types.WorkerActive
	}
	if worker.StartedAt.IsZero() {
		worker.StartedAt = now
	}
	if worker.LastHeartbeat.IsZero() {
		worker.LastHeartbeat = now
	}
	if err := transaction.WithContext(ctx).Create(worker).Error; err != nil {
		return nil, err
	}
	return worker, nil
}

func (r *workerRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Worker, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var worker types.Worker
	err := transaction.WithContext(ctx).Where("id = ?", id).First(&worker).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &worker, nil
}

func (r *workerRepo) List(ctx context.Context, tx *gorm.DB) ([]*types.Worker, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Worker
	if err := transaction.WithContext(ctx).Order("started_at DESC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Heartbeat is guarded so a recovered (stopped) worker cannot resurrect its
// row; last_heartbeat stays monotonic because now only moves forward.
func (r *workerRepo) Heartbeat(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	return transaction.WithContext(ctx).
		Model(&types.Worker{}).
		Where("id = ? AND status <> ?", id, types.WorkerStopped).
		Update("last_heartbeat", time.Now()).Error
}

func (r *workerRepo) MarkStopped(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	now := time.Now()
	return transaction.WithContext(ctx).
		Model(&types.Worker{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":      types.WorkerStopped,
			"stopped_at":  now,
			"active_jobs": 0,
		}).Error
}

func (r *workerRepo) FindStale(ctx context.Context, tx *gorm.DB, cutoff time.Time) ([]*types.Worker, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Worker
	err := transaction.WithContext(ctx).
		Where("status = ? AND last_heartbeat < ?", types.WorkerActive, cutoff).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *workerRepo) AdjustActiveJobs(ctx context.Context, tx *gorm.DB, id uuid.UUID, delta int) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Model(&types.Worker{}).
		Where("id = ?", id).
		Update("active_jobs", gorm.Expr("GREATEST(active_jobs + ?, 0)", delta)).Error
}

func (r *workerRepo) IncrementProcessed(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Model(&types.Worker{}).
		Where("id = ?", id).
		Update("processed_count", gorm.Expr("processed_count + 1")).Error
}

func (r *workerRepo) IncrementFailed(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Model(&types.Worker{}).
		Where("id = ?", id).
		Update("failed_count", gorm.Expr("failed_count + 1")).Error
}

func (r *workerRepo) CountActive(ctx context.Context, tx *gorm.DB) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var count int64
	err := transaction.WithContext(ctx).
		Model(&types.Worker{}).
		Where("status = ?", types.WorkerActive).
		Count(&count).Error
	return count, err
}
