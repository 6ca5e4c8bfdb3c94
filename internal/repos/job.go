package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/dispatch-backend/internal/logger"
	"github.com/yungbote/dispatch-backend/internal/types"
)

type JobRepo interface {
	Create(ctx context.Context, tx *gorm.DB, job *types.Job) (*types.Job, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Job, error)
	List(ctx context.Context, tx *gorm.DB, status *types.JobStatus, limit, offset int) ([]*types.Job, int64, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	UpdateIfOwned(ctx context.Context, tx *gorm.DB, id, workerID uuid.UUID, updates map[string]interface{}) (bool, error)
	CompleteIfOwned(ctx context.Context, tx *gorm.DB, id, workerID uuid.UUID, result datatypes.JSON) (bool, error)
	CancelIfCancellable(ctx context.Context, tx *gorm.DB, id uuid.UUID) (bool, error)
	FindProcessingByWorker(ctx context.Context, tx *gorm.DB, workerID uuid.UUID, limit int) ([]*types.Job, error)
	CountByStatus(ctx context.Context, tx *gorm.DB) (map[types.JobStatus]int64, error)
}

type jobRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewJobRepo(db *gorm.DB, baseLog *logger.Logger) JobRepo {
	return &jobRepo{
		db:  db,
		log: baseLog.With("repo", "JobRepo"),
	}
}

func (r *jobRepo) Create(ctx context.Context, tx *gorm.DB, job *types.Job) (*types.Job, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if job == nil {
		return nil, nil
	}
	if job.Status == "" {
		job.Status = types.StatusPending
	}
	if job.Priority == "" {
		job.Priority = types.PriorityNormal
	}
	if err := transaction.WithContext(ctx).Create(job).Error; err != nil {
		return nil, err
	}
	return job, nil
}

func (r *jobRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Job, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var job types.Job
	err := transaction.WithContext(ctx).Where("id = ?", id).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *jobRepo) List(ctx context.Context, tx *gorm.DB, status *types.JobStatus, limit, offset int) ([]*types.Job, int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	q := transaction.WithContext(ctx).Model(&types.Job{})
	if status != nil {
		q = q.Where("status = ?", *status)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var out []*types.Job
	if err := q.Order("created_at DESC").Limit(limit).Offset(offset).Find(&out).Error; err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (r *jobRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
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
		Model(&types.Job{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// UpdateIfOwned applies updates only while the row is still PROCESSING under
// workerID. The compare-and-set is what discards late finishers after orphan
// recovery has reclaimed the job.
func (r *jobRepo) UpdateIfOwned(ctx context.Context, tx *gorm.DB, id, workerID uuid.UUID, updates map[string]interface{}) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	res := transaction.WithContext(ctx).
		Model(&types.Job{}).
		Where("id = ? AND status = ? AND worker_id = ?", id, types.StatusProcessing, workerID).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *jobRepo) CompleteIfOwned(ctx context.Context, tx *gorm.DB, id, workerID uuid.UUID, result datatypes.JSON) (bool, error) {
	now := time.Now()
	return r.UpdateIfOwned(ctx, tx, id, workerID, map[string]interface{}{
		"status":       types.StatusCompleted,
		"result":       result,
		"error":        "",
		"completed_at": now,
		"updated_at":   now,
	})
}

func (r *jobRepo) CancelIfCancellable(ctx context.Context, tx *gorm.DB, id uuid.UUID) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	res := transaction.WithContext(ctx).
		Model(&types.Job{}).
		Where("id = ? AND status IN ?", id, []types.JobStatus{
			types.StatusPending, types.StatusQueued, types.StatusRetrying,
		}).
		Updates(map[string]interface{}{
			"status":     types.StatusCancelled,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *jobRepo) FindProcessingByWorker(ctx context.Context, tx *gorm.DB, workerID uuid.UUID, limit int) ([]*types.Job, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Job
	err := transaction.WithContext(ctx).
		Where("status = ? AND worker_id = ?", types.StatusProcessing, workerID).
		Order("started_at ASC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *jobRepo) CountByStatus(ctx context.Context, tx *gorm.DB) (map[types.JobStatus]int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	type row struct {
		Status types.JobStatus
		Count  int64
	}
	var rows []row
	err := transaction.WithContext(ctx).
		Model(&types.Job{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[types.JobStatus]int64, len(rows))
	for _, rw := range rows {
		out[rw.Status] = rw.Count
	}
	return out, nil
}
