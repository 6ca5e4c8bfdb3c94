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

type WebhookEventRepo interface {
	Insert(ctx context.Context, tx *gorm.DB, event *types.WebhookEvent) (*types.WebhookEvent, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.WebhookEvent, error)
	ListByJob(ctx context.Context, tx *gorm.DB, jobID uuid.UUID) ([]*types.WebhookEvent, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	FindRetryable(ctx context.Context, tx *gorm.DB, limit int) ([]*types.WebhookEvent, error)
}

type webhookEventRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewWebhookEventRepo(db *gorm.DB, baseLog *logger.Logger) WebhookEventRepo {
	return &webhookEventRepo{
		db:  db,
		log: baseLog.With("repo", "WebhookEventRepo"),
	}
}

func (r *webhookEventRepo) Insert(ctx context.Context, tx *gorm.DB, event *types.WebhookEvent) (*types.WebhookEvent, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if event == nil {
		return nil, nil
	}
	if event.Status == "" {
		event.Status = types.WebhookPending
	}
	if err := transaction.WithContext(ctx).Create(event).Error; err != nil {
		return nil, err
	}
	return event, nil
}

func (r *webhookEventRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.WebhookEvent, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var event types.WebhookEvent
	err := transaction.WithContext(ctx).Where("id = ?", id).First(&event).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *webhookEventRepo) ListByJob(ctx context.Context, tx *gorm.DB, jobID uuid.UUID) ([]*types.WebhookEvent, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.WebhookEvent
	err := transaction.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("created_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *webhookEventRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
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
		Model(&types.WebhookEvent{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// FindRetryable returns events still owed an attempt. The backoff predicate
// (lastAttemptAt + base * 2^attempts) is applied by the retry processor, not
// here, so a fresh batch is always a single indexed query.
func (r *webhookEventRepo) FindRetryable(ctx context.Context, tx *gorm.DB, limit int) ([]*types.WebhookEvent, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.WebhookEvent
	err := transaction.WithContext(ctx).
		Where("status IN ? AND attempts < max_attempts", []types.WebhookStatus{
			types.WebhookPending, types.WebhookRetrying,
		}).
		Order("created_at ASC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}
