package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/yungbote/dispatch-backend/internal/logger"
	"github.com/yungbote/dispatch-backend/internal/metrics"
	"github.com/yungbote/dispatch-backend/internal/queue"
	"github.com/yungbote/dispatch-backend/internal/repos"
	"github.com/yungbote/dispatch-backend/internal/types"
)

// JobQueue is the slice of the queue manager the job service drives.
type JobQueue interface {
	Enqueue(ctx context.Context, jobID uuid.UUID, priority types.JobPriority) error
	EnqueueDelayed(ctx context.Context, jobID uuid.UUID, fireAt time.Time, priority types.JobPriority) error
	Stats(ctx context.Context) (queue.Stats, error)
}

type CreateJobInput struct {
	Name         string         `json:"name"`
	Type         string         `json:"type" binding:"required"`
	Payload      datatypes.JSON `json:"payload"`
	Priority     string         `json:"priority"`
	MaxRetries   *int           `json:"max_retries"`
	RetryDelayMs *int           `json:"retry_delay_ms"`
	ScheduledAt  *time.Time     `json:"scheduled_at"`
	WebhookURL   string         `json:"webhook_url"`
}

type JobService interface {
	Create(ctx context.Context, input CreateJobInput) (*types.Job, error)
	CreateFromSchedule(ctx context.Context, schedule *types.Schedule) (*types.Job, error)
	GetByID(ctx context.Context, id uuid.UUID) (*types.Job, error)
	List(ctx context.Context, status *types.JobStatus, limit, offset int) ([]*types.Job, int64, error)
	Cancel(ctx context.Context, id uuid.UUID) (*types.Job, error)
	QueueStats(ctx context.Context) (queue.Stats, error)
}

type jobService struct {
	log     *logger.Logger
	jobRepo repos.JobRepo
	queue   JobQueue
}

func NewJobService(baseLog *logger.Logger, jobRepo repos.JobRepo, q JobQueue) JobService {
	return &jobService{
		log:     baseLog.With("service", "JobService"),
		jobRepo: jobRepo,
		queue:   q,
	}
}

// Create validates the request, writes the job row, and indexes it for
// execution: ready when immediately runnable, delayed when scheduled_at is
// in the future. The row is written first so a crash between the two writes
// loses only the index entry, never the record.
func (s *jobService) Create(ctx context.Context, input CreateJobInput) (*types.Job, error) {
	if input.Type == "" {
		return nil, fmt.Errorf("%w: type is required", types.ErrInvalidInput)
	}
	priority := types.PriorityNormal
	if input.Priority != "" {
		priority = types.JobPriority(input.Priority)
		if !priority.Valid() {
			return nil, fmt.Errorf("%w: unknown priority %q", types.ErrInvalidPriority, input.Priority)
		}
	}
	maxRetries := 3
	if input.MaxRetries != nil {
		if *input.MaxRetries < 0 {
			return nil, fmt.Errorf("%w: max_retries must be >= 0", types.ErrInvalidInput)
		}
		maxRetries = *input.MaxRetries
	}
	retryDelayMs := 1000
	if input.RetryDelayMs != nil {
		if *input.RetryDelayMs < 100 {
			return nil, fmt.Errorf("%w: retry_delay_ms must be >= 100", types.ErrInvalidInput)
		}
		retryDelayMs = *input.RetryDelayMs
	}
	name := input.Name
	if name == "" {
		name = input.Type
	}

	job := &types.Job{
		Name:         name,
		Type:         input.Type,
		Payload:      input.Payload,
		Priority:     priority,
		Status:       types.StatusPending,
		MaxRetries:   maxRetries,
		RetryDelayMs: retryDelayMs,
		ScheduledAt:  input.ScheduledAt,
		WebhookURL:   input.WebhookURL,
	}
	return s.createAndIndex(ctx, job)
}

// CreateFromSchedule materializes a job from a schedule template with the
// fixed retry policy schedules use.
func (s *jobService) CreateFromSchedule(ctx context.Context, schedule *types.Schedule) (*types.Job, error) {
	scheduleID := schedule.ID
	job := &types.Job{
		Name:         fmt.Sprintf("%s (scheduled)", schedule.Name),
		Type:         schedule.JobType,
		Payload:      schedule.JobPayload,
		Priority:     schedule.JobPriority,
		Status:       types.StatusPending,
		MaxRetries:   3,
		RetryDelayMs: 1000,
		ScheduleID:   &scheduleID,
	}
	return s.createAndIndex(ctx, job)
}

func (s *jobService) createAndIndex(ctx context.Context, job *types.Job) (*types.Job, error) {
	created, err := s.jobRepo.Create(ctx, nil, job)
	if err != nil {
		return nil, fmt.Errorf("create job row: %w", err)
	}

	if created.ScheduledAt != nil && created.ScheduledAt.After(time.Now()) {
		err = s.queue.EnqueueDelayed(ctx, created.ID, *created.ScheduledAt, created.Priority)
	} else {
		err = s.queue.Enqueue(ctx, created.ID, created.Priority)
	}
	if err != nil {
		// The row exists but never reached the index; surface the failure
		// instead of leaving the caller believing the job will run.
		return nil, fmt.Errorf("index job %s: %w", created.ID, err)
	}

	if err := s.jobRepo.UpdateFields(ctx, nil, created.ID, map[string]interface{}{
		"status": types.StatusQueued,
	}); err != nil {
		return nil, fmt.Errorf("mark job queued: %w", err)
	}
	created.Status = types.StatusQueued
	metrics.JobsEnqueued.Inc()
	s.log.Info("Job created",
		"job_id", created.ID,
		"job_type", created.Type,
		"priority", created.Priority,
		"scheduled_at", created.ScheduledAt)
	return created, nil
}

func (s *jobService) GetByID(ctx context.Context, id uuid.UUID) (*types.Job, error) {
	return s.jobRepo.GetByID(ctx, nil, id)
}

func (s *jobService) List(ctx context.Context, status *types.JobStatus, limit, offset int) ([]*types.Job, int64, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.jobRepo.List(ctx, nil, status, limit, offset)
}

// Cancel transitions a job to CANCELLED when it has not started running.
// The index entry is left behind; workers discard popped references whose
// row is no longer dequeueable.
func (s *jobService) Cancel(ctx context.Context, id uuid.UUID) (*types.Job, error) {
	job, err := s.jobRepo.GetByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	cancelled, err := s.jobRepo.CancelIfCancellable(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if !cancelled {
		return nil, fmt.Errorf("%w: cannot cancel job in status %s", types.ErrInvalidTransition, job.Status)
	}
	return s.jobRepo.GetByID(ctx, nil, id)
}

func (s *jobService) QueueStats(ctx context.Context) (queue.Stats, error) {
	return s.queue.Stats(ctx)
}
