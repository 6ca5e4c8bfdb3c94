package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/yungbote/dispatch-backend/internal/logger"
	"github.com/yungbote/dispatch-backend/internal/repos"
	"github.com/yungbote/dispatch-backend/internal/types"
)

// DLQIndex is the slice of the queue manager the dead-letter service drives.
type DLQIndex interface {
	RemoveFromDLQ(ctx context.Context, jobID uuid.UUID) error
}

type DeadLetterService interface {
	List(ctx context.Context, limit, offset int) ([]*types.DeadLetterJob, int64, error)
	GetByID(ctx context.Context, id uuid.UUID) (*types.DeadLetterJob, error)
	Retry(ctx context.Context, id uuid.UUID) (*types.Job, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Stats(ctx context.Context) (repos.DeadLetterStats, error)
}

type deadLetterService struct {
	log     *logger.Logger
	dlqRepo repos.DeadLetterRepo
	jobs    JobService
	index   DLQIndex
}

func NewDeadLetterService(baseLog *logger.Logger, dlqRepo repos.DeadLetterRepo, jobs JobService, index DLQIndex) DeadLetterService {
	return &deadLetterService{
		log:     baseLog.With("service", "DeadLetterService"),
		dlqRepo: dlqRepo,
		jobs:    jobs,
		index:   index,
	}
}

func (s *deadLetterService) List(ctx context.Context, limit, offset int) ([]*types.DeadLetterJob, int64, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.dlqRepo.List(ctx, nil, limit, offset)
}

func (s *deadLetterService) GetByID(ctx context.Context, id uuid.UUID) (*types.DeadLetterJob, error) {
	return s.dlqRepo.GetByID(ctx, nil, id)
}

// Retry resubmits the archived descriptor as a brand-new job with a fresh
// retry budget, then drops the archive entry from both stores.
func (s *deadLetterService) Retry(ctx context.Context, id uuid.UUID) (*types.Job, error) {
	entry, err := s.dlqRepo.GetByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}

	job, err := s.jobs.Create(ctx, CreateJobInput{
		Name:     entry.JobName,
		Type:     entry.JobType,
		Payload:  entry.JobPayload,
		Priority: string(entry.JobPriority),
	})
	if err != nil {
		return nil, fmt.Errorf("recreate job from dead letter %s: %w", id, err)
	}

	if err := s.index.RemoveFromDLQ(ctx, entry.OriginalJobID); err != nil {
		s.log.Warn("Failed to clear dead-letter index entry", "original_job_id", entry.OriginalJobID, "error", err)
	}
	if err := s.dlqRepo.Delete(ctx, nil, id); err != nil {
		s.log.Warn("Failed to delete dead-letter row after retry", "dead_letter_id", id, "error", err)
	}

	s.log.Info("Dead-letter job resubmitted",
		"dead_letter_id", id,
		"original_job_id", entry.OriginalJobID,
		"new_job_id", job.ID)
	return job, nil
}

func (s *deadLetterService) Delete(ctx context.Context, id uuid.UUID) error {
	entry, err := s.dlqRepo.GetByID(ctx, nil, id)
	if err != nil {
		return err
	}
	if err := s.index.RemoveFromDLQ(ctx, entry.OriginalJobID); err != nil {
		s.log.Warn("Failed to clear dead-letter index entry", "original_job_id", entry.OriginalJobID, "error", err)
	}
	return s.dlqRepo.Delete(ctx, nil, id)
}

func (s *deadLetterService) Stats(ctx context.Context) (repos.DeadLetterStats, error) {
	return s.dlqRepo.Stats(ctx, nil)
}
