package services

import (
	"context"

	"github.com/yungbote/dispatch-backend/internal/logger"
	"github.com/yungbote/dispatch-backend/internal/queue"
	"github.com/yungbote/dispatch-backend/internal/repos"
	"github.com/yungbote/dispatch-backend/internal/types"
)

type Overview struct {
	Jobs    map[types.JobStatus]int64 `json:"jobs"`
	Queue   queue.Stats               `json:"queue"`
	Workers []*types.Worker           `json:"workers"`
}

// StatsService aggregates the observability reads backing GET /metrics/*.
type StatsService interface {
	Overview(ctx context.Context) (*Overview, error)
}

type statsService struct {
	log        *logger.Logger
	jobRepo    repos.JobRepo
	workerRepo repos.WorkerRepo
	queue      JobQueue
}

func NewStatsService(baseLog *logger.Logger, jobRepo repos.JobRepo, workerRepo repos.WorkerRepo, q JobQueue) StatsService {
	return &statsService{
		log:        baseLog.With("service", "StatsService"),
		jobRepo:    jobRepo,
		workerRepo: workerRepo,
		queue:      q,
	}
}

func (s *statsService) Overview(ctx context.Context) (*Overview, error) {
	byStatus, err := s.jobRepo.CountByStatus(ctx, nil)
	if err != nil {
		return nil, err
	}
	queueStats, err := s.queue.Stats(ctx)
	if err != nil {
		return nil, err
	}
	workers, err := s.workerRepo.List(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &Overview{
		Jobs:    byStatus,
		Queue:   queueStats,
		Workers: workers,
	}, nil
}
