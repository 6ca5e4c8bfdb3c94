package recovery

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/dispatch-backend/internal/logger"
	"github.com/yungbote/dispatch-backend/internal/metrics"
	"github.com/yungbote/dispatch-backend/internal/repos"
	"github.com/yungbote/dispatch-backend/internal/types"
)

const recoveredError = "Worker died, job recovered automatically"

// RecoveryQueue is the slice of the queue manager orphan recovery drives.
type RecoveryQueue interface {
	MarkCompleted(ctx context.Context, jobID uuid.UUID) error
	Requeue(ctx context.Context, jobID uuid.UUID, priority types.JobPriority, delay time.Duration) error
}

type Config struct {
	CheckInterval  time.Duration
	StaleThreshold time.Duration
	RecoveryDelay  time.Duration
	PageSize       int
}

func DefaultConfig() Config {
	return Config{
		CheckInterval:  60 * time.Second,
		StaleThreshold: 90 * time.Second,
		RecoveryDelay:  5 * time.Second,
		PageSize:       100,
	}
}

/*
Recovery heals jobs stranded in PROCESSING by workers that stopped
heartbeating. Reclaiming bumps retry_count and clears worker_id, so a
hung-then-resumed worker that later tries to finish its job fails the
ownership compare-and-set and its late result is discarded.
*/
type Recovery struct {
	log        *logger.Logger
	cfg        Config
	workerRepo repos.WorkerRepo
	jobRepo    repos.JobRepo
	queue      RecoveryQueue
}

func New(baseLog *logger.Logger, cfg Config, workerRepo repos.WorkerRepo, jobRepo repos.JobRepo, queue RecoveryQueue) *Recovery {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 60 * time.Second
	}
	if cfg.StaleThreshold <= 0 {
		cfg.StaleThreshold = 90 * time.Second
	}
	if cfg.RecoveryDelay <= 0 {
		cfg.RecoveryDelay = 5 * time.Second
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	return &Recovery{
		log:        baseLog.With("component", "OrphanRecovery"),
		cfg:        cfg,
		workerRepo: workerRepo,
		jobRepo:    jobRepo,
		queue:      queue,
	}
}

func (r *Recovery) Run(ctx context.Context) error {
	r.log.Info("Orphan recovery started",
		"check_interval", r.cfg.CheckInterval,
		"stale_threshold", r.cfg.StaleThreshold)
	ticker := time.NewTicker(r.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.log.Info("Orphan recovery stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil {
				r.log.Error("Recovery tick failed", "error", err)
			}
		}
	}
}

// RunOnce reclaims the in-flight jobs of every stale worker and returns how
// many jobs were recovered.
func (r *Recovery) RunOnce(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-r.cfg.StaleThreshold)
	stale, err := r.workerRepo.FindStale(ctx, nil, cutoff)
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, worker := range stale {
		n, err := r.recoverWorker(ctx, worker)
		recovered += n
		if err != nil {
			r.log.Error("Failed to fully recover worker", "dead_worker_id", worker.ID, "error", err)
			continue
		}
		if err := r.workerRepo.MarkStopped(ctx, nil, worker.ID); err != nil {
			r.log.Error("Failed to mark dead worker stopped", "dead_worker_id", worker.ID, "error", err)
		}
	}
	return recovered, nil
}

func (r *Recovery) recoverWorker(ctx context.Context, worker *types.Worker) (int, error) {
	log := r.log.With("dead_worker_id", worker.ID, "last_heartbeat", worker.LastHeartbeat)
	log.Warn("Recovering jobs from stale worker")

	jobs, err := r.jobRepo.FindProcessingByWorker(ctx, nil, worker.ID, r.cfg.PageSize)
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, job := range jobs {
		err := r.jobRepo.UpdateFields(ctx, nil, job.ID, map[string]interface{}{
			"status":      types.StatusRetrying,
			"retry_count": gorm.Expr("retry_count + 1"),
			"error":       recoveredError,
			"worker_id":   nil,
		})
		if err != nil {
			log.Error("Failed to reclaim job row", "job_id", job.ID, "error", err)
			continue
		}
		if err := r.queue.MarkCompleted(ctx, job.ID); err != nil {
			log.Error("Failed to clear processing index", "job_id", job.ID, "error", err)
		}
		if err := r.queue.Requeue(ctx, job.ID, job.Priority, r.cfg.RecoveryDelay); err != nil {
			log.Error("Failed to requeue recovered job", "job_id", job.ID, "error", err)
			continue
		}
		recovered++
		metrics.JobsRecovered.Inc()
		log.Info("Recovered orphaned job", "job_id", job.ID)
	}
	return recovered, nil
}
