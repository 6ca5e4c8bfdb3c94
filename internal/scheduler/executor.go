package scheduler

import (
	"context"
	"time"

	"github.com/yungbote/dispatch-backend/internal/logger"
	"github.com/yungbote/dispatch-backend/internal/repos"
	"github.com/yungbote/dispatch-backend/internal/types"
)

const leaseName = "schedule-executor"

// JobCreator materializes a queued job from a due schedule's template.
// Implemented by services.JobService.
type JobCreator interface {
	CreateFromSchedule(ctx context.Context, schedule *types.Schedule) (*types.Job, error)
}

// Lease is the mutual-exclusion slice of the queue manager. Firing the same
// schedule from two executor processes would duplicate jobs, so only the
// lease holder fires; the other instance stands by.
type Lease interface {
	RenewLease(ctx context.Context, name, holder string, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, name, holder string) error
}

type ExecutorConfig struct {
	CheckInterval time.Duration
	LeaseTTL      time.Duration
	BatchSize     int
	HolderID      string
}

func DefaultExecutorConfig(holderID string) ExecutorConfig {
	return ExecutorConfig{
		CheckInterval: 10 * time.Second,
		LeaseTTL:      30 * time.Second,
		BatchSize:     100,
		HolderID:      holderID,
	}
}

// Executor fires due schedules: it creates a job from each template and
// advances the schedule's next-fire time.
type Executor struct {
	log          *logger.Logger
	cfg          ExecutorConfig
	scheduleRepo repos.ScheduleRepo
	creator      JobCreator
	lease        Lease
}

func NewExecutor(baseLog *logger.Logger, cfg ExecutorConfig, scheduleRepo repos.ScheduleRepo, creator JobCreator, lease Lease) *Executor {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 10 * time.Second
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 3 * cfg.CheckInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Executor{
		log:          baseLog.With("component", "ScheduleExecutor"),
		cfg:          cfg,
		scheduleRepo: scheduleRepo,
		creator:      creator,
		lease:        lease,
	}
}

// Run ticks until ctx is cancelled. Errors inside a tick are logged, never
// propagated; the next tick starts fresh.
func (e *Executor) Run(ctx context.Context) error {
	e.log.Info("Schedule executor started", "check_interval", e.cfg.CheckInterval)
	e.tick(ctx)

	ticker := time.NewTicker(e.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := e.lease.ReleaseLease(releaseCtx, leaseName, e.cfg.HolderID); err != nil {
				e.log.Warn("Failed to release executor lease", "error", err)
			}
			e.log.Info("Schedule executor stopped")
			return ctx.Err()
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

func (e *Executor) tick(ctx context.Context) {
	held, err := e.lease.RenewLease(ctx, leaseName, e.cfg.HolderID, e.cfg.LeaseTTL)
	if err != nil {
		e.log.Warn("Executor lease check failed", "error", err)
		return
	}
	if !held {
		e.log.Debug("Executor lease held elsewhere, standing by")
		return
	}
	if _, err := e.RunOnce(ctx); err != nil {
		e.log.Error("Schedule tick failed", "error", err)
	}
}

// RunOnce fires every due schedule once and returns how many fired.
func (e *Executor) RunOnce(ctx context.Context) (int, error) {
	now := time.Now()
	due, err := e.scheduleRepo.FindDue(ctx, nil, now, e.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	fired := 0
	for _, schedule := range due {
		if ctx.Err() != nil {
			return fired, ctx.Err()
		}
		if e.fire(ctx, schedule, now) {
			fired++
		}
	}
	return fired, nil
}

// fire creates the job for one due schedule and advances next_run_at. When
// job creation fails the fire time still advances: skipping one firing beats
// replaying it on every tick.
func (e *Executor) fire(ctx context.Context, schedule *types.Schedule, now time.Time) bool {
	log := e.log.With("schedule_id", schedule.ID, "schedule_name", schedule.Name)

	next, cronErr := NextRun(schedule.CronExpr, schedule.Timezone, now)
	if cronErr != nil {
		// A schedule whose expression no longer evaluates would stay due
		// forever; disable it instead of spinning.
		log.Error("Cron evaluation failed, disabling schedule", "error", cronErr)
		if err := e.scheduleRepo.UpdateFields(ctx, nil, schedule.ID, map[string]interface{}{
			"enabled":     false,
			"next_run_at": nil,
		}); err != nil {
			log.Error("Failed to disable schedule", "error", err)
		}
		return false
	}

	job, err := e.creator.CreateFromSchedule(ctx, schedule)
	if err != nil {
		log.Error("Failed to create job from schedule", "error", err)
		if err := e.scheduleRepo.AdvanceNextRun(ctx, nil, schedule.ID, next); err != nil {
			log.Error("Failed to advance schedule after creation failure", "error", err)
		}
		return false
	}

	if err := e.scheduleRepo.MarkFired(ctx, nil, schedule.ID, now, next); err != nil {
		log.Error("Failed to record schedule firing", "error", err)
		return false
	}
	log.Info("Schedule fired", "job_id", job.ID, "next_run_at", next)
	return true
}
