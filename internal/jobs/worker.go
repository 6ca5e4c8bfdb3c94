package jobs

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/yungbote/dispatch-backend/internal/logger"
	"github.com/yungbote/dispatch-backend/internal/metrics"
	"github.com/yungbote/dispatch-backend/internal/repos"
	"github.com/yungbote/dispatch-backend/internal/types"
)

// WorkerQueue is the slice of the queue manager the worker loop drives.
type WorkerQueue interface {
	Dequeue(ctx context.Context) (uuid.UUID, bool, error)
	PromoteDelayed(ctx context.Context) (int, error)
}

// Runner executes one claimed job. Implemented by *Processor.
type Runner interface {
	Process(ctx context.Context, job *types.Job, workerID uuid.UUID) (Outcome, error)
}

type WorkerConfig struct {
	Name              string
	Concurrency       int
	PollInterval      time.Duration
	HeartbeatInterval time.Duration
	PromoteInterval   time.Duration
}

func DefaultWorkerConfig() WorkerConfig {
	hostname, _ := os.Hostname()
	return WorkerConfig{
		Name:              hostname,
		Concurrency:       1,
		PollInterval:      1 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		PromoteInterval:   5 * time.Second,
	}
}

/*
Worker is one registered processing process. It runs three cooperating
activities under a shared context: the heartbeat ticker, the delayed-job
promoter, and N slot loops that dequeue and delegate to the processor.

Slots share nothing but the queue manager, so concurrency beyond one has no
effect on the per-job state machine. The dequeue pop is the mutual exclusion
that establishes single ownership; the row-level worker_id is advisory.
*/
type Worker struct {
	log        *logger.Logger
	cfg        WorkerConfig
	workerRepo repos.WorkerRepo
	jobRepo    repos.JobRepo
	queue      WorkerQueue
	runner     Runner

	id uuid.UUID
}

func NewWorker(baseLog *logger.Logger, cfg WorkerConfig, workerRepo repos.WorkerRepo, jobRepo repos.JobRepo, queue WorkerQueue, runner Runner) *Worker {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 1 * time.Second
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.PromoteInterval <= 0 {
		cfg.PromoteInterval = 5 * time.Second
	}
	return &Worker{
		log:        baseLog.With("component", "Worker"),
		cfg:        cfg,
		workerRepo: workerRepo,
		jobRepo:    jobRepo,
		queue:      queue,
		runner:     runner,
	}
}

// ID returns the registered worker id; uuid.Nil before Start.
func (w *Worker) ID() uuid.UUID { return w.id }

// Start registers the worker row and blocks until ctx is cancelled. On the
// way out it writes the stopped state with a fresh context so shutdown is
// recorded even though ctx is already dead.
func (w *Worker) Start(ctx context.Context) error {
	hostname, _ := os.Hostname()
	row, err := w.workerRepo.Register(ctx, nil, &types.Worker{
		Name:        w.cfg.Name,
		Hostname:    hostname,
		PID:         os.Getpid(),
		Status:      types.WorkerActive,
		Concurrency: w.cfg.Concurrency,
	})
	if err != nil {
		return err
	}
	w.id = row.ID
	w.log = w.log.With("worker_id", w.id)
	w.log.Info("Worker started", "concurrency", w.cfg.Concurrency)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.heartbeatLoop(gctx) })
	g.Go(func() error { return w.promoteLoop(gctx) })
	for i := 0; i < w.cfg.Concurrency; i++ {
		slot := i
		g.Go(func() error { return w.slotLoop(gctx, slot) })
	}
	runErr := g.Wait()

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.workerRepo.MarkStopped(stopCtx, nil, w.id); err != nil {
		w.log.Error("Failed to record worker stop", "error", err)
	}
	w.log.Info("Worker stopped")

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

func (w *Worker) heartbeatLoop(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.workerRepo.Heartbeat(ctx, nil, w.id); err != nil {
				w.log.Warn("Heartbeat failed", "error", err)
			}
		}
	}
}

func (w *Worker) promoteLoop(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.PromoteInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			promoted, err := w.queue.PromoteDelayed(ctx)
			if err != nil {
				w.log.Warn("PromoteDelayed failed", "error", err)
				continue
			}
			if promoted > 0 {
				w.log.Debug("Promoted delayed jobs", "count", promoted)
			}
		}
	}
}

// slotLoop is the sequential dequeue-process loop of one slot. It never dies
// on handler or infrastructure errors; it logs and backs off one poll
// interval.
func (w *Worker) slotLoop(ctx context.Context, slot int) error {
	log := w.log.With("slot", slot)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		processed, err := w.RunOnce(ctx)
		if err != nil {
			log.Error("Worker loop iteration failed", "error", err)
			if !sleepCtx(ctx, w.cfg.PollInterval) {
				return ctx.Err()
			}
			continue
		}
		if !processed {
			if !sleepCtx(ctx, w.cfg.PollInterval) {
				return ctx.Err()
			}
		}
	}
}

// RunOnce claims and processes at most one job. Returns false when the ready
// set was empty or the popped reference was stale.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	jobID, ok, err := w.queue.Dequeue(ctx)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	job, err := w.jobRepo.GetByID(ctx, nil, jobID)
	if errors.Is(err, types.ErrNotFound) {
		w.log.Warn("Dequeued unknown job id, skipping", "job_id", jobID)
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !job.Status.Dequeueable() {
		// Absorbs cancellations racing with dequeue.
		w.log.Debug("Dequeued job not in a runnable status, skipping", "job_id", jobID, "status", job.Status)
		return false, nil
	}

	if err := w.workerRepo.AdjustActiveJobs(ctx, nil, w.id, 1); err != nil {
		w.log.Warn("Failed to bump active_jobs", "error", err)
	}
	started := time.Now()
	outcome, procErr := w.runner.Process(ctx, job, w.id)
	metrics.JobDuration.Observe(time.Since(started).Seconds())
	if err := w.workerRepo.AdjustActiveJobs(ctx, nil, w.id, -1); err != nil {
		w.log.Warn("Failed to drop active_jobs", "error", err)
	}

	switch outcome {
	case OutcomeCompleted:
		metrics.JobsCompleted.Inc()
		if err := w.workerRepo.IncrementProcessed(ctx, nil, w.id); err != nil {
			w.log.Warn("Failed to bump processed_count", "error", err)
		}
	case OutcomeRetrying, OutcomeFailed:
		if outcome == OutcomeFailed {
			metrics.JobsDead.Inc()
		}
		metrics.JobsFailed.Inc()
		if err := w.workerRepo.IncrementFailed(ctx, nil, w.id); err != nil {
			w.log.Warn("Failed to bump failed_count", "error", err)
		}
	}
	if procErr != nil {
		return true, procErr
	}
	return true, nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
