package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/dispatch-backend/internal/logger"
	"github.com/yungbote/dispatch-backend/internal/repos"
	"github.com/yungbote/dispatch-backend/internal/types"
)

// maxRetryBackoff caps the exponential retry delay.
const maxRetryBackoff = 60 * time.Second

// Outcome is what one Process call did with the job.
type Outcome int

const (
	OutcomeCompleted Outcome = iota
	OutcomeRetrying
	OutcomeFailed
	// OutcomeDiscarded: the job was reclaimed while the handler ran; the
	// late result was thrown away.
	OutcomeDiscarded
)

// QueueIndex is the slice of the queue manager the processor drives.
type QueueIndex interface {
	MarkProcessing(ctx context.Context, jobID, workerID uuid.UUID) error
	MarkCompleted(ctx context.Context, jobID uuid.UUID) error
	Requeue(ctx context.Context, jobID uuid.UUID, priority types.JobPriority, delay time.Duration) error
	MoveToDLQ(ctx context.Context, jobID uuid.UUID, reason string) error
}

// Notifier submits outbound webhook notifications. Implementations must not
// block job finality on delivery.
type Notifier interface {
	JobCompleted(ctx context.Context, job *types.Job)
	JobFailed(ctx context.Context, job *types.Job)
}

// Processor runs the state machine of a single job execution.
type Processor struct {
	log      *logger.Logger
	jobRepo  repos.JobRepo
	dlqRepo  repos.DeadLetterRepo
	registry *Registry
	queue    QueueIndex
	notify   Notifier
}

func NewProcessor(baseLog *logger.Logger, jobRepo repos.JobRepo, dlqRepo repos.DeadLetterRepo, registry *Registry, queue QueueIndex, notify Notifier) *Processor {
	return &Processor{
		log:      baseLog.With("component", "JobProcessor"),
		jobRepo:  jobRepo,
		dlqRepo:  dlqRepo,
		registry: registry,
		queue:    queue,
		notify:   notify,
	}
}

// Backoff computes the retry delay before attempt retryCount+1:
// retryDelayMs * 2^retryCount, capped at maxRetryBackoff.
func Backoff(retryDelayMs, retryCount int) time.Duration {
	d := float64(retryDelayMs) * math.Pow(2, float64(retryCount))
	if d > float64(maxRetryBackoff.Milliseconds()) {
		return maxRetryBackoff
	}
	return time.Duration(d) * time.Millisecond
}

// Process drives one job through PROCESSING to a terminal or retrying state.
//
// If a store or index write fails transiently before the outcome is written
// to the job row, the job is left PROCESSING and orphan recovery heals it. A
// failure after that row write (requeue, index clean-up, dead-letter insert)
// is returned as an error with the row already in its new state. The
// processor never retries its own infrastructure operations inline.
func (p *Processor) Process(ctx context.Context, job *types.Job, workerID uuid.UUID) (Outcome, error) {
	if job == nil {
		return OutcomeDiscarded, fmt.Errorf("nil job")
	}
	log := p.log.With("job_id", job.ID, "job_type", job.Type, "worker_id", workerID)

	handler, ok := p.registry.Get(job.Type)
	if !ok {
		// Missing handler is a deployment error, not a retryable condition.
		log.Warn("No handler registered for job_type")
		return p.permanentFailure(ctx, job, workerID, fmt.Sprintf("no handler for type %s", job.Type), "", false)
	}

	now := time.Now()
	err := p.jobRepo.UpdateFields(ctx, nil, job.ID, map[string]interface{}{
		"status":     types.StatusProcessing,
		"started_at": now,
		"worker_id":  workerID,
	})
	if err != nil {
		return OutcomeDiscarded, fmt.Errorf("transition to processing: %w", err)
	}
	job.Status = types.StatusProcessing
	job.StartedAt = &now
	job.WorkerID = &workerID
	if err := p.queue.MarkProcessing(ctx, job.ID, workerID); err != nil {
		return OutcomeDiscarded, fmt.Errorf("mark processing: %w", err)
	}

	result, handlerErr, stack := p.invoke(ctx, handler, job)

	if handlerErr == nil {
		return p.succeed(ctx, job, workerID, result)
	}

	if job.RetryCount < job.MaxRetries {
		return p.scheduleRetry(ctx, job, workerID, handlerErr)
	}
	return p.permanentFailure(ctx, job, workerID, handlerErr.Error(), stack, true)
}

// invoke runs the handler with panic containment. A panicking handler is a
// failing handler, never a dead worker.
func (p *Processor) invoke(ctx context.Context, handler Handler, job *types.Job) (result any, err error, stack string) {
	defer func() {
		if r := recover(); r != nil {
			stack = string(debug.Stack())
			err = fmt.Errorf("handler panic: %v", r)
			p.log.Error("Job handler panic", "job_id", job.ID, "job_type", job.Type, "panic", r)
		}
	}()
	result, err = handler.Run(ctx, job)
	return result, err, ""
}

func (p *Processor) succeed(ctx context.Context, job *types.Job, workerID uuid.UUID, result any) (Outcome, error) {
	var res datatypes.JSON
	if result != nil {
		b, err := json.Marshal(result)
		if err != nil {
			return p.scheduleRetryOrFail(ctx, job, workerID, fmt.Errorf("marshal result: %w", err))
		}
		res = datatypes.JSON(b)
	}

	owned, err := p.jobRepo.CompleteIfOwned(ctx, nil, job.ID, workerID, res)
	if err != nil {
		return OutcomeDiscarded, fmt.Errorf("complete job: %w", err)
	}
	if !owned {
		// Reclaimed by orphan recovery while the handler ran; the late
		// finisher's result is discarded.
		p.log.Warn("Job ownership lost, discarding result", "job_id", job.ID, "worker_id", workerID)
		return OutcomeDiscarded, nil
	}
	if err := p.queue.MarkCompleted(ctx, job.ID); err != nil {
		return OutcomeCompleted, fmt.Errorf("clear processing index: %w", err)
	}

	now := time.Now()
	job.Status = types.StatusCompleted
	job.Result = res
	job.CompletedAt = &now
	if job.WebhookURL != "" && p.notify != nil {
		p.notify.JobCompleted(ctx, job)
	}
	return OutcomeCompleted, nil
}

func (p *Processor) scheduleRetryOrFail(ctx context.Context, job *types.Job, workerID uuid.UUID, cause error) (Outcome, error) {
	if job.RetryCount < job.MaxRetries {
		return p.scheduleRetry(ctx, job, workerID, cause)
	}
	return p.permanentFailure(ctx, job, workerID, cause.Error(), "", true)
}

func (p *Processor) scheduleRetry(ctx context.Context, job *types.Job, workerID uuid.UUID, cause error) (Outcome, error) {
	backoff := Backoff(job.RetryDelayMs, job.RetryCount)
	owned, err := p.jobRepo.UpdateIfOwned(ctx, nil, job.ID, workerID, map[string]interface{}{
		"status":      types.StatusRetrying,
		"retry_count": gorm.Expr("retry_count + 1"),
		"error":       cause.Error(),
		"worker_id":   nil,
	})
	if err != nil {
		return OutcomeDiscarded, fmt.Errorf("transition to retrying: %w", err)
	}
	if !owned {
		p.log.Warn("Job ownership lost before retry", "job_id", job.ID, "worker_id", workerID)
		return OutcomeDiscarded, nil
	}
	job.Status = types.StatusRetrying
	job.RetryCount++
	job.Error = cause.Error()
	job.WorkerID = nil

	if err := p.queue.Requeue(ctx, job.ID, job.Priority, backoff); err != nil {
		return OutcomeRetrying, fmt.Errorf("requeue for retry: %w", err)
	}
	p.log.Info("Job scheduled for retry",
		"job_id", job.ID,
		"retry_count", job.RetryCount,
		"max_retries", job.MaxRetries,
		"backoff_ms", backoff.Milliseconds(),
		"error", cause.Error())
	return OutcomeRetrying, nil
}

// permanentFailure records the terminal FAILED state, archives the job in
// the dead-letter store, and notifies the owner. guarded is false on the
// missing-handler path, where the job was never PROCESSING under workerID.
func (p *Processor) permanentFailure(ctx context.Context, job *types.Job, workerID uuid.UUID, reason, stack string, guarded bool) (Outcome, error) {
	now := time.Now()
	updates := map[string]interface{}{
		"status":       types.StatusFailed,
		"error":        reason,
		"completed_at": now,
		"worker_id":    nil,
	}
	if guarded {
		owned, err := p.jobRepo.UpdateIfOwned(ctx, nil, job.ID, workerID, updates)
		if err != nil {
			return OutcomeDiscarded, fmt.Errorf("transition to failed: %w", err)
		}
		if !owned {
			p.log.Warn("Job ownership lost before failure record", "job_id", job.ID, "worker_id", workerID)
			return OutcomeDiscarded, nil
		}
	} else {
		if err := p.jobRepo.UpdateFields(ctx, nil, job.ID, updates); err != nil {
			return OutcomeDiscarded, fmt.Errorf("transition to failed: %w", err)
		}
	}
	job.Status = types.StatusFailed
	job.Error = reason
	job.CompletedAt = &now
	job.WorkerID = nil

	if err := p.queue.MoveToDLQ(ctx, job.ID, reason); err != nil {
		return OutcomeFailed, fmt.Errorf("move to dlq index: %w", err)
	}

	var dlqWorker *uuid.UUID
	if workerID != uuid.Nil {
		w := workerID
		dlqWorker = &w
	}
	_, err := p.dlqRepo.Insert(ctx, nil, &types.DeadLetterJob{
		OriginalJobID:     job.ID,
		JobName:           job.Name,
		JobType:           job.Type,
		JobPayload:        job.Payload,
		JobPriority:       job.Priority,
		FailureReason:     reason,
		FailureCount:      job.RetryCount + 1,
		LastError:         reason,
		ErrorStack:        stack,
		WorkerID:          dlqWorker,
		OriginalCreatedAt: job.CreatedAt,
		FailedAt:          now,
	})
	if err != nil {
		return OutcomeFailed, fmt.Errorf("insert dead letter row: %w", err)
	}

	p.log.Warn("Job failed permanently",
		"job_id", job.ID,
		"job_type", job.Type,
		"failure_count", job.RetryCount+1,
		"reason", reason)

	if job.WebhookURL != "" && p.notify != nil {
		p.notify.JobFailed(ctx, job)
	}
	return OutcomeFailed, nil
}
