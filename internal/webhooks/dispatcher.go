package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"gorm.io/datatypes"

	"github.com/yungbote/dispatch-backend/internal/logger"
	"github.com/yungbote/dispatch-backend/internal/metrics"
	"github.com/yungbote/dispatch-backend/internal/repos"
	"github.com/yungbote/dispatch-backend/internal/types"
)

const (
	headerEvent = "X-Webhook-Event"
	headerJobID = "X-Job-Id"
	eventName   = "job.status"
)

type Config struct {
	Timeout        time.Duration
	MaxAttempts    int
	RetryInterval  time.Duration
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	BatchSize      int
}

func DefaultConfig() Config {
	return Config{
		Timeout:        10 * time.Second,
		MaxAttempts:    3,
		RetryInterval:  30 * time.Second,
		RetryBaseDelay: 5 * time.Second,
		RetryMaxDelay:  5 * time.Minute,
		BatchSize:      50,
	}
}

/*
Dispatcher writes the outbox row for a job notification and runs the first
delivery attempt inline. Delivery never blocks job finality: the job is
COMPLETED or FAILED in the durable store regardless of what the webhook
does, and delivery state is observable only on the event row.
*/
type Dispatcher struct {
	log       *logger.Logger
	eventRepo repos.WebhookEventRepo
	client    *http.Client
	cfg       Config
}

func NewDispatcher(baseLog *logger.Logger, eventRepo repos.WebhookEventRepo, cfg Config) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return &Dispatcher{
		log:       baseLog.With("component", "WebhookDispatcher"),
		eventRepo: eventRepo,
		client:    &http.Client{},
		cfg:       cfg,
	}
}

func (d *Dispatcher) JobCompleted(ctx context.Context, job *types.Job) {
	d.dispatch(ctx, job, "completed")
}

func (d *Dispatcher) JobFailed(ctx context.Context, job *types.Job) {
	d.dispatch(ctx, job, "failed")
}

// buildPayload freezes the wire document at dispatch time.
func buildPayload(job *types.Job, status string) ([]byte, error) {
	var result any
	if len(job.Result) > 0 {
		result = json.RawMessage(job.Result)
	}
	var errMsg any
	if job.Error != "" {
		errMsg = job.Error
	}
	completedAt := time.Now().UTC()
	if job.CompletedAt != nil {
		completedAt = job.CompletedAt.UTC()
	}
	return json.Marshal(map[string]any{
		"jobId":       job.ID.String(),
		"jobType":     job.Type,
		"status":      status,
		"result":      result,
		"error":       errMsg,
		"completedAt": completedAt.Format(time.RFC3339Nano),
	})
}

func (d *Dispatcher) dispatch(ctx context.Context, job *types.Job, status string) {
	if job.WebhookURL == "" {
		return
	}
	payload, err := buildPayload(job, status)
	if err != nil {
		d.log.Error("Failed to build webhook payload", "job_id", job.ID, "error", err)
		return
	}

	event, err := d.eventRepo.Insert(ctx, nil, &types.WebhookEvent{
		JobID:       job.ID,
		JobType:     job.Type,
		URL:         job.WebhookURL,
		Payload:     datatypes.JSON(payload),
		Status:      types.WebhookPending,
		Attempts:    0,
		MaxAttempts: d.cfg.MaxAttempts,
	})
	if err != nil {
		d.log.Error("Failed to write webhook outbox row", "job_id", job.ID, "error", err)
		return
	}

	// First attempt runs inline on the processor thread.
	event.Attempts = 1
	d.executeAttempt(ctx, event)
}

// executeAttempt sends the frozen payload and records the outcome.
// event.Attempts must already count this attempt.
func (d *Dispatcher) executeAttempt(ctx context.Context, event *types.WebhookEvent) {
	now := time.Now()
	code, sendErr := d.send(ctx, event)

	if sendErr == nil && code >= 200 && code < 300 {
		metrics.WebhookAttempts.WithLabelValues("success").Inc()
		err := d.eventRepo.UpdateFields(ctx, nil, event.ID, map[string]interface{}{
			"status":           types.WebhookSuccess,
			"attempts":         event.Attempts,
			"last_status_code": code,
			"last_error":       "",
			"last_attempt_at":  now,
			"completed_at":     now,
		})
		if err != nil {
			d.log.Error("Failed to record webhook success", "event_id", event.ID, "error", err)
		}
		event.Status = types.WebhookSuccess
		return
	}

	metrics.WebhookAttempts.WithLabelValues("failure").Inc()
	nextStatus := types.WebhookRetrying
	if event.Attempts >= event.MaxAttempts {
		nextStatus = types.WebhookFailed
	}
	updates := map[string]interface{}{
		"status":          nextStatus,
		"attempts":        event.Attempts,
		"last_attempt_at": now,
	}
	if sendErr != nil {
		updates["last_error"] = sendErr.Error()
	} else {
		updates["last_error"] = fmt.Sprintf("unexpected status %d", code)
		updates["last_status_code"] = code
	}
	if err := d.eventRepo.UpdateFields(ctx, nil, event.ID, updates); err != nil {
		d.log.Error("Failed to record webhook attempt", "event_id", event.ID, "error", err)
	}
	event.Status = nextStatus
	d.log.Warn("Webhook delivery attempt failed",
		"event_id", event.ID,
		"job_id", event.JobID,
		"attempt", event.Attempts,
		"max_attempts", event.MaxAttempts,
		"status_code", code,
		"error", sendErr)
}

// send POSTs the payload with the delivery timeout. A deadline hit is
// reported as "Request timeout" with no status code.
func (d *Dispatcher) send(ctx context.Context, event *types.WebhookEvent) (int, error) {
	sendCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(sendCtx, http.MethodPost, event.URL, bytes.NewReader(event.Payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerEvent, eventName)
	req.Header.Set(headerJobID, event.JobID.String())

	resp, err := d.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return 0, errors.New("Request timeout")
		}
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	return resp.StatusCode, nil
}
