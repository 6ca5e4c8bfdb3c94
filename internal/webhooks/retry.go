package webhooks

import (
	"context"
	"math"
	"time"

	"github.com/yungbote/dispatch-backend/internal/logger"
	"github.com/yungbote/dispatch-backend/internal/repos"
	"github.com/yungbote/dispatch-backend/internal/types"
)

// RetryProcessor re-drives outbox events that have attempts left. It shares
// the dispatcher's send/classify path; only the attempt bookkeeping differs.
type RetryProcessor struct {
	log        *logger.Logger
	eventRepo  repos.WebhookEventRepo
	dispatcher *Dispatcher
	cfg        Config
}

func NewRetryProcessor(baseLog *logger.Logger, eventRepo repos.WebhookEventRepo, dispatcher *Dispatcher, cfg Config) *RetryProcessor {
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 30 * time.Second
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 5 * time.Second
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 5 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &RetryProcessor{
		log:        baseLog.With("component", "WebhookRetryProcessor"),
		eventRepo:  eventRepo,
		dispatcher: dispatcher,
		cfg:        cfg,
	}
}

func (p *RetryProcessor) Run(ctx context.Context) error {
	p.log.Info("Webhook retry processor started", "interval", p.cfg.RetryInterval)
	ticker := time.NewTicker(p.cfg.RetryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.log.Info("Webhook retry processor stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := p.RunOnce(ctx); err != nil {
				p.log.Error("Webhook retry tick failed", "error", err)
			}
		}
	}
}

// nextAttemptAt is the earliest instant the event may be retried:
// lastAttemptAt + base * 2^attempts, capped. Events never attempted are due
// immediately.
func nextAttemptAt(event *types.WebhookEvent, base, cap time.Duration) time.Time {
	if event.LastAttemptAt == nil {
		return time.Time{}
	}
	delay := float64(base) * math.Pow(2, float64(event.Attempts))
	if delay > float64(cap) {
		delay = float64(cap)
	}
	return event.LastAttemptAt.Add(time.Duration(delay))
}

// RunOnce selects a batch of retryable events, applies the backoff
// predicate, and re-executes the due ones. Returns how many were attempted.
func (p *RetryProcessor) RunOnce(ctx context.Context) (int, error) {
	events, err := p.eventRepo.FindRetryable(ctx, nil, p.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	attempted := 0
	now := time.Now()
	for _, event := range events {
		if ctx.Err() != nil {
			return attempted, ctx.Err()
		}
		if now.Before(nextAttemptAt(event, p.cfg.RetryBaseDelay, p.cfg.RetryMaxDelay)) {
			continue
		}

		// Claim the attempt optimistically before sending.
		event.Attempts++
		event.Status = types.WebhookRetrying
		err := p.eventRepo.UpdateFields(ctx, nil, event.ID, map[string]interface{}{
			"status":   types.WebhookRetrying,
			"attempts": event.Attempts,
		})
		if err != nil {
			p.log.Error("Failed to claim webhook retry", "event_id", event.ID, "error", err)
			continue
		}
		p.dispatcher.executeAttempt(ctx, event)
		attempted++
	}
	return attempted, nil
}
