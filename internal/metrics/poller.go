package metrics

import (
	"context"
	"time"

	"github.com/yungbote/dispatch-backend/internal/logger"
	"github.com/yungbote/dispatch-backend/internal/queue"
	"github.com/yungbote/dispatch-backend/internal/repos"
)

// StatsSource is the queue manager's cardinality view.
type StatsSource interface {
	Stats(ctx context.Context) (queue.Stats, error)
}

// Poller mirrors queue depths and the active-worker count into the gauges.
type Poller struct {
	log        *logger.Logger
	interval   time.Duration
	stats      StatsSource
	workerRepo repos.WorkerRepo
}

func NewPoller(baseLog *logger.Logger, interval time.Duration, stats StatsSource, workerRepo repos.WorkerRepo) *Poller {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Poller{
		log:        baseLog.With("component", "MetricsPoller"),
		interval:   interval,
		stats:      stats,
		workerRepo: workerRepo,
	}
}

func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.collect(ctx)
		}
	}
}

func (p *Poller) collect(ctx context.Context) {
	stats, err := p.stats.Stats(ctx)
	if err != nil {
		p.log.Warn("Queue stats poll failed", "error", err)
	} else {
		ReadyDepth.Set(float64(stats.Ready))
		DelayedDepth.Set(float64(stats.Delayed))
		ProcessingDepth.Set(float64(stats.Processing))
		DeadLetterDepth.Set(float64(stats.DeadLetter))
	}

	active, err := p.workerRepo.CountActive(ctx, nil)
	if err != nil {
		p.log.Warn("Active worker poll failed", "error", err)
		return
	}
	ActiveWorkers.Set(float64(active))
}
