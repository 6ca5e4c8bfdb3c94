package app

import (
	"github.com/yungbote/dispatch-backend/internal/handlers"
	"github.com/yungbote/dispatch-backend/internal/logger"
)

type Handlers struct {
	Jobs       *handlers.JobsHandler
	Schedules  *handlers.SchedulesHandler
	DeadLetter *handlers.DeadLetterHandler
	Metrics    *handlers.MetricsHandler
	Health     *handlers.HealthHandler
}

func wireHandlers(log *logger.Logger, serviceset Services) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		Jobs:       handlers.NewJobsHandler(serviceset.Job),
		Schedules:  handlers.NewSchedulesHandler(serviceset.Schedule),
		DeadLetter: handlers.NewDeadLetterHandler(serviceset.DeadLetter),
		Metrics:    handlers.NewMetricsHandler(serviceset.Stats, serviceset.Job),
		Health:     handlers.NewHealthHandler(serviceset.Health),
	}
}
