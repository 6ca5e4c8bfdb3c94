package app

import (
	goredis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/yungbote/dispatch-backend/internal/logger"
	"github.com/yungbote/dispatch-backend/internal/queue"
	"github.com/yungbote/dispatch-backend/internal/services"
)

type Services struct {
	Job        services.JobService
	Schedule   services.ScheduleService
	DeadLetter services.DeadLetterService
	Health     services.HealthService
	Stats      services.StatsService
}

func wireServices(db *gorm.DB, rdb *goredis.Client, log *logger.Logger, reposet Repos, qm *queue.Manager) Services {
	log.Info("Wiring services...")
	jobService := services.NewJobService(log, reposet.Job, qm)
	return Services{
		Job:        jobService,
		Schedule:   services.NewScheduleService(log, reposet.Schedule, jobService),
		DeadLetter: services.NewDeadLetterService(log, reposet.DeadLetter, jobService, qm),
		Health:     services.NewHealthService(log, db, rdb, reposet.Worker),
		Stats:      services.NewStatsService(log, reposet.Job, reposet.Worker, qm),
	}
}
