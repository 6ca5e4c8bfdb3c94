package app

import (
	"gorm.io/gorm"

	"github.com/yungbote/dispatch-backend/internal/logger"
	"github.com/yungbote/dispatch-backend/internal/repos"
)

type Repos struct {
	Job          repos.JobRepo
	Schedule     repos.ScheduleRepo
	Worker       repos.WorkerRepo
	DeadLetter   repos.DeadLetterRepo
	WebhookEvent repos.WebhookEventRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		Job:          repos.NewJobRepo(db, log),
		Schedule:     repos.NewScheduleRepo(db, log),
		Worker:       repos.NewWorkerRepo(db, log),
		DeadLetter:   repos.NewDeadLetterRepo(db, log),
		WebhookEvent: repos.NewWebhookEventRepo(db, log),
	}
}
