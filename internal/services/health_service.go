package services

import (
	"context"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/yungbote/dispatch-backend/internal/logger"
	"github.com/yungbote/dispatch-backend/internal/repos"
)

type HealthState string

const (
	HealthHealthy   HealthState = "healthy"
	HealthDegraded  HealthState = "degraded"
	HealthUnhealthy HealthState = "unhealthy"
)

type HealthReport struct {
	State         HealthState `json:"state"`
	Database      bool        `json:"database"`
	QueueIndex    bool        `json:"queue_index"`
	ActiveWorkers int64       `json:"active_workers"`
}

type HealthService interface {
	Ready(ctx context.Context) HealthReport
}

type healthService struct {
	log        *logger.Logger
	db         *gorm.DB
	rdb        *goredis.Client
	workerRepo repos.WorkerRepo
}

func NewHealthService(baseLog *logger.Logger, db *gorm.DB, rdb *goredis.Client, workerRepo repos.WorkerRepo) HealthService {
	return &healthService{
		log:        baseLog.With("service", "HealthService"),
		db:         db,
		rdb:        rdb,
		workerRepo: workerRepo,
	}
}

// Ready is healthy when both stores answer and at least one worker row has
// status active; degraded when the stores answer but no worker row does;
// unhealthy when either store fails. Heartbeat age is not checked here.
func (s *healthService) Ready(ctx context.Context) HealthReport {
	checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	report := HealthReport{}

	sqlDB, err := s.db.DB()
	if err == nil {
		err = sqlDB.PingContext(checkCtx)
	}
	if err != nil {
		s.log.Warn("Database health check failed", "error", err)
	} else {
		report.Database = true
	}

	if err := s.rdb.Ping(checkCtx).Err(); err != nil {
		s.log.Warn("Queue index health check failed", "error", err)
	} else {
		report.QueueIndex = true
	}

	if !report.Database || !report.QueueIndex {
		report.State = HealthUnhealthy
		return report
	}

	active, err := s.workerRepo.CountActive(checkCtx, nil)
	if err != nil {
		s.log.Warn("Active worker count failed", "error", err)
	}
	report.ActiveWorkers = active
	if active > 0 {
		report.State = HealthHealthy
	} else {
		report.State = HealthDegraded
	}
	return report
}
