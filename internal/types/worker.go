package types

import (
	"time"

	"github.com/google/uuid"
)

type WorkerStatus string

const (
	WorkerActive  WorkerStatus = "active"
	WorkerIdle    WorkerStatus = "idle"
	WorkerStopped WorkerStatus = "stopped"
)

type Worker struct {
	ID             uuid.UUID    `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	Name           string       `gorm:"column:name;not null" json:"name"`
	Hostname       string       `gorm:"column:hostname" json:"hostname"`
	PID            int          `gorm:"column:pid" json:"pid"`
	Status         WorkerStatus `gorm:"column:status;not null;index" json:"status"`
	Concurrency    int          `gorm:"column:concurrency;not null;default:1" json:"concurrency"`
	ActiveJobs     int          `gorm:"column:active_jobs;not null;default:0" json:"active_jobs"`
	ProcessedCount int64        `gorm:"column:processed_count;not null;default:0" json:"processed_count"`
	FailedCount    int64        `gorm:"column:failed_count;not null;default:0" json:"failed_count"`
	LastHeartbeat  time.Time    `gorm:"column:last_heartbeat;not null;index" json:"last_heartbeat"`
	StartedAt      time.Time    `gorm:"column:started_at;not null" json:"started_at"`
	StoppedAt      *time.Time   `gorm:"column:stopped_at" json:"stopped_at,omitempty"`
}

func (Worker) TableName() string { return "workers" }
