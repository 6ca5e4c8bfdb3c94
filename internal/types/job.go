package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type JobPriority string

const (
	PriorityCritical JobPriority = "CRITICAL"
	PriorityHigh     JobPriority = "HIGH"
	PriorityNormal   JobPriority = "NORMAL"
	PriorityLow      JobPriority = "LOW"
)

func (p JobPriority) Valid() bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityNormal, PriorityLow:
		return true
	}
	return false
}

type Job struct {
	ID           uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	Name         string         `gorm:"column:name;not null" json:"name"`
	Type         string         `gorm:"column:job_type;not null;index" json:"type"`
	Payload      datatypes.JSON `gorm:"column:payload;type:jsonb" json:"payload"`
	Priority     JobPriority    `gorm:"column:priority;not null;default:NORMAL" json:"priority"`
	Status       JobStatus      `gorm:"column:status;not null;index" json:"status"`
	MaxRetries   int            `gorm:"column:max_retries;not null;default:3" json:"max_retries"`
	RetryDelayMs int            `gorm:"column:retry_delay_ms;not null;default:1000" json:"retry_delay_ms"`
	RetryCount   int            `gorm:"column:retry_count;not null;default:0" json:"retry_count"`
	ScheduledAt  *time.Time     `gorm:"column:scheduled_at;index" json:"scheduled_at,omitempty"`
	ScheduleID   *uuid.UUID     `gorm:"type:uuid;column:schedule_id;index" json:"schedule_id,omitempty"`
	WorkerID     *uuid.UUID     `gorm:"type:uuid;column:worker_id;index" json:"worker_id,omitempty"`
	StartedAt    *time.Time     `gorm:"column:started_at" json:"started_at,omitempty"`
	CompletedAt  *time.Time     `gorm:"column:completed_at" json:"completed_at,omitempty"`
	Result       datatypes.JSON `gorm:"column:result;type:jsonb" json:"result,omitempty"`
	Error        string         `gorm:"column:error" json:"error,omitempty"`
	WebhookURL   string         `gorm:"column:webhook_url" json:"webhook_url,omitempty"`
	CreatedAt    time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (Job) TableName() string { return "jobs" }
