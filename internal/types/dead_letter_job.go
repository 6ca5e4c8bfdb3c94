package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// DeadLetterJob is an immutable post-mortem copy of a job whose retries
// were exhausted. It carries enough of the original descriptor to recreate
// the job on operator retry.
type DeadLetterJob struct {
	ID                uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	OriginalJobID     uuid.UUID      `gorm:"type:uuid;column:original_job_id;not null;index" json:"original_job_id"`
	JobName           string         `gorm:"column:job_name;not null" json:"job_name"`
	JobType           string         `gorm:"column:job_type;not null" json:"job_type"`
	JobPayload        datatypes.JSON `gorm:"column:job_payload;type:jsonb" json:"job_payload"`
	JobPriority       JobPriority    `gorm:"column:job_priority;not null" json:"job_priority"`
	FailureReason     string         `gorm:"column:failure_reason" json:"failure_reason"`
	FailureCount      int            `gorm:"column:failure_count;not null" json:"failure_count"`
	LastError         string         `gorm:"column:last_error" json:"last_error"`
	ErrorStack        string         `gorm:"column:error_stack" json:"error_stack,omitempty"`
	WorkerID          *uuid.UUID     `gorm:"type:uuid;column:worker_id" json:"worker_id,omitempty"`
	OriginalCreatedAt time.Time      `gorm:"column:original_created_at;not null" json:"original_created_at"`
	FailedAt          time.Time      `gorm:"column:failed_at;not null;index" json:"failed_at"`
}

func (DeadLetterJob) TableName() string { return "dead_letter_jobs" }
