package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type WebhookStatus string

const (
	WebhookPending  WebhookStatus = "pending"
	WebhookRetrying WebhookStatus = "retrying"
	WebhookSuccess  WebhookStatus = "success"
	WebhookFailed   WebhookStatus = "failed"
)

// WebhookEvent is the outbox row for one outbound notification. The payload
// is frozen at creation; delivery state lives alongside it.
type WebhookEvent struct {
	ID             uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	JobID          uuid.UUID      `gorm:"type:uuid;column:job_id;not null;index" json:"job_id"`
	JobType        string         `gorm:"column:job_type;not null" json:"job_type"`
	URL            string         `gorm:"column:url;not null" json:"url"`
	Payload        datatypes.JSON `gorm:"column:payload;type:jsonb" json:"payload"`
	Status         WebhookStatus  `gorm:"column:status;not null;index" json:"status"`
	Attempts       int            `gorm:"column:attempts;not null;default:0" json:"attempts"`
	MaxAttempts    int            `gorm:"column:max_attempts;not null;default:3" json:"max_attempts"`
	LastStatusCode *int           `gorm:"column:last_status_code" json:"last_status_code,omitempty"`
	LastError      string         `gorm:"column:last_error" json:"last_error,omitempty"`
	LastAttemptAt  *time.Time     `gorm:"column:last_attempt_at" json:"last_attempt_at,omitempty"`
	CompletedAt    *time.Time     `gorm:"column:completed_at" json:"completed_at,omitempty"`
	CreatedAt      time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (WebhookEvent) TableName() string { return "webhook_events" }
