package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type Schedule struct {
	ID          uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	Name        string         `gorm:"column:name;not null" json:"name"`
	CronExpr    string         `gorm:"column:cron_expr;not null" json:"cron_expr"`
	Timezone    string         `gorm:"column:timezone;not null;default:UTC" json:"timezone"`
	Enabled     bool           `gorm:"column:enabled;not null;default:true;index" json:"enabled"`
	JobType     string         `gorm:"column:job_type;not null" json:"job_type"`
	JobPayload  datatypes.JSON `gorm:"column:job_payload;type:jsonb" json:"job_payload"`
	JobPriority JobPriority    `gorm:"column:job_priority;not null;default:NORMAL" json:"job_priority"`
	NextRunAt   *time.Time     `gorm:"column:next_run_at;index" json:"next_run_at,omitempty"`
	LastRunAt   *time.Time     `gorm:"column:last_run_at" json:"last_run_at,omitempty"`
	RunCount    int64          `gorm:"column:run_count;not null;default:0" json:"run_count"`
	CreatedAt   time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (Schedule) TableName() string { return "schedules" }
