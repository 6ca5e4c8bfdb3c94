package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/yungbote/dispatch-backend/internal/logger"
	"github.com/yungbote/dispatch-backend/internal/repos"
	"github.com/yungbote/dispatch-backend/internal/scheduler"
	"github.com/yungbote/dispatch-backend/internal/types"
)

type CreateScheduleInput struct {
	Name        string         `json:"name" binding:"required"`
	CronExpr    string         `json:"cron_expr" binding:"required"`
	Timezone    string         `json:"timezone"`
	Enabled     *bool          `json:"enabled"`
	JobType     string         `json:"job_type" binding:"required"`
	JobPayload  datatypes.JSON `json:"job_payload"`
	JobPriority string         `json:"job_priority"`
}

type UpdateScheduleInput struct {
	Name        *string         `json:"name"`
	CronExpr    *string         `json:"cron_expr"`
	Timezone    *string         `json:"timezone"`
	JobType     *string         `json:"job_type"`
	JobPayload  *datatypes.JSON `json:"job_payload"`
	JobPriority *string         `json:"job_priority"`
}

type ScheduleService interface {
	Create(ctx context.Context, input CreateScheduleInput) (*types.Schedule, error)
	GetByID(ctx context.Context, id uuid.UUID) (*types.Schedule, error)
	List(ctx context.Context, limit, offset int) ([]*types.Schedule, int64, error)
	Update(ctx context.Context, id uuid.UUID, input UpdateScheduleInput) (*types.Schedule, error)
	Delete(ctx context.Context, id uuid.UUID) error
	SetEnabled(ctx context.Context, id uuid.UUID, enabled bool) (*types.Schedule, error)
	TriggerNow(ctx context.Context, id uuid.UUID) (*types.Job, error)
	NextRuns(ctx context.Context, id uuid.UUID, n int) ([]time.Time, error)
}

type scheduleService struct {
	log          *logger.Logger
	scheduleRepo repos.ScheduleRepo
	jobs         JobService
}

func NewScheduleService(baseLog *logger.Logger, scheduleRepo repos.ScheduleRepo, jobs JobService) ScheduleService {
	return &scheduleService{
		log:          baseLog.With("service", "ScheduleService"),
		scheduleRepo: scheduleRepo,
		jobs:         jobs,
	}
}

func (s *scheduleService) Create(ctx context.Context, input CreateScheduleInput) (*types.Schedule, error) {
	if input.Name == "" || input.CronExpr == "" || input.JobType == "" {
		return nil, fmt.Errorf("%w: name, cron_expr and job_type are required", types.ErrInvalidInput)
	}
	timezone := input.Timezone
	if timezone == "" {
		timezone = "UTC"
	}
	priority := types.PriorityNormal
	if input.JobPriority != "" {
		priority = types.JobPriority(input.JobPriority)
		if !priority.Valid() {
			return nil, fmt.Errorf("%w: unknown priority %q", types.ErrInvalidPriority, input.JobPriority)
		}
	}
	enabled := true
	if input.Enabled != nil {
		enabled = *input.Enabled
	}

	schedule := &types.Schedule{
		Name:        input.Name,
		CronExpr:    input.CronExpr,
		Timezone:    timezone,
		Enabled:     enabled,
		JobType:     input.JobType,
		JobPayload:  input.JobPayload,
		JobPriority: priority,
	}
	if enabled {
		next, err := scheduler.NextRun(input.CronExpr, timezone, time.Now())
		if err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrInvalidCron, err)
		}
		schedule.NextRunAt = &next
	} else if err := scheduler.ValidateExpr(input.CronExpr); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidCron, err)
	}

	created, err := s.scheduleRepo.Create(ctx, nil, schedule)
	if err != nil {
		return nil, fmt.Errorf("create schedule: %w", err)
	}
	s.log.Info("Schedule created",
		"schedule_id", created.ID,
		"cron_expr", created.CronExpr,
		"timezone", created.Timezone,
		"next_run_at", created.NextRunAt)
	return created, nil
}

func (s *scheduleService) GetByID(ctx context.Context, id uuid.UUID) (*types.Schedule, error) {
	return s.scheduleRepo.GetByID(ctx, nil, id)
}

func (s *scheduleService) List(ctx context.Context, limit, offset int) ([]*types.Schedule, int64, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.scheduleRepo.List(ctx, nil, limit, offset)
}

// Update patches template fields. Changing the rule or the timezone
// re-evaluates next_run_at for enabled schedules.
func (s *scheduleService) Update(ctx context.Context, id uuid.UUID, input UpdateScheduleInput) (*types.Schedule, error) {
	schedule, err := s.scheduleRepo.GetByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	cronExpr := schedule.CronExpr
	timezone := schedule.Timezone
	ruleChanged := false

	if input.Name != nil && *input.Name != "" {
		updates["name"] = *input.Name
	}
	if input.CronExpr != nil && *input.CronExpr != cronExpr {
		cronExpr = *input.CronExpr
		updates["cron_expr"] = cronExpr
		ruleChanged = true
	}
	if input.Timezone != nil && *input.Timezone != timezone {
		timezone = *input.Timezone
		updates["timezone"] = timezone
		ruleChanged = true
	}
	if input.JobType != nil && *input.JobType != "" {
		updates["job_type"] = *input.JobType
	}
	if input.JobPayload != nil {
		updates["job_payload"] = *input.JobPayload
	}
	if input.JobPriority != nil {
		priority := types.JobPriority(*input.JobPriority)
		if !priority.Valid() {
			return nil, fmt.Errorf("%w: unknown priority %q", types.ErrInvalidPriority, *input.JobPriority)
		}
		updates["job_priority"] = priority
	}

	if ruleChanged {
		if schedule.Enabled {
			next, err := scheduler.NextRun(cronExpr, timezone, time.Now())
			if err != nil {
				return nil, fmt.Errorf("%w: %v", types.ErrInvalidCron, err)
			}
			updates["next_run_at"] = next
		} else if err := scheduler.ValidateExpr(cronExpr); err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrInvalidCron, err)
		}
	}
	if len(updates) == 0 {
		return schedule, nil
	}
	if err := s.scheduleRepo.UpdateFields(ctx, nil, id, updates); err != nil {
		return nil, fmt.Errorf("update schedule: %w", err)
	}
	return s.scheduleRepo.GetByID(ctx, nil, id)
}

func (s *scheduleService) Delete(ctx context.Context, id uuid.UUID) error {
	return s.scheduleRepo.Delete(ctx, nil, id)
}

// SetEnabled flips the schedule. Disabling nulls next_run_at; enabling
// recomputes it from now.
func (s *scheduleService) SetEnabled(ctx context.Context, id uuid.UUID, enabled bool) (*types.Schedule, error) {
	schedule, err := s.scheduleRepo.GetByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	updates := map[string]interface{}{"enabled": enabled}
	if enabled {
		next, err := scheduler.NextRun(schedule.CronExpr, schedule.Timezone, time.Now())
		if err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrInvalidCron, err)
		}
		updates["next_run_at"] = next
	} else {
		updates["next_run_at"] = nil
	}
	if err := s.scheduleRepo.UpdateFields(ctx, nil, id, updates); err != nil {
		return nil, fmt.Errorf("set schedule enabled: %w", err)
	}
	return s.scheduleRepo.GetByID(ctx, nil, id)
}

// TriggerNow fires the schedule out of band. The regular cadence is
// untouched: next_run_at stays where the cron left it.
func (s *scheduleService) TriggerNow(ctx context.Context, id uuid.UUID) (*types.Job, error) {
	schedule, err := s.scheduleRepo.GetByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	job, err := s.jobs.CreateFromSchedule(ctx, schedule)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	if err := s.scheduleRepo.UpdateFields(ctx, nil, id, map[string]interface{}{
		"last_run_at": now,
		"run_count":   schedule.RunCount + 1,
	}); err != nil {
		s.log.Warn("Failed to record manual trigger", "schedule_id", id, "error", err)
	}
	return job, nil
}

func (s *scheduleService) NextRuns(ctx context.Context, id uuid.UUID, n int) ([]time.Time, error) {
	if n <= 0 || n > 50 {
		n = 5
	}
	schedule, err := s.scheduleRepo.GetByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	return scheduler.NextRuns(schedule.CronExpr, schedule.Timezone, time.Now(), n)
}
