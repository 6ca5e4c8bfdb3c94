package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/dispatch-backend/internal/logger"
	"github.com/yungbote/dispatch-backend/internal/types"
)

type fakeScheduleRepo struct {
	mu        sync.Mutex
	schedules map[uuid.UUID]*types.Schedule
	fired     []uuid.UUID
	advanced  []uuid.UUID
}

func newFakeScheduleRepo(seed ...*types.Schedule) *fakeScheduleRepo {
	r := &fakeScheduleRepo{schedules: map[uuid.UUID]*types.Schedule{}}
	for _, s := range seed {
		r.schedules[s.ID] = s
	}
	return r
}

func (r *fakeScheduleRepo) Create(ctx context.Context, tx *gorm.DB, schedule *types.Schedule) (*types.Schedule, error) {
	return schedule, nil
}
func (r *fakeScheduleRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Schedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.schedules[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	return s, nil
}
func (r *fakeScheduleRepo) List(ctx context.Context, tx *gorm.DB, limit, offset int) ([]*types.Schedule, int64, error) {
	return nil, 0, nil
}
func (r *fakeScheduleRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.schedules[id]
	if !ok {
		return types.ErrNotFound
	}
	if v, ok := updates["enabled"]; ok {
		s.Enabled = v.(bool)
	}
	if v, ok := updates["next_run_at"]; ok {
		if v == nil {
			s.NextRunAt = nil
		} else {
			t := v.(time.Time)
			s.NextRunAt = &t
		}
	}
	return nil
}
func (r *fakeScheduleRepo) Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error { return nil }
func (r *fakeScheduleRepo) FindDue(ctx context.Context, tx *gorm.DB, now time.Time, limit int) ([]*types.Schedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.Schedule
	for _, s := range r.schedules {
		if s.Enabled && s.NextRunAt != nil && !s.NextRunAt.After(now) {
			out = append(out, s)
		}
	}
	return out, nil
}
func (r *fakeScheduleRepo) MarkFired(ctx context.Context, tx *gorm.DB, id uuid.UUID, firedAt time.Time, nextRunAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.schedules[id]
	if !ok {
		return types.ErrNotFound
	}
	s.LastRunAt = &firedAt
	s.NextRunAt = &nextRunAt
	s.RunCount++
	r.fired = append(r.fired, id)
	return nil
}
func (r *fakeScheduleRepo) AdvanceNextRun(ctx context.Context, tx *gorm.DB, id uuid.UUID, nextRunAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.schedules[id]
	if !ok {
		return types.ErrNotFound
	}
	s.NextRunAt = &nextRunAt
	r.advanced = append(r.advanced, id)
	return nil
}

type fakeCreator struct {
	mu      sync.Mutex
	created []*types.Schedule
	fail    bool
}

func (c *fakeCreator) CreateFromSchedule(ctx context.Context, schedule *types.Schedule) (*types.Job, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return nil, errors.New("durable store unavailable")
	}
	c.created = append(c.created, schedule)
	return &types.Job{ID: uuid.New(), Type: schedule.JobType}, nil
}

type fakeLease struct {
	held bool
}

func (l *fakeLease) RenewLease(ctx context.Context, name, holder string, ttl time.Duration) (bool, error) {
	return l.held, nil
}
func (l *fakeLease) ReleaseLease(ctx context.Context, name, holder string) error { return nil }

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

func dueSchedule(expr string) *types.Schedule {
	past := time.Now().Add(-time.Minute)
	return &types.Schedule{
		ID:          uuid.New(),
		Name:        "nightly-report",
		CronExpr:    expr,
		Timezone:    "UTC",
		Enabled:     true,
		JobType:     "report",
		JobPriority: types.PriorityNormal,
		NextRunAt:   &past,
	}
}

func TestRunOnceFiresDueSchedule(t *testing.T) {
	schedule := dueSchedule("*/5 * * * *")
	repo := newFakeScheduleRepo(schedule)
	creator := &fakeCreator{}
	e := NewExecutor(testLogger(t), DefaultExecutorConfig("test"), repo, creator, &fakeLease{held: true})

	before := time.Now()
	fired, err := e.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if fired != 1 {
		t.Fatalf("fired = %d, want 1", fired)
	}
	if len(creator.created) != 1 {
		t.Fatalf("job not created from template")
	}
	if schedule.RunCount != 1 {
		t.Fatalf("run_count = %d, want 1", schedule.RunCount)
	}
	if schedule.LastRunAt == nil {
		t.Fatalf("last_run_at not set")
	}
	if schedule.NextRunAt == nil || !schedule.NextRunAt.After(before) {
		t.Fatalf("next_run_at must move strictly past the firing instant, got %v", schedule.NextRunAt)
	}
}

func TestRunOnceSkipsNotDueSchedules(t *testing.T) {
	future := time.Now().Add(time.Hour)
	schedule := dueSchedule("0 * * * *")
	schedule.NextRunAt = &future
	repo := newFakeScheduleRepo(schedule)
	creator := &fakeCreator{}
	e := NewExecutor(testLogger(t), DefaultExecutorConfig("test"), repo, creator, &fakeLease{held: true})

	fired, err := e.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if fired != 0 || len(creator.created) != 0 {
		t.Fatalf("future schedule must not fire")
	}
}

func TestRunOnceAdvancesWhenJobCreationFails(t *testing.T) {
	schedule := dueSchedule("*/5 * * * *")
	repo := newFakeScheduleRepo(schedule)
	creator := &fakeCreator{fail: true}
	e := NewExecutor(testLogger(t), DefaultExecutorConfig("test"), repo, creator, &fakeLease{held: true})

	before := time.Now()
	fired, err := e.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if fired != 0 {
		t.Fatalf("failed creation must not count as fired")
	}
	// Deliberate trade: skip one firing rather than replay it every tick.
	if len(repo.advanced) != 1 {
		t.Fatalf("next_run_at must still advance after creation failure")
	}
	if schedule.NextRunAt == nil || !schedule.NextRunAt.After(before) {
		t.Fatalf("advanced next_run_at must be in the future")
	}
	if schedule.RunCount != 0 {
		t.Fatalf("run_count must not increment on failure")
	}
}

func TestRunOnceDisablesBrokenCron(t *testing.T) {
	schedule := dueSchedule("not a cron")
	repo := newFakeScheduleRepo(schedule)
	creator := &fakeCreator{}
	e := NewExecutor(testLogger(t), DefaultExecutorConfig("test"), repo, creator, &fakeLease{held: true})

	fired, err := e.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if fired != 0 || len(creator.created) != 0 {
		t.Fatalf("broken schedule must not fire")
	}
	if schedule.Enabled {
		t.Fatalf("broken schedule must be disabled")
	}
	if schedule.NextRunAt != nil {
		t.Fatalf("disabled schedule must have null next_run_at")
	}
}
