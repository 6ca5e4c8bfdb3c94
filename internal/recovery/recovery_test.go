package recovery

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yungbote/dispatch-backend/internal/logger"
	"github.com/yungbote/dispatch-backend/internal/types"
)

type fakeWorkerRepo struct {
	mu      sync.Mutex
	stale   []*types.Worker
	stopped []uuid.UUID
}

func (r *fakeWorkerRepo) Register(ctx context.Context, tx *gorm.DB, worker *types.Worker) (*types.Worker, error) {
	return worker, nil
}
func (r *fakeWorkerRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Worker, error) {
	return nil, types.ErrNotFound
}
func (r *fakeWorkerRepo) List(ctx context.Context, tx *gorm.DB) ([]*types.Worker, error) {
	return nil, nil
}
func (r *fakeWorkerRepo) Heartbeat(ctx context.Context, tx *gorm.DB, id uuid.UUID) error { return nil }
func (r *fakeWorkerRepo) MarkStopped(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = append(r.stopped, id)
	return nil
}
func (r *fakeWorkerRepo) FindStale(ctx context.Context, tx *gorm.DB, cutoff time.Time) ([]*types.Worker, error) {
	return r.stale, nil
}
func (r *fakeWorkerRepo) AdjustActiveJobs(ctx context.Context, tx *gorm.DB, id uuid.UUID, delta int) error {
	return nil
}
func (r *fakeWorkerRepo) IncrementProcessed(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	return nil
}
func (r *fakeWorkerRepo) IncrementFailed(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	return nil
}
func (r *fakeWorkerRepo) CountActive(ctx context.Context, tx *gorm.DB) (int64, error) {
	return 0, nil
}

type fakeJobRepo struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*types.Job
}

func (r *fakeJobRepo) Create(ctx context.Context, tx *gorm.DB, job *types.Job) (*types.Job, error) {
	return job, nil
}
func (r *fakeJobRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	return job, nil
}
func (r *fakeJobRepo) List(ctx context.Context, tx *gorm.DB, status *types.JobStatus, limit, offset int) ([]*types.Job, int64, error) {
	return nil, 0, nil
}
func (r *fakeJobRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return types.ErrNotFound
	}
	if v, ok := updates["status"]; ok {
		job.Status = v.(types.JobStatus)
	}
	if v, ok := updates["error"]; ok {
		job.Error = v.(string)
	}
	if v, ok := updates["retry_count"]; ok {
		if _, isExpr := v.(clause.Expr); isExpr {
			job.RetryCount++
		}
	}
	if v, ok := updates["worker_id"]; ok && v == nil {
		job.WorkerID = nil
	}
	return nil
}
func (r *fakeJobRepo) UpdateIfOwned(ctx context.Context, tx *gorm.DB, id, workerID uuid.UUID, updates map[string]interface{}) (bool, error) {
	return false, nil
}
func (r *fakeJobRepo) CompleteIfOwned(ctx context.Context, tx *gorm.DB, id, workerID uuid.UUID, result datatypes.JSON) (bool, error) {
	return false, nil
}
func (r *fakeJobRepo) CancelIfCancellable(ctx context.Context, tx *gorm.DB, id uuid.UUID) (bool, error) {
	return false, nil
}
func (r *fakeJobRepo) FindProcessingByWorker(ctx context.Context, tx *gorm.DB, workerID uuid.UUID, limit int) ([]*types.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.Job
	for _, job := range r.jobs {
		if job.Status == types.StatusProcessing && job.WorkerID != nil && *job.WorkerID == workerID {
			out = append(out, job)
		}
	}
	return out, nil
}
func (r *fakeJobRepo) CountByStatus(ctx context.Context, tx *gorm.DB) (map[types.JobStatus]int64, error) {
	return nil, nil
}

type requeueCall struct {
	jobID    uuid.UUID
	priority types.JobPriority
	delay    time.Duration
}

type fakeQueue struct {
	mu        sync.Mutex
	completed []uuid.UUID
	requeued  []requeueCall
}

func (q *fakeQueue) MarkCompleted(ctx context.Context, jobID uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.completed = append(q.completed, jobID)
	return nil
}
func (q *fakeQueue) Requeue(ctx context.Context, jobID uuid.UUID, priority types.JobPriority, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.requeued = append(q.requeued, requeueCall{jobID: jobID, priority: priority, delay: delay})
	return nil
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

func TestRunOnceReclaimsOrphanedJobs(t *testing.T) {
	deadWorkerID := uuid.New()
	deadWorker := &types.Worker{
		ID:            deadWorkerID,
		Status:        types.WorkerActive,
		LastHeartbeat: time.Now().Add(-5 * time.Minute),
	}

	j1 := &types.Job{ID: uuid.New(), Status: types.StatusProcessing, WorkerID: &deadWorkerID, Priority: types.PriorityHigh, RetryCount: 1}
	j2 := &types.Job{ID: uuid.New(), Status: types.StatusProcessing, WorkerID: &deadWorkerID, Priority: types.PriorityNormal}
	otherWorker := uuid.New()
	j3 := &types.Job{ID: uuid.New(), Status: types.StatusProcessing, WorkerID: &otherWorker}

	jobRepo := &fakeJobRepo{jobs: map[uuid.UUID]*types.Job{j1.ID: j1, j2.ID: j2, j3.ID: j3}}
	workerRepo := &fakeWorkerRepo{stale: []*types.Worker{deadWorker}}
	q := &fakeQueue{}

	cfg := DefaultConfig()
	r := New(testLogger(t), cfg, workerRepo, jobRepo, q)

	recovered, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if recovered != 2 {
		t.Fatalf("recovered = %d, want 2", recovered)
	}

	for _, j := range []*types.Job{j1, j2} {
		if j.Status != types.StatusRetrying {
			t.Fatalf("job %s status = %s, want RETRYING", j.ID, j.Status)
		}
		if j.WorkerID != nil {
			t.Fatalf("job %s worker_id must be cleared", j.ID)
		}
		if j.Error == "" {
			t.Fatalf("recovery must record an error message")
		}
	}
	if j1.RetryCount != 2 {
		t.Fatalf("reclaim must bump retry_count, got %d", j1.RetryCount)
	}
	if j3.Status != types.StatusProcessing {
		t.Fatalf("jobs of healthy workers must be untouched")
	}

	if len(q.requeued) != 2 {
		t.Fatalf("expected 2 requeues, got %d", len(q.requeued))
	}
	for _, call := range q.requeued {
		if call.delay != cfg.RecoveryDelay {
			t.Fatalf("requeue delay = %v, want %v", call.delay, cfg.RecoveryDelay)
		}
	}
	seen := map[uuid.UUID]types.JobPriority{}
	for _, call := range q.requeued {
		seen[call.jobID] = call.priority
	}
	if seen[j1.ID] != types.PriorityHigh {
		t.Fatalf("requeue must preserve priority")
	}

	workerRepo.mu.Lock()
	defer workerRepo.mu.Unlock()
	if len(workerRepo.stopped) != 1 || workerRepo.stopped[0] != deadWorkerID {
		t.Fatalf("dead worker must be marked stopped")
	}
}

func TestRunOnceNoStaleWorkers(t *testing.T) {
	jobRepo := &fakeJobRepo{jobs: map[uuid.UUID]*types.Job{}}
	workerRepo := &fakeWorkerRepo{}
	q := &fakeQueue{}
	r := New(testLogger(t), DefaultConfig(), workerRepo, jobRepo, q)

	recovered, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if recovered != 0 {
		t.Fatalf("recovered = %d, want 0", recovered)
	}
	if len(q.requeued) != 0 || len(q.completed) != 0 {
		t.Fatalf("queue must be untouched")
	}
}
