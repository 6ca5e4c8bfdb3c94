package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yungbote/dispatch-backend/internal/logger"
	"github.com/yungbote/dispatch-backend/internal/repos"
	"github.com/yungbote/dispatch-backend/internal/types"
)

// ---- fakes ----

type fakeJobRepo struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*types.Job
}

func newFakeJobRepo(seed ...*types.Job) *fakeJobRepo {
	r := &fakeJobRepo{jobs: map[uuid.UUID]*types.Job{}}
	for _, j := range seed {
		copied := *j
		r.jobs[j.ID] = &copied
	}
	return r
}

func (r *fakeJobRepo) apply(job *types.Job, updates map[string]interface{}) {
	for k, v := range updates {
		switch k {
		case "status":
			job.Status = v.(types.JobStatus)
		case "error":
			if v == nil {
				job.Error = ""
			} else {
				job.Error = fmt.Sprint(v)
			}
		case "retry_count":
			if _, isExpr := v.(clause.Expr); isExpr {
				job.RetryCount++
			} else {
				job.RetryCount = v.(int)
			}
		case "worker_id":
			if v == nil {
				job.WorkerID = nil
			} else {
				id := v.(uuid.UUID)
				job.WorkerID = &id
			}
		case "started_at":
			t := v.(time.Time)
			job.StartedAt = &t
		case "completed_at":
			t := v.(time.Time)
			job.CompletedAt = &t
		case "result":
			if v != nil {
				job.Result = v.(datatypes.JSON)
			}
		}
	}
}

func (r *fakeJobRepo) Create(ctx context.Context, tx *gorm.DB, job *types.Job) (*types.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	job.CreatedAt = time.Now()
	r.jobs[job.ID] = job
	return job, nil
}

func (r *fakeJobRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	copied := *job
	return &copied, nil
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
	r.apply(job, updates)
	return nil
}

func (r *fakeJobRepo) UpdateIfOwned(ctx context.Context, tx *gorm.DB, id, workerID uuid.UUID, updates map[string]interface{}) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return false, nil
	}
	if job.Status != types.StatusProcessing || job.WorkerID == nil || *job.WorkerID != workerID {
		return false, nil
	}
	r.apply(job, updates)
	return true, nil
}

func (r *fakeJobRepo) CompleteIfOwned(ctx context.Context, tx *gorm.DB, id, workerID uuid.UUID, result datatypes.JSON) (bool, error) {
	now := time.Now()
	return r.UpdateIfOwned(ctx, tx, id, workerID, map[string]interface{}{
		"status":       types.StatusCompleted,
		"result":       result,
		"completed_at": now,
	})
}

func (r *fakeJobRepo) CancelIfCancellable(ctx context.Context, tx *gorm.DB, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok || !job.Status.Cancellable() {
		return false, nil
	}
	job.Status = types.StatusCancelled
	return true, nil
}

func (r *fakeJobRepo) FindProcessingByWorker(ctx context.Context, tx *gorm.DB, workerID uuid.UUID, limit int) ([]*types.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.Job
	for _, job := range r.jobs {
		if job.Status == types.StatusProcessing && job.WorkerID != nil && *job.WorkerID == workerID {
			copied := *job
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *fakeJobRepo) CountByStatus(ctx context.Context, tx *gorm.DB) (map[types.JobStatus]int64, error) {
	return nil, nil
}

type fakeDLQRepo struct {
	mu      sync.Mutex
	entries []*types.DeadLetterJob
}

func (r *fakeDLQRepo) Insert(ctx context.Context, tx *gorm.DB, entry *types.DeadLetterJob) (*types.DeadLetterJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry.ID = uuid.New()
	r.entries = append(r.entries, entry)
	return entry, nil
}
func (r *fakeDLQRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.DeadLetterJob, error) {
	return nil, types.ErrNotFound
}
func (r *fakeDLQRepo) List(ctx context.Context, tx *gorm.DB, limit, offset int) ([]*types.DeadLetterJob, int64, error) {
	return nil, 0, nil
}
func (r *fakeDLQRepo) Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error { return nil }
func (r *fakeDLQRepo) Stats(ctx context.Context, tx *gorm.DB) (repos.DeadLetterStats, error) {
	return repos.DeadLetterStats{}, nil
}

type queueCall struct {
	op       string
	jobID    uuid.UUID
	priority types.JobPriority
	delay    time.Duration
	reason   string
}

type fakeQueue struct {
	mu    sync.Mutex
	calls []queueCall
}

func (q *fakeQueue) record(c queueCall) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.calls = append(q.calls, c)
}
func (q *fakeQueue) MarkProcessing(ctx context.Context, jobID, workerID uuid.UUID) error {
	q.record(queueCall{op: "mark_processing", jobID: jobID})
	return nil
}
func (q *fakeQueue) MarkCompleted(ctx context.Context, jobID uuid.UUID) error {
	q.record(queueCall{op: "mark_completed", jobID: jobID})
	return nil
}
func (q *fakeQueue) Requeue(ctx context.Context, jobID uuid.UUID, priority types.JobPriority, delay time.Duration) error {
	q.record(queueCall{op: "requeue", jobID: jobID, priority: priority, delay: delay})
	return nil
}
func (q *fakeQueue) MoveToDLQ(ctx context.Context, jobID uuid.UUID, reason string) error {
	q.record(queueCall{op: "move_to_dlq", jobID: jobID, reason: reason})
	return nil
}

func (q *fakeQueue) ops() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, len(q.calls))
	for i, c := range q.calls {
		out[i] = c.op
	}
	return out
}

type fakeNotifier struct {
	mu        sync.Mutex
	completed []uuid.UUID
	failed    []uuid.UUID
}

func (n *fakeNotifier) JobCompleted(ctx context.Context, job *types.Job) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.completed = append(n.completed, job.ID)
}
func (n *fakeNotifier) JobFailed(ctx context.Context, job *types.Job) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failed = append(n.failed, job.ID)
}

// ---- helpers ----

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

func queuedJob(jobType string, retryCount, maxRetries int) *types.Job {
	return &types.Job{
		ID:           uuid.New(),
		Name:         jobType,
		Type:         jobType,
		Status:       types.StatusQueued,
		Priority:     types.PriorityNormal,
		MaxRetries:   maxRetries,
		RetryCount:   retryCount,
		RetryDelayMs: 100,
		CreatedAt:    time.Now(),
	}
}

func newTestProcessor(t *testing.T, repo *fakeJobRepo, dlq *fakeDLQRepo, q *fakeQueue, n *fakeNotifier) (*Processor, *Registry) {
	t.Helper()
	reg := NewRegistry()
	return NewProcessor(testLogger(t), repo, dlq, reg, q, n), reg
}

// ---- tests ----

func TestBackoffDoublesAndCaps(t *testing.T) {
	cases := []struct {
		delayMs, retryCount int
		want                time.Duration
	}{
		{100, 0, 100 * time.Millisecond},
		{100, 1, 200 * time.Millisecond},
		{100, 2, 400 * time.Millisecond},
		{1000, 5, 32 * time.Second},
		{1000, 6, 60 * time.Second},
		{1000, 20, 60 * time.Second},
	}
	for _, tc := range cases {
		if got := Backoff(tc.delayMs, tc.retryCount); got != tc.want {
			t.Fatalf("Backoff(%d, %d) = %v, want %v", tc.delayMs, tc.retryCount, got, tc.want)
		}
	}
}

func TestProcessSuccess(t *testing.T) {
	job := queuedJob("echo", 0, 3)
	job.WebhookURL = "http://example.com/hook"
	repo := newFakeJobRepo(job)
	dlq := &fakeDLQRepo{}
	q := &fakeQueue{}
	n := &fakeNotifier{}
	p, reg := newTestProcessor(t, repo, dlq, q, n)
	if err := reg.Register(HandlerFunc{JobType: "echo", Fn: func(ctx context.Context, j *types.Job) (any, error) {
		return map[string]any{"ok": true}, nil
	}}); err != nil {
		t.Fatalf("register: %v", err)
	}

	workerID := uuid.New()
	outcome, err := p.Process(context.Background(), job, workerID)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if outcome != OutcomeCompleted {
		t.Fatalf("outcome = %v, want completed", outcome)
	}

	stored, _ := repo.GetByID(context.Background(), nil, job.ID)
	if stored.Status != types.StatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", stored.Status)
	}
	if len(stored.Result) == 0 || !strings.Contains(string(stored.Result), "ok") {
		t.Fatalf("result not recorded: %q", stored.Result)
	}
	if stored.CompletedAt == nil {
		t.Fatalf("completed_at not set")
	}
	if got := q.ops(); len(got) != 2 || got[0] != "mark_processing" || got[1] != "mark_completed" {
		t.Fatalf("queue ops = %v", got)
	}
	if len(n.completed) != 1 || n.completed[0] != job.ID {
		t.Fatalf("completed webhook not submitted: %v", n.completed)
	}
	if len(dlq.entries) != 0 {
		t.Fatalf("unexpected dead letter rows")
	}
}

func TestProcessRetrySchedulesBackoff(t *testing.T) {
	job := queuedJob("flaky", 1, 3)
	repo := newFakeJobRepo(job)
	dlq := &fakeDLQRepo{}
	q := &fakeQueue{}
	n := &fakeNotifier{}
	p, reg := newTestProcessor(t, repo, dlq, q, n)
	_ = reg.Register(HandlerFunc{JobType: "flaky", Fn: func(ctx context.Context, j *types.Job) (any, error) {
		return nil, errors.New("boom")
	}})

	outcome, err := p.Process(context.Background(), job, uuid.New())
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if outcome != OutcomeRetrying {
		t.Fatalf("outcome = %v, want retrying", outcome)
	}

	stored, _ := repo.GetByID(context.Background(), nil, job.ID)
	if stored.Status != types.StatusRetrying {
		t.Fatalf("status = %s, want RETRYING", stored.Status)
	}
	if stored.RetryCount != 2 {
		t.Fatalf("retry_count = %d, want 2", stored.RetryCount)
	}
	if stored.WorkerID != nil {
		t.Fatalf("worker_id must be cleared on retry")
	}
	if stored.Error != "boom" {
		t.Fatalf("error = %q", stored.Error)
	}

	var requeue *queueCall
	for i := range q.calls {
		if q.calls[i].op == "requeue" {
			requeue = &q.calls[i]
		}
	}
	if requeue == nil {
		t.Fatalf("requeue not called, ops = %v", q.ops())
	}
	// retryCount was 1 before this failure: expect 100ms * 2^1.
	if requeue.delay != 200*time.Millisecond {
		t.Fatalf("backoff = %v, want 200ms", requeue.delay)
	}
}

func TestProcessRetriesExhaustedGoesToDLQ(t *testing.T) {
	job := queuedJob("always-fails", 3, 3)
	job.WebhookURL = "http://example.com/hook"
	repo := newFakeJobRepo(job)
	dlq := &fakeDLQRepo{}
	q := &fakeQueue{}
	n := &fakeNotifier{}
	p, reg := newTestProcessor(t, repo, dlq, q, n)
	_ = reg.Register(HandlerFunc{JobType: "always-fails", Fn: func(ctx context.Context, j *types.Job) (any, error) {
		return nil, errors.New("permanent damage")
	}})

	outcome, err := p.Process(context.Background(), job, uuid.New())
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if outcome != OutcomeFailed {
		t.Fatalf("outcome = %v, want failed", outcome)
	}

	stored, _ := repo.GetByID(context.Background(), nil, job.ID)
	if stored.Status != types.StatusFailed {
		t.Fatalf("status = %s, want FAILED", stored.Status)
	}
	if len(dlq.entries) != 1 {
		t.Fatalf("expected one dead letter row, got %d", len(dlq.entries))
	}
	entry := dlq.entries[0]
	if entry.OriginalJobID != job.ID {
		t.Fatalf("dead letter original id mismatch")
	}
	if entry.FailureCount != 4 {
		t.Fatalf("failure_count = %d, want 4 (3 retries + final attempt)", entry.FailureCount)
	}
	if entry.JobType != "always-fails" {
		t.Fatalf("descriptor not copied")
	}
	if len(n.failed) != 1 {
		t.Fatalf("failed webhook not submitted")
	}
	found := false
	for _, c := range q.calls {
		if c.op == "move_to_dlq" && c.jobID == job.ID {
			found = true
		}
	}
	if !found {
		t.Fatalf("queue MoveToDLQ not called, ops = %v", q.ops())
	}
}

func TestProcessMissingHandlerFailsPermanently(t *testing.T) {
	job := queuedJob("unknown-type", 0, 3)
	repo := newFakeJobRepo(job)
	dlq := &fakeDLQRepo{}
	q := &fakeQueue{}
	p, _ := newTestProcessor(t, repo, dlq, q, &fakeNotifier{})

	outcome, err := p.Process(context.Background(), job, uuid.New())
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if outcome != OutcomeFailed {
		t.Fatalf("outcome = %v, want failed", outcome)
	}
	stored, _ := repo.GetByID(context.Background(), nil, job.ID)
	if stored.Status != types.StatusFailed {
		t.Fatalf("status = %s, want FAILED", stored.Status)
	}
	if !strings.Contains(stored.Error, "no handler for type unknown-type") {
		t.Fatalf("error = %q", stored.Error)
	}
	if len(dlq.entries) != 1 {
		t.Fatalf("missing handler must dead-letter on first occurrence")
	}
}

func TestProcessHandlerPanicCountsAsFailure(t *testing.T) {
	job := queuedJob("panicky", 0, 0)
	repo := newFakeJobRepo(job)
	dlq := &fakeDLQRepo{}
	q := &fakeQueue{}
	p, reg := newTestProcessor(t, repo, dlq, q, &fakeNotifier{})
	_ = reg.Register(HandlerFunc{JobType: "panicky", Fn: func(ctx context.Context, j *types.Job) (any, error) {
		panic("kaboom")
	}})

	outcome, err := p.Process(context.Background(), job, uuid.New())
	if err != nil {
		t.Fatalf("Process must contain the panic: %v", err)
	}
	if outcome != OutcomeFailed {
		t.Fatalf("outcome = %v, want failed (maxRetries=0)", outcome)
	}
	if len(dlq.entries) != 1 || dlq.entries[0].ErrorStack == "" {
		t.Fatalf("panic stack must be archived")
	}
}

func TestProcessLateFinisherIsDiscarded(t *testing.T) {
	job := queuedJob("slow", 0, 3)
	repo := newFakeJobRepo(job)
	dlq := &fakeDLQRepo{}
	q := &fakeQueue{}
	n := &fakeNotifier{}
	p, reg := newTestProcessor(t, repo, dlq, q, n)

	workerID := uuid.New()
	_ = reg.Register(HandlerFunc{JobType: "slow", Fn: func(ctx context.Context, j *types.Job) (any, error) {
		// Simulate orphan recovery reclaiming the job mid-run.
		_ = repo.UpdateFields(ctx, nil, j.ID, map[string]interface{}{
			"status":    types.StatusRetrying,
			"worker_id": nil,
		})
		return map[string]any{"late": true}, nil
	}})

	outcome, err := p.Process(context.Background(), job, workerID)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if outcome != OutcomeDiscarded {
		t.Fatalf("outcome = %v, want discarded", outcome)
	}
	stored, _ := repo.GetByID(context.Background(), nil, job.ID)
	if stored.Status != types.StatusRetrying {
		t.Fatalf("reclaimed status must stand, got %s", stored.Status)
	}
	if len(stored.Result) != 0 {
		t.Fatalf("late result must be discarded")
	}
	if len(n.completed) != 0 {
		t.Fatalf("no webhook for a discarded result")
	}
}
