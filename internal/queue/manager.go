package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/dispatch-backend/internal/logger"
	"github.com/yungbote/dispatch-backend/internal/types"
)

const (
	keyReady       = "scheduler:queue:ready"
	keyDelayed     = "scheduler:queue:delayed"
	keyProcessing  = "scheduler:queue:processing"
	keyDeadLetter  = "scheduler:queue:deadletter"
	keyLeasePrefix = "scheduler:lease:"
)

// Offsets maps a priority to the millisecond offset added to the enqueue
// timestamp when computing the ready-set score. The gap between adjacent
// bands must exceed any plausible burst duration, otherwise a saturated
// lower band could starve a higher one.
type Offsets map[types.JobPriority]int64

func DefaultOffsets() Offsets {
	return Offsets{
		types.PriorityCritical: 0,
		types.PriorityHigh:     3_600_000,
		types.PriorityNormal:   7_200_000,
		types.PriorityLow:      10_800_000,
	}
}

// ProcessingEntry is the value stored in the processing hash per in-flight job.
type ProcessingEntry struct {
	WorkerID  uuid.UUID `json:"worker_id"`
	StartedAt time.Time `json:"started_at"`
}

type DeadLetterEntry struct {
	JobID    uuid.UUID `json:"job_id"`
	Reason   string    `json:"reason"`
	FailedAt time.Time `json:"failed_at"`
}

type Stats struct {
	Ready      int64 `json:"ready"`
	Delayed    int64 `json:"delayed"`
	Processing int64 `json:"processing"`
	DeadLetter int64 `json:"dead_letter"`
}

// Manager is the thin algebra over the queue index. Every operation is built
// from individually atomic Redis commands; PromoteDelayed and RemoveFromDLQ
// scan first and then issue one command per member, so they are not atomic
// as a whole. Multi-step atomicity across the durable store is the caller's
// problem (durable-store-first on creation, queue-first on removal).
type Manager struct {
	rdb     *goredis.Client
	log     *logger.Logger
	offsets Offsets
}

func NewManager(rdb *goredis.Client, baseLog *logger.Logger, offsets Offsets) *Manager {
	if offsets == nil {
		offsets = DefaultOffsets()
	}
	return &Manager{
		rdb:     rdb,
		log:     baseLog.With("component", "QueueManager"),
		offsets: offsets,
	}
}

// Score computes the ready-set score for an enqueue at t. The offset is
// ADDED to the timestamp: pop-min then serves lower offsets (higher
// priorities) first, FIFO within a band.
func (m *Manager) Score(priority types.JobPriority, t time.Time) float64 {
	offset, ok := m.offsets[priority]
	if !ok {
		offset = m.offsets[types.PriorityNormal]
	}
	return float64(t.UnixMilli() + offset)
}

func (m *Manager) Enqueue(ctx context.Context, jobID uuid.UUID, priority types.JobPriority) error {
	err := m.rdb.ZAdd(ctx, keyReady, goredis.Z{
		Score:  m.Score(priority, time.Now()),
		Member: jobID.String(),
	}).Err()
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", jobID, err)
	}
	return nil
}

func (m *Manager) EnqueueDelayed(ctx context.Context, jobID uuid.UUID, fireAt time.Time, priority types.JobPriority) error {
	err := m.rdb.ZAdd(ctx, keyDelayed, goredis.Z{
		Score:  float64(fireAt.UnixMilli()),
		Member: delayedMember(jobID, priority),
	}).Err()
	if err != nil {
		return fmt.Errorf("enqueue delayed %s: %w", jobID, err)
	}
	return nil
}

// Dequeue pops the minimum-score member of the ready set. Returns
// (uuid.Nil, false, nil) when the set is empty. Never blocks.
func (m *Manager) Dequeue(ctx context.Context) (uuid.UUID, bool, error) {
	popped, err := m.rdb.ZPopMin(ctx, keyReady, 1).Result()
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("dequeue: %w", err)
	}
	if len(popped) == 0 {
		return uuid.Nil, false, nil
	}
	member, _ := popped[0].Member.(string)
	id, err := uuid.Parse(member)
	if err != nil {
		m.log.Warn("Dropping unparseable ready member", "member", member, "error", err)
		return uuid.Nil, false, nil
	}
	return id, true, nil
}

// PromoteDelayed moves every delayed member whose fire time has passed into
// the ready set under the priority formula. ZRem is the claim: only the
// executor that removes a member re-adds it, so concurrent promoters never
// duplicate an entry.
func (m *Manager) PromoteDelayed(ctx context.Context) (int, error) {
	now := time.Now()
	due, err := m.rdb.ZRangeByScore(ctx, keyDelayed, &goredis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", now.UnixMilli()),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("scan delayed: %w", err)
	}

	promoted := 0
	for _, member := range due {
		removed, err := m.rdb.ZRem(ctx, keyDelayed, member).Result()
		if err != nil {
			return promoted, fmt.Errorf("claim delayed member: %w", err)
		}
		if removed == 0 {
			continue // another promoter got it
		}
		jobID, priority, err := parseDelayedMember(member)
		if err != nil {
			m.log.Warn("Dropping unparseable delayed member", "member", member, "error", err)
			continue
		}
		if err := m.rdb.ZAdd(ctx, keyReady, goredis.Z{
			Score:  m.Score(priority, now),
			Member: jobID.String(),
		}).Err(); err != nil {
			return promoted, fmt.Errorf("promote %s: %w", jobID, err)
		}
		promoted++
	}
	return promoted, nil
}

func (m *Manager) MarkProcessing(ctx context.Context, jobID, workerID uuid.UUID) error {
	entry, _ := json.Marshal(ProcessingEntry{WorkerID: workerID, StartedAt: time.Now()})
	if err := m.rdb.HSet(ctx, keyProcessing, jobID.String(), string(entry)).Err(); err != nil {
		return fmt.Errorf("mark processing %s: %w", jobID, err)
	}
	return nil
}

func (m *Manager) MarkCompleted(ctx context.Context, jobID uuid.UUID) error {
	if err := m.rdb.HDel(ctx, keyProcessing, jobID.String()).Err(); err != nil {
		return fmt.Errorf("mark completed %s: %w", jobID, err)
	}
	return nil
}

// Requeue removes the job from the processing set and parks it in the
// delayed set to fire after delay. Used for retry backoff and orphan
// recovery.
func (m *Manager) Requeue(ctx context.Context, jobID uuid.UUID, priority types.JobPriority, delay time.Duration) error {
	if err := m.rdb.HDel(ctx, keyProcessing, jobID.String()).Err(); err != nil {
		return fmt.Errorf("requeue clear processing %s: %w", jobID, err)
	}
	return m.EnqueueDelayed(ctx, jobID, time.Now().Add(delay), priority)
}

func (m *Manager) MoveToDLQ(ctx context.Context, jobID uuid.UUID, reason string) error {
	now := time.Now()
	entry, _ := json.Marshal(DeadLetterEntry{JobID: jobID, Reason: reason, FailedAt: now})
	if err := m.rdb.ZAdd(ctx, keyDeadLetter, goredis.Z{
		Score:  float64(now.UnixMilli()),
		Member: string(entry),
	}).Err(); err != nil {
		return fmt.Errorf("move to dlq %s: %w", jobID, err)
	}
	if err := m.rdb.HDel(ctx, keyProcessing, jobID.String()).Err(); err != nil {
		return fmt.Errorf("dlq clear processing %s: %w", jobID, err)
	}
	return nil
}

// RemoveFromDLQ removes every dead-letter member whose embedded job id
// matches. The member is structured JSON, so matching means decoding.
func (m *Manager) RemoveFromDLQ(ctx context.Context, jobID uuid.UUID) error {
	members, err := m.rdb.ZRange(ctx, keyDeadLetter, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("scan dlq: %w", err)
	}
	for _, member := range members {
		var entry DeadLetterEntry
		if err := json.Unmarshal([]byte(member), &entry); err != nil {
			continue
		}
		if entry.JobID != jobID {
			continue
		}
		if err := m.rdb.ZRem(ctx, keyDeadLetter, member).Err(); err != nil {
			return fmt.Errorf("remove dlq member: %w", err)
		}
	}
	return nil
}

func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	pipe := m.rdb.Pipeline()
	ready := pipe.ZCard(ctx, keyReady)
	delayed := pipe.ZCard(ctx, keyDelayed)
	processing := pipe.HLen(ctx, keyProcessing)
	deadLetter := pipe.ZCard(ctx, keyDeadLetter)
	if _, err := pipe.Exec(ctx); err != nil {
		return Stats{}, fmt.Errorf("queue stats: %w", err)
	}
	return Stats{
		Ready:      ready.Val(),
		Delayed:    delayed.Val(),
		Processing: processing.Val(),
		DeadLetter: deadLetter.Val(),
	}, nil
}

func delayedMember(jobID uuid.UUID, priority types.JobPriority) string {
	return jobID.String() + ":" + string(priority)
}

func parseDelayedMember(member string) (uuid.UUID, types.JobPriority, error) {
	idStr, prioStr, found := strings.Cut(member, ":")
	if !found {
		return uuid.Nil, "", fmt.Errorf("malformed delayed member %q", member)
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return uuid.Nil, "", err
	}
	priority := types.JobPriority(prioStr)
	if !priority.Valid() {
		priority = types.PriorityNormal
	}
	return id, priority, nil
}
