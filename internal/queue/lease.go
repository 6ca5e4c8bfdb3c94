package queue

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// releaseScript deletes the lease key only while the caller still holds it.
var releaseScript = goredis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// AcquireLease takes a named TTL lease. Returns false when another holder
// owns it. Used to keep the schedule executor single-instance: a second
// process stands by instead of double-firing schedules.
func (m *Manager) AcquireLease(ctx context.Context, name, holder string, ttl time.Duration) (bool, error) {
	ok, err := m.rdb.SetNX(ctx, keyLeasePrefix+name, holder, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: %w", name, err)
	}
	return ok, nil
}

// RenewLease extends the TTL if the caller still holds the lease.
func (m *Manager) RenewLease(ctx context.Context, name, holder string, ttl time.Duration) (bool, error) {
	current, err := m.rdb.Get(ctx, keyLeasePrefix+name).Result()
	if err == goredis.Nil {
		return m.AcquireLease(ctx, name, holder, ttl)
	}
	if err != nil {
		return false, fmt.Errorf("renew lease %s: %w", name, err)
	}
	if current != holder {
		return false, nil
	}
	if err := m.rdb.Expire(ctx, keyLeasePrefix+name, ttl).Err(); err != nil {
		return false, fmt.Errorf("renew lease %s: %w", name, err)
	}
	return true, nil
}

func (m *Manager) ReleaseLease(ctx context.Context, name, holder string) error {
	if err := releaseScript.Run(ctx, m.rdb, []string{keyLeasePrefix + name}, holder).Err(); err != nil && err != goredis.Nil {
		return fmt.Errorf("release lease %s: %w", name, err)
	}
	return nil
}
