package s1_import

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/wonny/heatrank/backend/internal/contracts"
	"github.com/wonny/heatrank/backend/pkg/redis"
)

// DateLocker grants exclusive access to one (import type, date).
// TryLock never waits: a held lock yields *contracts.WriteConflictError.
type DateLocker interface {
	TryLock(ctx context.Context, t contracts.ImportType, date time.Time) (release func(), err error)
}

func lockName(t contracts.ImportType, date time.Time) string {
	return fmt.Sprintf("%s:%s", t, date.Format(contracts.DateLayout))
}

// MemoryLocks is a process-local DateLocker
type MemoryLocks struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewMemoryLocks creates an empty lock table
func NewMemoryLocks() *MemoryLocks {
	return &MemoryLocks{held: make(map[string]struct{})}
}

// TryLock implements DateLocker
func (m *MemoryLocks) TryLock(_ context.Context, t contracts.ImportType, date time.Time) (func(), error) {
	name := lockName(t, date)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, busy := m.held[name]; busy {
		return nil, &contracts.WriteConflictError{ImportType: t, Date: date}
	}
	m.held[name] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.held, name)
			m.mu.Unlock()
		})
	}, nil
}

// RedisLocks shares date locks between processes
type RedisLocks struct {
	locker *redis.Locker
	ttl    time.Duration
}

// NewRedisLocks wraps a redis locker; ttl bounds a crashed holder
func NewRedisLocks(locker *redis.Locker, ttl time.Duration) *RedisLocks {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisLocks{locker: locker, ttl: ttl}
}

// TryLock implements DateLocker
func (r *RedisLocks) TryLock(ctx context.Context, t contracts.ImportType, date time.Time) (func(), error) {
	name := lockName(t, date)

	token, ok, err := r.locker.Acquire(ctx, name, r.ttl)
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	if !ok {
		return nil, &contracts.WriteConflictError{ImportType: t, Date: date}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// the caller's context may already be done
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = r.locker.Release(releaseCtx, name, token)
		})
	}, nil
}
