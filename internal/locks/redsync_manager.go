package locks

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v8"

	"contact-sync/internal/redis"
)

// redsyncManager is the distributed implementation, backed by the
// Redlock algorithm.
type redsyncManager struct {
	client *redis.Client
	rs     *redsync.Redsync
}

// NewRedsyncManager creates a Redis-backed lock manager.
func NewRedsyncManager(client *redis.Client) Manager {
	pool := goredis.NewPool(client.Underlying())
	return &redsyncManager{client: client, rs: redsync.New(pool)}
}

func (m *redsyncManager) Acquire(ctx context.Context, name string, ttl time.Duration) (Lock, error) {
	mutex := m.rs.NewMutex("lock:"+name,
		redsync.WithExpiry(ttl),
		redsync.WithTries(1))
	if err := mutex.LockContext(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotAcquired, err)
	}
	return &redsyncLock{mutex: mutex}, nil
}

func (m *redsyncManager) Close() error {
	return nil
}

type redsyncLock struct {
	mutex *redsync.Mutex
}

func (l *redsyncLock) Release(ctx context.Context) error {
	ok, err := l.mutex.UnlockContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("lock was not held at release")
	}
	return nil
}

func (l *redsyncLock) Extend(ctx context.Context) error {
	ok, err := l.mutex.ExtendContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to extend lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("lock expired before extension")
	}
	return nil
}
