// Package locks serializes sync passes per connection. With Redis
// configured the lock is distributed (Redlock via redsync) so multiple
// sync processes coordinate; without it a process-local mutex table
// gives the same guarantee within one process.
package locks

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ErrNotAcquired is returned when the lock is already held elsewhere.
var ErrNotAcquired = fmt.Errorf("lock already held")

// Lock is one held lock.
type Lock interface {
	// Release frees the lock. Releasing an expired lock is an error.
	Release(ctx context.Context) error
	// Extend pushes the expiry out by the original TTL.
	Extend(ctx context.Context) error
}

// Manager hands out named locks.
type Manager interface {
	// Acquire takes the named lock or fails fast with ErrNotAcquired.
	Acquire(ctx context.Context, name string, ttl time.Duration) (Lock, error)
	Close() error
}

// memoryManager is the single-process fallback.
type memoryManager struct {
	mu   sync.Mutex
	held map[string]time.Time // name -> expiry
}

// NewMemoryManager creates a process-local lock manager.
func NewMemoryManager() Manager {
	return &memoryManager{held: map[string]time.Time{}}
}

func (m *memoryManager) Acquire(ctx context.Context, name string, ttl time.Duration) (Lock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if expiry, ok := m.held[name]; ok && time.Now().Before(expiry) {
		return nil, ErrNotAcquired
	}
	m.held[name] = time.Now().Add(ttl)
	return &memoryLock{manager: m, name: name, ttl: ttl}, nil
}

func (m *memoryManager) Close() error {
	return nil
}

type memoryLock struct {
	manager *memoryManager
	name    string
	ttl     time.Duration
}

func (l *memoryLock) Release(ctx context.Context) error {
	l.manager.mu.Lock()
	defer l.manager.mu.Unlock()
	if _, ok := l.manager.held[l.name]; !ok {
		return fmt.Errorf("lock %s not held", l.name)
	}
	delete(l.manager.held, l.name)
	return nil
}

func (l *memoryLock) Extend(ctx context.Context) error {
	l.manager.mu.Lock()
	defer l.manager.mu.Unlock()
	l.manager.held[l.name] = time.Now().Add(l.ttl)
	return nil
}
