package lease

import (
	"context"
	"sync"
	"time"
)

// LocalLocker serializes holders within one process. The ttl is ignored:
// a lease lives until it is released.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{
		held: make(map[string]struct{}),
	}
}

func (l *LocalLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, func(), error) {
	if err := ctx.Err(); err != nil {
		return false, nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.held[key]; ok {
		return false, nil, nil
	}
	l.held[key] = struct{}{}

	var once sync.Once
	release := func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}

	return true, release, nil
}

func (l *LocalLocker) IsLocked(ctx context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, ok := l.held[key]
	return ok, nil
}
