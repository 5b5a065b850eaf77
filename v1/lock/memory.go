package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

type lockState struct {
	token  uint64
	timer  *time.Timer
	notify chan struct{}
}

// InMemory implements Locker using local memory. It coordinates goroutines
// of a single process only.
type InMemory struct {
	mu    sync.Mutex
	next  uint64
	locks map[string]*lockState
}

// NewInMemory returns a new in-memory locker.
func NewInMemory() *InMemory {
	return &InMemory{locks: make(map[string]*lockState)}
}

// TryLock attempts to obtain the lock without waiting. It returns true on success.
func (l *InMemory) TryLock(ctx context.Context, key string, ttl time.Duration) (Lease, bool, error) {
	if ttl <= 0 {
		return nil, false, ErrInvalidTTL
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.locks[key]; ok {
		return nil, false, nil
	}
	l.next++
	token := l.next
	st := &lockState{token: token, notify: make(chan struct{})}
	st.timer = time.AfterFunc(ttl, func() {
		_ = l.release(key, token)
	})
	l.locks[key] = st
	return &memoryLease{locker: l, key: key, token: token}, true, nil
}

// Acquire blocks until the lock is obtained or the context is cancelled.
func (l *InMemory) Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	for {
		lease, ok, err := l.TryLock(ctx, key, ttl)
		if err != nil {
			return nil, err
		}
		if ok {
			return lease, nil
		}
		l.mu.Lock()
		st, held := l.locks[key]
		l.mu.Unlock()
		if !held {
			continue
		}
		select {
		case <-st.notify:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (l *InMemory) release(key string, token uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.locks[key]
	if !ok || st.token != token {
		return ErrNotHeld
	}
	st.timer.Stop()
	close(st.notify)
	delete(l.locks, key)
	return nil
}

type memoryLease struct {
	locker   *InMemory
	key      string
	token    uint64
	released atomic.Bool
}

func (m *memoryLease) Key() string { return m.key }

// Release frees the lock if this lease still owns it.
func (m *memoryLease) Release(ctx context.Context) error {
	if m.released.Swap(true) {
		return ErrNotHeld
	}
	return m.locker.release(m.key, m.token)
}
