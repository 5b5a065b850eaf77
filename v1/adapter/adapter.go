package adapter

import (
	"context"
	"sync"
	"time"
)

// Store is the shared key-value substrate for session state. Values are
// opaque strings; a ttl <= 0 means the key does not expire.
//
// Every single-key operation is atomic.
type Store interface {
	// Get returns the live value for key. The boolean reports whether the
	// key exists.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set writes value under key with the given ttl.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Delete removes keys. Missing keys are ignored.
	Delete(ctx context.Context, keys ...string) error
	// Expire re-arms the ttl of an existing key. It reports false when the
	// key does not exist.
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Swap writes value under key and returns the value it replaced.
	Swap(ctx context.Context, key, value string, ttl time.Duration) (old string, existed bool, err error)
	// CompareAndDelete deletes key only if it currently holds expected.
	CompareAndDelete(ctx context.Context, key, expected string) (bool, error)
}

type entry struct {
	value   string
	expires time.Time
}

func (e entry) live(now time.Time) bool {
	return e.expires.IsZero() || now.Before(e.expires)
}

// InMemoryStore is a Store backed by a map. Expired keys are reaped lazily.
type InMemoryStore struct {
	mu    sync.Mutex
	items map[string]entry
	now   func() time.Time
}

// NewInMemoryStore returns a new InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{items: make(map[string]entry), now: time.Now}
}

func (s *InMemoryStore) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.now().Add(ttl)
}

// lookup must be called with s.mu held.
func (s *InMemoryStore) lookup(key string) (entry, bool) {
	e, ok := s.items[key]
	if !ok {
		return entry{}, false
	}
	if !e.live(s.now()) {
		delete(s.items, key)
		return entry{}, false
	}
	return e, true
}

// Get implements Store.Get.
func (s *InMemoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lookup(key)
	return e.value, ok, nil
}

// Set implements Store.Set.
func (s *InMemoryStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	s.items[key] = entry{value: value, expires: s.expiry(ttl)}
	s.mu.Unlock()
	return nil
}

// Delete implements Store.Delete.
func (s *InMemoryStore) Delete(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	for _, k := range keys {
		delete(s.items, k)
	}
	s.mu.Unlock()
	return nil
}

// Expire implements Store.Expire.
func (s *InMemoryStore) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lookup(key)
	if !ok {
		return false, nil
	}
	e.expires = s.expiry(ttl)
	s.items[key] = e
	return true, nil
}

// Swap implements Store.Swap.
func (s *InMemoryStore) Swap(ctx context.Context, key, value string, ttl time.Duration) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.lookup(key)
	s.items[key] = entry{value: value, expires: s.expiry(ttl)}
	return old.value, ok, nil
}

// CompareAndDelete implements Store.CompareAndDelete.
func (s *InMemoryStore) CompareAndDelete(ctx context.Context, key, expected string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lookup(key)
	if !ok || e.value != expected {
		return false, nil
	}
	delete(s.items, key)
	return true, nil
}
