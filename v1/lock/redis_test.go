package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"

	"github.com/mirkobrombin/go-warden/v1/syncbus"
)

func newRedisLocker(t *testing.T) (*Redis, *miniredis.Miniredis, syncbus.Bus, context.Context) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	bus := syncbus.NewInMemoryBus()
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	return NewRedis(client, bus, WithRetryInterval(5*time.Millisecond)), mr, bus, context.Background()
}

func TestRedisTryLockAcquireReleaseAndBus(t *testing.T) {
	l, mr, bus, ctx := newRedisLocker(t)

	unlockCh, err := bus.Subscribe(ctx, "unlock:k")
	if err != nil {
		t.Fatalf("subscribe unlock: %v", err)
	}

	lease, err := l.Acquire(ctx, "k", time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if !mr.Exists("warden:lock:k") {
		t.Fatal("lock key not written")
	}
	if mr.TTL("warden:lock:k") <= 0 {
		t.Fatal("lock key has no expiry")
	}
	if _, ok, err := l.TryLock(ctx, "k", time.Second); err != nil || ok {
		t.Fatalf("expected lock held, ok %v err %v", ok, err)
	}
	if err := lease.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	select {
	case <-unlockCh:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for unlock publish")
	}
	if mr.Exists("warden:lock:k") {
		t.Fatal("lock key not deleted on release")
	}
	if err := lease.Release(ctx); !errors.Is(err, ErrNotHeld) {
		t.Fatalf("expected ErrNotHeld, got %v", err)
	}
}

func TestRedisAcquireTimeout(t *testing.T) {
	l1, _, bus, ctx := newRedisLocker(t)
	l2 := NewRedis(l1.client, bus)

	if _, ok, err := l1.TryLock(ctx, "k", time.Minute); err != nil || !ok {
		t.Fatalf("initial trylock: %v ok %v", err, ok)
	}

	cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	if _, err := l2.Acquire(cctx, "k", time.Second); err == nil {
		t.Fatal("expected timeout error")
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatal("acquire did not respect context timeout")
	}
}

func TestRedisWaiterWokenAfterExpiry(t *testing.T) {
	l, mr, _, ctx := newRedisLocker(t)

	if _, ok, err := l.TryLock(ctx, "k", time.Second); err != nil || !ok {
		t.Fatalf("trylock: %v ok %v", err, ok)
	}

	got := make(chan error, 1)
	go func() {
		cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		_, err := l.Acquire(cctx, "k", time.Second)
		got <- err
	}()

	time.Sleep(20 * time.Millisecond)
	mr.FastForward(2 * time.Second)

	select {
	case err := <-got:
		if err != nil {
			t.Fatalf("waiter: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("waiter not woken after ttl expiry")
	}
}

func TestRedisStaleLeaseCannotReleaseSuccessor(t *testing.T) {
	l, mr, _, ctx := newRedisLocker(t)

	stale, ok, err := l.TryLock(ctx, "k", time.Second)
	if err != nil || !ok {
		t.Fatalf("trylock: %v ok %v", err, ok)
	}
	mr.FastForward(2 * time.Second)

	next, ok, err := l.TryLock(ctx, "k", time.Minute)
	if err != nil || !ok {
		t.Fatalf("successor trylock: %v ok %v", err, ok)
	}
	if err := stale.Release(ctx); !errors.Is(err, ErrNotHeld) {
		t.Fatalf("expected ErrNotHeld for stale lease, got %v", err)
	}
	if !mr.Exists("warden:lock:k") {
		t.Fatal("stale lease deleted the successor's lock")
	}
	if err := next.Release(ctx); err != nil {
		t.Fatalf("successor release: %v", err)
	}
}

func TestRedisKeyPrefix(t *testing.T) {
	l, mr, _, ctx := newRedisLocker(t)
	custom := NewRedis(l.client, nil, WithKeyPrefix("app:"))
	lease, ok, err := custom.TryLock(ctx, "k", time.Second)
	if err != nil || !ok {
		t.Fatalf("trylock: %v ok %v", err, ok)
	}
	if !mr.Exists("app:k") {
		t.Fatal("custom prefix not applied")
	}
	if err := lease.Release(ctx); err != nil {
		t.Fatalf("release without bus: %v", err)
	}
}
