package adapter

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type storeFactory func(t *testing.T) (Store, func(time.Duration))

func newMemoryHarness(t *testing.T) (Store, func(time.Duration)) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	s := NewInMemoryStore()
	s.now = clock.Now
	return s, clock.Advance
}

func newRedisHarness(t *testing.T) (Store, func(time.Duration)) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	return NewRedisStore(client), mr.FastForward
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to connect database: %v", err)
	}
	return db
}

func newGormHarness(t *testing.T) (Store, func(time.Duration)) {
	t.Helper()
	s, err := NewGormStore(openTestDB(t))
	if err != nil {
		t.Fatalf("NewGormStore: %v", err)
	}
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	s.now = clock.Now
	return s, clock.Advance
}

var factories = map[string]storeFactory{
	"memory": newMemoryHarness,
	"redis":  newRedisHarness,
	"gorm":   newGormHarness,
}

func TestStoreGetSetDelete(t *testing.T) {
	for name, factory := range factories {
		t.Run(name, func(t *testing.T) {
			s, _ := factory(t)
			ctx := context.Background()
			if _, ok, err := s.Get(ctx, "foo"); err != nil || ok {
				t.Fatalf("Get missing: ok %v err %v", ok, err)
			}
			if err := s.Set(ctx, "foo", "bar", time.Minute); err != nil {
				t.Fatalf("Set: %v", err)
			}
			if err := s.Set(ctx, "baz", "qux", 0); err != nil {
				t.Fatalf("Set: %v", err)
			}
			if v, ok, err := s.Get(ctx, "foo"); err != nil || !ok || v != "bar" {
				t.Fatalf("Get: expected bar, got %q ok %v err %v", v, ok, err)
			}
			if err := s.Delete(ctx, "foo", "baz", "missing"); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if _, ok, _ := s.Get(ctx, "baz"); ok {
				t.Fatal("baz survived delete")
			}
			if err := s.Delete(ctx); err != nil {
				t.Fatalf("Delete no keys: %v", err)
			}
		})
	}
}

func TestStoreTTL(t *testing.T) {
	for name, factory := range factories {
		t.Run(name, func(t *testing.T) {
			s, advance := factory(t)
			ctx := context.Background()
			if err := s.Set(ctx, "k", "v", time.Second); err != nil {
				t.Fatalf("Set: %v", err)
			}
			if err := s.Set(ctx, "forever", "v", 0); err != nil {
				t.Fatalf("Set: %v", err)
			}
			advance(500 * time.Millisecond)
			if ok, err := s.Expire(ctx, "k", time.Second); err != nil || !ok {
				t.Fatalf("Expire: ok %v err %v", ok, err)
			}
			advance(700 * time.Millisecond)
			if _, ok, _ := s.Get(ctx, "k"); !ok {
				t.Fatal("expire did not extend the ttl")
			}
			advance(time.Second)
			if _, ok, _ := s.Get(ctx, "k"); ok {
				t.Fatal("key outlived its ttl")
			}
			if ok, err := s.Expire(ctx, "k", time.Second); err != nil || ok {
				t.Fatalf("Expire on expired key: ok %v err %v", ok, err)
			}
			if _, ok, _ := s.Get(ctx, "forever"); !ok {
				t.Fatal("key without ttl expired")
			}
		})
	}
}

func TestStoreSwap(t *testing.T) {
	for name, factory := range factories {
		t.Run(name, func(t *testing.T) {
			s, advance := factory(t)
			ctx := context.Background()
			old, existed, err := s.Swap(ctx, "ptr", "t1", time.Minute)
			if err != nil || existed || old != "" {
				t.Fatalf("first swap: old %q existed %v err %v", old, existed, err)
			}
			old, existed, err = s.Swap(ctx, "ptr", "t2", time.Minute)
			if err != nil || !existed || old != "t1" {
				t.Fatalf("second swap: old %q existed %v err %v", old, existed, err)
			}
			if v, _, _ := s.Get(ctx, "ptr"); v != "t2" {
				t.Fatalf("expected t2, got %q", v)
			}
			advance(2 * time.Minute)
			if _, existed, _ := s.Swap(ctx, "ptr", "t3", time.Minute); existed {
				t.Fatal("swap reported an expired value")
			}
		})
	}
}

func TestStoreCompareAndDelete(t *testing.T) {
	for name, factory := range factories {
		t.Run(name, func(t *testing.T) {
			s, _ := factory(t)
			ctx := context.Background()
			_ = s.Set(ctx, "ptr", "t2", time.Minute)
			if ok, err := s.CompareAndDelete(ctx, "ptr", "t1"); err != nil || ok {
				t.Fatalf("mismatched delete: ok %v err %v", ok, err)
			}
			if _, ok, _ := s.Get(ctx, "ptr"); !ok {
				t.Fatal("mismatched compare deleted the key")
			}
			if ok, err := s.CompareAndDelete(ctx, "ptr", "t2"); err != nil || !ok {
				t.Fatalf("matched delete: ok %v err %v", ok, err)
			}
			if ok, _ := s.CompareAndDelete(ctx, "ptr", "t2"); ok {
				t.Fatal("second delete reported success")
			}
		})
	}
}

func TestGormStorePurge(t *testing.T) {
	store, advance := newGormHarness(t)
	s := store.(*GormStore)
	ctx := context.Background()
	_ = s.Set(ctx, "a", "1", time.Second)
	_ = s.Set(ctx, "b", "2", 0)
	advance(2 * time.Second)
	n, err := s.Purge(ctx)
	if err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 purged row, got %d", n)
	}
}

func TestGormStoreWithTableName(t *testing.T) {
	db := openTestDB(t)
	s, err := NewGormStore(db, WithGormTableName("custom_kv"), WithGormTimeout(time.Second))
	if err != nil {
		t.Fatalf("NewGormStore: %v", err)
	}
	if err := s.Set(context.Background(), "k", "v", 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if !db.Migrator().HasTable("custom_kv") {
		t.Fatal("custom table not created")
	}
}
