package lock

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"

	"github.com/mirkobrombin/go-warden/v1/syncbus"
)

const defaultRetryInterval = 50 * time.Millisecond

var delScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
else
    return 0
end
`)

// Redis implements Locker using SET NX PX with a per-lease owner token.
type Redis struct {
	client *redis.Client
	bus    syncbus.Bus
	prefix string
	retry  time.Duration
}

// RedisOption configures a Redis locker.
type RedisOption func(*Redis)

// WithKeyPrefix namespaces lock keys on the Redis server.
func WithKeyPrefix(prefix string) RedisOption {
	return func(r *Redis) { r.prefix = prefix }
}

// WithRetryInterval sets how often waiters poll for a free key in addition
// to bus notifications.
func WithRetryInterval(d time.Duration) RedisOption {
	return func(r *Redis) {
		if d > 0 {
			r.retry = d
		}
	}
}

// NewRedis returns a new Redis locker using the provided client. Release
// events are published on bus; a nil bus means waiters rely on polling.
func NewRedis(client *redis.Client, bus syncbus.Bus, opts ...RedisOption) *Redis {
	r := &Redis{
		client: client,
		bus:    bus,
		prefix: "warden:lock:",
		retry:  defaultRetryInterval,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// TryLock attempts to obtain the lock without waiting.
func (r *Redis) TryLock(ctx context.Context, key string, ttl time.Duration) (Lease, bool, error) {
	if ttl <= 0 {
		return nil, false, ErrInvalidTTL
	}
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, r.prefix+key, token, ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return &redisLease{locker: r, key: key, token: token}, true, nil
}

// Acquire blocks until the lock is obtained or the context is cancelled.
func (r *Redis) Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	ticker := time.NewTicker(r.retry)
	defer ticker.Stop()

	var wake chan struct{}
	for {
		lease, ok, err := r.TryLock(ctx, key, ttl)
		if err != nil {
			return nil, err
		}
		if ok {
			return lease, nil
		}
		if wake == nil {
			wake = make(chan struct{}) // polling only unless the bus works
			if r.bus != nil {
				if ch, err := r.bus.Subscribe(subCtx, unlockTopic(key)); err == nil {
					// retry right away: the holder may have released before we subscribed
					wake = ch
					continue
				}
			}
		}
		select {
		case _, open := <-wake:
			if !open {
				wake = make(chan struct{})
			}
		case <-ticker.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

type redisLease struct {
	locker   *Redis
	key      string
	token    string
	released atomic.Bool
}

func (l *redisLease) Key() string { return l.key }

// Release deletes the key only if it still carries this lease's token, so
// a holder whose lease expired cannot free a successor's lock.
func (l *redisLease) Release(ctx context.Context) error {
	if l.released.Swap(true) {
		return ErrNotHeld
	}
	n, err := delScript.Run(ctx, l.locker.client, []string{l.locker.prefix + l.key}, l.token).Int()
	if err != nil && err != redis.Nil {
		l.released.Store(false)
		return err
	}
	if n == 0 {
		return ErrNotHeld
	}
	if l.locker.bus != nil {
		_ = l.locker.bus.Publish(ctx, unlockTopic(l.key))
	}
	return nil
}
