package adapter

import (
	"context"
	stdErrors "errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	warderrors "github.com/mirkobrombin/go-warden/v1/errors"
)

const defaultRedisOpTimeout = 5 * time.Second

var compareAndDeleteScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
else
    return 0
end
`)

// RedisStore implements Store using a Redis backend.
type RedisStore struct {
	client  *redis.Client
	timeout time.Duration
}

// RedisOption configures a RedisStore.
type RedisOption func(*redisStoreOptions)

type redisStoreOptions struct {
	timeout time.Duration
}

// WithTimeout sets the per-operation timeout for Redis calls.
func WithTimeout(d time.Duration) RedisOption {
	return func(o *redisStoreOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// NewRedisStore returns a new RedisStore using the provided Redis client.
func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	o := redisStoreOptions{timeout: defaultRedisOpTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	return &RedisStore{client: client, timeout: o.timeout}
}

func mapRedisErr(err error) error {
	switch {
	case err == nil:
		return nil
	case stdErrors.Is(err, context.DeadlineExceeded):
		return warderrors.ErrTimeout
	case stdErrors.Is(err, redis.ErrClosed):
		return warderrors.ErrConnectionClosed
	}
	return err
}

// op bounds a single round trip by the store timeout.
func (s *RedisStore) op(ctx context.Context) (context.Context, context.CancelFunc, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, mapRedisErr(err)
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	return cctx, cancel, nil
}

// Get implements Store.Get.
func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	cctx, cancel, err := s.op(ctx)
	if err != nil {
		return "", false, err
	}
	defer cancel()
	v, err := s.client.Get(cctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, mapRedisErr(err)
	}
	return v, true, nil
}

// Set implements Store.Set.
func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	cctx, cancel, err := s.op(ctx)
	if err != nil {
		return err
	}
	defer cancel()
	return mapRedisErr(s.client.Set(cctx, key, value, positive(ttl)).Err())
}

// Delete implements Store.Delete.
func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	cctx, cancel, err := s.op(ctx)
	if err != nil {
		return err
	}
	defer cancel()
	return mapRedisErr(s.client.Del(cctx, keys...).Err())
}

// Expire implements Store.Expire. A ttl <= 0 removes the expiry.
func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	cctx, cancel, err := s.op(ctx)
	if err != nil {
		return false, err
	}
	defer cancel()
	var ok bool
	if ttl <= 0 {
		ok, err = s.client.Persist(cctx, key).Result()
		if err == nil && !ok {
			// PERSIST reports false for keys without a ttl too
			n, xerr := s.client.Exists(cctx, key).Result()
			ok, err = n == 1, xerr
		}
	} else {
		ok, err = s.client.PExpire(cctx, key, ttl).Result()
	}
	if err != nil {
		return false, mapRedisErr(err)
	}
	return ok, nil
}

// Swap implements Store.Swap with SET ... GET so the read and the write
// happen in one atomic step.
func (s *RedisStore) Swap(ctx context.Context, key, value string, ttl time.Duration) (string, bool, error) {
	cctx, cancel, err := s.op(ctx)
	if err != nil {
		return "", false, err
	}
	defer cancel()
	old, err := s.client.SetArgs(cctx, key, value, redis.SetArgs{TTL: positive(ttl), Get: true}).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, mapRedisErr(err)
	}
	return old, true, nil
}

// CompareAndDelete implements Store.CompareAndDelete with a Lua script.
func (s *RedisStore) CompareAndDelete(ctx context.Context, key, expected string) (bool, error) {
	cctx, cancel, err := s.op(ctx)
	if err != nil {
		return false, err
	}
	defer cancel()
	n, err := compareAndDeleteScript.Run(cctx, s.client, []string{key}, expected).Int()
	if err != nil && err != redis.Nil {
		return false, mapRedisErr(err)
	}
	return n == 1, nil
}

func positive(ttl time.Duration) time.Duration {
	if ttl < 0 {
		return 0
	}
	return ttl
}
