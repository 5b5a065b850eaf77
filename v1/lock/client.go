package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	warderrors "github.com/mirkobrombin/go-warden/v1/errors"
	"github.com/mirkobrombin/go-warden/v1/logging"
	"github.com/mirkobrombin/go-warden/v1/metrics"
)

const defaultReleaseTimeout = 5 * time.Second

var tracer = otel.Tracer("github.com/mirkobrombin/go-warden/v1/lock")

// Client runs work while holding a lease from a Locker.
type Client struct {
	locker         Locker
	logger         *slog.Logger
	releaseTimeout time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger used for acquisition, release and work failures.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithReleaseTimeout bounds the release round trip.
func WithReleaseTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.releaseTimeout = d
		}
	}
}

// NewClient returns a Client over locker.
func NewClient(locker Locker, opts ...Option) *Client {
	c := &Client{
		locker:         locker,
		logger:         logging.NewNop(),
		releaseTimeout: defaultReleaseTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithLock runs work while holding the lock on key. See Do.
func (c *Client) WithLock(ctx context.Context, key string, ttl, timeout time.Duration, work func(context.Context) error) error {
	if work == nil {
		return warderrors.New(warderrors.CodeInvalidLockConfig, "lock work function is nil")
	}
	_, err := Do(ctx, c, key, ttl, timeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, work(ctx)
	})
	return err
}

// Do acquires key for at most ttl, waiting up to timeout, runs work exactly
// once while holding it and releases the lease on every exit path.
//
// Configuration errors are reported before the store is contacted. Errors
// returned by work that already carry a warden code are returned unchanged;
// anything else, panics included, becomes a work_failed error.
func Do[T any](ctx context.Context, c *Client, key string, ttl, timeout time.Duration, work func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := validate(key, ttl, timeout); err != nil {
		metrics.LockAcquisitions.WithLabelValues("invalid").Inc()
		return zero, err
	}
	if work == nil {
		return zero, warderrors.New(warderrors.CodeInvalidLockConfig, "lock work function is nil")
	}

	ctx, span := tracer.Start(ctx, "lock.Do", trace.WithAttributes(
		attribute.String("warden.lock.key", key),
		attribute.Int64("warden.lock.ttl_ms", ttl.Milliseconds()),
	))
	defer span.End()

	start := time.Now()
	actx, cancel := context.WithTimeout(ctx, timeout)
	lease, err := c.locker.Acquire(actx, key, ttl)
	cancel()
	metrics.LockWaitSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		result := "error"
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, warderrors.ErrTimeout) {
			result = "timeout"
		}
		metrics.LockAcquisitions.WithLabelValues(result).Inc()
		c.logger.WarnContext(ctx, "lock not acquired", "lock_key", key, "timeout", timeout, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "lock not acquired")
		return zero, warderrors.Wrap(warderrors.CodeLockAcquisition,
			fmt.Sprintf("could not acquire lock within %s, try again later", timeout), err)
	}
	metrics.LockAcquisitions.WithLabelValues("acquired").Inc()
	c.logger.DebugContext(ctx, "lock acquired", "lock_key", key)

	held := time.Now()
	defer func() {
		metrics.LockHoldSeconds.Observe(time.Since(held).Seconds())
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.releaseTimeout)
		defer cancel()
		if err := lease.Release(rctx); err != nil {
			// the lease may have expired mid-work; the key is free either way
			c.logger.WarnContext(ctx, "lock release failed", "lock_key", key, "error", err)
			return
		}
		c.logger.DebugContext(ctx, "lock released", "lock_key", key)
	}()

	res, err := runWork(ctx, c.logger, key, work)
	if err != nil {
		metrics.WorkFailures.WithLabelValues(string(warderrors.CodeOf(err))).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "work failed")
		return zero, err
	}
	return res, nil
}

func runWork[T any](ctx context.Context, logger *slog.Logger, key string, work func(context.Context) (T, error)) (res T, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorContext(ctx, "panic while holding lock", "lock_key", key, "panic", r, "stack", string(debug.Stack()))
			var zero T
			res, err = zero, warderrors.Wrap(warderrors.CodeWorkFailed, "operation failed", fmt.Errorf("panic: %v", r))
		}
	}()
	res, err = work(ctx)
	if err != nil && !warderrors.IsClassified(err) {
		logger.ErrorContext(ctx, "work failed under lock", "lock_key", key, "error", err)
		var zero T
		return zero, warderrors.Wrap(warderrors.CodeWorkFailed, "operation failed", err)
	}
	return res, err
}

func validate(key string, ttl, timeout time.Duration) error {
	switch {
	case strings.TrimSpace(key) == "":
		return warderrors.New(warderrors.CodeInvalidLockConfig, "lock key must not be empty")
	case ttl <= 0:
		return warderrors.New(warderrors.CodeInvalidLockConfig, "lock expiry must be greater than 0")
	case timeout <= 0:
		return warderrors.New(warderrors.CodeInvalidLockConfig, "lock wait timeout must be greater than 0")
	}
	return nil
}
