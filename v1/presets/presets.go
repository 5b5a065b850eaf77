// Package presets assembles a ready to use warden stack from configuration.
package presets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	nats "github.com/nats-io/nats.go"
	redis "github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mirkobrombin/go-warden/v1/account"
	"github.com/mirkobrombin/go-warden/v1/adapter"
	"github.com/mirkobrombin/go-warden/v1/config"
	"github.com/mirkobrombin/go-warden/v1/guard"
	"github.com/mirkobrombin/go-warden/v1/keytmpl"
	"github.com/mirkobrombin/go-warden/v1/lock"
	"github.com/mirkobrombin/go-warden/v1/logging"
	"github.com/mirkobrombin/go-warden/v1/session"
	"github.com/mirkobrombin/go-warden/v1/syncbus"
)

// Stack holds every component of a running warden instance.
type Stack struct {
	Logger   *slog.Logger
	DB       *gorm.DB
	Redis    *redis.Client
	Bus      syncbus.Bus
	Store    adapter.Store
	Locker   lock.Locker
	Locks    *lock.Client
	Resolver *keytmpl.Resolver
	Guard    *guard.Guard
	Sessions *session.Manager
	Accounts *account.Service

	closers []func() error
}

func (s *Stack) onClose(fn func() error) { s.closers = append(s.closers, fn) }

// Close releases resources in reverse creation order.
func (s *Stack) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// OpenDB opens the SQLite database at dsn with error translation enabled.
func OpenDB(dsn string) (*gorm.DB, error) {
	return gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
}

// New builds the stack described by cfg: Redis backed when cfg.RedisAddr is
// set, otherwise a single node stack keeping sessions in the database.
func New(ctx context.Context, cfg config.Config, log *slog.Logger) (*Stack, error) {
	if cfg.Standalone() {
		return NewPersistent(ctx, cfg, log)
	}
	return NewRedis(ctx, cfg, log)
}

// NewRedis builds a multi-node stack: Redis for sessions and locks, the
// configured bus for lock wake-ups.
func NewRedis(ctx context.Context, cfg config.Config, log *slog.Logger) (_ *Stack, err error) {
	st := &Stack{Logger: orNop(log)}
	defer func() {
		if err != nil {
			_ = st.Close()
		}
	}()

	if err := openDB(st, cfg.DatabaseDSN); err != nil {
		return nil, err
	}

	st.Redis = redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	st.onClose(st.Redis.Close)
	pctx, cancel := context.WithTimeout(ctx, cfg.StoreOpTimeout)
	defer cancel()
	if err := st.Redis.Ping(pctx).Err(); err != nil {
		return nil, fmt.Errorf("presets: redis ping: %w", err)
	}

	switch cfg.Bus {
	case config.BusRedis:
		b := syncbus.NewRedisBus(st.Redis)
		st.onClose(b.Close)
		st.Bus = b
	case config.BusNATS:
		conn, err := nats.Connect(cfg.NATSURL)
		if err != nil {
			return nil, fmt.Errorf("presets: nats connect: %w", err)
		}
		st.onClose(func() error { conn.Close(); return nil })
		st.Bus = syncbus.NewNATSBus(conn)
	default:
		st.Bus = syncbus.NewInMemoryBus()
	}

	st.Store = adapter.NewRedisStore(st.Redis, adapter.WithTimeout(cfg.StoreOpTimeout))
	st.Locker = lock.NewRedis(st.Redis, st.Bus, lock.WithRetryInterval(cfg.LockRetryInterval))
	if err := assemble(st, cfg); err != nil {
		return nil, err
	}
	st.Logger.Info("warden stack ready", "mode", "redis", "bus", string(cfg.Bus))
	return st, nil
}

// NewPersistent builds a single node stack without Redis: sessions live in
// the database so they survive restarts, locks are process local.
func NewPersistent(ctx context.Context, cfg config.Config, log *slog.Logger) (_ *Stack, err error) {
	st := &Stack{Logger: orNop(log)}
	defer func() {
		if err != nil {
			_ = st.Close()
		}
	}()

	if err := openDB(st, cfg.DatabaseDSN); err != nil {
		return nil, err
	}
	store, err := adapter.NewGormStore(st.DB, adapter.WithGormTimeout(cfg.StoreOpTimeout))
	if err != nil {
		return nil, fmt.Errorf("presets: session table: %w", err)
	}
	if n, err := store.Purge(ctx); err != nil {
		st.Logger.Warn("purge expired sessions failed", "error", err)
	} else if n > 0 {
		st.Logger.Debug("purged expired sessions", "count", n)
	}

	st.Bus = syncbus.NewInMemoryBus()
	st.Store = store
	st.Locker = lock.NewInMemory()
	if err := assemble(st, cfg); err != nil {
		return nil, err
	}
	st.Logger.Info("warden stack ready", "mode", "standalone")
	return st, nil
}

// NewStandalone builds an in-process stack over db with default settings.
// Sessions and locks live in memory.
func NewStandalone(db *gorm.DB, secret string) (*Stack, error) {
	cfg, err := config.FromMap(map[string]string{"HASHER_SECRET": secret, "BUS": string(config.BusMemory)})
	if err != nil {
		return nil, err
	}
	st := &Stack{
		Logger: logging.NewNop(),
		DB:     db,
		Bus:    syncbus.NewInMemoryBus(),
		Store:  adapter.NewInMemoryStore(),
		Locker: lock.NewInMemory(),
	}
	if err := assemble(st, cfg); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

func openDB(st *Stack, dsn string) error {
	db, err := OpenDB(dsn)
	if err != nil {
		return fmt.Errorf("presets: open database: %w", err)
	}
	st.DB = db
	st.onClose(func() error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	})
	return nil
}

// assemble wires the components shared by every preset on top of st.Store,
// st.Locker and st.DB.
func assemble(st *Stack, cfg config.Config) error {
	resolver, err := keytmpl.NewResolver()
	if err != nil {
		return fmt.Errorf("presets: key resolver: %w", err)
	}
	st.Resolver = resolver
	st.onClose(func() error { resolver.Close(); return nil })

	st.Locks = lock.NewClient(st.Locker, lock.WithLogger(st.Logger))
	st.Guard = guard.New(st.Locks, resolver,
		guard.WithAcquireTimeout(cfg.LockAcquireTimeout),
		guard.WithLogger(st.Logger))
	st.Sessions = session.NewManager(st.Store,
		session.WithSessionTTL(cfg.SessionTTL),
		session.WithPointerTTL(cfg.PointerTTL),
		session.WithSlidingExpiry(cfg.SlidingSessions),
		session.WithLogger(st.Logger))

	repo, err := account.NewGormRepository(st.DB, account.WithRepositoryTimeout(cfg.StoreOpTimeout))
	if err != nil {
		return fmt.Errorf("presets: users table: %w", err)
	}
	hasher, err := account.NewArgon2Hasher(cfg.HasherSecret)
	if err != nil {
		return err
	}
	st.Accounts = account.NewService(repo, hasher, st.Sessions, st.Guard, account.WithLogger(st.Logger))
	return nil
}

func orNop(l *slog.Logger) *slog.Logger {
	if l == nil {
		return logging.NewNop()
	}
	return l
}
