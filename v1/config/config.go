// Package config loads warden settings from the environment.
//
// Every variable is prefixed with WARDEN_, for example WARDEN_REDIS_ADDR.
// Load reads optional dotenv files first; variables already present in the
// process environment win over file values.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const Prefix = "WARDEN_"

// Bus selects the lock wake-up transport.
type Bus string

const (
	BusMemory Bus = "memory"
	BusRedis  Bus = "redis"
	BusNATS   Bus = "nats"
)

// Config is the complete warden configuration.
type Config struct {
	// RedisAddr enables the Redis backed stack. Empty selects the standalone
	// stack over DatabaseDSN.
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	DatabaseDSN string `env:"DATABASE_DSN" envDefault:"file:warden.db?_busy_timeout=5000"`

	Bus     Bus    `env:"BUS" envDefault:"redis"`
	NATSURL string `env:"NATS_URL" envDefault:"nats://127.0.0.1:4222"`

	SessionTTL      time.Duration `env:"SESSION_TTL" envDefault:"30m"`
	PointerTTL      time.Duration `env:"POINTER_TTL" envDefault:"24h"`
	SlidingSessions bool          `env:"SLIDING_SESSIONS" envDefault:"true"`

	LockAcquireTimeout time.Duration `env:"LOCK_ACQUIRE_TIMEOUT" envDefault:"1s"`
	LockRetryInterval  time.Duration `env:"LOCK_RETRY_INTERVAL" envDefault:"50ms"`
	StoreOpTimeout     time.Duration `env:"STORE_OP_TIMEOUT" envDefault:"5s"`

	HasherSecret string `env:"HASHER_SECRET,required"`

	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	TraceStdout bool   `env:"TRACE_STDOUT"`
	MetricsAddr string `env:"METRICS_ADDR" envDefault:":9090"`
}

// Load reads the given dotenv files, then parses the environment.
func Load(files ...string) (Config, error) {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("config: env file %s: %w", f, err)
			}
			return Config{}, fmt.Errorf("config: read %s: %w", f, err)
		}
	}
	return parse(env.Options{Prefix: Prefix})
}

// FromMap parses cfg from vars (keys without prefix) instead of the process
// environment.
func FromMap(vars map[string]string) (Config, error) {
	environ := make(map[string]string, len(vars))
	for k, v := range vars {
		environ[Prefix+k] = v
	}
	return parse(env.Options{Prefix: Prefix, Environment: environ})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	var errs []error
	for name, d := range map[string]time.Duration{
		"SESSION_TTL":          c.SessionTTL,
		"POINTER_TTL":          c.PointerTTL,
		"LOCK_ACQUIRE_TIMEOUT": c.LockAcquireTimeout,
		"LOCK_RETRY_INTERVAL":  c.LockRetryInterval,
		"STORE_OP_TIMEOUT":     c.StoreOpTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s%s must be positive", Prefix, name))
		}
	}
	if c.PointerTTL < c.SessionTTL {
		errs = append(errs, fmt.Errorf("%sPOINTER_TTL must not be shorter than %sSESSION_TTL", Prefix, Prefix))
	}
	switch c.Bus {
	case BusMemory, BusRedis, BusNATS:
	default:
		errs = append(errs, fmt.Errorf("%sBUS must be one of memory, redis, nats; got %q", Prefix, c.Bus))
	}
	if len(c.HasherSecret) < 16 {
		errs = append(errs, fmt.Errorf("%sHASHER_SECRET must be at least 16 bytes", Prefix))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Standalone reports whether the stack runs without Redis.
func (c Config) Standalone() bool { return c.RedisAddr == "" }
