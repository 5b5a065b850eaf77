package adapter

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	warderrors "github.com/mirkobrombin/go-warden/v1/errors"
)

const (
	defaultGormTableName = "warden_kv_store"
	defaultGormOpTimeout = 5 * time.Second
)

// gormKV is the row stored per key. ExpiresAt is unix milliseconds, zero
// for keys without a ttl.
type gormKV struct {
	Key       string `gorm:"primaryKey;column:key_id"`
	Value     string `gorm:"column:value"`
	ExpiresAt int64  `gorm:"column:expires_at;index"`
}

// GormStore implements Store on a SQL table through GORM. It lets a single
// node keep sessions across process restarts without Redis.
type GormStore struct {
	db        *gorm.DB
	tableName string
	timeout   time.Duration
	now       func() time.Time
}

// GormOption configures a GormStore.
type GormOption func(*gormStoreOptions)

type gormStoreOptions struct {
	tableName string
	timeout   time.Duration
}

// WithGormTableName sets the table name for the GormStore.
func WithGormTableName(name string) GormOption {
	return func(o *gormStoreOptions) {
		o.tableName = name
	}
}

// WithGormTimeout sets the operation timeout for GORM calls.
func WithGormTimeout(d time.Duration) GormOption {
	return func(o *gormStoreOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// NewGormStore returns a new GormStore, creating its table if needed.
func NewGormStore(db *gorm.DB, opts ...GormOption) (*GormStore, error) {
	o := gormStoreOptions{
		tableName: defaultGormTableName,
		timeout:   defaultGormOpTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if err := db.Table(o.tableName).AutoMigrate(&gormKV{}); err != nil {
		return nil, err
	}
	return &GormStore{db: db, tableName: o.tableName, timeout: o.timeout, now: time.Now}, nil
}

func mapGormErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return warderrors.ErrTimeout
	}
	return err
}

func (s *GormStore) table(ctx context.Context) (*gorm.DB, context.CancelFunc, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, mapGormErr(err)
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	return s.db.WithContext(cctx).Table(s.tableName), cancel, nil
}

func (s *GormStore) expiry(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	return s.now().Add(ttl).UnixMilli()
}

func (s *GormStore) live(tx *gorm.DB) *gorm.DB {
	return tx.Where("expires_at = 0 OR expires_at > ?", s.now().UnixMilli())
}

// Get implements Store.Get.
func (s *GormStore) Get(ctx context.Context, key string) (string, bool, error) {
	tx, cancel, err := s.table(ctx)
	if err != nil {
		return "", false, err
	}
	defer cancel()
	var kv gormKV
	err = s.live(tx.Where("key_id = ?", key)).Take(&kv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, mapGormErr(err)
	}
	return kv.Value, true, nil
}

func upsert(tx *gorm.DB, kv *gormKV) error {
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "expires_at"}),
	}).Create(kv).Error
}

// Set implements Store.Set.
func (s *GormStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	tx, cancel, err := s.table(ctx)
	if err != nil {
		return err
	}
	defer cancel()
	return mapGormErr(upsert(tx, &gormKV{Key: key, Value: value, ExpiresAt: s.expiry(ttl)}))
}

// Delete implements Store.Delete.
func (s *GormStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	tx, cancel, err := s.table(ctx)
	if err != nil {
		return err
	}
	defer cancel()
	return mapGormErr(tx.Where("key_id IN ?", keys).Delete(&gormKV{}).Error)
}

// Expire implements Store.Expire.
func (s *GormStore) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	tx, cancel, err := s.table(ctx)
	if err != nil {
		return false, err
	}
	defer cancel()
	res := s.live(tx.Model(&gormKV{}).Where("key_id = ?", key)).Update("expires_at", s.expiry(ttl))
	if res.Error != nil {
		return false, mapGormErr(res.Error)
	}
	return res.RowsAffected > 0, nil
}

// Swap implements Store.Swap inside a transaction.
func (s *GormStore) Swap(ctx context.Context, key, value string, ttl time.Duration) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, mapGormErr(err)
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var old string
	var existed bool
	err := s.db.WithContext(cctx).Transaction(func(tx *gorm.DB) error {
		var kv gormKV
		err := s.live(tx.Table(s.tableName).Where("key_id = ?", key)).Take(&kv).Error
		switch {
		case err == nil:
			old, existed = kv.Value, true
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}
		return upsert(tx.Table(s.tableName), &gormKV{Key: key, Value: value, ExpiresAt: s.expiry(ttl)})
	})
	if err != nil {
		return "", false, mapGormErr(err)
	}
	return old, existed, nil
}

// CompareAndDelete implements Store.CompareAndDelete as a conditional delete.
func (s *GormStore) CompareAndDelete(ctx context.Context, key, expected string) (bool, error) {
	tx, cancel, err := s.table(ctx)
	if err != nil {
		return false, err
	}
	defer cancel()
	res := s.live(tx.Where("key_id = ? AND value = ?", key, expected)).Delete(&gormKV{})
	if res.Error != nil {
		return false, mapGormErr(res.Error)
	}
	return res.RowsAffected == 1, nil
}

// Purge deletes expired rows and returns how many were removed.
func (s *GormStore) Purge(ctx context.Context) (int64, error) {
	tx, cancel, err := s.table(ctx)
	if err != nil {
		return 0, err
	}
	defer cancel()
	res := tx.Where("expires_at <> 0 AND expires_at <= ?", s.now().UnixMilli()).Delete(&gormKV{})
	return res.RowsAffected, mapGormErr(res.Error)
}
