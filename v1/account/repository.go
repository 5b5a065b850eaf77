package account

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	warderrors "github.com/mirkobrombin/go-warden/v1/errors"
)

const defaultRepoTimeout = 5 * time.Second

// Repository is the credential store.
type Repository interface {
	// FindByAccount returns nil when no such account exists.
	FindByAccount(ctx context.Context, account string) (*User, error)
	// FindByID returns nil when no such user exists.
	FindByID(ctx context.Context, id int64) (*User, error)
	CountByAccount(ctx context.Context, account string) (int64, error)
	// Save inserts u and sets its ID.
	Save(ctx context.Context, u *User) error
	// UpdateByID applies fields (column name to value) to one user.
	UpdateByID(ctx context.Context, id int64, fields map[string]any) error
}

// GormRepository implements Repository with GORM.
type GormRepository struct {
	db      *gorm.DB
	timeout time.Duration
}

// RepositoryOption configures a GormRepository.
type RepositoryOption func(*GormRepository)

// WithRepositoryTimeout bounds every query.
func WithRepositoryTimeout(d time.Duration) RepositoryOption {
	return func(r *GormRepository) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// NewGormRepository migrates the users table and returns a repository. Open
// db with TranslateError so unique violations surface as duplicate accounts
// without a second query.
func NewGormRepository(db *gorm.DB, opts ...RepositoryOption) (*GormRepository, error) {
	if err := db.AutoMigrate(&User{}); err != nil {
		return nil, err
	}
	r := &GormRepository{db: db, timeout: defaultRepoTimeout}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func (r *GormRepository) conn(ctx context.Context) (*gorm.DB, context.CancelFunc, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, mapGormErr(err)
	}
	cctx, cancel := context.WithTimeout(ctx, r.timeout)
	return r.db.WithContext(cctx), cancel, nil
}

func mapGormErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return warderrors.ErrTimeout
	}
	return err
}

func (r *GormRepository) find(ctx context.Context, query string, arg any) (*User, error) {
	db, cancel, err := r.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()
	var u User
	err = db.Where(query, arg).Take(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, mapGormErr(err)
	}
	return &u, nil
}

// FindByAccount implements Repository.
func (r *GormRepository) FindByAccount(ctx context.Context, account string) (*User, error) {
	return r.find(ctx, "account = ?", account)
}

// FindByID implements Repository.
func (r *GormRepository) FindByID(ctx context.Context, id int64) (*User, error) {
	return r.find(ctx, "id = ?", id)
}

// CountByAccount implements Repository.
func (r *GormRepository) CountByAccount(ctx context.Context, account string) (int64, error) {
	db, cancel, err := r.conn(ctx)
	if err != nil {
		return 0, err
	}
	defer cancel()
	var n int64
	if err := db.Model(&User{}).Where("account = ?", account).Count(&n).Error; err != nil {
		return 0, mapGormErr(err)
	}
	return n, nil
}

// Save implements Repository.
func (r *GormRepository) Save(ctx context.Context, u *User) error {
	db, cancel, err := r.conn(ctx)
	if err != nil {
		return err
	}
	defer cancel()
	err = db.Create(u).Error
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return warderrors.Wrap(warderrors.CodeDuplicateAccount, "account already exists", err)
	}
	// drivers without error translation: a failed insert for an account
	// that now exists is a duplicate
	if n, cerr := r.CountByAccount(context.WithoutCancel(ctx), u.Account); cerr == nil && n > 0 {
		return warderrors.Wrap(warderrors.CodeDuplicateAccount, "account already exists", err)
	}
	return mapGormErr(err)
}

// UpdateByID implements Repository. Every update bumps the row version.
func (r *GormRepository) UpdateByID(ctx context.Context, id int64, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	db, cancel, err := r.conn(ctx)
	if err != nil {
		return err
	}
	defer cancel()
	updates := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		updates[k] = v
	}
	updates["version"] = gorm.Expr("version + 1")
	res := db.Model(&User{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return mapGormErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return warderrors.ErrUserNotFound
	}
	return nil
}
