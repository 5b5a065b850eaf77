// Package account implements the user account operations: registration,
// login with single active session, profile and password management.
package account

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"strings"

	"github.com/mitchellh/mapstructure"

	warderrors "github.com/mirkobrombin/go-warden/v1/errors"
	"github.com/mirkobrombin/go-warden/v1/guard"
	"github.com/mirkobrombin/go-warden/v1/identity"
	"github.com/mirkobrombin/go-warden/v1/logging"
	"github.com/mirkobrombin/go-warden/v1/session"
)

var (
	// RegisterSpec serialises registrations of the same account name.
	RegisterSpec = guard.Spec{KeyTemplate: "user:register:${account}", ExpireSeconds: 10}
	// PasswordSpec serialises password changes of the same user.
	PasswordSpec = guard.Spec{KeyTemplate: "user:password:${userInfo.id}", ExpireSeconds: 10}
)

// Service exposes the account operations.
type Service struct {
	repo     Repository
	hasher   Hasher
	sessions *session.Manager
	guard    *guard.Guard
	logger   *slog.Logger

	registerSpec guard.Spec
	passwordSpec guard.Spec
	register     guard.Func[int64]
	passwd       guard.Func[struct{}]
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithRegisterSpec overrides the lock protecting registration.
func WithRegisterSpec(spec guard.Spec) Option {
	return func(s *Service) { s.registerSpec = spec }
}

// WithPasswordSpec overrides the lock protecting password changes.
func WithPasswordSpec(spec guard.Spec) Option {
	return func(s *Service) { s.passwordSpec = spec }
}

// NewService wires the account operations.
func NewService(repo Repository, hasher Hasher, sessions *session.Manager, g *guard.Guard, opts ...Option) *Service {
	s := &Service{
		repo:         repo,
		hasher:       hasher,
		sessions:     sessions,
		guard:        g,
		logger:       logging.NewNop(),
		registerSpec: RegisterSpec,
		passwordSpec: PasswordSpec,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.register = guard.Wrap(g, &s.registerSpec, s.doRegister)
	s.passwd = guard.Wrap(g, &s.passwordSpec, s.doChangePassword)
	return s
}

func checkStatus(u *User) error {
	switch u.Status {
	case StatusDisabled:
		return warderrors.ErrAccountDisabled
	case StatusDeleted:
		return warderrors.ErrAccountDeleted
	}
	return nil
}

// unavailable gives store and repository failures a code at the service
// boundary. Errors that already carry one are returned unchanged.
func unavailable(err error) error {
	if err == nil || warderrors.IsClassified(err) {
		return err
	}
	return warderrors.Wrap(warderrors.CodeStoreUnavailable, "service temporarily unavailable, try again later", err)
}

func duplicate(account string) error {
	return warderrors.Newf(warderrors.CodeDuplicateAccount,
		"account %q already exists, choose another account name", account)
}

// Register creates an account and returns its id.
func (s *Service) Register(ctx context.Context, account, password string) (int64, error) {
	account = strings.TrimSpace(account)
	if account == "" || password == "" {
		return 0, warderrors.New(warderrors.CodeInvalidArgument, "account and password are required")
	}
	n, err := s.repo.CountByAccount(ctx, account)
	if err != nil {
		return 0, unavailable(err)
	}
	if n > 0 {
		return 0, duplicate(account)
	}
	return s.register(ctx, guard.Args{
		guard.Named("account", account),
		guard.Named("password", guard.Secret(password)),
	})
}

func (s *Service) doRegister(ctx context.Context, args guard.Args) (int64, error) {
	account := args.Text("account")
	pw, _ := args.Get("password")

	n, err := s.repo.CountByAccount(ctx, account)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		return 0, duplicate(account)
	}
	hashed, err := s.hasher.Encrypt(string(pw.(guard.Secret)))
	if err != nil {
		return 0, err
	}
	u := &User{Account: account, Password: hashed, Status: StatusNormal}
	if err := s.repo.Save(ctx, u); err != nil {
		return 0, err
	}
	s.logger.InfoContext(ctx, "account registered", "user_id", u.ID, "account", account)
	return u.ID, nil
}

// Login verifies the credentials and issues a session token. Any session
// the user already had is revoked.
func (s *Service) Login(ctx context.Context, account, password string) (string, error) {
	account = strings.TrimSpace(account)
	if account == "" || password == "" {
		return "", warderrors.New(warderrors.CodeInvalidArgument, "account and password are required")
	}
	u, err := s.repo.FindByAccount(ctx, account)
	if err != nil {
		return "", unavailable(err)
	}
	if u == nil {
		return "", warderrors.ErrInvalidCredentials
	}
	hashed, err := s.hasher.Encrypt(password)
	if err != nil {
		return "", unavailable(err)
	}
	if subtle.ConstantTimeCompare([]byte(hashed), []byte(u.Password)) != 1 {
		return "", warderrors.ErrInvalidCredentials
	}
	if err := checkStatus(u); err != nil {
		return "", err
	}
	token, err := s.sessions.Issue(ctx, u.ID, u.Account)
	if err != nil {
		return "", unavailable(err)
	}
	return token, nil
}

// Logout revokes token. An empty token is a no-op.
func (s *Service) Logout(ctx context.Context, token string) error {
	return unavailable(s.sessions.Logout(ctx, token))
}

// Authenticate validates token and returns ctx carrying the caller identity.
func (s *Service) Authenticate(ctx context.Context, token string) (context.Context, session.Record, error) {
	rec, err := s.sessions.Validate(ctx, token)
	if err != nil {
		return ctx, session.Record{}, unavailable(err)
	}
	return identity.WithUser(ctx, rec.UserInfo()), rec, nil
}

func (s *Service) caller(ctx context.Context) (*User, error) {
	who, err := identity.Require(ctx)
	if err != nil {
		return nil, err
	}
	u, err := s.repo.FindByID(ctx, who.ID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, warderrors.Newf(warderrors.CodeUserNotFound, "user %d not found", who.ID)
	}
	return u, nil
}

// CurrentUser returns the caller's profile.
func (s *Service) CurrentUser(ctx context.Context) (Profile, error) {
	u, err := s.caller(ctx)
	if err != nil {
		return Profile{}, unavailable(err)
	}
	if err := checkStatus(u); err != nil {
		return Profile{}, err
	}
	return newProfile(u), nil
}

// UpdateProfile applies fields (userName, avatar) to the caller's profile.
// Unknown fields are rejected.
func (s *Service) UpdateProfile(ctx context.Context, fields map[string]any) error {
	var upd ProfileUpdate
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		ErrorUnused: true,
		Result:      &upd,
	})
	if err != nil {
		return warderrors.Wrap(warderrors.CodeWorkFailed, "operation failed", err)
	}
	if err := dec.Decode(fields); err != nil {
		return warderrors.Wrap(warderrors.CodeInvalidArgument, "invalid profile fields", err)
	}

	u, err := s.caller(ctx)
	if err != nil {
		return unavailable(err)
	}
	if err := checkStatus(u); err != nil {
		return err
	}
	changes := map[string]any{}
	if upd.UserName != nil {
		changes["user_name"] = *upd.UserName
	}
	if upd.Avatar != nil {
		changes["avatar"] = *upd.Avatar
	}
	return unavailable(s.repo.UpdateByID(ctx, u.ID, changes))
}

// ChangePassword replaces the caller's password after checking the old one.
func (s *Service) ChangePassword(ctx context.Context, oldPassword, newPassword string) error {
	if _, err := identity.Require(ctx); err != nil {
		return err
	}
	if newPassword == "" {
		return warderrors.New(warderrors.CodeInvalidArgument, "new password is required")
	}
	_, err := s.passwd(ctx, guard.Args{
		guard.Named("oldPassword", guard.Secret(oldPassword)),
		guard.Named("newPassword", guard.Secret(newPassword)),
	})
	return err
}

func (s *Service) doChangePassword(ctx context.Context, args guard.Args) (struct{}, error) {
	oldPw, _ := args.Get("oldPassword")
	newPw, _ := args.Get("newPassword")

	u, err := s.caller(ctx)
	if err != nil {
		return struct{}{}, err
	}
	if err := checkStatus(u); err != nil {
		return struct{}{}, err
	}
	hashed, err := s.hasher.Encrypt(string(oldPw.(guard.Secret)))
	if err != nil {
		return struct{}{}, err
	}
	if subtle.ConstantTimeCompare([]byte(hashed), []byte(u.Password)) != 1 {
		return struct{}{}, warderrors.ErrPasswordMismatch
	}
	next, err := s.hasher.Encrypt(string(newPw.(guard.Secret)))
	if err != nil {
		return struct{}{}, err
	}
	if err := s.repo.UpdateByID(ctx, u.ID, map[string]any{"password": next}); err != nil {
		return struct{}{}, err
	}
	s.logger.InfoContext(ctx, "password changed", "user_id", u.ID)
	return struct{}{}, nil
}

// RunUnderLock runs fn under spec with the service's guard, for callers
// protecting their own operations with the same lock infrastructure.
func RunUnderLock[T any](ctx context.Context, s *Service, spec *guard.Spec, args guard.Args, fn guard.Func[T]) (T, error) {
	return guard.Run(ctx, s.guard, spec, args, fn)
}
