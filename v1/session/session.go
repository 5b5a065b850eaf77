// Package session enforces a single active session per user on top of an
// adapter.Store.
//
// Two keys are kept per login: the session record under the token, and a
// pointer from the user to the token currently considered live. Issuing a
// new session swaps the pointer atomically and deletes the record the old
// pointer named, so at most one token per user validates at any time.
package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	uuid "github.com/hashicorp/go-uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mirkobrombin/go-warden/v1/adapter"
	warderrors "github.com/mirkobrombin/go-warden/v1/errors"
	"github.com/mirkobrombin/go-warden/v1/identity"
	"github.com/mirkobrombin/go-warden/v1/logging"
	"github.com/mirkobrombin/go-warden/v1/metrics"
)

const (
	DefaultSessionTTL = 30 * time.Minute
	DefaultPointerTTL = 24 * time.Hour

	tokenBytes    = 32
	defaultPrefix = "session:"
)

var tracer = otel.Tracer("github.com/mirkobrombin/go-warden/v1/session")

// Record is the session data stored under a token.
type Record struct {
	UserID   int64     `json:"userId"`
	Account  string    `json:"account"`
	IssuedAt time.Time `json:"issuedAt"`
}

// UserInfo returns the caller identity carried by the record.
func (r Record) UserInfo() identity.UserInfo {
	return identity.UserInfo{ID: r.UserID, Account: r.Account}
}

// Manager issues, validates and revokes sessions.
type Manager struct {
	store      adapter.Store
	sessionTTL time.Duration
	pointerTTL time.Duration
	sliding    bool
	prefix     string
	logger     *slog.Logger
	now        func() time.Time
	newToken   func() (string, error)
}

// Option configures a Manager.
type Option func(*Manager)

// WithSessionTTL sets the lifetime of a session record.
func WithSessionTTL(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.sessionTTL = d
		}
	}
}

// WithPointerTTL sets the lifetime of the per-user active session pointer.
func WithPointerTTL(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.pointerTTL = d
		}
	}
}

// WithSlidingExpiry makes every successful Validate re-arm the session TTL.
func WithSlidingExpiry(on bool) Option {
	return func(m *Manager) { m.sliding = on }
}

// WithKeyPrefix namespaces session keys in the store.
func WithKeyPrefix(prefix string) Option {
	return func(m *Manager) { m.prefix = prefix }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewManager returns a Manager over store.
func NewManager(store adapter.Store, opts ...Option) *Manager {
	m := &Manager{
		store:      store,
		sessionTTL: DefaultSessionTTL,
		pointerTTL: DefaultPointerTTL,
		prefix:     defaultPrefix,
		logger:     logging.NewNop(),
		now:        time.Now,
		newToken:   randomToken,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.pointerTTL < m.sessionTTL {
		m.pointerTTL = m.sessionTTL
	}
	return m
}

func randomToken() (string, error) {
	b, err := uuid.GenerateRandomBytes(tokenBytes)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func (m *Manager) tokenKey(token string) string { return m.prefix + "token:" + token }

func (m *Manager) userKey(userID int64) string {
	return m.prefix + "user:" + strconv.FormatInt(userID, 10)
}

// Issue creates a session for the user and revokes the one it replaces.
func (m *Manager) Issue(ctx context.Context, userID int64, account string) (string, error) {
	ctx, span := tracer.Start(ctx, "session.Issue", trace.WithAttributes(attribute.Int64("warden.user.id", userID)))
	defer span.End()

	token, err := m.newToken()
	if err != nil {
		span.SetStatus(codes.Error, "token generation failed")
		return "", fmt.Errorf("session: generate token: %w", err)
	}
	data, err := json.Marshal(Record{UserID: userID, Account: account, IssuedAt: m.now().UTC()})
	if err != nil {
		return "", fmt.Errorf("session: encode record: %w", err)
	}

	// record first: the pointer must never name a token without a record
	if err := m.store.Set(ctx, m.tokenKey(token), string(data), m.sessionTTL); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "write record failed")
		return "", fmt.Errorf("session: write record: %w", err)
	}
	old, existed, err := m.store.Swap(ctx, m.userKey(userID), token, m.pointerTTL)
	if err != nil {
		_ = m.store.Delete(context.WithoutCancel(ctx), m.tokenKey(token))
		span.RecordError(err)
		span.SetStatus(codes.Error, "swap pointer failed")
		return "", fmt.Errorf("session: swap pointer: %w", err)
	}
	if existed && old != "" && old != token {
		if err := m.store.Delete(ctx, m.tokenKey(old)); err != nil {
			m.logger.ErrorContext(ctx, "revoke previous session failed", "user_id", userID, "error", err)
			m.restore(ctx, userID, token, old)
			span.RecordError(err)
			span.SetStatus(codes.Error, "revoke failed")
			return "", fmt.Errorf("session: revoke previous session: %w", err)
		}
		metrics.SessionsKicked.Inc()
		m.logger.InfoContext(ctx, "previous session revoked", "user_id", userID)
	}
	metrics.SessionsIssued.Inc()
	m.logger.DebugContext(ctx, "session issued", "user_id", userID)
	return token, nil
}

// restore hands the pointer back to old after a failed revoke, so the next
// login kicks it again. The unused token is dropped.
func (m *Manager) restore(ctx context.Context, userID int64, token, old string) {
	ctx = context.WithoutCancel(ctx)
	_ = m.store.Delete(ctx, m.tokenKey(token))
	deleted, err := m.store.CompareAndDelete(ctx, m.userKey(userID), token)
	if err == nil && deleted {
		err = m.store.Set(ctx, m.userKey(userID), old, m.pointerTTL)
	}
	if err != nil {
		m.logger.ErrorContext(ctx, "restore session pointer failed", "user_id", userID, "error", err)
	}
}

// Validate returns the record for token. Unknown and expired tokens are
// both reported as unauthenticated.
func (m *Manager) Validate(ctx context.Context, token string) (Record, error) {
	if token == "" {
		return Record{}, warderrors.ErrUnauthenticated
	}
	data, ok, err := m.store.Get(ctx, m.tokenKey(token))
	if err != nil {
		return Record{}, fmt.Errorf("session: read record: %w", err)
	}
	if !ok {
		return Record{}, warderrors.ErrUnauthenticated
	}
	var rec Record
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		m.logger.WarnContext(ctx, "corrupt session record", "error", err)
		return Record{}, warderrors.ErrUnauthenticated
	}
	if m.sliding {
		if _, err := m.store.Expire(ctx, m.tokenKey(token), m.sessionTTL); err != nil {
			m.logger.WarnContext(ctx, "extend session failed", "user_id", rec.UserID, "error", err)
		}
		if _, err := m.store.Expire(ctx, m.userKey(rec.UserID), m.pointerTTL); err != nil {
			m.logger.WarnContext(ctx, "extend session pointer failed", "user_id", rec.UserID, "error", err)
		}
	}
	return rec, nil
}

// Logout revokes token. An empty or already revoked token is not an error.
// The user's pointer is removed only while it still names token, so logging
// out a replaced session never touches the newer one.
func (m *Manager) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	ctx, span := tracer.Start(ctx, "session.Logout")
	defer span.End()

	userID, known := int64(0), false
	if data, ok, err := m.store.Get(ctx, m.tokenKey(token)); err == nil && ok {
		var rec Record
		if json.Unmarshal([]byte(data), &rec) == nil {
			userID, known = rec.UserID, true
		}
	}
	if !known {
		if u, ok := identity.FromContext(ctx); ok {
			userID, known = u.ID, true
		}
	}

	if err := m.store.Delete(ctx, m.tokenKey(token)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "delete record failed")
		return fmt.Errorf("session: delete record: %w", err)
	}
	if known {
		if _, err := m.store.CompareAndDelete(ctx, m.userKey(userID), token); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "delete pointer failed")
			return fmt.Errorf("session: delete pointer: %w", err)
		}
	}
	metrics.Logouts.Inc()
	return nil
}

// ActiveToken returns the live token for userID. A pointer whose record has
// already expired counts as no session.
func (m *Manager) ActiveToken(ctx context.Context, userID int64) (string, bool, error) {
	token, ok, err := m.store.Get(ctx, m.userKey(userID))
	if err != nil || !ok {
		return "", false, err
	}
	if _, ok, err := m.store.Get(ctx, m.tokenKey(token)); err != nil || !ok {
		return "", false, err
	}
	return token, true, nil
}
