// Package guard runs operations under a lock whose key is derived from the
// operation's arguments and the caller identity.
//
// A protected operation is declared once with a Spec and wrapped:
//
//	register := guard.Wrap(g, &guard.Spec{KeyTemplate: "user:register:${account}", ExpireSeconds: 10},
//		func(ctx context.Context, args guard.Args) (int64, error) { ... })
//	id, err := register(ctx, guard.Args{guard.Named("account", "alice")})
//
// Operations wrapped with a nil Spec run unchanged.
package guard

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	warderrors "github.com/mirkobrombin/go-warden/v1/errors"
	"github.com/mirkobrombin/go-warden/v1/identity"
	"github.com/mirkobrombin/go-warden/v1/keytmpl"
	"github.com/mirkobrombin/go-warden/v1/lock"
	"github.com/mirkobrombin/go-warden/v1/logging"
)

// UserInfoName is the template name the caller identity is published under.
const UserInfoName = "userInfo"

const defaultAcquireTimeout = time.Second

// Spec marks an operation as lock protected.
type Spec struct {
	KeyTemplate   string
	ExpireSeconds int
}

// TTL returns the lease duration declared by the spec.
func (s *Spec) TTL() time.Duration {
	return time.Duration(s.ExpireSeconds) * time.Second
}

// Arg is a named argument of a protected operation.
type Arg struct {
	Name  string
	Value any
}

// Named builds an Arg.
func Named(name string, value any) Arg {
	return Arg{Name: name, Value: value}
}

// Args is the ordered argument list of one invocation.
type Args []Arg

// Get returns the value of the first argument called name.
func (a Args) Get(name string) (any, bool) {
	for _, arg := range a {
		if arg.Name == name {
			return arg.Value, true
		}
	}
	return nil, false
}

// Text returns the named argument when it holds a string.
func (a Args) Text(name string) string {
	v, _ := a.Get(name)
	s, _ := v.(string)
	return s
}

// Secret marks an argument value that must never reach a lock key or a log
// line. Convert it back with string(s) inside the operation.
type Secret string

func (Secret) String() string { return "******" }

// Func is an operation that can be guarded.
type Func[T any] func(ctx context.Context, args Args) (T, error)

// Guard resolves lock keys and delegates to a lock.Client.
type Guard struct {
	client   *lock.Client
	resolver *keytmpl.Resolver
	timeout  time.Duration
	logger   *slog.Logger
	skip     func(any) bool
}

// Option configures a Guard.
type Option func(*Guard)

// WithAcquireTimeout sets how long an invocation waits for its lock.
func WithAcquireTimeout(d time.Duration) Option {
	return func(g *Guard) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithLogger sets the logger used for key resolution failures.
func WithLogger(l *slog.Logger) Option {
	return func(g *Guard) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithSkip excludes additional argument values from key resolution.
func WithSkip(fn func(any) bool) Option {
	return func(g *Guard) { g.skip = fn }
}

// New returns a Guard.
func New(client *lock.Client, resolver *keytmpl.Resolver, opts ...Option) *Guard {
	g := &Guard{
		client:   client,
		resolver: resolver,
		timeout:  defaultAcquireTimeout,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Wrap returns fn protected by spec. A nil spec returns fn itself.
func Wrap[T any](g *Guard, spec *Spec, fn Func[T]) Func[T] {
	if spec == nil {
		return fn
	}
	s := *spec
	return func(ctx context.Context, args Args) (T, error) {
		return Run(ctx, g, &s, args, fn)
	}
}

// Run executes fn under the lock described by spec.
func Run[T any](ctx context.Context, g *Guard, spec *Spec, args Args, fn Func[T]) (T, error) {
	var zero T
	if spec == nil {
		return fn(ctx, args)
	}
	if spec.ExpireSeconds <= 0 {
		return zero, warderrors.New(warderrors.CodeInvalidLockConfig, "lock expiry must be greater than 0")
	}
	if strings.TrimSpace(spec.KeyTemplate) == "" {
		return zero, warderrors.New(warderrors.CodeInvalidLockConfig, "lock key template must not be empty")
	}

	key, err := g.resolver.Resolve(spec.KeyTemplate, g.context(ctx, args))
	if err != nil {
		g.logger.ErrorContext(ctx, "lock key resolution failed",
			"template", spec.KeyTemplate, "args", describe(args), "error", err)
		return zero, warderrors.Wrap(warderrors.CodeKeyResolution, "lock key resolution failed", err)
	}

	return lock.Do(ctx, g.client, key, spec.TTL(), g.timeout, func(ctx context.Context) (T, error) {
		return fn(ctx, args)
	})
}

func (g *Guard) context(ctx context.Context, args Args) map[string]any {
	m := make(map[string]any, len(args)+1)
	for _, arg := range args {
		if excluded(arg.Value) || (g.skip != nil && g.skip(arg.Value)) {
			continue
		}
		m[arg.Name] = arg.Value
	}
	if u, ok := identity.FromContext(ctx); ok {
		m[UserInfoName] = u
	}
	return m
}

func excluded(v any) bool {
	switch v.(type) {
	case *http.Request, http.ResponseWriter,
		multipart.File, *multipart.FileHeader, []*multipart.FileHeader, *multipart.Form,
		Secret:
		return true
	}
	return false
}

func describe(args Args) string {
	m := make(map[string]json.RawMessage, len(args))
	for _, arg := range args {
		switch arg.Value.(type) {
		case []byte, io.Reader:
			continue
		}
		if excluded(arg.Value) {
			continue
		}
		raw, err := json.Marshal(arg.Value)
		if err != nil {
			continue
		}
		m[arg.Name] = raw
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "<unencodable>"
	}
	return string(b)
}
