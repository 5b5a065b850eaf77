// Package identity carries the authenticated caller through a context.
package identity

import (
	"context"

	warderrors "github.com/mirkobrombin/go-warden/v1/errors"
)

// UserInfo identifies the caller of an operation. Its JSON form is what key
// templates see under the userInfo name.
type UserInfo struct {
	ID      int64  `json:"id"`
	Account string `json:"account"`
}

type ctxKey struct{}

// WithUser returns a copy of ctx carrying u.
func WithUser(ctx context.Context, u UserInfo) context.Context {
	return context.WithValue(ctx, ctxKey{}, u)
}

// FromContext returns the caller stored in ctx, if any.
func FromContext(ctx context.Context) (UserInfo, bool) {
	u, ok := ctx.Value(ctxKey{}).(UserInfo)
	return u, ok
}

// Require is FromContext for operations that need a caller.
func Require(ctx context.Context) (UserInfo, error) {
	u, ok := FromContext(ctx)
	if !ok {
		return UserInfo{}, warderrors.ErrUnauthenticated
	}
	return u, nil
}
