package auth

import (
	"context"

	"github.com/taskcal-dev/taskcal/internal/store"
)

type ctxKey int

const userCtxKey ctxKey = 0

// WithUser returns a context carrying the authenticated principal.
func WithUser(ctx context.Context, user *store.User) context.Context {
	return context.WithValue(ctx, userCtxKey, user)
}

// UserFromContext extracts the authenticated principal, if any.
func UserFromContext(ctx context.Context) (*store.User, bool) {
	user, ok := ctx.Value(userCtxKey).(*store.User)
	return user, ok && user != nil
}
