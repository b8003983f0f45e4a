package services

import (
	"context"

	"github.com/google/uuid"
)

type identityCtxKey struct{}

// Identity is the authenticated caller attached to a request context
// by the auth middleware.
type Identity struct {
	UserID      uuid.UUID
	Fingerprint string
}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityCtxKey{}, id)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityCtxKey{}).(Identity)
	return id, ok
}
