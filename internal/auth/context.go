// ABOUTME: Request context helpers carrying the authenticated identity
// ABOUTME: Provides WithIdentity/FromContext so handlers never re-derive who is calling

package auth

import (
	"context"

	"github.com/2389/coven-collab/internal/identity"
)

type identityKey struct{}

// WithIdentity returns a new context carrying id.
func WithIdentity(ctx context.Context, id identity.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext returns the identity attached by the auth middleware.
func FromContext(ctx context.Context) (identity.Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(identity.Identity)
	return id, ok
}

// MustFromContext returns the attached identity, panicking if absent. Only
// use behind RequireIdentity.
func MustFromContext(ctx context.Context) identity.Identity {
	id, ok := FromContext(ctx)
	if !ok {
		panic("auth: identity not found in context")
	}
	return id
}
