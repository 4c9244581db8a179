package gate

import "context"

type identityKey struct{}

// WithIdentity attaches id to ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the identity attached by WithIdentity.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok && id.PrincipalID != ""
}

// PrincipalID returns the authenticated principal id or "".
func PrincipalID(ctx context.Context) string {
	id, _ := IdentityFromContext(ctx)
	return id.PrincipalID
}
