package authz

import "context"

// Identity names the actor a request or background operation runs as. Every
// outbound call to either platform resolves its credentials from the identity
// on the context; there is no ambient "current user".
type Identity struct {
	TenantID       int64
	CRMUserID      int64
	ActingAsSystem bool
}

type identityKey struct{}

// WithIdentity returns a context carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom extracts the identity from ctx. The second return is false
// when no identity was attached.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// System returns the system-actor identity for a tenant. Operations running
// as system resolve the tenant's designated system user at credential time.
func System(tenantID int64) Identity {
	return Identity{TenantID: tenantID, ActingAsSystem: true}
}
