package git

import (
	"context"
	"time"
)

// DefaultIdentity is used when no identity is configured.
var DefaultIdentity = Identity{Name: "Unheard User", Email: "user@unheard.local"}

// ResolveIdentity returns the identity configured for repo, or
// DefaultIdentity. It never fails so a commit can always be produced.
func ResolveIdentity(ctx context.Context, repo Repository) Identity {
	if id, ok := repo.ConfiguredIdentity(ctx); ok {
		return id
	}
	return DefaultIdentity
}

// signatureNow returns the resolved identity stamped with the current UTC time.
func signatureNow(ctx context.Context, repo Repository) Signature {
	return Signature{Identity: ResolveIdentity(ctx, repo), When: time.Now().UTC().Truncate(time.Second)}
}
