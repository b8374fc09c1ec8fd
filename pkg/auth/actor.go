package auth

import "context"

// Actor identifies who is performing an orchestration call. It is
// resolved once at the HTTP boundary and threaded through explicitly so
// ownership guards stay testable without a request context.
type Actor struct {
	UserID int64
	Admin  bool
	// System marks the internal service identity used by callback
	// endpoints.
	System bool
}

// CanAccess reports whether the actor may operate on an entity owned by
// ownerID.
func (a Actor) CanAccess(ownerID int64) bool {
	return a.Admin || a.UserID == ownerID
}

type contextKey struct{}

func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, contextKey{}, actor)
}

func ActorFrom(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(contextKey{}).(Actor)
	return actor, ok
}
