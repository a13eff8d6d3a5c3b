package rbac

import "context"

type actorKey struct{}

// WithActor attaches the authenticated actor to ctx. Only the HTTP edge should
// call this; everything below it takes the Actor as an argument.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

func ActorFrom(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorKey{}).(Actor)
	return actor, ok && actor.ID != "" && actor.Role.Valid()
}
