package interfaces

import "context"

type actorKey struct{}

// ContextWithActor attaches the identity of the caller to ctx. The journal records it on
// events that carry no explicit actor.
func ContextWithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFromContext returns the actor attached with ContextWithActor.
func ActorFromContext(ctx context.Context) (string, bool) {
	actor, ok := ctx.Value(actorKey{}).(string)
	return actor, ok && actor != ""
}
