package auth

import (
	"context"
	"testing"
)

func TestActorContext(t *testing.T) {
	if got := ActorOrAnonymous(context.Background()); got != AnonymousActor {
		t.Fatalf("expected anonymous actor, got %q", got)
	}
	ctx := ContextWithActor(context.Background(), "  alice ")
	if actor, ok := ActorFromContext(ctx); !ok || actor != "alice" {
		t.Fatalf("unexpected actor %q (%v)", actor, ok)
	}
	if _, ok := ActorFromContext(ContextWithActor(context.Background(), " ")); ok {
		t.Fatalf("expected blank actor to be absent")
	}
}
