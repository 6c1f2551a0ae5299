package discord

import (
	"context"
	"testing"

	"github.com/Breadcord/Breadcord/core/gateway"
	"github.com/Breadcord/Breadcord/core/permissions"
)

func TestConfigureRequiresToken(t *testing.T) {
	g := New()
	if err := g.Configure(map[string]interface{}{"guild_id": "123"}); err == nil {
		t.Fatal("expected error for missing token")
	}
	if err := g.Configure(map[string]interface{}{"token": "abc"}); err != nil {
		t.Fatalf("Configure: %v", err)
	}
}

func TestEmitTagsRequiredPermission(t *testing.T) {
	g := New()
	g.started = true

	g.emit(gateway.Event{Category: gateway.CategoryReactionAdd, ChannelID: "c1"})
	ev := <-g.Events()
	if ev.RequiredPermission != permissions.AddReactions {
		t.Errorf("expected add_reactions, got %s", ev.RequiredPermission)
	}
}

func TestEmitAfterStopIsDiscarded(t *testing.T) {
	g := New()
	g.started = true

	g.emit(gateway.Event{Category: gateway.CategoryMessageCreate, Content: "before"})
	if ev := <-g.Events(); ev.Content != "before" {
		t.Fatalf("unexpected event %+v", ev)
	}

	if err := g.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if _, ok := <-g.Events(); ok {
		t.Fatal("expected closed event stream after Stop")
	}

	// A handler still in flight during shutdown must not panic the process.
	g.emit(gateway.Event{Category: gateway.CategoryMessageCreate, Content: "after"})

	// Stop is idempotent.
	if err := g.Stop(context.Background()); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}
