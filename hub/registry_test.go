package hub

import (
	"context"
	"testing"
)

func TestRegisterCreatesRecordAndJoinsGroup(t *testing.T) {
	store := newFakeStore()
	bcast := &fakeBroadcaster{}
	r := NewRegistry(store, bcast)

	if err := r.Register(context.Background(), "conn-1", "alice"); err != nil {
		t.Fatalf("register: %v", err)
	}

	username, ok, err := r.Lookup(context.Background(), "conn-1")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if !ok || username != "alice" {
		t.Fatalf("lookup returned %q, %v", username, ok)
	}
	if len(bcast.joins) != 1 || bcast.joins[0].group != "alice" {
		t.Fatalf("unexpected joins %+v", bcast.joins)
	}
}

func TestRegisterIsIdempotent(t *testing.T) {
	store := newFakeStore()
	bcast := &fakeBroadcaster{}
	r := NewRegistry(store, bcast)

	if err := r.Register(context.Background(), "conn-1", "alice"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register(context.Background(), "conn-1", "mallory"); err != nil {
		t.Fatalf("re-register: %v", err)
	}

	username, ok, _ := r.Lookup(context.Background(), "conn-1")
	if !ok || username != "alice" {
		t.Fatalf("re-register must keep the original username, got %q", username)
	}
	// The second call still rejoins the connection under the original name.
	if len(bcast.joins) != 2 || bcast.joins[1].group != "alice" {
		t.Fatalf("unexpected joins %+v", bcast.joins)
	}
}

func TestLookupUnknownConnection(t *testing.T) {
	r := NewRegistry(newFakeStore(), &fakeBroadcaster{})

	_, ok, err := r.Lookup(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if ok {
		t.Fatalf("unknown connection must not resolve")
	}
}

func TestRemoveUnknownConnectionIsNoOp(t *testing.T) {
	r := NewRegistry(newFakeStore(), &fakeBroadcaster{})

	if err := r.Remove(context.Background(), "ghost"); err != nil {
		t.Fatalf("remove: %v", err)
	}
}
