package session

import (
	"context"
	"testing"
)

// newTestStore connects to a local Redis and cleans up test presence keys.
// Tests that call this helper require a running Redis on localhost:6379.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore("localhost:6379", "livecall-test")
	if err != nil {
		t.Skipf("redis not available: %v", err)
	}
	ctx := context.Background()
	cleanup := func() {
		iter := store.client.Scan(ctx, 0, PresencePrefix+"test_*", 100).Iterator()
		for iter.Next(ctx) {
			store.client.Del(ctx, iter.Val())
		}
	}
	cleanup()
	t.Cleanup(func() {
		cleanup()
		store.Close()
	})
	return store
}

func TestConnectAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Connect(ctx, "test_u1"); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}

	p, err := store.Get(ctx, "test_u1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if p == nil {
		t.Fatal("expected presence, got nil")
	}
	if p.Status != StatusIdle {
		t.Errorf("expected status %q, got %q", StatusIdle, p.Status)
	}
	if p.Server != "livecall-test" {
		t.Errorf("expected server livecall-test, got %q", p.Server)
	}
	if p.ConnectedAt == 0 {
		t.Error("expected connected_at to be set")
	}
}

func TestGet_NotConnected(t *testing.T) {
	store := newTestStore(t)

	p, err := store.Get(context.Background(), "test_absent")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if p != nil {
		t.Errorf("expected nil presence, got %+v", p)
	}
}

func TestCallStateTransitions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Connect(ctx, "test_u2"); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}

	if err := store.SetStatus(ctx, "test_u2", StatusQueued); err != nil {
		t.Fatalf("SetStatus() error: %v", err)
	}
	p, _ := store.Get(ctx, "test_u2")
	if p.Status != StatusQueued {
		t.Errorf("expected %q, got %q", StatusQueued, p.Status)
	}

	if err := store.SetInCall(ctx, "test_u2", "sess-42"); err != nil {
		t.Fatalf("SetInCall() error: %v", err)
	}
	p, _ = store.Get(ctx, "test_u2")
	if p.Status != StatusInCall || p.SessionID != "sess-42" {
		t.Errorf("expected in_call/sess-42, got %q/%q", p.Status, p.SessionID)
	}

	if err := store.ClearCall(ctx, "test_u2"); err != nil {
		t.Fatalf("ClearCall() error: %v", err)
	}
	p, _ = store.Get(ctx, "test_u2")
	if p.Status != StatusIdle || p.SessionID != "" {
		t.Errorf("expected idle with no session, got %q/%q", p.Status, p.SessionID)
	}
}

func TestDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	store.Connect(ctx, "test_u3")
	if err := store.Delete(ctx, "test_u3"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	p, err := store.Get(ctx, "test_u3")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if p != nil {
		t.Error("expected presence removed after Delete()")
	}
}
