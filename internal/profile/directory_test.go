package profile

import (
	"context"
	"errors"
	"testing"

	"github.com/redis/go-redis/v9"

	"github.com/amora/livecall/internal/matchmaking"
)

// newTestDirectory connects to a local Redis and cleans up test profiles.
// Tests that call this helper require a running Redis on localhost:6379.
func newTestDirectory(t *testing.T) *Directory {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	cleanup := func() {
		iter := client.Scan(ctx, 0, KeyPrefix+"test_*", 100).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
	}
	cleanup()
	t.Cleanup(func() {
		cleanup()
		client.Close()
	})
	return NewDirectory(client)
}

func TestGet_RoundTrip(t *testing.T) {
	dir := newTestDirectory(t)
	ctx := context.Background()

	want := &Profile{
		ID:       "test_alice",
		Nickname: "Alice",
		Age:      28,
		Photo:    "https://cdn.example.com/p/alice.jpg",
		Gender:   matchmaking.GenderFemale,
	}
	if err := dir.Put(ctx, want); err != nil {
		t.Fatalf("Put() error: %v", err)
	}

	got, err := dir.Get(ctx, "test_alice")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.Nickname != want.Nickname || got.Age != want.Age ||
		got.Photo != want.Photo || got.Gender != want.Gender {
		t.Errorf("Get() = %+v, want %+v", got, want)
	}
}

func TestGet_MissingUser(t *testing.T) {
	dir := newTestDirectory(t)

	_, err := dir.Get(context.Background(), "test_nobody")
	if !errors.Is(err, matchmaking.ErrIncompleteProfile) {
		t.Errorf("expected ErrIncompleteProfile, got %v", err)
	}
}

func TestGet_MissingPhoto(t *testing.T) {
	dir := newTestDirectory(t)
	ctx := context.Background()

	// Hash exists but has no photo field.
	err := dir.Put(ctx, &Profile{
		ID:       "test_nophoto",
		Nickname: "Bob",
		Age:      31,
		Gender:   matchmaking.GenderMale,
	})
	if err != nil {
		t.Fatalf("Put() error: %v", err)
	}

	_, err = dir.Get(ctx, "test_nophoto")
	if !errors.Is(err, matchmaking.ErrIncompleteProfile) {
		t.Errorf("expected ErrIncompleteProfile for missing photo, got %v", err)
	}
}

func TestSummary_OmitsGender(t *testing.T) {
	dir := newTestDirectory(t)
	ctx := context.Background()

	if err := dir.Put(ctx, &Profile{
		ID:       "test_carol",
		Nickname: "Carol",
		Age:      24,
		Photo:    "https://cdn.example.com/p/carol.jpg",
		Gender:   matchmaking.GenderFemale,
	}); err != nil {
		t.Fatalf("Put() error: %v", err)
	}

	s, err := dir.Summary(ctx, "test_carol")
	if err != nil {
		t.Fatalf("Summary() error: %v", err)
	}
	if s.ID != "test_carol" || s.Nickname != "Carol" || s.Age != 24 {
		t.Errorf("unexpected summary: %+v", s)
	}
}
