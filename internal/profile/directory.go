// Package profile reads user profiles from the Redis cache that the account
// service keeps warm. Profiles live in hashes:
//
//	Key:    profile:<user_id>
//	Fields: nickname, age, photo, gender
//
// The live-call service never writes profiles in production; Put exists for
// seeding development environments and tests.
package profile

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/amora/livecall/internal/matchmaking"
)

// KeyPrefix is the Redis key prefix for profile hashes.
const KeyPrefix = "profile:"

// Profile is the full cached profile, including the gender field the matcher
// needs for queue preferences but which never reaches a partner payload.
type Profile struct {
	ID       string
	Nickname string
	Age      int
	Photo    string
	Gender   matchmaking.Gender
}

// Directory resolves user profiles from Redis. It implements
// matchmaking.ProfileDirectory.
type Directory struct {
	client *redis.Client
}

// NewDirectory creates a Directory backed by the given Redis client.
func NewDirectory(client *redis.Client) *Directory {
	return &Directory{client: client}
}

// Get fetches the full profile for a user. A user with no hash at all, or one
// missing any of the required fields (nickname, age, photo), yields
// matchmaking.ErrIncompleteProfile.
func (d *Directory) Get(ctx context.Context, id string) (*Profile, error) {
	fields, err := d.client.HGetAll(ctx, KeyPrefix+id).Result()
	if err != nil {
		return nil, fmt.Errorf("profile: fetch %s: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("profile: user %s: %w", id, matchmaking.ErrIncompleteProfile)
	}

	nickname := fields["nickname"]
	photo := fields["photo"]
	ageStr := fields["age"]
	if nickname == "" || photo == "" || ageStr == "" {
		return nil, fmt.Errorf("profile: user %s missing required fields: %w", id, matchmaking.ErrIncompleteProfile)
	}

	age, err := strconv.Atoi(ageStr)
	if err != nil || age <= 0 {
		return nil, fmt.Errorf("profile: user %s invalid age %q: %w", id, ageStr, matchmaking.ErrIncompleteProfile)
	}

	return &Profile{
		ID:       id,
		Nickname: nickname,
		Age:      age,
		Photo:    photo,
		Gender:   matchmaking.Gender(fields["gender"]),
	}, nil
}

// Summary resolves the public profile slice for partner payloads. This is the
// matchmaking.ProfileDirectory implementation.
func (d *Directory) Summary(ctx context.Context, id string) (*matchmaking.Summary, error) {
	p, err := d.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &matchmaking.Summary{
		ID:       p.ID,
		Nickname: p.Nickname,
		Age:      p.Age,
		Photo:    p.Photo,
	}, nil
}

// Put writes a full profile hash. Development and test use only.
func (d *Directory) Put(ctx context.Context, p *Profile) error {
	return d.client.HSet(ctx, KeyPrefix+p.ID, map[string]interface{}{
		"nickname": p.Nickname,
		"age":      strconv.Itoa(p.Age),
		"photo":    p.Photo,
		"gender":   string(p.Gender),
	}).Err()
}

// Delete removes a profile hash. Test use only.
func (d *Directory) Delete(ctx context.Context, id string) error {
	return d.client.Del(ctx, KeyPrefix+id).Err()
}
