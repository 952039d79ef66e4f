package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// PresencePrefix is the Redis key prefix for all presence hashes.
	PresencePrefix = "livecall:presence:"

	// PresenceTTL is the time-to-live for presence keys in Redis. Connected
	// servers refresh it on activity; a crashed server's records simply age
	// out.
	PresenceTTL = 1 * time.Hour

	// Status constants for the presence state machine.
	StatusIdle   = "idle"
	StatusQueued = "queued"
	StatusInCall = "in_call"
)

// Presence is a user's live-call state as stored in Redis.
type Presence struct {
	UserID      string `redis:"user_id"`
	Status      string `redis:"status"`       // idle | queued | in_call
	SessionID   string `redis:"session_id"`   // call session id, empty unless in_call
	Server      string `redis:"server"`       // which livecall server holds the socket
	ConnectedAt int64  `redis:"connected_at"` // unix timestamp
	LastActive  int64  `redis:"last_active"`  // unix timestamp
}

// Store manages presence state in Redis.
type Store struct {
	client     *redis.Client
	serverName string // identifier for this livecall server instance
}

// NewStore creates a presence store connected to Redis.
func NewStore(redisAddr string, serverName string) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	// Verify connection.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("session: redis connection failed: %w", err)
	}

	return &Store{client: client, serverName: serverName}, nil
}

// Connect records a fresh idle presence for userID with the standard TTL.
func (s *Store) Connect(ctx context.Context, userID string) error {
	key := PresencePrefix + userID
	now := time.Now().Unix()

	presence := map[string]interface{}{
		"user_id":      userID,
		"status":       StatusIdle,
		"session_id":   "",
		"server":       s.serverName,
		"connected_at": now,
		"last_active":  now,
	}

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, presence)
	pipe.Expire(ctx, key, PresenceTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Get retrieves a user's presence. Returns nil if the user is not connected
// anywhere.
func (s *Store) Get(ctx context.Context, userID string) (*Presence, error) {
	key := PresencePrefix + userID
	var p Presence
	err := s.client.HGetAll(ctx, key).Scan(&p)
	if err != nil {
		return nil, err
	}
	if p.UserID == "" {
		return nil, nil // not found
	}
	return &p, nil
}

// SetStatus updates the presence status and refreshes the TTL.
func (s *Store) SetStatus(ctx context.Context, userID string, status string) error {
	key := PresencePrefix + userID
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, "status", status, "last_active", time.Now().Unix())
	pipe.Expire(ctx, key, PresenceTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// SetInCall marks the user as in a live call under the given session id.
func (s *Store) SetInCall(ctx context.Context, userID string, sessionID string) error {
	key := PresencePrefix + userID
	return s.client.HSet(ctx, key,
		"status", StatusInCall,
		"session_id", sessionID,
		"last_active", time.Now().Unix(),
	).Err()
}

// ClearCall resets the user to idle after a call ends.
func (s *Store) ClearCall(ctx context.Context, userID string) error {
	key := PresencePrefix + userID
	return s.client.HSet(ctx, key,
		"status", StatusIdle,
		"session_id", "",
		"last_active", time.Now().Unix(),
	).Err()
}

// Touch extends the presence TTL without changing state.
func (s *Store) Touch(ctx context.Context, userID string) error {
	key := PresencePrefix + userID
	return s.client.Expire(ctx, key, PresenceTTL).Err()
}

// Delete removes a user's presence record on disconnect.
func (s *Store) Delete(ctx context.Context, userID string) error {
	key := PresencePrefix + userID
	return s.client.Del(ctx, key).Err()
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Client returns the underlying Redis client for use by other packages.
func (s *Store) Client() *redis.Client {
	return s.client
}
