// Package userstate tracks per-identity hot state in Redis: whether the user
// is idle, waiting in a matching queue, or in an active session. The gateway
// writes it on registration and state changes; the matcher's cleanup loop
// uses key existence to detect identities that disconnected while queued.
package userstate

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// UserPrefix is the Redis key prefix for user state hashes.
	UserPrefix = "user:"

	// UserTTL is the time-to-live for user state keys. Refreshed on every
	// state change and heartbeat, so it only expires for dead identities.
	UserTTL = 1 * time.Hour

	// Status constants.
	StatusIdle     = "idle"
	StatusQueued   = "queued"
	StatusChatting = "chatting"
)

// State is a user's hot state stored in Redis.
type State struct {
	Identity    string `redis:"identity"`
	AnonID      string `redis:"anon_id"`
	DisplayName string `redis:"display_name"`
	Status      string `redis:"status"`     // idle | queued | chatting
	Mode        string `redis:"mode"`       // queued mode, empty otherwise
	SessionID   string `redis:"session_id"` // empty if not in a session
	Server      string `redis:"server"`     // which gateway instance
	CreatedAt   int64  `redis:"created_at"`
	LastActive  int64  `redis:"last_active"`
}

// Store manages user state in Redis.
type Store struct {
	client     *redis.Client
	serverName string // identifier for this gateway instance
}

// NewStore creates a new user state store using the provided Redis client.
func NewStore(client *redis.Client, serverName string) *Store {
	return &Store{client: client, serverName: serverName}
}

// Create stores a fresh idle state for an identity with a 1h TTL.
func (s *Store) Create(ctx context.Context, identity, anonID, displayName string) error {
	key := UserPrefix + identity
	now := time.Now().Unix()

	state := map[string]interface{}{
		"identity":     identity,
		"anon_id":      anonID,
		"display_name": displayName,
		"status":       StatusIdle,
		"mode":         "",
		"session_id":   "",
		"server":       s.serverName,
		"created_at":   now,
		"last_active":  now,
	}

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, state)
	pipe.Expire(ctx, key, UserTTL)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("userstate: create %s: %w", identity, err)
	}
	return nil
}

// Attach binds a newly registered connection to the identity's state,
// creating it when absent. When state already exists (another device of the
// same user is connected) only the connection-scoped fields are refreshed;
// status, mode and session survive, so a second device cannot wipe an
// in-session or queued user.
func (s *Store) Attach(ctx context.Context, identity, anonID, displayName string) error {
	exists, err := s.Exists(ctx, identity)
	if err != nil {
		return fmt.Errorf("userstate: attach %s: %w", identity, err)
	}
	if !exists {
		return s.Create(ctx, identity, anonID, displayName)
	}

	key := UserPrefix + identity
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key,
		"anon_id", anonID,
		"display_name", displayName,
		"server", s.serverName,
		"last_active", time.Now().Unix())
	pipe.Expire(ctx, key, UserTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("userstate: attach %s: %w", identity, err)
	}
	return nil
}

// Get retrieves a user's state. Returns nil if not found.
func (s *Store) Get(ctx context.Context, identity string) (*State, error) {
	key := UserPrefix + identity
	var state State
	err := s.client.HGetAll(ctx, key).Scan(&state)
	if err != nil {
		return nil, err
	}
	if state.Identity == "" {
		return nil, nil // not found
	}
	return &state, nil
}

// SetQueued marks the identity as waiting in the queue for mode.
func (s *Store) SetQueued(ctx context.Context, identity, mode string) error {
	key := UserPrefix + identity
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, "status", StatusQueued, "mode", mode, "last_active", time.Now().Unix())
	pipe.Expire(ctx, key, UserTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// SetSession marks the identity as chatting in the given session.
func (s *Store) SetSession(ctx context.Context, identity, sessionID string) error {
	key := UserPrefix + identity
	return s.client.HSet(ctx, key,
		"status", StatusChatting, "mode", "", "session_id", sessionID,
		"last_active", time.Now().Unix()).Err()
}

// ClearSession resets the identity to idle so it can re-enter search.
func (s *Store) ClearSession(ctx context.Context, identity string) error {
	key := UserPrefix + identity
	return s.client.HSet(ctx, key,
		"status", StatusIdle, "mode", "", "session_id", "",
		"last_active", time.Now().Unix()).Err()
}

// SetIdle resets the identity to idle without touching the session field.
func (s *Store) SetIdle(ctx context.Context, identity string) error {
	key := UserPrefix + identity
	return s.client.HSet(ctx, key,
		"status", StatusIdle, "mode", "", "last_active", time.Now().Unix()).Err()
}

// Touch refreshes last_active and the TTL (called on heartbeats).
func (s *Store) Touch(ctx context.Context, identity string) error {
	key := UserPrefix + identity
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, "last_active", time.Now().Unix())
	pipe.Expire(ctx, key, UserTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Exists reports whether state is present for the identity.
func (s *Store) Exists(ctx context.Context, identity string) (bool, error) {
	n, err := s.client.Exists(ctx, UserPrefix+identity).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Delete removes a user's state (last connection closed).
func (s *Store) Delete(ctx context.Context, identity string) error {
	return s.client.Del(ctx, UserPrefix+identity).Err()
}
