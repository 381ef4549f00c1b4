package verify

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	warnPrefix = "verify:warn:" // + <session_id>:<anon_id>
	lastPrefix = "verify:last:" // + <session_id>:<anon_id>

	statusTTL = 2 * time.Hour
)

// StatusStore tracks per-participant verification state in Redis: the
// consecutive failure (warning) count and the time of the last check.
// Warning counts reset on the first successful check.
type StatusStore struct {
	rdb *redis.Client
}

// NewStatusStore creates a StatusStore backed by the given Redis client.
func NewStatusStore(rdb *redis.Client) *StatusStore {
	return &StatusStore{rdb: rdb}
}

func warnKey(sessionID, anonID string) string {
	return warnPrefix + sessionID + ":" + anonID
}

func lastKey(sessionID, anonID string) string {
	return lastPrefix + sessionID + ":" + anonID
}

// RecordFailure increments the participant's warning count and returns the
// new count.
func (s *StatusStore) RecordFailure(ctx context.Context, sessionID, anonID string) (int, error) {
	key := warnKey(sessionID, anonID)
	pipe := s.rdb.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, statusTTL)
	pipe.Set(ctx, lastKey(sessionID, anonID), time.Now().Unix(), statusTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("verify: record failure %s/%s: %w", sessionID, anonID, err)
	}
	return int(incr.Val()), nil
}

// RecordSuccess clears the participant's warning count and updates the
// last-check timestamp.
func (s *StatusStore) RecordSuccess(ctx context.Context, sessionID, anonID string) error {
	pipe := s.rdb.Pipeline()
	pipe.Del(ctx, warnKey(sessionID, anonID))
	pipe.Set(ctx, lastKey(sessionID, anonID), time.Now().Unix(), statusTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("verify: record success %s/%s: %w", sessionID, anonID, err)
	}
	return nil
}

// Warnings returns the participant's current warning count.
func (s *StatusStore) Warnings(ctx context.Context, sessionID, anonID string) (int, error) {
	count, err := s.rdb.Get(ctx, warnKey(sessionID, anonID)).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return count, nil
}

// LastChecked returns the unix timestamp of the participant's last check, or
// 0 if never checked.
func (s *StatusStore) LastChecked(ctx context.Context, sessionID, anonID string) (int64, error) {
	ts, err := s.rdb.Get(ctx, lastKey(sessionID, anonID)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return ts, nil
}
