// Package matching implements the matchmaking queue: per-mode FIFO waiting
// lists in Redis, the compatibility/relaxation policy, the pairing loop, and
// the AI-fallback path for entries no human partner ever arrives for.
package matching

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// Redis key patterns for matching data structures.
	keyQueuePrefix = "queue:"       // + <mode> -> Sorted set, score = join timestamp (ms)
	keyEntryPrefix = "queue:entry:" // + <queue_id> -> Hash
	keyOwnerPrefix = "queue:owner:" // + <mode>:<user_id> -> queue_id

	// TTL for matching data structures (auto-expire stale keys).
	queueKeyTTL = 10 * time.Minute
)

// QueueEntry represents a waiting participant in one mode's queue.
type QueueEntry struct {
	QueueID   string
	UserID    string
	AnonID    string
	Mode      string
	Language  string
	Interests []string
	JoinedAt  int64 // unix timestamp in milliseconds
}

// WaitedFor returns how long the entry has been waiting at the given instant.
func (e *QueueEntry) WaitedFor(now time.Time) time.Duration {
	return time.Duration(now.UnixMilli()-e.JoinedAt) * time.Millisecond
}

// Queue manages the Redis data structures for the matching queues.
type Queue struct {
	rdb *redis.Client
}

// NewQueue creates a new matching queue backed by Redis.
func NewQueue(rdb *redis.Client) *Queue {
	return &Queue{rdb: rdb}
}

func queueKey(mode string) string { return keyQueuePrefix + mode }

func entryKey(id string) string { return keyEntryPrefix + id }

func ownerKey(mode, uid string) string { return keyOwnerPrefix + mode + ":" + uid }

// Enqueue adds an entry to its mode's queue. A user has at most one entry per
// mode: enqueueing while already queued for that mode replaces the prior
// entry (idempotent re-enqueue) rather than creating a duplicate.
func (q *Queue) Enqueue(ctx context.Context, entry *QueueEntry) error {
	// Replace any prior entry for this (user, mode).
	prior, err := q.rdb.Get(ctx, ownerKey(entry.Mode, entry.UserID)).Result()
	if err == nil && prior != "" && prior != entry.QueueID {
		if err := q.Remove(ctx, prior); err != nil {
			return fmt.Errorf("matching: replace prior entry %s: %w", prior, err)
		}
	} else if err != nil && err != redis.Nil {
		return fmt.Errorf("matching: lookup prior entry: %w", err)
	}

	pipe := q.rdb.Pipeline()

	pipe.ZAdd(ctx, queueKey(entry.Mode), redis.Z{
		Score:  float64(entry.JoinedAt),
		Member: entry.QueueID,
	})

	eKey := entryKey(entry.QueueID)
	pipe.HSet(ctx, eKey, map[string]interface{}{
		"queue_id":  entry.QueueID,
		"user_id":   entry.UserID,
		"anon_id":   entry.AnonID,
		"mode":      entry.Mode,
		"language":  entry.Language,
		"interests": strings.Join(entry.Interests, ","),
		"joined_at": entry.JoinedAt,
	})
	pipe.Expire(ctx, eKey, queueKeyTTL)

	oKey := ownerKey(entry.Mode, entry.UserID)
	pipe.Set(ctx, oKey, entry.QueueID, queueKeyTTL)

	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("matching: enqueue %s: %w", entry.QueueID, err)
	}
	return nil
}

// Remove deletes an entry from its queue and all associated keys. Removing an
// entry that no longer exists is a no-op.
func (q *Queue) Remove(ctx context.Context, queueID string) error {
	entry, err := q.GetEntry(ctx, queueID)
	if err != nil {
		return err
	}
	if entry == nil {
		return nil // already removed
	}

	pipe := q.rdb.Pipeline()
	pipe.ZRem(ctx, queueKey(entry.Mode), queueID)
	pipe.Del(ctx, entryKey(queueID))
	pipe.Del(ctx, ownerKey(entry.Mode, entry.UserID))
	_, err = pipe.Exec(ctx)
	return err
}

// GetEntry retrieves an entry. Returns nil if not found.
func (q *Queue) GetEntry(ctx context.Context, queueID string) (*QueueEntry, error) {
	result, err := q.rdb.HGetAll(ctx, entryKey(queueID)).Result()
	if err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return nil, nil
	}
	return entryFromHash(result), nil
}

// EntryFor returns the user's current entry in a mode's queue, or nil.
func (q *Queue) EntryFor(ctx context.Context, mode, userID string) (*QueueEntry, error) {
	queueID, err := q.rdb.Get(ctx, ownerKey(mode, userID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return q.GetEntry(ctx, queueID)
}

// AllQueued returns all entry ids for a mode, ordered by join time (oldest
// first).
func (q *Queue) AllQueued(ctx context.Context, mode string) ([]string, error) {
	return q.rdb.ZRange(ctx, queueKey(mode), 0, -1).Result()
}

// IsQueued checks whether an entry is still in its mode's queue.
func (q *Queue) IsQueued(ctx context.Context, mode, queueID string) (bool, error) {
	_, err := q.rdb.ZScore(ctx, queueKey(mode), queueID).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Position returns the 1-based FIFO position of an entry in its mode's queue.
// Returns 0 if the entry is no longer queued.
func (q *Queue) Position(ctx context.Context, mode, queueID string) (int, error) {
	rank, err := q.rdb.ZRank(ctx, queueKey(mode), queueID).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return int(rank) + 1, nil
}

// Size returns the number of entries waiting in a mode's queue.
func (q *Queue) Size(ctx context.Context, mode string) (int64, error) {
	return q.rdb.ZCard(ctx, queueKey(mode)).Result()
}

// entryFromHash rebuilds a QueueEntry from its Redis hash fields.
func entryFromHash(h map[string]string) *QueueEntry {
	var interests []string
	if h["interests"] != "" {
		interests = strings.Split(h["interests"], ",")
	}

	var joinedAt int64
	fmt.Sscanf(h["joined_at"], "%d", &joinedAt)

	return &QueueEntry{
		QueueID:   h["queue_id"],
		UserID:    h["user_id"],
		AnonID:    h["anon_id"],
		Mode:      h["mode"],
		Language:  h["language"],
		Interests: interests,
		JoinedAt:  joinedAt,
	}
}
