package matching

import (
	"context"
	"log"
	"time"

	"github.com/SayantanSahaJgm/FriendFinder-sub003/internal/protocol"
	"github.com/SayantanSahaJgm/FriendFinder-sub003/internal/userstate"
)

const cleanupInterval = 5 * time.Second

// StartCleanup runs a background loop that removes queue entries whose
// identities no longer have user state in Redis (disconnected or expired
// while queued). The gateways publish queue.leave on disconnect, but this
// loop catches entries orphaned by a gateway crash.
func StartCleanup(ctx context.Context, queue *Queue, users *userstate.Store) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[matcher] cleanup loop stopped")
			return
		case <-ticker.C:
			cleanStaleEntries(ctx, queue, users)
		}
	}
}

// cleanStaleEntries drops queue entries for identities with no user state.
func cleanStaleEntries(ctx context.Context, queue *Queue, users *userstate.Store) {
	removed := 0
	for _, mode := range protocol.Modes {
		ids, err := queue.AllQueued(ctx, mode)
		if err != nil {
			log.Printf("[matcher] cleanup: failed to read %s queue: %v", mode, err)
			continue
		}

		for _, id := range ids {
			entry, err := queue.GetEntry(ctx, id)
			if err != nil {
				continue
			}
			if entry == nil {
				// Entry hash expired but the sorted set still references it.
				if err := queue.rdb.ZRem(ctx, queueKey(mode), id).Err(); err == nil {
					removed++
				}
				continue
			}

			exists, err := users.Exists(ctx, entry.UserID)
			if err != nil {
				continue
			}
			if !exists {
				if err := queue.Remove(ctx, id); err != nil {
					log.Printf("[matcher] cleanup: failed to remove %s: %v", id, err)
				} else {
					removed++
				}
			}
		}
	}

	if removed > 0 {
		log.Printf("[matcher] cleanup: removed %d stale entries", removed)
	}
}
