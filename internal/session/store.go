package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotParticipant is returned by EndAs when the caller does not belong to
// the session it is trying to end.
var ErrNotParticipant = errors.New("session: not a participant")

const (
	// SessionPrefix is the Redis key prefix for session hashes.
	SessionPrefix = "session:"

	// ActiveKey is the Redis set of currently active session ids, consumed
	// by the verification challenge scheduler.
	ActiveKey = "sessions:active"

	// SessionTTL bounds how long a session hash may live in Redis. Ended
	// sessions keep their hash for a grace period so that racing readers
	// still observe the terminal state.
	SessionTTL = 2 * time.Hour
	// EndedGrace is the TTL applied once a session ends.
	EndedGrace = 5 * time.Minute

	// Status constants for the session state machine.
	StatusActive = "active"
	StatusEnded  = "ended"
)

// Teardown reasons recorded on the active -> ended transition.
const (
	ReasonLeft               = "partner-left"
	ReasonDisconnected       = "partner-disconnected"
	ReasonReported           = "reported"
	ReasonVerificationFailed = "verification-failed"
)

// AIAnonPrefix marks the anonymous id of a synthetic AI participant, which
// behaves as a participant with no live connection.
const AIAnonPrefix = "ai:"

// Participant is one side of a session: the durable user id (empty for
// guests and AI partners) and the session-scoped anonymous id.
type Participant struct {
	UserID   string
	AnonID   string
	JoinedAt int64
}

// Session represents a paired chat session between two participants.
type Session struct {
	ID             string
	Mode           string
	A              Participant
	B              Participant
	Status         string // active | ended
	CreatedAt      int64
	EndedAt        int64
	EndReason      string
	AIFallback     bool
	MediaConnected bool
}

// Partner returns the anonymous id of the other participant, or "" if anonID
// is not a participant.
func (s *Session) Partner(anonID string) string {
	if anonID == s.A.AnonID {
		return s.B.AnonID
	}
	if anonID == s.B.AnonID {
		return s.A.AnonID
	}
	return ""
}

// IsParticipant checks whether anonID belongs to this session.
func (s *Session) IsParticipant(anonID string) bool {
	return anonID == s.A.AnonID || anonID == s.B.AnonID
}

// ParticipantByAnon returns the participant record for anonID, or nil.
func (s *Session) ParticipantByAnon(anonID string) *Participant {
	if anonID == s.A.AnonID {
		return &s.A
	}
	if anonID == s.B.AnonID {
		return &s.B
	}
	return nil
}

// IsAI reports whether anonID identifies the synthetic AI participant.
func IsAI(anonID string) bool {
	return strings.HasPrefix(anonID, AIAnonPrefix)
}

// Store manages session state in Redis.
type Store struct {
	rdb       *redis.Client
	endScript *redis.Script
}

// NewStore creates a new session store backed by Redis.
func NewStore(rdb *redis.Client) *Store {
	return &Store{
		rdb:       rdb,
		endScript: redis.NewScript(endSessionLua),
	}
}

// Create stores a new active session for the two participants. It is called
// from the matcher loop, which serializes queue removal and session creation,
// so no participant can be placed in two sessions.
func (s *Store) Create(ctx context.Context, mode string, a, b Participant, aiFallback bool) (*Session, error) {
	id := uuid.New().String()
	now := time.Now().Unix()

	sess := &Session{
		ID:         id,
		Mode:       mode,
		A:          a,
		B:          b,
		Status:     StatusActive,
		CreatedAt:  now,
		AIFallback: aiFallback,
	}

	key := SessionPrefix + id
	pipe := s.rdb.Pipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"mode":            mode,
		"status":          StatusActive,
		"user_a":          a.UserID,
		"anon_a":          a.AnonID,
		"joined_a":        a.JoinedAt,
		"user_b":          b.UserID,
		"anon_b":          b.AnonID,
		"joined_b":        b.JoinedAt,
		"created_at":      now,
		"ended_at":        0,
		"end_reason":      "",
		"ai_fallback":     strconv.FormatBool(aiFallback),
		"media_connected": "false",
	})
	pipe.Expire(ctx, key, SessionTTL)
	pipe.SAdd(ctx, ActiveKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("session: create %s: %w", id, err)
	}
	return sess, nil
}

// Get retrieves a session. Returns nil if not found.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	key := SessionPrefix + sessionID
	result, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return nil, nil
	}

	createdAt, _ := strconv.ParseInt(result["created_at"], 10, 64)
	endedAt, _ := strconv.ParseInt(result["ended_at"], 10, 64)
	joinedA, _ := strconv.ParseInt(result["joined_a"], 10, 64)
	joinedB, _ := strconv.ParseInt(result["joined_b"], 10, 64)

	return &Session{
		ID:   sessionID,
		Mode: result["mode"],
		A: Participant{
			UserID:   result["user_a"],
			AnonID:   result["anon_a"],
			JoinedAt: joinedA,
		},
		B: Participant{
			UserID:   result["user_b"],
			AnonID:   result["anon_b"],
			JoinedAt: joinedB,
		},
		Status:         result["status"],
		CreatedAt:      createdAt,
		EndedAt:        endedAt,
		EndReason:      result["end_reason"],
		AIFallback:     result["ai_fallback"] == "true",
		MediaConnected: result["media_connected"] == "true",
	}, nil
}

// End performs the active -> ended transition. It is idempotent under
// concurrent end triggers: exactly one caller observes performed=true and is
// responsible for notifying both participants. Ending a session that no
// longer exists or already ended is a no-op, not an error.
func (s *Store) End(ctx context.Context, sessionID, reason string) (performed bool, err error) {
	key := SessionPrefix + sessionID
	result, err := s.endScript.Run(ctx, s.rdb, []string{key, ActiveKey},
		sessionID, reason, time.Now().Unix(), int(EndedGrace.Seconds())).Int()
	if err != nil {
		return false, fmt.Errorf("session: end %s: %w", sessionID, err)
	}
	return result == 1, nil
}

// EndAs ends a session on behalf of one of its participants. Ending a session
// that no longer exists or already ended is an idempotent no-op, but a caller
// who is not a participant is rejected with ErrNotParticipant.
func (s *Store) EndAs(ctx context.Context, sessionID, anonID, reason string) (performed bool, err error) {
	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if sess == nil {
		return false, nil
	}
	if !sess.IsParticipant(anonID) {
		return false, ErrNotParticipant
	}
	if sess.Status != StatusActive {
		return false, nil
	}
	return s.End(ctx, sessionID, reason)
}

// SetMediaConnected marks the session's WebRTC media as established. Set on
// the first relayed answer; observability only.
func (s *Store) SetMediaConnected(ctx context.Context, sessionID string) error {
	key := SessionPrefix + sessionID
	return s.rdb.HSet(ctx, key, "media_connected", "true").Err()
}

// ActiveSessions returns the ids of all currently active sessions.
func (s *Store) ActiveSessions(ctx context.Context) ([]string, error) {
	return s.rdb.SMembers(ctx, ActiveKey).Result()
}

// ActiveCount returns the number of currently active sessions. The active set
// is maintained by the end script, so the count is authoritative across all
// services.
func (s *Store) ActiveCount(ctx context.Context) (int64, error) {
	return s.rdb.SCard(ctx, ActiveKey).Result()
}

// endSessionLua transitions a session to ended exactly once. Returns:
//
//	 1 = this call performed the transition
//	 0 = session already ended
//	-1 = session not found
const endSessionLua = `
local key = KEYS[1]
local active_key = KEYS[2]
local session_id = ARGV[1]
local reason = ARGV[2]
local now = ARGV[3]
local grace = tonumber(ARGV[4])

local status = redis.call('HGET', key, 'status')
if not status then return -1 end
if status == 'ended' then return 0 end

redis.call('HSET', key, 'status', 'ended', 'ended_at', now, 'end_reason', reason)
redis.call('SREM', active_key, session_id)
redis.call('EXPIRE', key, grace)
return 1
`
