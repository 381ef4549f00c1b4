package chat

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	msgPrefix  = "msg:"  // + <session_id>:<message_id> -> Hash
	listPrefix = "msgs:" // + <session_id> -> List of message ids, send order

	// messageTTL bounds message key lifetime; in-session history is
	// ephemeral (persistent chat history is an external collaborator).
	messageTTL = 2 * time.Hour
)

// Store manages message records and delivery state in Redis.
type Store struct {
	rdb         *redis.Client
	stateScript *redis.Script
}

// NewStore creates a message store backed by Redis.
func NewStore(rdb *redis.Client) *Store {
	return &Store{
		rdb:         rdb,
		stateScript: redis.NewScript(advanceStateLua),
	}
}

func msgKey(sessionID, messageID string) string {
	return msgPrefix + sessionID + ":" + messageID
}

// Append stores a new message and appends it to the session's ordered list.
func (s *Store) Append(ctx context.Context, msg *Message) error {
	key := msgKey(msg.SessionID, msg.ID)
	listKey := listPrefix + msg.SessionID

	pipe := s.rdb.Pipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"id":           msg.ID,
		"session_id":   msg.SessionID,
		"sender_id":    msg.SenderID,
		"content":      msg.Content,
		"content_type": msg.ContentType,
		"state":        msg.State,
		"ts":           msg.Ts,
	})
	pipe.Expire(ctx, key, messageTTL)
	pipe.RPush(ctx, listKey, msg.ID)
	pipe.Expire(ctx, listKey, messageTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("chat: append %s: %w", msg.ID, err)
	}
	return nil
}

// Get retrieves a message. Returns nil if not found.
func (s *Store) Get(ctx context.Context, sessionID, messageID string) (*Message, error) {
	result, err := s.rdb.HGetAll(ctx, msgKey(sessionID, messageID)).Result()
	if err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return nil, nil
	}

	ts, _ := strconv.ParseInt(result["ts"], 10, 64)
	return &Message{
		ID:          result["id"],
		SessionID:   result["session_id"],
		SenderID:    result["sender_id"],
		Content:     result["content"],
		ContentType: result["content_type"],
		State:       result["state"],
		Ts:          ts,
	}, nil
}

// List returns the session's messages in send order.
func (s *Store) List(ctx context.Context, sessionID string) ([]*Message, error) {
	ids, err := s.rdb.LRange(ctx, listPrefix+sessionID, 0, -1).Result()
	if err != nil {
		return nil, err
	}

	msgs := make([]*Message, 0, len(ids))
	for _, id := range ids {
		msg, err := s.Get(ctx, sessionID, id)
		if err != nil || msg == nil {
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// AdvanceState moves a message's delivery state forward. Stale or backward
// transitions are silently ignored (advanced=false, nil error) so that
// out-of-order status events over an unreliable transport are harmless.
// A missing message returns an error.
func (s *Store) AdvanceState(ctx context.Context, sessionID, messageID, next string) (advanced bool, err error) {
	key := msgKey(sessionID, messageID)
	result, err := s.stateScript.Run(ctx, s.rdb, []string{key}, next).Int()
	if err != nil {
		return false, fmt.Errorf("chat: advance state %s: %w", messageID, err)
	}
	if result == -1 {
		return false, fmt.Errorf("chat: message %s not found", messageID)
	}
	return result == 1, nil
}

// MarkRead advances a message to read on behalf of the reader. Only the
// recipient may mark a message read: a sender marking its own message is a
// no-op, not an error. Returns the message so callers can route the read
// receipt, and whether the state actually advanced (duplicate or out-of-order
// reads are ignored). A missing message returns (nil, false, nil).
func (s *Store) MarkRead(ctx context.Context, sessionID, messageID, readerID string) (*Message, bool, error) {
	msg, err := s.Get(ctx, sessionID, messageID)
	if err != nil {
		return nil, false, err
	}
	if msg == nil {
		return nil, false, nil
	}
	if msg.SenderID == readerID {
		return msg, false, nil
	}
	advanced, err := s.AdvanceState(ctx, sessionID, messageID, StateRead)
	if err != nil {
		return msg, false, err
	}
	return msg, advanced, nil
}

// advanceStateLua applies a delivery-state transition atomically, enforcing
// forward-only order with failed as a terminal state reachable from any
// non-terminal state. Returns:
//
//	 1 = transition applied
//	 0 = stale/duplicate transition, ignored
//	-1 = message not found
const advanceStateLua = `
local key = KEYS[1]
local next = ARGV[1]

local cur = redis.call('HGET', key, 'state')
if not cur then return -1 end
if cur == 'failed' then return 0 end

local rank = {sending = 0, sent = 1, delivered = 2, read = 3}

if next == 'failed' then
    if rank[cur] ~= nil and cur ~= 'read' then
        redis.call('HSET', key, 'state', 'failed')
        return 1
    end
    return 0
end

if rank[next] == nil or rank[cur] == nil then return 0 end
if rank[next] > rank[cur] then
    redis.call('HSET', key, 'state', next)
    return 1
end
return 0
`
