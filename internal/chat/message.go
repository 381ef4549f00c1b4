// Package chat implements the in-session messaging channel: message records
// with monotonic delivery states, content validation, and the short ring
// buffer of recent messages attached to abuse reports.
package chat

// Content types.
const (
	ContentText   = "text"
	ContentSystem = "system"
	ContentAI     = "ai"
)

// ValidContentType reports whether t is a known message content type.
func ValidContentType(t string) bool {
	return t == ContentText || t == ContentSystem || t == ContentAI
}

// Delivery states. A message only moves forward through
// sending -> sent -> delivered -> read; failed is a terminal state reachable
// from any non-terminal state.
const (
	StateSending   = "sending"
	StateSent      = "sent"
	StateDelivered = "delivered"
	StateRead      = "read"
	StateFailed    = "failed"
)

// stateRank orders the forward delivery states. failed is handled separately
// because it is terminal but reachable out of order.
var stateRank = map[string]int{
	StateSending:   0,
	StateSent:      1,
	StateDelivered: 2,
	StateRead:      3,
}

// CanAdvance reports whether a delivery state transition from cur to next is
// allowed. Backward or repeated transitions are not errors to the caller —
// they are stale/duplicate events — but they must not take effect.
func CanAdvance(cur, next string) bool {
	if cur == StateFailed {
		return false // terminal
	}
	if next == StateFailed {
		return cur == StateSending || cur == StateSent || cur == StateDelivered
	}
	curRank, ok1 := stateRank[cur]
	nextRank, ok2 := stateRank[next]
	if !ok1 || !ok2 {
		return false
	}
	return nextRank > curRank
}

// Message is a chat message within a session.
type Message struct {
	ID          string
	SessionID   string
	SenderID    string // sender's anonymous id
	Content     string
	ContentType string
	State       string
	Ts          int64
}
