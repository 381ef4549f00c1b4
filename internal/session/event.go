package session

import "encoding/json"

// Event types published to session.event.<session_id> subjects.
const (
	EventMessage       = "message"
	EventDelivered     = "delivered"
	EventRead          = "read"
	EventSignal        = "signal"
	EventTyping        = "typing"
	EventVerified      = "verified"
	EventVerifyRequest = "verify-request"
	EventPresence      = "presence"
	EventEnded         = "ended"
)

// Event is the payload published to session.event.<session_id> subjects for
// real-time fan-out between paired participants. From carries the anonymous
// id of the originating participant; gateways drop events originated by the
// local subscriber unless the event is addressed back to them (receipts).
type Event struct {
	Type string `json:"type"`
	From string `json:"from,omitempty"` // originating participant's anonymous id
	To   string `json:"to,omitempty"`   // target participant's anonymous id (receipts)

	// message
	MessageID   string `json:"message_id,omitempty"`
	Content     string `json:"content,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Ts          int64  `json:"ts,omitempty"`

	// signal
	Kind    string          `json:"kind,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`

	// typing
	IsTyping bool `json:"is_typing,omitempty"`

	// verified
	Verified    bool    `json:"verified,omitempty"`
	Confidence  float64 `json:"confidence,omitempty"`
	Attestation string  `json:"attestation,omitempty"`

	// verify-request
	Deadline int `json:"deadline,omitempty"`

	// presence
	Status string `json:"status,omitempty"`

	// ended
	Reason string `json:"reason,omitempty"`
}
