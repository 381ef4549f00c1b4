// Package protocol defines the WebSocket message types and structures used for
// communication between the client and server. All messages are serialized as
// JSON and follow a consistent envelope format with a type discriminator.
package protocol

import (
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeRegister     = "register"
	TypeHeartbeat    = "heartbeat"
	TypeQueueSearch  = "queue.search"
	TypeQueueLeave   = "queue.leave"
	TypeMessageSend  = "session.message.send"
	TypeMessageRead  = "session.message.read"
	TypeSignal       = "session.signal"
	TypeVerify       = "session.verify"
	TypeTyping       = "session.typing"
	TypeSessionLeave = "session.leave"
	TypeReport       = "session.report"
	TypePing         = "ping"
)

// Server -> Client message types.
const (
	TypeRegistered       = "registered"
	TypeQueuePosition    = "queue.position"
	TypeQueueMatched     = "queue.matched"
	TypeQueueLeft        = "queue.left"
	TypeMessageReceived  = "session.message.received"
	TypeMessageDelivered = "session.message.delivered"
	TypeMessageReadAck   = "session.message.read" // echoed to the original sender
	TypeSignalRelay      = "session.signal"       // relayed to the partner
	TypePartnerVerified  = "session.partner-verified"
	TypeVerifyRequest    = "session.verify-request"
	TypePartnerTyping    = "session.typing"
	TypeSessionEnded     = "session.ended"
	TypePresence         = "presence"
	TypeRateLimited      = "rate_limited"
	TypeError            = "error"
	TypePong             = "pong"
)

// Chat modes. A mode selects the medium and therefore the signaling and
// verification requirements of the session.
const (
	ModeText  = "text"
	ModeAudio = "audio"
	ModeVideo = "video"
)

// Modes lists all supported chat modes.
var Modes = []string{ModeText, ModeAudio, ModeVideo}

// ValidMode reports whether mode is one of the supported chat modes.
func ValidMode(mode string) bool {
	return mode == ModeText || mode == ModeAudio || mode == ModeVideo
}

// Signal kinds carried by session.signal frames.
const (
	SignalOffer        = "offer"
	SignalAnswer       = "answer"
	SignalICECandidate = "ice-candidate"
)

// ValidSignalKind reports whether kind is a known WebRTC signal kind.
func ValidSignalKind(kind string) bool {
	return kind == SignalOffer || kind == SignalAnswer || kind == SignalICECandidate
}

// ---------------------------------------------------------------------------
// Envelope — used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It captures the
// full raw bytes and extracts only the "type" field so that the rest of the
// payload can be decoded later into the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	// Capture the full raw message for deferred parsing.
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	// Extract only the type field.
	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// RegisterMsg associates the connection with a durable user identity. UserID
// may be empty for guests, who are identified by a server-generated anonymous
// id plus their chosen display name.
type RegisterMsg struct {
	Type        string `json:"type"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
}

// HeartbeatMsg refreshes the sender's presence freshness window.
type HeartbeatMsg struct {
	Type string `json:"type"`
}

// Preferences are optional matching filters. An absent constraint on either
// side of a candidate pair is always compatible.
type Preferences struct {
	Language  string   `json:"language,omitempty"`
	Interests []string `json:"interests,omitempty"`
}

// QueueSearchMsg enters the matching queue for the given mode.
type QueueSearchMsg struct {
	Type        string      `json:"type"`
	Mode        string      `json:"mode"`
	Preferences Preferences `json:"preferences"`
}

// QueueLeaveMsg leaves the matching queue for the given mode.
type QueueLeaveMsg struct {
	Type string `json:"type"`
	Mode string `json:"mode"`
}

// MessageSendMsg is a chat message sent within a session. ContentType is
// "text" for user messages; "system" and "ai" are reserved for the server.
type MessageSendMsg struct {
	Type        string `json:"type"`
	SessionID   string `json:"session_id"`
	Content     string `json:"content"`
	ContentType string `json:"content_type"`
}

// MessageReadMsg marks a received message as read.
type MessageReadMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	MessageID string `json:"message_id"`
}

// SignalMsg carries an opaque WebRTC payload (offer, answer or ICE candidate)
// to be relayed verbatim to the session partner.
type SignalMsg struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
}

// VerifyMsg submits a face-verification image sample (base64) for the
// current challenge round.
type VerifyMsg struct {
	Type        string `json:"type"`
	SessionID   string `json:"session_id"`
	ImageSample string `json:"image_sample"`
}

// TypingMsg indicates whether the client is currently typing.
type TypingMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	IsTyping  bool   `json:"is_typing"`
}

// SessionLeaveMsg ends the session explicitly.
type SessionLeaveMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// ReportMsg reports the session partner and ends the session.
type ReportMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Reason    string `json:"reason"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// RegisteredMsg confirms identity registration and carries the anonymous id
// the server will use for this client during matching and sessions.
type RegisteredMsg struct {
	Type   string `json:"type"`
	AnonID string `json:"anon_id"`
}

// QueuePositionMsg reports the entry's position and estimated wait (seconds).
type QueuePositionMsg struct {
	Type          string `json:"type"`
	Mode          string `json:"mode"`
	Position      int    `json:"position"`
	EstimatedWait int    `json:"estimated_wait"`
}

// QueueMatchedMsg is sent to both participants when a session is created.
type QueueMatchedMsg struct {
	Type       string `json:"type"`
	SessionID  string `json:"session_id"`
	Mode       string `json:"mode"`
	PartnerID  string `json:"partner_id"` // partner's anonymous id
	AIFallback bool   `json:"ai_fallback"`
}

// QueueLeftMsg confirms the queue entry was removed.
type QueueLeftMsg struct {
	Type string `json:"type"`
	Mode string `json:"mode"`
}

// MessagePayload is the wire form of a chat message.
type MessagePayload struct {
	MessageID   string `json:"message_id"`
	SessionID   string `json:"session_id"`
	SenderID    string `json:"sender_id"` // sender's anonymous id
	Content     string `json:"content"`
	ContentType string `json:"content_type"`
	Ts          int64  `json:"ts"`
}

// MessageReceivedMsg delivers a chat message to the partner.
type MessageReceivedMsg struct {
	Type    string         `json:"type"`
	Message MessagePayload `json:"message"`
}

// MessageDeliveredMsg notifies the sender that the message reached the
// partner's connection.
type MessageDeliveredMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	MessageID string `json:"message_id"`
}

// MessageReadAckMsg notifies the original sender that the message was read.
type MessageReadAckMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	MessageID string `json:"message_id"`
}

// SignalRelayMsg carries a relayed WebRTC payload from the partner.
type SignalRelayMsg struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
}

// PartnerVerifiedMsg broadcasts a verification result to the session together
// with its signed attestation.
type PartnerVerifiedMsg struct {
	Type        string  `json:"type"`
	SessionID   string  `json:"session_id"`
	AnonID      string  `json:"anon_id"`
	Verified    bool    `json:"verified"`
	Confidence  float64 `json:"confidence"`
	Attestation string  `json:"attestation"`
}

// VerifyRequestMsg asks the client to submit a face-verification sample.
type VerifyRequestMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Deadline  int    `json:"deadline"` // seconds until the challenge expires
}

// PartnerTypingMsg relays the partner's typing indicator.
type PartnerTypingMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	IsTyping  bool   `json:"is_typing"`
}

// SessionEndedMsg is sent to both participants on any teardown trigger.
type SessionEndedMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Reason    string `json:"reason"`
}

// PresenceMsg notifies a subscriber about a presence transition.
type PresenceMsg struct {
	Type     string `json:"type"`
	Identity string `json:"identity"`
	Status   string `json:"status"` // online | away | offline
}

// RateLimitedMsg is sent when the client has been rate-limited.
type RateLimitedMsg struct {
	Type       string `json:"type"`
	RetryAfter int    `json:"retry_after"`
}

// ErrorMsg communicates an error condition.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// It returns the message type string, the decoded struct, and any error
// encountered during parsing. An error is returned for unknown or
// server-only message types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeRegister:
		var m RegisterMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeHeartbeat:
		var m HeartbeatMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeQueueSearch:
		var m QueueSearchMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeQueueLeave:
		var m QueueLeaveMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeMessageSend:
		var m MessageSendMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeMessageRead:
		var m MessageReadMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeSignal:
		var m SignalMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeVerify:
		var m VerifyMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeTyping:
		var m TypingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeSessionLeave:
		var m SessionLeaveMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeReport:
		var m ReportMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage creates a JSON-encoded byte slice for a server message.
// The msgType is injected into the payload under the "type" key. The payload
// should be one of the Server*Msg structs; this function marshals it to JSON,
// injects the type field, and returns the final bytes.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	// Marshal the payload struct to a generic map so we can ensure the "type"
	// field is present and correct.
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
