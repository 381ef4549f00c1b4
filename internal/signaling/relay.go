// Package signaling relays WebRTC negotiation payloads (offers, answers, ICE
// candidates) between the two participants of an active session. Payloads are
// forwarded verbatim; the relay only validates the envelope.
package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/SayantanSahaJgm/FriendFinder-sub003/internal/messaging"
	"github.com/SayantanSahaJgm/FriendFinder-sub003/internal/metrics"
	"github.com/SayantanSahaJgm/FriendFinder-sub003/internal/protocol"
	"github.com/SayantanSahaJgm/FriendFinder-sub003/internal/session"
)

// Validation errors returned by Relay.Forward. Gateways map these to error
// frames on the originating connection.
var (
	ErrSessionNotFound = errors.New("signaling: session not found")
	ErrSessionEnded    = errors.New("signaling: session ended")
	ErrNotParticipant  = errors.New("signaling: sender is not a session participant")
	ErrInvalidKind     = errors.New("signaling: invalid signal kind")
	ErrEmptyPayload    = errors.New("signaling: empty payload")
)

// Relay validates and forwards signaling payloads through session events.
type Relay struct {
	sessions *session.Store
	nats     *messaging.NATSClient
}

// NewRelay creates a Relay on top of the session store and NATS client.
func NewRelay(sessions *session.Store, nats *messaging.NATSClient) *Relay {
	return &Relay{sessions: sessions, nats: nats}
}

// Forward validates a signal from the given participant and publishes it to
// the session's event subject. The payload is opaque to the relay and reaches
// the partner byte for byte. A stale signal against an ended or missing
// session is rejected so late ICE candidates from a torn-down call die here.
func (r *Relay) Forward(ctx context.Context, fromAnonID string, msg *protocol.SignalMsg) error {
	if !protocol.ValidSignalKind(msg.Kind) {
		return ErrInvalidKind
	}
	if len(msg.Payload) == 0 {
		return ErrEmptyPayload
	}

	sess, err := r.sessions.Get(ctx, msg.SessionID)
	if err != nil {
		return fmt.Errorf("signaling: load session %s: %w", msg.SessionID, err)
	}
	if sess == nil {
		return ErrSessionNotFound
	}
	if sess.Status != session.StatusActive {
		return ErrSessionEnded
	}
	if !sess.IsParticipant(fromAnonID) {
		return ErrNotParticipant
	}

	event := session.Event{
		Type:    session.EventSignal,
		From:    fromAnonID,
		Kind:    msg.Kind,
		Payload: msg.Payload,
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("signaling: marshal event: %w", err)
	}
	if err := r.nats.PublishSessionEvent(sess.ID, data); err != nil {
		return fmt.Errorf("signaling: publish: %w", err)
	}

	metrics.SignalsTotal.WithLabelValues(msg.Kind).Inc()

	// The first answer means both peers have exchanged descriptions; record
	// media as established for observability.
	if msg.Kind == protocol.SignalAnswer && !sess.MediaConnected {
		if err := r.sessions.SetMediaConnected(ctx, sess.ID); err != nil {
			log.Printf("[signaling] set media_connected %s: %v", sess.ID, err)
		}
	}

	return nil
}
