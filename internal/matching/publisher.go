package matching

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/SayantanSahaJgm/FriendFinder-sub003/internal/aifallback"
	"github.com/SayantanSahaJgm/FriendFinder-sub003/internal/session"
)

// QueueResult is the payload published via NATS to queue.result.<anon_id>.
// It is either a position update for a still-waiting entry or a match.
type QueueResult struct {
	Matched       bool   `json:"matched"`
	SessionID     string `json:"session_id,omitempty"`
	Mode          string `json:"mode,omitempty"`
	PartnerID     string `json:"partner_id,omitempty"` // partner's anonymous id
	AIFallback    bool   `json:"ai_fallback,omitempty"`
	Position      int    `json:"position,omitempty"`
	EstimatedWait int    `json:"estimated_wait,omitempty"` // seconds
}

// PublishMatched publishes the match to both participants' result subjects.
func PublishMatched(bus Bus, sess *session.Session, a, b *QueueEntry) error {
	resultA := QueueResult{
		Matched:   true,
		SessionID: sess.ID,
		Mode:      sess.Mode,
		PartnerID: b.AnonID,
	}
	dataA, err := json.Marshal(resultA)
	if err != nil {
		return fmt.Errorf("matching: marshal result for %s: %w", a.AnonID, err)
	}
	if err := bus.PublishQueueResult(a.AnonID, dataA); err != nil {
		return fmt.Errorf("matching: publish result for %s: %w", a.AnonID, err)
	}

	resultB := QueueResult{
		Matched:   true,
		SessionID: sess.ID,
		Mode:      sess.Mode,
		PartnerID: a.AnonID,
	}
	dataB, err := json.Marshal(resultB)
	if err != nil {
		return fmt.Errorf("matching: marshal result for %s: %w", b.AnonID, err)
	}
	if err := bus.PublishQueueResult(b.AnonID, dataB); err != nil {
		return fmt.Errorf("matching: publish result for %s: %w", b.AnonID, err)
	}

	log.Printf("[matcher] match published: session=%s a=%s b=%s", sess.ID, a.AnonID, b.AnonID)
	return nil
}

// PublishMatchedAI publishes an AI-backed match to the human participant.
func PublishMatchedAI(bus Bus, sess *session.Session, a *QueueEntry, partner aifallback.Partner) error {
	result := QueueResult{
		Matched:    true,
		SessionID:  sess.ID,
		Mode:       sess.Mode,
		PartnerID:  partner.AnonID,
		AIFallback: true,
	}
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("matching: marshal ai result for %s: %w", a.AnonID, err)
	}
	if err := bus.PublishQueueResult(a.AnonID, data); err != nil {
		return fmt.Errorf("matching: publish ai result for %s: %w", a.AnonID, err)
	}
	return nil
}

// PublishPosition publishes a queue position update to a waiting entry.
func PublishPosition(bus Bus, entry *QueueEntry, position, estimatedWait int) error {
	result := QueueResult{
		Mode:          entry.Mode,
		Position:      position,
		EstimatedWait: estimatedWait,
	}
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("matching: marshal position for %s: %w", entry.AnonID, err)
	}
	return bus.PublishQueueResult(entry.AnonID, data)
}
