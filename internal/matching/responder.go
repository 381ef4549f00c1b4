package matching

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/SayantanSahaJgm/FriendFinder-sub003/internal/aifallback"
	"github.com/SayantanSahaJgm/FriendFinder-sub003/internal/chat"
	"github.com/SayantanSahaJgm/FriendFinder-sub003/internal/session"
)

// replyDelay makes the synthetic partner feel less instantaneous.
const replyDelay = 1500 * time.Millisecond

// startResponder subscribes the matcher to an AI-backed session's event
// subject and answers the human participant's messages on behalf of the
// synthetic partner. The subscription is dropped when the session ends.
func (s *Service) startResponder(sess *session.Session, partner aifallback.Partner) {
	subscriberID := "responder:" + sess.ID

	err := s.bus.SubscribeSessionEvents(sess.ID, subscriberID, func(data []byte) {
		var event session.Event
		if err := json.Unmarshal(data, &event); err != nil {
			log.Printf("[matcher] responder unmarshal for session=%s: %v", sess.ID, err)
			return
		}

		switch event.Type {
		case session.EventEnded:
			if err := s.bus.UnsubscribeSessionEvents(subscriberID); err != nil {
				log.Printf("[matcher] responder unsubscribe session=%s: %v", sess.ID, err)
			}

		case session.EventMessage:
			if event.From == partner.AnonID || event.ContentType == chat.ContentSystem {
				return
			}
			go s.respond(sess.ID, partner, event.Content)
		}
	})
	if err != nil {
		log.Printf("[matcher] responder subscribe session=%s: %v", sess.ID, err)
	}
}

// respond generates and publishes the synthetic partner's reply.
func (s *Service) respond(sessionID string, partner aifallback.Partner, content string) {
	time.Sleep(replyDelay)

	ctx, cancel := context.WithTimeout(s.ctx, 10*time.Second)
	defer cancel()

	// The session may have ended while we waited.
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil || sess == nil || sess.Status != session.StatusActive {
		return
	}

	reply, err := s.ai.Reply(ctx, sessionID, content)
	if err != nil {
		log.Printf("[matcher] ai reply for session=%s: %v", sessionID, err)
		return
	}

	msg := &chat.Message{
		ID:          uuid.New().String(),
		SessionID:   sessionID,
		SenderID:    partner.AnonID,
		Content:     reply,
		ContentType: chat.ContentAI,
		State:       chat.StateSent,
		Ts:          time.Now().UnixMilli(),
	}
	if err := s.chats.Append(ctx, msg); err != nil {
		log.Printf("[matcher] store ai message for session=%s: %v", sessionID, err)
		return
	}

	event := session.Event{
		Type:        session.EventMessage,
		From:        partner.AnonID,
		MessageID:   msg.ID,
		Content:     msg.Content,
		ContentType: msg.ContentType,
		Ts:          msg.Ts,
	}
	data, _ := json.Marshal(event)
	if err := s.bus.PublishSessionEvent(sessionID, data); err != nil {
		log.Printf("[matcher] publish ai message for session=%s: %v", sessionID, err)
	}
}
