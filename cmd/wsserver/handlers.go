package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/SayantanSahaJgm/FriendFinder-sub003/internal/chat"
	"github.com/SayantanSahaJgm/FriendFinder-sub003/internal/matching"
	"github.com/SayantanSahaJgm/FriendFinder-sub003/internal/messaging"
	"github.com/SayantanSahaJgm/FriendFinder-sub003/internal/metrics"
	"github.com/SayantanSahaJgm/FriendFinder-sub003/internal/presence"
	"github.com/SayantanSahaJgm/FriendFinder-sub003/internal/protocol"
	"github.com/SayantanSahaJgm/FriendFinder-sub003/internal/ratelimit"
	"github.com/SayantanSahaJgm/FriendFinder-sub003/internal/report"
	"github.com/SayantanSahaJgm/FriendFinder-sub003/internal/session"
	"github.com/SayantanSahaJgm/FriendFinder-sub003/internal/signaling"
	"github.com/SayantanSahaJgm/FriendFinder-sub003/internal/userstate"
	"github.com/SayantanSahaJgm/FriendFinder-sub003/internal/verify"
	"github.com/SayantanSahaJgm/FriendFinder-sub003/internal/ws"
)

const handlerTimeout = 5 * time.Second

// gateway holds the application state for one gateway instance and implements
// the protocol message handlers.
type gateway struct {
	server   *ws.Server
	nats     *messaging.NATSClient
	users    *userstate.Store
	sessions *session.Store
	chats    *chat.Store
	relay    *signaling.Relay
	limiter  *ratelimit.Limiter
	presence *presence.Tracker
	buffer   *chat.SnapshotBuffer
	reports  *report.Store // nil when DATABASE_URL is not configured
}

// registerHandlers wires every client message type into the dispatcher.
func (g *gateway) registerHandlers(d *ws.MessageDispatcher) {
	d.Register(protocol.TypeRegister, func(conn *ws.Connection, msg interface{}) {
		if m, ok := msg.(protocol.RegisterMsg); ok {
			g.handleRegister(conn, m)
		}
	})
	d.Register(protocol.TypeHeartbeat, func(conn *ws.Connection, msg interface{}) {
		g.handleHeartbeat(conn)
	})
	d.Register(protocol.TypeQueueSearch, func(conn *ws.Connection, msg interface{}) {
		if m, ok := msg.(protocol.QueueSearchMsg); ok {
			g.handleQueueSearch(conn, m)
		}
	})
	d.Register(protocol.TypeQueueLeave, func(conn *ws.Connection, msg interface{}) {
		if m, ok := msg.(protocol.QueueLeaveMsg); ok {
			g.handleQueueLeave(conn, m)
		}
	})
	d.Register(protocol.TypeMessageSend, func(conn *ws.Connection, msg interface{}) {
		if m, ok := msg.(protocol.MessageSendMsg); ok {
			g.handleMessageSend(conn, m)
		}
	})
	d.Register(protocol.TypeMessageRead, func(conn *ws.Connection, msg interface{}) {
		if m, ok := msg.(protocol.MessageReadMsg); ok {
			g.handleMessageRead(conn, m)
		}
	})
	d.Register(protocol.TypeSignal, func(conn *ws.Connection, msg interface{}) {
		if m, ok := msg.(protocol.SignalMsg); ok {
			g.handleSignal(conn, m)
		}
	})
	d.Register(protocol.TypeVerify, func(conn *ws.Connection, msg interface{}) {
		if m, ok := msg.(protocol.VerifyMsg); ok {
			g.handleVerify(conn, m)
		}
	})
	d.Register(protocol.TypeTyping, func(conn *ws.Connection, msg interface{}) {
		if m, ok := msg.(protocol.TypingMsg); ok {
			g.handleTyping(conn, m)
		}
	})
	d.Register(protocol.TypeSessionLeave, func(conn *ws.Connection, msg interface{}) {
		if m, ok := msg.(protocol.SessionLeaveMsg); ok {
			g.handleSessionLeave(conn, m)
		}
	})
	d.Register(protocol.TypeReport, func(conn *ws.Connection, msg interface{}) {
		if m, ok := msg.(protocol.ReportMsg); ok {
			g.handleReport(conn, m)
		}
	})
}

// ---------------------------------------------------------------------------
// Registration and presence
// ---------------------------------------------------------------------------

// handleRegister binds the connection to a durable identity and a fresh
// anonymous id. Guests get a generated identity; the anonymous id never
// survives the connection, so sessions cannot be linked across visits.
func (g *gateway) handleRegister(conn *ws.Connection, m protocol.RegisterMsg) {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	if conn.Registered() {
		g.sendError(conn, "already_registered", "connection is already registered")
		return
	}

	if allowed, _ := g.limiter.Allow(ctx, remoteIP(conn), ratelimit.RuleConnect); !allowed {
		g.sendRateLimited(conn, ratelimit.RuleConnect)
		return
	}

	identity := m.UserID
	if identity == "" {
		identity = "guest:" + uuid.New().String()
	}
	anonID := uuid.New().String()

	g.server.Connections().Bind(conn, identity, anonID, m.DisplayName)

	if err := g.users.Attach(ctx, identity, anonID, m.DisplayName); err != nil {
		log.Printf("[gateway] create user state for %s: %v", identity, err)
		g.sendError(conn, "internal_error", "registration failed")
		return
	}

	g.presence.ConnectionOpened(identity)

	if err := g.nats.SubscribeQueueResult(anonID, g.queueResultHandler(conn)); err != nil {
		log.Printf("[gateway] subscribe queue results for %s: %v", anonID, err)
	}

	g.send(conn, protocol.TypeRegistered, protocol.RegisteredMsg{AnonID: anonID})
	log.Printf("[gateway] registered conn=%s identity=%s anon=%s", conn.ID, identity, anonID)
}

func (g *gateway) handleHeartbeat(conn *ws.Connection) {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	identity := conn.Identity()
	g.presence.Heartbeat(identity)
	if err := g.users.Touch(ctx, identity); err != nil {
		log.Printf("[gateway] touch %s: %v", identity, err)
	}
}

// watchPresence forwards presence transitions of in-session identities to the
// session event stream, addressed by anonymous id so the durable identity is
// never exposed to the partner.
func (g *gateway) watchPresence() {
	g.presence.Subscribe(func(identity string, status presence.Status) {
		ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
		defer cancel()

		state, err := g.users.Get(ctx, identity)
		if err != nil || state == nil || state.SessionID == "" {
			return
		}

		event := session.Event{
			Type:   session.EventPresence,
			From:   state.AnonID,
			Status: string(status),
		}
		data, err := json.Marshal(event)
		if err != nil {
			return
		}
		if err := g.nats.PublishSessionEvent(state.SessionID, data); err != nil {
			log.Printf("[gateway] publish presence for %s: %v", state.AnonID, err)
		}
	})
}

// ---------------------------------------------------------------------------
// Matching queue
// ---------------------------------------------------------------------------

func (g *gateway) handleQueueSearch(conn *ws.Connection, m protocol.QueueSearchMsg) {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	if !protocol.ValidMode(m.Mode) {
		g.sendError(conn, "invalid_mode", "mode must be text, audio or video")
		return
	}
	if allowed, _ := g.limiter.Allow(ctx, conn.Identity(), ratelimit.RuleSearch); !allowed {
		g.sendRateLimited(conn, ratelimit.RuleSearch)
		return
	}

	req := matching.SearchRequest{
		UserID:    conn.Identity(),
		AnonID:    conn.AnonID(),
		Mode:      m.Mode,
		Language:  m.Preferences.Language,
		Interests: m.Preferences.Interests,
	}
	data, err := json.Marshal(req)
	if err != nil {
		g.sendError(conn, "internal_error", "search failed")
		return
	}
	if err := g.nats.PublishQueueSearch(data); err != nil {
		log.Printf("[gateway] publish search for %s: %v", conn.AnonID(), err)
		g.sendError(conn, "internal_error", "search failed")
	}
}

func (g *gateway) handleQueueLeave(conn *ws.Connection, m protocol.QueueLeaveMsg) {
	req := matching.LeaveRequest{UserID: conn.Identity(), Mode: m.Mode}
	data, err := json.Marshal(req)
	if err != nil {
		return
	}
	if err := g.nats.PublishQueueLeave(data); err != nil {
		log.Printf("[gateway] publish leave for %s: %v", conn.AnonID(), err)
		return
	}
	g.send(conn, protocol.TypeQueueLeft, protocol.QueueLeftMsg{Mode: m.Mode})
}

// queueResultHandler returns the NATS handler for this connection's
// queue.result subject: position updates while waiting, then the match.
func (g *gateway) queueResultHandler(conn *ws.Connection) func(data []byte) {
	return func(data []byte) {
		var res matching.QueueResult
		if err := json.Unmarshal(data, &res); err != nil {
			log.Printf("[gateway] invalid queue result for %s: %v", conn.AnonID(), err)
			return
		}

		if !res.Matched {
			g.send(conn, protocol.TypeQueuePosition, protocol.QueuePositionMsg{
				Mode:          res.Mode,
				Position:      res.Position,
				EstimatedWait: res.EstimatedWait,
			})
			return
		}

		// Subscribe to the session event stream before telling the client,
		// so no early partner message slips through unobserved.
		if err := g.nats.SubscribeSessionEvents(res.SessionID, conn.AnonID(),
			g.sessionEventHandler(conn, res.SessionID)); err != nil {
			log.Printf("[gateway] subscribe session %s for %s: %v", res.SessionID, conn.AnonID(), err)
		}

		g.send(conn, protocol.TypeQueueMatched, protocol.QueueMatchedMsg{
			SessionID:  res.SessionID,
			Mode:       res.Mode,
			PartnerID:  res.PartnerID,
			AIFallback: res.AIFallback,
		})
	}
}

// ---------------------------------------------------------------------------
// Session event fan-out
// ---------------------------------------------------------------------------

// sessionEventHandler returns the NATS handler that translates session events
// into client frames for one participant's connection.
func (g *gateway) sessionEventHandler(conn *ws.Connection, sessionID string) func(data []byte) {
	myAnon := conn.AnonID()

	return func(data []byte) {
		var ev session.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			log.Printf("[gateway] invalid session event on %s: %v", sessionID, err)
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
		defer cancel()

		switch ev.Type {
		case session.EventMessage:
			if ev.From == myAnon {
				return // own message echoed back
			}
			err := g.send(conn, protocol.TypeMessageReceived, protocol.MessageReceivedMsg{
				Message: protocol.MessagePayload{
					MessageID:   ev.MessageID,
					SessionID:   sessionID,
					SenderID:    ev.From,
					Content:     ev.Content,
					ContentType: ev.ContentType,
					Ts:          ev.Ts,
				},
			})
			if err != nil {
				return // no live write; the message stays at sent
			}
			advanced, err := g.chats.AdvanceState(ctx, sessionID, ev.MessageID, chat.StateDelivered)
			if err != nil {
				log.Printf("[gateway] advance delivered %s: %v", ev.MessageID, err)
				return
			}
			if advanced {
				metrics.MessagesTotal.WithLabelValues("delivered").Inc()
				g.publishEvent(sessionID, session.Event{
					Type:      session.EventDelivered,
					From:      myAnon,
					To:        ev.From,
					MessageID: ev.MessageID,
				})
			}

		case session.EventDelivered:
			if ev.To != myAnon {
				return
			}
			g.send(conn, protocol.TypeMessageDelivered, protocol.MessageDeliveredMsg{
				SessionID: sessionID,
				MessageID: ev.MessageID,
			})

		case session.EventRead:
			if ev.To != myAnon {
				return
			}
			g.send(conn, protocol.TypeMessageReadAck, protocol.MessageReadAckMsg{
				SessionID: sessionID,
				MessageID: ev.MessageID,
			})

		case session.EventSignal:
			if ev.From == myAnon {
				return
			}
			g.send(conn, protocol.TypeSignalRelay, protocol.SignalRelayMsg{
				SessionID: sessionID,
				Kind:      ev.Kind,
				Payload:   ev.Payload,
			})

		case session.EventTyping:
			if ev.From == myAnon {
				return
			}
			g.send(conn, protocol.TypePartnerTyping, protocol.PartnerTypingMsg{
				SessionID: sessionID,
				IsTyping:  ev.IsTyping,
			})

		case session.EventVerified:
			// Both sides see the outcome: the subject learns their own
			// result, the partner gets the attestation.
			g.send(conn, protocol.TypePartnerVerified, protocol.PartnerVerifiedMsg{
				SessionID:   sessionID,
				AnonID:      ev.From,
				Verified:    ev.Verified,
				Confidence:  ev.Confidence,
				Attestation: ev.Attestation,
			})

		case session.EventVerifyRequest:
			if ev.To != myAnon {
				return
			}
			g.send(conn, protocol.TypeVerifyRequest, protocol.VerifyRequestMsg{
				SessionID: sessionID,
				Deadline:  ev.Deadline,
			})

		case session.EventPresence:
			if ev.From == myAnon {
				return
			}
			g.send(conn, protocol.TypePresence, protocol.PresenceMsg{
				Identity: ev.From, // anonymous id, never the durable identity
				Status:   ev.Status,
			})

		case session.EventEnded:
			g.send(conn, protocol.TypeSessionEnded, protocol.SessionEndedMsg{
				SessionID: sessionID,
				Reason:    ev.Reason,
			})
			g.buffer.Remove(sessionID)
			if err := g.users.ClearSession(ctx, conn.Identity()); err != nil {
				log.Printf("[gateway] clear session for %s: %v", conn.Identity(), err)
			}
			_ = g.nats.UnsubscribeSessionEvents(myAnon)
		}
	}
}

// ---------------------------------------------------------------------------
// Messaging
// ---------------------------------------------------------------------------

func (g *gateway) handleMessageSend(conn *ws.Connection, m protocol.MessageSendMsg) {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	if allowed, _ := g.limiter.Allow(ctx, conn.Identity(), ratelimit.RuleMessage); !allowed {
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		g.sendRateLimited(conn, ratelimit.RuleMessage)
		return
	}

	// Clients may only send plain text; system and ai content types are
	// reserved for the server side.
	contentType := m.ContentType
	if contentType == "" {
		contentType = chat.ContentText
	}
	if contentType != chat.ContentText {
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		g.sendError(conn, "invalid_content_type", "content_type must be text")
		return
	}
	if err := chat.ValidateContent(m.Content); err != nil {
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		g.sendError(conn, "invalid_message", err.Error())
		return
	}

	sess, err := g.activeSession(ctx, m.SessionID, conn.AnonID())
	if err != nil {
		g.sendError(conn, "invalid_session", err.Error())
		return
	}

	msg := &chat.Message{
		ID:          uuid.New().String(),
		SessionID:   sess.ID,
		SenderID:    conn.AnonID(),
		Content:     m.Content,
		ContentType: contentType,
		State:       chat.StateSent,
		Ts:          time.Now().UnixMilli(),
	}
	if err := g.chats.Append(ctx, msg); err != nil {
		log.Printf("[gateway] append message %s: %v", msg.ID, err)
		g.sendError(conn, "internal_error", "message not accepted")
		return
	}

	g.buffer.Add(sess.ID, chat.BufferedMessage{
		From:    conn.AnonID(),
		Content: m.Content,
		Ts:      msg.Ts,
	})

	g.publishEvent(sess.ID, session.Event{
		Type:        session.EventMessage,
		From:        conn.AnonID(),
		MessageID:   msg.ID,
		Content:     msg.Content,
		ContentType: msg.ContentType,
		Ts:          msg.Ts,
	})
	metrics.MessagesTotal.WithLabelValues("sent").Inc()
}

func (g *gateway) handleMessageRead(conn *ws.Connection, m protocol.MessageReadMsg) {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	if _, err := g.activeSession(ctx, m.SessionID, conn.AnonID()); err != nil {
		if err == errNotParticipant {
			log.Printf("[gateway] read rejected conn=%s session=%s: not a participant", conn.ID, m.SessionID)
		}
		g.sendError(conn, "invalid_session", err.Error())
		return
	}

	msg, advanced, err := g.chats.MarkRead(ctx, m.SessionID, m.MessageID, conn.AnonID())
	if err != nil {
		log.Printf("[gateway] mark read %s: %v", m.MessageID, err)
		return
	}
	if msg == nil {
		g.sendError(conn, "unknown_message", "message not found")
		return
	}
	if !advanced {
		return // own message, duplicate, or out-of-order read event
	}

	metrics.MessagesTotal.WithLabelValues("read").Inc()
	g.publishEvent(m.SessionID, session.Event{
		Type:      session.EventRead,
		From:      conn.AnonID(),
		To:        msg.SenderID,
		MessageID: m.MessageID,
	})
}

func (g *gateway) handleTyping(conn *ws.Connection, m protocol.TypingMsg) {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	if _, err := g.activeSession(ctx, m.SessionID, conn.AnonID()); err != nil {
		return // typing against a dead session is just dropped
	}
	g.publishEvent(m.SessionID, session.Event{
		Type:     session.EventTyping,
		From:     conn.AnonID(),
		IsTyping: m.IsTyping,
	})
}

// ---------------------------------------------------------------------------
// Signaling and verification
// ---------------------------------------------------------------------------

func (g *gateway) handleSignal(conn *ws.Connection, m protocol.SignalMsg) {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	err := g.relay.Forward(ctx, conn.AnonID(), &m)
	switch {
	case err == nil:
	case err == signaling.ErrInvalidKind:
		g.sendError(conn, "invalid_signal", "unknown signal kind")
	case err == signaling.ErrEmptyPayload:
		g.sendError(conn, "invalid_signal", "empty signal payload")
	case err == signaling.ErrSessionNotFound, err == signaling.ErrSessionEnded:
		g.sendError(conn, "invalid_session", "session is not active")
	case err == signaling.ErrNotParticipant:
		g.sendError(conn, "not_participant", "not a session participant")
	default:
		log.Printf("[gateway] signal relay %s: %v", m.SessionID, err)
		g.sendError(conn, "internal_error", "signal not relayed")
	}
}

func (g *gateway) handleVerify(conn *ws.Connection, m protocol.VerifyMsg) {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	if allowed, _ := g.limiter.Allow(ctx, conn.Identity(), ratelimit.RuleVerify); !allowed {
		g.sendRateLimited(conn, ratelimit.RuleVerify)
		return
	}
	if m.ImageSample == "" {
		g.sendError(conn, "invalid_sample", "image sample is empty")
		return
	}
	if _, err := g.activeSession(ctx, m.SessionID, conn.AnonID()); err != nil {
		g.sendError(conn, "invalid_session", err.Error())
		return
	}

	check := verify.Check{
		SessionID:   m.SessionID,
		AnonID:      conn.AnonID(),
		ImageSample: m.ImageSample,
	}
	data, err := json.Marshal(check)
	if err != nil {
		return
	}
	if err := g.nats.PublishVerifyCheck(data); err != nil {
		log.Printf("[gateway] publish verify check for %s: %v", conn.AnonID(), err)
		g.sendError(conn, "internal_error", "verification not submitted")
	}
}

// ---------------------------------------------------------------------------
// Teardown
// ---------------------------------------------------------------------------

func (g *gateway) handleSessionLeave(conn *ws.Connection, m protocol.SessionLeaveMsg) {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	performed, err := g.sessions.EndAs(ctx, m.SessionID, conn.AnonID(), session.ReasonLeft)
	if err == session.ErrNotParticipant {
		log.Printf("[gateway] leave rejected conn=%s session=%s: not a participant", conn.ID, m.SessionID)
		g.sendError(conn, "not_participant", "not a session participant")
		return
	}
	if err != nil {
		g.sendError(conn, "internal_error", "leave failed")
		return
	}
	if !performed {
		// Already ended (or never existed): the event stream will not fire
		// again, so confirm directly.
		g.send(conn, protocol.TypeSessionEnded, protocol.SessionEndedMsg{
			SessionID: m.SessionID,
			Reason:    session.ReasonLeft,
		})
		return
	}
	g.publishEvent(m.SessionID, session.Event{
		Type:   session.EventEnded,
		Reason: session.ReasonLeft,
	})
	log.Printf("[gateway] session ended session=%s reason=%s", m.SessionID, session.ReasonLeft)
}

func (g *gateway) handleReport(conn *ws.Connection, m protocol.ReportMsg) {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	if !report.ValidReason(m.Reason) {
		g.sendError(conn, "invalid_reason", "unknown report reason")
		return
	}

	sess, err := g.sessions.Get(ctx, m.SessionID)
	if err != nil || sess == nil || !sess.IsParticipant(conn.AnonID()) {
		g.sendError(conn, "invalid_session", "no such session")
		return
	}

	// Snapshot before teardown clears the buffer.
	snapshot := g.buffer.Get(sess.ID)

	if g.reports != nil {
		_, err := g.reports.Insert(ctx, &report.Report{
			SessionID:      sess.ID,
			ReporterAnonID: conn.AnonID(),
			ReportedAnonID: sess.Partner(conn.AnonID()),
			Reason:         m.Reason,
			Snapshot:       snapshot,
		})
		if err != nil {
			log.Printf("[gateway] persist report for %s: %v", sess.ID, err)
		}
	}

	if _, err := g.endSession(ctx, sess.ID, session.ReasonReported); err != nil {
		g.sendError(conn, "internal_error", "report failed")
	}
}

// onDisconnect runs session and queue cleanup when a connection drops for any
// reason. The server deletes the user state afterwards, so the lookups here
// still see it.
func (g *gateway) onDisconnect(conn *ws.Connection) {
	if !conn.Registered() {
		return
	}
	identity, anonID := conn.Identity(), conn.AnonID()

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	g.presence.ConnectionClosed(identity)
	_ = g.nats.UnsubscribeQueueResult(anonID)
	_ = g.nats.UnsubscribeSessionEvents(anonID)

	state, err := g.users.Get(ctx, identity)
	if err != nil || state == nil {
		return
	}

	if state.Status == userstate.StatusQueued && state.Mode != "" {
		req := matching.LeaveRequest{UserID: identity, Mode: state.Mode}
		if data, err := json.Marshal(req); err == nil {
			_ = g.nats.PublishQueueLeave(data)
		}
	}

	if state.SessionID != "" {
		if _, err := g.endSession(ctx, state.SessionID, session.ReasonDisconnected); err != nil {
			log.Printf("[gateway] end session %s on disconnect: %v", state.SessionID, err)
		}
	}
}

// endSession performs the idempotent teardown. Exactly one caller across all
// services observes performed=true and publishes the ended event that fans
// out to both participants.
func (g *gateway) endSession(ctx context.Context, sessionID, reason string) (bool, error) {
	performed, err := g.sessions.End(ctx, sessionID, reason)
	if err != nil {
		return false, err
	}
	if performed {
		g.publishEvent(sessionID, session.Event{
			Type:   session.EventEnded,
			Reason: reason,
		})
		log.Printf("[gateway] session ended session=%s reason=%s", sessionID, reason)
	}
	return performed, nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// activeSession loads the session and checks it is active and that anonID
// participates in it.
func (g *gateway) activeSession(ctx context.Context, sessionID, anonID string) (*session.Session, error) {
	sess, err := g.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, errSessionNotFound
	}
	if sess.Status != session.StatusActive {
		return nil, errSessionEnded
	}
	if !sess.IsParticipant(anonID) {
		return nil, errNotParticipant
	}
	return sess, nil
}

var (
	errSessionNotFound = errors.New("session not found")
	errSessionEnded    = errors.New("session has ended")
	errNotParticipant  = errors.New("not a session participant")
)

func (g *gateway) publishEvent(sessionID string, ev session.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := g.nats.PublishSessionEvent(sessionID, data); err != nil {
		log.Printf("[gateway] publish %s event on %s: %v", ev.Type, sessionID, err)
	}
}

func (g *gateway) send(conn *ws.Connection, msgType string, payload interface{}) error {
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		log.Printf("[gateway] build %s message: %v", msgType, err)
		return err
	}
	if err := conn.WriteMessage(data); err != nil {
		return err
	}
	return nil
}

func (g *gateway) sendError(conn *ws.Connection, code, message string) {
	g.send(conn, protocol.TypeError, protocol.ErrorMsg{Code: code, Message: message})
}

func (g *gateway) sendRateLimited(conn *ws.Connection, rule ratelimit.Rule) {
	g.send(conn, protocol.TypeRateLimited, protocol.RateLimitedMsg{
		RetryAfter: int(rule.Window.Seconds()),
	})
}

// remoteIP extracts the client IP from the connection for per-IP limits.
func remoteIP(conn *ws.Connection) string {
	addr := conn.Conn.RemoteAddr().String()
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
