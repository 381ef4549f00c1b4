package verify

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/SayantanSahaJgm/FriendFinder-sub003/internal/messaging"
	"github.com/SayantanSahaJgm/FriendFinder-sub003/internal/protocol"
	"github.com/SayantanSahaJgm/FriendFinder-sub003/internal/session"
)

const (
	// DefaultChallengeInterval is how often active video sessions are asked
	// to re-verify.
	DefaultChallengeInterval = 60 * time.Second

	// DefaultChallengeDeadline is how many seconds a client has to submit a
	// sample after receiving a challenge.
	DefaultChallengeDeadline = 20
)

// Scheduler periodically issues verification challenges to the human
// participants of active video sessions. Text and audio sessions carry no
// camera feed and are never challenged; AI partners have nothing to verify.
type Scheduler struct {
	sessions *session.Store
	nats     *messaging.NATSClient
	interval time.Duration
	deadline int
}

// NewScheduler creates a challenge scheduler with the given cadence.
func NewScheduler(sessions *session.Store, nats *messaging.NATSClient,
	interval time.Duration, deadline int) *Scheduler {
	if interval <= 0 {
		interval = DefaultChallengeInterval
	}
	if deadline <= 0 {
		deadline = DefaultChallengeDeadline
	}
	return &Scheduler{
		sessions: sessions,
		nats:     nats,
		interval: interval,
		deadline: deadline,
	}
}

// Run issues challenges on the configured cadence until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.Printf("[verify] challenge scheduler started (interval=%s deadline=%ds)",
		s.interval, s.deadline)

	for {
		select {
		case <-ctx.Done():
			log.Println("[verify] challenge scheduler stopped")
			return
		case <-ticker.C:
			s.challengeActiveSessions(ctx)
		}
	}
}

// challengeActiveSessions walks the active session set and publishes a
// verify-request event addressed to each human participant of a video session.
func (s *Scheduler) challengeActiveSessions(ctx context.Context) {
	ids, err := s.sessions.ActiveSessions(ctx)
	if err != nil {
		log.Printf("[verify] list active sessions: %v", err)
		return
	}

	issued := 0
	for _, id := range ids {
		sess, err := s.sessions.Get(ctx, id)
		if err != nil || sess == nil || sess.Status != session.StatusActive {
			continue
		}
		if sess.Mode != protocol.ModeVideo {
			continue
		}

		for _, p := range []session.Participant{sess.A, sess.B} {
			if session.IsAI(p.AnonID) {
				continue
			}
			if err := s.publishChallenge(id, p.AnonID); err != nil {
				log.Printf("[verify] challenge %s/%s: %v", id, p.AnonID, err)
				continue
			}
			issued++
		}
	}

	if issued > 0 {
		log.Printf("[verify] issued %d challenges", issued)
	}
}

func (s *Scheduler) publishChallenge(sessionID, anonID string) error {
	event := session.Event{
		Type:     session.EventVerifyRequest,
		To:       anonID,
		Deadline: s.deadline,
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return s.nats.PublishSessionEvent(sessionID, data)
}
