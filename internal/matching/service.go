package matching

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/SayantanSahaJgm/FriendFinder-sub003/internal/aifallback"
	"github.com/SayantanSahaJgm/FriendFinder-sub003/internal/chat"
	"github.com/SayantanSahaJgm/FriendFinder-sub003/internal/metrics"
	"github.com/SayantanSahaJgm/FriendFinder-sub003/internal/protocol"
	"github.com/SayantanSahaJgm/FriendFinder-sub003/internal/session"
	"github.com/SayantanSahaJgm/FriendFinder-sub003/internal/userstate"
)

// Bus is the messaging surface the matching service needs: consuming queue
// requests, delivering match results, and the AI responder's session event
// stream.
type Bus interface {
	SubscribeQueueSearch(handler func(data []byte)) error
	SubscribeQueueLeave(handler func(data []byte)) error
	PublishQueueResult(anonID string, data []byte) error
	SubscribeSessionEvents(sessionID, subscriberID string, handler func(data []byte)) error
	UnsubscribeSessionEvents(subscriberID string) error
	PublishSessionEvent(sessionID string, data []byte) error
}

// Config holds the matchmaking policy timings. The relaxation and fallback
// thresholds are policy choices, not tuned constants; all three are
// overridable from the environment in cmd/matcher.
type Config struct {
	MatchInterval time.Duration // how often the pairing loop runs
	RelaxAfter    time.Duration // ignore preference filters after this wait
	FallbackAfter time.Duration // acquire an AI partner after this wait
}

// DefaultConfig returns the reference policy timings.
func DefaultConfig() Config {
	return Config{
		MatchInterval: 1 * time.Second,
		RelaxAfter:    30 * time.Second,
		FallbackAfter: 2 * time.Minute,
	}
}

// SearchRequest is the NATS payload sent by a gateway when a user starts
// searching for a partner.
type SearchRequest struct {
	UserID    string   `json:"user_id"`
	AnonID    string   `json:"anon_id"`
	Mode      string   `json:"mode"`
	Language  string   `json:"language,omitempty"`
	Interests []string `json:"interests,omitempty"`
}

// LeaveRequest is the NATS payload sent by a gateway when a user leaves the
// queue (explicitly or via disconnect).
type LeaveRequest struct {
	UserID string `json:"user_id"`
	Mode   string `json:"mode"`
}

// Service is the background matching service that pairs waiting participants
// per mode with FIFO fairness, escalating compatibility relaxation, and an
// AI fallback for entries no human partner arrives for.
type Service struct {
	config   Config
	queue    *Queue
	bus      Bus
	rdb      *redis.Client
	sessions *session.Store
	users    *userstate.Store
	chats    *chat.Store
	ai       aifallback.Provider
	wake     chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewService creates a new matching service.
func NewService(config Config, rdb *redis.Client, bus Bus, ai aifallback.Provider) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		config:   config,
		queue:    NewQueue(rdb),
		bus:      bus,
		rdb:      rdb,
		sessions: session.NewStore(rdb),
		users:    userstate.NewStore(rdb, "matcher"),
		chats:    chat.NewStore(rdb),
		ai:       ai,
		wake:     make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start subscribes to NATS subjects and starts the pairing loop.
func (s *Service) Start() error {
	if err := s.bus.SubscribeQueueSearch(s.handleSearch); err != nil {
		return err
	}
	if err := s.bus.SubscribeQueueLeave(s.handleLeave); err != nil {
		return err
	}

	go s.matchLoop()
	go StartCleanup(s.ctx, s.queue, s.users)

	log.Println("[matcher] service started")
	return nil
}

// Stop gracefully shuts down the matching service.
func (s *Service) Stop() {
	s.cancel()
	log.Println("[matcher] service stopped")
}

func (s *Service) handleSearch(data []byte) {
	var req SearchRequest
	if err := json.Unmarshal(data, &req); err != nil {
		log.Printf("[matcher] invalid search request: %v", err)
		return
	}
	if req.UserID == "" || req.AnonID == "" || !protocol.ValidMode(req.Mode) {
		log.Printf("[matcher] malformed search request user=%s mode=%q", req.UserID, req.Mode)
		return
	}

	entry := &QueueEntry{
		QueueID:   uuid.New().String(),
		UserID:    req.UserID,
		AnonID:    req.AnonID,
		Mode:      req.Mode,
		Language:  req.Language,
		Interests: req.Interests,
		JoinedAt:  time.Now().UnixMilli(),
	}

	if err := s.queue.Enqueue(s.ctx, entry); err != nil {
		log.Printf("[matcher] enqueue %s: %v", entry.QueueID, err)
		return
	}
	if err := s.users.SetQueued(s.ctx, req.UserID, req.Mode); err != nil {
		log.Printf("[matcher] user state for %s: %v", req.UserID, err)
	}

	size, _ := s.queue.Size(s.ctx, req.Mode)
	metrics.QueueSize.WithLabelValues(req.Mode).Set(float64(size))
	log.Printf("[matcher] enqueued user=%s mode=%s lang=%q interests=%v (queue size: %d)",
		req.UserID, req.Mode, req.Language, req.Interests, size)

	s.publishPosition(s.ctx, entry)

	// Run a pairing pass promptly so two near-simultaneous searches match
	// within the same tick.
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Service) handleLeave(data []byte) {
	var req LeaveRequest
	if err := json.Unmarshal(data, &req); err != nil {
		log.Printf("[matcher] invalid leave request: %v", err)
		return
	}

	entry, err := s.queue.EntryFor(s.ctx, req.Mode, req.UserID)
	if err != nil {
		log.Printf("[matcher] leave lookup user=%s: %v", req.UserID, err)
		return
	}
	if entry == nil {
		return // leaving a missing entry is a no-op
	}

	if err := s.queue.Remove(s.ctx, entry.QueueID); err != nil {
		log.Printf("[matcher] leave remove %s: %v", entry.QueueID, err)
		return
	}
	if err := s.users.SetIdle(s.ctx, req.UserID); err != nil {
		log.Printf("[matcher] user state for %s: %v", req.UserID, err)
	}

	size, _ := s.queue.Size(s.ctx, req.Mode)
	metrics.QueueSize.WithLabelValues(req.Mode).Set(float64(size))
	log.Printf("[matcher] left queue user=%s mode=%s", req.UserID, req.Mode)
}

// matchLoop runs the pairing pass on every tick and whenever a new search
// request arrives. All pairing (find partner, remove both, create session)
// happens on this single goroutine, so no entry can be claimed twice.
func (s *Service) matchLoop() {
	ticker := time.NewTicker(s.config.MatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			log.Println("[matcher] match loop stopped")
			return
		case <-ticker.C:
			s.processQueues()
		case <-s.wake:
			s.processQueues()
		}
	}
}

// processQueues runs one pairing pass over every mode's queue, then refreshes
// the active-session gauge from the active set so the reading nets out
// sessions ended by any service.
func (s *Service) processQueues() {
	for _, mode := range protocol.Modes {
		s.processMode(mode)
	}
	if count, err := s.sessions.ActiveCount(s.ctx); err == nil {
		metrics.ActiveSessions.Set(float64(count))
	}
}

// processMode scans one mode's waiting list oldest-first. Each entry is
// offered the earliest-joined compatible partner (strict FIFO tie-break:
// fairness outranks preference quality). Entries past the fallback threshold
// are handed an AI partner instead of waiting indefinitely.
func (s *Service) processMode(mode string) {
	ctx := s.ctx
	ids, err := s.queue.AllQueued(ctx, mode)
	if err != nil {
		log.Printf("[matcher] failed to read %s queue: %v", mode, err)
		return
	}
	if len(ids) == 0 {
		return
	}

	entries := make([]*QueueEntry, 0, len(ids))
	for _, id := range ids {
		entry, err := s.queue.GetEntry(ctx, id)
		if err != nil || entry == nil {
			continue // stale id, cleanup will drop it from the sorted set
		}
		entries = append(entries, entry)
	}

	now := time.Now()
	matched := make(map[string]bool)
	paired := false

	for i, a := range entries {
		if matched[a.QueueID] {
			continue
		}

		// Earliest compatible partner wins (entries are in join order).
		var partner *QueueEntry
		for j := i + 1; j < len(entries); j++ {
			b := entries[j]
			if matched[b.QueueID] {
				continue
			}
			if Compatible(a, b, now, s.config.RelaxAfter) {
				partner = b
				break
			}
		}

		if partner != nil {
			matched[a.QueueID] = true
			matched[partner.QueueID] = true
			s.pair(ctx, a, partner)
			paired = true
			continue
		}

		// No human partner: fall back to AI once the long-wait threshold
		// passes, rather than leaving the user queued indefinitely.
		if a.WaitedFor(now) >= s.config.FallbackAfter {
			matched[a.QueueID] = true
			s.pairWithAI(ctx, a)
			paired = true
		}
	}

	size, _ := s.queue.Size(ctx, mode)
	metrics.QueueSize.WithLabelValues(mode).Set(float64(size))

	// Positions shifted for everyone still waiting.
	if paired {
		for _, e := range entries {
			if !matched[e.QueueID] {
				s.publishPosition(ctx, e)
			}
		}
	}
}

// pair removes both entries and creates their session. Removal and creation
// happen back to back on the loop goroutine, so neither entry can be matched
// again.
func (s *Service) pair(ctx context.Context, a, b *QueueEntry) {
	if err := s.queue.Remove(ctx, a.QueueID); err != nil {
		log.Printf("[matcher] remove %s: %v", a.QueueID, err)
	}
	if err := s.queue.Remove(ctx, b.QueueID); err != nil {
		log.Printf("[matcher] remove %s: %v", b.QueueID, err)
	}

	now := time.Now().Unix()
	sess, err := s.sessions.Create(ctx, a.Mode,
		session.Participant{UserID: a.UserID, AnonID: a.AnonID, JoinedAt: now},
		session.Participant{UserID: b.UserID, AnonID: b.AnonID, JoinedAt: now},
		false)
	if err != nil {
		log.Printf("[matcher] create session for %s/%s: %v", a.AnonID, b.AnonID, err)
		return
	}

	if err := s.users.SetSession(ctx, a.UserID, sess.ID); err != nil {
		log.Printf("[matcher] user state for %s: %v", a.UserID, err)
	}
	if err := s.users.SetSession(ctx, b.UserID, sess.ID); err != nil {
		log.Printf("[matcher] user state for %s: %v", b.UserID, err)
	}

	if err := PublishMatched(s.bus, sess, a, b); err != nil {
		log.Printf("[matcher] publish match: %v", err)
	}

	waited := time.Now().UnixMilli() - a.JoinedAt
	metrics.MatchesTotal.WithLabelValues("human").Inc()
	metrics.MatchDuration.Observe(float64(waited) / 1000)

	log.Printf("[matcher] matched session=%s mode=%s a=%s b=%s", sess.ID, a.Mode, a.AnonID, b.AnonID)
}

// pairWithAI removes the entry and creates an AI-backed session. The AI
// participant behaves as a session member with no live connection; the
// responder loop answers on its behalf.
func (s *Service) pairWithAI(ctx context.Context, a *QueueEntry) {
	partner, err := s.ai.AcquirePartner(ctx, a.Mode)
	if err != nil {
		// No AI partner available: the user stays queued with a refreshed
		// estimate rather than failing hard.
		log.Printf("[matcher] ai fallback unavailable for %s: %v", a.AnonID, err)
		s.publishPosition(ctx, a)
		return
	}

	if err := s.queue.Remove(ctx, a.QueueID); err != nil {
		log.Printf("[matcher] remove %s: %v", a.QueueID, err)
	}

	now := time.Now().Unix()
	sess, err := s.sessions.Create(ctx, a.Mode,
		session.Participant{UserID: a.UserID, AnonID: a.AnonID, JoinedAt: now},
		session.Participant{AnonID: partner.AnonID, JoinedAt: now},
		true)
	if err != nil {
		log.Printf("[matcher] create ai session for %s: %v", a.AnonID, err)
		return
	}

	if err := s.users.SetSession(ctx, a.UserID, sess.ID); err != nil {
		log.Printf("[matcher] user state for %s: %v", a.UserID, err)
	}

	if err := PublishMatchedAI(s.bus, sess, a, partner); err != nil {
		log.Printf("[matcher] publish ai match: %v", err)
	}

	s.startResponder(sess, partner)

	metrics.MatchesTotal.WithLabelValues("ai").Inc()
	log.Printf("[matcher] ai fallback session=%s mode=%s user=%s partner=%s",
		sess.ID, a.Mode, a.AnonID, partner.AnonID)
}

// publishPosition reports the entry's queue position and estimated wait. The
// queue is scanned once per tick, so the position bounds the number of passes
// before the entry reaches the head.
func (s *Service) publishPosition(ctx context.Context, entry *QueueEntry) {
	pos, err := s.queue.Position(ctx, entry.Mode, entry.QueueID)
	if err != nil || pos == 0 {
		return
	}
	estimated := int((time.Duration(pos) * s.config.MatchInterval).Round(time.Second) / time.Second)
	if err := PublishPosition(s.bus, entry, pos, estimated); err != nil {
		log.Printf("[matcher] publish position for %s: %v", entry.AnonID, err)
	}
}
