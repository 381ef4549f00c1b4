package matching

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/SayantanSahaJgm/FriendFinder-sub003/internal/aifallback"
	"github.com/SayantanSahaJgm/FriendFinder-sub003/internal/session"
)

// recordingBus collects queue results in memory so pairing outcomes can be
// asserted without a messaging backend.
type recordingBus struct {
	mu      sync.Mutex
	results map[string][]QueueResult
}

func newRecordingBus() *recordingBus {
	return &recordingBus{results: make(map[string][]QueueResult)}
}

func (b *recordingBus) SubscribeQueueSearch(handler func(data []byte)) error { return nil }

func (b *recordingBus) SubscribeQueueLeave(handler func(data []byte)) error { return nil }

func (b *recordingBus) PublishQueueResult(anonID string, data []byte) error {
	var result QueueResult
	if err := json.Unmarshal(data, &result); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.results[anonID] = append(b.results[anonID], result)
	return nil
}

func (b *recordingBus) SubscribeSessionEvents(sessionID, subscriberID string, handler func(data []byte)) error {
	return nil
}
func (b *recordingBus) UnsubscribeSessionEvents(subscriberID string) error { return nil }

func (b *recordingBus) PublishSessionEvent(sessionID string, data []byte) error { return nil }

// matchFor returns the single match result delivered to anonID, failing the
// test on zero or multiple matches.
func (b *recordingBus) matchFor(t *testing.T, anonID string) QueueResult {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()

	var matches []QueueResult
	for _, r := range b.results[anonID] {
		if r.Matched {
			matches = append(matches, r)
		}
	}
	if len(matches) != 1 {
		t.Fatalf("%s: expected exactly 1 match result, got %d", anonID, len(matches))
	}
	return matches[0]
}

func (b *recordingBus) matchCount(anonID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	count := 0
	for _, r := range b.results[anonID] {
		if r.Matched {
			count++
		}
	}
	return count
}

func newTestService(t *testing.T, config Config) (*Service, *recordingBus) {
	t.Helper()

	rdb := newTestRedis(t)
	bus := newRecordingBus()
	svc := NewService(config, rdb, bus, aifallback.NewCanned())
	t.Cleanup(svc.Stop)
	return svc, bus
}

func TestServicePairsTwoWaitingUsers(t *testing.T) {
	svc, bus := newTestService(t, DefaultConfig())
	ctx := context.Background()

	now := time.Now()
	a := entry("u1", "", nil, now.Add(-2*time.Second))
	b := entry("u2", "", nil, now.Add(-time.Second))
	for _, e := range []*QueueEntry{a, b} {
		if err := svc.queue.Enqueue(ctx, e); err != nil {
			t.Fatalf("enqueue %s: %v", e.UserID, err)
		}
	}

	svc.processQueues()

	matchA := bus.matchFor(t, a.AnonID)
	matchB := bus.matchFor(t, b.AnonID)
	if matchA.SessionID == "" || matchA.SessionID != matchB.SessionID {
		t.Fatalf("participants got different sessions: %q vs %q", matchA.SessionID, matchB.SessionID)
	}
	if matchA.PartnerID != b.AnonID || matchB.PartnerID != a.AnonID {
		t.Errorf("partner ids wrong: %+v / %+v", matchA, matchB)
	}
	if matchA.AIFallback || matchB.AIFallback {
		t.Error("human match flagged as AI fallback")
	}

	sess, err := svc.sessions.Get(ctx, matchA.SessionID)
	if err != nil || sess == nil || sess.Status != session.StatusActive {
		t.Fatalf("session not active after pairing: %+v (err=%v)", sess, err)
	}

	if size, _ := svc.queue.Size(ctx, "text"); size != 0 {
		t.Errorf("queue not drained after pairing: %d left", size)
	}
}

func TestServicePairingIsFIFOAndAtMostOnce(t *testing.T) {
	svc, bus := newTestService(t, DefaultConfig())
	ctx := context.Background()

	// Four compatible users joined in order: fairness demands (u1,u2) and
	// (u3,u4), and nobody may be claimed twice within one pass.
	now := time.Now()
	users := []string{"u1", "u2", "u3", "u4"}
	for i, u := range users {
		e := entry(u, "", nil, now.Add(time.Duration(i)*time.Second))
		if err := svc.queue.Enqueue(ctx, e); err != nil {
			t.Fatalf("enqueue %s: %v", u, err)
		}
	}

	svc.processQueues()

	for _, u := range users {
		if count := bus.matchCount("anon-" + u); count != 1 {
			t.Errorf("%s matched %d times, want exactly 1", u, count)
		}
	}

	m1 := bus.matchFor(t, "anon-u1")
	m3 := bus.matchFor(t, "anon-u3")
	if m1.PartnerID != "anon-u2" {
		t.Errorf("u1 should pair with the earliest waiter u2, got %s", m1.PartnerID)
	}
	if m3.PartnerID != "anon-u4" {
		t.Errorf("u3 should pair with u4, got %s", m3.PartnerID)
	}
	if m1.SessionID == m3.SessionID {
		t.Error("two pairs share one session")
	}
}

func TestServiceAIFallbackAfterLongWait(t *testing.T) {
	config := DefaultConfig()
	config.FallbackAfter = 50 * time.Millisecond
	svc, bus := newTestService(t, config)
	ctx := context.Background()

	a := entry("u1", "", nil, time.Now().Add(-time.Second))
	if err := svc.queue.Enqueue(ctx, a); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	svc.processQueues()

	match := bus.matchFor(t, a.AnonID)
	if !match.AIFallback {
		t.Fatalf("expected AI fallback match, got %+v", match)
	}
	if !strings.HasPrefix(match.PartnerID, session.AIAnonPrefix) {
		t.Errorf("AI partner id missing prefix: %s", match.PartnerID)
	}

	sess, err := svc.sessions.Get(ctx, match.SessionID)
	if err != nil || sess == nil {
		t.Fatalf("session missing: %v", err)
	}
	if !sess.AIFallback {
		t.Error("session not flagged as AI fallback")
	}
	if size, _ := svc.queue.Size(ctx, "text"); size != 0 {
		t.Errorf("entry still queued after fallback: %d", size)
	}
}

func TestServiceNoFallbackBeforeThreshold(t *testing.T) {
	svc, bus := newTestService(t, DefaultConfig())
	ctx := context.Background()

	a := entry("u1", "", nil, time.Now())
	if err := svc.queue.Enqueue(ctx, a); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	svc.processQueues()

	if count := bus.matchCount(a.AnonID); count != 0 {
		t.Errorf("lone fresh entry matched %d times, want 0", count)
	}
	if size, _ := svc.queue.Size(ctx, "text"); size != 1 {
		t.Errorf("entry should stay queued: size=%d", size)
	}
}

func TestServiceEstimatedWaitScalesWithInterval(t *testing.T) {
	config := DefaultConfig()
	config.MatchInterval = 2 * time.Second
	svc, bus := newTestService(t, config)

	for _, u := range []string{"u1", "u2"} {
		req := SearchRequest{UserID: u, AnonID: "anon-" + u, Mode: "video"}
		data, err := json.Marshal(req)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		svc.handleSearch(data)
	}

	// position * interval, in seconds.
	bus.mu.Lock()
	defer bus.mu.Unlock()
	first := bus.results["anon-u1"]
	second := bus.results["anon-u2"]
	if len(first) == 0 || len(second) == 0 {
		t.Fatalf("position updates missing: %v / %v", first, second)
	}
	if first[0].Position != 1 || first[0].EstimatedWait != 2 {
		t.Errorf("head of queue: want position 1 wait 2s, got %+v", first[0])
	}
	if second[0].Position != 2 || second[0].EstimatedWait != 4 {
		t.Errorf("second in queue: want position 2 wait 4s, got %+v", second[0])
	}
}
