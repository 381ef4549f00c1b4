package session

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// newTestRedis connects to the local Redis on DB 15 and flushes it. Tests are
// skipped when Redis is not available.
func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}

	client.FlushDB(context.Background())
	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})
	return client
}

func testParticipants() (Participant, Participant) {
	now := time.Now().Unix()
	a := Participant{UserID: "u-a", AnonID: "anon-a", JoinedAt: now}
	b := Participant{UserID: "u-b", AnonID: "anon-b", JoinedAt: now}
	return a, b
}

func TestStoreCreateAndGet(t *testing.T) {
	store := NewStore(newTestRedis(t))
	ctx := context.Background()
	a, b := testParticipants()

	sess, err := store.Create(ctx, "video", a, b, false)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := store.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("session not found after create")
	}
	if got.Status != StatusActive || got.Mode != "video" {
		t.Errorf("unexpected session: %+v", got)
	}
	if got.A.AnonID != "anon-a" || got.B.AnonID != "anon-b" {
		t.Errorf("participants lost: %+v", got)
	}
	if got.AIFallback || got.MediaConnected {
		t.Errorf("unexpected flags: %+v", got)
	}

	active, err := store.ActiveSessions(ctx)
	if err != nil || len(active) != 1 || active[0] != sess.ID {
		t.Errorf("active set wrong: %v (err=%v)", active, err)
	}
}

func TestStoreEndIsIdempotent(t *testing.T) {
	store := NewStore(newTestRedis(t))
	ctx := context.Background()
	a, b := testParticipants()

	sess, err := store.Create(ctx, "text", a, b, false)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	performed, err := store.End(ctx, sess.ID, ReasonLeft)
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if !performed {
		t.Fatal("first end should perform the transition")
	}

	// Concurrent triggers resolve to exactly one performer; every later call
	// observes the already-ended state.
	performed, err = store.End(ctx, sess.ID, ReasonDisconnected)
	if err != nil {
		t.Fatalf("second end: %v", err)
	}
	if performed {
		t.Error("second end must not perform the transition again")
	}

	got, _ := store.Get(ctx, sess.ID)
	if got == nil {
		t.Fatal("ended session should survive the grace period")
	}
	if got.Status != StatusEnded || got.EndReason != ReasonLeft {
		t.Errorf("first reason must win: %+v", got)
	}

	active, _ := store.ActiveSessions(ctx)
	if len(active) != 0 {
		t.Errorf("ended session still in active set: %v", active)
	}
}

func TestStoreEndAsRejectsNonParticipant(t *testing.T) {
	store := NewStore(newTestRedis(t))
	ctx := context.Background()
	a, b := testParticipants()

	sess, err := store.Create(ctx, "text", a, b, false)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	performed, err := store.EndAs(ctx, sess.ID, "anon-intruder", ReasonLeft)
	if err != ErrNotParticipant {
		t.Fatalf("expected ErrNotParticipant, got performed=%v err=%v", performed, err)
	}

	got, _ := store.Get(ctx, sess.ID)
	if got == nil || got.Status != StatusActive {
		t.Errorf("session must stay active after rejected end: %+v", got)
	}
	active, _ := store.ActiveSessions(ctx)
	if len(active) != 1 {
		t.Errorf("session dropped from active set: %v", active)
	}
}

func TestStoreEndAsParticipantEnds(t *testing.T) {
	store := NewStore(newTestRedis(t))
	ctx := context.Background()
	a, b := testParticipants()

	sess, err := store.Create(ctx, "text", a, b, false)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	performed, err := store.EndAs(ctx, sess.ID, b.AnonID, ReasonLeft)
	if err != nil {
		t.Fatalf("end as participant: %v", err)
	}
	if !performed {
		t.Fatal("participant end should perform the transition")
	}

	// Repeating the leave is idempotent, not an error.
	performed, err = store.EndAs(ctx, sess.ID, b.AnonID, ReasonLeft)
	if err != nil {
		t.Fatalf("repeated end: %v", err)
	}
	if performed {
		t.Error("repeated end must not perform the transition again")
	}
}

func TestStoreEndAsMissingSessionIsNoOp(t *testing.T) {
	store := NewStore(newTestRedis(t))

	performed, err := store.EndAs(context.Background(), "no-such-session", "anon-a", ReasonLeft)
	if err != nil {
		t.Fatalf("ending a missing session must not error: %v", err)
	}
	if performed {
		t.Error("ending a missing session must not report performed")
	}
}

func TestStoreActiveCount(t *testing.T) {
	store := NewStore(newTestRedis(t))
	ctx := context.Background()
	a, b := testParticipants()

	s1, err := store.Create(ctx, "text", a, b, false)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	c := Participant{UserID: "u-c", AnonID: "anon-c", JoinedAt: time.Now().Unix()}
	d := Participant{UserID: "u-d", AnonID: "anon-d", JoinedAt: time.Now().Unix()}
	if _, err := store.Create(ctx, "video", c, d, false); err != nil {
		t.Fatalf("create: %v", err)
	}

	if count, err := store.ActiveCount(ctx); err != nil || count != 2 {
		t.Fatalf("want 2 active, got %d (err=%v)", count, err)
	}

	if _, err := store.End(ctx, s1.ID, ReasonLeft); err != nil {
		t.Fatalf("end: %v", err)
	}
	if count, err := store.ActiveCount(ctx); err != nil || count != 1 {
		t.Fatalf("want 1 active after end, got %d (err=%v)", count, err)
	}
}

func TestStoreEndMissingSessionIsNoOp(t *testing.T) {
	store := NewStore(newTestRedis(t))

	performed, err := store.End(context.Background(), "no-such-session", ReasonLeft)
	if err != nil {
		t.Fatalf("ending a missing session must not error: %v", err)
	}
	if performed {
		t.Error("ending a missing session must not report performed")
	}
}

func TestStoreSetMediaConnected(t *testing.T) {
	store := NewStore(newTestRedis(t))
	ctx := context.Background()
	a, b := testParticipants()

	sess, err := store.Create(ctx, "video", a, b, false)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := store.SetMediaConnected(ctx, sess.ID); err != nil {
		t.Fatalf("set media connected: %v", err)
	}
	got, _ := store.Get(ctx, sess.ID)
	if !got.MediaConnected {
		t.Error("media_connected not recorded")
	}
}

func TestSessionParticipantHelpers(t *testing.T) {
	a, b := testParticipants()
	sess := &Session{ID: "s-1", A: a, B: b}

	if sess.Partner("anon-a") != "anon-b" || sess.Partner("anon-b") != "anon-a" {
		t.Error("partner lookup wrong")
	}
	if sess.Partner("anon-x") != "" {
		t.Error("non-participant should have no partner")
	}
	if !sess.IsParticipant("anon-a") || sess.IsParticipant("anon-x") {
		t.Error("participant check wrong")
	}
	if p := sess.ParticipantByAnon("anon-b"); p == nil || p.UserID != "u-b" {
		t.Error("participant lookup wrong")
	}
}

func TestIsAI(t *testing.T) {
	if !IsAI("ai:1234") {
		t.Error("ai: prefix not recognized")
	}
	if IsAI("anon-1234") {
		t.Error("human anon id flagged as AI")
	}
}
