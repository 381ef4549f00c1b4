package verify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/SayantanSahaJgm/FriendFinder-sub003/internal/session"
)

// fakeBus collects published session events in memory.
type fakeBus struct {
	events []session.Event
}

func (b *fakeBus) SubscribeVerifyCheck(handler func(data []byte)) error { return nil }

func (b *fakeBus) PublishSessionEvent(sessionID string, data []byte) error {
	var ev session.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return err
	}
	b.events = append(b.events, ev)
	return nil
}

func (b *fakeBus) byType(typ string) []session.Event {
	var out []session.Event
	for _, ev := range b.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

// fakeRecorder counts persisted outcomes.
type fakeRecorder struct {
	outcomes []bool
}

func (r *fakeRecorder) RecordVerification(_ context.Context, _, _ string, verified bool, _ float64) error {
	r.outcomes = append(r.outcomes, verified)
	return nil
}

func newTestGate(t *testing.T, classifier FaceClassifier) (*Gate, *session.Store, *fakeBus, *fakeRecorder) {
	t.Helper()

	rdb := newTestRedis(t)
	signer, err := NewAttestationSigner([]byte("test-secret"), DefaultAttestationTTL, time.Now)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}

	sessions := session.NewStore(rdb)
	bus := &fakeBus{}
	recorder := &fakeRecorder{}
	gate := NewGate(DefaultConfig(), classifier, signer,
		NewStatusStore(rdb), sessions, bus, recorder)
	return gate, sessions, bus, recorder
}

func activeVideoSession(t *testing.T, sessions *session.Store) *session.Session {
	t.Helper()

	now := time.Now().Unix()
	sess, err := sessions.Create(context.Background(), "video",
		session.Participant{UserID: "u-a", AnonID: "anon-a", JoinedAt: now},
		session.Participant{UserID: "u-b", AnonID: "anon-b", JoinedAt: now},
		false)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return sess
}

func TestGateVerifiedRoundBroadcastsAttestation(t *testing.T) {
	conf := 0.9
	gate, sessions, bus, recorder := newTestGate(t,
		&StaticClassifier{Judgment: Judgment{FaceDetected: true, Confidence: &conf}})
	sess := activeVideoSession(t, sessions)
	ctx := context.Background()

	err := gate.HandleCheck(ctx, &Check{SessionID: sess.ID, AnonID: "anon-a", ImageSample: "aW1n"})
	if err != nil {
		t.Fatalf("handle check: %v", err)
	}

	verified := bus.byType(session.EventVerified)
	if len(verified) != 1 {
		t.Fatalf("expected 1 verified event, got %d", len(verified))
	}
	ev := verified[0]
	if !ev.Verified || ev.From != "anon-a" || ev.Confidence != conf {
		t.Errorf("unexpected event: %+v", ev)
	}
	if ev.Attestation == "" {
		t.Error("verified event carries no attestation")
	}
	if len(recorder.outcomes) != 1 || !recorder.outcomes[0] {
		t.Errorf("outcome not persisted: %v", recorder.outcomes)
	}
}

func TestGateFinalFailureStillBroadcastsThenEnds(t *testing.T) {
	gate, sessions, bus, recorder := newTestGate(t, &StaticClassifier{})
	sess := activeVideoSession(t, sessions)
	ctx := context.Background()

	check := &Check{SessionID: sess.ID, AnonID: "anon-a", ImageSample: "aW1n"}
	for i := 0; i < DefaultMaxWarnings; i++ {
		if err := gate.HandleCheck(ctx, check); err != nil {
			t.Fatalf("check %d: %v", i+1, err)
		}
	}

	// Every round, the last included, produces a signed broadcast outcome and
	// a persisted record. The partner must see the final failure before the
	// session ends.
	verified := bus.byType(session.EventVerified)
	if len(verified) != DefaultMaxWarnings {
		t.Fatalf("expected %d verified events, got %d", DefaultMaxWarnings, len(verified))
	}
	for i, ev := range verified {
		if ev.Verified {
			t.Errorf("round %d should not verify: %+v", i+1, ev)
		}
		if ev.Attestation == "" {
			t.Errorf("round %d carries no attestation", i+1)
		}
	}
	if len(recorder.outcomes) != DefaultMaxWarnings {
		t.Errorf("expected %d persisted outcomes, got %d", DefaultMaxWarnings, len(recorder.outcomes))
	}

	ended := bus.byType(session.EventEnded)
	if len(ended) != 1 {
		t.Fatalf("expected 1 ended event, got %d", len(ended))
	}
	if ended[0].Reason != session.ReasonVerificationFailed {
		t.Errorf("unexpected end reason: %q", ended[0].Reason)
	}

	// Ordering: the final verified broadcast precedes the ended event.
	last := bus.events[len(bus.events)-1]
	if last.Type != session.EventEnded {
		t.Errorf("ended event must come last, got %s", last.Type)
	}

	got, _ := sessions.Get(ctx, sess.ID)
	if got == nil || got.Status != session.StatusEnded {
		t.Errorf("session not ended after warning budget: %+v", got)
	}
}

func TestGateFailuresBelowBudgetKeepSessionAlive(t *testing.T) {
	gate, sessions, bus, _ := newTestGate(t, &StaticClassifier{})
	sess := activeVideoSession(t, sessions)
	ctx := context.Background()

	check := &Check{SessionID: sess.ID, AnonID: "anon-a", ImageSample: "aW1n"}
	for i := 0; i < DefaultMaxWarnings-1; i++ {
		if err := gate.HandleCheck(ctx, check); err != nil {
			t.Fatalf("check %d: %v", i+1, err)
		}
	}

	if ended := bus.byType(session.EventEnded); len(ended) != 0 {
		t.Errorf("session ended before warning budget exhausted: %v", ended)
	}
	got, _ := sessions.Get(ctx, sess.ID)
	if got == nil || got.Status != session.StatusActive {
		t.Errorf("session should still be active: %+v", got)
	}
}

func TestGateIgnoresStaleSubmission(t *testing.T) {
	gate, sessions, bus, recorder := newTestGate(t, &StaticClassifier{})
	sess := activeVideoSession(t, sessions)
	ctx := context.Background()

	if _, err := sessions.End(ctx, sess.ID, session.ReasonLeft); err != nil {
		t.Fatalf("end: %v", err)
	}

	err := gate.HandleCheck(ctx, &Check{SessionID: sess.ID, AnonID: "anon-a", ImageSample: "aW1n"})
	if err != nil {
		t.Fatalf("stale check must be a no-op: %v", err)
	}
	if len(bus.events) != 0 || len(recorder.outcomes) != 0 {
		t.Errorf("stale submission produced output: events=%v outcomes=%v", bus.events, recorder.outcomes)
	}
}

func TestGateRejectsNonParticipant(t *testing.T) {
	gate, sessions, bus, _ := newTestGate(t, &StaticClassifier{})
	sess := activeVideoSession(t, sessions)

	err := gate.HandleCheck(context.Background(),
		&Check{SessionID: sess.ID, AnonID: "anon-intruder", ImageSample: "aW1n"})
	if err == nil {
		t.Fatal("non-participant check must error")
	}
	if len(bus.events) != 0 {
		t.Errorf("non-participant check produced events: %v", bus.events)
	}
}
