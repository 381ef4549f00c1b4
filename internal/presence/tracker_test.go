package presence

import (
	"sync"
	"testing"
	"time"
)

// fakeClock is a manually advanced clock for driving the away derivation.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestTracker() (*Tracker, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	return NewTracker(60*time.Second, clock.Now), clock
}

func TestTrackerLifecycle(t *testing.T) {
	tr, clock := newTestTracker()

	if got := tr.StatusOf("u1"); got != StatusOffline {
		t.Errorf("unknown identity should be offline, got %s", got)
	}

	tr.ConnectionOpened("u1")
	if got := tr.StatusOf("u1"); got != StatusOnline {
		t.Errorf("expected online after connect, got %s", got)
	}

	clock.Advance(61 * time.Second)
	if got := tr.StatusOf("u1"); got != StatusAway {
		t.Errorf("expected away after freshness window, got %s", got)
	}

	tr.Heartbeat("u1")
	if got := tr.StatusOf("u1"); got != StatusOnline {
		t.Errorf("expected online after heartbeat, got %s", got)
	}

	tr.ConnectionClosed("u1")
	if got := tr.StatusOf("u1"); got != StatusOffline {
		t.Errorf("expected offline after disconnect, got %s", got)
	}
}

func TestTrackerMultipleConnections(t *testing.T) {
	tr, _ := newTestTracker()

	tr.ConnectionOpened("u1")
	tr.ConnectionOpened("u1")
	tr.ConnectionClosed("u1")

	// One connection remains.
	if got := tr.StatusOf("u1"); got != StatusOnline {
		t.Errorf("expected online with a remaining connection, got %s", got)
	}

	tr.ConnectionClosed("u1")
	if got := tr.StatusOf("u1"); got != StatusOffline {
		t.Errorf("expected offline after last disconnect, got %s", got)
	}
}

func TestTrackerNotifiesTransitionsOnly(t *testing.T) {
	tr, clock := newTestTracker()

	var mu sync.Mutex
	var events []Status
	tr.Subscribe(func(identity string, status Status) {
		mu.Lock()
		events = append(events, status)
		mu.Unlock()
	})

	tr.ConnectionOpened("u1") // offline -> online
	tr.Heartbeat("u1")        // still online, no event
	tr.Heartbeat("u1")        // still online, no event

	clock.Advance(61 * time.Second)
	tr.Sweep()                // online -> away
	tr.Sweep()                // still away, no event
	tr.Heartbeat("u1")        // away -> online
	tr.ConnectionClosed("u1") // online -> offline

	mu.Lock()
	defer mu.Unlock()
	want := []Status{StatusOnline, StatusAway, StatusOnline, StatusOffline}
	if len(events) != len(want) {
		t.Fatalf("expected %d transitions, got %d: %v", len(want), len(events), events)
	}
	for i, status := range want {
		if events[i] != status {
			t.Errorf("transition %d: expected %s, got %s", i, status, events[i])
		}
	}
}

func TestTrackerHeartbeatWithoutConnection(t *testing.T) {
	tr, _ := newTestTracker()

	// A heartbeat for an identity with no live connection must not resurrect it.
	tr.Heartbeat("ghost")
	if got := tr.StatusOf("ghost"); got != StatusOffline {
		t.Errorf("expected offline, got %s", got)
	}
}
