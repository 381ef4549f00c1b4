// Package presence derives online/away/offline status per identity from
// connection registry activity and heartbeat timestamps, and notifies
// subscribers on transitions.
package presence

import (
	"sync"
	"time"
)

// Status is a derived presence state.
type Status string

const (
	StatusOnline  Status = "online"
	StatusAway    Status = "away"
	StatusOffline Status = "offline"
)

// DefaultFreshness is the heartbeat window within which a connected identity
// counts as online rather than away.
const DefaultFreshness = 60 * time.Second

// Subscriber receives presence transition events. It is only invoked when the
// computed status actually changes, never for repeats.
type Subscriber func(identity string, status Status)

// Tracker derives presence from connection counts and heartbeats. All state
// is in-process; the clock is injected so the away derivation is testable.
type Tracker struct {
	mu         sync.Mutex
	freshness  time.Duration
	now        func() time.Time
	conns      map[string]int // identity -> live connection count
	lastBeat   map[string]time.Time
	lastStatus map[string]Status
	subs       []Subscriber
}

// NewTracker creates a Tracker with the given freshness window. A nil clock
// defaults to time.Now.
func NewTracker(freshness time.Duration, now func() time.Time) *Tracker {
	if freshness <= 0 {
		freshness = DefaultFreshness
	}
	if now == nil {
		now = time.Now
	}
	return &Tracker{
		freshness:  freshness,
		now:        now,
		conns:      make(map[string]int),
		lastBeat:   make(map[string]time.Time),
		lastStatus: make(map[string]Status),
	}
}

// Subscribe registers a transition subscriber.
func (t *Tracker) Subscribe(fn Subscriber) {
	t.mu.Lock()
	t.subs = append(t.subs, fn)
	t.mu.Unlock()
}

// ConnectionOpened records a new live connection for the identity. The first
// connection also counts as a heartbeat.
func (t *Tracker) ConnectionOpened(identity string) {
	t.mu.Lock()
	t.conns[identity]++
	t.lastBeat[identity] = t.now()
	notify := t.transitionLocked(identity)
	t.mu.Unlock()
	notify()
}

// ConnectionClosed records a closed connection. When the last connection for
// an identity goes, the identity becomes offline and its state is dropped.
func (t *Tracker) ConnectionClosed(identity string) {
	t.mu.Lock()
	if n := t.conns[identity]; n > 1 {
		t.conns[identity] = n - 1
		t.mu.Unlock()
		return
	}
	delete(t.conns, identity)
	delete(t.lastBeat, identity)
	notify := t.transitionLocked(identity)
	delete(t.lastStatus, identity)
	t.mu.Unlock()
	notify()
}

// Heartbeat refreshes the identity's last-activity timestamp.
func (t *Tracker) Heartbeat(identity string) {
	t.mu.Lock()
	if _, ok := t.conns[identity]; !ok {
		t.mu.Unlock()
		return // no live connection, nothing to refresh
	}
	t.lastBeat[identity] = t.now()
	notify := t.transitionLocked(identity)
	t.mu.Unlock()
	notify()
}

// StatusOf returns the identity's derived presence status.
func (t *Tracker) StatusOf(identity string) Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.computeLocked(identity)
}

// Sweep re-evaluates all tracked identities. Online connections drift to away
// purely by time passing, so the owner should call this periodically (the
// gateway ties it to its heartbeat ticker).
func (t *Tracker) Sweep() {
	t.mu.Lock()
	notifiers := make([]func(), 0)
	for identity := range t.conns {
		notifiers = append(notifiers, t.transitionLocked(identity))
	}
	t.mu.Unlock()

	for _, notify := range notifiers {
		notify()
	}
}

// computeLocked derives the status for an identity. Caller holds t.mu.
func (t *Tracker) computeLocked(identity string) Status {
	if t.conns[identity] == 0 {
		return StatusOffline
	}
	if t.now().Sub(t.lastBeat[identity]) > t.freshness {
		return StatusAway
	}
	return StatusOnline
}

// transitionLocked records a status change and returns a closure that fires
// the subscribers. The closure must be invoked after t.mu is released so that
// subscriber I/O never runs under the lock. It is a no-op when the status did
// not change.
func (t *Tracker) transitionLocked(identity string) func() {
	status := t.computeLocked(identity)
	if t.lastStatus[identity] == status {
		return func() {}
	}
	t.lastStatus[identity] = status

	subs := make([]Subscriber, len(t.subs))
	copy(subs, t.subs)
	return func() {
		for _, fn := range subs {
			fn(identity, status)
		}
	}
}
