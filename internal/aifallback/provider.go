// Package aifallback defines the synthetic-partner capability used by the
// matcher when no human match arrives within the long-wait threshold. The
// provider is a black box behind an interface so the matching policy stays
// decoupled from any specific model, and tests can substitute deterministic
// responses.
package aifallback

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Partner describes a synthetic session participant. It behaves as a normal
// participant with no live connection; the matcher answers on its behalf.
type Partner struct {
	AnonID      string
	DisplayName string
}

// Provider supplies synthetic partners and their conversational replies.
type Provider interface {
	// AcquirePartner returns a synthetic partner for a session in the given
	// mode, or an error if none is available (the caller leaves the user
	// queued rather than failing the search).
	AcquirePartner(ctx context.Context, mode string) (Partner, error)

	// Reply produces the partner's response to a message within a session.
	Reply(ctx context.Context, sessionID, content string) (string, error)
}

// Canned is a deterministic Provider with a fixed reply rotation. It serves
// as the default wiring and as the test double; a model-backed provider
// implements the same interface.
type Canned struct {
	mu      sync.Mutex
	replies []string
	next    map[string]int // sessionID -> next reply index
}

var defaultReplies = []string{
	"Hey! How is your day going?",
	"That's interesting, tell me more.",
	"I was just thinking about that too.",
	"What do you usually do for fun?",
	"Nice! I'd love to hear the whole story.",
}

// NewCanned creates a canned provider. With no replies given it uses the
// default rotation.
func NewCanned(replies ...string) *Canned {
	if len(replies) == 0 {
		replies = defaultReplies
	}
	return &Canned{
		replies: replies,
		next:    make(map[string]int),
	}
}

// AcquirePartner returns a fresh synthetic partner. The anonymous id carries
// the "ai:" prefix so session logic can tell it has no live connection.
func (c *Canned) AcquirePartner(ctx context.Context, mode string) (Partner, error) {
	return Partner{AnonID: "ai:" + uuid.New().String(), DisplayName: "Alex"}, nil
}

// Reply returns the next canned reply for the session.
func (c *Canned) Reply(ctx context.Context, sessionID, content string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.replies) == 0 {
		return "", fmt.Errorf("aifallback: no replies configured")
	}
	i := c.next[sessionID]
	c.next[sessionID] = (i + 1) % len(c.replies)
	return c.replies[i], nil
}
