// Package messaging provides a NATS client wrapper for pub/sub messaging
// across FriendFinder services. It handles connection lifecycle, subject-based
// subscriptions, and convenience methods for the matchmaking, session and
// verification channels.
package messaging

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS subject patterns used across FriendFinder services.
const (
	SubjectQueueSearch  = "queue.search"
	SubjectQueueLeave   = "queue.leave"
	SubjectQueueResult  = "queue.result"   // + .<anon_id>
	SubjectSessionEvent = "session.event"  // + .<session_id>
	SubjectVerifyCheck  = "verify.check"
)

// NATSClient wraps the NATS connection with helper methods for pub/sub.
type NATSClient struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           "nats://localhost:4222",
		Name:          "friendfinder",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// NewNATSClient connects to NATS with the given config and returns a ready client.
// It returns an error if the initial connection fails.
func NewNATSClient(config NATSConfig) (*NATSClient, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Printf("[nats] connected to %s", nc.ConnectedUrl())

	return &NATSClient{
		conn: nc,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// Publish sends data to the given NATS subject.
func (c *NATSClient) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// Subscribe registers a handler for the given subject and stores the
// subscription internally for later cleanup.
func (c *NATSClient) Subscribe(subject string, handler func(msg *nats.Msg)) error {
	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs[subject] = sub
	c.mu.Unlock()

	return nil
}

// PublishQueueSearch publishes a search request to the matcher.
func (c *NATSClient) PublishQueueSearch(data []byte) error {
	return c.Publish(SubjectQueueSearch, data)
}

// PublishQueueLeave publishes a queue-leave request to the matcher.
func (c *NATSClient) PublishQueueLeave(data []byte) error {
	return c.Publish(SubjectQueueLeave, data)
}

// SubscribeQueueSearch subscribes to search requests from gateway servers.
func (c *NATSClient) SubscribeQueueSearch(handler func(data []byte)) error {
	return c.Subscribe(SubjectQueueSearch, func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

// SubscribeQueueLeave subscribes to queue-leave requests from gateway servers.
func (c *NATSClient) SubscribeQueueLeave(handler func(data []byte)) error {
	return c.Subscribe(SubjectQueueLeave, func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

// PublishQueueResult publishes a matching outcome (position update or match)
// to a specific waiting participant.
func (c *NATSClient) PublishQueueResult(anonID string, data []byte) error {
	return c.Publish(SubjectQueueResult+"."+anonID, data)
}

// SubscribeQueueResult subscribes to matching outcomes for a participant.
func (c *NATSClient) SubscribeQueueResult(anonID string, handler func(data []byte)) error {
	subject := SubjectQueueResult + "." + anonID
	return c.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

// UnsubscribeQueueResult unsubscribes from matching outcomes for a participant.
func (c *NATSClient) UnsubscribeQueueResult(anonID string) error {
	return c.unsubscribe(SubjectQueueResult + "." + anonID)
}

// SubscribeSessionEvents subscribes a participant to the session.event
// subject for a session. The subscription is keyed by subscriberID so that
// two participants hosted on the same gateway do not overwrite each other.
func (c *NATSClient) SubscribeSessionEvents(sessionID, subscriberID string, handler func(data []byte)) error {
	subject := SubjectSessionEvent + "." + sessionID
	key := "sessionsub:" + subscriberID
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs[key] = sub
	c.mu.Unlock()
	return nil
}

// UnsubscribeSessionEvents removes a participant's session event subscription.
func (c *NATSClient) UnsubscribeSessionEvents(subscriberID string) error {
	return c.unsubscribe("sessionsub:" + subscriberID)
}

// PublishSessionEvent publishes data to the session.event.<sessionID> subject.
func (c *NATSClient) PublishSessionEvent(sessionID string, data []byte) error {
	return c.Publish(SubjectSessionEvent+"."+sessionID, data)
}

// PublishVerifyCheck publishes a verification challenge submission.
func (c *NATSClient) PublishVerifyCheck(data []byte) error {
	return c.Publish(SubjectVerifyCheck, data)
}

// SubscribeVerifyCheck subscribes to verification challenge submissions.
func (c *NATSClient) SubscribeVerifyCheck(handler func(data []byte)) error {
	return c.Subscribe(SubjectVerifyCheck, func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *NATSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			log.Printf("[nats] drain %s: %v", subject, err)
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		log.Printf("[nats] connection drain: %v", err)
	}

	log.Printf("[nats] client closed")
}

// unsubscribe removes and unsubscribes from a specific subject.
func (c *NATSClient) unsubscribe(subject string) error {
	c.mu.Lock()
	sub, ok := c.subs[subject]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("nats: no subscription for subject %s", subject)
	}
	delete(c.subs, subject)
	c.mu.Unlock()

	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("nats unsubscribe %s: %w", subject, err)
	}
	return nil
}
