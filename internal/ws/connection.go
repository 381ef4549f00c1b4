package ws

import (
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Connection represents a single WebSocket client connection with its
// associated metadata and a write mutex for serializing outbound frames.
//
// A connection starts anonymous. Once the client registers, the gateway binds
// it to a durable identity (generated for guests) and a session-scoped
// anonymous id used in matching and sessions.
type Connection struct {
	ID        string    // connection id (UUID)
	Conn      net.Conn  // underlying TCP connection
	Fd        int       // file descriptor for epoll lookups
	CreatedAt time.Time // when the connection was established
	LastPing  time.Time // last heartbeat received from the client

	mu          sync.RWMutex // protects the identity fields below
	identity    string       // durable user id, "" until registered
	anonID      string       // session-scoped anonymous id, "" until registered
	displayName string

	writeMu    sync.Mutex // serializes writes to this connection
	processing int32      // atomic flag: 0 = idle, 1 = being read by handleConn
}

// bind records the connection's identity. Called by the registry only.
func (c *Connection) bind(identity, anonID, displayName string) {
	c.mu.Lock()
	c.identity = identity
	c.anonID = anonID
	c.displayName = displayName
	c.mu.Unlock()
}

// Identity returns the bound durable user id, or "" if unregistered.
func (c *Connection) Identity() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identity
}

// AnonID returns the bound anonymous id, or "" if unregistered.
func (c *Connection) AnonID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.anonID
}

// DisplayName returns the client-chosen display name, or "" if unregistered.
func (c *Connection) DisplayName() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.displayName
}

// Registered reports whether the connection has been bound to an identity.
func (c *Connection) Registered() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.anonID != ""
}

// WriteMessage sends a WebSocket text frame to this connection. The write
// mutex ensures that concurrent goroutines do not interleave frame bytes.
func (c *Connection) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsutil.WriteServerMessage(c.Conn, ws.OpText, data)
}

// WritePing sends a WebSocket protocol-level ping frame (opcode 0x9) on the
// connection. The write mutex ensures this does not interleave with other
// outbound frames.
func (c *Connection) WritePing() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return ws.WriteFrame(c.Conn, ws.NewPingFrame(nil))
}

// Close closes the underlying network connection.
func (c *Connection) Close() error {
	return c.Conn.Close()
}
