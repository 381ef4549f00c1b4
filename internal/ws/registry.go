package ws

import (
	"net"
	"sync"
)

// ConnectionRegistry is a thread-safe registry that maps connection ids, file
// descriptors, anonymous ids and durable identities to their Connection
// objects. It supports O(1) lookups by every key the gateway routes on.
type ConnectionRegistry struct {
	mu         sync.RWMutex
	byID       map[string]*Connection            // connection id -> Connection
	byFd       map[int]*Connection               // fd -> Connection
	byAnon     map[string]*Connection            // anonymous id -> Connection
	byIdentity map[string]map[string]*Connection // identity -> connection id -> Connection
}

// NewConnectionRegistry creates an empty ConnectionRegistry ready for use.
func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{
		byID:       make(map[string]*Connection),
		byFd:       make(map[int]*Connection),
		byAnon:     make(map[string]*Connection),
		byIdentity: make(map[string]map[string]*Connection),
	}
}

// Add registers a new unbound connection in the id and fd lookup maps.
func (r *ConnectionRegistry) Add(conn *Connection) {
	r.mu.Lock()
	r.byID[conn.ID] = conn
	r.byFd[conn.Fd] = conn
	r.mu.Unlock()
}

// Bind associates the connection with a durable identity and an anonymous id.
// A registered identity may hold several connections (multiple tabs); an
// anonymous id always maps to exactly one connection. Rebinding replaces any
// previous binding of the same connection.
func (r *ConnectionRegistry) Bind(conn *Connection, identity, anonID, displayName string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev := conn.AnonID(); prev != "" {
		delete(r.byAnon, prev)
	}
	if prev := conn.Identity(); prev != "" {
		r.unbindIdentityLocked(prev, conn.ID)
	}

	conn.bind(identity, anonID, displayName)
	r.byAnon[anonID] = conn

	set, ok := r.byIdentity[identity]
	if !ok {
		set = make(map[string]*Connection)
		r.byIdentity[identity] = set
	}
	set[conn.ID] = conn
}

// Remove removes a connection by connection id, closes the underlying network
// connection, and clears it from every lookup map. Returns true if the
// connection was found and removed, false if it was already gone.
func (r *ConnectionRegistry) Remove(id string) bool {
	r.mu.Lock()
	conn, ok := r.byID[id]
	if ok {
		delete(r.byID, id)
		delete(r.byFd, conn.Fd)
		if anonID := conn.AnonID(); anonID != "" {
			delete(r.byAnon, anonID)
		}
		if identity := conn.Identity(); identity != "" {
			r.unbindIdentityLocked(identity, id)
		}
	}
	r.mu.Unlock()

	if ok {
		conn.Close()
	}
	return ok
}

// unbindIdentityLocked drops one connection from an identity's set. Caller
// holds r.mu.
func (r *ConnectionRegistry) unbindIdentityLocked(identity, connID string) {
	set, ok := r.byIdentity[identity]
	if !ok {
		return
	}
	delete(set, connID)
	if len(set) == 0 {
		delete(r.byIdentity, identity)
	}
}

// Get returns the connection for the given connection id, or nil.
func (r *ConnectionRegistry) Get(id string) *Connection {
	r.mu.RLock()
	conn := r.byID[id]
	r.mu.RUnlock()
	return conn
}

// GetByFd returns the connection for the given file descriptor, or nil.
func (r *ConnectionRegistry) GetByFd(fd int) *Connection {
	r.mu.RLock()
	conn := r.byFd[fd]
	r.mu.RUnlock()
	return conn
}

// GetByConn returns the connection for the given net.Conn by extracting
// its file descriptor. Returns nil if not found.
func (r *ConnectionRegistry) GetByConn(c net.Conn) *Connection {
	fd := socketFD(c)
	return r.GetByFd(fd)
}

// GetByAnon returns the connection bound to the given anonymous id, or nil.
func (r *ConnectionRegistry) GetByAnon(anonID string) *Connection {
	r.mu.RLock()
	conn := r.byAnon[anonID]
	r.mu.RUnlock()
	return conn
}

// ConnectionsFor returns a snapshot of all connections bound to an identity.
func (r *ConnectionRegistry) ConnectionsFor(identity string) []*Connection {
	r.mu.RLock()
	set := r.byIdentity[identity]
	conns := make([]*Connection, 0, len(set))
	for _, conn := range set {
		conns = append(conns, conn)
	}
	r.mu.RUnlock()
	return conns
}

// IsOnline reports whether the identity has at least one live connection on
// this gateway.
func (r *ConnectionRegistry) IsOnline(identity string) bool {
	r.mu.RLock()
	_, ok := r.byIdentity[identity]
	r.mu.RUnlock()
	return ok
}

// Count returns the current number of active connections.
func (r *ConnectionRegistry) Count() int {
	r.mu.RLock()
	n := len(r.byID)
	r.mu.RUnlock()
	return n
}

// All returns a snapshot of all current connections. The returned slice is
// safe to iterate without holding the lock.
func (r *ConnectionRegistry) All() []*Connection {
	r.mu.RLock()
	conns := make([]*Connection, 0, len(r.byID))
	for _, conn := range r.byID {
		conns = append(conns, conn)
	}
	r.mu.RUnlock()
	return conns
}
