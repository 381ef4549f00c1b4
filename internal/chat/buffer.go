package chat

import "sync"

// MaxBufferMessages is the number of recent messages retained per session
// for the snapshot attached to abuse reports.
const MaxBufferMessages = 5

// BufferedMessage is a single message in the snapshot ring buffer.
type BufferedMessage struct {
	From    string `json:"from"` // sender's anonymous id
	Content string `json:"content"`
	Ts      int64  `json:"ts"`
}

// SnapshotBuffer stores the last N messages per session in memory.
// It is goroutine-safe and uses a ring buffer internally.
type SnapshotBuffer struct {
	mu      sync.RWMutex
	buffers map[string]*ringBuffer // sessionID -> ring buffer
}

// ringBuffer is a fixed-size circular buffer of BufferedMessage.
type ringBuffer struct {
	items []BufferedMessage
	pos   int
	count int
}

// NewSnapshotBuffer creates a new empty SnapshotBuffer.
func NewSnapshotBuffer() *SnapshotBuffer {
	return &SnapshotBuffer{
		buffers: make(map[string]*ringBuffer),
	}
}

// Add appends a message to the session's ring buffer. If the buffer is full,
// the oldest message is overwritten.
func (sb *SnapshotBuffer) Add(sessionID string, msg BufferedMessage) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	rb, ok := sb.buffers[sessionID]
	if !ok {
		rb = &ringBuffer{
			items: make([]BufferedMessage, MaxBufferMessages),
		}
		sb.buffers[sessionID] = rb
	}

	rb.items[rb.pos] = msg
	rb.pos = (rb.pos + 1) % MaxBufferMessages
	if rb.count < MaxBufferMessages {
		rb.count++
	}
}

// Get returns the last N messages for a session in chronological order
// (oldest first). Returns an empty slice if the session has no buffer.
func (sb *SnapshotBuffer) Get(sessionID string) []BufferedMessage {
	sb.mu.RLock()
	defer sb.mu.RUnlock()

	rb, ok := sb.buffers[sessionID]
	if !ok {
		return []BufferedMessage{}
	}

	result := make([]BufferedMessage, rb.count)
	// The oldest message is at position (pos - count) mod MaxBufferMessages.
	start := (rb.pos - rb.count + MaxBufferMessages) % MaxBufferMessages
	for i := 0; i < rb.count; i++ {
		result[i] = rb.items[(start+i)%MaxBufferMessages]
	}
	return result
}

// Remove deletes the buffer for a session (called when the session ends).
func (sb *SnapshotBuffer) Remove(sessionID string) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	delete(sb.buffers, sessionID)
}
