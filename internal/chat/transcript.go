// Package chat holds the per-session transcript ring buffer and chat message
// content validation. Transcripts exist for moderation only: they are
// bounded, ephemeral, and never persisted except as a snapshot attached to an
// abuse report.
package chat

import "sync"

// MaxTranscriptMessages is the number of recent messages retained per session.
const MaxTranscriptMessages = 100

// Message is a single transcript entry.
type Message struct {
	ID       string `json:"id"`
	SenderID string `json:"senderId"`
	Content  string `json:"content"`
	SentAt   int64  `json:"sentAt"` // unix seconds
}

// TranscriptBuffer stores the last N messages per session in memory. It is
// goroutine-safe and uses a fixed-size ring buffer per session.
type TranscriptBuffer struct {
	mu      sync.RWMutex
	buffers map[string]*ringBuffer // sessionID -> ring buffer
}

// ringBuffer is a fixed-size circular buffer of Message.
type ringBuffer struct {
	items []Message
	pos   int
	count int
}

// NewTranscriptBuffer creates a new empty TranscriptBuffer.
func NewTranscriptBuffer() *TranscriptBuffer {
	return &TranscriptBuffer{
		buffers: make(map[string]*ringBuffer),
	}
}

// Add appends a message to the session's ring buffer. When the buffer is
// full the oldest message is overwritten.
func (tb *TranscriptBuffer) Add(sessionID string, msg Message) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	rb, ok := tb.buffers[sessionID]
	if !ok {
		rb = &ringBuffer{
			items: make([]Message, MaxTranscriptMessages),
		}
		tb.buffers[sessionID] = rb
	}

	rb.items[rb.pos] = msg
	rb.pos = (rb.pos + 1) % MaxTranscriptMessages
	if rb.count < MaxTranscriptMessages {
		rb.count++
	}
}

// Get returns the session's retained messages in chronological order (oldest
// first). Returns an empty slice for an unknown session.
func (tb *TranscriptBuffer) Get(sessionID string) []Message {
	tb.mu.RLock()
	defer tb.mu.RUnlock()

	rb, ok := tb.buffers[sessionID]
	if !ok {
		return []Message{}
	}

	result := make([]Message, rb.count)
	// The oldest message is at position (pos - count) mod MaxTranscriptMessages.
	start := (rb.pos - rb.count + MaxTranscriptMessages) % MaxTranscriptMessages
	for i := 0; i < rb.count; i++ {
		result[i] = rb.items[(start+i)%MaxTranscriptMessages]
	}
	return result
}

// Remove deletes the buffer for a session. Called once the post-session
// retention window has elapsed.
func (tb *TranscriptBuffer) Remove(sessionID string) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	delete(tb.buffers, sessionID)
}

// Len returns the number of sessions currently holding a transcript.
func (tb *TranscriptBuffer) Len() int {
	tb.mu.RLock()
	n := len(tb.buffers)
	tb.mu.RUnlock()
	return n
}
