package hub

import (
	"sync"

	"github.com/prosemark/server/internal/proto"
)

// Session is one live client transport (§3), generalized from the
// teacher's agent/main.go `Client` (a `*websocket.Conn` plus a
// buffered `send` channel) to carry the client/document identity the
// hub's frame dispatch needs, and to make the outbound queue's
// backpressure disconnect (§4.5, close code 1013) an explicit,
// testable operation instead of an inline `select`/`default` at the
// call site.
type Session struct {
	ClientID      string
	Slug          string
	Authenticated bool

	send      chan proto.ServerFrame
	closeOnce sync.Once
	closed    chan struct{}
}

// NewSession creates a session with a bounded outbound queue of size
// queueSize (default 256, §4.5).
func NewSession(slug string, queueSize int) *Session {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Session{
		Slug:   slug,
		send:   make(chan proto.ServerFrame, queueSize),
		closed: make(chan struct{}),
	}
}

// Enqueue attempts to hand frame to the session's outbound queue.
// Returns false and closes the session if the queue is full — the
// backpressure disconnect §4.5 requires ("try again later", code
// 1013), never blocking the caller (the document's serialization
// point).
func (s *Session) Enqueue(frame proto.ServerFrame) bool {
	select {
	case s.send <- frame:
		return true
	default:
		s.Close()
		return false
	}
}

// Outbound is the channel a session's write pump drains.
func (s *Session) Outbound() <-chan proto.ServerFrame { return s.send }

// Done reports when the session has been closed, either by
// backpressure or by the transport disconnecting.
func (s *Session) Done() <-chan struct{} { return s.closed }

func (s *Session) Close() {
	s.closeOnce.Do(func() { close(s.closed) })
}
