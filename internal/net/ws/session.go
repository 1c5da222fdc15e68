package ws

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// session owns one subscriber connection. All conn writes happen on the
// writeLoop goroutine; everyone else hands data to enqueue, which never
// blocks. A session that cannot keep up loses broadcasts instead of
// stalling the dispatcher.
type session struct {
	id   uint64
	conn *websocket.Conn

	send chan []byte
	done chan struct{}

	closeOnce sync.Once
	dropped   atomic.Uint64
}

func newSession(id uint64, conn *websocket.Conn, buffer int) *session {
	if buffer <= 0 {
		buffer = 64
	}
	return &session{
		id:   id,
		conn: conn,
		send: make(chan []byte, buffer),
		done: make(chan struct{}),
	}
}

// enqueue hands data to the write loop. It reports false when the session
// is closed or its buffer is full; full-buffer failures bump the drop
// counter.
func (s *session) enqueue(data []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- data:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

// droppedCount returns how many messages this session has lost so far.
func (s *session) droppedCount() uint64 {
	return s.dropped.Load()
}

// writeLoop drains the send buffer until the session closes or a write
// fails. It is the sole writer on conn.
func (s *session) writeLoop(timeout time.Duration) {
	for {
		select {
		case data := <-s.send:
			if timeout > 0 {
				s.conn.SetWriteDeadline(time.Now().Add(timeout))
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.close()
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}
