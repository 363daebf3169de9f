package ws

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var (
	// ErrSessionClosed is returned when delivering to a closed session.
	ErrSessionClosed = errors.New("session closed")
	// ErrSendQueueFull is returned when a session's outbound queue is saturated.
	ErrSendQueueFull = errors.New("session send queue full")
)

// Session is one authenticated WebSocket connection. Outbound payloads go through
// a FIFO queue drained by a single writer, so a session sees payloads in the
// order they were delivered to it.
type Session struct {
	conn *websocket.Conn
	info ConnInfo
	log  zerolog.Logger

	mu     sync.Mutex
	send   chan []byte
	closed bool
	done   chan struct{}
}

// NewSession wraps an upgraded connection. queueSize bounds the outbound queue.
func NewSession(conn *websocket.Conn, info ConnInfo, queueSize int, log zerolog.Logger) *Session {
	if queueSize <= 0 {
		queueSize = 256
	}
	if info.ConnID == "" {
		info.ConnID = newConnID()
	}
	return &Session{
		conn: conn,
		info: info,
		log:  log.With().Str("conn_id", info.ConnID).Str("user", info.User).Logger(),
		send: make(chan []byte, queueSize),
		done: make(chan struct{}),
	}
}

// ID returns the connection id.
func (s *Session) ID() string { return s.info.ConnID }

// User returns the authenticated identity bound to the session.
func (s *Session) User() string { return s.info.User }

// Info returns the connection metadata.
func (s *Session) Info() ConnInfo { return s.info }

// Done is closed once the write pump has stopped.
func (s *Session) Done() <-chan struct{} { return s.done }

// Deliver queues payload without blocking.
func (s *Session) Deliver(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	select {
	case s.send <- payload:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Close stops accepting payloads. The write pump flushes what is queued, sends
// a close frame and closes the connection. Close is idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	close(s.send)
	return nil
}

// ReadLoop reads frames until the connection fails, passing each to handle.
// It returns the error that ended the loop.
func (s *Session) ReadLoop(maxMessageBytes int64, handle func(raw []byte)) error {
	if maxMessageBytes > 0 {
		s.conn.SetReadLimit(maxMessageBytes)
	}
	if err := s.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return err
	}
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			return err
		}
		handle(raw)
	}
}

// WritePump drains the send queue and keeps the connection alive with pings.
// It must run in its own goroutine, exactly once per session.
func (s *Session) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.markClosed()
		if err := s.conn.Close(); err != nil && !isExpectedCloseError(err) {
			s.log.Debug().Err(err).Msg("close connection")
		}
		close(s.done)
	}()

	for {
		select {
		case payload, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				if !isExpectedCloseError(err) {
					s.log.Warn().Err(err).Msg("write failed")
				}
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// markClosed makes further deliveries fail once the writer is gone.
func (s *Session) markClosed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.send)
	}
}
