package connection

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/marpi82/bragerconnect/internal/wrkfnc"
)

const (
	writeWait    = 5 * time.Second
	closeWait    = 500 * time.Millisecond
	maxFrameSize = 16 << 20
)

// session is one physical socket. A reconnect creates a new session; the
// Connection outlives them.
type session struct {
	conn *websocket.Conn
	wmu  sync.Mutex // serializes writes

	ready   atomic.Bool
	closing atomic.Bool // set before an intentional close

	once     sync.Once
	stopPing chan struct{}
	done     chan struct{} // closed when the receive loop exits
}

func newSession(conn *websocket.Conn) *session {
	return &session{
		conn:     conn,
		stopPing: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (s *session) write(frame []byte) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, frame)
}

func (c *Connection) dial(ctx context.Context) (*websocket.Conn, error) {
	dctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	conn, _, err := c.dialer.DialContext(dctx, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrConnectionFailed, c.url, err)
	}
	conn.SetReadLimit(maxFrameSize)
	c.stats.touch()
	return conn, nil
}

// handshake waits for READY_SIGNAL and echoes it back byte for byte.
func (c *Connection) handshake(s *session) error {
	c.log.Debug("waiting for READY_SIGNAL")
	_ = s.conn.SetReadDeadline(time.Now().Add(c.timeout))

	_, data, err := s.conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("%w: waiting for READY_SIGNAL: %v", ErrProtocol, err)
	}
	c.stats.onReceive(len(data))

	msg, err := wrkfnc.Decode(data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	if _, ok := msg.(*wrkfnc.Ready); !ok {
		return fmt.Errorf("%w: expected READY_SIGNAL, got %s", ErrProtocol, msg.Kind())
	}

	if err := s.write(data); err != nil {
		return fmt.Errorf("%w: echoing READY_SIGNAL: %v", ErrConnectionFailed, err)
	}
	c.stats.onSend(len(data))

	_ = s.conn.SetReadDeadline(time.Time{})
	c.log.Debug("handshake complete")
	return nil
}

// armKeepAlive installs the pong handler and the first read deadline. It
// must run before the receive loop starts.
func (c *Connection) armKeepAlive(s *session) {
	if c.pingInterval <= 0 {
		return
	}
	s.conn.SetPongHandler(func(string) error {
		c.stats.touch()
		return s.conn.SetReadDeadline(time.Now().Add(3 * c.pingInterval))
	})
	_ = s.conn.SetReadDeadline(time.Now().Add(3 * c.pingInterval))
}

func (c *Connection) extendDeadline(s *session) {
	if c.pingInterval > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(3 * c.pingInterval))
	}
}

func (c *Connection) startPing(s *session) {
	if c.pingInterval <= 0 {
		return
	}
	go func() {
		t := time.NewTicker(c.pingInterval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				s.wmu.Lock()
				err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
				s.wmu.Unlock()
				if err != nil {
					c.log.Debug("ping failed", "error", err)
					return
				}
			case <-s.stopPing:
				return
			}
		}
	}()
}

// teardown closes s exactly once and detaches it from the Connection.
func (c *Connection) teardown(s *session, cause error) {
	s.once.Do(func() {
		close(s.stopPing)

		s.wmu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "closing"),
			time.Now().Add(closeWait))
		s.wmu.Unlock()
		_ = s.conn.Close()

		c.mu.Lock()
		if c.sess == s {
			c.sess = nil
			c.state = Disconnected
		}
		c.mu.Unlock()

		if s.ready.Load() && c.OnDisconnected != nil {
			c.OnDisconnected(cause)
		}
	})
}
