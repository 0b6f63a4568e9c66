package connection

import (
	"sync"
	"sync/atomic"
	"time"
)

// ConnectionInfo is a snapshot of connection health counters.
type ConnectionInfo struct {
	Host             string
	State            State
	SessionStart     time.Time
	LastSuccessful   time.Time
	LastFailed       time.Time
	LastFailedReason string
	LastActivity     time.Time
	MessagesSent     uint64
	MessagesReceived uint64
	MessagesDropped  uint64
	BytesSent        uint64
	BytesReceived    uint64
	ReconnectCount   uint64
}

// TimeOnline is how long the current session has been up.
func (i ConnectionInfo) TimeOnline() time.Duration {
	if i.SessionStart.IsZero() || i.State != Ready {
		return 0
	}
	return time.Since(i.SessionStart)
}

type stats struct {
	sent, received, dropped atomic.Uint64
	bytesSent, bytesRecv    atomic.Uint64
	reconnects              atomic.Uint64
	lastActivity            atomic.Int64 // unix nanos

	mu             sync.Mutex
	sessionStart   time.Time
	lastSuccessful time.Time
	lastFailed     time.Time
	lastReason     string
}

func (s *stats) touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

func (s *stats) onSend(n int) {
	s.sent.Add(1)
	s.bytesSent.Add(uint64(n))
}

func (s *stats) onReceive(n int) {
	s.received.Add(1)
	s.bytesRecv.Add(uint64(n))
	s.touch()
}

func (s *stats) onDrop() {
	s.dropped.Add(1)
}

func (s *stats) onConnected() {
	now := time.Now()
	s.mu.Lock()
	s.sessionStart = now
	s.lastSuccessful = now
	s.mu.Unlock()
	s.touch()
}

func (s *stats) onFailure(err error) {
	s.mu.Lock()
	s.lastFailed = time.Now()
	s.lastReason = err.Error()
	s.mu.Unlock()
}

func (s *stats) snapshot(host string, state State) ConnectionInfo {
	info := ConnectionInfo{
		Host:             host,
		State:            state,
		MessagesSent:     s.sent.Load(),
		MessagesReceived: s.received.Load(),
		MessagesDropped:  s.dropped.Load(),
		BytesSent:        s.bytesSent.Load(),
		BytesReceived:    s.bytesRecv.Load(),
		ReconnectCount:   s.reconnects.Load(),
	}
	if n := s.lastActivity.Load(); n != 0 {
		info.LastActivity = time.Unix(0, n)
	}
	s.mu.Lock()
	info.SessionStart = s.sessionStart
	info.LastSuccessful = s.lastSuccessful
	info.LastFailed = s.lastFailed
	info.LastFailedReason = s.lastReason
	s.mu.Unlock()
	return info
}
