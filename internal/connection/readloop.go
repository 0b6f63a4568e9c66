package connection

import (
	"time"

	"github.com/marpi82/bragerconnect/internal/wrkfnc"
)

// readLoop owns all reads on s until the socket fails or is closed.
func (c *Connection) readLoop(s *session) {
	defer close(s.done)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			c.handleLoss(s, err)
			return
		}
		c.stats.onReceive(len(data))
		c.extendDeadline(s)
		c.dispatch(data)
	}
}

// dispatch routes one frame. Nothing here may stop the loop.
func (c *Connection) dispatch(data []byte) {
	msg, err := wrkfnc.Decode(data)
	if err != nil {
		c.stats.onDrop()
		c.log.Warn("dropping unrecognized frame", "error", err)
		return
	}

	switch m := msg.(type) {
	case *wrkfnc.Response:
		if !c.pending.resolve(m) {
			c.stats.onDrop()
			c.log.Debug("dropping response without pending request", "nr", m.Number)
		}
	case *wrkfnc.Request:
		c.handlePush(m)
	case *wrkfnc.Ready:
		c.log.Debug("ignoring READY_SIGNAL outside handshake")
	}
}

func (c *Connection) handlePush(req *wrkfnc.Request) {
	c.handlersMu.RLock()
	h := c.handlers[req.Name]
	c.handlersMu.RUnlock()

	if h == nil {
		c.log.Debug("no handler for server request", "name", req.Name, "args", len(req.Args))
		return
	}

	defer func() {
		if r := recover(); r != nil {
			c.log.Error("push handler panicked", "name", req.Name, "panic", r)
		}
	}()
	h(req)
}

// handleLoss runs when the socket read fails. An intentional close just
// finishes the teardown; an unexpected loss of a Ready session reconnects
// or closes depending on the reconnect flag.
func (c *Connection) handleLoss(s *session, err error) {
	intentional := s.closing.Load()
	if !intentional {
		c.log.Warn("connection lost", "url", c.url, "error", err)
		c.stats.onFailure(err)
	}
	c.teardown(s, err)

	if intentional || !s.ready.Load() {
		return
	}
	if !c.reconnect.Load() {
		_ = c.Close()
		return
	}
	c.reconnectLoop()
}

// reconnectLoop retries Connect with exponential backoff until it succeeds,
// reconnect is disabled or Close is called.
func (c *Connection) reconnectLoop() {
	ctx := c.runContext()
	backoff := c.backoffMin

	for c.reconnect.Load() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if !c.reconnect.Load() {
			return
		}

		if err := c.Connect(ctx); err != nil {
			c.log.Warn("reconnect failed", "error", err, "retry_in", backoff)
			backoff *= 2
			if backoff > c.backoffMax {
				backoff = c.backoffMax
			}
			continue
		}
		c.stats.reconnects.Add(1)
		c.log.Info("reconnected", "url", c.url)
		return
	}
}
