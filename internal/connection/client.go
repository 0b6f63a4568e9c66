package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/marpi82/bragerconnect/internal/wrkfnc"
)

const (
	// DefaultURL is the BragerConnect cloud endpoint.
	DefaultURL = "wss://cloud.bragerconnect.com"

	// DefaultTimeout bounds the handshake and every request.
	DefaultTimeout = 10 * time.Second

	defaultBackoffMin = time.Second
	defaultBackoffMax = 30 * time.Second
)

// Config holds what a Connection needs to open and authenticate a session.
type Config struct {
	URL       string
	Username  string
	Password  string
	Language  string // sent as the preferred language after login; empty skips it
	Timeout   time.Duration
	Reconnect bool
}

// PushHandler receives a server-initiated request. It runs on the receive
// loop and must not block or issue requests synchronously.
type PushHandler func(req *wrkfnc.Request)

// Connection is a single multiplexed session with the BragerConnect service.
//
// Any number of goroutines may call Request concurrently; responses are
// matched by number, not by order.
type Connection struct {
	url          string
	username     string
	password     string
	language     string
	timeout      time.Duration
	pingInterval time.Duration
	backoffMin   time.Duration
	backoffMax   time.Duration

	dialer  *websocket.Dialer
	limiter *rate.Limiter
	log     *slog.Logger

	connectMu sync.Mutex // serializes Connect

	mu             sync.Mutex // guards the fields below
	sess           *session
	state          State
	activeDeviceID string
	runCtx         context.Context
	stopRun        context.CancelFunc

	reconnect atomic.Bool
	pending   *pendingTable
	stats     stats

	handlersMu sync.RWMutex
	handlers   map[string]PushHandler

	// OnConnected is called after every successful Connect or reconnect.
	OnConnected func()
	// OnDisconnected is called once per lost or closed session that had
	// reached Ready.
	OnDisconnected func(err error)
}

// New returns a disconnected Connection.
func New(cfg Config, opts ...Option) *Connection {
	c := &Connection{
		url:        cfg.URL,
		username:   cfg.Username,
		password:   cfg.Password,
		language:   cfg.Language,
		timeout:    cfg.Timeout,
		backoffMin: defaultBackoffMin,
		backoffMax: defaultBackoffMax,
		dialer:     websocket.DefaultDialer,
		log:        slog.Default().With("component", "connection"),
		pending:    newPendingTable(),
		handlers:   make(map[string]PushHandler),
	}
	if c.url == "" {
		c.url = DefaultURL
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	c.reconnect.Store(cfg.Reconnect)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect opens the socket, completes the READY_SIGNAL handshake, logs in,
// applies the preferred language and resolves the active device.
// It is a no-op when the connection is already Ready.
func (c *Connection) Connect(ctx context.Context) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	if c.State() == Ready {
		return nil
	}

	c.mu.Lock()
	if c.runCtx == nil || c.runCtx.Err() != nil {
		c.runCtx, c.stopRun = context.WithCancel(context.Background())
	}
	c.mu.Unlock()

	if err := c.open(ctx); err != nil {
		c.stats.onFailure(err)
		return err
	}
	return nil
}

func (c *Connection) open(ctx context.Context) error {
	c.setState(Connecting)
	c.log.Info("connecting", "url", c.url)

	conn, err := c.dial(ctx)
	if err != nil {
		c.log.Error("connect failed", "url", c.url, "error", err)
		c.setState(Disconnected)
		return err
	}
	s := newSession(conn)

	c.setState(Handshaking)
	if err := c.handshake(s); err != nil {
		c.log.Error("handshake failed", "error", err)
		s.closing.Store(true)
		_ = conn.Close()
		c.setState(Disconnected)
		return err
	}
	// Pings start before setup; the read deadline above is already armed.
	c.armKeepAlive(s)
	c.startPing(s)

	c.mu.Lock()
	c.sess = s
	c.state = Authenticating
	c.mu.Unlock()

	// The login reply arrives through the receive loop, so it must run first.
	go c.readLoop(s)

	if err := c.setup(ctx); err != nil {
		c.log.Error("session setup failed", "error", err)
		s.closing.Store(true)
		c.teardown(s, err)
		return err
	}

	if !c.markReady(s) {
		return fmt.Errorf("%w: closed during setup", ErrNotConnected)
	}
	c.stats.onConnected()
	c.log.Info("connected", "url", c.url, "active_device", c.ActiveDeviceID())

	if c.OnConnected != nil {
		c.OnConnected()
	}
	return nil
}

// setup runs the post-handshake sequence: login, language, active device.
func (c *Connection) setup(ctx context.Context) error {
	ok, err := c.Login(ctx, c.username, c.password)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: login refused", ErrAuth)
	}

	if c.language != "" {
		ok, err := c.SetUserVariable(ctx, languageVariable, c.language)
		if err != nil {
			return fmt.Errorf("%w: setting language %q: %w", ErrConfiguration, c.language, err)
		}
		if !ok {
			return fmt.Errorf("%w: language %q refused", ErrConfiguration, c.language)
		}
	}

	if c.ActiveDeviceID() == "" {
		if _, err := c.GetActiveDeviceID(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Close shuts the session down. Auto-reconnect is disabled first. Closing a
// closed or never-opened Connection is a no-op.
func (c *Connection) Close() error {
	c.reconnect.Store(false)

	c.mu.Lock()
	if c.stopRun != nil {
		c.stopRun()
	}
	s := c.sess
	if s == nil {
		c.mu.Unlock()
		return nil
	}
	c.state = Closing
	c.mu.Unlock()

	c.log.Info("disconnecting", "url", c.url)
	s.closing.Store(true)
	c.teardown(s, ErrClosed)

	select {
	case <-s.done:
	case <-time.After(closeWait):
	}
	return nil
}

// Request calls name with args as FUNCTION_EXEC and returns the raw payload.
func (c *Connection) Request(ctx context.Context, name string, args ...any) (json.RawMessage, error) {
	return c.Execute(ctx, wrkfnc.FunctionExec, name, args)
}

// Execute sends one call of the given type and waits for its response.
//
// An EXCEPTION response yields a *MessageError. If no response arrives
// within the configured timeout the result is ErrTimeout and a late
// response is discarded.
func (c *Connection) Execute(ctx context.Context, kind wrkfnc.MessageType, name string, args []any) (json.RawMessage, error) {
	resp, err := c.call(ctx, kind, name, args)
	if err != nil {
		return nil, err
	}
	if resp.IsException() {
		err := newMessageError(name, resp)
		c.log.Warn("exception response", "name", name, "nr", resp.Number, "payload", string(resp.Payload))
		return nil, err
	}
	return resp.Payload, nil
}

func (c *Connection) call(ctx context.Context, kind wrkfnc.MessageType, name string, args []any) (*wrkfnc.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	s := c.session()
	if s == nil {
		return nil, ErrNotConnected
	}

	id, ch, err := c.pending.allocate()
	if err != nil {
		return nil, err
	}

	frame, err := wrkfnc.Encode(kind, name, id, args)
	if err != nil {
		c.pending.remove(id)
		return nil, err
	}

	if name == loginFunction {
		c.log.Debug("sending request", "name", name, "nr", id)
	} else {
		c.log.Debug("sending request", "name", name, "nr", id, "frame", string(frame))
	}

	if err := s.write(frame); err != nil {
		c.pending.remove(id)
		return nil, fmt.Errorf("sending %s: %w", name, err)
	}
	c.stats.onSend(len(frame))

	resp, err := c.pending.wait(ctx, id, ch, c.timeout)
	if err != nil {
		if errors.Is(err, ErrTimeout) {
			c.log.Warn("request timed out", "name", name, "nr", id, "timeout", c.timeout)
		}
		return nil, err
	}
	return resp, nil
}

// Handle registers h for server-initiated requests called name.
// A nil h removes the registration.
func (c *Connection) Handle(name string, h PushHandler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	if h == nil {
		delete(c.handlers, name)
		return
	}
	c.handlers[name] = h
}

// Connected reports whether the session is Ready.
func (c *Connection) Connected() bool {
	return c.State() == Ready
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Reconnect reports whether lost sessions are re-established automatically.
func (c *Connection) Reconnect() bool {
	return c.reconnect.Load()
}

// SetReconnect toggles automatic reconnection.
func (c *Connection) SetReconnect(v bool) {
	c.reconnect.Store(v)
}

// ActiveDeviceID returns the cached active device ID.
func (c *Connection) ActiveDeviceID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeDeviceID
}

func (c *Connection) setActiveDeviceID(id string) {
	c.mu.Lock()
	c.activeDeviceID = id
	c.mu.Unlock()
}

// Info returns a snapshot of the connection counters.
func (c *Connection) Info() ConnectionInfo {
	return c.stats.snapshot(c.url, c.State())
}

func (c *Connection) setState(st State) {
	c.mu.Lock()
	c.state = st
	c.mu.Unlock()
}

// markReady moves to Ready only if s is still the current session.
func (c *Connection) markReady(s *session) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess != s || s.closing.Load() {
		return false
	}
	c.state = Ready
	s.ready.Store(true)
	return true
}

func (c *Connection) session() *session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil || c.sess.closing.Load() {
		return nil
	}
	return c.sess
}

func (c *Connection) runContext() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.runCtx == nil {
		return context.Background()
	}
	return c.runCtx
}
