package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

const (
	readyFrame  = `{"isRpc":true,"type":10}`
	testTimeout = 2 * time.Second
)

// fakeServer accepts websocket connections and hands them to the test,
// which then plays the server side of the protocol.
type fakeServer struct {
	srv   *httptest.Server
	conns chan *websocket.Conn
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	fs := &fakeServer{conns: make(chan *websocket.Conn, 4)}
	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	fs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fs.conns <- conn
	}))
	t.Cleanup(fs.srv.Close)
	return fs
}

func (fs *fakeServer) url() string {
	return "ws" + strings.TrimPrefix(fs.srv.URL, "http")
}

func (fs *fakeServer) accept(t *testing.T) *peer {
	t.Helper()
	select {
	case conn := <-fs.conns:
		t.Cleanup(func() { _ = conn.Close() })
		return &peer{t: t, conn: conn}
	case <-time.After(testTimeout):
		t.Fatal("no client connection")
		return nil
	}
}

// call is an outbound frame as the server sees it.
type call struct {
	IsRPC bool              `json:"isRpc"`
	Type  int               `json:"type"`
	Name  string            `json:"name"`
	Nr    int64             `json:"nr"`
	Args  []json.RawMessage `json:"args"`
}

type peer struct {
	t    *testing.T
	conn *websocket.Conn
}

func (p *peer) send(frame string) {
	p.t.Helper()
	if err := p.conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		p.t.Fatalf("server write: %v", err)
	}
}

func (p *peer) readRaw() string {
	p.t.Helper()
	_ = p.conn.SetReadDeadline(time.Now().Add(testTimeout))
	_, data, err := p.conn.ReadMessage()
	if err != nil {
		p.t.Fatalf("server read: %v", err)
	}
	return string(data)
}

func (p *peer) read() call {
	p.t.Helper()
	raw := p.readRaw()
	var c call
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		p.t.Fatalf("server decode %s: %v", raw, err)
	}
	if !c.IsRPC {
		p.t.Fatalf("frame without isRpc flag: %s", raw)
	}
	return c
}

func (p *peer) expect(name string) call {
	p.t.Helper()
	c := p.read()
	if c.Name != name {
		p.t.Fatalf("got call %q, want %q", c.Name, name)
	}
	return c
}

func (p *peer) handshake() {
	p.t.Helper()
	p.send(readyFrame)
	if got := p.readRaw(); got != readyFrame {
		p.t.Fatalf("handshake echo = %s, want %s", got, readyFrame)
	}
}

func (p *peer) reply(nr int64, resp string) {
	p.t.Helper()
	p.send(fmt.Sprintf(`{"isRpc":true,"nr":%d,"resp":%s}`, nr, resp))
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestConnection returns a Connection that skips the language and active
// device steps unless the caller overrides them.
func newTestConnection(fs *fakeServer, opts ...Option) *Connection {
	base := []Option{WithLogger(testLogger()), WithActiveDevice("DEV1")}
	return New(Config{
		URL:      fs.url(),
		Username: "user",
		Password: "pass",
		Timeout:  testTimeout,
	}, append(base, opts...)...)
}

func connectAsync(c *Connection) <-chan error {
	errCh := make(chan error, 1)
	go func() { errCh <- c.Connect(context.Background()) }()
	return errCh
}

func waitErr(t *testing.T, errCh <-chan error) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(2 * testTimeout):
		t.Fatal("timed out waiting for client")
		return nil
	}
}

// connectReady runs the handshake and a successful login.
func connectReady(t *testing.T, fs *fakeServer, c *Connection) *peer {
	t.Helper()
	errCh := connectAsync(c)
	p := fs.accept(t)
	p.handshake()
	login := p.expect("s_login")
	p.reply(login.Nr, "1")
	if err := waitErr(t, errCh); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return p
}

type reqResult struct {
	resp json.RawMessage
	err  error
}

func requestAsync(c *Connection, name string, args ...any) <-chan reqResult {
	ch := make(chan reqResult, 1)
	go func() {
		resp, err := c.Request(context.Background(), name, args...)
		ch <- reqResult{resp, err}
	}()
	return ch
}

func waitResult(t *testing.T, ch <-chan reqResult) reqResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * testTimeout):
		t.Fatal("timed out waiting for request")
		return reqResult{}
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(testTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met: %s", what)
}
