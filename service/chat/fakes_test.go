package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type staticCreds string

func (c staticCreds) Token(context.Context) (string, error) { return string(c), nil }

type recordingNotifier struct {
	mu     sync.Mutex
	ready  int
	infos  []string
	errors []ErrorNotice
	typing []string
	lost   []error
}

func (n *recordingNotifier) Ready(string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ready++
}

func (n *recordingNotifier) Info(_ string, msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.infos = append(n.infos, msg)
}

func (n *recordingNotifier) Error(_ string, notice ErrorNotice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.errors = append(n.errors, notice)
}

func (n *recordingNotifier) Typing(_ string, userID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.typing = append(n.typing, userID)
}

func (n *recordingNotifier) ConnectionLost(_ string, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.lost = append(n.lost, err)
}

func (n *recordingNotifier) lostCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.lost)
}

func (n *recordingNotifier) errorCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.errors)
}

type countingObserver struct {
	mu         sync.Mutex
	outcomes   map[string]int
	drops      map[string]int
	reconnects []int
	states     []ConnState
}

func newCountingObserver() *countingObserver {
	return &countingObserver{outcomes: map[string]int{}, drops: map[string]int{}}
}

func (o *countingObserver) SendSettled(outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes[outcome]++
}

func (o *countingObserver) ReconnectScheduled(attempt int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reconnects = append(o.reconnects, attempt)
}

func (o *countingObserver) Dropped(reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.drops[reason]++
}

func (o *countingObserver) StateChanged(st ConnState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states = append(o.states, st)
}

func (o *countingObserver) outcome(name string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.outcomes[name]
}

func (o *countingObserver) dropped(reason string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.drops[reason]
}

func (o *countingObserver) settledTotal() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, v := range o.outcomes {
		n += v
	}
	return n
}

// fakeLink stands in for the lifecycle manager in unit tests.
type fakeLink struct {
	state  ConnState
	sent   []Envelope
	forced []string
	err    error
}

func (l *fakeLink) State() ConnState { return l.state }

func (l *fakeLink) Transmit(env Envelope) error {
	if l.err != nil {
		return l.err
	}
	l.sent = append(l.sent, env)
	return nil
}

func (l *fakeLink) forceReconnect(reason string) { l.forced = append(l.forced, reason) }

// manualTimers captures scheduled callbacks so tests fire them by hand.
type manualTimers struct {
	fns []func()
}

func (m *manualTimers) schedule(_ time.Duration, fn func()) *time.Timer {
	m.fns = append(m.fns, fn)
	return time.NewTimer(time.Hour)
}

func (m *manualTimers) fire(i int) { m.fns[i]() }

// ===== fake gateway =====

type serverConn struct {
	ws  *websocket.Conn
	req *http.Request
	in  chan map[string]any
	mu  sync.Mutex
}

func (c *serverConn) send(t *testing.T, v any) {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ws.WriteJSON(v); err != nil {
		t.Logf("server write: %v", err)
	}
}

// next waits for the next client frame of the given type.
func (c *serverConn) next(t *testing.T, kind Kind, timeout time.Duration) map[string]any {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case m, ok := <-c.in:
			if !ok {
				t.Fatalf("connection closed while waiting for %q", kind)
			}
			if m["type"] == string(kind) {
				return m
			}
		case <-deadline:
			t.Fatalf("no %q frame within %v", kind, timeout)
		}
	}
}

type fakeGateway struct {
	srv      *httptest.Server
	up       websocket.Upgrader
	conns    chan *serverConn
	accepted atomic.Int32
	// silent skips the connected greeting.
	silent bool
}

func newFakeGateway(t *testing.T) *fakeGateway {
	t.Helper()
	g := &fakeGateway{
		up:    websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		conns: make(chan *serverConn, 16),
	}
	g.srv = httptest.NewServer(http.HandlerFunc(g.handle))
	t.Cleanup(g.srv.Close)
	return g
}

func (g *fakeGateway) handle(w http.ResponseWriter, r *http.Request) {
	ws, err := g.up.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	g.accepted.Add(1)
	c := &serverConn{ws: ws, req: r, in: make(chan map[string]any, 64)}
	if !g.silent {
		_ = ws.WriteJSON(map[string]any{"type": "connected"})
	}
	go func() {
		defer close(c.in)
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			var m map[string]any
			dec := json.NewDecoder(bytes.NewReader(data))
			dec.UseNumber()
			if dec.Decode(&m) == nil {
				c.in <- m
			}
		}
	}()
	g.conns <- c
}

func (g *fakeGateway) nextConn(t *testing.T, timeout time.Duration) *serverConn {
	t.Helper()
	select {
	case c := <-g.conns:
		t.Cleanup(func() { _ = c.ws.Close() })
		return c
	case <-time.After(timeout):
		t.Fatalf("no connection within %v", timeout)
		return nil
	}
}

func testConfig(origin string) Config {
	return Config{
		Origin:         origin,
		SendTimeout:    time.Second,
		TypingInterval: time.Hour,
		WriteWait:      time.Second,
		PingInterval:   time.Hour,
		PongTimeout:    2 * time.Hour,
		MaxAttempts:    3,
		BaseDelay:      10 * time.Millisecond,
		MaxDelay:       20 * time.Millisecond,
	}
}

func newTestSession(t *testing.T, cfg Config, mutate func(*Options)) (*Session, *recordingNotifier, *countingObserver) {
	t.Helper()
	n := &recordingNotifier{}
	o := newCountingObserver()
	opts := Options{
		Config:         cfg,
		Kind:           TargetTicket,
		ConversationID: "T-1",
		UserID:         "agent-7",
		Credentials:    staticCreds("secret-token"),
		Notifier:       n,
		Observer:       o,
		Logger:         zap.NewNop(),
	}
	if mutate != nil {
		mutate(&opts)
	}
	s, err := NewSession(opts)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, n, o
}

func openSession(t *testing.T, s *Session) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.Open(ctx); err != nil {
		t.Fatalf("Open: %v", err)
	}
}

func eventually(t *testing.T, timeout time.Duration, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// failingDialer never connects.
type failingDialer struct {
	calls atomic.Int32
}

func (d *failingDialer) DialContext(context.Context, string, http.Header) (*websocket.Conn, *http.Response, error) {
	d.calls.Add(1)
	return nil, nil, errors.New("connection refused")
}

func int64Field(t *testing.T, m map[string]any, key string) int64 {
	t.Helper()
	n, ok := m[key].(json.Number)
	if !ok {
		t.Fatalf("field %q = %#v, want number", key, m[key])
	}
	v, err := n.Int64()
	if err != nil {
		t.Fatalf("field %q: %v", key, err)
	}
	return v
}

// gatedDialer completes the handshake, then holds the socket until release is
// closed. Dial cancellation is ignored so the socket outlives Close.
type gatedDialer struct {
	dialed  chan struct{}
	release chan struct{}
}

func newGatedDialer() *gatedDialer {
	return &gatedDialer{dialed: make(chan struct{}), release: make(chan struct{})}
}

func (d *gatedDialer) DialContext(_ context.Context, u string, h http.Header) (*websocket.Conn, *http.Response, error) {
	ws, resp, err := websocket.DefaultDialer.Dial(u, h)
	close(d.dialed)
	<-d.release
	return ws, resp, err
}
