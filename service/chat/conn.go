package chat

import (
	"context"
	"net/http"
	"time"

	"ticketchat/tools/errs"
	"ticketchat/tools/safe"
	"ticketchat/tools/security"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ConnState is the lifecycle state of the session's socket.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateOpen // 唯一允许发送的状态
	StateClosing
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// Dialer opens the socket. *websocket.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

const defaultReadLimit = 1 << 20

// connManager owns the socket of one session: dial, heartbeat, reconnection
// and teardown. Every method except the goroutine bodies runs on the session
// loop. epoch is bumped whenever a socket is detached so that events from it
// that are still in flight get ignored.
type connManager struct {
	target    Target
	creds     CredentialStore
	dialer    Dialer
	sessionID string
	handshake time.Duration
	writeWait time.Duration
	queueSize int
	readLimit int64

	state      ConnState
	epoch      uint64
	ws         *websocket.Conn
	sendCh     chan []byte
	cancelDial context.CancelFunc

	budget     ReconnectBudget
	hb         heartbeat
	retryTimer *time.Timer
	retryGen   uint64
	closed     bool

	post     func(fn func()) bool
	call     func(fn func()) error // post and wait; error if the loop stopped first
	schedule func(d time.Duration, fn func()) *time.Timer
	now      func() time.Time
	obs      Observer
	log      *zap.Logger

	onState     func(ConnState)
	onOpen      func(token string)
	onFrame     func(data []byte)
	onExhausted func(err error)
}

func (m *connManager) State() ConnState { return m.state }

func (m *connManager) setState(st ConnState) {
	if m.state == st {
		return
	}
	m.log.Debug("state changed", zap.Stringer("from", m.state), zap.Stringer("to", st))
	m.state = st
	m.obs.StateChanged(st)
	if m.onState != nil {
		m.onState(st)
	}
}

// open starts a connection attempt. No-op while connecting or open.
func (m *connManager) open() error {
	if m.closed {
		return errs.ErrConnectionClosed.WrapMsg("session closed")
	}
	if m.state == StateConnecting || m.state == StateOpen {
		return nil
	}
	m.cancelRetry()
	m.dial()
	return nil
}

func (m *connManager) dial() {
	m.epoch++
	e := m.epoch
	m.setState(StateConnecting)

	ctx, cancel := context.WithTimeout(context.Background(), m.handshake)
	m.cancelDial = cancel
	safe.SafeGo("ws-dial", func() {
		defer cancel()
		ws, token, err := m.connect(ctx)
		// call 失败说明循环已停，onDialed 可能永远不会执行，socket 由这里关闭
		if cerr := m.call(func() { m.onDialed(e, ws, token, err) }); cerr != nil && ws != nil {
			_ = ws.Close()
		}
	})
}

// connect runs off the loop and only reads immutable fields.
func (m *connManager) connect(ctx context.Context) (*websocket.Conn, string, error) {
	token, err := m.creds.Token(ctx)
	if err != nil {
		return nil, "", errs.WrapMsg(err, "read credential")
	}
	if token == "" {
		return nil, "", errs.ErrCredentialMissing.WrapMsg("empty token")
	}
	m.log.Debug("credential read", zap.String("credential", security.HashToken(token)))
	u, err := m.target.URL(token)
	if err != nil {
		return nil, "", errs.WrapMsg(err, "build target")
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	header.Set("X-Client-Session", m.sessionID)

	ws, resp, err := m.dialer.DialContext(ctx, u, header)
	if err != nil {
		if resp != nil {
			if resp.Body != nil {
				_ = resp.Body.Close()
			}
			return nil, "", errs.WrapMsg(err, "dial", "status", resp.StatusCode)
		}
		return nil, "", errs.WrapMsg(err, "dial")
	}
	return ws, token, nil
}

func (m *connManager) onDialed(e uint64, ws *websocket.Conn, token string, err error) {
	if e != m.epoch || m.closed {
		if ws != nil {
			_ = ws.Close()
		}
		return
	}
	m.cancelDial = nil
	if err != nil {
		m.log.Warn("dial failed", zap.String("conversation", m.target.ConversationID),
			zap.Int("attempt", m.budget.Attempts), zap.Error(err))
		m.setState(StateDisconnected)
		m.scheduleReconnect(err)
		return
	}

	m.ws = ws
	m.sendCh = make(chan []byte, m.queueSize)
	m.budget.reset()

	ws.SetReadLimit(m.readLimit)
	// 控制帧 ping/pong 也算存活
	ws.SetPongHandler(func(string) error {
		m.post(func() { m.touch(e) })
		return nil
	})
	ws.SetPingHandler(func(data string) error {
		m.post(func() { m.touch(e) })
		err := ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(m.writeWait))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})

	sendCh := m.sendCh
	safe.SafeGo("ws-writer", func() { m.writeLoop(ws, sendCh) })
	safe.SafeGo("ws-reader", func() { m.readLoop(e, ws) })

	m.setState(StateOpen)
	m.startHeartbeat()
	m.log.Info("connected", zap.String("conversation", m.target.ConversationID), zap.String("path", m.target.Path))
	if m.onOpen != nil {
		m.onOpen(token)
	}
}

// readLoop: 只读，不写；出错即退出
func (m *connManager) readLoop(e uint64, ws *websocket.Conn) {
	for {
		mt, data, err := ws.ReadMessage()
		if err != nil {
			m.post(func() { m.lost(e, err) })
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		if !m.post(func() { m.frame(e, data) }) {
			return
		}
	}
}

// writeLoop is the only writer of data frames on ws. Closing ch makes it send
// a close frame and close the socket.
func (m *connManager) writeLoop(ws *websocket.Conn, ch <-chan []byte) {
	defer func() { _ = ws.Close() }()
	for data := range ch {
		_ = ws.SetWriteDeadline(time.Now().Add(m.writeWait))
		if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
			// reader sees the broken socket and reports it
			m.log.Debug("write failed", zap.Error(err))
			return
		}
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(m.writeWait))
}

func (m *connManager) frame(e uint64, data []byte) {
	if e != m.epoch {
		return
	}
	m.hb.touch(m.now())
	if m.onFrame != nil {
		m.onFrame(data)
	}
}

func (m *connManager) touch(e uint64) {
	if e == m.epoch && m.state == StateOpen {
		m.hb.touch(m.now())
	}
}

// Transmit queues env for the writer without blocking.
func (m *connManager) Transmit(env Envelope) error {
	if m.state != StateOpen || m.sendCh == nil {
		return errs.ErrNotOpen.WrapMsg("transmit", "state", m.state, "kind", env.Kind())
	}
	data, err := Encode(env)
	if err != nil {
		return err
	}
	select {
	case m.sendCh <- data:
		return nil
	default:
		return errs.ErrSendQueueFull.WrapMsg("transmit", "size", cap(m.sendCh), "kind", env.Kind())
	}
}

func (m *connManager) startHeartbeat() {
	g := m.hb.start(m.now())
	m.armHeartbeat(g)
}

func (m *connManager) armHeartbeat(g uint64) {
	m.hb.timer = m.schedule(m.hb.interval, func() { m.beat(g) })
}

func (m *connManager) beat(g uint64) {
	if g != m.hb.gen || m.state != StateOpen {
		return
	}
	now := m.now()
	switch m.hb.tick(now) {
	case beatDead:
		m.lost(m.epoch, errs.New("heartbeat timeout", "silent_for", now.Sub(m.hb.lastSeen)))
		return
	case beatPing:
		if err := m.Transmit(Ping{Timestamp: now}); err != nil {
			m.log.Warn("heartbeat ping not sent", zap.Error(err))
		}
	}
	m.armHeartbeat(g)
}

// forceReconnect drops the open socket and takes the reconnection path.
func (m *connManager) forceReconnect(reason string) {
	if m.state != StateOpen {
		return
	}
	m.lost(m.epoch, errs.New("forced reconnect", "reason", reason))
}

// lost handles a socket that went away without close() being called.
func (m *connManager) lost(e uint64, cause error) {
	if e != m.epoch || m.closed || m.state != StateOpen {
		return
	}
	m.log.Warn("connection lost", zap.String("conversation", m.target.ConversationID), zap.Error(cause))
	m.epoch++
	m.teardown(true)
	m.setState(StateDisconnected)
	m.scheduleReconnect(cause)
}

func (m *connManager) scheduleReconnect(cause error) {
	delay, ok := m.budget.next()
	if !ok {
		err := errs.ErrReconnectExhausted.WrapMsg("reconnect budget used up",
			"attempts", m.budget.Attempts, "cause", cause)
		m.log.Error("giving up", zap.String("conversation", m.target.ConversationID), zap.Error(err))
		if m.onExhausted != nil {
			m.onExhausted(err)
		}
		return
	}
	m.obs.ReconnectScheduled(m.budget.Attempts)
	m.log.Info("reconnect scheduled", zap.Int("attempt", m.budget.Attempts),
		zap.Int("max", m.budget.MaxAttempts), zap.Duration("delay", delay))

	m.retryGen++
	g := m.retryGen
	m.retryTimer = m.schedule(delay, func() {
		if g != m.retryGen || m.closed || m.state != StateDisconnected {
			return
		}
		m.retryTimer = nil
		m.dial()
	})
}

func (m *connManager) cancelRetry() {
	m.retryGen++
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
}

// resetBudget gives a manual open after exhaustion a fresh budget.
func (m *connManager) resetBudget() { m.budget.reset() }

// close detaches the socket first, then closes it. Idempotent.
func (m *connManager) close() {
	if m.closed {
		return
	}
	m.closed = true
	m.cancelRetry()
	if m.state == StateOpen {
		m.setState(StateClosing)
	}
	m.epoch++
	m.teardown(false)
	m.setState(StateDisconnected)
}

// teardown stops the heartbeat and releases the socket. abrupt closes it
// right away instead of waiting for the writer to flush and say goodbye.
func (m *connManager) teardown(abrupt bool) {
	m.hb.stop()
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
	if m.sendCh != nil {
		close(m.sendCh)
		m.sendCh = nil
	}
	if m.ws != nil && abrupt {
		_ = m.ws.Close()
	}
	m.ws = nil
}
