package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"ticketchat/global/config"
	"ticketchat/logger"
	"ticketchat/tools/errs"
	"ticketchat/tools/ids"
	"ticketchat/tools/safe"
	"ticketchat/tools/security"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Config 单个会话的参数；零值字段在 norm 中补默认值。
type Config struct {
	Origin           string
	TicketPath       string
	WorkflowTestPath string

	SendTimeout       time.Duration
	SendQueueSize     int
	TypingInterval    time.Duration
	WriteWait         time.Duration
	ReconnectOnErrors []string

	PingInterval time.Duration
	PongTimeout  time.Duration

	MaxAttempts      int // 0 表示断线后不自动重连
	BaseDelay        time.Duration
	MaxDelay         time.Duration
	HandshakeTimeout time.Duration

	ReadLimit int64
}

// ConfigFrom picks the session parameters out of the application config.
func ConfigFrom(c *config.AppConfig) Config {
	return Config{
		Origin:            c.Origin(),
		TicketPath:        c.Paths.Ticket,
		WorkflowTestPath:  c.Paths.WorkflowTest,
		SendTimeout:       c.Delivery.SendTimeout,
		SendQueueSize:     c.Delivery.SendQueueSize,
		TypingInterval:    c.Delivery.TypingInterval,
		WriteWait:         c.Delivery.WriteWait,
		ReconnectOnErrors: c.Delivery.ReconnectOnErrors,
		PingInterval:      c.Heartbeat.PingInterval,
		PongTimeout:       c.Heartbeat.PongTimeout,
		MaxAttempts:       c.Reconnect.MaxAttempts,
		BaseDelay:         c.Reconnect.BaseDelay,
		MaxDelay:          c.Reconnect.MaxDelay,
		HandshakeTimeout:  c.Reconnect.HandshakeTimeout,
	}
}

func (c *Config) norm() {
	if c.TicketPath == "" {
		c.TicketPath = "/ws/tickets"
	}
	if c.WorkflowTestPath == "" {
		c.WorkflowTestPath = "/ws/workflow-tests"
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 5 * time.Second
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = 256
	}
	if c.TypingInterval <= 0 {
		c.TypingInterval = 1500 * time.Millisecond
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.ReconnectOnErrors == nil {
		c.ReconnectOnErrors = []string{"connection not alive"}
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 25 * time.Second
	}
	if c.PongTimeout <= c.PingInterval {
		c.PongTimeout = 3 * c.PingInterval
	}
	if c.MaxAttempts < 0 {
		c.MaxAttempts = 0
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.MaxDelay < c.BaseDelay {
		c.MaxDelay = c.BaseDelay
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = defaultReadLimit
	}
}

func (c Config) path(kind TargetKind) string {
	if kind == TargetWorkflowTest {
		return c.WorkflowTestPath
	}
	return c.TicketPath
}

// Options wires a Session to its collaborators. Credentials and
// ConversationID are required; everything else has a default.
type Options struct {
	Config         Config
	Kind           TargetKind
	ConversationID string
	// UserID of the local user; derived from the credential's subject when empty.
	UserID string

	Credentials CredentialStore
	Notifier    Notifier
	Observer    Observer
	Dialer      Dialer
	Logger      *zap.Logger
	Clock       func() time.Time
}

// Session is the real-time channel of one conversation. A single goroutine
// owns all mutable state; socket goroutines and timers hand it closures.
// A Session is single-use: after Close it cannot be opened again.
type Session struct {
	id             string
	conversationID string
	cfg            Config
	log            *zap.Logger
	now            func() time.Time

	events   chan func()
	done     chan struct{}
	stopOnce sync.Once
	closed   atomic.Bool
	state    atomic.Int32

	mu      sync.Mutex
	changed chan struct{} // closed and replaced on every state change
	lost    chan struct{}
	lostErr error
	ready   chan struct{}

	// loop-owned
	readySeen bool
	exhausted bool
	tokenUser string

	userID   string
	typing   *rate.Limiter
	store    *Store
	notifier Notifier
	conn     *connManager
	tracker  *tracker
	disp     *Dispatcher
}

// NewSession builds a session and starts its loop. Callers must Close it.
func NewSession(opts Options) (*Session, error) {
	if opts.ConversationID == "" {
		return nil, errs.ErrInvalidConfig.WrapMsg("conversation id is required")
	}
	if opts.Credentials == nil {
		return nil, errs.ErrCredentialMissing.WrapMsg("no credential store")
	}
	cfg := opts.Config
	cfg.norm()
	if cfg.Origin == "" {
		return nil, errs.ErrInvalidConfig.WrapMsg("origin is required")
	}

	if opts.Notifier == nil {
		opts.Notifier = nopNotifier{}
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Dialer == nil {
		opts.Dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		}
	}
	id := uuid.NewString()
	log := opts.Logger
	if log == nil {
		log = logger.Named("chat")
	}
	log = log.With(zap.String("session", id), zap.String("conversation", opts.ConversationID))

	s := &Session{
		id:             id,
		conversationID: opts.ConversationID,
		cfg:            cfg,
		log:            log,
		now:            opts.Clock,
		events:         make(chan func(), 64),
		done:           make(chan struct{}),
		changed:        make(chan struct{}),
		lost:           make(chan struct{}),
		ready:          make(chan struct{}),
		userID:         opts.UserID,
		typing:         rate.NewLimiter(rate.Every(cfg.TypingInterval), 1),
		store:          NewStore(),
		notifier:       opts.Notifier,
	}

	s.conn = &connManager{
		target: Target{
			Origin:         cfg.Origin,
			Path:           cfg.path(opts.Kind),
			ConversationID: opts.ConversationID,
		},
		creds:     opts.Credentials,
		dialer:    opts.Dialer,
		sessionID: id,
		handshake: cfg.HandshakeTimeout,
		writeWait: cfg.WriteWait,
		queueSize: cfg.SendQueueSize,
		readLimit: cfg.ReadLimit,
		budget: ReconnectBudget{
			MaxAttempts: cfg.MaxAttempts,
			BaseDelay:   cfg.BaseDelay,
			MaxDelay:    cfg.MaxDelay,
		},
		hb:          heartbeat{interval: cfg.PingInterval, timeout: cfg.PongTimeout},
		post:        s.post,
		call:        s.call,
		schedule:    s.schedule,
		now:         s.now,
		obs:         opts.Observer,
		log:         log.Named("conn"),
		onState:     s.onState,
		onOpen:      s.onOpen,
		onExhausted: s.onExhausted,
	}

	s.tracker = &tracker{
		conversationID: opts.ConversationID,
		senderID:       s.localUser,
		timeout:        cfg.SendTimeout,
		pending:        make(map[int64]*pendingSend),
		gen:            ids.NewGenerator(),
		store:          s.store,
		conn:           s.conn,
		schedule:       s.schedule,
		now:            s.now,
		obs:            opts.Observer,
		log:            log.Named("tracker"),
	}

	s.disp = &Dispatcher{
		conversationID: opts.ConversationID,
		localUser:      s.localUser,
		reconnectOn:    codeSet(cfg.ReconnectOnErrors),
		store:          s.store,
		tracker:        s.tracker,
		link:           s.conn,
		notifier:       opts.Notifier,
		obs:            opts.Observer,
		now:            s.now,
		log:            log.Named("dispatch"),
		onConnected:    s.onConnected,
	}
	s.conn.onFrame = s.disp.Dispatch

	safe.SafeGo("chat-session", s.run)
	return s, nil
}

// ===== 事件循环 =====

func (s *Session) run() {
	for {
		select {
		case fn := <-s.events:
			if err := safe.Run(fn); err != nil {
				s.log.Error("event panic recovered", zap.Error(err))
			}
		case <-s.done:
			return
		}
	}
}

// post hands fn to the loop; false once the session is stopped.
func (s *Session) post(fn func()) bool {
	select {
	case s.events <- fn:
		return true
	case <-s.done:
		return false
	}
}

// call runs fn on the loop and waits for it.
func (s *Session) call(fn func()) error {
	ran := make(chan struct{})
	if !s.post(func() {
		defer close(ran)
		fn()
	}) {
		return errs.ErrConnectionClosed.WrapMsg("session stopped")
	}
	select {
	case <-ran:
		return nil
	case <-s.done:
		select {
		case <-ran:
			return nil
		default:
			return errs.ErrConnectionClosed.WrapMsg("session stopped")
		}
	}
}

// schedule runs fn on the loop after d.
func (s *Session) schedule(d time.Duration, fn func()) *time.Timer {
	return time.AfterFunc(d, func() { s.post(fn) })
}

// ===== 生命周期 =====

// Open connects and waits until the socket is open, ctx ends, or the
// reconnection budget runs out. A ctx error leaves the attempt running.
// Open after the budget ran out starts over with a fresh budget.
func (s *Session) Open(ctx context.Context) error {
	if s.closed.Load() {
		return errs.ErrConnectionClosed.WrapMsg("session closed")
	}
	var err error
	if cerr := s.call(func() {
		if s.exhausted {
			s.exhausted = false
			s.conn.resetBudget()
			s.mu.Lock()
			s.lost = make(chan struct{})
			s.lostErr = nil
			s.mu.Unlock()
		}
		err = s.conn.open()
	}); cerr != nil {
		return cerr
	}
	if err != nil {
		return err
	}
	return s.WaitOpen(ctx)
}

// WaitOpen blocks until the session is open.
func (s *Session) WaitOpen(ctx context.Context) error {
	for {
		s.mu.Lock()
		st := ConnState(s.state.Load())
		changed, lost, lostErr := s.changed, s.lost, s.lostErr
		s.mu.Unlock()

		if st == StateOpen {
			return nil
		}
		select {
		case <-lost:
			return lostErr
		default:
		}
		select {
		case <-changed:
		case <-lost:
			s.mu.Lock()
			lostErr = s.lostErr
			s.mu.Unlock()
			return lostErr
		case <-s.done:
			return errs.ErrConnectionClosed.WrapMsg("session closed")
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close tears the connection down and settles every in-flight send as
// failed. Idempotent.
func (s *Session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := s.call(func() {
		s.conn.close()
		s.tracker.failAll("connection closed")
	})
	s.stopOnce.Do(func() { close(s.done) })
	s.log.Info("session closed")
	return err
}

// ===== 发送 =====

// Send sends content and waits for the server's ack. A ctx error stops the
// wait only; the send itself still settles on its own timeout.
func (s *Session) Send(ctx context.Context, content json.RawMessage) (int64, error) {
	return s.SendAsync(content).Wait(ctx)
}

// SendAsync sends content without waiting for the ack.
func (s *Session) SendAsync(content json.RawMessage) *Delivery {
	if len(content) > 0 && !json.Valid(content) {
		return failedDelivery(errs.ErrMalformedEnvelope.WrapMsg("content is not valid json"))
	}
	if s.closed.Load() {
		return failedDelivery(errs.ErrConnectionClosed.WrapMsg("session closed"))
	}
	var d *Delivery
	if err := s.call(func() { d = s.tracker.send(content) }); err != nil {
		return failedDelivery(err)
	}
	if d == nil {
		return failedDelivery(errs.NewCodeError(errs.ServerInternalError, "send failed").Wrap())
	}
	return d
}

// SendTyping emits a typing indicator, at most one per TypingInterval.
func (s *Session) SendTyping() error {
	if s.State() != StateOpen {
		return errs.ErrNotOpen.WrapMsg("typing")
	}
	if !s.typing.Allow() {
		return errs.ErrTypingThrottled.Wrap()
	}
	var err error
	if cerr := s.call(func() {
		err = s.conn.Transmit(Typing{UserID: s.localUser(), TicketID: s.conversationID})
	}); cerr != nil {
		return cerr
	}
	return err
}

// ===== loop callbacks =====

func (s *Session) onState(st ConnState) {
	s.mu.Lock()
	s.state.Store(int32(st))
	close(s.changed)
	s.changed = make(chan struct{})
	s.mu.Unlock()
}

func (s *Session) onOpen(token string) {
	claims, err := security.Inspect(token)
	if err != nil {
		s.log.Debug("credential is not a readable jwt", zap.Error(err))
		return
	}
	s.tokenUser = claims.Subject
	if claims.Expired(s.now()) {
		s.log.Warn("credential already expired", zap.Time("expires_at", claims.ExpiresAt))
	}
}

func (s *Session) onConnected() {
	if s.readySeen {
		return
	}
	s.readySeen = true
	close(s.ready)
}

func (s *Session) onExhausted(err error) {
	s.exhausted = true
	s.mu.Lock()
	s.lostErr = err
	close(s.lost)
	s.mu.Unlock()
	s.notifier.ConnectionLost(s.conversationID, err)
}

func (s *Session) localUser() string {
	if s.userID != "" {
		return s.userID
	}
	return s.tokenUser
}

// ===== 访问器 =====

func (s *Session) ID() string           { return s.id }
func (s *Session) Conversation() string { return s.conversationID }
func (s *Session) State() ConnState     { return ConnState(s.state.Load()) }
func (s *Session) Store() *Store        { return s.store }

// Ready is closed once the server has confirmed the first connection.
func (s *Session) Ready() <-chan struct{} { return s.ready }

// Lost is closed when reconnection gave up. A later Open replaces it.
func (s *Session) Lost() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lost
}

// Err returns why the session was lost, or nil.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lostErr
}
