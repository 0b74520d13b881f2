package chat

import (
	"fmt"
	"strings"
	"time"

	"ticketchat/tools/errs"

	"go.uber.org/zap"
)

// linkControl is what inbound frames may ask of the lifecycle manager.
type linkControl interface {
	Transmit(env Envelope) error
	forceReconnect(reason string)
}

// Dispatcher routes decoded inbound envelopes of one conversation. Runs on the
// session loop, one envelope at a time in arrival order.
type Dispatcher struct {
	conversationID string
	localUser      func() string
	reconnectOn    map[string]struct{}

	store    *Store
	tracker  *tracker
	link     linkControl
	notifier Notifier
	obs      Observer
	now      func() time.Time
	log      *zap.Logger

	onConnected func()
}

// normalizeCode folds case and separators so "CONNECTION_NOT_ALIVE" matches
// "connection not alive".
func normalizeCode(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer("_", " ", "-", " ").Replace(s)
	return strings.Join(strings.Fields(s), " ")
}

func codeSet(codes []string) map[string]struct{} {
	set := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		if n := normalizeCode(c); n != "" {
			set[n] = struct{}{}
		}
	}
	return set
}

// Dispatch decodes raw and routes it. Malformed frames are dropped; a panic
// in a handler only loses that envelope.
func (d *Dispatcher) Dispatch(raw []byte) {
	env, err := Decode(raw)
	if err != nil {
		d.log.Warn("drop malformed envelope", zap.Error(err), zap.ByteString("sample", sample(raw)))
		d.obs.Dropped(DropMalformed)
		return
	}
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("envelope handler panic", zap.String("kind", string(env.Kind())), zap.Error(errs.ErrPanic(r)))
			d.obs.Dropped(DropPanic)
		}
	}()
	d.route(env)
}

func (d *Dispatcher) route(env Envelope) {
	switch e := env.(type) {
	case Connected:
		if d.onConnected != nil {
			d.onConnected()
		}
		d.notifier.Ready(d.conversationID)
	case Ping:
		if err := d.link.Transmit(Pong{Timestamp: d.now()}); err != nil {
			d.log.Warn("pong not sent", zap.Error(err))
		}
	case Pong:
		// liveness only, already recorded
	case MessageReceived:
		d.tracker.ack(e.TempID, e.MessageID)
	case ServerMessage:
		d.serverMessage(e)
	case Info:
		d.notifier.Info(d.conversationID, e.Message)
	case ServerError:
		d.serverError(e)
	case Typing:
		if e.TicketID != "" && e.TicketID != d.conversationID {
			d.obs.Dropped(DropCrossConversation)
			return
		}
		if e.UserID == d.localUser() {
			return
		}
		d.notifier.Typing(d.conversationID, e.UserID)
	default:
		d.log.Debug("drop unknown envelope", zap.String("type", string(env.Kind())))
		d.obs.Dropped(DropUnknownKind)
	}
}

func (d *Dispatcher) serverMessage(e ServerMessage) {
	if e.TicketID != d.conversationID {
		d.log.Warn("drop message for another conversation",
			zap.String("conversation", d.conversationID), zap.String("ticket_id", e.TicketID), zap.Int64("message_id", e.MessageID))
		d.obs.Dropped(DropCrossConversation)
		return
	}
	// 自己发的消息以 message_received 回执为准
	if me := d.localUser(); me != "" && e.UserID == me {
		d.obs.Dropped(DropSelfEcho)
		return
	}
	created := e.Timestamp
	if created.IsZero() {
		created = d.now()
	}
	ok := d.store.Append(Message{
		ID:             DurableID(e.MessageID),
		ConversationID: e.TicketID,
		SenderID:       e.UserID,
		Content:        e.Content,
		CreatedAt:      created,
		Status:         StatusDelivered,
	})
	if !ok {
		d.log.Debug("duplicate message", zap.Int64("message_id", e.MessageID))
		d.obs.Dropped(DropDuplicate)
	}
}

func (d *Dispatcher) serverError(e ServerError) {
	code := ""
	if v, ok := e.Details["code"]; ok && v != nil {
		code = fmt.Sprint(v)
	}
	d.notifier.Error(d.conversationID, ErrorNotice{Message: e.Error, Code: code, Details: e.Details})

	if d.shouldReconnect(e.Error) || d.shouldReconnect(code) {
		d.log.Warn("server asked for reconnect", zap.String("error", e.Error), zap.String("code", code))
		d.link.forceReconnect(e.Error)
		return
	}
	d.log.Info("server error", zap.String("error", e.Error), zap.String("code", code))
}

func (d *Dispatcher) shouldReconnect(s string) bool {
	n := normalizeCode(s)
	if n == "" {
		return false
	}
	_, ok := d.reconnectOn[n]
	return ok
}

func sample(raw []byte) []byte {
	if len(raw) > 256 {
		return raw[:256]
	}
	return raw
}
