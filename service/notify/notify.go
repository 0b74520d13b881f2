package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"ticketchat/service/chat"

	"go.uber.org/zap"
)

// Notice kinds.
const (
	KindReady          = "ready"
	KindInfo           = "info"
	KindError          = "error"
	KindTyping         = "typing"
	KindConnectionLost = "connection_lost"
)

// Notice is the serialized form of one notifier event.
type Notice struct {
	Kind           string         `json:"kind"`
	ConversationID string         `json:"conversationId"`
	Message        string         `json:"message,omitempty"`
	Code           string         `json:"code,omitempty"`
	UserID         string         `json:"userId,omitempty"`
	Details        map[string]any `json:"details,omitempty"`
	At             time.Time      `json:"at"`
}

// Sink receives notices. Implementations must not block for long: they run
// on the session loop.
type Sink func(n Notice)

// Notifier adapts a Sink to chat.Notifier.
type Notifier struct {
	sink Sink
	now  func() time.Time
}

var _ chat.Notifier = (*Notifier)(nil)

func New(sink Sink) *Notifier { return &Notifier{sink: sink, now: time.Now} }

func (n *Notifier) emit(v Notice) {
	v.At = n.now()
	n.sink(v)
}

func (n *Notifier) Ready(conv string) { n.emit(Notice{Kind: KindReady, ConversationID: conv}) }

func (n *Notifier) Info(conv, message string) {
	n.emit(Notice{Kind: KindInfo, ConversationID: conv, Message: message})
}

func (n *Notifier) Error(conv string, e chat.ErrorNotice) {
	n.emit(Notice{Kind: KindError, ConversationID: conv, Message: e.Message, Code: e.Code, Details: e.Details})
}

func (n *Notifier) Typing(conv, userID string) {
	n.emit(Notice{Kind: KindTyping, ConversationID: conv, UserID: userID})
}

func (n *Notifier) ConnectionLost(conv string, err error) {
	v := Notice{Kind: KindConnectionLost, ConversationID: conv}
	if err != nil {
		v.Message = err.Error()
	}
	n.emit(v)
}

// ===== sinks =====

// LogSink writes notices to a zap logger.
func LogSink(log *zap.Logger) Sink {
	return func(n Notice) {
		fields := []zap.Field{zap.String("conversation", n.ConversationID)}
		if n.UserID != "" {
			fields = append(fields, zap.String("user", n.UserID))
		}
		if n.Code != "" {
			fields = append(fields, zap.String("code", n.Code))
		}
		switch n.Kind {
		case KindError:
			log.Warn("server error: "+n.Message, fields...)
		case KindConnectionLost:
			log.Error("connection lost", append(fields, zap.String("cause", n.Message))...)
		case KindTyping:
			log.Debug("peer typing", fields...)
		default:
			log.Info(n.Kind+" "+n.Message, fields...)
		}
	}
}

// Publisher is the NATS side, see natsx.NatsxClient.
type Publisher interface {
	Publish(ctx context.Context, biz string, data []byte, hdr map[string]string) error
}

// PublishSink sends each notice as JSON through pub under biz. Failures are
// logged and dropped; notices are best effort.
func PublishSink(pub Publisher, biz string, log *zap.Logger) Sink {
	return func(n Notice) {
		data, err := json.Marshal(n)
		if err != nil {
			log.Warn("encode notice", zap.Error(err))
			return
		}
		hdr := map[string]string{"Notice-Kind": n.Kind, "Conversation-Id": n.ConversationID}
		if err := pub.Publish(context.Background(), biz, data, hdr); err != nil {
			log.Warn("publish notice", zap.String("kind", n.Kind), zap.Error(err))
		}
	}
}

// WriterSink prints notices as single lines, for the terminal client.
func WriterSink(w io.Writer) Sink {
	var mu sync.Mutex
	return func(n Notice) {
		if n.Kind == KindTyping {
			return
		}
		line := fmt.Sprintf("* [%s] %s", n.Kind, n.Message)
		if n.Code != "" {
			line += " (" + n.Code + ")"
		}
		mu.Lock()
		defer mu.Unlock()
		_, _ = fmt.Fprintln(w, line)
	}
}

// Fanout sends every notice to all sinks in order.
func Fanout(sinks ...Sink) Sink {
	return func(n Notice) {
		for _, s := range sinks {
			if s != nil {
				s(n)
			}
		}
	}
}
