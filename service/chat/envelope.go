package chat

import (
	"encoding/json"
	"time"
)

// Kind is the wire `type` discriminator.
type Kind string

const (
	KindConnected       Kind = "connected"
	KindPing            Kind = "ping"
	KindPong            Kind = "pong"
	KindClientMessage   Kind = "client_message"
	KindMessageReceived Kind = "message_received"
	KindServerMessage   Kind = "server_message"
	KindInfo            Kind = "info"
	KindError           Kind = "error"
	KindTyping          Kind = "typing"
)

// Envelope is one discrete typed frame on the socket. The set is closed:
// only types in this file implement it.
type Envelope interface {
	Kind() Kind
	isEnvelope()
}

// Connected 服务端就绪
type Connected struct{}

type Ping struct {
	Timestamp time.Time `json:"timestamp"`
}

type Pong struct {
	Timestamp time.Time `json:"timestamp"`
}

// ClientMessage 客户端发送，tempId 为本地临时 id
type ClientMessage struct {
	Content   json.RawMessage `json:"content"`
	Timestamp time.Time       `json:"timestamp"`
	TempID    int64           `json:"tempId"`
}

// MessageReceived 服务端回执：tempId -> messageId
type MessageReceived struct {
	TempID    int64 `json:"tempId"`
	MessageID int64 `json:"messageId"`
}

type ServerMessage struct {
	TicketID  string          `json:"ticketId"`
	UserID    string          `json:"userId"`
	MessageID int64           `json:"messageId"`
	Content   json.RawMessage `json:"content"`
	Timestamp time.Time       `json:"timestamp"`
}

type Info struct {
	Message string `json:"message"`
}

// ServerError is the `error` envelope.
type ServerError struct {
	Error   string         `json:"error"`
	Details map[string]any `json:"details,omitempty"`
}

type Typing struct {
	UserID   string `json:"userId"`
	TicketID string `json:"ticketId"`
}

// Unknown carries a frame whose type this client does not know.
type Unknown struct {
	Type string
}

func (Connected) Kind() Kind       { return KindConnected }
func (Ping) Kind() Kind            { return KindPing }
func (Pong) Kind() Kind            { return KindPong }
func (ClientMessage) Kind() Kind   { return KindClientMessage }
func (MessageReceived) Kind() Kind { return KindMessageReceived }
func (ServerMessage) Kind() Kind   { return KindServerMessage }
func (Info) Kind() Kind            { return KindInfo }
func (ServerError) Kind() Kind     { return KindError }
func (Typing) Kind() Kind          { return KindTyping }
func (u Unknown) Kind() Kind       { return Kind(u.Type) }

func (Connected) isEnvelope()       {}
func (Ping) isEnvelope()            {}
func (Pong) isEnvelope()            {}
func (ClientMessage) isEnvelope()   {}
func (MessageReceived) isEnvelope() {}
func (ServerMessage) isEnvelope()   {}
func (Info) isEnvelope()            {}
func (ServerError) isEnvelope()     {}
func (Typing) isEnvelope()          {}
func (Unknown) isEnvelope()         {}
