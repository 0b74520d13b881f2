package chat

import "context"

// CredentialStore hands out the bearer credential persisted by the login
// flow. It is read once per connect and never refreshed mid-connection.
type CredentialStore interface {
	Token(ctx context.Context) (string, error)
}

// ErrorNotice is a protocol-level `error` envelope as shown to the user.
type ErrorNotice struct {
	Message string
	Code    string
	Details map[string]any
}

// Notifier surfaces non-message events to the UI (toast / log). Methods run on
// the session loop and must not call back into the Session synchronously.
type Notifier interface {
	Ready(conversationID string)
	Info(conversationID, message string)
	Error(conversationID string, notice ErrorNotice)
	Typing(conversationID, userID string)
	ConnectionLost(conversationID string, err error)
}

// Send outcomes reported to Observer.SendSettled.
const (
	OutcomeAcked     = "acked"
	OutcomeTimeout   = "timeout"
	OutcomeClosed    = "closed"
	OutcomeQueueFull = "queue_full"
	OutcomeNotOpen   = "not_open"
)

// Drop reasons reported to Observer.Dropped.
const (
	DropMalformed         = "malformed"
	DropCrossConversation = "cross_conversation"
	DropSelfEcho          = "self_echo"
	DropDuplicate         = "duplicate"
	DropUnknownKind       = "unknown_kind"
	DropStaleAck          = "stale_ack"
	DropPanic             = "panic"
)

// Observer receives delivery telemetry.
type Observer interface {
	SendSettled(outcome string)
	ReconnectScheduled(attempt int)
	Dropped(reason string)
	StateChanged(state ConnState)
}

type nopNotifier struct{}

func (nopNotifier) Ready(string)                 {}
func (nopNotifier) Info(string, string)          {}
func (nopNotifier) Error(string, ErrorNotice)    {}
func (nopNotifier) Typing(string, string)        {}
func (nopNotifier) ConnectionLost(string, error) {}

type nopObserver struct{}

func (nopObserver) SendSettled(string)     {}
func (nopObserver) ReconnectScheduled(int) {}
func (nopObserver) Dropped(string)         {}
func (nopObserver) StateChanged(ConnState) {}
