package chat

import (
	"encoding/json"
	"time"

	"ticketchat/tools/errs"
	"ticketchat/tools/ids"

	"go.uber.org/zap"
)

// transport is what the tracker may ask of the lifecycle manager.
type transport interface {
	State() ConnState
	Transmit(env Envelope) error
}

type pendingSend struct {
	tempID     int64
	enqueuedAt time.Time
	timer      *time.Timer
	delivery   *Delivery
}

// tracker owns every in-flight send. All methods run on the session loop.
type tracker struct {
	conversationID string
	senderID       func() string
	timeout        time.Duration

	pending  map[int64]*pendingSend
	gen      *ids.Generator
	store    *Store
	conn     transport
	schedule func(d time.Duration, fn func()) *time.Timer
	now      func() time.Time
	obs      Observer
	log      *zap.Logger
}

// send fails fast when the connection is not open; otherwise the message is
// written optimistically and a bounded wait for its ack begins.
func (t *tracker) send(content json.RawMessage) *Delivery {
	if st := t.conn.State(); st != StateOpen {
		t.obs.SendSettled(OutcomeNotOpen)
		return failedDelivery(errs.ErrNotOpen.WrapMsg("send refused", "state", st))
	}

	now := t.now()
	tempID := t.gen.Next()
	p := &pendingSend{
		tempID:     tempID,
		enqueuedAt: now,
		delivery:   newDelivery(tempID),
	}
	t.pending[tempID] = p
	t.store.Append(Message{
		ID:             ProvisionalID(tempID),
		ConversationID: t.conversationID,
		SenderID:       t.senderID(),
		Content:        content,
		CreatedAt:      now,
		Status:         StatusPending,
	})

	if err := t.conn.Transmit(ClientMessage{Content: content, Timestamp: now, TempID: tempID}); err != nil {
		outcome := OutcomeQueueFull
		if !errs.IsRetryable(err) {
			outcome = OutcomeNotOpen
		}
		t.settle(tempID, 0, err, StatusUnacknowledged, outcome)
		return p.delivery
	}

	p.timer = t.schedule(t.timeout, func() { t.expire(tempID) })
	t.log.Debug("send enqueued", zap.Int64("temp_id", tempID))
	return p.delivery
}

// ack resolves the matching pending send. Acks for unknown or settled ids
// are ignored, but a surviving provisional entry is still promoted.
func (t *tracker) ack(tempID, messageID int64) {
	if _, ok := t.pending[tempID]; !ok {
		if t.store.Promote(tempID, messageID) {
			t.log.Info("late ack promoted", zap.Int64("temp_id", tempID), zap.Int64("message_id", messageID))
		} else {
			t.log.Debug("ack for unknown temp id", zap.Int64("temp_id", tempID), zap.Int64("message_id", messageID))
		}
		t.obs.Dropped(DropStaleAck)
		return
	}
	t.store.Promote(tempID, messageID)
	t.settle(tempID, messageID, nil, StatusDelivered, OutcomeAcked)
}

func (t *tracker) expire(tempID int64) {
	if _, ok := t.pending[tempID]; !ok {
		return
	}
	t.log.Warn("send timed out", zap.Int64("temp_id", tempID), zap.Duration("timeout", t.timeout))
	t.settle(tempID, 0, errs.ErrSendTimeout.WrapMsg("no ack", "temp_id", tempID), StatusUnacknowledged, OutcomeTimeout)
}

// failAll settles every pending send; used on teardown.
func (t *tracker) failAll(reason string) {
	for tempID := range t.pending {
		t.settle(tempID, 0, errs.ErrConnectionClosed.WrapMsg(reason, "temp_id", tempID), StatusFailed, OutcomeClosed)
	}
}

func (t *tracker) settle(tempID, messageID int64, err error, status Status, outcome string) {
	p, ok := t.pending[tempID]
	if !ok {
		return
	}
	delete(t.pending, tempID)
	if p.timer != nil {
		p.timer.Stop()
	}
	if err != nil {
		t.store.MarkStatus(ProvisionalID(tempID), status)
	}
	if p.delivery.settle(messageID, err) {
		t.obs.SendSettled(outcome)
	}
}

func (t *tracker) inFlight() int { return len(t.pending) }
