package chat

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"ticketchat/tools/errs"
	"ticketchat/tools/ids"

	"go.uber.org/zap"
)

func newTestTracker(link *fakeLink) (*tracker, *manualTimers, *countingObserver) {
	timers := &manualTimers{}
	obs := newCountingObserver()
	return &tracker{
		conversationID: "T-1",
		senderID:       func() string { return "agent-7" },
		timeout:        5 * time.Second,
		pending:        make(map[int64]*pendingSend),
		gen:            ids.NewGenerator(),
		store:          NewStore(),
		conn:           link,
		schedule:       timers.schedule,
		now:            time.Now,
		obs:            obs,
		log:            zap.NewNop(),
	}, timers, obs
}

func settledNow(t *testing.T, d *Delivery) (int64, error) {
	t.Helper()
	select {
	case <-d.Done():
		return d.Result()
	default:
		t.Fatal("delivery not settled")
		return 0, nil
	}
}

func TestTrackerSendWritesClientMessage(t *testing.T) {
	link := &fakeLink{state: StateOpen}
	tr, _, _ := newTestTracker(link)

	d := tr.send(json.RawMessage(`{"text":"x"}`))
	if len(link.sent) != 1 {
		t.Fatalf("sent %d frames", len(link.sent))
	}
	cm, ok := link.sent[0].(ClientMessage)
	if !ok || cm.TempID != d.ProvisionalID() || string(cm.Content) != `{"text":"x"}` {
		t.Fatalf("frame = %#v", link.sent[0])
	}
	m, ok := tr.store.Get(ProvisionalID(d.ProvisionalID()))
	if !ok || m.Status != StatusPending || m.SenderID != "agent-7" {
		t.Fatalf("optimistic entry = %+v, %v", m, ok)
	}
	if tr.inFlight() != 1 {
		t.Fatalf("in flight = %d", tr.inFlight())
	}
}

func TestTrackerProvisionalIDsIncrease(t *testing.T) {
	tr, _, _ := newTestTracker(&fakeLink{state: StateOpen})
	prev := int64(0)
	for i := 0; i < 100; i++ {
		id := tr.send(json.RawMessage(`1`)).ProvisionalID()
		if id <= prev {
			t.Fatalf("id %d after %d", id, prev)
		}
		prev = id
	}
}

// A peer that parses numbers as doubles echoes tempId through float64.
func TestTrackerAckEchoedAsDouble(t *testing.T) {
	tr, _, _ := newTestTracker(&fakeLink{state: StateOpen})
	sends := make([]*Delivery, 5)
	for i := range sends {
		sends[i] = tr.send(json.RawMessage(`1`))
	}
	for i, d := range sends {
		id := d.ProvisionalID()
		if id > ids.MaxSafe {
			t.Fatalf("temp id %d above 2^53-1", id)
		}
		echoed := int64(float64(id))
		if echoed != id {
			t.Fatalf("temp id %d comes back as %d", id, echoed)
		}
		tr.ack(echoed, int64(100+i))
	}
	for i, d := range sends {
		got, err := settledNow(t, d)
		if err != nil || got != int64(100+i) {
			t.Fatalf("send %d settled with %d, %v", i, got, err)
		}
	}
}

func TestTrackerNotOpen(t *testing.T) {
	link := &fakeLink{state: StateConnecting}
	tr, _, obs := newTestTracker(link)

	_, err := settledNow(t, tr.send(json.RawMessage(`1`)))
	if !errors.Is(err, errs.ErrNotOpen) {
		t.Fatalf("err = %v", err)
	}
	if len(link.sent) != 0 || tr.store.Len() != 0 || tr.inFlight() != 0 {
		t.Fatal("refused send left traces")
	}
	if obs.outcome(OutcomeNotOpen) != 1 {
		t.Fatal("not_open outcome missing")
	}
}

func TestTrackerTransmitFailure(t *testing.T) {
	link := &fakeLink{state: StateOpen, err: errs.ErrSendQueueFull.WrapMsg("test")}
	tr, timers, obs := newTestTracker(link)

	d := tr.send(json.RawMessage(`1`))
	_, err := settledNow(t, d)
	if !errs.IsRetryable(err) {
		t.Fatalf("err = %v, want retryable", err)
	}
	if m, _ := tr.store.Get(ProvisionalID(d.ProvisionalID())); m.Status != StatusUnacknowledged {
		t.Fatalf("status = %v", m.Status)
	}
	if len(timers.fns) != 0 {
		t.Fatal("no ack timer expected after a failed write")
	}
	if obs.outcome(OutcomeQueueFull) != 1 {
		t.Fatal("queue_full outcome missing")
	}
}

func TestTrackerSettlesAtMostOnce(t *testing.T) {
	tr, timers, obs := newTestTracker(&fakeLink{state: StateOpen})

	d := tr.send(json.RawMessage(`1`))
	tr.ack(d.ProvisionalID(), 42)
	timers.fire(0)
	tr.failAll("connection closed")
	tr.ack(d.ProvisionalID(), 43)

	id, err := settledNow(t, d)
	if err != nil || id != 42 {
		t.Fatalf("result = %d, %v", id, err)
	}
	if obs.settledTotal() != 1 {
		t.Fatalf("settled %d times", obs.settledTotal())
	}
	if tr.store.Len() != 1 {
		t.Fatalf("store len = %d", tr.store.Len())
	}
	if _, ok := tr.store.Get(DurableID(43)); ok {
		t.Fatal("second ack re-promoted")
	}
}

func TestTrackerTimeoutThenLateAck(t *testing.T) {
	tr, timers, obs := newTestTracker(&fakeLink{state: StateOpen})

	d := tr.send(json.RawMessage(`1`))
	timers.fire(0)
	_, err := settledNow(t, d)
	if !errors.Is(err, errs.ErrSendTimeout) {
		t.Fatalf("err = %v", err)
	}

	tr.ack(d.ProvisionalID(), 42)
	if _, err := d.Result(); !errors.Is(err, errs.ErrSendTimeout) {
		t.Fatal("late ack changed the settled result")
	}
	m, ok := tr.store.Get(DurableID(42))
	if !ok || m.Status != StatusDelivered {
		t.Fatalf("late ack did not promote: %+v %v", m, ok)
	}
	if obs.dropped(DropStaleAck) != 1 || obs.settledTotal() != 1 {
		t.Fatalf("observer = %+v", obs)
	}
}

func TestTrackerTeardownFailsAll(t *testing.T) {
	tr, _, obs := newTestTracker(&fakeLink{state: StateOpen})
	a := tr.send(json.RawMessage(`1`))
	b := tr.send(json.RawMessage(`2`))

	tr.failAll("connection closed")
	for _, d := range []*Delivery{a, b} {
		_, err := settledNow(t, d)
		if !errors.Is(err, errs.ErrConnectionClosed) || errs.IsRetryable(err) {
			t.Fatalf("err = %v", err)
		}
		if m, _ := tr.store.Get(ProvisionalID(d.ProvisionalID())); m.Status != StatusFailed {
			t.Fatalf("status = %v", m.Status)
		}
	}
	if obs.outcome(OutcomeClosed) != 2 || tr.inFlight() != 0 {
		t.Fatal("teardown incomplete")
	}
}

func TestTrackerUnknownAckIgnored(t *testing.T) {
	tr, _, _ := newTestTracker(&fakeLink{state: StateOpen})
	tr.ack(12345, 1)
	if tr.store.Len() != 0 {
		t.Fatal("unknown ack touched the store")
	}
}
