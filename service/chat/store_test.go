package chat

import (
	"encoding/json"
	"testing"
	"time"
)

func msg(id MessageID, text string) Message {
	return Message{
		ID:             id,
		ConversationID: "T-1",
		SenderID:       "u",
		Content:        json.RawMessage(`"` + text + `"`),
		CreatedAt:      time.Unix(0, 0),
		Status:         StatusPending,
	}
}

func idsOf(list []Message) []MessageID {
	out := make([]MessageID, len(list))
	for i, m := range list {
		out[i] = m.ID
	}
	return out
}

func TestAppendIsIdempotent(t *testing.T) {
	s := NewStore()
	if !s.Append(msg(DurableID(1), "a")) {
		t.Fatal("first append rejected")
	}
	if s.Append(msg(DurableID(1), "again")) {
		t.Fatal("duplicate append accepted")
	}
	if s.Len() != 1 {
		t.Fatalf("len = %d", s.Len())
	}
	got, _ := s.Get(DurableID(1))
	if string(got.Content) != `"a"` {
		t.Fatalf("duplicate overwrote content: %s", got.Content)
	}
}

func TestProvisionalAndDurableNeverCollide(t *testing.T) {
	s := NewStore()
	s.Append(msg(ProvisionalID(5), "mine"))
	if !s.Append(msg(DurableID(5), "theirs")) {
		t.Fatal("durable 5 must not collide with provisional 5")
	}
	if s.Len() != 2 {
		t.Fatalf("len = %d", s.Len())
	}
}

func TestPromoteKeepsPosition(t *testing.T) {
	s := NewStore()
	s.Append(msg(DurableID(1), "a"))
	s.Append(msg(ProvisionalID(100), "b"))
	s.Append(msg(DurableID(2), "c"))

	if !s.Promote(100, 42) {
		t.Fatal("promote failed")
	}
	want := []MessageID{DurableID(1), DurableID(42), DurableID(2)}
	got := idsOf(s.List())
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
	m, _ := s.Get(DurableID(42))
	if m.Status != StatusDelivered {
		t.Fatalf("status = %v", m.Status)
	}
	if _, ok := s.Get(ProvisionalID(100)); ok {
		t.Fatal("provisional id still present")
	}
}

func TestPromoteAbsentIsNoop(t *testing.T) {
	s := NewStore()
	s.Append(msg(DurableID(1), "a"))
	if s.Promote(9, 10) {
		t.Fatal("promote of absent id reported success")
	}
	if s.Len() != 1 {
		t.Fatal("store changed")
	}
	// promoting twice only works once
	s.Append(msg(ProvisionalID(3), "b"))
	s.Promote(3, 30)
	if s.Promote(3, 31) {
		t.Fatal("second promote succeeded")
	}
}

func TestPromoteDropsProvisionalWhenDurableExists(t *testing.T) {
	s := NewStore()
	s.Append(msg(ProvisionalID(7), "mine"))
	s.Append(msg(DurableID(42), "echo"))
	s.Append(msg(DurableID(43), "next"))

	s.Promote(7, 42)

	got := idsOf(s.List())
	if len(got) != 2 || got[0] != DurableID(42) || got[1] != DurableID(43) {
		t.Fatalf("ids = %v", got)
	}
	if m, ok := s.Get(DurableID(43)); !ok || string(m.Content) != `"next"` {
		t.Fatal("index not rebuilt after removal")
	}
}

func TestListIsSnapshot(t *testing.T) {
	s := NewStore()
	s.Append(msg(DurableID(1), "a"))
	list := s.List()
	list[0].Status = StatusFailed
	if m, _ := s.Get(DurableID(1)); m.Status != StatusPending {
		t.Fatal("List exposed internal slice")
	}
}

func TestSubscribeSignalsChanges(t *testing.T) {
	s := NewStore()
	ch, cancel := s.Subscribe()
	defer cancel()

	s.Append(msg(DurableID(1), "a"))
	s.Append(msg(DurableID(2), "b"))
	select {
	case <-ch:
	default:
		t.Fatal("no change signal")
	}
	// signals coalesce
	select {
	case <-ch:
		t.Fatal("signals should coalesce")
	default:
	}

	cancel()
	s.MarkStatus(DurableID(1), StatusFailed)
	select {
	case <-ch:
		t.Fatal("signal after cancel")
	default:
	}
}
