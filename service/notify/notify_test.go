package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"ticketchat/service/chat"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type capturePub struct {
	biz  []string
	data [][]byte
	hdr  []map[string]string
	err  error
}

func (p *capturePub) Publish(_ context.Context, biz string, data []byte, hdr map[string]string) error {
	p.biz = append(p.biz, biz)
	p.data = append(p.data, data)
	p.hdr = append(p.hdr, hdr)
	return p.err
}

func fixedNotifier(sink Sink) *Notifier {
	n := New(sink)
	n.now = func() time.Time { return time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC) }
	return n
}

func TestNotifierMapsEvents(t *testing.T) {
	var got []Notice
	n := fixedNotifier(func(v Notice) { got = append(got, v) })

	n.Ready("T-1")
	n.Info("T-1", "agent joined")
	n.Error("T-1", chat.ErrorNotice{Message: "denied", Code: "403"})
	n.Typing("T-1", "peer")
	n.ConnectionLost("T-1", errors.New("gave up"))

	kinds := []string{KindReady, KindInfo, KindError, KindTyping, KindConnectionLost}
	if len(got) != len(kinds) {
		t.Fatalf("got %d notices", len(got))
	}
	for i, k := range kinds {
		if got[i].Kind != k || got[i].ConversationID != "T-1" || got[i].At.IsZero() {
			t.Fatalf("notice %d = %+v", i, got[i])
		}
	}
	if got[2].Code != "403" || got[3].UserID != "peer" || got[4].Message != "gave up" {
		t.Fatalf("fields lost: %+v", got)
	}
}

func TestPublishSink(t *testing.T) {
	pub := &capturePub{}
	n := fixedNotifier(PublishSink(pub, "notice", zap.NewNop()))
	n.Info("T-1", "hello")

	if len(pub.data) != 1 || pub.biz[0] != "notice" {
		t.Fatalf("published %v", pub.biz)
	}
	var v Notice
	if err := json.Unmarshal(pub.data[0], &v); err != nil {
		t.Fatal(err)
	}
	if v.Kind != KindInfo || v.Message != "hello" || v.ConversationID != "T-1" {
		t.Fatalf("notice = %+v", v)
	}
	if pub.hdr[0]["Notice-Kind"] != KindInfo {
		t.Fatalf("headers = %v", pub.hdr[0])
	}

	// failures are swallowed
	pub.err = errors.New("nats down")
	n.Info("T-1", "again")
}

func TestWriterSinkSkipsTyping(t *testing.T) {
	var buf bytes.Buffer
	n := fixedNotifier(Fanout(WriterSink(&buf), nil))
	n.Typing("T-1", "peer")
	n.Error("T-1", chat.ErrorNotice{Message: "slow down", Code: "429"})
	if got := buf.String(); got != "* [error] slow down (429)\n" {
		t.Fatalf("output = %q", got)
	}
}

func TestLogSinkLevels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	n := fixedNotifier(LogSink(zap.New(core)))
	n.Info("T-1", "hi")
	n.Error("T-1", chat.ErrorNotice{Message: "bad"})
	n.ConnectionLost("T-1", errors.New("budget"))

	entries := logs.All()
	if len(entries) != 3 {
		t.Fatalf("entries = %d", len(entries))
	}
	want := []zapcore.Level{zapcore.InfoLevel, zapcore.WarnLevel, zapcore.ErrorLevel}
	for i, e := range entries {
		if e.Level != want[i] {
			t.Fatalf("entry %d level = %v, want %v", i, e.Level, want[i])
		}
	}
	if entries[2].ContextMap()["cause"] != "budget" {
		t.Fatalf("fields = %v", entries[2].ContextMap())
	}
}
