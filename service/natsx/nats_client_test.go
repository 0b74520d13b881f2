package natsx

import (
	"context"
	"testing"

	"github.com/nats-io/nats.go"
)

func TestNewNatsxClientNeedsServers(t *testing.T) {
	if _, err := NewNatsxClient(NatsxConfig{Servers: []string{" ", ""}}); err == nil {
		t.Fatal("expected error without servers")
	}
}

func TestRegisterRoute(t *testing.T) {
	c := newClient(NatsxConfig{})
	if err := c.RegisterRoute("notice", "ticketchat.notice"); err != nil {
		t.Fatal(err)
	}
	if s, ok := c.route("notice"); !ok || s != "ticketchat.notice" {
		t.Fatalf("route = %q %v", s, ok)
	}
	for _, bad := range [][2]string{{"", "a"}, {"b", ""}, {"b", "has space"}} {
		if err := c.RegisterRoute(bad[0], bad[1]); err == nil {
			t.Fatalf("route %v accepted", bad)
		}
	}
}

func TestPublishUnknownRouteOrNotConnected(t *testing.T) {
	c := newClient(NatsxConfig{})
	if err := c.Publish(context.Background(), "notice", nil, nil); err == nil {
		t.Fatal("unknown route accepted")
	}
	_ = c.RegisterRoute("notice", "x")
	if err := c.Publish(context.Background(), "notice", nil, nil); err == nil {
		t.Fatal("publish without connection accepted")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close without connection: %v", err)
	}
}

func TestBuildMsg(t *testing.T) {
	m := buildMsg("s", []byte("hi"), map[string]string{"Kind": "info"})
	if m.Subject != "s" || string(m.Data) != "hi" || m.Header.Get("Kind") != "info" {
		t.Fatalf("msg = %+v", m)
	}
	if m.Header.Get(nats.MsgIdHdr) == "" {
		t.Fatal("msg id missing")
	}

	m = buildMsg("s", nil, map[string]string{nats.MsgIdHdr: "fixed"})
	if got := m.Header.Get(nats.MsgIdHdr); got != "fixed" {
		t.Fatalf("msg id = %q", got)
	}
}
