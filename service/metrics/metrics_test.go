package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"ticketchat/service/chat"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := New(reg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	c.SendSettled(chat.OutcomeAcked)
	c.SendSettled(chat.OutcomeAcked)
	c.SendSettled(chat.OutcomeTimeout)
	c.ReconnectScheduled(1)
	c.Dropped(chat.DropSelfEcho)
	c.StateChanged(chat.StateOpen)

	if got := testutil.ToFloat64(c.sends.WithLabelValues(chat.OutcomeAcked)); got != 2 {
		t.Fatalf("acked = %v", got)
	}
	if got := testutil.ToFloat64(c.sends.WithLabelValues(chat.OutcomeTimeout)); got != 1 {
		t.Fatalf("timeout = %v", got)
	}
	if got := testutil.ToFloat64(c.reconnects); got != 1 {
		t.Fatalf("reconnects = %v", got)
	}
	if got := testutil.ToFloat64(c.drops.WithLabelValues(chat.DropSelfEcho)); got != 1 {
		t.Fatalf("drops = %v", got)
	}
	if got := testutil.ToFloat64(c.state); got != float64(chat.StateOpen) {
		t.Fatalf("state = %v", got)
	}
}

func TestNewRejectsDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := New(reg); err != nil {
		t.Fatal(err)
	}
	if _, err := New(reg); err == nil {
		t.Fatal("second registration should fail")
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := New(reg)
	if err != nil {
		t.Fatal(err)
	}
	c.SendSettled(chat.OutcomeClosed)

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `ticketchat_sends_total{outcome="closed"} 1`) {
		t.Fatalf("body missing counter:\n%s", body)
	}
}
