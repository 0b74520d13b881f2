package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"ticketchat/service/chat"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ticketchat"

// Collector exports delivery telemetry. It implements chat.Observer.
type Collector struct {
	sends      *prometheus.CounterVec
	reconnects prometheus.Counter
	drops      *prometheus.CounterVec
	state      prometheus.Gauge
}

var _ chat.Observer = (*Collector)(nil)

// New registers the collector's metrics on reg.
func New(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sends_total",
			Help:      "Settled sends by outcome.",
		}, []string{"outcome"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_scheduled_total",
			Help:      "Automatic reconnection attempts scheduled.",
		}),
		drops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "envelopes_dropped_total",
			Help:      "Inbound envelopes dropped by reason.",
		}, []string{"reason"}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "0 disconnected, 1 connecting, 2 open, 3 closing.",
		}),
	}
	for _, col := range []prometheus.Collector{c.sends, c.reconnects, c.drops, c.state} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Collector) SendSettled(outcome string)        { c.sends.WithLabelValues(outcome).Inc() }
func (c *Collector) ReconnectScheduled(int)            { c.reconnects.Inc() }
func (c *Collector) Dropped(reason string)             { c.drops.WithLabelValues(reason).Inc() }
func (c *Collector) StateChanged(state chat.ConnState) { c.state.Set(float64(state)) }

// Handler serves the registry in the Prometheus exposition format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx ends.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(g))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
