// Package metrics exposes the bot's Prometheus instrumentation on a
// private registry, plus an opt-in HTTP server for scraping it.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kgb-bot/kgb/internal/logger"
)

const namespace = "kgb"

// Metrics bundles every collector the bot updates. A nil *Metrics is
// valid and makes all updates no-ops, so instrumentation can stay
// unconditional at the call sites.
type Metrics struct {
	registry *prometheus.Registry

	commitsReceived    *prometheus.CounterVec
	commitsRejected    *prometheus.CounterVec
	ircMessagesSent    *prometheus.CounterVec
	ircReconnects      *prometheus.CounterVec
	ircQueueDepth      prometheus.Gauge
	rpcRequestDuration *prometheus.HistogramVec
}

// New builds the collector set on a fresh registry, including the
// standard Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		commitsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commits_received_total",
			Help:      "Commits accepted by the RPC ingress, by protocol version.",
		}, []string{"proto"}),
		commitsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commits_rejected_total",
			Help:      "Commits refused by the RPC ingress, by reason.",
		}, []string{"reason"}),
		ircMessagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "irc_messages_sent_total",
			Help:      "PRIVMSG lines queued for delivery, by network.",
		}, []string{"network"}),
		ircReconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "irc_reconnects_total",
			Help:      "IRC reconnect attempts, by network.",
		}, []string{"network"}),
		ircQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "irc_queue_depth",
			Help:      "Summed outbound IRC backlog across sessions.",
		}),
		rpcRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rpc_request_duration_seconds",
			Help:      "Wall time of RPC commit calls, by outcome.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.commitsReceived,
		m.commitsRejected,
		m.ircMessagesSent,
		m.ircReconnects,
		m.ircQueueDepth,
		m.rpcRequestDuration,
	)
	return m
}

func (m *Metrics) CommitReceived(proto string) {
	if m != nil {
		m.commitsReceived.WithLabelValues(proto).Inc()
	}
}

func (m *Metrics) CommitRejected(reason string) {
	if m != nil {
		m.commitsRejected.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) IRCMessagesSent(network string, n int) {
	if m != nil {
		m.ircMessagesSent.WithLabelValues(network).Add(float64(n))
	}
}

func (m *Metrics) IRCReconnect(network string) {
	if m != nil {
		m.ircReconnects.WithLabelValues(network).Inc()
	}
}

func (m *Metrics) SetIRCQueueDepth(depth int) {
	if m != nil {
		m.ircQueueDepth.Set(float64(depth))
	}
}

func (m *Metrics) ObserveRPCDuration(outcome string, d time.Duration) {
	if m != nil {
		m.rpcRequestDuration.WithLabelValues(outcome).Observe(d.Seconds())
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve runs the scrape endpoint until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics server listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
