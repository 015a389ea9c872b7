// Package imapmetrics instruments the engine and mailbox layers with
// Prometheus metrics: command counts by name and result status, and command
// latency histograms. It never touches the wire itself; the engine reports
// into it through its MetricsSink interface (ObserveCommand, ObserveUntagged,
// SetDisconnected), and other callers can time their own calls with Timer.
package imapmetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the counters/histograms for one registered IMAP client.
// The zero value is not usable; construct with New.
type Metrics struct {
	commandsTotal   *prometheus.CounterVec
	commandSeconds  *prometheus.HistogramVec
	untaggedTotal   *prometheus.CounterVec
	connectionState prometheus.Gauge
}

// New creates and registers a Metrics bundle against reg. Passing
// prometheus.NewRegistry() (rather than the global DefaultRegisterer) keeps
// multiple Clients in a test binary from colliding on metric names.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		commandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "imapclient",
			Name:      "commands_total",
			Help:      "IMAP commands issued, by command name and tagged result status.",
		}, []string{"command", "status"}),
		commandSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "imapclient",
			Name:      "command_duration_seconds",
			Help:      "Round-trip latency of a command, from write to tagged completion.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"command"}),
		untaggedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "imapclient",
			Name:      "untagged_responses_total",
			Help:      "Untagged responses observed, by response keyword.",
		}, []string{"kind"}),
		connectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "imapclient",
			Name:      "connection_up",
			Help:      "1 while the session's underlying connection is open, 0 once disconnected.",
		}),
	}
	reg.MustRegister(m.commandsTotal, m.commandSeconds, m.untaggedTotal, m.connectionState)
	m.connectionState.Set(1)
	return m
}

// ObserveCommand records one command's name, outcome status, and latency.
// The engine passes status as "ok", "no", "cancelled", or "error" (tagged
// BAD and transport/parse failures).
func (m *Metrics) ObserveCommand(command, status string, d time.Duration) {
	m.commandsTotal.WithLabelValues(command, status).Inc()
	m.commandSeconds.WithLabelValues(command).Observe(d.Seconds())
}

// ObserveUntagged records one untagged response's kind, which the engine
// derives from the wire type name (e.g. "Exists", "Fetch", "Vanished").
func (m *Metrics) ObserveUntagged(kind string) {
	m.untaggedTotal.WithLabelValues(kind).Inc()
}

// SetDisconnected marks the connection gauge down. The engine calls it when
// the session dispatches an untagged BYE; fatal transport errors do not
// call it.
func (m *Metrics) SetDisconnected() {
	m.connectionState.Set(0)
}

// Timer starts a stopwatch for one command invocation; call its returned
// func with the command name and status once the round trip completes.
func (m *Metrics) Timer() func(command, status string) {
	start := time.Now()
	return func(command, status string) {
		m.ObserveCommand(command, status, time.Since(start))
	}
}
