// Package metrics exposes Prometheus metrics about tunnel attempts and
// the tunnel currently held open.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shinji-kodama/tunnelctl/internal/model"
)

// Metrics holds the tunnelctl collectors and the registry they live in.
type Metrics struct {
	AttemptsTotal   *prometheus.CounterVec
	AttemptDuration *prometheus.HistogramVec
	TunnelUp        *prometheus.GaugeVec

	registry *prometheus.Registry
}

// New creates the collectors on a fresh registry. The process and Go
// runtime collectors are registered as well.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		AttemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tunnelctl_attempts_total",
				Help: "Provider attempts by terminal state",
			},
			[]string{"provider", "state"},
		),
		AttemptDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tunnelctl_attempt_duration_seconds",
				Help:    "Time from attempt start to its terminal state",
				Buckets: []float64{.1, .5, 1, 2, 5, 10, 20, 30, 60},
			},
			[]string{"provider", "state"},
		),
		TunnelUp: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tunnelctl_tunnel_up",
				Help: "1 while a tunnel from the provider is held open",
			},
			[]string{"provider"},
		),
		registry: reg,
	}
}

// AttemptFinished records one terminal attempt.
func (m *Metrics) AttemptFinished(a model.Attempt) {
	state := a.State.String()
	m.AttemptsTotal.WithLabelValues(a.Provider, state).Inc()
	m.AttemptDuration.WithLabelValues(a.Provider, state).Observe(a.Duration.Seconds())
}

// TunnelOpened marks a tunnel from provider as held open.
func (m *Metrics) TunnelOpened(provider string) {
	m.TunnelUp.WithLabelValues(provider).Set(1)
}

// TunnelClosed marks the provider's tunnel as gone.
func (m *Metrics) TunnelClosed(provider string) {
	m.TunnelUp.WithLabelValues(provider).Set(0)
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
