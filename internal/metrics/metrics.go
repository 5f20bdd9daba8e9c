// Package metrics exposes Prometheus counters and gauges for the heartbeat
// pipeline and the playbook engine.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/medic-ops/medic/internal/events"
)

type Metrics struct {
	registry *prometheus.Registry

	HeartbeatsTotal     *prometheus.CounterVec
	AlertsOpenedTotal   prometheus.Counter
	AlertsClosedTotal   prometheus.Counter
	ExecutionsTotal     *prometheus.CounterVec
	RateLimitRejections *prometheus.CounterVec
	ServicesDown        prometheus.Gauge
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: registry,
		HeartbeatsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medic_heartbeats_total",
			Help: "Heartbeat signals ingested, by signal kind.",
		}, []string{"signal"}),
		AlertsOpenedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "medic_alerts_opened_total",
			Help: "Alerts opened by the monitor.",
		}),
		AlertsClosedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "medic_alerts_closed_total",
			Help: "Alerts closed on recovery.",
		}),
		ExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medic_playbook_executions_total",
			Help: "Playbook execution lifecycle events, by kind.",
		}, []string{"kind"}),
		RateLimitRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medic_rate_limit_rejections_total",
			Help: "Requests rejected by the rate limiter, by class.",
		}, []string{"class"}),
		ServicesDown: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "medic_services_down",
			Help: "Services currently marked down.",
		}),
	}
	registry.MustRegister(
		m.HeartbeatsTotal,
		m.AlertsOpenedTotal,
		m.AlertsClosedTotal,
		m.ExecutionsTotal,
		m.RateLimitRejections,
		m.ServicesDown,
	)
	return m
}

// Handler serves the registry in Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ConsumeEvents translates hub events into counters until the context ends.
func (m *Metrics) ConsumeEvents(ctx context.Context, hub *events.Hub) {
	sub, cancel := hub.Subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-sub:
			if !ok {
				return
			}
			switch event.Type {
			case events.TypeAlertOpened:
				m.AlertsOpenedTotal.Inc()
			case events.TypeAlertClosed:
				m.AlertsClosedTotal.Inc()
			case events.TypeExecutionStarted:
				m.ExecutionsTotal.WithLabelValues("started").Inc()
			case events.TypeExecutionFinished:
				m.ExecutionsTotal.WithLabelValues("finished").Inc()
			case events.TypeCircuitBreakerTrip:
				m.ExecutionsTotal.WithLabelValues("circuit_breaker_open").Inc()
			}
		}
	}
}

// SampleServicesDown periodically refreshes the down-services gauge from the
// supplied count function.
func (m *Metrics) SampleServicesDown(ctx context.Context, interval time.Duration, count func(context.Context) (int, error)) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := count(ctx); err == nil {
				m.ServicesDown.Set(float64(n))
			}
		}
	}
}
