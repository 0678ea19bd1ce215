// Package metrics holds the process-wide request and outcome counters.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is created once at startup and shared by the HTTP layer and the
// lifecycle engines. Counters are safe for concurrent use.
type Metrics struct {
	registry *prometheus.Registry

	Requests prometheus.Counter
	Payments prometheus.Counter
	Refunds  prometheus.Counter
	Errors   *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Requests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "requests_total",
			Help: "HTTP requests received.",
		}),
		Payments: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "payments_processed",
			Help: "Payments settled and completed.",
		}),
		Refunds: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "refunds_processed",
			Help: "Refunds completed.",
		}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "errors_total",
			Help: "Error responses by code.",
		}, []string{"code"}),
	}

	m.registry.MustRegister(
		m.Requests,
		m.Payments,
		m.Refunds,
		m.Errors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) RequestReceived() { m.Requests.Inc() }

func (m *Metrics) PaymentProcessed() { m.Payments.Inc() }

func (m *Metrics) RefundProcessed() { m.Refunds.Inc() }

func (m *Metrics) ErrorReported(code string) {
	m.Errors.WithLabelValues(code).Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
