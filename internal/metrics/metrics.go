// Package metrics содержит Prometheus-метрики веб-клиента.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mmeshcher/flightbook-web/internal/session"
)

const namespace = "flightbook"

// Metrics объединяет коллекторы приложения и их реестр.
type Metrics struct {
	registry *prometheus.Registry

	apiCalls       *prometheus.CounterVec
	apiDuration    *prometheus.HistogramVec
	checkoutPhases *prometheus.CounterVec
	sessionEvents  *prometheus.CounterVec
}

// New создаёт и регистрирует коллекторы в собственном реестре.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		apiCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "calls_total",
			Help:      "Remote API calls by operation and status code.",
		}, []string{"op", "code"}),
		apiDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "call_duration_seconds",
			Help:      "Remote API call latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		checkoutPhases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "checkout",
			Name:      "transitions_total",
			Help:      "Checkout attempt phase transitions.",
		}, []string{"from", "to"}),
		sessionEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "events_total",
			Help:      "Session set and clear events.",
		}, []string{"kind"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.apiCalls,
		m.apiDuration,
		m.checkoutPhases,
		m.sessionEvents,
	)
	return m
}

// Registry возвращает реестр коллекторов.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveCall учитывает вызов удалённого API. Код 0 означает сетевую ошибку.
func (m *Metrics) ObserveCall(op string, statusCode int, elapsed time.Duration) {
	code := "error"
	if statusCode > 0 {
		code = strconv.Itoa(statusCode)
	}
	m.apiCalls.WithLabelValues(op, code).Inc()
	m.apiDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

// ObserveTransition учитывает переход попытки оформления между фазами.
func (m *Metrics) ObserveTransition(from, to string) {
	m.checkoutPhases.WithLabelValues(from, to).Inc()
}

// SessionListener учитывает изменения сессий.
func (m *Metrics) SessionListener(_ context.Context, ev session.Event) {
	m.sessionEvents.WithLabelValues(string(ev.Kind)).Inc()
}

// Handler отдаёт метрики в формате Prometheus.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		Registry:      m.registry,
		ErrorHandling: promhttp.ContinueOnError,
	})
}
