// Package metrics exposes Prometheus collectors for billing activity.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the collectors recorded by services and middleware.
type Metrics struct {
	eligibility     *prometheus.CounterVec
	reconciliations *prometheus.CounterVec
	gatewayCalls    *prometheus.HistogramVec
	creditsGranted  prometheus.Counter
	httpRequests    *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// New registers the collectors on reg. Collectors already registered with the
// same descriptor are reused, so tests can build several instances.
func New(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	m := &Metrics{
		eligibility: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "billing",
			Name:      "eligibility_checks_total",
			Help:      "Spend checks by decision.",
		}, []string{"decision"}),
		reconciliations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "billing",
			Name:      "payment_reconciliations_total",
			Help:      "Gateway callbacks by outcome.",
		}, []string{"outcome"}),
		gatewayCalls: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "billing",
			Name:      "gateway_call_duration_seconds",
			Help:      "Latency of payment gateway calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op", "status"}),
		creditsGranted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "billing",
			Name:      "token_credits_granted_total",
			Help:      "Token credits appended to the ledger by settlements.",
		}),
		httpRequests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "billing",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		gatherer: gatherer,
	}

	m.eligibility = register(reg, m.eligibility)
	m.reconciliations = register(reg, m.reconciliations)
	m.gatewayCalls = register(reg, m.gatewayCalls)
	m.creditsGranted = register(reg, m.creditsGranted)
	m.httpRequests = register(reg, m.httpRequests)
	return m
}

// NewDefault registers on the global Prometheus registry.
func NewDefault() *Metrics {
	return New(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// Nil-safe recorders: a nil *Metrics records nothing.

func (m *Metrics) ObserveEligibility(allowed bool) {
	if m == nil {
		return
	}
	decision := "deny"
	if allowed {
		decision = "allow"
	}
	m.eligibility.WithLabelValues(decision).Inc()
}

func (m *Metrics) ObserveReconcile(outcome string) {
	if m == nil {
		return
	}
	m.reconciliations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveGatewayCall(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.gatewayCalls.WithLabelValues(op, status).Observe(time.Since(start).Seconds())
}

func (m *Metrics) AddCredits(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.creditsGranted.Add(float64(n))
}

func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
