// Package metrics exposes Prometheus counters for the trace pipeline.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "venuetrace"

// Metrics holds the registered collectors.
type Metrics struct {
	checkIns        *prometheus.CounterVec
	checkOuts       *prometheus.CounterVec
	reconciliations *prometheus.CounterVec
	dailyKeys       *prometheus.CounterVec
	pollFailures    prometheus.Counter
	grpcRequests    *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		checkIns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "checkins_total", Help: "Check-in attempts by result.",
		}, []string{"result"}),
		checkOuts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "checkouts_total", Help: "Check-out attempts by result.",
		}, []string{"result"}),
		reconciliations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "reconciliations_total", Help: "Status reconciliations by outcome.",
		}, []string{"outcome"}),
		dailyKeys: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "daily_key_ingest_total", Help: "Daily key ingestion by result.",
		}, []string{"result"}),
		pollFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "poll_failures_total", Help: "Failed poll iterations.",
		}),
		grpcRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "grpc_requests_total", Help: "Handled gRPC requests by method and code.",
		}, []string{"method", "code"}),
	}
	reg.MustRegister(m.checkIns, m.checkOuts, m.reconciliations, m.dailyKeys, m.pollFailures, m.grpcRequests)
	return m
}

// Handler serves the metrics of gatherer.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (m *Metrics) CheckIn(result string) {
	if m != nil {
		m.checkIns.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) CheckOut(result string) {
	if m != nil {
		m.checkOuts.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) Reconciliation(outcome string) {
	if m != nil {
		m.reconciliations.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) DailyKey(result string) {
	if m != nil {
		m.dailyKeys.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) PollFailure() {
	if m != nil {
		m.pollFailures.Inc()
	}
}

func (m *Metrics) GRPCRequest(method, code string) {
	if m != nil {
		m.grpcRequests.WithLabelValues(method, code).Inc()
	}
}
