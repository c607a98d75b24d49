// Package metrics exposes Prometheus counters for Cin7 calls, submission
// jobs and order outcomes.
package metrics

import (
	"context"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JonMunkholm/cin7sync/internal/cin7"
)

// Registry holds the process metrics on a private registry.
type Registry struct {
	reg *prometheus.Registry

	APICalls    *prometheus.CounterVec
	APIDuration *prometheus.HistogramVec
	Jobs        *prometheus.CounterVec
	ActiveJobs  prometheus.Gauge
	Orders      *prometheus.CounterVec
	Retries     *prometheus.CounterVec
}

// NewRegistry creates and registers all metrics.
func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		APICalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cin7sync_api_calls_total",
			Help: "Cin7 API calls by endpoint, method and HTTP status (0 for transport errors).",
		}, []string{"endpoint", "method", "status"}),
		APIDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cin7sync_api_call_duration_seconds",
			Help:    "Cin7 API call duration.",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
		Jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cin7sync_jobs_total",
			Help: "Submission jobs by final state.",
		}, []string{"state"}),
		ActiveJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cin7sync_jobs_active",
			Help: "Submission jobs currently running.",
		}),
		Orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cin7sync_orders_total",
			Help: "Processed orders by status and error type.",
		}, []string{"status", "error_type"}),
		Retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cin7sync_order_retries_total",
			Help: "Order retries by outcome.",
		}, []string{"status"}),
	}
	r.reg.MustRegister(r.APICalls, r.APIDuration, r.Jobs, r.ActiveJobs, r.Orders, r.Retries)
	return r
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// ObserveCall implements cin7.Observer.
func (r *Registry) ObserveCall(_ context.Context, rec cin7.CallRecord) {
	r.APICalls.WithLabelValues(rec.Endpoint, rec.Method, strconv.Itoa(rec.Status)).Inc()
	r.APIDuration.WithLabelValues(rec.Endpoint).Observe(float64(rec.DurationMS) / 1000)
}

// OrderProcessed counts one order outcome.
func (r *Registry) OrderProcessed(status, errorType string) {
	r.Orders.WithLabelValues(status, errorType).Inc()
}

// OrderRetried counts one retry outcome.
func (r *Registry) OrderRetried(status string) {
	r.Retries.WithLabelValues(status).Inc()
}

// JobStarted marks a job as running.
func (r *Registry) JobStarted() { r.ActiveJobs.Inc() }

// JobFinished records a job's final state.
func (r *Registry) JobFinished(state string) {
	r.ActiveJobs.Dec()
	r.Jobs.WithLabelValues(state).Inc()
}
