package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/leapstack-labs/leapask/pkg/core"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the server's Prometheus collectors. It also observes pipeline
// requests, so pass it to pipeline.Config.Observer.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequests    *prometheus.CounterVec
	HTTPDuration    *prometheus.HistogramVec
	Analyses        *prometheus.CounterVec
	AnalysisLatency *prometheus.HistogramVec
	Datasets        prometheus.GaugeFunc
	RateLimited     prometheus.Counter
}

// NewMetrics registers the collectors on a fresh registry. datasets reports
// the number of indexed datasets; it may be nil.
func NewMetrics(datasets func() int) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	m := &Metrics{
		registry: reg,
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "leapask_http_requests_total", Help: "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name: "leapask_http_request_duration_seconds", Help: "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		Analyses: f.NewCounterVec(prometheus.CounterOpts{
			Name: "leapask_analyses_total", Help: "Pipeline requests by operation and outcome.",
		}, []string{"op", "outcome"}),
		AnalysisLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name: "leapask_analysis_duration_seconds", Help: "Pipeline request latency by operation.",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"op"}),
		RateLimited: f.NewCounter(prometheus.CounterOpts{
			Name: "leapask_http_rate_limited_total", Help: "Requests rejected by the rate limiter.",
		}),
	}
	if datasets != nil {
		m.Datasets = f.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "leapask_datasets", Help: "Number of indexed datasets.",
		}, func() float64 { return float64(datasets()) })
	}
	return m
}

// ObserveRequest records one pipeline request. An empty code means success.
func (m *Metrics) ObserveRequest(op string, code core.ErrorCode, d time.Duration) {
	outcome := string(code)
	if outcome == "" {
		outcome = "ok"
	}
	m.Analyses.WithLabelValues(op, outcome).Inc()
	m.AnalysisLatency.WithLabelValues(op).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Middleware counts requests by their chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.HTTPRequests.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
		m.HTTPDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}
