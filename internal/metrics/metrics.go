// Package metrics exposes Prometheus collectors for the image service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	cacheLookupsTotal          *prometheus.CounterVec
	scrapesTotal               *prometheus.CounterVec
	generationsTotal           *prometheus.CounterVec
	admissionDelaySeconds      prometheus.Histogram
	proxyBytesTotal            prometheus.Counter
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		cacheLookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "charimg_cache_lookups_total",
				Help: "Total cache index lookups, labeled by outcome (hit/miss/error).",
			},
			[]string{"outcome"},
		)

		scrapesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "charimg_scrapes_total",
				Help: "Total remote scrape attempts, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		generationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "charimg_generations_total",
				Help: "Total synthetic generation attempts, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		admissionDelaySeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "charimg_admission_delay_seconds",
				Help:    "Histogram of admission-control delays imposed before remote batches.",
				Buckets: []float64{0.5, 1, 5, 10, 30, 60},
			},
		)

		proxyBytesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "charimg_proxy_bytes_total",
				Help: "Total bytes served through the image proxy.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 60},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveCacheLookup increments the cache lookup counter for one number.
func ObserveCacheLookup(outcome string) {
	if cacheLookupsTotal != nil {
		cacheLookupsTotal.WithLabelValues(outcome).Inc()
	}
}

// ObserveScrape increments the scrape counter.
func ObserveScrape(outcome string) {
	if scrapesTotal != nil {
		scrapesTotal.WithLabelValues(outcome).Inc()
	}
}

// ObserveGeneration increments the generation counter.
func ObserveGeneration(outcome string) {
	if generationsTotal != nil {
		generationsTotal.WithLabelValues(outcome).Inc()
	}
}

// ObserveAdmissionDelay records an imposed admission-control delay.
func ObserveAdmissionDelay(delay time.Duration) {
	if admissionDelaySeconds != nil && delay > 0 {
		admissionDelaySeconds.Observe(delay.Seconds())
	}
}

// AddProxyBytes records bytes served through the proxy.
func AddProxyBytes(n int) {
	if proxyBytesTotal != nil && n > 0 {
		proxyBytesTotal.Add(float64(n))
	}
}

// Middleware is a chi middleware that records HTTP request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		routePattern := chi.RouteContext(r.Context()).RoutePattern()
		if routePattern == "" {
			routePattern = "unknown"
		}
		if httpRequestsTotal != nil {
			httpRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(ww.status)).Inc()
		}
		if httpRequestDurationSeconds != nil {
			httpRequestDurationSeconds.WithLabelValues(r.Method, routePattern).Observe(time.Since(start).Seconds())
		}
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
