package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP-level metrics shared by every handler.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Domain metrics.
var (
	DownloadsStarted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "content_downloads_started_total",
			Help: "Download streams opened, by throughput policy.",
		},
		[]string{"policy"},
	)

	DownloadsCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "content_downloads_closed_total",
			Help: "Download streams closed, by outcome.",
		},
		[]string{"outcome"},
	)

	DownloadBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "content_download_bytes_total",
		Help: "Bytes relayed to download clients.",
	})

	TokensIssued = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rendezvous_tokens_issued_total",
		Help: "Handshake tokens issued to web clients.",
	})

	TokensClaimed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rendezvous_tokens_claimed_total",
		Help: "Handshake tokens successfully claimed.",
	})

	SubscriptionsExpired = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "entitlement_demotions_total",
		Help: "VIP grants demoted to BASIC by the reconciler.",
	})
)

// Init registers all metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		DownloadsStarted, DownloadsCompleted, DownloadBytes,
		TokensIssued, TokensClaimed, SubscriptionsExpired,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument wraps a handler with RPS/latency/in-flight measurement.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// statusWriter captures the response code without a router-specific wrapper.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
