package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics
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

// Session metrics
var (
	authLogins = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_logins_total",
			Help: "Login attempts by outcome.",
		},
		[]string{"result"},
	)

	authReissues = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_reissues_total",
			Help: "Explicit credential reissue attempts by outcome.",
		},
		[]string{"result"},
	)

	authRevocations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_revocations_total",
		Help: "Access credentials added to the revocation store.",
	})

	authSilentRenewals = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_silent_renewals_total",
		Help: "Credential pairs rotated by the request authenticator.",
	})

	authRefreshScanSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "auth_refresh_scan_size",
		Help:    "Number of active sessions compared during a refresh credential lookup.",
		Buckets: prometheus.ExponentialBuckets(1, 4, 8),
	})
)

var initOnce sync.Once

// Init registers metrics in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			authLogins, authReissues, authRevocations, authSilentRenewals, authRefreshScanSize,
		)
	})
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

func ObserveLogin(result string)   { authLogins.WithLabelValues(result).Inc() }
func ObserveReissue(result string) { authReissues.WithLabelValues(result).Inc() }
func ObserveRevocation()           { authRevocations.Inc() }
func ObserveSilentRenewal()        { authSilentRenewals.Inc() }
func ObserveRefreshScan(n int)     { authRefreshScanSize.Observe(float64(n)) }

// Instrument records request count, latency and in-flight gauge.
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

var knownPaths = map[string]struct{}{
	"/api/auth/login":   {},
	"/api/auth/reissue": {},
	"/api/auth/logout":  {},
	"/api/auth/me":      {},
	"/healthz":          {},
	"/readyz":           {},
	"/metrics":          {},
}

// CanonicalPath maps a request path to a bounded label value.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" || path == "/" {
		return "/"
	}
	path = strings.TrimSuffix(path, "/")
	if _, ok := knownPaths[path]; ok {
		return path
	}
	return "other"
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
