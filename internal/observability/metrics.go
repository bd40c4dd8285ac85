package observability

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// MetricsConfig holds configuration for the metrics subsystem.
type MetricsConfig struct {
	Enabled bool
	// Namespace prefix for all metrics (default: handball).
	Namespace string
	// Version is reported by the info metric.
	Version string
}

// DefaultMetricsConfig returns the default metrics configuration.
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:   true,
		Namespace: "handball",
		Version:   "dev",
	}
}

// MetricsConfigFromEnv creates a MetricsConfig from environment variables.
// HANDBALL_METRICS_ENABLED: true/false (default: true)
// APP_VERSION: version string (default: dev)
func MetricsConfigFromEnv() MetricsConfig {
	cfg := DefaultMetricsConfig()
	if v := os.Getenv("HANDBALL_METRICS_ENABLED"); v != "" {
		cfg.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("APP_VERSION"); v != "" {
		cfg.Version = v
	}
	return cfg
}

// Metrics collects request and login metrics and renders them in the
// Prometheus text format. Safe for concurrent use. A nil *Metrics is a
// valid no-op collector.
type Metrics struct {
	namespace string
	version   string

	mu            sync.RWMutex
	requestCounts map[string]*atomic.Int64 // "method path status"
	durations     map[string]*durationSum  // "method path"
	loginOutcomes map[string]*atomic.Int64 // outcome

	rateLimitAllowed  atomic.Int64
	rateLimitRejected atomic.Int64
	activeConnections atomic.Int64
}

type durationSum struct {
	mu    sync.Mutex
	sum   float64
	count int64
}

func (d *durationSum) add(v time.Duration) {
	d.mu.Lock()
	d.sum += v.Seconds()
	d.count++
	d.mu.Unlock()
}

func (d *durationSum) snapshot() (float64, int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sum, d.count
}

// NewMetrics creates a new Metrics collector.
func NewMetrics(cfg MetricsConfig) *Metrics {
	ns := cfg.Namespace
	if ns == "" {
		ns = "handball"
	}
	return &Metrics{
		namespace:     ns,
		version:       cfg.Version,
		requestCounts: make(map[string]*atomic.Int64),
		durations:     make(map[string]*durationSum),
		loginOutcomes: make(map[string]*atomic.Int64),
	}
}

// RecordHTTPRequest records a finished HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	if m == nil {
		return
	}
	path = normalizePath(path)
	m.counter(m.requestCounts, fmt.Sprintf("%s %s %d", method, path, statusCode)).Add(1)

	key := method + " " + path
	m.mu.Lock()
	d, ok := m.durations[key]
	if !ok {
		d = &durationSum{}
		m.durations[key] = d
	}
	m.mu.Unlock()
	d.add(duration)
}

// RecordLoginOutcome counts a terminal state of the login callback.
func (m *Metrics) RecordLoginOutcome(outcome string) {
	if m == nil {
		return
	}
	m.counter(m.loginOutcomes, outcome).Add(1)
}

// LoginOutcomeCount returns the number of recorded outcomes of one kind.
func (m *Metrics) LoginOutcomeCount(outcome string) int64 {
	if m == nil {
		return 0
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.loginOutcomes[outcome]; ok {
		return c.Load()
	}
	return 0
}

// RecordRateLimitAllowed increments the count of allowed requests.
func (m *Metrics) RecordRateLimitAllowed() {
	if m != nil {
		m.rateLimitAllowed.Add(1)
	}
}

// RecordRateLimitRejected increments the count of rejected requests.
func (m *Metrics) RecordRateLimitRejected() {
	if m != nil {
		m.rateLimitRejected.Add(1)
	}
}

func (m *Metrics) counter(set map[string]*atomic.Int64, key string) *atomic.Int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := set[key]
	if !ok {
		c = &atomic.Int64{}
		set[key] = c
	}
	return c
}

// normalizePath keeps label cardinality bounded: error pages collapse to
// one series and everything outside the known routes is "other".
func normalizePath(path string) string {
	switch {
	case path == "/", path == "/login", path == "/login/finalize",
		path == "/healthz", path == "/metrics", path == "/api/v1/audit/logins":
		return path
	case strings.HasPrefix(path, "/error/"):
		return "/error/{page}"
	default:
		return "other"
	}
}

// Handler serves the metrics in Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		m.writeText(w)
	})
}

// writeText renders all metrics in the Prometheus text format.
func (m *Metrics) writeText(w io.Writer) {
	if m == nil {
		return
	}
	ns := m.namespace

	fmt.Fprintf(w, "# HELP %s_info Application information\n", ns)
	fmt.Fprintf(w, "# TYPE %s_info gauge\n", ns)
	fmt.Fprintf(w, "%s_info{version=%q} 1\n\n", ns, m.version)

	m.mu.RLock()
	defer m.mu.RUnlock()

	fmt.Fprintf(w, "# HELP %s_http_requests_total Total number of HTTP requests\n", ns)
	fmt.Fprintf(w, "# TYPE %s_http_requests_total counter\n", ns)
	for _, key := range sortedKeys(m.requestCounts) {
		parts := strings.SplitN(key, " ", 3)
		if len(parts) != 3 {
			continue
		}
		fmt.Fprintf(w, "%s_http_requests_total{method=%q,path=%q,status=%q} %d\n",
			ns, parts[0], parts[1], parts[2], m.requestCounts[key].Load())
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "# HELP %s_http_request_duration_seconds HTTP request duration in seconds\n", ns)
	fmt.Fprintf(w, "# TYPE %s_http_request_duration_seconds summary\n", ns)
	for _, key := range sortedKeys(m.durations) {
		parts := strings.SplitN(key, " ", 2)
		if len(parts) != 2 {
			continue
		}
		sum, count := m.durations[key].snapshot()
		fmt.Fprintf(w, "%s_http_request_duration_seconds_sum{method=%q,path=%q} %.6f\n", ns, parts[0], parts[1], sum)
		fmt.Fprintf(w, "%s_http_request_duration_seconds_count{method=%q,path=%q} %d\n", ns, parts[0], parts[1], count)
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "# HELP %s_login_outcomes_total Login callback outcomes\n", ns)
	fmt.Fprintf(w, "# TYPE %s_login_outcomes_total counter\n", ns)
	for _, outcome := range sortedKeys(m.loginOutcomes) {
		fmt.Fprintf(w, "%s_login_outcomes_total{outcome=%q} %d\n", ns, outcome, m.loginOutcomes[outcome].Load())
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "# HELP %s_rate_limit_requests_total Total rate limit decisions\n", ns)
	fmt.Fprintf(w, "# TYPE %s_rate_limit_requests_total counter\n", ns)
	fmt.Fprintf(w, "%s_rate_limit_requests_total{status=\"allowed\"} %d\n", ns, m.rateLimitAllowed.Load())
	fmt.Fprintf(w, "%s_rate_limit_requests_total{status=\"rejected\"} %d\n\n", ns, m.rateLimitRejected.Load())

	fmt.Fprintf(w, "# HELP %s_active_connections Current number of in-flight HTTP requests\n", ns)
	fmt.Fprintf(w, "# TYPE %s_active_connections gauge\n", ns)
	fmt.Fprintf(w, "%s_active_connections %d\n", ns, m.activeConnections.Load())
}

func sortedKeys[V any](set map[string]V) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MetricsMiddleware records request counts, durations and in-flight requests.
func MetricsMiddleware(m *Metrics) func(http.Handler) http.Handler {
	if m == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}
			m.activeConnections.Add(1)
			defer m.activeConnections.Add(-1)

			start := time.Now()
			wrapped := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			m.RecordHTTPRequest(r.Method, r.URL.Path, wrapped.statusCode, time.Since(start))
			switch wrapped.statusCode {
			case http.StatusTooManyRequests:
				m.RecordRateLimitRejected()
			default:
				m.RecordRateLimitAllowed()
			}
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
