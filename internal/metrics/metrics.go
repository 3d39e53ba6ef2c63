// Package metrics exposes Prometheus text-format metrics for HTTP traffic,
// extraction attempts, resolutions and method breakers.
package metrics

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/mediafetch/backend/internal/events"
	"github.com/mediafetch/backend/internal/media"
)

const namespace = "mediafetch"

// Histogram tracks value distributions
type Histogram struct {
	count uint64
	sum   float64
	// Buckets: 5ms, 10ms, 25ms, 50ms, 100ms, 250ms, 500ms, 1s, 2.5s, 5s, 10s, 30s
	buckets    []float64
	bucketVals []uint64
}

// NewHistogram creates a new histogram with default buckets
func NewHistogram() *Histogram {
	buckets := []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}
	return &Histogram{buckets: buckets, bucketVals: make([]uint64, len(buckets))}
}

// Observe records a value; callers hold the owning Metrics lock
func (h *Histogram) Observe(v float64) {
	h.count++
	h.sum += v
	for i, b := range h.buckets {
		if v <= b {
			h.bucketVals[i]++
		}
	}
}

type family struct {
	help string
	kind string // counter, gauge or histogram

	values     map[string]float64 // rendered labels -> value
	histograms map[string]*Histogram
}

// Metrics holds all application metrics
type Metrics struct {
	mu        sync.Mutex
	families  map[string]*family
	startTime time.Time
}

// New creates a new Metrics instance
func New() *Metrics {
	return &Metrics{
		families:  make(map[string]*family),
		startTime: time.Now(),
	}
}

var defaultMetrics = New()

// Default returns the process-wide metrics instance
func Default() *Metrics {
	return defaultMetrics
}

// labels renders alternating name/value pairs as {a="1",b="2"}
func labels(kv ...string) string {
	if len(kv) == 0 {
		return ""
	}
	parts := make([]string, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		parts = append(parts, fmt.Sprintf("%s=%q", kv[i], kv[i+1]))
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// family returns the named family, creating it; callers hold mu
func (m *Metrics) family(name, kind, help string) *family {
	f, ok := m.families[name]
	if !ok {
		f = &family{help: help, kind: kind, values: map[string]float64{}, histograms: map[string]*Histogram{}}
		m.families[name] = f
	}
	return f
}

func (m *Metrics) add(name, help string, delta float64, kv ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.family(name, "counter", help).values[labels(kv...)] += delta
}

func (m *Metrics) set(name, help string, v float64, kv ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.family(name, "gauge", help).values[labels(kv...)] = v
}

func (m *Metrics) observe(name, help string, v float64, kv ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f := m.family(name, "histogram", help)
	key := labels(kv...)
	h, ok := f.histograms[key]
	if !ok {
		h = NewHistogram()
		f.histograms[key] = h
	}
	h.Observe(v)
}

// RecordRequest records an HTTP request
func (m *Metrics) RecordRequest(method, path string, statusCode int, duration time.Duration) {
	endpoint := normalizeEndpoint(path)
	m.add(namespace+"_http_requests_total", "Total HTTP requests", 1,
		"endpoint", endpoint, "method", method, "status_class", fmt.Sprintf("%dxx", statusCode/100))
	m.observe(namespace+"_http_request_duration_seconds", "HTTP request latency", duration.Seconds(),
		"endpoint", endpoint, "method", method)
}

// AttemptFinished counts one extraction attempt by method and outcome. The
// outcome is the result grade on success and the error code otherwise.
func (m *Metrics) AttemptFinished(_ context.Context, _ string, res media.Result) {
	outcome := res.Grade().String()
	if !res.Success {
		outcome = string(res.Code())
	}
	m.add(namespace+"_extraction_attempts_total", "Extraction attempts by method and outcome", 1,
		"method", res.Method, "outcome", outcome)
	m.observe(namespace+"_extraction_duration_seconds", "Extraction attempt latency", res.Elapsed.Seconds(),
		"method", res.Method)
}

// Publish consumes resolution and breaker events, so Metrics can sit in an
// events.Fanout next to the broker publisher.
func (m *Metrics) Publish(_ context.Context, _ string, event any) error {
	switch e := event.(type) {
	case events.ResolveCompleted:
		outcome := e.Grade
		if !e.Success {
			outcome = string(e.Code)
		}
		m.add(namespace+"_resolutions_total", "Resolutions by provider and outcome", 1,
			"provider", string(e.Provider), "outcome", outcome, "cached", fmt.Sprint(e.Cached))
	case events.MethodStateChanged:
		m.SetMethodEnabled(e.Method, e.State == "enabled")
	}
	return nil
}

func (m *Metrics) Close() error { return nil }

// SetMethodEnabled records a method's breaker state
func (m *Metrics) SetMethodEnabled(method string, enabled bool) {
	m.set(namespace+"_method_enabled", "1 when the method's breaker is closed", lo.Ternary(enabled, 1.0, 0.0),
		"method", method)
}

// SetWSConnections sets the active WebSocket connections count
func (m *Metrics) SetWSConnections(count int) {
	m.set(namespace+"_websocket_connections_active", "Active WebSocket connections", float64(count))
}

// SetJobQueueLength sets the number of jobs waiting for a worker
func (m *Metrics) SetJobQueueLength(length int64) {
	m.set(namespace+"_job_queue_length", "Jobs waiting for a worker", float64(length))
}

// Handler returns an HTTP handler for the metrics endpoint
func (m *Metrics) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		var sb strings.Builder
		fmt.Fprintf(&sb, "# HELP %s_uptime_seconds Time since the server started\n", namespace)
		fmt.Fprintf(&sb, "# TYPE %s_uptime_seconds gauge\n", namespace)
		fmt.Fprintf(&sb, "%s_uptime_seconds %f\n\n", namespace, time.Since(m.startTime).Seconds())

		m.mu.Lock()
		names := lo.Keys(m.families)
		slices.Sort(names)
		for _, name := range names {
			f := m.families[name]
			fmt.Fprintf(&sb, "# HELP %s %s\n# TYPE %s %s\n", name, f.help, name, f.kind)
			if f.kind == "histogram" {
				writeHistograms(&sb, name, f.histograms)
			} else {
				keys := lo.Keys(f.values)
				slices.Sort(keys)
				for _, key := range keys {
					fmt.Fprintf(&sb, "%s%s %g\n", name, key, f.values[key])
				}
			}
			sb.WriteString("\n")
		}
		m.mu.Unlock()

		w.Write([]byte(sb.String()))
	}
}

func writeHistograms(sb *strings.Builder, name string, hs map[string]*Histogram) {
	keys := lo.Keys(hs)
	slices.Sort(keys)
	for _, key := range keys {
		h := hs[key]
		// splice le into the existing label set
		inner := strings.TrimSuffix(strings.TrimPrefix(key, "{"), "}")
		if inner != "" {
			inner += ","
		}
		for i, bucket := range h.buckets {
			fmt.Fprintf(sb, "%s_bucket{%sle=\"%g\"} %d\n", name, inner, bucket, h.bucketVals[i])
		}
		fmt.Fprintf(sb, "%s_bucket{%sle=\"+Inf\"} %d\n", name, inner, h.count)
		fmt.Fprintf(sb, "%s_sum%s %f\n", name, key, h.sum)
		fmt.Fprintf(sb, "%s_count%s %d\n", name, key, h.count)
	}
}

// normalizeEndpoint replaces UUIDs and numeric IDs in a path
func normalizeEndpoint(path string) string {
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if len(part) == 36 && strings.Count(part, "-") == 4 {
			parts[i] = "{id}"
		} else if part != "" && strings.Trim(part, "0123456789") == "" {
			parts[i] = "{id}"
		}
	}
	return strings.Join(parts, "/")
}

// MetricsMiddleware creates middleware that records request metrics
func MetricsMiddleware(m *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &statusResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			// the mux records the matched pattern on r, which bounds label values
			path := r.URL.Path
			if r.Pattern != "" {
				path = r.Pattern
				if _, p, ok := strings.Cut(r.Pattern, " "); ok {
					path = p
				}
			}
			m.RecordRequest(r.Method, path, wrapped.statusCode, time.Since(start))
		})
	}
}

type statusResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusResponseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack passes WebSocket upgrades through to the underlying connection
func (w *statusResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := w.ResponseWriter.(http.Hijacker); ok {
		w.statusCode = http.StatusSwitchingProtocols
		return h.Hijack()
	}
	return nil, nil, fmt.Errorf("response writer does not support hijacking")
}

func (w *statusResponseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
