// Package telemetry exposes Prometheus metrics for sync passes, the queue,
// the snapshot cache and the status API.
//
// Metrics live in a private registry so several instances can coexist in tests
// and nothing is registered with the global default registry.
package telemetry

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kimhsiao/journalsync/internal/models"
	syncpkg "github.com/kimhsiao/journalsync/internal/sync"
)

const namespace = "journalsync"

// Pass results used as the "result" label.
const (
	PassCompleted = "completed"
	PassAborted   = "aborted"
)

// Metrics holds all Prometheus metrics.
type Metrics struct {
	registry *prometheus.Registry

	// Sync metrics
	passes       *prometheus.CounterVec
	passDuration prometheus.Histogram
	operations   *prometheus.CounterVec

	// Queue and cache metrics
	pending      prometheus.Gauge
	cacheEntries *prometheus.GaugeVec
	cacheRemoved *prometheus.CounterVec
	online       prometheus.Gauge

	// Request metrics
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
}

// New creates a metrics instance with its own registry. Go runtime and process
// collectors are included.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		passes: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sync_passes_total",
				Help:      "Total number of sync passes by result",
			},
			[]string{"result"},
		),
		passDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "sync_pass_duration_seconds",
				Help:      "Duration of sync passes that dispatched operations",
				Buckets:   prometheus.DefBuckets,
			},
		),
		operations: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Total number of dispatched operations by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),

		pending: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pending_operations",
				Help:      "Number of operations waiting for replay across all owners",
			},
		),
		cacheEntries: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "cache_entries",
				Help:      "Number of cached snapshots by kind",
			},
			[]string{"kind"},
		),
		cacheRemoved: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_removed_total",
				Help:      "Total number of cached snapshots removed by maintenance",
			},
			[]string{"kind", "reason"},
		),
		online: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "online",
				Help:      "1 when the remote backend is reachable",
			},
		),

		requestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Duration of status API requests in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route", "status"},
		),
		requestTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of status API requests",
			},
			[]string{"method", "route", "status"},
		),
	}
}

// Registry returns the registry backing m.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// PassFinished records one pass. Skipped passes count under their skip reason.
func (m *Metrics) PassFinished(result *syncpkg.SyncResult) {
	switch {
	case result.Skipped != "":
		m.passes.WithLabelValues("skipped_" + string(result.Skipped)).Inc()
		return
	case result.Error != "":
		m.passes.WithLabelValues(PassAborted).Inc()
	default:
		m.passes.WithLabelValues(PassCompleted).Inc()
	}
	m.passDuration.Observe(result.Duration.Seconds())
}

// OperationFinished records one dispatched operation.
func (m *Metrics) OperationFinished(kind models.OperationKind, outcome string) {
	m.operations.WithLabelValues(string(kind), outcome).Inc()
}

// SetPending updates the pending operation gauge.
func (m *Metrics) SetPending(n int) {
	m.pending.Set(float64(n))
}

// SetCacheEntries updates the cache size gauge for kind.
func (m *Metrics) SetCacheEntries(kind models.CacheKind, n int) {
	m.cacheEntries.WithLabelValues(string(kind)).Set(float64(n))
}

// CacheMaintained records rows removed by one maintenance run.
func (m *Metrics) CacheMaintained(kind models.CacheKind, expired, evicted int64) {
	m.cacheRemoved.WithLabelValues(string(kind), "expired").Add(float64(expired))
	m.cacheRemoved.WithLabelValues(string(kind), "evicted").Add(float64(evicted))
}

// SetOnline updates the connectivity gauge.
func (m *Metrics) SetOnline(online bool) {
	if online {
		m.online.Set(1)
		return
	}
	m.online.Set(0)
}

// Middleware records request metrics labelled by the matched route template.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rw, r)

		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		status := strconv.Itoa(rw.status)
		m.requestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
		m.requestTotal.WithLabelValues(r.Method, route, status).Inc()
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack exposes the underlying connection for websocket upgrades.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return h.Hijack()
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

var _ syncpkg.Metrics = (*Metrics)(nil)
