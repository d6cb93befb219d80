// Package metrics exposes gateway counters in Prometheus format.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the gateway collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	readingsIngested *prometheus.CounterVec
	readingsRejected *prometheus.CounterVec
	anomalies        prometheus.Counter
	qualityScore     prometheus.Histogram
	pendingRecords   prometheus.Gauge
	syncCycles       *prometheus.CounterVec
	recordsSynced    prometheus.Counter
	recordsFailed    prometheus.Counter
	syncDuration     prometheus.Histogram
	recordsPurged    prometheus.Counter
	httpRequests     *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		readingsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_readings_ingested_total",
			Help: "Readings accepted into the queue by ingress transport.",
		}, []string{"transport"}),
		readingsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_readings_rejected_total",
			Help: "Readings rejected before reaching the queue by transport and reason.",
		}, []string{"transport", "reason"}),
		anomalies: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_anomalies_detected_total",
			Help: "Readings flagged as anomalous.",
		}),
		qualityScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gateway_quality_score",
			Help:    "Distribution of data quality scores.",
			Buckets: []float64{0, 25, 50, 75, 90, 100},
		}),
		pendingRecords: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_pending_records",
			Help: "Records waiting to be synced.",
		}),
		syncCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_sync_cycles_total",
			Help: "Sync cycles by trigger and outcome.",
		}, []string{"trigger", "outcome"}),
		recordsSynced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_records_synced_total",
			Help: "Records acknowledged by the collection service.",
		}),
		recordsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_records_sync_failed_total",
			Help: "Record deliveries that failed and stay pending.",
		}),
		syncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gateway_sync_duration_seconds",
			Help:    "Duration of sync cycles.",
			Buckets: prometheus.DefBuckets,
		}),
		recordsPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_records_purged_total",
			Help: "Synced records removed by retention.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_http_requests_total",
			Help: "HTTP requests by route and status code.",
		}, []string{"route", "status"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.readingsIngested,
		m.readingsRejected,
		m.anomalies,
		m.qualityScore,
		m.pendingRecords,
		m.syncCycles,
		m.recordsSynced,
		m.recordsFailed,
		m.syncDuration,
		m.recordsPurged,
		m.httpRequests,
	)

	return m
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ReadingIngested(transport string, anomaly bool, score int) {
	if m == nil {
		return
	}
	m.readingsIngested.WithLabelValues(transport).Inc()
	m.qualityScore.Observe(float64(score))
	if anomaly {
		m.anomalies.Inc()
	}
}

func (m *Metrics) ReadingRejected(transport, reason string) {
	if m == nil {
		return
	}
	m.readingsRejected.WithLabelValues(transport, reason).Inc()
}

func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.pendingRecords.Set(float64(n))
}

func (m *Metrics) SyncCycle(trigger string, synced, failed int, duration time.Duration, ok bool) {
	if m == nil {
		return
	}
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	m.syncCycles.WithLabelValues(trigger, outcome).Inc()
	m.recordsSynced.Add(float64(synced))
	m.recordsFailed.Add(float64(failed))
	m.syncDuration.Observe(duration.Seconds())
}

func (m *Metrics) RecordsPurged(n int64) {
	if m == nil {
		return
	}
	m.recordsPurged.Add(float64(n))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// WrapHandler counts requests for a route
func (m *Metrics) WrapHandler(route string, next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		m.httpRequests.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
	})
}
