package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/discipline-portal-api/internal/models"
)

// Role correction outcomes.
const (
	CorrectionScheduled = "scheduled"
	CorrectionApplied   = "applied"
	CorrectionFailed    = "failed"
	CorrectionDropped   = "dropped"
	CorrectionStale     = "stale"
)

// MetricsService encapsulates Prometheus instrumentation.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLookups    *prometheus.CounterVec
	cacheLatency    prometheus.Observer
	decisions       *prometheus.CounterVec
	materialized    *prometheus.CounterVec
	materializeFail *prometheus.CounterVec
	submissions     *prometheus.CounterVec
	reconciliations *prometheus.CounterVec
	corrections     *prometheus.CounterVec
}

// NewMetricsService registers the service collectors on a private registry.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheLookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "identity_cache_lookups_total",
		Help: "Requester identity cache lookups by result",
	}, []string{"result"})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "identity_cache_latency_seconds",
		Help:    "Latency for identity cache lookups",
		Buckets: prometheus.DefBuckets,
	})

	submissions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "approval_requests_submitted_total",
		Help: "Approval requests submitted by type",
	}, []string{"type"})

	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "approval_decisions_total",
		Help: "Approval decisions recorded by type and outcome",
	}, []string{"type", "outcome"})

	materialized := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "approval_materializations_total",
		Help: "Approved requests whose action completed",
	}, []string{"type"})

	materializeFail := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "approval_materialization_failures_total",
		Help: "Approved requests whose action failed, by type and error code",
	}, []string{"type", "code"})

	reconciliations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "authority_reconciliations_total",
		Help: "Effective role resolutions by deciding source",
	}, []string{"source"})

	corrections := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "authority_role_corrections_total",
		Help: "Background profile role corrections by outcome",
	}, []string{"outcome"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLookups, cacheLatency, submissions, decisions,
		materialized, materializeFail, reconciliations, corrections, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		cacheLookups:    cacheLookups,
		cacheLatency:    cacheLatency,
		submissions:     submissions,
		decisions:       decisions,
		materialized:    materialized,
		materializeFail: materializeFail,
		reconciliations: reconciliations,
		corrections:     corrections,
	}
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordCacheOperation records an identity cache lookup.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheLookups.WithLabelValues("hit").Inc()
		return
	}
	m.cacheLookups.WithLabelValues("miss").Inc()
}

// RecordSubmission counts a new approval request.
func (m *MetricsService) RecordSubmission(t models.RequestType) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(string(t)).Inc()
}

// RecordDecision counts a recorded transition.
func (m *MetricsService) RecordDecision(t models.RequestType, outcome models.ApprovalStatus) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(string(t), string(outcome)).Inc()
}

// RecordMaterialization counts the result of running an approved action.
func (m *MetricsService) RecordMaterialization(t models.RequestType, errCode string) {
	if m == nil {
		return
	}
	if errCode == "" {
		m.materialized.WithLabelValues(string(t)).Inc()
		return
	}
	m.materializeFail.WithLabelValues(string(t), errCode).Inc()
}

// RecordReconciliation counts which source decided an effective role.
func (m *MetricsService) RecordReconciliation(source models.RoleSource) {
	if m == nil {
		return
	}
	m.reconciliations.WithLabelValues(string(source)).Inc()
}

// RecordRoleCorrection counts a background correction outcome.
func (m *MetricsService) RecordRoleCorrection(outcome string) {
	if m == nil {
		return
	}
	m.corrections.WithLabelValues(outcome).Inc()
}
